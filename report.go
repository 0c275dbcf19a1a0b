package mikrator

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/ledger"
)

// Listener is notified about changesets during updates and rollbacks.
// Embed NopListener to implement only some methods.
type Listener interface {
	// WillRun is called before the changes of cs run.
	WillRun(cs *changelog.ChangeSet, exec ledger.ExecType)
	// Ran is called after cs was recorded in the ledger.
	Ran(cs *changelog.ChangeSet, exec ledger.ExecType)
	// PreconditionFailed is called when the preconditions of cs failed or
	// could not be checked.
	PreconditionFailed(cs *changelog.ChangeSet, err error, action changelog.FailOption)
	// RunFailed is called when the changes of cs failed.
	RunFailed(cs *changelog.ChangeSet, err error)
	// WillRollback is called before cs is rolled back.
	WillRollback(cs *changelog.ChangeSet)
	// RolledBack is called after cs was removed from the ledger.
	RolledBack(cs *changelog.ChangeSet)
}

// NopListener ignores all notifications.
type NopListener struct{}

func (NopListener) WillRun(*changelog.ChangeSet, ledger.ExecType)                        {}
func (NopListener) Ran(*changelog.ChangeSet, ledger.ExecType)                            {}
func (NopListener) PreconditionFailed(*changelog.ChangeSet, error, changelog.FailOption) {}
func (NopListener) RunFailed(*changelog.ChangeSet, error)                                {}
func (NopListener) WillRollback(*changelog.ChangeSet)                                    {}
func (NopListener) RolledBack(*changelog.ChangeSet)                                      {}

// Summary selects the update summary written after an update.
type Summary string

const (
	SummaryOff Summary = "OFF"
	// SummaryCounts lists how many changesets ran and were skipped.
	SummaryCounts Summary = "SUMMARY"
	// SummaryVerbose additionally lists every skipped changeset with the
	// reason.
	SummaryVerbose Summary = "VERBOSE"
)

// ChangeSetResult is the outcome for a single changeset.
type ChangeSetResult struct {
	ChangeSet *changelog.ChangeSet
	ExecType  ledger.ExecType
	// Reason is set for skipped changesets.
	Reason   string
	Err      error
	Duration time.Duration
}

// UpdateReport describes an update.
type UpdateReport struct {
	DeploymentID string
	Success      bool
	// ChangeSets lists changesets which ran, failed or were marked ran.
	ChangeSets []ChangeSetResult
	// Skipped lists changesets which were filtered out.
	Skipped  []ChangeSetResult
	Started  time.Time
	Finished time.Time
	Err      error
}

// Count returns the number of changesets with exec type t.
func (r *UpdateReport) Count(t ledger.ExecType) int {
	n := 0
	for _, c := range r.ChangeSets {
		if c.ExecType == t {
			n++
		}
	}
	return n
}

// RollbackReport describes a rollback.
type RollbackReport struct {
	Success bool
	// ChangeSets lists the rolled back changesets, most recent first.
	ChangeSets []ChangeSetResult
	Started    time.Time
	Finished   time.Time
	Err        error
}

// UpdateTestingRollbackResult holds the reports of the update, the rollback
// of everything it applied and the final update.
type UpdateTestingRollbackResult struct {
	Initial  *UpdateReport
	Rollback *RollbackReport
	Final    *UpdateReport
}

// WriteSummary writes the update summary for mode to w.
func (r *UpdateReport) WriteSummary(w io.Writer, mode Summary) error {
	if mode == SummaryOff || mode == "" {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "UPDATE SUMMARY")
	fmt.Fprintf(tw, "Run:\t%d\n", r.Count(ledger.Executed)+r.Count(ledger.Reran))
	fmt.Fprintf(tw, "Marked ran:\t%d\n", r.Count(ledger.MarkRan))
	fmt.Fprintf(tw, "Failed:\t%d\n", r.Count(ledger.Failed))
	fmt.Fprintf(tw, "Filtered out:\t%d\n", len(r.Skipped))
	fmt.Fprintf(tw, "Total change sets:\t%d\n", len(r.ChangeSets)+len(r.Skipped))
	if mode == SummaryVerbose && len(r.Skipped) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "Changeset\tReason")
		fmt.Fprintln(tw, "---------\t------")
		for _, s := range r.Skipped {
			fmt.Fprintf(tw, "%s\t%s\n", s.ChangeSet.Identifier(), s.Reason)
		}
	}
	return tw.Flush()
}

// String lists the rolled back changesets.
func (r *RollbackReport) String() string {
	var b strings.Builder
	for _, c := range r.ChangeSets {
		fmt.Fprintf(&b, "%s rolled back in %s\n", c.ChangeSet.Identifier(), c.Duration)
	}
	return b.String()
}

// runConfig holds the options of a single operation.
type runConfig struct {
	contexts []string
	labels   string
	listener Listener
	params   map[string]string
	summary  Summary
	summaryW io.Writer
}

// RunOption configures a single update, rollback or inspection.
type RunOption func(*runConfig)

// WithContexts sets the runtime contexts matched against changeset context
// expressions. Without contexts every changeset runs.
func WithContexts(contexts ...string) RunOption {
	return func(c *runConfig) {
		for _, ctx := range contexts {
			for _, part := range strings.Split(ctx, ",") {
				if part = strings.TrimSpace(part); part != "" {
					c.contexts = append(c.contexts, part)
				}
			}
		}
	}
}

// WithLabels sets the label filter expression, e.g. "v1 and !slow".
func WithLabels(filter string) RunOption {
	return func(c *runConfig) {
		c.labels = filter
	}
}

// WithListener receives an event before and after every changeset.
func WithListener(l Listener) RunOption {
	return func(c *runConfig) {
		c.listener = l
	}
}

// WithParameters sets changelog properties. They override every property
// defined in the changelog.
func WithParameters(params map[string]string) RunOption {
	return func(c *runConfig) {
		if c.params == nil {
			c.params = map[string]string{}
		}
		for k, v := range params {
			c.params[k] = v
		}
	}
}

// WithSummary writes an update summary to w. A nil w writes to the output
// of the Mikrator.
func WithSummary(mode Summary, w io.Writer) RunOption {
	return func(c *runConfig) {
		c.summary = mode
		c.summaryW = w
	}
}

func (m *Mikrator) runConfig(options []RunOption) *runConfig {
	c := &runConfig{}
	for _, option := range options {
		option(c)
	}
	if c.listener == nil {
		c.listener = NopListener{}
	}
	if c.summary == "" {
		c.summary = SummaryOff
	}
	if c.summaryW == nil {
		c.summaryW = m.out
	}
	return c
}
