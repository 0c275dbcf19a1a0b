package changelog

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// ValidationFailOption decides what happens to a changeset whose changes
// are not valid for the target database.
type ValidationFailOption string

const (
	ValidationHalt    ValidationFailOption = "HALT"
	ValidationMarkRan ValidationFailOption = "MARK_RAN"
)

// AnyChecksum accepts every checksum when listed in ValidCheckSums.
const AnyChecksum = "ANY"

// A ChangeSet is the unit of tracking. It runs at most once unless RunAlways
// or RunOnChange is set.
type ChangeSet struct {
	ID                    string                  `json:"id"`
	Author                string                  `json:"author"`
	Comments              string                  `json:"comment,omitempty"`
	ContextFilter         string                  `json:"contextFilter,omitempty"`
	Created               string                  `json:"created,omitempty"`
	DBMS                  string                  `json:"dbms,omitempty"`
	FailOnError           *bool                   `json:"failOnError,omitempty"`
	FilePath              string                  `json:"filePath,omitempty"`
	Ignore                bool                    `json:"ignore,omitempty"`
	Labels                []string                `json:"labels,omitempty"`
	LogicalFilePath       string                  `json:"logicalFilePath,omitempty"`
	ObjectQuotingStrategy dialect.QuotingStrategy `json:"objectQuotingStrategy,omitempty"`
	OnValidationFail      ValidationFailOption    `json:"onValidationFail,omitempty"`
	RunAlways             bool                    `json:"runAlways,omitempty"`
	RunInTransaction      bool                    `json:"runInTransaction"`
	RunOnChange           bool                    `json:"runOnChange,omitempty"`
	RunOrder              string                  `json:"runOrder,omitempty"`
	ValidCheckSums        []string                `json:"validCheckSum,omitempty"`
	Preconditions         *Preconditions          `json:"preConditions,omitempty"`
	Changes               ChangeList              `json:"changes"`
	// Rollback nil derives the rollback from the inverses of Changes. A
	// non-nil empty list rolls back without doing anything.
	Rollback ChangeList `json:"rollback,omitempty"`
}

// ChangeSetOption configures a ChangeSet.
type ChangeSetOption func(*ChangeSet)

// NewChangeSet returns a changeset which runs in a transaction and fails on
// errors.
func NewChangeSet(id, author string, options ...ChangeSetOption) *ChangeSet {
	cs := &ChangeSet{
		ID:               id,
		Author:           author,
		FilePath:         DefaultChangeSetPath,
		RunInTransaction: true,
		OnValidationFail: ValidationHalt,
	}
	for _, option := range options {
		option(cs)
	}
	return cs
}

// Comments sets the comments recorded in the ledger.
func Comments(s string) ChangeSetOption { return func(cs *ChangeSet) { cs.Comments = s } }

// Context sets the context expression, e.g. "test and !prod".
func Context(expr string) ChangeSetOption { return func(cs *ChangeSet) { cs.ContextFilter = expr } }

// Labels adds labels matched by label filter expressions.
func Labels(labels ...string) ChangeSetOption {
	return func(cs *ChangeSet) { cs.Labels = append(cs.Labels, labels...) }
}

// RunsOn restricts the changeset to a comma separated list of databases,
// e.g. "postgresql, mysql" or "!sqlite".
func RunsOn(dbms string) ChangeSetOption { return func(cs *ChangeSet) { cs.DBMS = dbms } }

// Created sets free text describing when or by whom the changeset was
// written.
func Created(s string) ChangeSetOption { return func(cs *ChangeSet) { cs.Created = s } }

// FailOnError set to false records a failing changeset as FAILED and
// continues with the next one.
func FailOnError(fail bool) ChangeSetOption {
	return func(cs *ChangeSet) { cs.FailOnError = &fail }
}

// FilePath sets the physical path of the changeset. It is recorded in
// the ledger unless LogicalFilePath is set.
func FilePath(path string) ChangeSetOption { return func(cs *ChangeSet) { cs.FilePath = path } }

// Ignore excludes the changeset from every run.
func Ignore() ChangeSetOption { return func(cs *ChangeSet) { cs.Ignore = true } }

// LogicalFilePath sets the path recorded in the ledger.
func LogicalFilePath(path string) ChangeSetOption {
	return func(cs *ChangeSet) { cs.LogicalFilePath = path }
}

// ObjectQuoting overrides the quoting strategy of the changelog.
func ObjectQuoting(s dialect.QuotingStrategy) ChangeSetOption {
	return func(cs *ChangeSet) { cs.ObjectQuotingStrategy = s }
}

// OnValidationFail sets what happens when the checksum of a ran changeset
// changed: halt the run or mark the changeset as ran.
func OnValidationFail(o ValidationFailOption) ChangeSetOption {
	return func(cs *ChangeSet) { cs.OnValidationFail = o }
}

// RunAlways runs the changeset on every update.
func RunAlways() ChangeSetOption { return func(cs *ChangeSet) { cs.RunAlways = true } }

// RunOnChange runs the changeset again whenever its checksum changes.
func RunOnChange() ChangeSetOption { return func(cs *ChangeSet) { cs.RunOnChange = true } }

// RunInTransaction set to false runs the changes and the ledger write
// without a transaction.
func RunInTransaction(tx bool) ChangeSetOption {
	return func(cs *ChangeSet) { cs.RunInTransaction = tx }
}

// RunOrder moves the changeset to the "first" or "last" position of the
// execution order.
func RunOrder(order string) ChangeSetOption { return func(cs *ChangeSet) { cs.RunOrder = order } }

// ValidCheckSums adds checksums accepted besides the current one.
// AnyChecksum accepts every checksum.
func ValidCheckSums(sums ...string) ChangeSetOption {
	return func(cs *ChangeSet) { cs.ValidCheckSums = append(cs.ValidCheckSums, sums...) }
}

// Requires sets the preconditions checked before the changeset runs.
func Requires(p *Preconditions) ChangeSetOption {
	return func(cs *ChangeSet) { cs.Preconditions = p }
}

// Changes appends changes in execution order.
func Changes(changes ...Change) ChangeSetOption {
	return func(cs *ChangeSet) { cs.Changes = append(cs.Changes, changes...) }
}

// Rollback sets explicit rollback changes. Calling it without changes
// declares an empty rollback.
func Rollback(changes ...Change) ChangeSetOption {
	return func(cs *ChangeSet) {
		if cs.Rollback == nil {
			cs.Rollback = ChangeList{}
		}
		cs.Rollback = append(cs.Rollback, changes...)
	}
}

// Path returns the path recorded in the ledger.
func (cs *ChangeSet) Path() string {
	if cs.LogicalFilePath != "" {
		return cs.LogicalFilePath
	}
	return cs.FilePath
}

// Identifier returns "path::id::author".
func (cs *ChangeSet) Identifier() string {
	return cs.Path() + "::" + cs.ID + "::" + cs.Author
}

func (cs *ChangeSet) String() string { return cs.Identifier() }

// FailsOnError reports whether an error stops the update. It defaults to
// true.
func (cs *ChangeSet) FailsOnError() bool {
	return cs.FailOnError == nil || *cs.FailOnError
}

// Tag returns the tag of the first tagDatabase change or an empty string.
func (cs *ChangeSet) Tag() string {
	for _, c := range cs.Changes {
		if t, ok := c.(*TagDatabase); ok {
			return t.Tag
		}
	}
	return ""
}

// Description summarizes the change types, e.g. "createTable, insert".
func (cs *ChangeSet) Description() string {
	types := make([]string, len(cs.Changes))
	for i, c := range cs.Changes {
		types[i] = c.ChangeType()
	}
	d := strings.Join(types, ", ")
	if len(d) > 250 {
		d = d[:247] + "..."
	}
	return d
}

// Checksum returns "1:" followed by the md5 hex digest of the canonical
// JSON form of the changes. Properties are not expanded.
func (cs *ChangeSet) Checksum() (string, error) {
	raw, err := json.Marshal(cs.Changes)
	if err != nil {
		return "", fmt.Errorf("failed to checksum changeset %s: %w", cs.Identifier(), err)
	}
	sum := md5.Sum(raw)
	return "1:" + hex.EncodeToString(sum[:]), nil
}

// ValidChecksum reports whether sum is accepted for cs: it is the current
// checksum, listed in ValidCheckSums or ValidCheckSums contains ANY.
func (cs *ChangeSet) ValidChecksum(sum string) bool {
	for _, v := range cs.ValidCheckSums {
		if strings.EqualFold(v, AnyChecksum) || v == sum {
			return true
		}
	}
	current, err := cs.Checksum()
	return err == nil && current == sum
}

// ChangeList is a list of changes. Each change is encoded as an object
// keyed by its change type.
type ChangeList []Change

func (l ChangeList) MarshalJSON() ([]byte, error) {
	out := make([]map[string]Change, len(l))
	for i, c := range l {
		out[i] = map[string]Change{c.ChangeType(): c}
	}
	return json.Marshal(out)
}
