// Package changelog builds changelogs in Go.
//
// A ChangeLog is an ordered list of ChangeSets. Each ChangeSet is identified
// by its path, id and author and carries one or more Changes. Changes lower
// to dialect statements, know how to undo themselves where that is possible
// and are checksummed so edits to changesets which already ran are
// detected.
//
//	cl := changelog.New(changelog.WithChangeSets(
//	    changelog.NewChangeSet("1", "alice", changelog.Changes(
//	        &changelog.CreateTable{TableName: "person", Columns: []changelog.Column{
//	            {Name: "id", Type: "int", Constraints: &changelog.Constraints{PrimaryKey: true}},
//	        }},
//	    )),
//	))
package changelog

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/format"
)

const (
	// DefaultLogicalFilePath is the logical path of changelogs built in code.
	DefaultLogicalFilePath = "virtual"
	// DefaultPhysicalFilePath is the physical path of changelogs built in code.
	DefaultPhysicalFilePath = "virtual"
	// DefaultChangeSetPath is the path recorded for changesets without an
	// explicit file path.
	DefaultChangeSetPath = ""
)

// RemovedProperty strips Property from every change of type ChangeType
// before it runs on a database matching DBMS.
type RemovedProperty struct {
	ChangeType string `json:"change"`
	Property   string `json:"property"`
	DBMS       string `json:"dbms,omitempty"`
}

// A ChangeLog is an ordered collection of changesets.
type ChangeLog struct {
	LogicalFilePath       string                  `json:"logicalFilePath,omitempty"`
	PhysicalFilePath      string                  `json:"-"`
	ContextFilter         string                  `json:"contextFilter,omitempty"`
	ObjectQuotingStrategy dialect.QuotingStrategy `json:"objectQuotingStrategy,omitempty"`
	Preconditions         *Preconditions          `json:"preconditions,omitempty"`
	Properties            []Property              `json:"properties,omitempty"`
	ChangeSets            []*ChangeSet            `json:"changeSets"`
	RemovedProperties     []RemovedProperty       `json:"removedChangeSetProperties,omitempty"`
}

// Option configures a ChangeLog.
type Option func(*ChangeLog)

// New returns a changelog. Paths default to DefaultLogicalFilePath and
// DefaultPhysicalFilePath and the quoting strategy to LEGACY.
func New(options ...Option) *ChangeLog {
	cl := &ChangeLog{}
	for _, option := range options {
		option(cl)
	}
	if cl.LogicalFilePath == "" {
		cl.LogicalFilePath = DefaultLogicalFilePath
	}
	if cl.PhysicalFilePath == "" {
		cl.PhysicalFilePath = DefaultPhysicalFilePath
	}
	if cl.ObjectQuotingStrategy == "" {
		cl.ObjectQuotingStrategy = dialect.QuoteLegacy
	}
	return cl
}

// WithLogicalFilePath sets the path recorded in the ledger for changesets
// without a path of their own.
func WithLogicalFilePath(path string) Option {
	return func(cl *ChangeLog) { cl.LogicalFilePath = path }
}

// WithPhysicalFilePath sets the path the changelog was loaded from.
func WithPhysicalFilePath(path string) Option {
	return func(cl *ChangeLog) { cl.PhysicalFilePath = path }
}

// WithContextFilter sets a context expression which applies to every
// changeset in addition to the changeset's own.
func WithContextFilter(expr string) Option {
	return func(cl *ChangeLog) { cl.ContextFilter = expr }
}

// WithQuotingStrategy sets how object names are quoted unless a changeset
// overrides it.
func WithQuotingStrategy(s dialect.QuotingStrategy) Option {
	return func(cl *ChangeLog) { cl.ObjectQuotingStrategy = s }
}

// WithPreconditions sets the preconditions checked before any changeset
// runs.
func WithPreconditions(p *Preconditions) Option {
	return func(cl *ChangeLog) { cl.Preconditions = p }
}

// WithProperty defines a property usable as ${name}.
func WithProperty(p Property) Option {
	return func(cl *ChangeLog) { cl.Properties = append(cl.Properties, p) }
}

// WithChangeSets appends sets in execution order.
func WithChangeSets(sets ...*ChangeSet) Option {
	return func(cl *ChangeLog) { cl.ChangeSets = append(cl.ChangeSets, sets...) }
}

// WithRemovedChangeSetProperty drops property from all changes of type
// changeType when running against dbms. An empty dbms matches every
// database.
func WithRemovedChangeSetProperty(changeType, property, dbms string) Option {
	return func(cl *ChangeLog) {
		cl.RemovedProperties = append(cl.RemovedProperties, RemovedProperty{ChangeType: changeType, Property: property, DBMS: dbms})
	}
}

// Add appends changesets.
func (cl *ChangeLog) Add(sets ...*ChangeSet) {
	cl.ChangeSets = append(cl.ChangeSets, sets...)
}

// ChangeSet returns the changeset with the given identity or nil.
func (cl *ChangeLog) ChangeSet(path, id, author string) *ChangeSet {
	for _, cs := range cl.ChangeSets {
		if cs.ID == id && cs.Author == author && samePath(cs.Path(), path) {
			return cs
		}
	}
	return nil
}

// Ordered returns the changesets in execution order: changesets with
// RunOrder "first" before all others and "last" after all others.
func (cl *ChangeLog) Ordered() []*ChangeSet {
	rank := func(cs *ChangeSet) int {
		switch strings.ToLower(cs.RunOrder) {
		case "first":
			return 0
		case "last":
			return 2
		}
		return 1
	}
	sets := make([]*ChangeSet, len(cl.ChangeSets))
	copy(sets, cl.ChangeSets)
	sort.SliceStable(sets, func(i, j int) bool { return rank(sets[i]) < rank(sets[j]) })
	return sets
}

// Duplicates returns the identifiers used by more than one changeset.
func (cl *ChangeLog) Duplicates() []string {
	seen := map[string]int{}
	var dups []string
	for _, cs := range cl.ChangeSets {
		id := cs.Identifier()
		seen[id]++
		if seen[id] == 2 {
			dups = append(dups, id)
		}
	}
	return dups
}

// QuotingFor returns the quoting strategy in effect for cs.
func (cl *ChangeLog) QuotingFor(cs *ChangeSet) dialect.QuotingStrategy {
	if cs.ObjectQuotingStrategy != "" {
		return cs.ObjectQuotingStrategy
	}
	if cl.ObjectQuotingStrategy != "" {
		return cl.ObjectQuotingStrategy
	}
	return dialect.QuoteLegacy
}

// ForDBMS returns cl as it runs against dbms: the removed changeset
// properties matching dbms are zeroed in copies of the affected changes.
// cl itself is never modified and is returned as is when nothing is removed.
func (cl *ChangeLog) ForDBMS(dbms string) *ChangeLog {
	var removed []RemovedProperty
	for _, rp := range cl.RemovedProperties {
		if MatchDBMS(rp.DBMS, dbms) {
			removed = append(removed, rp)
		}
	}
	if len(removed) == 0 {
		return cl
	}

	strip := func(changes ChangeList) ChangeList {
		if changes == nil {
			return nil
		}
		out := make(ChangeList, len(changes))
		for i, c := range changes {
			for _, rp := range removed {
				if strings.EqualFold(c.ChangeType(), rp.ChangeType) {
					if out[i] == nil {
						out[i] = cloneChange(c)
					}
					removeProperty(out[i], rp.Property)
				}
			}
			if out[i] == nil {
				out[i] = c
			}
		}
		return out
	}

	c := *cl
	c.ChangeSets = make([]*ChangeSet, len(cl.ChangeSets))
	for i, cs := range cl.ChangeSets {
		cp := *cs
		cp.Changes = strip(cs.Changes)
		cp.Rollback = strip(cs.Rollback)
		c.ChangeSets[i] = &cp
	}
	return &c
}

// Serialize writes cl to w.
func (cl *ChangeLog) Serialize(w io.Writer, f format.Format) error {
	if err := format.Encode(w, f, map[string]*ChangeLog{"databaseChangeLog": cl}); err != nil {
		return fmt.Errorf("failed to serialize changelog: %w", err)
	}
	return nil
}

func samePath(a, b string) bool {
	norm := func(p string) string { return strings.TrimPrefix(strings.Replace(p, `\`, "/", -1), "classpath:") }
	return norm(a) == norm(b)
}
