package mikrator

import (
	"context"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/ledger"
)

// History returns the ledger rows in execution order. With onlyTags set
// only tagged rows are returned, limited to tags when any are given.
func (m *Mikrator) History(ctx context.Context, onlyTags bool, tags ...string) ([]ledger.RanChangeSet, error) {
	rows, err := m.ran(ctx)
	if err != nil {
		return nil, err
	}
	if !onlyTags {
		return rows, nil
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	return filter(rows, func(r ledger.RanChangeSet) bool {
		return r.Tag != "" && (len(want) == 0 || want[r.Tag])
	}), nil
}

// ChangeSetStatus is a changeset an update would run.
type ChangeSetStatus struct {
	ChangeSet *changelog.ChangeSet
	// ExecType is how the changeset would be recorded.
	ExecType ledger.ExecType
	// Previous is the ledger row of a changeset running again.
	Previous *ledger.RanChangeSet
}

// Status returns the changesets of cl an update would run, in order.
func (m *Mikrator) Status(ctx context.Context, cl *changelog.ChangeLog, options ...RunOption) ([]ChangeSetStatus, error) {
	s, err := m.newSession(ctx, cl, options)
	if err != nil {
		return nil, err
	}
	markRan, err := s.validate()
	if err != nil {
		return nil, err
	}
	steps, _, err := s.plan(all, markRan)
	if err != nil {
		return nil, err
	}
	status := make([]ChangeSetStatus, len(steps))
	for i, st := range steps {
		status[i] = ChangeSetStatus{ChangeSet: st.cs, ExecType: st.exec, Previous: st.prior}
	}
	return status, nil
}

// UnexpectedChangeSets returns the ledger rows without a changeset in cl.
func (m *Mikrator) UnexpectedChangeSets(ctx context.Context, cl *changelog.ChangeLog) ([]ledger.RanChangeSet, error) {
	if cl == nil {
		return nil, errNoChangeLog
	}
	rows, err := m.ran(ctx)
	if err != nil {
		return nil, err
	}
	known := make([]string, 0, len(cl.ChangeSets))
	for _, cs := range cl.ChangeSets {
		known = append(known, csKey(cs))
	}
	return filterExcept(rows, known, func(r ledger.RanChangeSet) string {
		return key(r.Path, r.ID, r.Author)
	}), nil
}
