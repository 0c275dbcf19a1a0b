package mikrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// rollbackTarget selects the ledger rows to roll back. Exactly one of tag,
// count, date and only is set.
type rollbackTarget struct {
	tag   string
	count int
	date  time.Time
	only  map[string]bool // changeset keys
}

// Rollback rolls back every changeset which ran after the database was
// tagged with tag.
func (m *Mikrator) Rollback(ctx context.Context, cl *changelog.ChangeLog, tag string, options ...RunOption) (*RollbackReport, error) {
	return m.rollback(ctx, cl, rollbackTarget{tag: tag, count: -1}, nil, options)
}

// RollbackCount rolls back the last count changesets.
func (m *Mikrator) RollbackCount(ctx context.Context, cl *changelog.ChangeLog, count int, options ...RunOption) (*RollbackReport, error) {
	if count < 0 {
		return nil, fmt.Errorf("invalid count %d", count)
	}
	return m.rollback(ctx, cl, rollbackTarget{count: count}, nil, options)
}

// RollbackToDate rolls back every changeset which ran after date.
func (m *Mikrator) RollbackToDate(ctx context.Context, cl *changelog.ChangeLog, date time.Time, options ...RunOption) (*RollbackReport, error) {
	return m.rollback(ctx, cl, rollbackTarget{date: date, count: -1}, nil, options)
}

// RollbackSQL writes the SQL Rollback would run to w.
func (m *Mikrator) RollbackSQL(ctx context.Context, cl *changelog.ChangeLog, tag string, w io.Writer, options ...RunOption) error {
	_, err := m.rollback(ctx, cl, rollbackTarget{tag: tag, count: -1}, w, options)
	return err
}

// RollbackCountSQL writes the SQL RollbackCount would run to w.
func (m *Mikrator) RollbackCountSQL(ctx context.Context, cl *changelog.ChangeLog, count int, w io.Writer, options ...RunOption) error {
	if count < 0 {
		return fmt.Errorf("invalid count %d", count)
	}
	_, err := m.rollback(ctx, cl, rollbackTarget{count: count}, w, options)
	return err
}

// RollbackToDateSQL writes the SQL RollbackToDate would run to w.
func (m *Mikrator) RollbackToDateSQL(ctx context.Context, cl *changelog.ChangeLog, date time.Time, w io.Writer, options ...RunOption) error {
	_, err := m.rollback(ctx, cl, rollbackTarget{date: date, count: -1}, w, options)
	return err
}

// FutureRollbackSQL writes the SQL rolling back every pending changeset
// once Update applied them.
func (m *Mikrator) FutureRollbackSQL(ctx context.Context, cl *changelog.ChangeLog, w io.Writer, options ...RunOption) error {
	return m.futureRollback(ctx, cl, all, w, options)
}

// FutureRollbackCountSQL is FutureRollbackSQL for the next count pending
// changesets.
func (m *Mikrator) FutureRollbackCountSQL(ctx context.Context, cl *changelog.ChangeLog, count int, w io.Writer, options ...RunOption) error {
	if count < 0 {
		return fmt.Errorf("invalid count %d", count)
	}
	return m.futureRollback(ctx, cl, target{limit: count}, w, options)
}

// FutureRollbackFromTagSQL is FutureRollbackSQL for the pending changesets
// up to tag.
func (m *Mikrator) FutureRollbackFromTagSQL(ctx context.Context, cl *changelog.ChangeLog, tag string, w io.Writer, options ...RunOption) error {
	return m.futureRollback(ctx, cl, target{limit: -1, tag: tag}, w, options)
}

func (m *Mikrator) rollback(ctx context.Context, cl *changelog.ChangeLog, t rollbackTarget, w io.Writer, options []RunOption) (*RollbackReport, error) {
	report := &RollbackReport{Started: m.clock.Now()}

	run := func() error {
		s, err := m.newSession(ctx, cl, options)
		if err != nil {
			return err
		}
		if w != nil {
			s.writeTo(w)
			if err := s.sql.header("Rollback Script", cl.LogicalFilePath); err != nil {
				return err
			}
		}
		return s.rollback(ctx, t, report)
	}

	var err error
	if w == nil {
		err = m.locked(ctx, run)
	} else {
		err = run()
	}

	report.Finished = m.clock.Now()
	report.Err = err
	report.Success = err == nil
	if err != nil {
		m.logger.Error("rollback failed", zap.Error(err))
	} else {
		m.logger.Info("rollback finished", zap.Int("changesets", len(report.ChangeSets)))
	}
	return report, err
}

// undo is a ledger row resolved for rollback.
type undo struct {
	row     ledger.RanChangeSet
	cs      *changelog.ChangeSet
	changes []changelog.Change
}

func (s *session) rollback(ctx context.Context, t rollbackTarget, report *RollbackReport) error {
	rows, err := s.selectRollback(t)
	if err != nil {
		return err
	}

	// resolve everything before touching the database
	undos := make([]undo, 0, len(rows))
	for _, r := range rows {
		u, err := s.resolve(r)
		if err != nil {
			return err
		}
		undos = append(undos, u)
	}

	for _, u := range undos {
		start := s.m.clock.Now()
		s.cfg.listener.WillRollback(u.cs)
		err := s.within(ctx, u.cs, func(x changelog.Executor, db sqlx.ExecerContext) error {
			for _, c := range u.changes {
				if err := c.Apply(ctx, x); err != nil {
					return err
				}
			}
			del := s.m.history.DeleteStatement(u.row)
			if s.sql != nil {
				return s.sql.Exec(ctx, del)
			}
			return s.m.exec(ctx, db, del)
		})
		if err != nil {
			return &RollbackError{Identifier: u.cs.Identifier(), Err: err}
		}
		delete(s.ran, key(u.row.Path, u.row.ID, u.row.Author))
		s.cfg.listener.RolledBack(u.cs)

		took := s.m.clock.Since(start)
		report.ChangeSets = append(report.ChangeSets, ChangeSetResult{ChangeSet: u.cs, ExecType: u.row.ExecType, Duration: took})
		s.m.logger.Info("changeset rolled back", zap.String("changeset", u.cs.Identifier()), zap.Duration("took", took))
	}
	return nil
}

// selectRollback returns the ledger rows selected by t, most recent first.
// Rows of changesets filtered out by contexts, labels or dbms are passed
// over.
func (s *session) selectRollback(t rollbackTarget) ([]ledger.RanChangeSet, error) {
	first := 0
	if t.tag != "" {
		first = -1
		for i, r := range s.rows {
			if r.Tag == t.tag {
				first = i + 1
			}
		}
		if first < 0 {
			return nil, fmt.Errorf("%w: database was never tagged with %q", ErrTagNotFound, t.tag)
		}
	}

	var selected []ledger.RanChangeSet
	for i := len(s.rows) - 1; i >= first; i-- {
		r := s.rows[i]
		if t.count >= 0 && len(selected) >= t.count {
			break
		}
		if !t.date.IsZero() && !r.DateExecuted.After(t.date) {
			continue
		}
		if t.only != nil && !t.only[key(r.Path, r.ID, r.Author)] {
			continue
		}
		if cs := s.lookup(r); cs != nil {
			reason, err := s.filter(cs)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				continue
			}
		}
		selected = append(selected, r)
	}
	return selected, nil
}

// resolve finds the changeset of r and the changes rolling it back.
func (s *session) resolve(r ledger.RanChangeSet) (undo, error) {
	cs := s.lookup(r)
	if cs == nil {
		return undo{}, &RollbackError{Identifier: r.Identifier(), Err: ErrChangeSetNotFound}
	}
	u := undo{row: r, cs: cs}
	switch {
	case r.ExecType == ledger.MarkRan || r.ExecType == ledger.Failed:
		// nothing was applied
	case cs.Rollback != nil:
		u.changes = cs.Rollback
	default:
		inv, err := changelog.InverseOf(cs.Changes)
		if err != nil {
			return undo{}, &RollbackError{Identifier: cs.Identifier(), Err: err}
		}
		u.changes = inv
	}
	return u, nil
}

func (m *Mikrator) futureRollback(ctx context.Context, cl *changelog.ChangeLog, t target, w io.Writer, options []RunOption) error {
	s, err := m.newSession(ctx, cl, options)
	if err != nil {
		return err
	}
	s.writeTo(w)
	if err := s.sql.header("Future Rollback Script", cl.LogicalFilePath); err != nil {
		return err
	}
	markRan, err := s.validate()
	if err != nil {
		return err
	}
	steps, _, err := s.plan(t, markRan)
	if err != nil {
		return err
	}

	for i := len(steps) - 1; i >= 0; i-- {
		st := steps[i]
		// reruns leave their row behind
		if st.prior != nil {
			continue
		}
		row, err := s.record(st.cs, st.exec, 0, "")
		if err != nil {
			return err
		}
		u, err := s.resolve(row)
		if err != nil {
			return err
		}
		err = s.within(ctx, st.cs, func(x changelog.Executor, _ sqlx.ExecerContext) error {
			for _, c := range u.changes {
				if err := c.Apply(ctx, x); err != nil {
					return err
				}
			}
			return x.Exec(ctx, s.m.history.DeleteStatement(row))
		})
		if err != nil {
			return &RollbackError{Identifier: st.cs.Identifier(), Err: err}
		}
	}
	return nil
}
