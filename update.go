package mikrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Update runs every pending changeset of cl.
func (m *Mikrator) Update(ctx context.Context, cl *changelog.ChangeLog, options ...RunOption) (*UpdateReport, error) {
	return m.update(ctx, cl, all, nil, options)
}

// UpdateCount runs the next count pending changesets of cl.
func (m *Mikrator) UpdateCount(ctx context.Context, cl *changelog.ChangeLog, count int, options ...RunOption) (*UpdateReport, error) {
	if count < 0 {
		return nil, fmt.Errorf("invalid count %d", count)
	}
	return m.update(ctx, cl, target{limit: count}, nil, options)
}

// UpdateToTag runs the pending changesets of cl up to and including the
// changeset tagging the database with tag.
func (m *Mikrator) UpdateToTag(ctx context.Context, cl *changelog.ChangeLog, tag string, options ...RunOption) (*UpdateReport, error) {
	return m.update(ctx, cl, target{limit: -1, tag: tag}, nil, options)
}

// UpdateSQL writes the SQL Update would run to w.
func (m *Mikrator) UpdateSQL(ctx context.Context, cl *changelog.ChangeLog, w io.Writer, options ...RunOption) error {
	_, err := m.update(ctx, cl, all, w, options)
	return err
}

// UpdateCountSQL writes the SQL UpdateCount would run to w.
func (m *Mikrator) UpdateCountSQL(ctx context.Context, cl *changelog.ChangeLog, count int, w io.Writer, options ...RunOption) error {
	if count < 0 {
		return fmt.Errorf("invalid count %d", count)
	}
	_, err := m.update(ctx, cl, target{limit: count}, w, options)
	return err
}

// UpdateToTagSQL writes the SQL UpdateToTag would run to w.
func (m *Mikrator) UpdateToTagSQL(ctx context.Context, cl *changelog.ChangeLog, tag string, w io.Writer, options ...RunOption) error {
	_, err := m.update(ctx, cl, target{limit: -1, tag: tag}, w, options)
	return err
}

// UpdateTestingRollback updates, rolls back everything the update applied
// and updates again. An empty tag updates all pending changesets.
func (m *Mikrator) UpdateTestingRollback(ctx context.Context, cl *changelog.ChangeLog, tag string, options ...RunOption) (*UpdateTestingRollbackResult, error) {
	up := func() (*UpdateReport, error) {
		if tag == "" {
			return m.Update(ctx, cl, options...)
		}
		return m.UpdateToTag(ctx, cl, tag, options...)
	}

	result := &UpdateTestingRollbackResult{}
	var err error
	if result.Initial, err = up(); err != nil {
		return result, err
	}

	// reruns had a row before the update and keep it
	applied := map[string]bool{}
	for _, r := range result.Initial.ChangeSets {
		if r.ExecType != ledger.Reran && r.ExecType != ledger.Skipped {
			applied[csKey(r.ChangeSet)] = true
		}
	}
	m.logger.Info("rolling back applied changesets", zap.Int("count", len(applied)))

	t := rollbackTarget{count: -1, only: applied}
	if result.Rollback, err = m.rollback(ctx, cl, t, nil, options); err != nil {
		return result, err
	}
	result.Final, err = up()
	return result, err
}

func (m *Mikrator) update(ctx context.Context, cl *changelog.ChangeLog, t target, w io.Writer, options []RunOption) (*UpdateReport, error) {
	report := &UpdateReport{DeploymentID: uuid.New().String(), Started: m.clock.Now()}

	var err error
	if w == nil {
		err = m.locked(ctx, func() error {
			s, err := m.newSession(ctx, cl, options)
			if err != nil {
				return err
			}
			return s.update(ctx, t, report)
		})
	} else {
		err = m.updateSQL(ctx, cl, t, w, options, report)
	}

	report.Finished = m.clock.Now()
	report.Err = err
	report.Success = err == nil
	if err != nil {
		m.logger.Error("update failed", zap.String("deployment", report.DeploymentID), zap.Error(err))
	} else {
		m.logger.Info("update finished",
			zap.String("deployment", report.DeploymentID),
			zap.Int("changesets", len(report.ChangeSets)),
			zap.Duration("took", report.Finished.Sub(report.Started)))
	}

	cfg := m.runConfig(options)
	if serr := report.WriteSummary(cfg.summaryW, cfg.summary); serr != nil && err == nil {
		err = serr
	}
	return report, err
}

func (m *Mikrator) updateSQL(ctx context.Context, cl *changelog.ChangeLog, t target, w io.Writer, options []RunOption, report *UpdateReport) error {
	s, err := m.newSession(ctx, cl, options)
	if err != nil {
		return err
	}
	s.writeTo(w)
	if err := s.sql.header("Update Database Script", cl.LogicalFilePath); err != nil {
		return err
	}
	if err := s.createLedgerSQL(ctx); err != nil {
		return err
	}
	return s.update(ctx, t, report)
}

// createLedgerSQL writes the creation of the ledger and lock tables unless
// they exist.
func (s *session) createLedgerSQL(ctx context.Context) error {
	exist, err := s.m.history.Initialized(ctx, s.m.db)
	if err != nil {
		return &DriverError{"failed to verify existence of changelog table", err}
	}
	if exist {
		return nil
	}
	if err := s.sql.Comment(ctx, "Create Database Change Log Table"); err != nil {
		return err
	}
	if err := s.sql.Exec(ctx, s.m.history.InitStatements()...); err != nil {
		return err
	}
	if err := s.sql.Comment(ctx, "Create Database Lock Table"); err != nil {
		return err
	}
	return s.sql.Exec(ctx, s.m.lock.InitStatements()...)
}

// nextOrder returns the orderexecuted of the next ledger row.
func (s *session) nextOrder() int {
	n := 0
	for _, r := range s.rows {
		if r.OrderExecuted > n {
			n = r.OrderExecuted
		}
	}
	return n + 1
}

func (s *session) update(ctx context.Context, t target, report *UpdateReport) error {
	markRan, err := s.validate()
	if err != nil {
		return err
	}

	action, err := s.checkPreconditions(ctx, s.cl.Preconditions, nil)
	switch action {
	case "":
	case changelog.Warn:
		s.m.logger.Warn("changelog preconditions failed", zap.Error(err))
	case changelog.Continue, changelog.MarkRan:
		s.m.logger.Info("changelog preconditions failed, skipping changelog", zap.Error(err))
		return nil
	default:
		return &PreconditionError{Err: err}
	}

	steps, skipped, err := s.plan(t, markRan)
	if err != nil {
		return err
	}
	report.Skipped = skipped

	order := s.nextOrder()
	for _, st := range steps {
		res, err := s.run(ctx, st, order, report.DeploymentID)
		if res.ExecType == ledger.Skipped {
			report.Skipped = append(report.Skipped, res)
		} else if res.ChangeSet != nil {
			report.ChangeSets = append(report.ChangeSets, res)
			order++
		}
		if err != nil {
			return err
		}
	}

	return s.refreshChecksums(ctx)
}

// run executes a single step. A result without ChangeSet means nothing was
// recorded.
func (s *session) run(ctx context.Context, st step, order int, deploymentID string) (ChangeSetResult, error) {
	cs := st.cs
	log := s.m.logger.With(zap.String("changeset", cs.Identifier()))
	exec := st.exec

	if exec != ledger.MarkRan {
		action, err := s.checkPreconditions(ctx, cs.Preconditions, cs)
		switch action {
		case "":
		case changelog.Halt:
			return ChangeSetResult{}, &PreconditionError{ChangeSet: cs, Err: err}
		case changelog.Continue:
			log.Info("preconditions failed, skipping changeset", zap.Error(err))
			return ChangeSetResult{ChangeSet: cs, ExecType: ledger.Skipped, Reason: "preconditions failed", Err: err}, nil
		case changelog.MarkRan:
			log.Info("preconditions failed, marking changeset ran", zap.Error(err))
			exec = ledger.MarkRan
		case changelog.Warn:
			log.Warn("preconditions failed", zap.Error(err))
		default:
			return ChangeSetResult{}, fmt.Errorf("changeset %s: unknown precondition action %q", cs.Identifier(), action)
		}
	}

	row, err := s.record(cs, exec, order, deploymentID)
	if err != nil {
		return ChangeSetResult{}, err
	}
	res := ChangeSetResult{ChangeSet: cs, ExecType: exec}
	start := s.m.clock.Now()

	s.cfg.listener.WillRun(cs, exec)
	err = s.apply(ctx, cs, exec, s.recordStatements(st.prior, row))
	res.Duration = s.m.clock.Since(start)
	if err != nil {
		s.cfg.listener.RunFailed(cs, err)
		var stop *changelog.StopError
		if errors.As(err, &stop) {
			return ChangeSetResult{}, stop
		}
		if cs.FailsOnError() || s.sql != nil {
			return ChangeSetResult{}, &ChangeSetError{Identifier: cs.Identifier(), Err: err}
		}
		log.Warn("changeset failed, continuing", zap.Error(err))
		row.ExecType = ledger.Failed
		if ferr := s.m.exec(ctx, s.m.db, s.recordStatements(st.prior, row)...); ferr != nil {
			return ChangeSetResult{}, ferr
		}
		s.remember(row)
		res.ExecType, res.Err = ledger.Failed, err
		return res, nil
	}

	s.remember(row)
	s.cfg.listener.Ran(cs, exec)
	log.Info("changeset ran", zap.String("exectype", string(exec)), zap.Duration("took", res.Duration))
	return res, nil
}

// apply runs the changes of cs unless exec is MARK_RAN and writes record
// to the ledger. Both happen in one transaction when cs runs in a
// transaction.
func (s *session) apply(ctx context.Context, cs *changelog.ChangeSet, exec ledger.ExecType, record []dialect.Statement) error {
	changes := cs.Changes
	if exec == ledger.MarkRan {
		changes = nil
	}
	return s.within(ctx, cs, func(x changelog.Executor, db sqlx.ExecerContext) error {
		for _, c := range changes {
			if err := c.Apply(ctx, x); err != nil {
				return err
			}
		}
		if s.sql != nil {
			return s.sql.Exec(ctx, record...)
		}
		return s.m.exec(ctx, db, record...)
	})
}

// within calls fn with an executor for cs, inside a transaction when cs
// runs in one.
func (s *session) within(ctx context.Context, cs *changelog.ChangeSet, fn func(x changelog.Executor, db sqlx.ExecerContext) error) error {
	if s.sql != nil {
		if err := s.sql.Comment(ctx, "Changeset "+cs.Identifier()); err != nil {
			return err
		}
		return fn(s.executor(cs, nil), nil)
	}
	if !cs.RunInTransaction {
		return fn(s.executor(cs, s.m.db), s.m.db)
	}
	if !s.m.dialect.SupportsDDLTransactions() && changesSchema(cs.Changes) {
		s.m.logger.Warn("schema changes commit implicitly, changeset cannot be rolled back on failure",
			zap.String("changeset", cs.Identifier()), zap.String("dbms", s.m.dialect.Name()))
	}
	return transaction(ctx, s.m.db, s.m.logger, func(tx *sqlx.Tx) error {
		return fn(s.executor(cs, tx), tx)
	})
}

// refreshChecksums stores the checksum of ran changesets whose checksum was
// cleared.
func (s *session) refreshChecksums(ctx context.Context) error {
	var stmts []dialect.Statement
	for _, r := range s.rows {
		if r.Checksum != "" {
			continue
		}
		cs := s.lookup(r)
		if cs == nil {
			continue
		}
		sum, err := cs.Checksum()
		if err != nil {
			return err
		}
		stmts = append(stmts, s.m.history.UpdateChecksumStatement(r, sum))
	}
	if len(stmts) == 0 {
		return nil
	}
	if s.sql != nil {
		return s.sql.Exec(ctx, stmts...)
	}
	return s.m.exec(ctx, s.m.db, stmts...)
}

// changesSchema reports whether changes contain DDL. Raw SQL counts when it
// starts with a DDL keyword.
func changesSchema(changes []changelog.Change) bool {
	for _, c := range changes {
		switch c := c.(type) {
		case *changelog.Insert, *changelog.Update, *changelog.Delete, *changelog.TagDatabase,
			*changelog.Output, *changelog.Stop, *changelog.ExecuteCommand, *changelog.CustomChange:
		case *changelog.SQL:
			fields := strings.Fields(c.SQL)
			if len(fields) == 0 {
				continue
			}
			switch strings.ToUpper(fields[0]) {
			case "CREATE", "ALTER", "DROP", "RENAME", "TRUNCATE":
				return true
			}
		default:
			return true
		}
	}
	return false
}
