package mikrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CalculateChecksum returns the checksum of a changeset of cl.
func (m *Mikrator) CalculateChecksum(cl *changelog.ChangeLog, path, id, author string) (string, error) {
	if cl == nil {
		return "", errNoChangeLog
	}
	cs := cl.ForDBMS(m.dialect.Name()).ChangeSet(path, id, author)
	if cs == nil {
		return "", fmt.Errorf("%w: %s", ErrChangeSetNotFound, key(path, id, author))
	}
	return cs.Checksum()
}

// ChangeLogSync records every pending changeset as executed without
// running it.
func (m *Mikrator) ChangeLogSync(ctx context.Context, cl *changelog.ChangeLog, options ...RunOption) error {
	return m.sync(ctx, cl, all, nil, options)
}

// ChangeLogSyncSQL writes the SQL ChangeLogSync would run to w.
func (m *Mikrator) ChangeLogSyncSQL(ctx context.Context, cl *changelog.ChangeLog, w io.Writer, options ...RunOption) error {
	return m.sync(ctx, cl, all, w, options)
}

// ChangeLogSyncToTag records the pending changesets up to tag as executed
// without running them.
func (m *Mikrator) ChangeLogSyncToTag(ctx context.Context, cl *changelog.ChangeLog, tag string, options ...RunOption) error {
	return m.sync(ctx, cl, target{limit: -1, tag: tag}, nil, options)
}

// ChangeLogSyncToTagSQL writes the SQL ChangeLogSyncToTag would run to w.
func (m *Mikrator) ChangeLogSyncToTagSQL(ctx context.Context, cl *changelog.ChangeLog, tag string, w io.Writer, options ...RunOption) error {
	return m.sync(ctx, cl, target{limit: -1, tag: tag}, w, options)
}

// MarkNextChangeSetRan records the next pending changeset as executed
// without running it.
func (m *Mikrator) MarkNextChangeSetRan(ctx context.Context, cl *changelog.ChangeLog, options ...RunOption) error {
	return m.sync(ctx, cl, target{limit: 1}, nil, options)
}

// MarkNextChangeSetRanSQL writes the SQL MarkNextChangeSetRan would run to w.
func (m *Mikrator) MarkNextChangeSetRanSQL(ctx context.Context, cl *changelog.ChangeLog, w io.Writer, options ...RunOption) error {
	return m.sync(ctx, cl, target{limit: 1}, w, options)
}

func (m *Mikrator) sync(ctx context.Context, cl *changelog.ChangeLog, t target, w io.Writer, options []RunOption) error {
	run := func() error {
		s, err := m.newSession(ctx, cl, options)
		if err != nil {
			return err
		}
		if w != nil {
			s.writeTo(w)
			if err := s.sql.header("Sync Database Script", cl.LogicalFilePath); err != nil {
				return err
			}
			if err := s.createLedgerSQL(ctx); err != nil {
				return err
			}
		}
		return s.sync(ctx, t)
	}
	if w != nil {
		return run()
	}
	return m.locked(ctx, run)
}

func (s *session) sync(ctx context.Context, t target) error {
	steps, _, err := s.plan(t, nil)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		s.m.logger.Info("no pending changesets to mark ran")
		return nil
	}
	deploymentID := uuid.New().String()
	order := s.nextOrder()
	for _, st := range steps {
		// changesets running again are already recorded
		if st.prior != nil && st.prior.ExecType != ledger.Failed {
			continue
		}
		row, err := s.record(st.cs, ledger.Executed, order, deploymentID)
		if err != nil {
			return err
		}
		stmts := s.recordStatements(st.prior, row)
		if s.sql != nil {
			if err := s.sql.Comment(ctx, "Changeset "+st.cs.Identifier()); err != nil {
				return err
			}
			err = s.sql.Exec(ctx, stmts...)
		} else {
			err = s.m.exec(ctx, s.m.db, stmts...)
		}
		if err != nil {
			return err
		}
		s.remember(row)
		order++
		s.m.logger.Info("changeset marked ran", zap.String("changeset", st.cs.Identifier()))
	}
	return nil
}

// ClearChecksums removes all checksums from the ledger. The next update
// stores them again.
func (m *Mikrator) ClearChecksums(ctx context.Context) error {
	return m.locked(ctx, func() error {
		return m.exec(ctx, m.db, m.history.ClearChecksumsStatement())
	})
}

// Tag tags the most recently executed changeset with tag.
func (m *Mikrator) Tag(ctx context.Context, tag string) error {
	if tag == "" {
		return errors.New("tag must not be empty")
	}
	return m.locked(ctx, func() error {
		last, err := m.history.Last(ctx, m.db)
		if errors.Is(err, ledger.ErrEmpty) {
			return fmt.Errorf("cannot tag database with %q: %w", tag, err)
		}
		if err != nil {
			return &DriverError{"failed to query executed changesets", err}
		}
		if err := m.exec(ctx, m.db, m.history.TagStatement(*last, tag)); err != nil {
			return err
		}
		m.logger.Info("database tagged", zap.String("tag", tag), zap.String("changeset", last.Identifier()))
		return nil
	})
}

// TagExists reports whether a changeset was tagged with tag.
func (m *Mikrator) TagExists(ctx context.Context, tag string) (bool, error) {
	exist, err := m.history.Initialized(ctx, m.db)
	if err != nil {
		return false, &DriverError{"failed to verify existence of changelog table", err}
	}
	if !exist {
		return false, nil
	}
	ok, err := m.history.TagExists(ctx, m.db, tag)
	if err != nil {
		return false, &DriverError{"failed to query tags", err}
	}
	return ok, nil
}

// Validate checks cl against the database without changing anything. It
// returns a *ValidationError listing every problem.
func (m *Mikrator) Validate(ctx context.Context, cl *changelog.ChangeLog, options ...RunOption) error {
	s, err := m.newSession(ctx, cl, options)
	if err != nil {
		return err
	}
	_, err = s.validate()
	return err
}

// DropAll drops every view, table and sequence of the database, the ledger
// included.
func (m *Mikrator) DropAll(ctx context.Context) error {
	snap, err := snapshot.Take(ctx, m.db.DB, m.dialect, snapshot.WithClock(m.clock))
	if err != nil {
		return err
	}

	var stmts []dialect.Statement
	for _, v := range snap.Views {
		stmts = append(stmts, &dialect.DropView{View: dialect.N(v.Name)})
	}
	if m.dialect.Name() != dialect.NameSQLite {
		for _, t := range snap.Tables {
			for _, fk := range t.ForeignKeys {
				stmts = append(stmts, &dialect.DropForeignKey{Table: dialect.N(t.Name), Name: fk.Name})
			}
		}
	}
	for _, t := range dropOrder(snap.Tables) {
		stmts = append(stmts, &dialect.DropTable{Table: dialect.N(t.Name), Cascade: true})
	}
	if m.dialect.SupportsSequences() {
		for _, s := range snap.Sequences {
			stmts = append(stmts, &dialect.DropSequence{Sequence: dialect.N(s.Name)})
		}
	}

	if err := m.exec(ctx, m.db, stmts...); err != nil {
		return err
	}
	m.logger.Info("all database objects dropped",
		zap.Int("tables", len(snap.Tables)), zap.Int("views", len(snap.Views)), zap.Int("sequences", len(snap.Sequences)))
	return nil
}

// dropOrder sorts tables so that referencing tables come before the tables
// they reference. Cycles keep their snapshot order.
func dropOrder(tables []*snapshot.Table) []*snapshot.Table {
	left := append([]*snapshot.Table(nil), tables...)
	ordered := make([]*snapshot.Table, 0, len(tables))
	for len(left) > 0 {
		referenced := map[string]bool{}
		for _, t := range left {
			for _, fk := range t.ForeignKeys {
				if !strings.EqualFold(fk.ReferencedTable, t.Name) {
					referenced[strings.ToLower(fk.ReferencedTable)] = true
				}
			}
		}
		var rest []*snapshot.Table
		for _, t := range left {
			if referenced[strings.ToLower(t.Name)] {
				rest = append(rest, t)
			} else {
				ordered = append(ordered, t)
			}
		}
		if len(rest) == len(left) {
			return append(ordered, rest...)
		}
		left = rest
	}
	return ordered
}

// ExecuteSQL runs script split at delimiter, ";" when empty. Results of
// queries are written to the output as tables.
func (m *Mikrator) ExecuteSQL(ctx context.Context, script, delimiter string) error {
	for _, stmt := range dialect.SplitStatements(script, delimiter) {
		if !returnsRows(stmt) {
			m.logger.Debug("executing statement", zap.String("sql", stmt))
			if _, err := m.db.ExecContext(ctx, stmt); err != nil {
				return &DriverError{fmt.Sprintf("failed to execute SQL statement %q", stmt), err}
			}
			continue
		}
		if err := m.query(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func returnsRows(stmt string) bool {
	fields := strings.Fields(dialect.StripComments(stmt))
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "PRAGMA", "EXPLAIN", "VALUES", "DESCRIBE":
		return true
	}
	return false
}

// query runs stmt and writes its result to the output.
func (m *Mikrator) query(ctx context.Context, stmt string) (err error) {
	m.logger.Debug("executing query", zap.String("sql", stmt))
	rows, err := m.db.QueryxContext(ctx, stmt)
	if err != nil {
		return &DriverError{fmt.Sprintf("failed to execute SQL query %q", stmt), err}
	}
	defer logCloser(rows, m.logger)

	cols, err := rows.Columns()
	if err != nil {
		return &DriverError{"failed to read result columns", err}
	}
	tw := tabwriter.NewWriter(m.out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	n := 0
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return &DriverError{"failed to read result row", err}
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = cell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
		n++
	}
	if err := rows.Err(); err != nil {
		return &DriverError{"failed to read result rows", err}
	}
	fmt.Fprintf(tw, "(%d rows)\n\n", n)
	return tw.Flush()
}

func cell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// ListLocks returns the held changelog locks.
func (m *Mikrator) ListLocks(ctx context.Context) ([]ledger.LockInfo, error) {
	if err := m.lock.Init(ctx, m.db); err != nil {
		return nil, &DriverError{"failed to create changelog lock table", err}
	}
	locks, err := m.lock.List(ctx, m.db)
	if err != nil {
		return nil, &DriverError{"failed to list changelog locks", err}
	}
	return locks, nil
}

// ReleaseLocks frees the changelog lock regardless of its holder.
func (m *Mikrator) ReleaseLocks(ctx context.Context) error {
	if err := m.lock.Init(ctx, m.db); err != nil {
		return &DriverError{"failed to create changelog lock table", err}
	}
	if err := m.lock.Release(ctx, m.db); err != nil {
		return &DriverError{"failed to release changelog lock", err}
	}
	m.logger.Info("changelog lock released")
	return nil
}
