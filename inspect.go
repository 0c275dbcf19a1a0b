package mikrator

import (
	"context"
	"database/sql"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Snapshot captures the structure of the database. The ledger and lock
// tables are left out.
func (m *Mikrator) Snapshot(ctx context.Context, options ...snapshot.Option) (*snapshot.Snapshot, error) {
	return m.snapshot(ctx, m.db.DB, m.dialect, options...)
}

func (m *Mikrator) snapshot(ctx context.Context, db *sql.DB, d dialect.Dialect, options ...snapshot.Option) (*snapshot.Snapshot, error) {
	options = append([]snapshot.Option{
		snapshot.ExcludeTables(m.table, m.lockTable),
		snapshot.WithClock(m.clock),
	}, options...)
	snap, err := snapshot.Take(ctx, db, d, options...)
	if err != nil {
		return nil, &DriverError{"failed to take database snapshot", err}
	}
	m.logger.Debug("snapshot taken",
		zap.String("dialect", d.Name()), zap.Int("tables", len(snap.Tables)), zap.Int("views", len(snap.Views)))
	return snap, nil
}

// Diff compares two snapshots. Missing objects exist only in reference,
// unexpected objects only in comparison.
func (m *Mikrator) Diff(reference, comparison *snapshot.Snapshot) *snapshot.DiffResult {
	return snapshot.Compare(reference, comparison)
}

// DiffDatabase compares the database reference is connected to with the
// database of m. Both are captured concurrently.
func (m *Mikrator) DiffDatabase(ctx context.Context, reference *sql.DB) (*snapshot.DiffResult, error) {
	var ref, cmp *snapshot.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := dialect.Detect(gctx, reference)
		if err != nil {
			return err
		}
		ref, err = m.snapshot(gctx, reference, d)
		return err
	})
	g.Go(func() error {
		var err error
		cmp, err = m.Snapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshot.Compare(ref, cmp), nil
}

// DiffChangeLog returns the changelog which makes the database of m look
// like the database reference is connected to.
func (m *Mikrator) DiffChangeLog(ctx context.Context, reference *sql.DB, author string) (*changelog.ChangeLog, error) {
	diff, err := m.DiffDatabase(ctx, reference)
	if err != nil {
		return nil, err
	}
	return m.changeLogFromDiff(diff, author), nil
}

// GenerateChangeLog returns a changelog which recreates the structure of
// the database.
func (m *Mikrator) GenerateChangeLog(ctx context.Context, author string) (*changelog.ChangeLog, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	empty := &snapshot.Snapshot{Dialect: snap.Dialect, Version: snap.Version, Schema: snap.Schema, Created: snap.Created}
	return m.changeLogFromDiff(snapshot.Compare(snap, empty), author), nil
}
