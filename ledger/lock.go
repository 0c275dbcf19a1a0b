package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultWait is how long Acquire waits for a held lock.
	DefaultWait = 5 * time.Minute
	// DefaultPollRate is how often Acquire checks a held lock.
	DefaultPollRate = 10 * time.Second
)

// LockError is returned when the lock is held by someone else.
type LockError struct {
	LockedBy string
	Granted  time.Time
}

func (e *LockError) Error() string {
	if e.Granted.IsZero() {
		return "could not acquire change log lock, currently locked by " + e.LockedBy
	}
	return fmt.Sprintf("could not acquire change log lock, currently locked by %s since %s",
		e.LockedBy, e.Granted.Format(time.RFC3339))
}

// LockInfo describes a held lock.
type LockInfo struct {
	ID       int
	LockedBy string
	Granted  time.Time
}

// Lock is a single row table which serializes updates across processes.
type Lock struct {
	d     dialect.Dialect
	table string
	clock clock.Clock
	owner string
	wait  time.Duration
	poll  time.Duration
}

// LockOption configures a Lock.
type LockOption func(*Lock)

// WithWait sets how long Acquire waits and how often it polls.
func WithWait(wait, poll time.Duration) LockOption {
	return func(l *Lock) {
		l.wait = wait
		l.poll = poll
	}
}

// WithClock sets the clock used for lock timestamps and polling.
func WithClock(clk clock.Clock) LockOption {
	return func(l *Lock) {
		l.clock = clk
	}
}

// WithOwner overrides the lock owner, which defaults to
// "hostname (random id)".
func WithOwner(owner string) LockOption {
	return func(l *Lock) {
		l.owner = owner
	}
}

// NewLock returns the lock stored in table.
func NewLock(d dialect.Dialect, table string, options ...LockOption) *Lock {
	l := &Lock{d: d, table: table, wait: DefaultWait, poll: DefaultPollRate}
	for _, option := range options {
		option(l)
	}
	if l.table == "" {
		l.table = DefaultLockTable
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.owner == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		l.owner = host + " (" + uuid.New().String() + ")"
	}
	if l.poll <= 0 {
		l.poll = DefaultPollRate
	}
	return l
}

// Owner returns the name recorded when the lock is acquired.
func (l *Lock) Owner() string { return l.owner }

// Table returns the name of the lock table.
func (l *Lock) Table() string { return l.table }

func (l *Lock) name() string { return l.d.QuoteName(dialect.N(l.table)) }

func (l *Lock) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(l.d.Placeholder())
}

// InitStatements returns the statements creating the lock table and its
// row.
func (l *Lock) InitStatements() []dialect.Statement {
	return []dialect.Statement{
		&dialect.CreateTable{
			Table: dialect.N(l.table),
			Columns: []dialect.ColumnDef{
				{Name: "id", Type: "int", NotNull: true, PrimaryKey: true},
				{Name: "locked", Type: "boolean", NotNull: true},
				{Name: "lockgranted", Type: "datetime"},
				{Name: "lockedby", Type: "varchar(255)"},
			},
		},
		&dialect.Insert{Table: dialect.N(l.table), Columns: []string{"id", "locked"}, Values: []interface{}{1, false}},
	}
}

// Init creates the lock table and its row unless they exist. Another
// process creating them at the same time is not an error.
func (l *Lock) Init(ctx context.Context, db DB) error {
	ok, err := tableExists(ctx, db, l.d, l.table)
	if err != nil {
		return err
	}
	if !ok {
		cerr := run(ctx, db, l.d, l.InitStatements()[0])
		if cerr != nil {
			if ok, err := tableExists(ctx, db, l.d, l.table); err != nil || !ok {
				return cerr
			}
		}
	}
	n, err := l.rows(ctx, db)
	if err != nil || n > 0 {
		return err
	}
	if ierr := run(ctx, db, l.d, l.InitStatements()[1]); ierr != nil {
		if n, err := l.rows(ctx, db); err != nil || n == 0 {
			return ierr
		}
	}
	return nil
}

func (l *Lock) rows(ctx context.Context, db DB) (int, error) {
	query, args, err := l.builder().Select("COUNT(*)").From(l.name()).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlx.GetContext(ctx, db, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", l.table, err)
	}
	return n, nil
}

// Acquire takes the lock. A held lock is polled until it is released or
// the wait time passed, in which case a *LockError names the holder.
func (l *Lock) Acquire(ctx context.Context, db DB) error {
	start := l.clock.Now()
	for {
		ok, err := l.try(ctx, db)
		if err != nil || ok {
			return err
		}
		if l.clock.Since(start) >= l.wait {
			return l.holder(ctx, db)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(l.poll):
		}
	}
}

func (l *Lock) try(ctx context.Context, db DB) (bool, error) {
	query, args, err := l.builder().Update(l.name()).
		Set("locked", true).
		Set("lockgranted", l.clock.Now().UTC()).
		Set("lockedby", l.owner).
		Where(sq.Eq{"id": 1, "locked": false}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *Lock) holder(ctx context.Context, db DB) error {
	query, args, err := l.builder().Select("lockedby", "lockgranted").From(l.name()).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return err
	}
	var h struct {
		LockedBy sql.NullString `db:"lockedby"`
		Granted  sql.NullTime   `db:"lockgranted"`
	}
	if err := sqlx.GetContext(ctx, db, &h, query, args...); err != nil {
		return fmt.Errorf("failed to read lock holder: %w", err)
	}
	return &LockError{LockedBy: h.LockedBy.String, Granted: h.Granted.Time}
}

// Release frees the lock regardless of who holds it.
func (l *Lock) Release(ctx context.Context, db DB) error {
	query, args, err := l.builder().Update(l.name()).
		Set("locked", false).
		Set("lockgranted", nil).
		Set("lockedby", nil).
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// List returns the held locks.
func (l *Lock) List(ctx context.Context, db DB) ([]LockInfo, error) {
	query, args, err := l.builder().Select("id", "lockedby", "lockgranted").From(l.name()).Where(sq.Eq{"locked": true}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID       int            `db:"id"`
		LockedBy sql.NullString `db:"lockedby"`
		Granted  sql.NullTime   `db:"lockgranted"`
	}
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list locks: %w", err)
	}
	locks := make([]LockInfo, len(rows))
	for i, r := range rows {
		locks[i] = LockInfo{ID: r.ID, LockedBy: r.LockedBy.String, Granted: r.Granted.Time}
	}
	return locks, nil
}
