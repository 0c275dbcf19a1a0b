package mikrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Version is recorded in every ledger row.
const Version = "1.0.0"

// A Mikrator runs changelogs against a single database.
//
// The database handle is owned by the caller. Close releases what Mikrator
// holds but leaves db open.
type Mikrator struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	logger  *zap.Logger
	clock   clock.Clock
	out     io.Writer
	errOut  io.Writer
	fs      afero.Fs

	table           string
	lockTable       string
	lockWait        time.Duration
	lockPoll        time.Duration
	lockOwner       string
	allowDuplicates bool

	history *ledger.History
	lock    *ledger.Lock
}

// New returns a Mikrator for db. The dialect is detected from the driver
// of db unless WithDialect is given.
func New(db *sql.DB, options ...Option) (*Mikrator, error) {
	m := &Mikrator{lockWait: ledger.DefaultWait, lockPoll: ledger.DefaultPollRate}

	for _, option := range options {
		option(m)
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	if m.errOut == nil {
		m.errOut = os.Stderr
	}
	if m.fs == nil {
		m.fs = afero.NewOsFs()
	}
	if m.table == "" {
		m.table = ledger.DefaultTable
	}
	if m.lockTable == "" {
		m.lockTable = ledger.DefaultLockTable
	}
	if m.dialect == nil {
		d, err := dialect.Detect(context.Background(), db)
		if err != nil {
			return nil, err
		}
		m.dialect = d
	}

	m.db = sqlx.NewDb(db, m.dialect.DriverName())
	m.history = ledger.NewHistory(m.dialect, m.table, Version)
	lockOptions := []ledger.LockOption{ledger.WithClock(m.clock), ledger.WithWait(m.lockWait, m.lockPoll)}
	if m.lockOwner != "" {
		lockOptions = append(lockOptions, ledger.WithOwner(m.lockOwner))
	}
	m.lock = ledger.NewLock(m.dialect, m.lockTable, lockOptions...)

	return m, nil
}

// Dialect returns the dialect SQL is generated for.
func (m *Mikrator) Dialect() dialect.Dialect { return m.dialect }

// Close flushes the logger. The database handle passed to New is not
// closed. Consoles which cannot be synced are not an error.
func (m *Mikrator) Close() error {
	var err error
	for _, e := range multierr.Errors(m.logger.Sync()) {
		if errors.Is(e, syscall.EINVAL) || errors.Is(e, syscall.ENOTTY) {
			continue
		}
		err = multierr.Append(err, e)
	}
	return err
}

// initialize creates the ledger table unless it exists. It runs while the
// lock is held.
func (m *Mikrator) initialize(ctx context.Context) error {
	exist, err := m.history.Initialized(ctx, m.db)
	if err != nil {
		return &DriverError{"failed to verify existence of changelog table", err}
	}
	if !exist {
		if err := m.history.Init(ctx, m.db); err != nil {
			return &DriverError{"failed to create changelog table", err}
		}
		m.logger.Info("changelog table created", zap.String("table", m.table))
	}
	return nil
}

// locked runs fn while holding the changelog lock. The ledger table is
// created once the lock is taken.
func (m *Mikrator) locked(ctx context.Context, fn func() error) (err error) {
	if err := m.lock.Init(ctx, m.db); err != nil {
		return &DriverError{"failed to create changelog lock table", err}
	}
	if err := m.lock.Acquire(ctx, m.db); err != nil {
		return err
	}
	m.logger.Debug("changelog lock acquired", zap.String("owner", m.lock.Owner()))
	defer func() {
		if rerr := m.lock.Release(context.Background(), m.db); rerr != nil {
			m.logger.Error("failed to release changelog lock", zap.Error(rerr))
			err = multierr.Append(err, rerr)
			return
		}
		m.logger.Debug("changelog lock released")
	}()
	if err := m.initialize(ctx); err != nil {
		return err
	}
	return fn()
}

// ran returns the ledger rows. A missing ledger has no rows.
func (m *Mikrator) ran(ctx context.Context) ([]ledger.RanChangeSet, error) {
	exist, err := m.history.Initialized(ctx, m.db)
	if err != nil {
		return nil, &DriverError{"failed to verify existence of changelog table", err}
	}
	if !exist {
		return []ledger.RanChangeSet{}, nil
	}
	ran, err := m.history.List(ctx, m.db)
	if err != nil {
		return nil, &DriverError{"failed to query executed changesets", err}
	}
	return ran, nil
}

// exec generates and executes stmts on db.
func (m *Mikrator) exec(ctx context.Context, db sqlx.ExecerContext, stmts ...dialect.Statement) error {
	for _, stmt := range stmts {
		sqls, err := m.dialect.Generate(stmt)
		if err != nil {
			return err
		}
		for _, s := range sqls {
			m.logger.Debug("executing statement", zap.String("sql", s))
			if _, err := db.ExecContext(ctx, s); err != nil {
				return &DriverError{fmt.Sprintf("failed to execute SQL statement %q", strings.Join(strings.Fields(s), " ")), err}
			}
		}
	}
	return nil
}

// transaction is a utility function to execute SQL inside a transaction
//
// see: https://stackoverflow.com/a/23502629
func transaction(ctx context.Context, db *sqlx.DB, logger *zap.Logger, txFunc func(*sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return &DriverError{"failed to begin db transaction", err}
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(); err != nil {
				logger.Error("failed to roll back transaction", zap.Error(err))
			}
			panic(p) // re-throw panic after Rollback
		} else if err != nil {
			// err is non-nil; don't change it
			if err := tx.Rollback(); err != nil {
				logger.Error("failed to roll back transaction", zap.Error(err))
			}
		} else {
			if cerr := tx.Commit(); cerr != nil {
				err = &DriverError{"failed to commit db transaction", cerr}
			}
		}
	}()

	err = txFunc(tx)

	return err
}

// logCloser is a convenience logger for deferred execution.
//
//	file, _ := fs.Open("some/file")
//	defer logCloser(file, logger)
func logCloser(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("failed to close handle", zap.Error(err))
	}
}

// Option controls some aspects of Mikrator behavior.
type Option func(*Mikrator)

// WithDialect skips dialect detection.
func WithDialect(d dialect.Dialect) Option {
	return func(m *Mikrator) {
		m.dialect = d
	}
}

// WithLogger tells New to use the provided logger for internal logging.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mikrator) {
		m.logger = logger
	}
}

// WithChangeLogTable tells New to use the provided name for the ledger of
// executed changesets.
func WithChangeLogTable(name string) Option {
	return func(m *Mikrator) {
		m.table = name
	}
}

// WithLockTable tells New to use the provided name for the lock table.
func WithLockTable(name string) Option {
	return func(m *Mikrator) {
		m.lockTable = name
	}
}

// WithLockWait sets how long to wait for a held lock and how often to check
// it in the meantime.
func WithLockWait(wait, poll time.Duration) Option {
	return func(m *Mikrator) {
		m.lockWait = wait
		m.lockPoll = poll
	}
}

// WithLockOwner overrides the name recorded as lock holder.
func WithLockOwner(owner string) Option {
	return func(m *Mikrator) {
		m.lockOwner = owner
	}
}

// WithClock sets the clock for execution dates and lock timestamps.
func WithClock(clk clock.Clock) Option {
	return func(m *Mikrator) {
		m.clock = clk
	}
}

// WithOutput sets where output changes with target STDOUT and summaries
// are written. It defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Mikrator) {
		m.out = w
	}
}

// WithErrorOutput sets where output changes with target STDERR are
// written. It defaults to os.Stderr.
func WithErrorOutput(w io.Writer) Option {
	return func(m *Mikrator) {
		m.errOut = w
	}
}

// WithFs sets the file system DBDoc writes to.
func WithFs(fs afero.Fs) Option {
	return func(m *Mikrator) {
		m.fs = fs
	}
}

// WithAllowDuplicatedChangeSetIdentifiers accepts changelogs containing the
// same changeset identifier more than once. Only the first one runs.
func WithAllowDuplicatedChangeSetIdentifiers() Option {
	return func(m *Mikrator) {
		m.allowDuplicates = true
	}
}
