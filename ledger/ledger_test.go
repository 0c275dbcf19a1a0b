package ledger

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(t *testing.T, db DB, d dialect.Dialect, stmts ...dialect.Statement) {
	t.Helper()
	require.NoError(t, run(context.Background(), db, d, stmts...))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := dialect.SQLite("")
	h := NewHistory(d, "", "1.0.0")
	require.Equal(t, DefaultTable, h.Table())

	ok, err := h.Initialized(ctx, db)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, h.Init(ctx, db))
	require.NoError(t, h.Init(ctx, db), "init twice")
	ok, err = h.Initialized(ctx, db)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Last(ctx, db)
	require.ErrorIs(t, err, ErrEmpty)

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	first := RanChangeSet{
		ID: "1", Author: "alice", DateExecuted: at, OrderExecuted: 1, ExecType: Executed,
		Checksum: "1:abc", Description: "createTable", DeploymentID: "dep",
	}
	second := RanChangeSet{
		ID: "2", Author: "alice", Path: "db/a.yaml", DateExecuted: at, OrderExecuted: 2, ExecType: MarkRan,
		Tag: "v1", Contexts: "test", Labels: "a,b", DeploymentID: "dep",
	}
	exec(t, db, d, h.InsertStatement(second), h.InsertStatement(first))

	ran, err := h.List(ctx, db)
	require.NoError(t, err)
	require.Len(t, ran, 2)
	require.Equal(t, "::1::alice", ran[0].Identifier())
	require.Equal(t, "db/a.yaml::2::alice", ran[1].Identifier())
	require.True(t, at.Equal(ran[0].DateExecuted))
	require.Equal(t, "1.0.0", ran[0].Version)
	require.Equal(t, Executed, ran[0].ExecType)
	require.Equal(t, MarkRan, ran[1].ExecType)
	require.Equal(t, "v1", ran[1].Tag)
	require.Empty(t, ran[0].Tag)
	require.Equal(t, "a,b", ran[1].Labels)

	ok, err = h.TagExists(ctx, db, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.TagExists(ctx, db, "v2")
	require.NoError(t, err)
	require.False(t, ok)

	last, err := h.Last(ctx, db)
	require.NoError(t, err)
	exec(t, db, d, h.TagStatement(*last, "v2"), h.UpdateChecksumStatement(*last, "1:def"))
	last, err = h.Last(ctx, db)
	require.NoError(t, err)
	require.Equal(t, "v2", last.Tag)
	require.Equal(t, "1:def", last.Checksum)

	rerun := first
	rerun.OrderExecuted = 3
	rerun.Checksum = "1:new"
	exec(t, db, d, h.RerunStatement(rerun))
	last, err = h.Last(ctx, db)
	require.NoError(t, err)
	require.Equal(t, "1", last.ID)
	require.Equal(t, Reran, last.ExecType)
	require.Equal(t, "1:new", last.Checksum)

	exec(t, db, d, h.ClearChecksumsStatement())
	ran, err = h.List(ctx, db)
	require.NoError(t, err)
	for _, r := range ran {
		require.Empty(t, r.Checksum)
	}

	exec(t, db, d, h.DeleteStatement(first))
	ran, err = h.List(ctx, db)
	require.NoError(t, err)
	require.Len(t, ran, 1)
	require.Equal(t, "2", ran[0].ID)
}

func Test_truncate(t *testing.T) {
	require.Nil(t, truncate(""))
	require.Equal(t, "short", truncate("short"))

	fits := strings.Repeat("ä", 255)
	require.Equal(t, fits, truncate(fits))

	got, ok := truncate("x" + strings.Repeat("ä", 300)).(string)
	require.True(t, ok)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 255, utf8.RuneCountInString(got))
	require.Equal(t, "x"+strings.Repeat("ä", 251)+"...", got)
}

func TestHistoryStatements(t *testing.T) {
	h := NewHistory(dialect.Postgres(""), "changes", "")
	sql, err := dialect.Postgres("").Generate(h.DeleteStatement(RanChangeSet{ID: "1", Author: "o'neil", Path: "a.yaml"}))
	require.NoError(t, err)
	require.Equal(t, []string{"DELETE FROM changes WHERE id = '1' AND author = 'o''neil' AND filename = 'a.yaml'"}, sql)

	sql, err = dialect.Postgres("").Generate(h.ClearChecksumsStatement())
	require.NoError(t, err)
	require.Equal(t, []string{"UPDATE changes SET md5sum = NULL"}, sql)
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := dialect.SQLite("")
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	l := NewLock(d, "", WithClock(clk), WithWait(0, time.Second))
	require.Equal(t, DefaultLockTable, l.Table())
	require.Regexp(t, `^.+ \([0-9a-f-]{36}\)$`, l.Owner())

	require.NoError(t, l.Init(ctx, db))
	require.NoError(t, l.Init(ctx, db), "init twice")

	locks, err := l.List(ctx, db)
	require.NoError(t, err)
	require.Empty(t, locks)

	require.NoError(t, l.Acquire(ctx, db))
	locks, err = l.List(ctx, db)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.Equal(t, l.Owner(), locks[0].LockedBy)
	require.True(t, clk.Now().Equal(locks[0].Granted))

	other := NewLock(d, "", WithClock(clk), WithWait(0, time.Second), WithOwner("other"))
	err = other.Acquire(ctx, db)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, l.Owner(), lockErr.LockedBy)
	require.Contains(t, err.Error(), "2024-01-01T00:00:00Z")

	require.NoError(t, l.Release(ctx, db))
	locks, err = l.List(ctx, db)
	require.NoError(t, err)
	require.Empty(t, locks)
	require.NoError(t, other.Acquire(ctx, db))
}

// concurrentDB creates the lock table and row right before the first
// CREATE TABLE runs, as a second process starting at the same time would.
type concurrentDB struct {
	*sqlx.DB
	first func()
}

func (db *concurrentDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if db.first != nil && strings.HasPrefix(query, "CREATE TABLE") {
		db.first()
		db.first = nil
	}
	return db.DB.ExecContext(ctx, query, args...)
}

func TestLockInitConcurrent(t *testing.T) {
	ctx := context.Background()
	raw := openDB(t)
	d := dialect.SQLite("")
	l := NewLock(d, "")

	db := &concurrentDB{DB: raw, first: func() { exec(t, raw, d, l.InitStatements()...) }}
	require.NoError(t, l.Init(ctx, db))
	require.Nil(t, db.first)

	var n int
	require.NoError(t, raw.GetContext(ctx, &n, "SELECT COUNT(*) FROM databasechangeloglock"))
	require.Equal(t, 1, n)
	require.NoError(t, l.Acquire(ctx, db))
}

func TestLockWait(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	d := dialect.SQLite("")

	holder := NewLock(d, "", WithOwner("holder"))
	require.NoError(t, holder.Init(ctx, db))
	require.NoError(t, holder.Acquire(ctx, db))

	waiter := NewLock(d, "", WithWait(50*time.Millisecond, 10*time.Millisecond))
	start := time.Now()
	err := waiter.Acquire(ctx, db)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, "holder", lockErr.LockedBy)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	waiter = NewLock(d, "", WithWait(time.Minute, 10*time.Millisecond))
	require.ErrorIs(t, waiter.Acquire(cancelled, db), context.Canceled)
}
