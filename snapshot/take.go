package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"
)

// maxConcurrency limits the number of tables introspected at once.
const maxConcurrency = 4

type config struct {
	schema  string
	exclude map[string]bool
	clock   clock.Clock
}

// Option controls what Take captures.
type Option func(*config)

// ExcludeTables leaves the named tables out of the snapshot.
func ExcludeTables(names ...string) Option {
	return func(c *config) {
		for _, n := range names {
			c.exclude[strings.ToLower(n)] = true
		}
	}
}

// WithSchema captures schema instead of the connection's current schema.
// SQLite ignores it.
func WithSchema(schema string) Option {
	return func(c *config) {
		c.schema = schema
	}
}

// WithClock sets the clock stamping Snapshot.Created.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		c.clock = clk
	}
}

// introspector reads the catalog of one database product.
type introspector interface {
	schema(ctx context.Context) (string, error)
	tables(ctx context.Context, schema string) ([]*Table, error)
	describe(ctx context.Context, schema string, t *Table) error
	views(ctx context.Context, schema string) ([]*View, error)
	sequences(ctx context.Context, schema string) ([]*Sequence, error)
}

func introspectorFor(db *sqlx.DB, d dialect.Dialect) (introspector, error) {
	switch d.Name() {
	case dialect.NameSQLite:
		return &sqliteIntrospector{db: db}, nil
	case dialect.NamePostgres:
		return &postgresIntrospector{db: db}, nil
	case dialect.NameMySQL:
		return &mysqlIntrospector{db: db}, nil
	}
	return nil, fmt.Errorf("snapshots are not supported on %s", d.Name())
}

// Take captures the structure of db. Tables are described concurrently.
func Take(ctx context.Context, db *sql.DB, d dialect.Dialect, options ...Option) (*Snapshot, error) {
	cfg := &config{exclude: map[string]bool{}}
	for _, option := range options {
		option(cfg)
	}
	if cfg.clock == nil {
		cfg.clock = clock.New()
	}

	in, err := introspectorFor(sqlx.NewDb(db, d.DriverName()), d)
	if err != nil {
		return nil, err
	}

	schema := cfg.schema
	if schema == "" {
		if schema, err = in.schema(ctx); err != nil {
			return nil, fmt.Errorf("failed to determine current schema: %w", err)
		}
	}

	snap := &Snapshot{
		Dialect: d.Name(),
		Version: d.Version(),
		Schema:  schema,
		Created: cfg.clock.Now().UTC(),
	}

	tables, err := in.tables(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, t := range tables {
		if !cfg.exclude[strings.ToLower(t.Name)] {
			snap.Tables = append(snap.Tables, t)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for _, t := range snap.Tables {
		t := t
		g.Go(func() error {
			if err := in.describe(gctx, schema, t); err != nil {
				return fmt.Errorf("failed to describe table %q: %w", t.Name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		views, err := in.views(gctx, schema)
		if err != nil {
			return fmt.Errorf("failed to list views: %w", err)
		}
		snap.Views = views
		return nil
	})
	g.Go(func() error {
		seqs, err := in.sequences(gctx, schema)
		if err != nil {
			return fmt.Errorf("failed to list sequences: %w", err)
		}
		snap.Sequences = seqs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.sort()
	return snap, nil
}

// normalizeType upper cases t and removes white space inside parentheses.
func normalizeType(t string) string {
	t = strings.ToUpper(strings.Join(strings.Fields(t), " "))
	t = strings.Replace(t, " (", "(", -1)
	t = strings.Replace(t, ", ", ",", -1)
	return t
}

// normalizeSQL collapses white space and drops a trailing semicolon.
func normalizeSQL(s string) string {
	return strings.TrimSuffix(strings.Join(strings.Fields(s), " "), ";")
}

// referentialAction maps catalog action codes to SQL. NO ACTION, the
// default, is empty.
func referentialAction(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "R", "RESTRICT":
		return "RESTRICT"
	case "C", "CASCADE":
		return "CASCADE"
	case "N", "SET NULL":
		return "SET NULL"
	case "D", "SET DEFAULT":
		return "SET DEFAULT"
	}
	return ""
}
