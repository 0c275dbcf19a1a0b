// Package dialect lowers database independent statements to the SQL of a
// concrete database.
//
// Three dialects are provided: SQLite, PostgreSQL and MySQL. A Dialect is
// immutable; WithQuoting returns a copy using a different quoting strategy.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Names of the supported dialects.
const (
	NameSQLite   = "sqlite"
	NamePostgres = "postgresql"
	NameMySQL    = "mysql"
)

// QuotingStrategy controls when object names are quoted.
type QuotingStrategy string

const (
	// QuoteLegacy quotes names which are reserved words, contain characters
	// outside of [A-Za-z0-9_] or would be case folded by the database.
	QuoteLegacy QuotingStrategy = "LEGACY"
	// QuoteAllObjects quotes every object name.
	QuoteAllObjects QuotingStrategy = "QUOTE_ALL_OBJECTS"
	// QuoteOnlyReservedWords quotes reserved words and names which could not
	// be used unquoted at all.
	QuoteOnlyReservedWords QuotingStrategy = "QUOTE_ONLY_RESERVED_WORDS"
)

// A Dialect generates SQL for one database product.
type Dialect interface {
	// Name returns one of NameSQLite, NamePostgres or NameMySQL.
	Name() string
	// DriverName returns the database/sql driver name.
	DriverName() string
	// Version returns the server version the dialect was created for, which
	// may be empty.
	Version() string
	// Quoting returns the active quoting strategy.
	Quoting() QuotingStrategy
	// Quote quotes ident according to the quoting strategy.
	Quote(ident string) string
	// QuoteName quotes a possibly schema qualified name.
	QuoteName(n Name) string
	// ColumnType maps a generic column type to the dialect's type.
	ColumnType(t string, autoIncrement bool) string
	// Literal renders v as SQL literal.
	Literal(v interface{}) (string, error)
	// Placeholder returns the bind parameter format of the driver.
	Placeholder() sq.PlaceholderFormat
	// Generate lowers stmt into one or more SQL statements.
	Generate(stmt Statement) ([]string, error)
	// SupportsDDLTransactions reports whether DDL can be rolled back.
	SupportsDDLTransactions() bool
	// SupportsSequences reports whether sequences are supported.
	SupportsSequences() bool
	// CurrentUserQuery returns a query selecting the connected user name or
	// an empty string when the database has no users.
	CurrentUserQuery() string
	// TableExistsQuery returns a query counting tables named table in the
	// current schema.
	TableExistsQuery(table string) (string, []interface{})
	// WithQuoting returns a copy of the dialect using strategy s.
	WithQuoting(s QuotingStrategy) Dialect
}

// ByName returns the dialect registered under name.
func ByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite(""), nil
	case "postgres", "postgresql", "pq", "pgx":
		return Postgres(""), nil
	case "mysql", "mariadb":
		return MySQL(""), nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// Detect inspects the driver behind db and returns the matching dialect
// including the server version.
func Detect(ctx context.Context, db *sql.DB) (Dialect, error) {
	var (
		d     Dialect
		query string
	)
	switch db.Driver().(type) {
	case *pq.Driver:
		d, query = Postgres(""), "SHOW server_version"
	case *mysql.MySQLDriver:
		d, query = MySQL(""), "SELECT VERSION()"
	case *sqlite3.SQLiteDriver:
		d, query = SQLite(""), "SELECT sqlite_version()"
	default:
		return nil, fmt.Errorf("unsupported database driver %T", db.Driver())
	}

	var v string
	if err := db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return nil, fmt.Errorf("failed to query %s server version: %w", d.Name(), err)
	}
	// "15.3 (Debian 15.3-1.pgdg120+1)", "8.0.33-0ubuntu0.22.04.2"
	if i := strings.IndexAny(v, " -"); i > 0 {
		v = v[:i]
	}

	switch d.(type) {
	case *postgres:
		return Postgres(v), nil
	case *mysqlDialect:
		return MySQL(v), nil
	default:
		return SQLite(v), nil
	}
}

// UnsupportedError is returned when a dialect cannot express an operation.
type UnsupportedError struct {
	Dialect   string
	Operation string
	Reason    string
}

func (e *UnsupportedError) Error() string {
	msg := e.Operation + " is not supported on " + e.Dialect
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func unsupported(d Dialect, op string) error {
	return &UnsupportedError{Dialect: d.Name(), Operation: op}
}
