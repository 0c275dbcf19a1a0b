// Package ledger keeps track of changesets which ran against a database
// and of the lock guarding concurrent updates.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/jmoiron/sqlx"
)

const (
	// DefaultTable is the name of the changeset ledger.
	DefaultTable = "databasechangelog"
	// DefaultLockTable is the name of the lock table.
	DefaultLockTable = "databasechangeloglock"
)

// ErrEmpty is returned when the ledger has no rows.
var ErrEmpty = errors.New("no changesets have been executed")

// ExecType records how a changeset was handled.
type ExecType string

const (
	Executed ExecType = "EXECUTED"
	Failed   ExecType = "FAILED"
	Skipped  ExecType = "SKIPPED"
	Reran    ExecType = "RERAN"
	MarkRan  ExecType = "MARK_RAN"
)

// DB is satisfied by *sqlx.DB, *sqlx.Tx and *sqlx.Conn.
type DB interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// RanChangeSet is a row of the ledger.
type RanChangeSet struct {
	ID            string
	Author        string
	Path          string
	DateExecuted  time.Time
	OrderExecuted int
	ExecType      ExecType
	Checksum      string
	Description   string
	Comments      string
	Tag           string
	Version       string
	Contexts      string
	Labels        string
	DeploymentID  string
}

// Identifier returns "path::id::author".
func (r RanChangeSet) Identifier() string {
	return r.Path + "::" + r.ID + "::" + r.Author
}

type row struct {
	ID            string         `db:"id"`
	Author        string         `db:"author"`
	Path          string         `db:"filename"`
	DateExecuted  time.Time      `db:"dateexecuted"`
	OrderExecuted int            `db:"orderexecuted"`
	ExecType      string         `db:"exectype"`
	Checksum      sql.NullString `db:"md5sum"`
	Description   sql.NullString `db:"description"`
	Comments      sql.NullString `db:"comments"`
	Tag           sql.NullString `db:"tag"`
	Version       sql.NullString `db:"version"`
	Contexts      sql.NullString `db:"contexts"`
	Labels        sql.NullString `db:"labels"`
	DeploymentID  sql.NullString `db:"deployment_id"`
}

var columns = []string{
	"id", "author", "filename", "dateexecuted", "orderexecuted", "exectype", "md5sum",
	"description", "comments", "tag", "version", "contexts", "labels", "deployment_id",
}

// History reads and writes the ledger table. Reads run directly, writes
// are returned as statements so they can be executed or written as SQL.
type History struct {
	d       dialect.Dialect
	table   string
	version string
}

// NewHistory returns the ledger stored in table. version is recorded in
// every row.
func NewHistory(d dialect.Dialect, table, version string) *History {
	if table == "" {
		table = DefaultTable
	}
	return &History{d: d, table: table, version: version}
}

// Table returns the name of the ledger table.
func (h *History) Table() string { return h.table }

func (h *History) name() string { return h.d.QuoteName(dialect.N(h.table)) }

func (h *History) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(h.d.Placeholder())
}

// Initialized reports whether the ledger table exists.
func (h *History) Initialized(ctx context.Context, db DB) (bool, error) {
	return tableExists(ctx, db, h.d, h.table)
}

func tableExists(ctx context.Context, db DB, d dialect.Dialect, table string) (bool, error) {
	query, args := d.TableExistsQuery(table)
	var n int
	if err := sqlx.GetContext(ctx, db, &n, query, args...); err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", table, err)
	}
	return n > 0, nil
}

// InitStatements returns the statements creating the ledger table.
func (h *History) InitStatements() []dialect.Statement {
	return []dialect.Statement{&dialect.CreateTable{
		Table: dialect.N(h.table),
		Columns: []dialect.ColumnDef{
			{Name: "id", Type: "varchar(255)", NotNull: true},
			{Name: "author", Type: "varchar(255)", NotNull: true},
			{Name: "filename", Type: "varchar(255)", NotNull: true},
			{Name: "dateexecuted", Type: "datetime", NotNull: true},
			{Name: "orderexecuted", Type: "int", NotNull: true},
			{Name: "exectype", Type: "varchar(10)", NotNull: true},
			{Name: "md5sum", Type: "varchar(35)"},
			{Name: "description", Type: "varchar(255)"},
			{Name: "comments", Type: "varchar(255)"},
			{Name: "tag", Type: "varchar(255)"},
			{Name: "version", Type: "varchar(20)"},
			{Name: "contexts", Type: "varchar(255)"},
			{Name: "labels", Type: "varchar(255)"},
			{Name: "deployment_id", Type: "varchar(36)"},
		},
	}}
}

// Init creates the ledger table unless it exists.
func (h *History) Init(ctx context.Context, db DB) error {
	ok, err := h.Initialized(ctx, db)
	if err != nil || ok {
		return err
	}
	return run(ctx, db, h.d, h.InitStatements()...)
}

// List returns all rows in execution order.
func (h *History) List(ctx context.Context, db DB) ([]RanChangeSet, error) {
	query, args, err := h.builder().Select(columns...).From(h.name()).OrderBy("orderexecuted", "dateexecuted").ToSql()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", h.table, err)
	}
	ran := make([]RanChangeSet, len(rows))
	for i, r := range rows {
		ran[i] = RanChangeSet{
			ID:            r.ID,
			Author:        r.Author,
			Path:          r.Path,
			DateExecuted:  r.DateExecuted,
			OrderExecuted: r.OrderExecuted,
			ExecType:      ExecType(r.ExecType),
			Checksum:      r.Checksum.String,
			Description:   r.Description.String,
			Comments:      r.Comments.String,
			Tag:           r.Tag.String,
			Version:       r.Version.String,
			Contexts:      r.Contexts.String,
			Labels:        r.Labels.String,
			DeploymentID:  r.DeploymentID.String,
		}
	}
	return ran, nil
}

// Last returns the most recently executed row or ErrEmpty.
func (h *History) Last(ctx context.Context, db DB) (*RanChangeSet, error) {
	ran, err := h.List(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(ran) == 0 {
		return nil, ErrEmpty
	}
	return &ran[len(ran)-1], nil
}

// TagExists reports whether a row carries tag.
func (h *History) TagExists(ctx context.Context, db DB, tag string) (bool, error) {
	query, args, err := h.builder().Select("COUNT(*)").From(h.name()).Where(sq.Eq{"tag": tag}).ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := sqlx.GetContext(ctx, db, &n, query, args...); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", h.table, err)
	}
	return n > 0, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// InsertStatement records r.
func (h *History) InsertStatement(r RanChangeSet) dialect.Statement {
	return &dialect.Insert{
		Table:   dialect.N(h.table),
		Columns: columns,
		Values: []interface{}{
			r.ID, r.Author, r.Path, r.DateExecuted.UTC(), r.OrderExecuted, string(r.ExecType),
			nullable(r.Checksum), truncate(r.Description), truncate(r.Comments), nullable(r.Tag),
			nullable(h.version), nullable(r.Contexts), nullable(r.Labels), nullable(r.DeploymentID),
		},
	}
}

// RerunStatement updates the row of a changeset which ran again.
func (h *History) RerunStatement(r RanChangeSet) dialect.Statement {
	return &dialect.Update{
		Table: dialect.N(h.table),
		Set: []dialect.Assignment{
			{Column: "dateexecuted", Value: r.DateExecuted.UTC()},
			{Column: "orderexecuted", Value: r.OrderExecuted},
			{Column: "md5sum", Value: nullable(r.Checksum)},
			{Column: "exectype", Value: string(Reran)},
			{Column: "deployment_id", Value: nullable(r.DeploymentID)},
		},
		Where: h.match(r),
	}
}

// DeleteStatement removes the row of r.
func (h *History) DeleteStatement(r RanChangeSet) dialect.Statement {
	return &dialect.Delete{Table: dialect.N(h.table), Where: h.match(r)}
}

// TagStatement sets the tag of the row of r.
func (h *History) TagStatement(r RanChangeSet, tag string) dialect.Statement {
	return &dialect.Update{
		Table: dialect.N(h.table),
		Set:   []dialect.Assignment{{Column: "tag", Value: tag}},
		Where: h.match(r),
	}
}

// UpdateChecksumStatement stores sum for the row of r.
func (h *History) UpdateChecksumStatement(r RanChangeSet, sum string) dialect.Statement {
	return &dialect.Update{
		Table: dialect.N(h.table),
		Set:   []dialect.Assignment{{Column: "md5sum", Value: sum}},
		Where: h.match(r),
	}
}

// ClearChecksumsStatement removes all checksums. They are recomputed on
// the next update.
func (h *History) ClearChecksumsStatement() dialect.Statement {
	return &dialect.Update{
		Table: dialect.N(h.table),
		Set:   []dialect.Assignment{{Column: "md5sum", Value: nil}},
	}
}

func (h *History) match(r RanChangeSet) string {
	conds := make([]string, 0, 3)
	for _, c := range []struct{ col, val string }{{"id", r.ID}, {"author", r.Author}, {"filename", r.Path}} {
		lit, _ := h.d.Literal(c.val)
		conds = append(conds, h.d.Quote(c.col)+" = "+lit)
	}
	return strings.Join(conds, " AND ")
}

// truncate shortens s to fit a varchar(255) column, which counts
// characters.
func truncate(s string) interface{} {
	if utf8.RuneCountInString(s) > 255 {
		s = string([]rune(s)[:252]) + "..."
	}
	return nullable(s)
}

// run generates and executes stmts.
func run(ctx context.Context, db DB, d dialect.Dialect, stmts ...dialect.Statement) error {
	for _, stmt := range stmts {
		sqls, err := d.Generate(stmt)
		if err != nil {
			return err
		}
		for _, s := range sqls {
			if _, err := db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("failed to execute %q: %w", s, err)
			}
		}
	}
	return nil
}
