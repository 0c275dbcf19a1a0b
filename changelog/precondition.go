package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/snapshot"
)

// FailOption decides what happens when a precondition fails.
type FailOption string

// ErrorOption decides what happens when checking a precondition errors.
type ErrorOption = FailOption

const (
	// Halt stops the update.
	Halt FailOption = "HALT"
	// Continue skips the changeset and tries again on the next update.
	Continue FailOption = "CONTINUE"
	// MarkRan skips the changeset and records it as ran.
	MarkRan FailOption = "MARK_RAN"
	// Warn logs a warning and runs the changeset anyway.
	Warn FailOption = "WARN"
)

// SQLOutputOption decides how preconditions are handled when SQL is
// written instead of executed.
type SQLOutputOption string

const (
	// IgnoreInSQLOutput treats preconditions as passed.
	IgnoreInSQLOutput SQLOutputOption = "IGNORE"
	// TestInSQLOutput checks preconditions against the database.
	TestInSQLOutput SQLOutputOption = "TEST"
	// FailInSQLOutput fails as if a precondition failed.
	FailInSQLOutput SQLOutputOption = "FAIL"
)

// Database is what preconditions check against.
type Database interface {
	Dialect() dialect.Dialect
	// Snapshot returns the current structure of the database.
	Snapshot(ctx context.Context) (*snapshot.Snapshot, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	// ChangeSetRan reports whether the changeset is recorded in the ledger.
	ChangeSetRan(path, id, author string) bool
	// Property returns the value of a changelog property.
	Property(name string) (string, bool)
	Expand(s string) string
	CurrentUser(ctx context.Context) (string, error)
	// QuotingStrategy returns the strategy in effect for the checked
	// changeset.
	QuotingStrategy() dialect.QuotingStrategy
}

// A Precondition checks the database. Check returns nil when it holds, a
// *Failure when it does not and any other error when it could not be
// checked.
type Precondition interface {
	Name() string
	Check(ctx context.Context, db Database) error
}

// Failure is returned by a precondition which does not hold.
type Failure struct {
	Precondition string
	Message      string
}

func (f *Failure) Error() string { return f.Precondition + ": " + f.Message }

func fail(p Precondition, format string, args ...interface{}) error {
	return &Failure{Precondition: p.Name(), Message: fmt.Sprintf(format, args...)}
}

// IsFailure reports whether err is a precondition failure as opposed to an
// error while checking.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Conditions is a list of preconditions. Each is encoded as an object keyed
// by its name.
type Conditions []Precondition

func (c Conditions) MarshalJSON() ([]byte, error) {
	out := make([]map[string]Precondition, len(c))
	for i, p := range c {
		out[i] = map[string]Precondition{p.Name(): p}
	}
	return json.Marshal(out)
}

// Preconditions is the root of a precondition tree. All conditions must
// hold.
type Preconditions struct {
	OnFail         FailOption      `json:"onFail,omitempty"`
	OnFailMessage  string          `json:"onFailMessage,omitempty"`
	OnError        ErrorOption     `json:"onError,omitempty"`
	OnErrorMessage string          `json:"onErrorMessage,omitempty"`
	OnSQLOutput    SQLOutputOption `json:"onSqlOutput,omitempty"`
	Conditions     Conditions      `json:"conditions"`
}

// Require returns preconditions halting on failure and error.
func Require(conditions ...Precondition) *Preconditions {
	return &Preconditions{OnFail: Halt, OnError: Halt, Conditions: conditions}
}

// FailAction returns OnFail or HALT.
func (p *Preconditions) FailAction() FailOption {
	if p.OnFail == "" {
		return Halt
	}
	return p.OnFail
}

// ErrorAction returns OnError or HALT.
func (p *Preconditions) ErrorAction() ErrorOption {
	if p.OnError == "" {
		return Halt
	}
	return p.OnError
}

// SQLOutputAction returns OnSQLOutput or IGNORE.
func (p *Preconditions) SQLOutputAction() SQLOutputOption {
	if p.OnSQLOutput == "" {
		return IgnoreInSQLOutput
	}
	return p.OnSQLOutput
}

// Check checks every condition. Failures carry OnFailMessage and errors
// OnErrorMessage when those are set.
func (p *Preconditions) Check(ctx context.Context, db Database) error {
	if p == nil {
		return nil
	}
	err := And{Conditions: p.Conditions}.Check(ctx, db)
	switch {
	case err == nil:
		return nil
	case IsFailure(err):
		if p.OnFailMessage != "" {
			return &Failure{Precondition: "preconditions", Message: db.Expand(p.OnFailMessage)}
		}
	case p.OnErrorMessage != "":
		return fmt.Errorf("%s: %w", db.Expand(p.OnErrorMessage), err)
	}
	return err
}

// And holds when all conditions hold.
type And struct {
	Conditions Conditions `json:"conditions"`
}

func (And) Name() string { return "and" }

func (a And) Check(ctx context.Context, db Database) error {
	for _, c := range a.Conditions {
		if err := c.Check(ctx, db); err != nil {
			return err
		}
	}
	return nil
}

// Or holds when any condition holds.
type Or struct {
	Conditions Conditions `json:"conditions"`
}

func (Or) Name() string { return "or" }

func (o Or) Check(ctx context.Context, db Database) error {
	var failures []string
	for _, c := range o.Conditions {
		err := c.Check(ctx, db)
		if err == nil {
			return nil
		}
		if !IsFailure(err) {
			return err
		}
		failures = append(failures, err.Error())
	}
	if len(failures) == 0 {
		return nil
	}
	return fail(o, "none of the conditions held: %s", strings.Join(failures, "; "))
}

// Not holds when none of the conditions hold.
type Not struct {
	Conditions Conditions `json:"conditions"`
}

func (Not) Name() string { return "not" }

func (n Not) Check(ctx context.Context, db Database) error {
	for _, c := range n.Conditions {
		err := c.Check(ctx, db)
		if err == nil {
			return fail(n, "%s held", c.Name())
		}
		if !IsFailure(err) {
			return err
		}
	}
	return nil
}

// ChangeLogPropertyDefined holds when Property is defined and, if Value is
// set, equals Value.
type ChangeLogPropertyDefined struct {
	Property string `json:"property"`
	Value    string `json:"value,omitempty"`
}

func (ChangeLogPropertyDefined) Name() string { return "changeLogPropertyDefined" }

func (p ChangeLogPropertyDefined) Check(ctx context.Context, db Database) error {
	v, ok := db.Property(p.Property)
	if !ok {
		return fail(p, "property %s is not defined", p.Property)
	}
	if p.Value != "" && v != p.Value {
		return fail(p, "property %s is %q, not %q", p.Property, v, p.Value)
	}
	return nil
}

// ChangeSetExecuted holds when the changeset is recorded in the ledger.
type ChangeSetExecuted struct {
	ChangeLogFile string `json:"changeLogFile,omitempty"`
	ID            string `json:"id"`
	Author        string `json:"author"`
}

func (ChangeSetExecuted) Name() string { return "changeSetExecuted" }

func (p ChangeSetExecuted) Check(ctx context.Context, db Database) error {
	if !db.ChangeSetRan(p.ChangeLogFile, p.ID, p.Author) {
		return fail(p, "changeset %s::%s::%s has not been executed", p.ChangeLogFile, p.ID, p.Author)
	}
	return nil
}

// ColumnExists holds when the column exists.
type ColumnExists struct {
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
}

func (ColumnExists) Name() string { return "columnExists" }

func (p ColumnExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	t := snap.Table(p.TableName)
	if t == nil || t.Column(p.ColumnName) == nil {
		return fail(p, "column %s.%s does not exist", p.TableName, p.ColumnName)
	}
	return nil
}

// DBMS holds when the database matches Type, a list as accepted by
// MatchDBMS.
type DBMS struct {
	Type string `json:"type"`
}

func (DBMS) Name() string { return "dbms" }

func (p DBMS) Check(ctx context.Context, db Database) error {
	if !MatchDBMS(p.Type, db.Dialect().Name()) {
		return fail(p, "DBMS precondition failed: expected %s, got %s", p.Type, db.Dialect().Name())
	}
	return nil
}

// ExpectedQuotingStrategy holds when the changeset uses Strategy.
type ExpectedQuotingStrategy struct {
	Strategy dialect.QuotingStrategy `json:"strategy"`
}

func (ExpectedQuotingStrategy) Name() string { return "expectedQuotingStrategy" }

func (p ExpectedQuotingStrategy) Check(ctx context.Context, db Database) error {
	if got := db.QuotingStrategy(); got != p.Strategy {
		return fail(p, "expected quoting strategy %s, got %s", p.Strategy, got)
	}
	return nil
}

// ForeignKeyConstraintExists holds when the foreign key exists.
// ForeignKeyTableName narrows the search to one table.
type ForeignKeyConstraintExists struct {
	ForeignKeyTableName string `json:"foreignKeyTableName,omitempty"`
	ForeignKeyName      string `json:"foreignKeyName"`
}

func (ForeignKeyConstraintExists) Name() string { return "foreignKeyConstraintExists" }

func (p ForeignKeyConstraintExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, t := range snap.Tables {
		if p.ForeignKeyTableName != "" && !strings.EqualFold(t.Name, p.ForeignKeyTableName) {
			continue
		}
		if t.ForeignKey(p.ForeignKeyName) != nil {
			return nil
		}
	}
	return fail(p, "foreign key %s does not exist", p.ForeignKeyName)
}

// IndexExists holds when an index named IndexName exists or, without a
// name, when an index covers ColumnNames on TableName.
type IndexExists struct {
	TableName   string `json:"tableName,omitempty"`
	IndexName   string `json:"indexName,omitempty"`
	ColumnNames string `json:"columnNames,omitempty"`
}

func (IndexExists) Name() string { return "indexExists" }

func (p IndexExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, t := range snap.Tables {
		if p.TableName != "" && !strings.EqualFold(t.Name, p.TableName) {
			continue
		}
		if p.IndexName != "" && t.Index(p.IndexName) != nil {
			return nil
		}
		if p.IndexName == "" && p.ColumnNames != "" && t.IndexOn(splitNames(p.ColumnNames)) != nil {
			return nil
		}
	}
	if p.IndexName != "" {
		return fail(p, "index %s does not exist", p.IndexName)
	}
	return fail(p, "no index on %s(%s)", p.TableName, p.ColumnNames)
}

// PrimaryKeyExists holds when TableName has a primary key or a primary key
// named PrimaryKeyName exists.
type PrimaryKeyExists struct {
	TableName      string `json:"tableName,omitempty"`
	PrimaryKeyName string `json:"primaryKeyName,omitempty"`
}

func (PrimaryKeyExists) Name() string { return "primaryKeyExists" }

func (p PrimaryKeyExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, t := range snap.Tables {
		if p.TableName != "" && !strings.EqualFold(t.Name, p.TableName) {
			continue
		}
		if t.PrimaryKey == nil {
			continue
		}
		if p.PrimaryKeyName == "" || strings.EqualFold(t.PrimaryKey.Name, p.PrimaryKeyName) {
			return nil
		}
	}
	return fail(p, "primary key %s on %s does not exist", p.PrimaryKeyName, p.TableName)
}

// RowCount holds when TableName has exactly ExpectedRows rows.
type RowCount struct {
	TableName    string `json:"tableName"`
	ExpectedRows int64  `json:"expectedRows"`
}

func (RowCount) Name() string { return "rowCount" }

func (p RowCount) Check(ctx context.Context, db Database) error {
	n, err := countRows(ctx, db, p.TableName)
	if err != nil {
		return err
	}
	if n != p.ExpectedRows {
		return fail(p, "table %s has %d rows, expected %d", p.TableName, n, p.ExpectedRows)
	}
	return nil
}

// TableIsEmpty holds when TableName has no rows.
type TableIsEmpty struct {
	TableName string `json:"tableName"`
}

func (TableIsEmpty) Name() string { return "tableIsEmpty" }

func (p TableIsEmpty) Check(ctx context.Context, db Database) error {
	n, err := countRows(ctx, db, p.TableName)
	if err != nil {
		return err
	}
	if n != 0 {
		return fail(p, "table %s is not empty, it has %d rows", p.TableName, n)
	}
	return nil
}

func countRows(ctx context.Context, db Database, table string) (int64, error) {
	var n int64
	query := "SELECT COUNT(*) FROM " + db.Dialect().QuoteName(parseName(table, ""))
	if err := db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

// RunningAs holds when the connected user is Username.
type RunningAs struct {
	Username string `json:"username"`
}

func (RunningAs) Name() string { return "runningAs" }

func (p RunningAs) Check(ctx context.Context, db Database) error {
	user, err := db.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(user, p.Username) {
		return fail(p, "running as %q, expected %q", user, p.Username)
	}
	return nil
}

// SequenceExists holds when the sequence exists.
type SequenceExists struct {
	SequenceName string `json:"sequenceName"`
}

func (SequenceExists) Name() string { return "sequenceExists" }

func (p SequenceExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Sequence(p.SequenceName) == nil {
		return fail(p, "sequence %s does not exist", p.SequenceName)
	}
	return nil
}

// SQLCheck holds when SQL returns a single value equal to ExpectedResult.
type SQLCheck struct {
	SQL            string `json:"sql"`
	ExpectedResult string `json:"expectedResult"`
}

func (SQLCheck) Name() string { return "sqlCheck" }

func (p SQLCheck) Check(ctx context.Context, db Database) error {
	var got sql.NullString
	query := db.Expand(p.SQL)
	if err := db.QueryRowContext(ctx, query).Scan(&got); err != nil {
		return fmt.Errorf("sqlCheck %q: %w", query, err)
	}
	if !got.Valid {
		got.String = "NULL"
	}
	if want := db.Expand(p.ExpectedResult); strings.TrimSpace(got.String) != strings.TrimSpace(want) {
		return fail(p, "%q returned %s, expected %s", query, got.String, want)
	}
	return nil
}

// TableExists holds when the table exists.
type TableExists struct {
	TableName string `json:"tableName"`
}

func (TableExists) Name() string { return "tableExists" }

func (p TableExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Table(p.TableName) == nil {
		return fail(p, "table %s does not exist", p.TableName)
	}
	return nil
}

// UniqueConstraintExists holds when a unique constraint named
// ConstraintName or covering ColumnNames exists on TableName.
type UniqueConstraintExists struct {
	TableName      string `json:"tableName"`
	ConstraintName string `json:"constraintName,omitempty"`
	ColumnNames    string `json:"columnNames,omitempty"`
}

func (UniqueConstraintExists) Name() string { return "uniqueConstraintExists" }

func (p UniqueConstraintExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	if t := snap.Table(p.TableName); t != nil {
		if p.ConstraintName != "" && t.UniqueConstraint(p.ConstraintName) != nil {
			return nil
		}
		if p.ColumnNames != "" && t.UniqueOn(splitNames(p.ColumnNames)) != nil {
			return nil
		}
	}
	return fail(p, "unique constraint %s on %s(%s) does not exist", p.ConstraintName, p.TableName, p.ColumnNames)
}

// ViewExists holds when the view exists.
type ViewExists struct {
	ViewName string `json:"viewName"`
}

func (ViewExists) Name() string { return "viewExists" }

func (p ViewExists) Check(ctx context.Context, db Database) error {
	snap, err := db.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.View(p.ViewName) == nil {
		return fail(p, "view %s does not exist", p.ViewName)
	}
	return nil
}

// CustomCheckFunc is the code of a Custom precondition.
type CustomCheckFunc func(ctx context.Context, db Database, params map[string]string) error

// Custom runs user code. Func returns nil, a *Failure or an error like any
// other precondition.
type Custom struct {
	Class  string            `json:"className"`
	Params map[string]string `json:"params,omitempty"`
	Func   CustomCheckFunc   `json:"-"`
}

func (Custom) Name() string { return "customPrecondition" }

func (p Custom) Check(ctx context.Context, db Database) error {
	if p.Func == nil {
		return fmt.Errorf("custom precondition %s has no function", p.Class)
	}
	params := make(map[string]string, len(p.Params))
	for k, v := range p.Params {
		params[k] = db.Expand(v)
	}
	return p.Func(ctx, db, params)
}
