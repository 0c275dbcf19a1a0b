package changelog

import (
	"context"
	"database/sql"
	"testing"

	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"github.com/stretchr/testify/require"
)

type testDatabase struct {
	db    *sql.DB
	d     dialect.Dialect
	ran   map[string]bool
	props *Properties
	user  string
}

func (t *testDatabase) Dialect() dialect.Dialect { return t.d }

func (t *testDatabase) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	return snapshot.Take(ctx, t.db, t.d)
}

func (t *testDatabase) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.db.QueryRowContext(ctx, query, args...)
}

func (t *testDatabase) ChangeSetRan(path, id, author string) bool {
	return t.ran[path+"::"+id+"::"+author]
}

func (t *testDatabase) Property(name string) (string, bool) { return t.props.Lookup(name) }
func (t *testDatabase) Expand(s string) string              { return t.props.Expand(s) }

func (t *testDatabase) CurrentUser(ctx context.Context) (string, error) { return t.user, nil }

func (t *testDatabase) QuotingStrategy() dialect.QuotingStrategy { return dialect.QuoteLegacy }

func newTestDatabase(t *testing.T) *testDatabase {
	db := openDB(t,
		`CREATE TABLE person (id INTEGER PRIMARY KEY, name TEXT, email TEXT, CONSTRAINT uq_email UNIQUE (email))`,
		`CREATE TABLE address (id INT, person_id INT, FOREIGN KEY (person_id) REFERENCES person (id))`,
		`CREATE INDEX idx_person_name ON person (name)`,
		`CREATE VIEW named AS SELECT name FROM person`,
		`INSERT INTO person (name) VALUES ('alice'), ('bob')`,
	)
	props, err := ResolveProperties([]Property{{Name: "table", Value: "person"}}, nil, Scope{})
	require.NoError(t, err)
	return &testDatabase{
		db:    db,
		d:     dialect.SQLite(""),
		ran:   map[string]bool{"::1::alice": true},
		props: props,
		user:  "admin",
	}
}

func TestPreconditions(t *testing.T) {
	db := newTestDatabase(t)
	tests := []struct {
		name string
		cond Precondition
		held bool
	}{
		{"table exists", TableExists{TableName: "person"}, true},
		{"table missing", TableExists{TableName: "nope"}, false},
		{"column exists", ColumnExists{TableName: "person", ColumnName: "email"}, true},
		{"column missing", ColumnExists{TableName: "person", ColumnName: "age"}, false},
		{"view exists", ViewExists{ViewName: "named"}, true},
		{"index by name", IndexExists{IndexName: "idx_person_name"}, true},
		{"index by columns", IndexExists{TableName: "person", ColumnNames: "name"}, true},
		{"index missing", IndexExists{TableName: "person", ColumnNames: "email, name"}, false},
		{"primary key", PrimaryKeyExists{TableName: "person"}, true},
		{"primary key missing", PrimaryKeyExists{TableName: "address"}, false},
		{"foreign key", ForeignKeyConstraintExists{ForeignKeyName: "fk_address_person_id"}, true},
		{"unique by columns", UniqueConstraintExists{TableName: "person", ColumnNames: "email"}, true},
		{"row count", RowCount{TableName: "person", ExpectedRows: 2}, true},
		{"row count mismatch", RowCount{TableName: "person", ExpectedRows: 3}, false},
		{"table is empty", TableIsEmpty{TableName: "address"}, true},
		{"table is not empty", TableIsEmpty{TableName: "person"}, false},
		{"sql check", SQLCheck{SQL: "SELECT COUNT(*) FROM ${table}", ExpectedResult: "2"}, true},
		{"sql check null", SQLCheck{SQL: "SELECT NULL", ExpectedResult: "NULL"}, true},
		{"changeset executed", ChangeSetExecuted{ID: "1", Author: "alice"}, true},
		{"changeset not executed", ChangeSetExecuted{ID: "2", Author: "alice"}, false},
		{"property defined", ChangeLogPropertyDefined{Property: "table", Value: "person"}, true},
		{"property value differs", ChangeLogPropertyDefined{Property: "table", Value: "other"}, false},
		{"dbms", DBMS{Type: "sqlite"}, true},
		{"dbms excluded", DBMS{Type: "!sqlite"}, false},
		{"running as", RunningAs{Username: "ADMIN"}, true},
		{"quoting strategy", ExpectedQuotingStrategy{Strategy: dialect.QuoteAllObjects}, false},
		{"sequence", SequenceExists{SequenceName: "seq"}, false},
		{"or", Or{Conditions: Conditions{TableExists{TableName: "nope"}, TableExists{TableName: "person"}}}, true},
		{"or none", Or{Conditions: Conditions{TableExists{TableName: "nope"}, DBMS{Type: "mysql"}}}, false},
		{"not", Not{Conditions: Conditions{TableExists{TableName: "nope"}}}, true},
		{"not held", Not{Conditions: Conditions{TableExists{TableName: "person"}}}, false},
		{"and", And{Conditions: Conditions{TableExists{TableName: "person"}, DBMS{Type: "mysql"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Check(context.Background(), db)
			if tt.held {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, IsFailure(err), "%v", err)
		})
	}
}

func TestPreconditionErrors(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	err := RowCount{TableName: "nope", ExpectedRows: 1}.Check(ctx, db)
	require.Error(t, err)
	require.False(t, IsFailure(err))

	err = Custom{Class: "empty"}.Check(ctx, db)
	require.Error(t, err)
	require.False(t, IsFailure(err))

	var got map[string]string
	err = Custom{
		Class:  "check",
		Params: map[string]string{"t": "${table}"},
		Func: func(ctx context.Context, db Database, params map[string]string) error {
			got = params
			return &Failure{Precondition: "check", Message: "nope"}
		},
	}.Check(ctx, db)
	require.True(t, IsFailure(err))
	require.Equal(t, map[string]string{"t": "person"}, got)
}

func TestPreconditionsRoot(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	var none *Preconditions
	require.NoError(t, none.Check(ctx, db))

	p := Require(TableExists{TableName: "person"}, TableExists{TableName: "nope"})
	require.Equal(t, Halt, p.FailAction())
	require.Equal(t, IgnoreInSQLOutput, p.SQLOutputAction())
	err := p.Check(ctx, db)
	require.True(t, IsFailure(err))
	require.Contains(t, err.Error(), "nope")

	p = &Preconditions{OnFail: MarkRan, OnFailMessage: "${table} setup missing", Conditions: Conditions{TableExists{TableName: "nope"}}}
	require.Equal(t, MarkRan, p.FailAction())
	require.Equal(t, Halt, p.ErrorAction())
	err = p.Check(ctx, db)
	require.True(t, IsFailure(err))
	require.EqualError(t, err, "preconditions: person setup missing")

	p = &Preconditions{OnErrorMessage: "broken", Conditions: Conditions{RowCount{TableName: "nope"}}}
	err = p.Check(ctx, db)
	require.False(t, IsFailure(err))
	require.Contains(t, err.Error(), "broken: ")
}
