package changelog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/denisbrodbeck/mikrator/dialect"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openDB(t *testing.T, stmts ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
	return db
}

// recorder runs changes against db or, with db nil, only records the SQL.
type recorder struct {
	env      Env
	db       *sql.DB
	sql      []string
	comments []string
	outputs  map[string][]string
}

func newRecorder(d dialect.Dialect, db *sql.DB) *recorder {
	return &recorder{env: Env{Dialect: d}, db: db, outputs: map[string][]string{}}
}

func (r *recorder) Env() Env { return r.env }

func (r *recorder) Exec(ctx context.Context, stmts ...dialect.Statement) error {
	for _, stmt := range stmts {
		sqls, err := r.env.Dialect.Generate(stmt)
		if err != nil {
			return err
		}
		for _, s := range sqls {
			r.sql = append(r.sql, s)
			if r.db == nil {
				continue
			}
			if _, err := r.db.ExecContext(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *recorder) Comment(ctx context.Context, text string) error {
	r.comments = append(r.comments, text)
	return nil
}

func (r *recorder) Output(target, message string) {
	r.outputs[target] = append(r.outputs[target], message)
}

func (r *recorder) DB() Querier {
	if r.db == nil {
		return nil
	}
	return r.db
}

func TestGenerateSQL(t *testing.T) {
	sqlite, pg := dialect.SQLite(""), dialect.Postgres("")
	tests := []struct {
		name    string
		dialect dialect.Dialect
		change  Change
		want    []string
	}{
		{
			name:    "sqlite create table",
			dialect: sqlite,
			change:  personTable(),
			want:    []string{"CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name VARCHAR(50) NOT NULL)"},
		},
		{
			name:    "postgres create table",
			dialect: pg,
			change:  personTable(),
			want:    []string{"CREATE TABLE person (id INTEGER GENERATED BY DEFAULT AS IDENTITY NOT NULL, name VARCHAR(50) NOT NULL, PRIMARY KEY (id))"},
		},
		{
			name:    "create table with references",
			dialect: pg,
			change: &CreateTable{TableName: "address", Columns: []Column{
				{Name: "person_id", Type: "int", Constraints: &Constraints{References: "person(id)", ForeignKeyName: "fk_person", DeleteCascade: true}},
			}},
			want: []string{"CREATE TABLE address (person_id INTEGER, CONSTRAINT fk_person FOREIGN KEY (person_id) REFERENCES person (id) ON DELETE CASCADE)"},
		},
		{
			name:    "add column with value",
			dialect: sqlite,
			change:  &AddColumn{TableName: "person", Columns: []Column{{Name: "active", Type: "boolean", Value: Bool(true)}}},
			want: []string{
				"ALTER TABLE person ADD COLUMN active BOOLEAN",
				"UPDATE person SET active = 1",
			},
		},
		{
			name:    "insert",
			dialect: pg,
			change: &Insert{TableName: "person", Columns: []Column{
				{Name: "name", Value: String("o'brien")},
				{Name: "score", Value: Numeric(4.5)},
				{Name: "active", Value: Bool(false)},
				{Name: "born", Value: Date("2001-02-03")},
				{Name: "id", Value: NextSequenceValue("seq_person")},
				{Name: "note", Value: Null()},
			}},
			want: []string{"INSERT INTO person (name, score, active, born, id, note) VALUES ('o''brien', 4.5, FALSE, '2001-02-03', nextval('seq_person'), NULL)"},
		},
		{
			name:    "update with where params",
			dialect: sqlite,
			change: &Update{
				TableName:   "person",
				Columns:     []Column{{Name: "name", Value: String("robert")}},
				Where:       ":name = :value AND :name > :value",
				WhereParams: []Column{{Name: "name", Value: String("bob")}, {Name: "id", Value: Numeric(3)}},
			},
			want: []string{"UPDATE person SET name = 'robert' WHERE name = 'bob' AND id > 3"},
		},
		{
			name:    "delete",
			dialect: sqlite,
			change:  &Delete{TableName: "person", Where: "id = 2"},
			want:    []string{"DELETE FROM person WHERE id = 2"},
		},
		{
			name:    "add not null with default",
			dialect: pg,
			change:  &AddNotNullConstraint{TableName: "person", ColumnName: "name", DefaultNullValue: String("n/a")},
			want: []string{
				"UPDATE person SET name = 'n/a' WHERE name IS NULL",
				"ALTER TABLE person ALTER COLUMN name SET NOT NULL",
			},
		},
		{
			name:    "create index",
			dialect: sqlite,
			change:  &CreateIndex{TableName: "person", IndexName: "idx_name", Unique: true, Columns: []Column{{Name: "name"}, {Name: "lower(email)", Computed: true}}},
			want:    []string{"CREATE UNIQUE INDEX idx_name ON person (name, lower(email))"},
		},
		{
			name:    "create view",
			dialect: pg,
			change:  &CreateView{ViewName: "named", SelectQuery: "SELECT name FROM person"},
			want:    []string{"CREATE VIEW named AS SELECT name FROM person"},
		},
		{
			name:    "sql split",
			dialect: sqlite,
			change:  &SQL{SQL: "INSERT INTO a VALUES (1);\nINSERT INTO a VALUES (2);"},
			want:    []string{"INSERT INTO a VALUES (1)", "INSERT INTO a VALUES (2)"},
		},
		{
			name:    "sql for another database",
			dialect: sqlite,
			change:  &SQL{SQL: "VACUUM", DBMS: "postgresql"},
		},
		{
			name:    "tag has no sql",
			dialect: sqlite,
			change:  &TagDatabase{Tag: "v1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateSQL(tt.change, Env{Dialect: tt.dialect})
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateSQLExpandsProperties(t *testing.T) {
	props, err := ResolveProperties([]Property{{Name: "who", Value: "admin"}}, nil, Scope{})
	require.NoError(t, err)
	env := Env{Dialect: dialect.SQLite(""), Expand: props.Expand}

	got, err := GenerateSQL(&Insert{TableName: "person", Columns: []Column{{Name: "name", Value: String("${who}")}}}, env)
	require.NoError(t, err)
	require.Equal(t, []string{"INSERT INTO person (name) VALUES ('admin')"}, got)
}

func TestValidate(t *testing.T) {
	sqlite := Env{Dialect: dialect.SQLite("3.20.0")}
	var unsupported *dialect.UnsupportedError

	err := Validate(&ModifyDataType{TableName: "person", ColumnName: "name", NewDataType: "text"}, sqlite)
	require.ErrorAs(t, err, &unsupported)

	err = Validate(&DropColumn{TableName: "person", ColumnName: "name"}, sqlite)
	require.ErrorAs(t, err, &unsupported)

	err = Validate(&Insert{TableName: "person", Columns: []Column{{Name: "id", Value: NextSequenceValue("s")}}}, sqlite)
	require.ErrorAs(t, err, &unsupported)

	require.Error(t, Validate(&TagDatabase{}, sqlite))
	require.Error(t, Validate(&CreateTable{TableName: "empty"}, sqlite))
	require.Error(t, Validate(&Insert{TableName: "person", Columns: []Column{{Name: "n", Value: Numeric("abc")}}}, sqlite))
	require.Error(t, Validate(&ExecuteCommand{Executable: "ls", Timeout: "soon"}, sqlite))
	require.NoError(t, Validate(&ExecuteCommand{Executable: "ls", Timeout: "5s"}, sqlite))
	require.NoError(t, Validate(personTable(), sqlite))
}

func TestInverse(t *testing.T) {
	inverse, err := InverseOf([]Change{
		personTable(),
		&AddColumn{TableName: "person", Columns: []Column{{Name: "a", Type: "int"}, {Name: "b", Type: "int"}}},
		&RenameColumn{TableName: "person", OldColumnName: "a", NewColumnName: "c"},
		&TagDatabase{Tag: "v1"},
	})
	require.NoError(t, err)
	require.Equal(t, []Change{
		&RenameColumn{TableName: "person", OldColumnName: "c", NewColumnName: "a"},
		&DropColumn{TableName: "person", ColumnName: "b"},
		&DropColumn{TableName: "person", ColumnName: "a"},
		&DropTable{TableName: "person"},
	}, inverse)

	_, err = InverseOf([]Change{personTable(), &Insert{TableName: "person"}})
	var notReversible *NotReversibleError
	require.ErrorAs(t, err, &notReversible)
	require.Equal(t, "insert", notReversible.ChangeType)

	_, err = (&AddUniqueConstraint{TableName: "person", ColumnNames: "name"}).Inverse()
	require.Error(t, err)
}

type counterTask struct {
	table string
}

func (c *counterTask) SetUp(params map[string]string) error {
	c.table = params["table"]
	if c.table == "" {
		return errors.New("table is required")
	}
	return nil
}

func (c *counterTask) Execute(ctx context.Context, db Querier) error {
	_, err := db.ExecContext(ctx, "INSERT INTO "+c.table+" (name) VALUES ('custom')")
	return err
}

func (c *counterTask) Rollback(ctx context.Context, db Querier) error {
	_, err := db.ExecContext(ctx, "DELETE FROM "+c.table+" WHERE name = 'custom'")
	return err
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	x := newRecorder(dialect.SQLite(""), db)

	changes := []Change{
		personTable(),
		&Insert{TableName: "person", Columns: []Column{{Name: "name", Value: String("alice")}}},
		&Insert{TableName: "person", Columns: []Column{{Name: "name", Value: String("bob")}}},
		&AddColumn{TableName: "person", Columns: []Column{{Name: "active", Type: "boolean", Value: Bool(true)}}},
		&Update{TableName: "person", Columns: []Column{{Name: "active", Value: Bool(false)}}, Where: ":name = :value", WhereParams: []Column{{Name: "name", Value: String("bob")}}},
		&Delete{TableName: "person", Where: "name = 'alice'"},
		&CustomChange{Class: "counter", Params: map[string]string{"table": "person"}, Task: &counterTask{}},
		&Output{Message: "done"},
	}
	for _, c := range changes {
		require.NoError(t, c.Apply(ctx, x), c.ChangeType())
	}

	var name string
	var active bool
	require.NoError(t, db.QueryRow("SELECT name, active FROM person WHERE name = 'bob'").Scan(&name, &active))
	require.False(t, active)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM person").Scan(&n))
	require.Equal(t, 2, n)
	require.Equal(t, []string{"done"}, x.outputs["STDERR"])

	inverse, err := changes[6].(Reversible).Inverse()
	require.NoError(t, err)
	require.NoError(t, inverse[0].Apply(ctx, x))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM person").Scan(&n))
	require.Equal(t, 1, n)
}

func TestApplyWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	x := newRecorder(dialect.SQLite(""), nil)

	require.NoError(t, (&CustomChange{Class: "counter", Params: map[string]string{"table": "person"}, Task: &counterTask{}}).Apply(ctx, x))
	require.NoError(t, (&ExecuteCommand{Executable: "does-not-exist"}).Apply(ctx, x))
	require.NoError(t, (&ExecuteCommand{Executable: "does-not-exist", OS: []string{"plan9"}}).Apply(ctx, x))
	require.Equal(t, []string{
		"customChange counter is not part of the SQL output",
		"executeCommand does-not-exist",
	}, x.comments)

	err := (&CustomChange{Class: "counter", Task: &counterTask{}}).Apply(ctx, x)
	require.EqualError(t, err, "table is required")
}

func TestStop(t *testing.T) {
	x := newRecorder(dialect.SQLite(""), nil)
	err := (&Stop{}).Apply(context.Background(), x)
	var stop *StopError
	require.ErrorAs(t, err, &stop)
	require.Equal(t, DefaultStopMessage, stop.Message)

	err = (&Stop{Message: "halt"}).Apply(context.Background(), x)
	require.EqualError(t, err, "stopped: halt")
}
