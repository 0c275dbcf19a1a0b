package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/format"
	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/afero"
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

var schema = []string{
	`CREATE TABLE person (id INTEGER PRIMARY KEY AUTOINCREMENT, name varChar(50) NOT NULL DEFAULT 'anon', email TEXT UNIQUE)`,
	`CREATE TABLE address (id INT, person_id INT NOT NULL, street TEXT, PRIMARY KEY (id), FOREIGN KEY (person_id) REFERENCES person (id) ON DELETE CASCADE)`,
	`CREATE INDEX idx_address_street ON address (street)`,
	`CREATE VIEW named AS SELECT name FROM person WHERE name <> 'anon'`,
	`CREATE TABLE ignored (id INT)`,
}

func TestTakeSQLite(t *testing.T) {
	db := openDB(t, schema...)
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	snap, err := Take(context.Background(), db, dialect.SQLite("3.44.0"), ExcludeTables("IGNORED"), WithClock(clk))
	require.NoError(t, err)

	require.Equal(t, dialect.NameSQLite, snap.Dialect)
	require.Equal(t, "main", snap.Schema)
	require.Equal(t, clk.Now(), snap.Created)
	require.Len(t, snap.Tables, 2)
	require.Equal(t, "address", snap.Tables[0].Name)
	require.Equal(t, "person", snap.Tables[1].Name)
	require.Nil(t, snap.Table("ignored"))

	person := snap.Table("PERSON")
	require.NotNil(t, person)
	require.Equal(t, []*Column{
		{Name: "id", Type: "INTEGER", AutoIncrement: true, Position: 1},
		{Name: "name", Type: "VARCHAR(50)", Default: "'anon'", Position: 2},
		{Name: "email", Type: "TEXT", Nullable: true, Position: 3},
	}, person.Columns)
	require.Equal(t, &PrimaryKey{Columns: []string{"id"}}, person.PrimaryKey)
	require.Len(t, person.UniqueConstraints, 1)
	require.Equal(t, []string{"email"}, person.UniqueConstraints[0].Columns)
	require.NotNil(t, person.IndexOn([]string{"email"}))

	address := snap.Table("address")
	require.Equal(t, []*Index{{Name: "idx_address_street", Columns: []string{"street"}}}, address.Indexes)
	require.Equal(t, []*ForeignKey{{
		Name:              "fk_address_person_id",
		Columns:           []string{"person_id"},
		ReferencedTable:   "person",
		ReferencedColumns: []string{"id"},
		OnDelete:          "CASCADE",
	}}, address.ForeignKeys)
	require.NotNil(t, address.ForeignKey("FK_ADDRESS_PERSON_ID"))

	require.Equal(t, []*View{{Name: "named", Definition: "SELECT name FROM person WHERE name <> 'anon'"}}, snap.Views)
	require.Empty(t, snap.Sequences)
}

func TestSerializeRoundTrip(t *testing.T) {
	db := openDB(t, schema...)
	snap, err := Take(context.Background(), db, dialect.SQLite(""))
	require.NoError(t, err)

	for _, f := range []format.Format{format.JSON, format.YAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, snap.Serialize(&buf, f))
			require.NotZero(t, buf.Len())

			loaded, err := Load(&buf, f)
			require.NoError(t, err)
			if diff := cmp.Diff(snap, loaded); diff != "" {
				t.Fatalf("snapshot changed after round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	snap := &Snapshot{
		Dialect: dialect.NamePostgres,
		Created: time.Date(2020, 2, 2, 0, 0, 0, 0, time.UTC),
		Tables:  []*Table{{Name: "t", Columns: []*Column{{Name: "c", Type: "INTEGER", Position: 1}}}},
	}
	require.NoError(t, snap.WriteFile(fs, "snap.yaml"))

	raw, err := afero.ReadFile(fs, "snap.yaml")
	require.NoError(t, err)
	require.Contains(t, string(raw), "dialect: postgresql")

	loaded, err := LoadFile(fs, "snap.yaml")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(snap, loaded))

	_, err = LoadFile(fs, "missing.json")
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	d := dialect.SQLite("")

	before, err := Take(ctx, openDB(t, `CREATE TABLE tbl (id INT)`), d)
	require.NoError(t, err)
	after, err := Take(ctx, openDB(t,
		`CREATE TABLE tbl (id INT, str varChar(23))`,
		`CREATE TABLE other (id INT, name TEXT)`,
		`CREATE INDEX idx_other ON other (name)`,
	), d)
	require.NoError(t, err)

	result := Compare(after, before)
	require.Equal(t, []Object{
		{Type: TypeTable, Name: "other"},
		{Type: TypeColumn, Table: "tbl", Name: "str"},
	}, result.Missing)
	require.Empty(t, result.Unexpected)
	require.Empty(t, result.Changed)
	require.False(t, result.Empty())

	reverse := Compare(before, after)
	require.Empty(t, reverse.Missing)
	require.Equal(t, result.Missing, reverse.Unexpected)

	require.True(t, Compare(after, after).Empty())
}

func TestCompareChanged(t *testing.T) {
	ctx := context.Background()
	d := dialect.SQLite("")

	reference, err := Take(ctx, openDB(t,
		`CREATE TABLE tbl (id INT NOT NULL, name VARCHAR(10))`,
		`CREATE UNIQUE INDEX idx_name ON tbl (name)`,
		`CREATE VIEW v AS SELECT id FROM tbl`,
	), d)
	require.NoError(t, err)
	comparison, err := Take(ctx, openDB(t,
		`CREATE TABLE tbl (id INT, name VARCHAR(20))`,
		`CREATE INDEX idx_name ON tbl (name)`,
		`CREATE VIEW v AS SELECT id, name FROM tbl`,
	), d)
	require.NoError(t, err)

	result := Compare(reference, comparison)
	require.Empty(t, result.Missing)
	require.Empty(t, result.Unexpected)
	require.Equal(t, []ChangedObject{
		{
			Object:      Object{Type: TypeColumn, Table: "tbl", Name: "id"},
			Differences: []Difference{{Field: "nullable", Reference: "false", Comparison: "true"}},
		},
		{
			Object:      Object{Type: TypeColumn, Table: "tbl", Name: "name"},
			Differences: []Difference{{Field: "type", Reference: "VARCHAR(10)", Comparison: "VARCHAR(20)"}},
		},
		{
			Object:      Object{Type: TypeIndex, Table: "tbl", Name: "idx_name"},
			Differences: []Difference{{Field: "unique", Reference: "true", Comparison: "false"}},
		},
		{
			Object:      Object{Type: TypeView, Name: "v"},
			Differences: []Difference{{Field: "definition", Reference: "SELECT id FROM tbl", Comparison: "SELECT id, name FROM tbl"}},
		},
	}, result.Changed)

	var report bytes.Buffer
	require.NoError(t, result.Report(&report))
	require.Contains(t, report.String(), "Missing: NONE\n")
	require.Contains(t, report.String(), `type changed from "VARCHAR(10)" to "VARCHAR(20)"`)
}
