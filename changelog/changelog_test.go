package changelog

import (
	"bytes"
	"testing"

	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/format"
	"github.com/stretchr/testify/require"
)

func personTable() *CreateTable {
	return &CreateTable{TableName: "person", Columns: []Column{
		{Name: "id", Type: "int", AutoIncrement: true, Constraints: PrimaryKey()},
		{Name: "name", Type: "varchar(50)", Constraints: NotNull()},
	}}
}

func TestNew(t *testing.T) {
	cl := New()
	require.Equal(t, DefaultLogicalFilePath, cl.LogicalFilePath)
	require.Equal(t, DefaultPhysicalFilePath, cl.PhysicalFilePath)
	require.Equal(t, dialect.QuoteLegacy, cl.ObjectQuotingStrategy)

	cl = New(WithLogicalFilePath("db/main.yaml"), WithQuotingStrategy(dialect.QuoteAllObjects))
	require.Equal(t, "db/main.yaml", cl.LogicalFilePath)
	require.Equal(t, dialect.QuoteAllObjects, cl.ObjectQuotingStrategy)
}

func TestNewChangeSet(t *testing.T) {
	cs := NewChangeSet("1", "alice")
	require.Equal(t, DefaultChangeSetPath, cs.FilePath)
	require.True(t, cs.RunInTransaction)
	require.True(t, cs.FailsOnError())
	require.Equal(t, ValidationHalt, cs.OnValidationFail)
	require.Nil(t, cs.Rollback)
	require.Equal(t, "::1::alice", cs.Identifier())

	cs = NewChangeSet("2", "bob", FilePath("db/a.yaml"), FailOnError(false), Rollback())
	require.Equal(t, "db/a.yaml::2::bob", cs.Identifier())
	require.False(t, cs.FailsOnError())
	require.NotNil(t, cs.Rollback)
	require.Empty(t, cs.Rollback)

	cs = NewChangeSet("3", "bob", FilePath("db/a.yaml"), LogicalFilePath("logical"))
	require.Equal(t, "logical", cs.Path())
}

func TestChangeLogLookup(t *testing.T) {
	cl := New(WithChangeSets(
		NewChangeSet("1", "alice", FilePath(`db\a.yaml`)),
		NewChangeSet("2", "alice"),
	))
	require.NotNil(t, cl.ChangeSet("db/a.yaml", "1", "alice"))
	require.NotNil(t, cl.ChangeSet("", "2", "alice"))
	require.Nil(t, cl.ChangeSet("", "2", "bob"))
}

func TestDuplicates(t *testing.T) {
	cl := New()
	cl.Add(NewChangeSet("1", "a"), NewChangeSet("1", "a"), NewChangeSet("1", "a"), NewChangeSet("1", "b"))
	require.Equal(t, []string{"::1::a"}, cl.Duplicates())
}

func TestOrdered(t *testing.T) {
	cl := New(WithChangeSets(
		NewChangeSet("1", "a"),
		NewChangeSet("2", "a", RunOrder("last")),
		NewChangeSet("3", "a"),
		NewChangeSet("4", "a", RunOrder("first")),
	))
	var ids []string
	for _, cs := range cl.Ordered() {
		ids = append(ids, cs.ID)
	}
	require.Equal(t, []string{"4", "1", "3", "2"}, ids)
	require.Equal(t, "1", cl.ChangeSets[0].ID, "Ordered does not reorder the changelog")
}

func TestChangeSetTagAndDescription(t *testing.T) {
	cs := NewChangeSet("1", "a", Changes(personTable(), &TagDatabase{Tag: "v1"}))
	require.Equal(t, "v1", cs.Tag())
	require.Equal(t, "createTable, tagDatabase", cs.Description())
	require.Empty(t, NewChangeSet("2", "a").Tag())
}

func TestChecksum(t *testing.T) {
	a := NewChangeSet("1", "a", Changes(personTable()))
	b := NewChangeSet("2", "b", Changes(personTable()))

	sumA, err := a.Checksum()
	require.NoError(t, err)
	require.Regexp(t, `^1:[0-9a-f]{32}$`, sumA)

	sumB, err := b.Checksum()
	require.NoError(t, err)
	require.Equal(t, sumA, sumB, "identity is not part of the checksum")

	c := NewChangeSet("1", "a", Changes(personTable()))
	c.Changes[0].(*CreateTable).Columns[1].Type = "varchar(60)"
	sumC, err := c.Checksum()
	require.NoError(t, err)
	require.NotEqual(t, sumA, sumC)

	require.True(t, a.ValidChecksum(sumA))
	require.False(t, a.ValidChecksum(sumC))
	require.True(t, NewChangeSet("1", "a", Changes(personTable()), ValidCheckSums(sumC)).ValidChecksum(sumC))
	require.True(t, NewChangeSet("1", "a", ValidCheckSums("any")).ValidChecksum("1:whatever"))
}

func TestForDBMS(t *testing.T) {
	add := &AddColumn{TableName: "person", Columns: []Column{{Name: "email", Type: "varchar(20)", BeforeColumn: "name"}}}
	cl := New(
		WithChangeSets(NewChangeSet("1", "a", Changes(add))),
		WithRemovedChangeSetProperty("addColumn", "beforeColumn", "sqlite"),
	)
	sum, err := cl.ChangeSets[0].Checksum()
	require.NoError(t, err)
	env := Env{Dialect: dialect.SQLite("")}

	_, err = GenerateSQL(add, env)
	var unsupported *dialect.UnsupportedError
	require.ErrorAs(t, err, &unsupported)

	require.Same(t, cl, cl.ForDBMS(dialect.NamePostgres))

	stripped := cl.ForDBMS(dialect.NameSQLite)
	require.NotSame(t, cl, stripped)
	got := stripped.ChangeSets[0].Changes[0].(*AddColumn)
	require.Empty(t, got.Columns[0].BeforeColumn)
	require.Equal(t, "varchar(20)", got.Columns[0].Type)
	sql, err := GenerateSQL(got, env)
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE person ADD COLUMN email VARCHAR(20)"}, sql)

	// the caller's changelog is untouched
	require.Equal(t, "name", add.Columns[0].BeforeColumn)
	again, err := cl.ChangeSets[0].Checksum()
	require.NoError(t, err)
	require.Equal(t, sum, again)
	require.Same(t, add, cl.ChangeSets[0].Changes[0])
}

func TestSerialize(t *testing.T) {
	cl := New(
		WithProperty(Property{Name: "schema", Value: "public"}),
		WithChangeSets(NewChangeSet("1", "alice", Changes(personTable(), &TagDatabase{Tag: "v1"}))),
	)
	var buf bytes.Buffer
	require.NoError(t, cl.Serialize(&buf, format.YAML))
	out := buf.String()
	for _, want := range []string{
		"databaseChangeLog:",
		"logicalFilePath: virtual",
		"createTable:",
		"tableName: person",
		"tagDatabase:",
		"tag: v1",
		"author: alice",
	} {
		require.Contains(t, out, want)
	}

	buf.Reset()
	require.NoError(t, cl.Serialize(&buf, format.JSON))
	require.Contains(t, buf.String(), `"databaseChangeLog"`)
}
