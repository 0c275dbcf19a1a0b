package snapshot

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
)

type mysqlIntrospector struct {
	db *sqlx.DB
}

func (m *mysqlIntrospector) schema(ctx context.Context) (string, error) {
	var schema sql.NullString
	if err := m.db.GetContext(ctx, &schema, `SELECT DATABASE()`); err != nil {
		return "", err
	}
	return schema.String, nil
}

func (m *mysqlIntrospector) tables(ctx context.Context, schema string) ([]*Table, error) {
	var rows []struct {
		Name    string `db:"name"`
		Remarks string `db:"remarks"`
	}
	err := m.db.SelectContext(ctx, &rows, `
SELECT table_name AS name, table_comment AS remarks
FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`[1:], schema)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, len(rows))
	for i, r := range rows {
		tables[i] = &Table{Name: r.Name, Remarks: r.Remarks}
	}
	return tables, nil
}

type mysqlColumn struct {
	Name     string         `db:"name"`
	Type     string         `db:"type"`
	Nullable bool           `db:"nullable"`
	Default  sql.NullString `db:"dflt"`
	Extra    string         `db:"extra"`
	Remarks  string         `db:"remarks"`
	Position int            `db:"position"`
}

type mysqlIndexColumn struct {
	Name      string `db:"name"`
	NonUnique bool   `db:"non_unique"`
	Column    string `db:"column_name"`
}

type mysqlForeignKeyColumn struct {
	Name      string `db:"name"`
	Column    string `db:"column_name"`
	RefTable  string `db:"ref_table"`
	RefColumn string `db:"ref_column"`
	OnDelete  string `db:"on_delete"`
	OnUpdate  string `db:"on_update"`
}

func (m *mysqlIntrospector) describe(ctx context.Context, schema string, t *Table) error {
	var cols []mysqlColumn
	err := m.db.SelectContext(ctx, &cols, `
SELECT column_name AS name, column_type AS type, is_nullable = 'YES' AS nullable,
	column_default AS dflt, extra AS extra, column_comment AS remarks, ordinal_position AS position
FROM information_schema.columns
WHERE table_schema = ? AND table_name = ?
ORDER BY ordinal_position`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	for _, c := range cols {
		t.Columns = append(t.Columns, &Column{
			Name:          c.Name,
			Type:          normalizeType(c.Type),
			Nullable:      c.Nullable,
			Default:       c.Default.String,
			AutoIncrement: strings.Contains(strings.ToLower(c.Extra), "auto_increment"),
			Remarks:       c.Remarks,
			Position:      c.Position,
		})
	}

	var fkCols []mysqlForeignKeyColumn
	err = m.db.SelectContext(ctx, &fkCols, `
SELECT k.constraint_name AS name, k.column_name AS column_name, k.referenced_table_name AS ref_table,
	k.referenced_column_name AS ref_column, r.delete_rule AS on_delete, r.update_rule AS on_update
FROM information_schema.key_column_usage k
JOIN information_schema.referential_constraints r
	ON r.constraint_schema = k.constraint_schema AND r.constraint_name = k.constraint_name
WHERE k.table_schema = ? AND k.table_name = ? AND k.referenced_table_name IS NOT NULL
ORDER BY k.constraint_name, k.ordinal_position`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	fks := map[string]*ForeignKey{}
	for _, c := range fkCols {
		fk, ok := fks[c.Name]
		if !ok {
			fk = &ForeignKey{
				Name:            c.Name,
				ReferencedTable: c.RefTable,
				OnDelete:        referentialAction(c.OnDelete),
				OnUpdate:        referentialAction(c.OnUpdate),
			}
			fks[c.Name] = fk
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		fk.Columns = append(fk.Columns, c.Column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, c.RefColumn)
	}

	var uniques []string
	err = m.db.SelectContext(ctx, &uniques, `
SELECT constraint_name FROM information_schema.table_constraints
WHERE table_schema = ? AND table_name = ? AND constraint_type = 'UNIQUE'`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	isUnique := map[string]bool{}
	for _, u := range uniques {
		isUnique[u] = true
	}

	var idxCols []mysqlIndexColumn
	err = m.db.SelectContext(ctx, &idxCols, `
SELECT index_name AS name, non_unique AS non_unique, column_name AS column_name
FROM information_schema.statistics
WHERE table_schema = ? AND table_name = ?
ORDER BY index_name, seq_in_index`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	indexes := map[string]*Index{}
	var order []string
	for _, c := range idxCols {
		ix, ok := indexes[c.Name]
		if !ok {
			ix = &Index{Name: c.Name, Unique: !c.NonUnique}
			indexes[c.Name] = ix
			order = append(order, c.Name)
		}
		ix.Columns = append(ix.Columns, c.Column)
	}
	for _, name := range order {
		ix := indexes[name]
		switch {
		case name == "PRIMARY":
			t.PrimaryKey = &PrimaryKey{Name: name, Columns: ix.Columns}
		case isUnique[name]:
			t.UniqueConstraints = append(t.UniqueConstraints, &UniqueConstraint{Name: name, Columns: ix.Columns})
		case fks[name] != nil:
			// implicit index of a foreign key
		default:
			t.Indexes = append(t.Indexes, ix)
		}
	}
	return nil
}

func (m *mysqlIntrospector) views(ctx context.Context, schema string) ([]*View, error) {
	var rows []struct {
		Name       string `db:"name"`
		Definition string `db:"definition"`
	}
	err := m.db.SelectContext(ctx, &rows, `SELECT table_name AS name, view_definition AS definition FROM information_schema.views WHERE table_schema = ? ORDER BY table_name`, schema)
	if err != nil {
		return nil, err
	}
	views := make([]*View, len(rows))
	for i, r := range rows {
		views[i] = &View{Name: r.Name, Definition: normalizeSQL(r.Definition)}
	}
	return views, nil
}

func (m *mysqlIntrospector) sequences(ctx context.Context, schema string) ([]*Sequence, error) {
	return nil, nil
}
