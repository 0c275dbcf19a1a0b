package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresIntrospector struct {
	db *sqlx.DB
}

func (p *postgresIntrospector) schema(ctx context.Context) (string, error) {
	var schema string
	err := p.db.GetContext(ctx, &schema, `SELECT current_schema()`)
	return schema, err
}

func (p *postgresIntrospector) tables(ctx context.Context, schema string) ([]*Table, error) {
	var rows []struct {
		Name    string `db:"name"`
		Remarks string `db:"remarks"`
	}
	err := p.db.SelectContext(ctx, &rows, `
SELECT c.relname AS name, COALESCE(obj_description(c.oid, 'pg_class'), '') AS remarks
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p') AND n.nspname = $1
ORDER BY c.relname`[1:], schema)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, len(rows))
	for i, r := range rows {
		tables[i] = &Table{Name: r.Name, Remarks: r.Remarks}
	}
	return tables, nil
}

type postgresColumn struct {
	Name      string         `db:"name"`
	UDT       string         `db:"udt_name"`
	Length    sql.NullInt64  `db:"length"`
	Precision sql.NullInt64  `db:"precision"`
	Scale     sql.NullInt64  `db:"scale"`
	Nullable  bool           `db:"nullable"`
	Default   sql.NullString `db:"dflt"`
	Identity  bool           `db:"identity"`
	Remarks   string         `db:"remarks"`
	Position  int            `db:"position"`
}

type postgresConstraint struct {
	Name       string         `db:"name"`
	Type       string         `db:"type"`
	Columns    pq.StringArray `db:"columns"`
	RefTable   string         `db:"ref_table"`
	RefColumns pq.StringArray `db:"ref_columns"`
	OnDelete   string         `db:"on_delete"`
	OnUpdate   string         `db:"on_update"`
}

func (p *postgresIntrospector) describe(ctx context.Context, schema string, t *Table) error {
	var cols []postgresColumn
	err := p.db.SelectContext(ctx, &cols, `
SELECT c.column_name AS name, c.udt_name,
	c.character_maximum_length AS length, c.numeric_precision AS precision, c.numeric_scale AS scale,
	c.is_nullable = 'YES' AS nullable, c.column_default AS dflt, c.is_identity = 'YES' AS identity,
	COALESCE(col_description(format('%I.%I', c.table_schema, c.table_name)::regclass, c.ordinal_position), '') AS remarks,
	c.ordinal_position AS position
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	for _, c := range cols {
		def := c.Default.String
		auto := c.Identity || strings.HasPrefix(def, "nextval(")
		if auto {
			def = ""
		}
		t.Columns = append(t.Columns, &Column{
			Name:          c.Name,
			Type:          postgresType(c),
			Nullable:      c.Nullable,
			Default:       def,
			AutoIncrement: auto,
			Remarks:       c.Remarks,
			Position:      c.Position,
		})
	}

	var cons []postgresConstraint
	err = p.db.SelectContext(ctx, &cons, `
SELECT con.conname AS name, con.contype::text AS type,
	ARRAY(SELECT a.attname FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum ORDER BY k.ord)::text[] AS columns,
	COALESCE(fc.relname, '') AS ref_table,
	ARRAY(SELECT a.attname FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum ORDER BY k.ord)::text[] AS ref_columns,
	con.confdeltype::text AS on_delete, con.confupdtype::text AS on_update
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_class fc ON fc.oid = con.confrelid
WHERE n.nspname = $1 AND c.relname = $2 AND con.contype IN ('p', 'u', 'f')
ORDER BY con.conname`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	for _, c := range cons {
		switch c.Type {
		case "p":
			t.PrimaryKey = &PrimaryKey{Name: c.Name, Columns: c.Columns}
		case "u":
			t.UniqueConstraints = append(t.UniqueConstraints, &UniqueConstraint{Name: c.Name, Columns: c.Columns})
		case "f":
			t.ForeignKeys = append(t.ForeignKeys, &ForeignKey{
				Name:              c.Name,
				Columns:           c.Columns,
				ReferencedTable:   c.RefTable,
				ReferencedColumns: c.RefColumns,
				OnDelete:          referentialAction(c.OnDelete),
				OnUpdate:          referentialAction(c.OnUpdate),
			})
		}
	}

	var indexes []struct {
		Name    string         `db:"name"`
		Unique  bool           `db:"is_unique"`
		Columns pq.StringArray `db:"columns"`
	}
	err = p.db.SelectContext(ctx, &indexes, `
SELECT i.relname AS name, ix.indisunique AS is_unique,
	ARRAY(SELECT pg_get_indexdef(ix.indexrelid, s.i, true) FROM generate_series(1, ix.indnatts) AS s(i) ORDER BY s.i)::text[] AS columns
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class c ON c.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2
	AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = ix.indexrelid)
ORDER BY i.relname`[1:], schema, t.Name)
	if err != nil {
		return err
	}
	for _, ix := range indexes {
		t.Indexes = append(t.Indexes, &Index{Name: ix.Name, Columns: ix.Columns, Unique: ix.Unique})
	}
	return nil
}

func postgresType(c postgresColumn) string {
	name := strings.TrimPrefix(c.UDT, "_")
	array := ""
	if name != c.UDT {
		array = "[]"
	}
	switch name {
	case "int2":
		name = "SMALLINT"
	case "int4":
		name = "INTEGER"
	case "int8":
		name = "BIGINT"
	case "bool":
		name = "BOOLEAN"
	case "float4":
		name = "REAL"
	case "float8":
		name = "DOUBLE PRECISION"
	case "timestamptz":
		name = "TIMESTAMP WITH TIME ZONE"
	case "timetz":
		name = "TIME WITH TIME ZONE"
	case "bpchar":
		name = "CHAR"
	case "numeric":
		if c.Precision.Valid && c.Scale.Valid {
			return fmt.Sprintf("NUMERIC(%d,%d)%s", c.Precision.Int64, c.Scale.Int64, array)
		}
	}
	name = strings.ToUpper(name)
	if c.Length.Valid {
		return fmt.Sprintf("%s(%d)%s", name, c.Length.Int64, array)
	}
	return name + array
}

func (p *postgresIntrospector) views(ctx context.Context, schema string) ([]*View, error) {
	var rows []struct {
		Name       string         `db:"name"`
		Definition sql.NullString `db:"definition"`
	}
	err := p.db.SelectContext(ctx, &rows, `SELECT table_name AS name, view_definition AS definition FROM information_schema.views WHERE table_schema = $1 ORDER BY table_name`, schema)
	if err != nil {
		return nil, err
	}
	views := make([]*View, len(rows))
	for i, r := range rows {
		views[i] = &View{Name: r.Name, Definition: normalizeSQL(r.Definition.String)}
	}
	return views, nil
}

func (p *postgresIntrospector) sequences(ctx context.Context, schema string) ([]*Sequence, error) {
	var seqs []*Sequence
	err := p.db.SelectContext(ctx, &seqs, `
SELECT s.sequencename AS name, s.start_value AS start, s.increment_by AS increment,
	s.min_value AS minvalue, s.max_value AS maxvalue, s.cycle
FROM pg_sequences s
WHERE s.schemaname = $1
	AND NOT EXISTS (
		SELECT 1 FROM pg_depend d
		JOIN pg_class sc ON sc.oid = d.objid
		JOIN pg_namespace sn ON sn.oid = sc.relnamespace
		WHERE sc.relname = s.sequencename AND sn.nspname = s.schemaname AND d.deptype IN ('a', 'i')
	)
ORDER BY s.sequencename`[1:], schema)
	return seqs, err
}
