package snapshot

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

var viewBodyRe = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?VIEW\s+.*?\s+AS\s+(.*)$`)

type sqliteIntrospector struct {
	db *sqlx.DB
}

func (s *sqliteIntrospector) schema(ctx context.Context) (string, error) {
	return "main", nil
}

func (s *sqliteIntrospector) tables(ctx context.Context, schema string) ([]*Table, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	tables := make([]*Table, len(names))
	for i, n := range names {
		tables[i] = &Table{Name: n}
	}
	return tables, nil
}

type sqliteColumn struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull bool           `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

type sqliteIndex struct {
	Name   string `db:"name"`
	Unique bool   `db:"unique"`
	Origin string `db:"origin"`
}

type sqliteForeignKey struct {
	ID       int            `db:"id"`
	Seq      int            `db:"seq"`
	Table    string         `db:"table"`
	From     string         `db:"from"`
	To       sql.NullString `db:"to"`
	OnUpdate string         `db:"on_update"`
	OnDelete string         `db:"on_delete"`
}

func (s *sqliteIntrospector) describe(ctx context.Context, schema string, t *Table) error {
	var ddl string
	if err := s.db.GetContext(ctx, &ddl, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, t.Name); err != nil {
		return err
	}
	autoIncrement := strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT")

	var cols []sqliteColumn
	err := s.db.SelectContext(ctx, &cols, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, t.Name)
	if err != nil {
		return err
	}
	var pk []sqliteColumn
	for _, c := range cols {
		t.Columns = append(t.Columns, &Column{
			Name:          c.Name,
			Type:          normalizeType(c.Type),
			Nullable:      !c.NotNull && c.PK == 0,
			Default:       c.Default.String,
			AutoIncrement: autoIncrement && c.PK > 0,
			Position:      c.CID + 1,
		})
		if c.PK > 0 {
			pk = append(pk, c)
		}
	}
	if len(pk) > 0 {
		t.PrimaryKey = &PrimaryKey{}
		for rank := 1; rank <= len(pk); rank++ {
			for _, c := range pk {
				if c.PK == rank {
					t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, c.Name)
				}
			}
		}
	}

	var indexes []sqliteIndex
	if err := s.db.SelectContext(ctx, &indexes, `SELECT name, "unique", origin FROM pragma_index_list(?) ORDER BY name`, t.Name); err != nil {
		return err
	}
	for _, ix := range indexes {
		if ix.Origin == "pk" {
			continue
		}
		var names []sql.NullString
		if err := s.db.SelectContext(ctx, &names, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, ix.Name); err != nil {
			return err
		}
		columns := make([]string, len(names))
		for i, n := range names {
			columns[i] = n.String
		}
		if ix.Origin == "u" {
			t.UniqueConstraints = append(t.UniqueConstraints, &UniqueConstraint{Name: ix.Name, Columns: columns})
			continue
		}
		t.Indexes = append(t.Indexes, &Index{Name: ix.Name, Columns: columns, Unique: ix.Unique})
	}

	var fks []sqliteForeignKey
	err = s.db.SelectContext(ctx, &fks, `SELECT id, seq, "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.Name)
	if err != nil {
		return err
	}
	byID := map[int]*ForeignKey{}
	for _, fk := range fks {
		k, ok := byID[fk.ID]
		if !ok {
			k = &ForeignKey{
				ReferencedTable: fk.Table,
				OnDelete:        referentialAction(fk.OnDelete),
				OnUpdate:        referentialAction(fk.OnUpdate),
			}
			byID[fk.ID] = k
			t.ForeignKeys = append(t.ForeignKeys, k)
		}
		k.Columns = append(k.Columns, fk.From)
		k.ReferencedColumns = append(k.ReferencedColumns, fk.To.String)
	}
	// sqlite does not keep constraint names in its catalog
	for _, k := range t.ForeignKeys {
		k.Name = "fk_" + t.Name + "_" + strings.Join(k.Columns, "_")
	}
	return nil
}

func (s *sqliteIntrospector) views(ctx context.Context, schema string) ([]*View, error) {
	var rows []struct {
		Name string `db:"name"`
		SQL  string `db:"sql"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT name, sql FROM sqlite_master WHERE type = 'view' ORDER BY name`); err != nil {
		return nil, err
	}
	views := make([]*View, len(rows))
	for i, r := range rows {
		def := r.SQL
		if m := viewBodyRe.FindStringSubmatch(def); m != nil {
			def = m[1]
		}
		views[i] = &View{Name: r.Name, Definition: normalizeSQL(def)}
	}
	return views, nil
}

func (s *sqliteIntrospector) sequences(ctx context.Context, schema string) ([]*Sequence, error) {
	return nil, nil
}
