package dialect

import (
	"fmt"
	"strings"
)

// tableOpts switches the few table level differences the generic
// generators know about.
type tableOpts struct {
	// inlineAutoIncrementPK renders a single auto increment primary key
	// column as "INTEGER PRIMARY KEY AUTOINCREMENT".
	inlineAutoIncrementPK bool
	// inlineComments renders remarks as COMMENT clauses.
	inlineComments bool
	// cascade is supported by DROP TABLE.
	cascade bool
}

// generate lowers the statements whose SQL is shared by all dialects.
func generate(d Dialect, stmt Statement, o tableOpts) ([]string, error) {
	switch s := stmt.(type) {
	case *CreateTable:
		return createTable(d, s, o)
	case *DropTable:
		sql := "DROP TABLE "
		if s.IfExists {
			sql += "IF EXISTS "
		}
		sql += d.QuoteName(s.Table)
		if s.Cascade && o.cascade {
			sql += " CASCADE"
		}
		return one(sql)
	case *RenameTable:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " RENAME TO " + d.Quote(s.NewName))
	case *AddColumn:
		if s.After != "" || s.First {
			return nil, &UnsupportedError{Dialect: d.Name(), Operation: "addColumn", Reason: "column positioning"}
		}
		def, err := columnDef(d, s.Column, o, false)
		if err != nil {
			return nil, err
		}
		if s.Column.PrimaryKey {
			def += " PRIMARY KEY"
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ADD COLUMN " + def)
	case *DropColumn:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP COLUMN " + d.Quote(s.Column))
	case *RenameColumn:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " RENAME COLUMN " + d.Quote(s.Column) + " TO " + d.Quote(s.NewName))
	case *CreateIndex:
		return one(createIndex(d, s, true))
	case *DropIndex:
		return one("DROP INDEX " + d.QuoteName(Name{Schema: s.Table.Schema, Name: s.Name}))
	case *AddPrimaryKey:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ADD " + constraint(d, s.Name) + "PRIMARY KEY (" + quoteAll(d, s.Columns) + ")")
	case *DropPrimaryKey:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP CONSTRAINT " + d.Quote(s.Name))
	case *AddUnique:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ADD " + constraint(d, s.Name) + "UNIQUE (" + quoteAll(d, s.Columns) + ")")
	case *DropUnique:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP CONSTRAINT " + d.Quote(s.Name))
	case *AddForeignKey:
		sql := "ALTER TABLE " + d.QuoteName(s.Table) + " ADD " + foreignKey(d, s.Name, s.Columns, s.Referenced, s.ReferencedColumns, s.OnDelete)
		if s.OnUpdate != "" {
			sql += " ON UPDATE " + strings.ToUpper(s.OnUpdate)
		}
		if s.Deferrable {
			sql += " DEFERRABLE"
		}
		if s.InitiallyDeferred {
			sql += " INITIALLY DEFERRED"
		}
		return one(sql)
	case *DropForeignKey:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP CONSTRAINT " + d.Quote(s.Name))
	case *CreateView:
		sql := "CREATE "
		if s.Replace {
			sql += "OR REPLACE "
		}
		return one(sql + "VIEW " + d.QuoteName(s.View) + " AS " + s.Query)
	case *DropView:
		sql := "DROP VIEW "
		if s.IfExists {
			sql += "IF EXISTS "
		}
		return one(sql + d.QuoteName(s.View))
	case *Insert:
		if len(s.Columns) != len(s.Values) {
			return nil, fmt.Errorf("insert into %s: %d columns but %d values", s.Table.Name, len(s.Columns), len(s.Values))
		}
		values := make([]string, len(s.Values))
		for i, v := range s.Values {
			lit, err := d.Literal(v)
			if err != nil {
				return nil, err
			}
			values[i] = lit
		}
		return one("INSERT INTO " + d.QuoteName(s.Table) + " (" + quoteAll(d, s.Columns) + ") VALUES (" + strings.Join(values, ", ") + ")")
	case *Update:
		if len(s.Set) == 0 {
			return nil, fmt.Errorf("update of %s has no columns", s.Table.Name)
		}
		set := make([]string, len(s.Set))
		for i, a := range s.Set {
			lit, err := d.Literal(a.Value)
			if err != nil {
				return nil, err
			}
			set[i] = d.Quote(a.Column) + " = " + lit
		}
		return one("UPDATE " + d.QuoteName(s.Table) + " SET " + strings.Join(set, ", ") + where(s.Where))
	case *Delete:
		return one("DELETE FROM " + d.QuoteName(s.Table) + where(s.Where))
	case *Raw:
		return one(s.SQL)
	}
	return nil, unsupported(d, operation(stmt))
}

func createTable(d Dialect, s *CreateTable, o tableOpts) ([]string, error) {
	var pk []ColumnDef
	for _, c := range s.Columns {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	inlinePK := o.inlineAutoIncrementPK && len(pk) == 1 && pk[0].AutoIncrement

	defs := make([]string, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		def, err := columnDef(d, c, o, inlinePK && c.PrimaryKey)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(pk) > 0 && !inlinePK {
		names := make([]string, len(pk))
		for i, c := range pk {
			names[i] = c.Name
		}
		defs = append(defs, constraint(d, s.PrimaryKeyName)+"PRIMARY KEY ("+quoteAll(d, names)+")")
	}
	for _, c := range s.Columns {
		if c.References != nil {
			defs = append(defs, foreignKey(d, c.References.Name, []string{c.Name}, c.References.Table, c.References.Columns, c.References.OnDelete))
		}
	}

	sql := "CREATE TABLE "
	if s.IfNotExists {
		sql += "IF NOT EXISTS "
	}
	sql += d.QuoteName(s.Table) + " (" + strings.Join(defs, ", ") + ")"
	if o.inlineComments && s.Remarks != "" {
		lit, err := d.Literal(s.Remarks)
		if err != nil {
			return nil, err
		}
		sql += " COMMENT=" + lit
	}
	return []string{sql}, nil
}

func columnDef(d Dialect, c ColumnDef, o tableOpts, inlinePK bool) (string, error) {
	var b strings.Builder
	b.WriteString(d.Quote(c.Name))
	b.WriteString(" ")
	if inlinePK {
		b.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
	} else {
		b.WriteString(d.ColumnType(c.Type, c.AutoIncrement))
	}
	if c.Default != nil {
		lit, err := d.Literal(c.Default)
		if err != nil {
			return "", err
		}
		b.WriteString(" DEFAULT ")
		b.WriteString(lit)
	}
	if c.NotNull && !inlinePK {
		b.WriteString(" NOT NULL")
	}
	if c.Unique {
		b.WriteString(" ")
		b.WriteString(constraint(d, c.UniqueName))
		b.WriteString("UNIQUE")
	}
	if c.Check != "" {
		b.WriteString(" CHECK (")
		b.WriteString(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(c.Check), "("), ")"))
		b.WriteString(")")
	}
	if o.inlineComments && c.Remarks != "" {
		lit, err := d.Literal(c.Remarks)
		if err != nil {
			return "", err
		}
		b.WriteString(" COMMENT ")
		b.WriteString(lit)
	}
	return b.String(), nil
}

func createIndex(d Dialect, s *CreateIndex, ifNotExists bool) string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		if c.Computed {
			cols[i] = c.Name
		} else {
			cols[i] = d.Quote(c.Name)
		}
		if c.Descending {
			cols[i] += " DESC"
		}
	}
	sql := "CREATE "
	if s.Unique {
		sql += "UNIQUE "
	}
	sql += "INDEX "
	if s.IfNotExists && ifNotExists {
		sql += "IF NOT EXISTS "
	}
	return sql + d.Quote(s.Name) + " ON " + d.QuoteName(s.Table) + " (" + strings.Join(cols, ", ") + ")"
}

func foreignKey(d Dialect, name string, cols []string, ref Name, refCols []string, onDelete string) string {
	sql := constraint(d, name) + "FOREIGN KEY (" + quoteAll(d, cols) + ") REFERENCES " + d.QuoteName(ref)
	if len(refCols) > 0 {
		sql += " (" + quoteAll(d, refCols) + ")"
	}
	if onDelete != "" {
		sql += " ON DELETE " + strings.ToUpper(onDelete)
	}
	return sql
}

func constraint(d Dialect, name string) string {
	if name == "" {
		return ""
	}
	return "CONSTRAINT " + d.Quote(name) + " "
}

func where(w string) string {
	if strings.TrimSpace(w) == "" {
		return ""
	}
	return " WHERE " + w
}

func one(sql string) ([]string, error) {
	return []string{sql}, nil
}

// operation returns the statement type name in the lower camel case used
// by change types, e.g. "modifyDataType".
func operation(stmt Statement) string {
	name := fmt.Sprintf("%T", stmt)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}
