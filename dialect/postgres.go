package dialect

import (
	"encoding/hex"

	sq "github.com/Masterminds/squirrel"
)

type postgres struct {
	base
}

// Postgres returns the PostgreSQL dialect. version may be empty.
func Postgres(version string) Dialect {
	return &postgres{base: base{
		name:        NamePostgres,
		driver:      "postgres",
		version:     version,
		quoteOpen:   `"`,
		quoteClose:  `"`,
		strategy:    QuoteLegacy,
		foldsToLow:  true,
		placeholder: sq.Dollar,
		types: map[string]string{
			"INT":       "INTEGER",
			"INTEGER":   "INTEGER",
			"INT4":      "INTEGER",
			"INT8":      "BIGINT",
			"TINYINT":   "SMALLINT",
			"BOOL":      "BOOLEAN",
			"BOOLEAN":   "BOOLEAN",
			"BIT":       "BOOLEAN",
			"CLOB":      "TEXT",
			"LONGTEXT":  "TEXT",
			"DATETIME":  "TIMESTAMP",
			"BLOB":      "BYTEA",
			"LONGBLOB":  "BYTEA",
			"DOUBLE":    "DOUBLE PRECISION",
			"FLOAT":     "DOUBLE PRECISION",
			"CURRENCY":  "DECIMAL(18,4)",
			"NVARCHAR":  "VARCHAR",
			"TIMESTAMP": "TIMESTAMP",
			"UUID":      "UUID",
		},
	}}
}

func (d *postgres) WithQuoting(s QuotingStrategy) Dialect {
	c := *d
	c.strategy = s
	return &c
}

func (d *postgres) ColumnType(t string, autoIncrement bool) string {
	mapped := d.base.ColumnType(t, false)
	if autoIncrement {
		return mapped + " GENERATED BY DEFAULT AS IDENTITY"
	}
	return mapped
}

func (d *postgres) Literal(v interface{}) (string, error) {
	switch v := v.(type) {
	case NextVal:
		return "nextval('" + d.QuoteName(v.Sequence) + "')", nil
	case *NextVal:
		return "nextval('" + d.QuoteName(v.Sequence) + "')", nil
	case CurrVal:
		return "currval('" + d.QuoteName(v.Sequence) + "')", nil
	case *CurrVal:
		return "currval('" + d.QuoteName(v.Sequence) + "')", nil
	case []byte:
		return `'\x` + hex.EncodeToString(v) + `'::bytea`, nil
	default:
		return d.literal(v, "TRUE", "FALSE", false)
	}
}

func (d *postgres) SupportsDDLTransactions() bool { return true }
func (d *postgres) SupportsSequences() bool       { return true }
func (d *postgres) CurrentUserQuery() string      { return "SELECT current_user" }

func (d *postgres) TableExistsQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1", []interface{}{table}
}

func (d *postgres) Generate(stmt Statement) ([]string, error) {
	switch s := stmt.(type) {
	case *CreateTable:
		stmts, err := createTable(d, s, tableOpts{cascade: true})
		if err != nil {
			return nil, err
		}
		if s.Remarks != "" {
			c, err := d.Generate(&SetTableRemarks{Table: s.Table, Remarks: s.Remarks})
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, c...)
		}
		for _, col := range s.Columns {
			if col.Remarks == "" {
				continue
			}
			c, err := d.Generate(&SetColumnRemarks{Table: s.Table, Column: col.Name, Remarks: col.Remarks})
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, c...)
		}
		return stmts, nil
	case *SetTableRemarks:
		lit, err := d.Literal(s.Remarks)
		if err != nil {
			return nil, err
		}
		return one("COMMENT ON TABLE " + d.QuoteName(s.Table) + " IS " + lit)
	case *SetColumnRemarks:
		lit, err := d.Literal(s.Remarks)
		if err != nil {
			return nil, err
		}
		return one("COMMENT ON COLUMN " + d.QuoteName(s.Table) + "." + d.Quote(s.Column) + " IS " + lit)
	case *ModifyDataType:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER COLUMN " + d.Quote(s.Column) + " TYPE " + d.ColumnType(s.Type, false))
	case *SetNullable:
		action := " SET NOT NULL"
		if s.Nullable {
			action = " DROP NOT NULL"
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER COLUMN " + d.Quote(s.Column) + action)
	case *AddDefault:
		lit, err := d.Literal(s.Value)
		if err != nil {
			return nil, err
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER COLUMN " + d.Quote(s.Column) + " SET DEFAULT " + lit)
	case *DropDefault:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER COLUMN " + d.Quote(s.Column) + " DROP DEFAULT")
	case *DropPrimaryKey:
		name := s.Name
		if name == "" {
			name = s.Table.Name + "_pkey"
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP CONSTRAINT " + d.Quote(name))
	case *RenameView:
		return one("ALTER VIEW " + d.QuoteName(s.View) + " RENAME TO " + d.Quote(s.NewName))
	case *CreateSequence:
		sql := "CREATE SEQUENCE " + d.QuoteName(s.Sequence) +
			int64Clause("INCREMENT BY", s.Increment) +
			int64Clause("MINVALUE", s.MinValue) +
			int64Clause("MAXVALUE", s.MaxValue) +
			int64Clause("START WITH", s.Start)
		if s.Cycle {
			sql += " CYCLE"
		}
		return one(sql)
	case *AlterSequence:
		sql := "ALTER SEQUENCE " + d.QuoteName(s.Sequence) +
			int64Clause("INCREMENT BY", s.Increment) +
			int64Clause("MINVALUE", s.MinValue) +
			int64Clause("MAXVALUE", s.MaxValue)
		if s.Cycle != nil {
			if *s.Cycle {
				sql += " CYCLE"
			} else {
				sql += " NO CYCLE"
			}
		}
		return one(sql)
	case *DropSequence:
		return one("DROP SEQUENCE " + d.QuoteName(s.Sequence))
	case *RenameSequence:
		return one("ALTER SEQUENCE " + d.QuoteName(s.Sequence) + " RENAME TO " + d.Quote(s.NewName))
	case *AddColumn:
		stmts, err := generate(d, s, tableOpts{cascade: true})
		if err != nil || s.Column.Remarks == "" {
			return stmts, err
		}
		c, err := d.Generate(&SetColumnRemarks{Table: s.Table, Column: s.Column.Name, Remarks: s.Column.Remarks})
		if err != nil {
			return nil, err
		}
		return append(stmts, c...), nil
	}
	return generate(d, stmt, tableOpts{cascade: true})
}

