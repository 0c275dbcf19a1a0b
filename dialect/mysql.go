package dialect

import (
	sq "github.com/Masterminds/squirrel"
)

type mysqlDialect struct {
	base
}

// MySQL returns the MySQL dialect. version may be empty.
//
// The driver must be opened with parseTime=true for ledger timestamps to
// scan into time.Time.
func MySQL(version string) Dialect {
	return &mysqlDialect{base: base{
		name:        NameMySQL,
		driver:      "mysql",
		version:     version,
		quoteOpen:   "`",
		quoteClose:  "`",
		strategy:    QuoteLegacy,
		placeholder: sq.Question,
		types: map[string]string{
			"INT":              "INT",
			"INTEGER":          "INT",
			"INT4":             "INT",
			"INT8":             "BIGINT",
			"BOOL":             "TINYINT(1)",
			"BOOLEAN":          "TINYINT(1)",
			"CLOB":             "LONGTEXT",
			"TEXT":             "LONGTEXT",
			"TIMESTAMP":        "DATETIME",
			"DATETIME":         "DATETIME",
			"UUID":             "CHAR(36)",
			"BLOB":             "LONGBLOB",
			"BYTEA":            "LONGBLOB",
			"DOUBLE PRECISION": "DOUBLE",
			"CURRENCY":         "DECIMAL(18,4)",
		},
	}}
}

func (d *mysqlDialect) WithQuoting(s QuotingStrategy) Dialect {
	c := *d
	c.strategy = s
	return &c
}

func (d *mysqlDialect) ColumnType(t string, autoIncrement bool) string {
	mapped := d.base.ColumnType(t, false)
	if autoIncrement {
		return mapped + " AUTO_INCREMENT"
	}
	return mapped
}

func (d *mysqlDialect) Literal(v interface{}) (string, error) {
	switch v.(type) {
	case NextVal, CurrVal, *NextVal, *CurrVal:
		return "", &UnsupportedError{Dialect: d.name, Operation: "sequence value", Reason: "mysql has no sequences"}
	default:
		return d.literal(v, "1", "0", true)
	}
}

func (d *mysqlDialect) SupportsDDLTransactions() bool { return false }
func (d *mysqlDialect) SupportsSequences() bool       { return false }

func (d *mysqlDialect) CurrentUserQuery() string {
	return "SELECT SUBSTRING_INDEX(CURRENT_USER(), '@', 1)"
}

func (d *mysqlDialect) TableExistsQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []interface{}{table}
}

func (d *mysqlDialect) Generate(stmt Statement) ([]string, error) {
	o := tableOpts{inlineComments: true}
	switch s := stmt.(type) {
	case *AddColumn:
		def, err := columnDef(d, s.Column, o, false)
		if err != nil {
			return nil, err
		}
		if s.Column.PrimaryKey {
			def += " PRIMARY KEY"
		}
		sql := "ALTER TABLE " + d.QuoteName(s.Table) + " ADD " + def
		switch {
		case s.First:
			sql += " FIRST"
		case s.After != "":
			sql += " AFTER " + d.Quote(s.After)
		}
		return one(sql)
	case *SetTableRemarks:
		lit, err := d.Literal(s.Remarks)
		if err != nil {
			return nil, err
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " COMMENT = " + lit)
	case *SetColumnRemarks:
		if s.Type == "" {
			return nil, &UnsupportedError{Dialect: d.name, Operation: "setColumnRemarks", Reason: "column type is required"}
		}
		lit, err := d.Literal(s.Remarks)
		if err != nil {
			return nil, err
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " MODIFY " + d.Quote(s.Column) + " " + d.ColumnType(s.Type, false) + " COMMENT " + lit)
	case *ModifyDataType:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " MODIFY " + d.Quote(s.Column) + " " + d.ColumnType(s.Type, false))
	case *SetNullable:
		if s.Type == "" {
			return nil, &UnsupportedError{Dialect: d.name, Operation: "setNullable", Reason: "column data type is required"}
		}
		null := " NOT NULL"
		if s.Nullable {
			null = " NULL"
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " MODIFY " + d.Quote(s.Column) + " " + d.ColumnType(s.Type, false) + null)
	case *AddDefault:
		lit, err := d.Literal(s.Value)
		if err != nil {
			return nil, err
		}
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER " + d.Quote(s.Column) + " SET DEFAULT " + lit)
	case *DropDefault:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " ALTER " + d.Quote(s.Column) + " DROP DEFAULT")
	case *CreateIndex:
		return one(createIndex(d, s, false))
	case *DropIndex:
		return one("DROP INDEX " + d.Quote(s.Name) + " ON " + d.QuoteName(s.Table))
	case *DropPrimaryKey:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP PRIMARY KEY")
	case *DropUnique:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP INDEX " + d.Quote(s.Name))
	case *AddForeignKey:
		if s.Deferrable || s.InitiallyDeferred {
			return nil, &UnsupportedError{Dialect: d.name, Operation: "addForeignKeyConstraint", Reason: "deferrable constraints"}
		}
	case *DropForeignKey:
		return one("ALTER TABLE " + d.QuoteName(s.Table) + " DROP FOREIGN KEY " + d.Quote(s.Name))
	case *RenameView:
		return one("RENAME TABLE " + d.QuoteName(s.View) + " TO " + d.Quote(s.NewName))
	case *CreateSequence, *AlterSequence, *DropSequence, *RenameSequence:
		return nil, unsupported(d, operation(stmt))
	}
	return generate(d, stmt, o)
}
