package dialect

import (
	sq "github.com/Masterminds/squirrel"
)

type sqlite struct {
	base
}

// SQLite returns the SQLite dialect. version may be empty.
func SQLite(version string) Dialect {
	return &sqlite{base: base{
		name:        NameSQLite,
		driver:      "sqlite3",
		version:     version,
		quoteOpen:   `"`,
		quoteClose:  `"`,
		strategy:    QuoteLegacy,
		placeholder: sq.Question,
		types: map[string]string{
			"INT":               "INTEGER",
			"INTEGER":           "INTEGER",
			"INT4":              "INTEGER",
			"BOOL":              "BOOLEAN",
			"BOOLEAN":           "BOOLEAN",
			"CLOB":              "TEXT",
			"TEXT":              "TEXT",
			"LONGTEXT":          "TEXT",
			"DATETIME":          "TIMESTAMP",
			"TIMESTAMP":         "TIMESTAMP",
			"UUID":              "CHAR(36)",
			"BYTEA":             "BLOB",
			"LONGBLOB":          "BLOB",
			"DOUBLE":            "DOUBLE",
			"DOUBLE PRECISION":  "DOUBLE",
			"CURRENCY":          "DECIMAL(18,4)",
			"NVARCHAR":          "NVARCHAR",
			"CHARACTER VARYING": "VARCHAR",
		},
	}}
}

func (d *sqlite) WithQuoting(s QuotingStrategy) Dialect {
	c := *d
	c.strategy = s
	return &c
}

func (d *sqlite) ColumnType(t string, autoIncrement bool) string {
	if autoIncrement {
		return "INTEGER"
	}
	return d.base.ColumnType(t, false)
}

func (d *sqlite) Literal(v interface{}) (string, error) {
	switch v := v.(type) {
	case NextVal, CurrVal, *NextVal, *CurrVal:
		return "", &UnsupportedError{Dialect: d.name, Operation: "sequence value", Reason: "sqlite has no sequences"}
	default:
		return d.literal(v, "1", "0", false)
	}
}

func (d *sqlite) SupportsDDLTransactions() bool { return true }
func (d *sqlite) SupportsSequences() bool       { return false }
func (d *sqlite) CurrentUserQuery() string      { return "" }

func (d *sqlite) TableExistsQuery(table string) (string, []interface{}) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []interface{}{table}
}

func (d *sqlite) Generate(stmt Statement) ([]string, error) {
	switch s := stmt.(type) {
	case *DropColumn:
		if !d.atLeast("3.35.0") {
			return nil, &UnsupportedError{Dialect: d.name, Operation: "dropColumn", Reason: "requires sqlite 3.35.0, have " + d.version}
		}
	case *RenameColumn:
		if !d.atLeast("3.25.0") {
			return nil, &UnsupportedError{Dialect: d.name, Operation: "renameColumn", Reason: "requires sqlite 3.25.0, have " + d.version}
		}
	case *CreateView:
		if s.Replace {
			drop := "DROP VIEW IF EXISTS " + d.QuoteName(s.View)
			return []string{drop, "CREATE VIEW " + d.QuoteName(s.View) + " AS " + s.Query}, nil
		}
	case *SetTableRemarks, *SetColumnRemarks, *ModifyDataType, *SetNullable,
		*AddDefault, *DropDefault, *AddPrimaryKey, *DropPrimaryKey,
		*AddUnique, *DropUnique, *AddForeignKey, *DropForeignKey,
		*RenameView, *CreateSequence, *AlterSequence, *DropSequence, *RenameSequence:
		return nil, unsupported(d, operation(stmt))
	}
	return generate(d, stmt, tableOpts{inlineAutoIncrementPK: true})
}
