package changelog

import (
	"context"
	"fmt"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// CreateTable creates a table.
type CreateTable struct {
	SchemaName  string   `json:"schemaName,omitempty"`
	TableName   string   `json:"tableName"`
	Columns     []Column `json:"columns"`
	Remarks     string   `json:"remarks,omitempty"`
	IfNotExists bool     `json:"ifNotExists,omitempty"`
	Tablespace  string   `json:"tablespace,omitempty"`
}

func (c *CreateTable) ChangeType() string { return "createTable" }
func (c *CreateTable) Describe() string   { return "Table " + c.TableName + " created" }

func (c *CreateTable) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *CreateTable) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	if len(c.Columns) == 0 {
		return nil, fmt.Errorf("createTable: table %s has no columns", c.TableName)
	}
	stmt := &dialect.CreateTable{
		Table:       table(c.SchemaName, c.TableName),
		IfNotExists: c.IfNotExists,
		Remarks:     env.expand(c.Remarks),
		Tablespace:  c.Tablespace,
	}
	for _, col := range c.Columns {
		def, err := col.columnDef(env, c.SchemaName)
		if err != nil {
			return nil, fmt.Errorf("createTable %s: %w", c.TableName, err)
		}
		if def.PrimaryKey && stmt.PrimaryKeyName == "" {
			stmt.PrimaryKeyName = col.Constraints.PrimaryKeyName
		}
		stmt.Columns = append(stmt.Columns, def)
	}
	return []dialect.Statement{stmt}, nil
}

func (c *CreateTable) Inverse() ([]Change, error) {
	return []Change{&DropTable{SchemaName: c.SchemaName, TableName: c.TableName}}, nil
}

// DropTable drops a table.
type DropTable struct {
	SchemaName         string `json:"schemaName,omitempty"`
	TableName          string `json:"tableName"`
	CascadeConstraints bool   `json:"cascadeConstraints,omitempty"`
}

func (c *DropTable) ChangeType() string { return "dropTable" }
func (c *DropTable) Describe() string   { return "Table " + c.TableName + " dropped" }

func (c *DropTable) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropTable) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropTable{Table: table(c.SchemaName, c.TableName), Cascade: c.CascadeConstraints}}, nil
}

// RenameTable renames a table.
type RenameTable struct {
	SchemaName   string `json:"schemaName,omitempty"`
	OldTableName string `json:"oldTableName"`
	NewTableName string `json:"newTableName"`
}

func (c *RenameTable) ChangeType() string { return "renameTable" }
func (c *RenameTable) Describe() string {
	return "Table " + c.OldTableName + " renamed to " + c.NewTableName
}

func (c *RenameTable) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *RenameTable) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "oldTableName", c.OldTableName, "newTableName", c.NewTableName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.RenameTable{Table: table(c.SchemaName, c.OldTableName), NewName: c.NewTableName}}, nil
}

func (c *RenameTable) Inverse() ([]Change, error) {
	return []Change{&RenameTable{SchemaName: c.SchemaName, OldTableName: c.NewTableName, NewTableName: c.OldTableName}}, nil
}

// SetTableRemarks sets the comment of a table.
type SetTableRemarks struct {
	SchemaName string `json:"schemaName,omitempty"`
	TableName  string `json:"tableName"`
	Remarks    string `json:"remarks"`
}

func (c *SetTableRemarks) ChangeType() string { return "setTableRemarks" }
func (c *SetTableRemarks) Describe() string   { return "Remarks set on " + c.TableName }

func (c *SetTableRemarks) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *SetTableRemarks) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.SetTableRemarks{Table: table(c.SchemaName, c.TableName), Remarks: env.expand(c.Remarks)}}, nil
}

// AddColumn adds columns to a table. Columns with a Value are filled after
// they were added.
type AddColumn struct {
	SchemaName string   `json:"schemaName,omitempty"`
	TableName  string   `json:"tableName"`
	Columns    []Column `json:"columns"`
}

func (c *AddColumn) ChangeType() string { return "addColumn" }
func (c *AddColumn) Describe() string {
	if len(c.Columns) == 1 {
		return "Column " + c.TableName + "." + c.Columns[0].Name + " added"
	}
	return fmt.Sprintf("%d columns added to %s", len(c.Columns), c.TableName)
}

func (c *AddColumn) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *AddColumn) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	if len(c.Columns) == 0 {
		return nil, fmt.Errorf("addColumn: no columns for %s", c.TableName)
	}
	var stmts, updates []dialect.Statement
	for _, col := range c.Columns {
		if col.BeforeColumn != "" {
			return nil, &dialect.UnsupportedError{Dialect: env.Dialect.Name(), Operation: "addColumn", Reason: "beforeColumn"}
		}
		def, err := col.columnDef(env, c.SchemaName)
		if err != nil {
			return nil, fmt.Errorf("addColumn %s: %w", c.TableName, err)
		}
		stmts = append(stmts, &dialect.AddColumn{
			Table:  table(c.SchemaName, c.TableName),
			Column: def,
			After:  col.AfterColumn,
			First:  col.Position == 1,
		})
		if col.Value != nil {
			v, err := col.Value.literal(env)
			if err != nil {
				return nil, fmt.Errorf("addColumn %s.%s: %w", c.TableName, col.Name, err)
			}
			updates = append(updates, &dialect.Update{
				Table: table(c.SchemaName, c.TableName),
				Set:   []dialect.Assignment{{Column: col.Name, Value: v}},
			})
		}
	}
	return append(stmts, updates...), nil
}

func (c *AddColumn) Inverse() ([]Change, error) {
	inverse := make([]Change, 0, len(c.Columns))
	for i := len(c.Columns) - 1; i >= 0; i-- {
		inverse = append(inverse, &DropColumn{SchemaName: c.SchemaName, TableName: c.TableName, ColumnName: c.Columns[i].Name})
	}
	return inverse, nil
}

// DropColumn drops a column.
type DropColumn struct {
	SchemaName string `json:"schemaName,omitempty"`
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
}

func (c *DropColumn) ChangeType() string { return "dropColumn" }
func (c *DropColumn) Describe() string {
	return "Column " + c.TableName + "." + c.ColumnName + " dropped"
}

func (c *DropColumn) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropColumn) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropColumn{Table: table(c.SchemaName, c.TableName), Column: c.ColumnName}}, nil
}

// RenameColumn renames a column.
type RenameColumn struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	OldColumnName  string `json:"oldColumnName"`
	NewColumnName  string `json:"newColumnName"`
	ColumnDataType string `json:"columnDataType,omitempty"`
}

func (c *RenameColumn) ChangeType() string { return "renameColumn" }
func (c *RenameColumn) Describe() string {
	return "Column " + c.TableName + "." + c.OldColumnName + " renamed to " + c.NewColumnName
}

func (c *RenameColumn) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *RenameColumn) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "oldColumnName", c.OldColumnName, "newColumnName", c.NewColumnName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.RenameColumn{Table: table(c.SchemaName, c.TableName), Column: c.OldColumnName, NewName: c.NewColumnName}}, nil
}

func (c *RenameColumn) Inverse() ([]Change, error) {
	return []Change{&RenameColumn{
		SchemaName:     c.SchemaName,
		TableName:      c.TableName,
		OldColumnName:  c.NewColumnName,
		NewColumnName:  c.OldColumnName,
		ColumnDataType: c.ColumnDataType,
	}}, nil
}

// ModifyDataType changes the type of a column.
type ModifyDataType struct {
	SchemaName  string `json:"schemaName,omitempty"`
	TableName   string `json:"tableName"`
	ColumnName  string `json:"columnName"`
	NewDataType string `json:"newDataType"`
}

func (c *ModifyDataType) ChangeType() string { return "modifyDataType" }
func (c *ModifyDataType) Describe() string {
	return c.TableName + "." + c.ColumnName + " datatype was changed to " + c.NewDataType
}

func (c *ModifyDataType) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *ModifyDataType) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName, "newDataType", c.NewDataType); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.ModifyDataType{Table: table(c.SchemaName, c.TableName), Column: c.ColumnName, Type: c.NewDataType}}, nil
}

// SetColumnRemarks sets the comment of a column. MySQL needs
// ColumnDataType.
type SetColumnRemarks struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnName     string `json:"columnName"`
	ColumnDataType string `json:"columnDataType,omitempty"`
	Remarks        string `json:"remarks"`
}

func (c *SetColumnRemarks) ChangeType() string { return "setColumnRemarks" }
func (c *SetColumnRemarks) Describe() string {
	return "Remarks set on " + c.TableName + "." + c.ColumnName
}

func (c *SetColumnRemarks) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *SetColumnRemarks) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.SetColumnRemarks{
		Table:   table(c.SchemaName, c.TableName),
		Column:  c.ColumnName,
		Type:    c.ColumnDataType,
		Remarks: env.expand(c.Remarks),
	}}, nil
}

// AddDefaultValue sets the default of a column.
type AddDefaultValue struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnName     string `json:"columnName"`
	ColumnDataType string `json:"columnDataType,omitempty"`
	DefaultValue   *Value `json:"defaultValue"`
}

func (c *AddDefaultValue) ChangeType() string { return "addDefaultValue" }
func (c *AddDefaultValue) Describe() string {
	return "Default value added to " + c.TableName + "." + c.ColumnName
}

func (c *AddDefaultValue) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *AddDefaultValue) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	if c.DefaultValue == nil {
		return nil, fmt.Errorf("addDefaultValue: defaultValue is required")
	}
	v, err := c.DefaultValue.literal(env)
	if err != nil {
		return nil, fmt.Errorf("addDefaultValue %s.%s: %w", c.TableName, c.ColumnName, err)
	}
	return []dialect.Statement{&dialect.AddDefault{Table: table(c.SchemaName, c.TableName), Column: c.ColumnName, Type: c.ColumnDataType, Value: v}}, nil
}

func (c *AddDefaultValue) Inverse() ([]Change, error) {
	return []Change{&DropDefaultValue{SchemaName: c.SchemaName, TableName: c.TableName, ColumnName: c.ColumnName, ColumnDataType: c.ColumnDataType}}, nil
}

// DropDefaultValue removes the default of a column.
type DropDefaultValue struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnName     string `json:"columnName"`
	ColumnDataType string `json:"columnDataType,omitempty"`
}

func (c *DropDefaultValue) ChangeType() string { return "dropDefaultValue" }
func (c *DropDefaultValue) Describe() string {
	return "Default value dropped from " + c.TableName + "." + c.ColumnName
}

func (c *DropDefaultValue) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *DropDefaultValue) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropDefault{Table: table(c.SchemaName, c.TableName), Column: c.ColumnName}}, nil
}

// AddNotNullConstraint makes a column NOT NULL. Existing NULLs are replaced
// by DefaultNullValue first when it is set. MySQL needs ColumnDataType.
type AddNotNullConstraint struct {
	SchemaName       string `json:"schemaName,omitempty"`
	TableName        string `json:"tableName"`
	ColumnName       string `json:"columnName"`
	ColumnDataType   string `json:"columnDataType,omitempty"`
	DefaultNullValue *Value `json:"defaultNullValue,omitempty"`
	ConstraintName   string `json:"constraintName,omitempty"`
}

func (c *AddNotNullConstraint) ChangeType() string { return "addNotNullConstraint" }
func (c *AddNotNullConstraint) Describe() string {
	return "Null constraint has been added to " + c.TableName + "." + c.ColumnName
}

func (c *AddNotNullConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *AddNotNullConstraint) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	t := table(c.SchemaName, c.TableName)
	var stmts []dialect.Statement
	if c.DefaultNullValue != nil {
		v, err := c.DefaultNullValue.literal(env)
		if err != nil {
			return nil, fmt.Errorf("addNotNullConstraint %s.%s: %w", c.TableName, c.ColumnName, err)
		}
		stmts = append(stmts, &dialect.Update{
			Table: t,
			Set:   []dialect.Assignment{{Column: c.ColumnName, Value: v}},
			Where: env.Dialect.Quote(c.ColumnName) + " IS NULL",
		})
	}
	return append(stmts, &dialect.SetNullable{
		Table:          t,
		Column:         c.ColumnName,
		Type:           c.ColumnDataType,
		ConstraintName: c.ConstraintName,
	}), nil
}

func (c *AddNotNullConstraint) Inverse() ([]Change, error) {
	return []Change{&DropNotNullConstraint{
		SchemaName:     c.SchemaName,
		TableName:      c.TableName,
		ColumnName:     c.ColumnName,
		ColumnDataType: c.ColumnDataType,
		ConstraintName: c.ConstraintName,
	}}, nil
}

// DropNotNullConstraint makes a column nullable.
type DropNotNullConstraint struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnName     string `json:"columnName"`
	ColumnDataType string `json:"columnDataType,omitempty"`
	ConstraintName string `json:"constraintName,omitempty"`
}

func (c *DropNotNullConstraint) ChangeType() string { return "dropNotNullConstraint" }
func (c *DropNotNullConstraint) Describe() string {
	return "Null constraint dropped from " + c.TableName + "." + c.ColumnName
}

func (c *DropNotNullConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *DropNotNullConstraint) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnName", c.ColumnName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.SetNullable{
		Table:          table(c.SchemaName, c.TableName),
		Column:         c.ColumnName,
		Type:           c.ColumnDataType,
		Nullable:       true,
		ConstraintName: c.ConstraintName,
	}}, nil
}

func (c *DropNotNullConstraint) Inverse() ([]Change, error) {
	return []Change{&AddNotNullConstraint{
		SchemaName:     c.SchemaName,
		TableName:      c.TableName,
		ColumnName:     c.ColumnName,
		ColumnDataType: c.ColumnDataType,
		ConstraintName: c.ConstraintName,
	}}, nil
}
