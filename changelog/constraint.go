package changelog

import (
	"context"
	"fmt"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// AddPrimaryKey adds a primary key. ColumnNames is a comma separated list.
type AddPrimaryKey struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnNames    string `json:"columnNames"`
	ConstraintName string `json:"constraintName,omitempty"`
}

func (c *AddPrimaryKey) ChangeType() string { return "addPrimaryKey" }
func (c *AddPrimaryKey) Describe() string   { return "Primary key added to " + c.TableName }

func (c *AddPrimaryKey) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *AddPrimaryKey) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnNames", c.ColumnNames); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.AddPrimaryKey{Table: table(c.SchemaName, c.TableName), Name: c.ConstraintName, Columns: splitNames(c.ColumnNames)}}, nil
}

func (c *AddPrimaryKey) Inverse() ([]Change, error) {
	return []Change{&DropPrimaryKey{SchemaName: c.SchemaName, TableName: c.TableName, ConstraintName: c.ConstraintName}}, nil
}

// DropPrimaryKey drops the primary key of a table.
type DropPrimaryKey struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ConstraintName string `json:"constraintName,omitempty"`
}

func (c *DropPrimaryKey) ChangeType() string { return "dropPrimaryKey" }
func (c *DropPrimaryKey) Describe() string   { return "Primary key dropped from " + c.TableName }

func (c *DropPrimaryKey) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropPrimaryKey) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropPrimaryKey{Table: table(c.SchemaName, c.TableName), Name: c.ConstraintName}}, nil
}

// AddUniqueConstraint adds a unique constraint.
type AddUniqueConstraint struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ColumnNames    string `json:"columnNames"`
	ConstraintName string `json:"constraintName"`
}

func (c *AddUniqueConstraint) ChangeType() string { return "addUniqueConstraint" }
func (c *AddUniqueConstraint) Describe() string {
	return "Unique constraint added to " + c.TableName + "(" + c.ColumnNames + ")"
}

func (c *AddUniqueConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *AddUniqueConstraint) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "columnNames", c.ColumnNames); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.AddUnique{Table: table(c.SchemaName, c.TableName), Name: c.ConstraintName, Columns: splitNames(c.ColumnNames)}}, nil
}

func (c *AddUniqueConstraint) Inverse() ([]Change, error) {
	if c.ConstraintName == "" {
		return nil, fmt.Errorf("addUniqueConstraint on %s: rollback needs constraintName", c.TableName)
	}
	return []Change{&DropUniqueConstraint{SchemaName: c.SchemaName, TableName: c.TableName, ConstraintName: c.ConstraintName}}, nil
}

// DropUniqueConstraint drops a unique constraint.
type DropUniqueConstraint struct {
	SchemaName     string `json:"schemaName,omitempty"`
	TableName      string `json:"tableName"`
	ConstraintName string `json:"constraintName"`
}

func (c *DropUniqueConstraint) ChangeType() string { return "dropUniqueConstraint" }
func (c *DropUniqueConstraint) Describe() string {
	return "Unique constraint " + c.ConstraintName + " dropped from " + c.TableName
}

func (c *DropUniqueConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *DropUniqueConstraint) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "constraintName", c.ConstraintName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropUnique{Table: table(c.SchemaName, c.TableName), Name: c.ConstraintName}}, nil
}

// AddForeignKeyConstraint adds a foreign key.
type AddForeignKeyConstraint struct {
	BaseTableSchemaName   string `json:"baseTableSchemaName,omitempty"`
	BaseTableName         string `json:"baseTableName"`
	BaseColumnNames       string `json:"baseColumnNames"`
	ConstraintName        string `json:"constraintName"`
	ReferencedSchemaName  string `json:"referencedTableSchemaName,omitempty"`
	ReferencedTableName   string `json:"referencedTableName"`
	ReferencedColumnNames string `json:"referencedColumnNames"`
	OnDelete              string `json:"onDelete,omitempty"`
	OnUpdate              string `json:"onUpdate,omitempty"`
	Deferrable            bool   `json:"deferrable,omitempty"`
	InitiallyDeferred     bool   `json:"initiallyDeferred,omitempty"`
}

func (c *AddForeignKeyConstraint) ChangeType() string { return "addForeignKeyConstraint" }
func (c *AddForeignKeyConstraint) Describe() string {
	return "Foreign key constraint added to " + c.BaseTableName + "(" + c.BaseColumnNames + ")"
}

func (c *AddForeignKeyConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *AddForeignKeyConstraint) Statements(env Env) ([]dialect.Statement, error) {
	err := required(c.ChangeType(),
		"baseTableName", c.BaseTableName,
		"baseColumnNames", c.BaseColumnNames,
		"constraintName", c.ConstraintName,
		"referencedTableName", c.ReferencedTableName,
		"referencedColumnNames", c.ReferencedColumnNames)
	if err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.AddForeignKey{
		Table:             table(c.BaseTableSchemaName, c.BaseTableName),
		Name:              c.ConstraintName,
		Columns:           splitNames(c.BaseColumnNames),
		Referenced:        table(c.ReferencedSchemaName, c.ReferencedTableName),
		ReferencedColumns: splitNames(c.ReferencedColumnNames),
		OnDelete:          c.OnDelete,
		OnUpdate:          c.OnUpdate,
		Deferrable:        c.Deferrable,
		InitiallyDeferred: c.InitiallyDeferred,
	}}, nil
}

func (c *AddForeignKeyConstraint) Inverse() ([]Change, error) {
	return []Change{&DropForeignKeyConstraint{
		BaseTableSchemaName: c.BaseTableSchemaName,
		BaseTableName:       c.BaseTableName,
		ConstraintName:      c.ConstraintName,
	}}, nil
}

// DropForeignKeyConstraint drops a foreign key.
type DropForeignKeyConstraint struct {
	BaseTableSchemaName string `json:"baseTableSchemaName,omitempty"`
	BaseTableName       string `json:"baseTableName"`
	ConstraintName      string `json:"constraintName"`
}

func (c *DropForeignKeyConstraint) ChangeType() string { return "dropForeignKeyConstraint" }
func (c *DropForeignKeyConstraint) Describe() string {
	return "Foreign key " + c.ConstraintName + " dropped"
}

func (c *DropForeignKeyConstraint) Apply(ctx context.Context, x Executor) error {
	return execute(ctx, x, c)
}

func (c *DropForeignKeyConstraint) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "baseTableName", c.BaseTableName, "constraintName", c.ConstraintName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropForeignKey{Table: table(c.BaseTableSchemaName, c.BaseTableName), Name: c.ConstraintName}}, nil
}

// CreateIndex creates an index.
type CreateIndex struct {
	SchemaName string   `json:"schemaName,omitempty"`
	TableName  string   `json:"tableName"`
	IndexName  string   `json:"indexName"`
	Unique     bool     `json:"unique,omitempty"`
	Columns    []Column `json:"columns"`
}

func (c *CreateIndex) ChangeType() string { return "createIndex" }
func (c *CreateIndex) Describe() string {
	return "Index " + c.IndexName + " created"
}

func (c *CreateIndex) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *CreateIndex) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName, "indexName", c.IndexName); err != nil {
		return nil, err
	}
	if len(c.Columns) == 0 {
		return nil, fmt.Errorf("createIndex: index %s has no columns", c.IndexName)
	}
	stmt := &dialect.CreateIndex{Table: table(c.SchemaName, c.TableName), Name: c.IndexName, Unique: c.Unique}
	for _, col := range c.Columns {
		stmt.Columns = append(stmt.Columns, dialect.IndexColumn{Name: col.Name, Descending: col.Descending, Computed: col.Computed})
	}
	return []dialect.Statement{stmt}, nil
}

func (c *CreateIndex) Inverse() ([]Change, error) {
	return []Change{&DropIndex{SchemaName: c.SchemaName, TableName: c.TableName, IndexName: c.IndexName}}, nil
}

// DropIndex drops an index. MySQL needs TableName.
type DropIndex struct {
	SchemaName string `json:"schemaName,omitempty"`
	TableName  string `json:"tableName,omitempty"`
	IndexName  string `json:"indexName"`
}

func (c *DropIndex) ChangeType() string { return "dropIndex" }
func (c *DropIndex) Describe() string   { return "Index " + c.IndexName + " dropped" }

func (c *DropIndex) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropIndex) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "indexName", c.IndexName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropIndex{Table: table(c.SchemaName, c.TableName), Name: c.IndexName}}, nil
}
