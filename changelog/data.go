package changelog

import (
	"context"
	"fmt"
	"strings"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// Insert inserts a single row.
type Insert struct {
	SchemaName string   `json:"schemaName,omitempty"`
	TableName  string   `json:"tableName"`
	Columns    []Column `json:"columns"`
}

func (c *Insert) ChangeType() string { return "insert" }
func (c *Insert) Describe() string   { return "New row inserted into " + c.TableName }

func (c *Insert) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *Insert) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	stmt := &dialect.Insert{Table: table(c.SchemaName, c.TableName)}
	for _, col := range c.Columns {
		v, err := col.valueOf(env)
		if err != nil {
			return nil, fmt.Errorf("insert into %s.%s: %w", c.TableName, col.Name, err)
		}
		stmt.Columns = append(stmt.Columns, col.Name)
		stmt.Values = append(stmt.Values, v)
	}
	return []dialect.Statement{stmt}, nil
}

// Update sets columns of the rows matching Where.
//
// Where may contain ":name" and ":value" placeholders which are replaced in
// order by the quoted column name and the literal value of WhereParams.
type Update struct {
	SchemaName  string   `json:"schemaName,omitempty"`
	TableName   string   `json:"tableName"`
	Columns     []Column `json:"columns"`
	Where       string   `json:"where,omitempty"`
	WhereParams []Column `json:"whereParams,omitempty"`
}

func (c *Update) ChangeType() string { return "update" }
func (c *Update) Describe() string   { return "Data updated in " + c.TableName }

func (c *Update) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *Update) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	where, err := whereClause(env, c.Where, c.WhereParams)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", c.TableName, err)
	}
	stmt := &dialect.Update{Table: table(c.SchemaName, c.TableName), Where: where}
	for _, col := range c.Columns {
		v, err := col.valueOf(env)
		if err != nil {
			return nil, fmt.Errorf("update %s.%s: %w", c.TableName, col.Name, err)
		}
		stmt.Set = append(stmt.Set, dialect.Assignment{Column: col.Name, Value: v})
	}
	return []dialect.Statement{stmt}, nil
}

// Delete deletes the rows matching Where. Placeholders work as for Update.
type Delete struct {
	SchemaName  string   `json:"schemaName,omitempty"`
	TableName   string   `json:"tableName"`
	Where       string   `json:"where,omitempty"`
	WhereParams []Column `json:"whereParams,omitempty"`
}

func (c *Delete) ChangeType() string { return "delete" }
func (c *Delete) Describe() string   { return "Data deleted from " + c.TableName }

func (c *Delete) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *Delete) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "tableName", c.TableName); err != nil {
		return nil, err
	}
	where, err := whereClause(env, c.Where, c.WhereParams)
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", c.TableName, err)
	}
	return []dialect.Statement{&dialect.Delete{Table: table(c.SchemaName, c.TableName), Where: where}}, nil
}

func whereClause(env Env, where string, params []Column) (string, error) {
	where = env.expand(where)
	for _, p := range params {
		if p.Name != "" {
			where = strings.Replace(where, ":name", env.Dialect.Quote(p.Name), 1)
		}
		if p.Value == nil {
			continue
		}
		v, err := p.Value.literal(env)
		if err != nil {
			return "", err
		}
		lit, err := env.Dialect.Literal(v)
		if err != nil {
			return "", err
		}
		where = strings.Replace(where, ":value", lit, 1)
	}
	return where, nil
}
