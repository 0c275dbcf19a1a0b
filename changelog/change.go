package changelog

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// A Change is a single operation of a changeset.
type Change interface {
	// ChangeType returns the lower camel case name, e.g. "createTable".
	ChangeType() string
	// Describe returns a one line summary of what the change did.
	Describe() string
	// Apply runs the change through x.
	Apply(ctx context.Context, x Executor) error
}

// StatementChange is a change which is fully described by dialect
// statements.
type StatementChange interface {
	Change
	Statements(env Env) ([]dialect.Statement, error)
}

// Reversible is implemented by changes which can derive their own
// rollback. An empty inverse rolls back without doing anything.
type Reversible interface {
	Inverse() ([]Change, error)
}

// Validator is implemented by changes with checks beyond statement
// generation.
type Validator interface {
	Validate(d dialect.Dialect) error
}

// Env is what a change needs to lower itself.
type Env struct {
	Dialect dialect.Dialect
	// Expand substitutes ${property} references. nil leaves text unchanged.
	Expand func(string) string
}

func (e Env) expand(s string) string {
	if e.Expand == nil {
		return s
	}
	return e.Expand(s)
}

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Executor runs changes. It either executes against a database or writes
// SQL to an output.
type Executor interface {
	Env() Env
	// Exec generates and runs stmts in order.
	Exec(ctx context.Context, stmts ...dialect.Statement) error
	// Comment records text as SQL comment. Executors against a database
	// may ignore it.
	Comment(ctx context.Context, text string) error
	// Output sends message to target: STDOUT, STDERR, DEBUG, INFO, WARN or
	// FATAL.
	Output(target, message string)
	// DB returns the connection changes run on or nil when SQL is written
	// instead of executed.
	DB() Querier
}

// NotReversibleError is returned when no rollback can be derived for a
// change.
type NotReversibleError struct {
	ChangeType string
}

func (e *NotReversibleError) Error() string {
	return "change " + e.ChangeType + " cannot be rolled back automatically"
}

// StopError is returned by the stop change.
type StopError struct {
	Message string
}

func (e *StopError) Error() string { return "stopped: " + e.Message }

// InverseOf returns the rollback changes for changes, last change first.
func InverseOf(changes []Change) ([]Change, error) {
	var inverse []Change
	for i := len(changes) - 1; i >= 0; i-- {
		r, ok := changes[i].(Reversible)
		if !ok {
			return nil, &NotReversibleError{ChangeType: changes[i].ChangeType()}
		}
		inv, err := r.Inverse()
		if err != nil {
			return nil, err
		}
		inverse = append(inverse, inv...)
	}
	return inverse, nil
}

// Validate checks that c can run on env.Dialect.
func Validate(c Change, env Env) error {
	if v, ok := c.(Validator); ok {
		if err := v.Validate(env.Dialect); err != nil {
			return err
		}
	}
	s, ok := c.(StatementChange)
	if !ok {
		return nil
	}
	stmts, err := s.Statements(env)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := env.Dialect.Generate(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GenerateSQL returns the SQL c would run on env.Dialect. Changes without
// statements return nothing.
func GenerateSQL(c Change, env Env) ([]string, error) {
	s, ok := c.(StatementChange)
	if !ok {
		return nil, nil
	}
	stmts, err := s.Statements(env)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, stmt := range stmts {
		sql, err := env.Dialect.Generate(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, sql...)
	}
	return out, nil
}

func execute(ctx context.Context, x Executor, c StatementChange) error {
	stmts, err := c.Statements(x.Env())
	if err != nil {
		return err
	}
	return x.Exec(ctx, stmts...)
}

// required returns an error naming the first empty field. fields are
// name, value pairs.
func required(changeType string, fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return fmt.Errorf("%s: %s is required", changeType, fields[i])
		}
	}
	return nil
}

func table(schema, name string) dialect.Name {
	return dialect.Name{Schema: schema, Name: name}
}

// splitNames splits a comma separated list of names.
func splitNames(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// cloneChange returns a deep copy of c.
func cloneChange(c Change) Change {
	return cloneValue(reflect.ValueOf(c)).Interface().(Change)
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		n := reflect.New(v.Type().Elem())
		n.Elem().Set(cloneValue(v.Elem()))
		return n
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		n := reflect.New(v.Type()).Elem()
		n.Set(cloneValue(v.Elem()))
		return n
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		n := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			n.Index(i).Set(cloneValue(v.Index(i)))
		}
		return n
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		n := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			n.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return n
	case reflect.Struct:
		n := reflect.New(v.Type()).Elem()
		n.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).PkgPath == "" {
				n.Field(i).Set(cloneValue(v.Field(i)))
			}
		}
		return n
	}
	return v
}

// removeProperty zeroes every field of c, including fields of nested
// columns, whose JSON name is property.
func removeProperty(c Change, property string) {
	removeField(reflect.ValueOf(c), property)
}

func removeField(v reflect.Value, property string) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			removeField(v.Elem(), property)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			removeField(v.Index(i), property)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name := strings.Split(f.Tag.Get("json"), ",")[0]
			if name == "-" {
				continue
			}
			if name == property && v.Field(i).CanSet() {
				v.Field(i).Set(reflect.Zero(f.Type))
				continue
			}
			removeField(v.Field(i), property)
		}
	}
}
