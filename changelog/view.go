package changelog

import (
	"context"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// CreateView creates a view from SelectQuery.
type CreateView struct {
	SchemaName      string `json:"schemaName,omitempty"`
	ViewName        string `json:"viewName"`
	SelectQuery     string `json:"selectQuery"`
	ReplaceIfExists bool   `json:"replaceIfExists,omitempty"`
}

func (c *CreateView) ChangeType() string { return "createView" }
func (c *CreateView) Describe() string   { return "View " + c.ViewName + " created" }

func (c *CreateView) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *CreateView) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "viewName", c.ViewName, "selectQuery", c.SelectQuery); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.CreateView{
		View:    table(c.SchemaName, c.ViewName),
		Query:   env.expand(c.SelectQuery),
		Replace: c.ReplaceIfExists,
	}}, nil
}

func (c *CreateView) Inverse() ([]Change, error) {
	return []Change{&DropView{SchemaName: c.SchemaName, ViewName: c.ViewName}}, nil
}

// DropView drops a view.
type DropView struct {
	SchemaName string `json:"schemaName,omitempty"`
	ViewName   string `json:"viewName"`
	IfExists   bool   `json:"ifExists,omitempty"`
}

func (c *DropView) ChangeType() string { return "dropView" }
func (c *DropView) Describe() string   { return "View " + c.ViewName + " dropped" }

func (c *DropView) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropView) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "viewName", c.ViewName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropView{View: table(c.SchemaName, c.ViewName), IfExists: c.IfExists}}, nil
}

// RenameView renames a view.
type RenameView struct {
	SchemaName  string `json:"schemaName,omitempty"`
	OldViewName string `json:"oldViewName"`
	NewViewName string `json:"newViewName"`
}

func (c *RenameView) ChangeType() string { return "renameView" }
func (c *RenameView) Describe() string {
	return "View " + c.OldViewName + " renamed to " + c.NewViewName
}

func (c *RenameView) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *RenameView) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "oldViewName", c.OldViewName, "newViewName", c.NewViewName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.RenameView{View: table(c.SchemaName, c.OldViewName), NewName: c.NewViewName}}, nil
}

func (c *RenameView) Inverse() ([]Change, error) {
	return []Change{&RenameView{SchemaName: c.SchemaName, OldViewName: c.NewViewName, NewViewName: c.OldViewName}}, nil
}

// CreateSequence creates a sequence.
type CreateSequence struct {
	SchemaName   string `json:"schemaName,omitempty"`
	SequenceName string `json:"sequenceName"`
	StartValue   *int64 `json:"startValue,omitempty"`
	IncrementBy  *int64 `json:"incrementBy,omitempty"`
	MinValue     *int64 `json:"minValue,omitempty"`
	MaxValue     *int64 `json:"maxValue,omitempty"`
	Cycle        bool   `json:"cycle,omitempty"`
}

func (c *CreateSequence) ChangeType() string { return "createSequence" }
func (c *CreateSequence) Describe() string   { return "Sequence " + c.SequenceName + " created" }

func (c *CreateSequence) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *CreateSequence) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "sequenceName", c.SequenceName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.CreateSequence{
		Sequence:  table(c.SchemaName, c.SequenceName),
		Start:     c.StartValue,
		Increment: c.IncrementBy,
		MinValue:  c.MinValue,
		MaxValue:  c.MaxValue,
		Cycle:     c.Cycle,
	}}, nil
}

func (c *CreateSequence) Inverse() ([]Change, error) {
	return []Change{&DropSequence{SchemaName: c.SchemaName, SequenceName: c.SequenceName}}, nil
}

// DropSequence drops a sequence.
type DropSequence struct {
	SchemaName   string `json:"schemaName,omitempty"`
	SequenceName string `json:"sequenceName"`
}

func (c *DropSequence) ChangeType() string { return "dropSequence" }
func (c *DropSequence) Describe() string   { return "Sequence " + c.SequenceName + " dropped" }

func (c *DropSequence) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *DropSequence) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "sequenceName", c.SequenceName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.DropSequence{Sequence: table(c.SchemaName, c.SequenceName)}}, nil
}

// AlterSequence changes the properties of a sequence. Nil fields are left
// unchanged.
type AlterSequence struct {
	SchemaName   string `json:"schemaName,omitempty"`
	SequenceName string `json:"sequenceName"`
	IncrementBy  *int64 `json:"incrementBy,omitempty"`
	MinValue     *int64 `json:"minValue,omitempty"`
	MaxValue     *int64 `json:"maxValue,omitempty"`
	Cycle        *bool  `json:"cycle,omitempty"`
}

func (c *AlterSequence) ChangeType() string { return "alterSequence" }
func (c *AlterSequence) Describe() string   { return "Sequence " + c.SequenceName + " altered" }

func (c *AlterSequence) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *AlterSequence) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "sequenceName", c.SequenceName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.AlterSequence{
		Sequence:  table(c.SchemaName, c.SequenceName),
		Increment: c.IncrementBy,
		MinValue:  c.MinValue,
		MaxValue:  c.MaxValue,
		Cycle:     c.Cycle,
	}}, nil
}

// RenameSequence renames a sequence.
type RenameSequence struct {
	SchemaName      string `json:"schemaName,omitempty"`
	OldSequenceName string `json:"oldSequenceName"`
	NewSequenceName string `json:"newSequenceName"`
}

func (c *RenameSequence) ChangeType() string { return "renameSequence" }
func (c *RenameSequence) Describe() string {
	return "Sequence " + c.OldSequenceName + " renamed to " + c.NewSequenceName
}

func (c *RenameSequence) Apply(ctx context.Context, x Executor) error { return execute(ctx, x, c) }

func (c *RenameSequence) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "oldSequenceName", c.OldSequenceName, "newSequenceName", c.NewSequenceName); err != nil {
		return nil, err
	}
	return []dialect.Statement{&dialect.RenameSequence{Sequence: table(c.SchemaName, c.OldSequenceName), NewName: c.NewSequenceName}}, nil
}

func (c *RenameSequence) Inverse() ([]Change, error) {
	return []Change{&RenameSequence{SchemaName: c.SchemaName, OldSequenceName: c.NewSequenceName, NewSequenceName: c.OldSequenceName}}, nil
}
