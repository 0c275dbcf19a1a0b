package changelog

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// SQL runs raw SQL. The script is split into statements at EndDelimiter
// unless SplitStatements is false.
type SQL struct {
	SQL             string `json:"sql"`
	DBMS            string `json:"dbms,omitempty"`
	EndDelimiter    string `json:"endDelimiter,omitempty"`
	SplitStatements *bool  `json:"splitStatements,omitempty"`
	StripComments   bool   `json:"stripComments,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

func (c *SQL) ChangeType() string { return "sql" }
func (c *SQL) Describe() string   { return "Custom SQL executed" }

func (c *SQL) Apply(ctx context.Context, x Executor) error {
	if c.Comment != "" {
		if err := x.Comment(ctx, c.Comment); err != nil {
			return err
		}
	}
	return execute(ctx, x, c)
}

func (c *SQL) Statements(env Env) ([]dialect.Statement, error) {
	if err := required(c.ChangeType(), "sql", c.SQL); err != nil {
		return nil, err
	}
	if !MatchDBMS(c.DBMS, env.Dialect.Name()) {
		return nil, nil
	}
	script := env.expand(c.SQL)
	if c.StripComments {
		script = dialect.StripComments(script)
	}
	var parts []string
	if c.SplitStatements == nil || *c.SplitStatements {
		parts = dialect.SplitStatements(script, c.EndDelimiter)
	} else if s := strings.TrimSpace(script); s != "" {
		parts = []string{s}
	}
	stmts := make([]dialect.Statement, len(parts))
	for i, p := range parts {
		stmts[i] = &dialect.Raw{SQL: p}
	}
	return stmts, nil
}

// Output writes Message to Target, which defaults to STDERR.
type Output struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

func (c *Output) ChangeType() string { return "output" }
func (c *Output) Describe() string   { return "Output: " + c.Message }

func (c *Output) Apply(ctx context.Context, x Executor) error {
	target := strings.ToUpper(c.Target)
	if target == "" {
		target = "STDERR"
	}
	x.Output(target, x.Env().expand(c.Message))
	return nil
}

func (c *Output) Inverse() ([]Change, error) { return nil, nil }

// DefaultStopMessage is the message of a stop change without one.
const DefaultStopMessage = "Stop command in changelog file"

// Stop halts the update with a *StopError.
type Stop struct {
	Message string `json:"message,omitempty"`
}

func (c *Stop) ChangeType() string { return "stop" }
func (c *Stop) Describe() string   { return "Stopped" }

func (c *Stop) Apply(ctx context.Context, x Executor) error {
	msg := c.Message
	if msg == "" {
		msg = DefaultStopMessage
	}
	return &StopError{Message: x.Env().expand(msg)}
}

// TagDatabase tags the ledger row of its changeset.
type TagDatabase struct {
	Tag string `json:"tag"`
}

func (c *TagDatabase) ChangeType() string { return "tagDatabase" }
func (c *TagDatabase) Describe() string   { return "Tag '" + c.Tag + "' applied to database" }

// Apply does nothing. The tag is written with the ledger row.
func (c *TagDatabase) Apply(ctx context.Context, x Executor) error { return nil }

func (c *TagDatabase) Inverse() ([]Change, error) { return nil, nil }

func (c *TagDatabase) Validate(d dialect.Dialect) error {
	return required(c.ChangeType(), "tag", c.Tag)
}

// CustomTask is user code run by a CustomChange.
type CustomTask interface {
	Execute(ctx context.Context, db Querier) error
}

// CustomTaskFunc adapts a function to CustomTask.
type CustomTaskFunc func(ctx context.Context, db Querier) error

func (f CustomTaskFunc) Execute(ctx context.Context, db Querier) error { return f(ctx, db) }

// Optional interfaces of a CustomTask.
type (
	CustomTaskSetUp interface {
		SetUp(params map[string]string) error
	}
	CustomTaskRollback interface {
		Rollback(ctx context.Context, db Querier) error
	}
	CustomTaskValidator interface {
		Validate(d dialect.Dialect) error
	}
	CustomTaskConfirmation interface {
		ConfirmationMessage() string
	}
)

// CustomChange runs a CustomTask. Class names the task in the ledger and in
// serialized changelogs. Params are handed to SetUp before the task runs.
//
// Custom tasks cannot be written as SQL. In SQL output they leave a
// comment.
type CustomChange struct {
	Class  string            `json:"class"`
	Params map[string]string `json:"params,omitempty"`
	Task   CustomTask        `json:"-"`
}

func (c *CustomChange) ChangeType() string { return "customChange" }

func (c *CustomChange) Describe() string {
	if m, ok := c.Task.(CustomTaskConfirmation); ok {
		return m.ConfirmationMessage()
	}
	return "Custom change " + c.Class + " executed"
}

func (c *CustomChange) setUp(env Env) error {
	if c.Task == nil {
		return fmt.Errorf("customChange %s: no task", c.Class)
	}
	s, ok := c.Task.(CustomTaskSetUp)
	if !ok {
		return nil
	}
	params := make(map[string]string, len(c.Params))
	for k, v := range c.Params {
		params[k] = env.expand(v)
	}
	return s.SetUp(params)
}

func (c *CustomChange) Validate(d dialect.Dialect) error {
	if err := c.setUp(Env{Dialect: d}); err != nil {
		return err
	}
	if v, ok := c.Task.(CustomTaskValidator); ok {
		return v.Validate(d)
	}
	return nil
}

func (c *CustomChange) Apply(ctx context.Context, x Executor) error {
	if err := c.setUp(x.Env()); err != nil {
		return err
	}
	db := x.DB()
	if db == nil {
		return x.Comment(ctx, "customChange "+c.Class+" is not part of the SQL output")
	}
	return c.Task.Execute(ctx, db)
}

func (c *CustomChange) Inverse() ([]Change, error) {
	if _, ok := c.Task.(CustomTaskRollback); !ok {
		return nil, &NotReversibleError{ChangeType: c.ChangeType()}
	}
	return []Change{&customRollback{change: c}}, nil
}

// customRollback runs the Rollback method of a custom task.
type customRollback struct {
	change *CustomChange
}

func (c *customRollback) ChangeType() string { return "customChange" }
func (c *customRollback) Describe() string {
	return "Custom change " + c.change.Class + " rolled back"
}

func (c *customRollback) Apply(ctx context.Context, x Executor) error {
	if err := c.change.setUp(x.Env()); err != nil {
		return err
	}
	db := x.DB()
	if db == nil {
		return x.Comment(ctx, "rollback of customChange "+c.change.Class+" is not part of the SQL output")
	}
	return c.change.Task.(CustomTaskRollback).Rollback(ctx, db)
}

// ExecuteCommand runs an external program. OS limits it to the listed
// runtime.GOOS values. Timeout is a duration such as "30s"; empty means no
// timeout.
type ExecuteCommand struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	OS         []string `json:"os,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
}

func (c *ExecuteCommand) ChangeType() string { return "executeCommand" }
func (c *ExecuteCommand) Describe() string {
	return "Executed " + c.commandLine()
}

func (c *ExecuteCommand) commandLine() string {
	return strings.TrimSpace(c.Executable + " " + strings.Join(c.Args, " "))
}

func (c *ExecuteCommand) Validate(d dialect.Dialect) error {
	if err := required(c.ChangeType(), "executable", c.Executable); err != nil {
		return err
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("executeCommand: invalid timeout %q: %w", c.Timeout, err)
		}
	}
	return nil
}

func (c *ExecuteCommand) runsHere() bool {
	if len(c.OS) == 0 {
		return true
	}
	for _, os := range c.OS {
		if strings.EqualFold(strings.TrimSpace(os), runtime.GOOS) {
			return true
		}
	}
	return false
}

func (c *ExecuteCommand) Apply(ctx context.Context, x Executor) error {
	if err := c.Validate(x.Env().Dialect); err != nil {
		return err
	}
	if !c.runsHere() {
		return nil
	}
	if x.DB() == nil {
		return x.Comment(ctx, "executeCommand "+c.commandLine())
	}
	if c.Timeout != "" {
		timeout, _ := time.ParseDuration(c.Timeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = x.Env().expand(a)
	}
	out, err := exec.CommandContext(ctx, c.Executable, args...).CombinedOutput()
	if len(out) > 0 {
		x.Output("DEBUG", strings.TrimSpace(string(out)))
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("executeCommand %s timed out after %s", c.commandLine(), c.Timeout)
		}
		return fmt.Errorf("executeCommand %s: %w", c.commandLine(), err)
	}
	return nil
}
