package mikrator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"go.uber.org/zap"
)

// dbExecutor runs changes on a database connection or transaction.
type dbExecutor struct {
	m   *Mikrator
	env changelog.Env
	db  changelog.Querier
}

func (x *dbExecutor) Env() changelog.Env { return x.env }

func (x *dbExecutor) Exec(ctx context.Context, stmts ...dialect.Statement) error {
	return x.m.exec(ctx, x.db, stmts...)
}

func (x *dbExecutor) Comment(ctx context.Context, text string) error {
	x.m.logger.Debug("comment", zap.String("text", text))
	return nil
}

func (x *dbExecutor) Output(target, message string) { x.m.output(target, message) }

func (x *dbExecutor) DB() changelog.Querier { return x.db }

// sqlExecutor writes the SQL of changes instead of running them.
type sqlExecutor struct {
	m   *Mikrator
	env changelog.Env
	w   io.Writer
}

func (x *sqlExecutor) Env() changelog.Env { return x.env }

func (x *sqlExecutor) Exec(ctx context.Context, stmts ...dialect.Statement) error {
	for _, stmt := range stmts {
		sqls, err := x.m.dialect.Generate(stmt)
		if err != nil {
			return err
		}
		for _, s := range sqls {
			if _, err := fmt.Fprintf(x.w, "%s;\n\n", s); err != nil {
				return fmt.Errorf("failed to write SQL: %w", err)
			}
		}
	}
	return nil
}

func (x *sqlExecutor) Comment(ctx context.Context, text string) error {
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(x.w, "-- %s\n", line); err != nil {
			return fmt.Errorf("failed to write SQL: %w", err)
		}
	}
	return nil
}

func (x *sqlExecutor) Output(target, message string) { x.m.output(target, message) }

func (x *sqlExecutor) DB() changelog.Querier { return nil }

// header writes the banner of a generated SQL script.
func (x *sqlExecutor) header(title, changeLog string) error {
	line := "-- " + strings.Repeat("*", 69)
	against := x.m.dialect.Name()
	if v := x.m.dialect.Version(); v != "" {
		against += " " + v
	}
	_, err := fmt.Fprintf(x.w, "%s\n-- %s\n%s\n-- Change Log: %s\n-- Ran at: %s\n-- Against: %s\n-- Mikrator version: %s\n%s\n\n",
		line, title, line, changeLog, x.m.clock.Now().UTC().Format("2006-01-02 15:04:05"), against, Version, line)
	if err != nil {
		return fmt.Errorf("failed to write SQL: %w", err)
	}
	return nil
}

// output routes the message of an output change.
func (m *Mikrator) output(target, message string) {
	switch strings.ToUpper(target) {
	case "STDOUT":
		fmt.Fprintln(m.out, message)
	case "DEBUG":
		m.logger.Debug(message)
	case "INFO":
		m.logger.Info(message)
	case "WARN":
		m.logger.Warn(message)
	case "FATAL":
		m.logger.Error(message)
	default:
		fmt.Fprintln(m.errOut, message)
	}
}
