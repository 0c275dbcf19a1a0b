package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger returns a console logger writing to w. verbose enables debug
// output, which includes every executed statement.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

func logCloser(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("failed to close handle", zap.Error(err))
	}
}

// formatDriverError renders the details drivers attach to their errors.
func formatDriverError(err error) string {
	var (
		pqErr     *pq.Error
		mysqlErr  *mysql.MySQLError
		sqliteErr sqlite3.Error
	)
	switch {
	case errors.As(err, &pqErr):
		e := pqErr
		msg := fmt.Sprintf("Severity   : %s\n", e.Severity)
		msg += fmt.Sprintf("Error Code : %s (%s)\n", e.Code, e.Code.Name())
		msg += fmt.Sprintf("Message    : %s\n", e.Message)
		if e.Detail != "" {
			msg += fmt.Sprintf("Detail     : %s\n", e.Detail)
		}
		if e.Hint != "" {
			msg += fmt.Sprintf("Hint       : %s\n", e.Hint)
		}
		if e.Position != "" {
			msg += fmt.Sprintf("Position   : %s\n", e.Position)
		}
		return msg
	case errors.As(err, &mysqlErr):
		msg := fmt.Sprintf("Error Code : %d\n", mysqlErr.Number)
		if state := string(mysqlErr.SQLState[:]); state != "\x00\x00\x00\x00\x00" {
			msg += fmt.Sprintf("SQL State  : %s\n", state)
		}
		msg += fmt.Sprintf("Message    : %s\n", mysqlErr.Message)
		return msg
	case errors.As(err, &sqliteErr):
		msg := fmt.Sprintf("Error Code : %d (%s)\n", int(sqliteErr.Code), sqliteErr.Code)
		if int(sqliteErr.ExtendedCode) != int(sqliteErr.Code) {
			msg += fmt.Sprintf("Extended   : %d (%s)\n", int(sqliteErr.ExtendedCode), sqliteErr.ExtendedCode)
		}
		msg += fmt.Sprintf("Message    : %s\n", sqliteErr.Error())
		return msg
	}
	return err.Error()
}
