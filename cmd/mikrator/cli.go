package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/denisbrodbeck/mikrator"
	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/format"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/peterbourgon/ff"
	"github.com/spf13/afero"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// errUsage marks errors caused by wrong command arguments.
var errUsage = errors.New("usage error")

// app holds what commands need.
type app struct {
	m      *mikrator.Mikrator
	logger *zap.Logger
	fs     afero.Fs
	stdout io.Writer
	stdin  io.Reader

	driver            string
	format            format.Format
	out               string
	author            string
	referenceURL      string
	referenceSnapshot string
	onlyTags          bool
	delimiter         string
	force             bool
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"history":            history,
	"tag":                tag,
	"tag-exists":         tagExists,
	"snapshot":           takeSnapshot,
	"diff":               diff,
	"generate-changelog": generateChangeLog,
	"list-locks":         listLocks,
	"release-locks":      releaseLocks,
	"clear-checksums":    clearChecksums,
	"drop-all":           dropAll,
	"execute-sql":        executeSQL,
	"db-doc":             dbDoc,
}

// ParseAndRun parses the command line, and then runs the passed commands.
func ParseAndRun(stdout, stderr io.Writer, stdin io.Reader, args []string) int {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stderr, "failed to load .env file: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("mikrator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fs.Output().Write([]byte(usage))
	}
	var (
		flagDriver            = fs.String("driver", "postgres", "database driver: postgres, mysql or sqlite3")
		flagURL               = fs.String("url", "", "connection string, overrides the postgres arguments")
		flagHost              = fs.String("host", "localhost", "database host")
		flagPort              = fs.String("port", "5432", "database port")
		flagName              = fs.String("name", "postgres", "database name")
		flagUser              = fs.String("user", "postgres", "database user")
		flagPass              = fs.String("pass", "", "database password")
		flagTimeout           = fs.Duration("timeout", time.Second*10, "connection timeout in seconds (default 10s)")
		flagSSLMode           = fs.String("sslmode", "disable", "database SSL mode (see options)")
		flagSSLCert           = fs.String("sslcert", "", "PEM encoded cert file location")
		flagSSLKey            = fs.String("sslkey", "", "PEM encoded key file location")
		flagSSLRootCert       = fs.String("sslrootcert", "", "PEM encoded root certificate file location")
		flagTable             = fs.String("table", ledger.DefaultTable, "name of the changelog table")
		flagLockTable         = fs.String("lock-table", ledger.DefaultLockTable, "name of the changelog lock table")
		flagFormat            = fs.String("format", "yaml", "output format: json or yaml")
		flagOut               = fs.String("out", "", "write output to this file instead of stdout")
		flagAuthor            = fs.String("author", "mikrator", "author of generated changesets")
		flagReferenceURL      = fs.String("reference-url", "", "connection string of the reference database")
		flagReferenceSnapshot = fs.String("reference-snapshot", "", "snapshot file used as reference")
		flagTags              = fs.Bool("tags", false, "list tagged changesets only")
		flagDelimiter         = fs.String("delimiter", "", "statement delimiter of execute-sql")
		flagForce             = fs.Bool("force", false, "do not ask for confirmation")
		flagNoColor           = fs.Bool("no-color", false, "disable colored output")
		flagVerbose           = fs.Bool("verbose", false, "log every executed statement")
		_                     = fs.String("config", "", "TOML config file")
	)
	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("MIKRATOR"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(tomlParser),
	)
	if err != nil {
		if err != flag.ErrHelp {
			fs.Output().Write([]byte(fmt.Sprintf("\nUsage error: %s\n", err)))
		}
		return 1
	}
	if *flagNoColor {
		color.NoColor = true
	}
	outFormat, err := format.Parse(*flagFormat)
	if err != nil {
		fmt.Fprintf(stderr, "\nUsage error: %s\n", err)
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 1
	}
	name := strings.ToLower(rest[0])
	if name == "version" {
		fmt.Fprintf(stdout, "mikrator %s (%s)\n", mikrator.Version, gitTag)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "\nUsage error: unknown command %q, want one of %s\n", rest[0], strings.Join(commandNames(), ", "))
		return 1
	}

	logger := newLogger(stderr, *flagVerbose)
	defer logger.Sync()

	driver := normalizeDriver(*flagDriver)
	dsn := *flagURL
	if dsn == "" {
		if driver != "postgres" {
			fmt.Fprintf(stderr, "\nUsage error: -url is required for driver %s\n", driver)
			return 1
		}
		dsn = createDSN(*flagHost, *flagPort, *flagName, *flagUser, *flagPass, *flagSSLMode, *flagSSLCert, *flagSSLKey, *flagSSLRootCert, *flagTimeout)
	}
	db, err := connect(driver, dsn)
	if err != nil {
		logger.Error("failed to connect", zap.Error(err))
		return 2
	}
	defer logCloser(db, logger)

	m, err := mikrator.New(db,
		mikrator.WithLogger(logger),
		mikrator.WithChangeLogTable(*flagTable),
		mikrator.WithLockTable(*flagLockTable),
		mikrator.WithOutput(stdout),
		mikrator.WithErrorOutput(stderr),
	)
	if err != nil {
		logger.Error("failed to set up mikrator", zap.Error(err))
		return 2
	}
	defer logCloser(m, logger)

	a := &app{
		m:                 m,
		logger:            logger,
		fs:                afero.NewOsFs(),
		stdout:            stdout,
		stdin:             stdin,
		driver:            driver,
		format:            outFormat,
		out:               *flagOut,
		author:            *flagAuthor,
		referenceURL:      *flagReferenceURL,
		referenceSnapshot: *flagReferenceSnapshot,
		onlyTags:          *flagTags,
		delimiter:         *flagDelimiter,
		force:             *flagForce,
	}

	// give a generous timeout of 5 minutes
	ctx, cancelFunc := context.WithTimeout(context.Background(), time.Minute*5)
	defer cancelFunc()

	if err := cmd(ctx, a, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "\nUsage error: %s\n", err)
			return 1
		}
		logger.Error(name+" failed", zap.Error(err))
		if drvErr := mikrator.UnderlyingError(err); drvErr != err {
			fmt.Fprint(stderr, formatDriverError(drvErr))
		}
		return 3
	}
	return 0
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "pg", "pq":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	}
	return strings.ToLower(driver)
}

func createDSN(host, port, name, user, pass, sslmode, sslcert, sslkey, sslrootcert string, timeout time.Duration) string {
	dsn := ""
	if host != "" {
		dsn += fmt.Sprintf("host=%s ", host)
	}
	if port != "" {
		dsn += fmt.Sprintf("port=%s ", port)
	}
	if name != "" {
		dsn += fmt.Sprintf("dbname='%s' ", name)
	}
	if user != "" {
		dsn += fmt.Sprintf("user='%s' ", user)
	}
	if pass != "" {
		// values with spaces must be surrounded with '': e.g. 'se cret'
		// further ' within the value must be escaped with \
		password := strings.Replace(pass, "'", `\'`, -1)
		dsn += fmt.Sprintf("password='%s' ", password)
	}
	if sslmode != "" {
		dsn += fmt.Sprintf("sslmode=%s ", sslmode)
	}
	if sslcert != "" {
		dsn += fmt.Sprintf("sslcert='%s' ", sslcert)
	}
	if sslkey != "" {
		dsn += fmt.Sprintf("sslkey='%s' ", sslkey)
	}
	if sslrootcert != "" {
		dsn += fmt.Sprintf("sslrootcert='%s' ", sslrootcert)
	}
	if timeout.Seconds() > 0 {
		dsn += fmt.Sprintf("connect_timeout=%.f ", timeout.Seconds())
	}

	return strings.TrimSpace(dsn)
}

func connect(driver, dsn string) (*sql.DB, error) {
	// "open" just validates the provided dsn
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection to database: %v", driver, err)
	}

	// dsn did validate, now try to actually reach the database
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database server: %v", err)
	}
	if driver == "sqlite3" {
		// in-memory databases exist per connection
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// output calls write with the -out file or stdout.
func (a *app) output(write func(w io.Writer) error) (err error) {
	if a.out == "" {
		return write(a.stdout)
	}
	f, err := a.fs.Create(a.out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to write %s: %w", a.out, cerr)
		}
	}()
	if err := write(f); err != nil {
		return err
	}
	a.logger.Info("output written", zap.String("file", a.out))
	return nil
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func colorExecType(t ledger.ExecType) string {
	switch t {
	case ledger.Executed, ledger.Reran:
		return green(string(t))
	case ledger.Failed:
		return red(string(t))
	default:
		return yellow(string(t))
	}
}

// history prints the ledger as a tree of deployments.
func history(ctx context.Context, a *app, args []string) error {
	rows, err := a.m.History(ctx, a.onlyTags || len(args) > 0, args...)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, "no changesets executed")
		return nil
	}
	fmt.Fprint(a.stdout, historyTree(rows, time.Now()))
	return nil
}

func historyTree(rows []ledger.RanChangeSet, now time.Time) string {
	tree := treeprint.New()
	var (
		branch     treeprint.Tree
		deployment = "\x00"
	)
	for _, r := range rows {
		if r.DeploymentID != deployment || branch == nil {
			deployment = r.DeploymentID
			id := deployment
			if id == "" {
				id = "unknown"
			}
			branch = tree.AddBranch(fmt.Sprintf("%s %s (%s)", bold("deployment"), id, humanize.RelTime(r.DateExecuted, now, "ago", "from now")))
		}
		node := fmt.Sprintf("%d %s %s", r.OrderExecuted, r.Identifier(), colorExecType(r.ExecType))
		if r.Tag != "" {
			node += " tag " + bold(r.Tag)
		}
		branch.AddNode(node)
	}
	return tree.String()
}

func tag(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: tag needs exactly one tag", errUsage)
	}
	if err := a.m.Tag(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "database tagged with %s\n", args[0])
	return nil
}

func tagExists(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: tag-exists needs exactly one tag", errUsage)
	}
	ok, err := a.m.TagExists(ctx, args[0])
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(a.stdout, "tag %s %s\n", args[0], green("exists"))
	} else {
		fmt.Fprintf(a.stdout, "tag %s %s\n", args[0], red("does not exist"))
	}
	return nil
}

func takeSnapshot(ctx context.Context, a *app, args []string) error {
	snap, err := a.m.Snapshot(ctx)
	if err != nil {
		return err
	}
	return a.output(func(w io.Writer) error {
		return snap.Serialize(w, a.format)
	})
}

// reference returns the snapshot diff compares against.
func (a *app) reference(ctx context.Context) (*snapshot.Snapshot, error) {
	switch {
	case a.referenceSnapshot != "":
		return snapshot.LoadFile(a.fs, a.referenceSnapshot)
	case a.referenceURL != "":
		db, err := connect(a.driver, a.referenceURL)
		if err != nil {
			return nil, err
		}
		defer logCloser(db, a.logger)
		d, err := mikrator.New(db, mikrator.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		defer logCloser(d, a.logger)
		return d.Snapshot(ctx)
	}
	return nil, fmt.Errorf("%w: -reference-url or -reference-snapshot is required", errUsage)
}

func diff(ctx context.Context, a *app, args []string) error {
	ref, err := a.reference(ctx)
	if err != nil {
		return err
	}
	own, err := a.m.Snapshot(ctx)
	if err != nil {
		return err
	}
	result := a.m.Diff(ref, own)
	return a.output(func(w io.Writer) error {
		return result.Report(w)
	})
}

func generateChangeLog(ctx context.Context, a *app, args []string) error {
	var (
		cl  *changelog.ChangeLog
		err error
	)
	if a.referenceURL != "" {
		var db *sql.DB
		if db, err = connect(a.driver, a.referenceURL); err != nil {
			return err
		}
		defer logCloser(db, a.logger)
		cl, err = a.m.DiffChangeLog(ctx, db, a.author)
	} else {
		cl, err = a.m.GenerateChangeLog(ctx, a.author)
	}
	if err != nil {
		return err
	}
	return a.output(func(w io.Writer) error {
		return cl.Serialize(w, a.format)
	})
}

func listLocks(ctx context.Context, a *app, args []string) error {
	locks, err := a.m.ListLocks(ctx)
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		fmt.Fprintln(a.stdout, "no locks held")
		return nil
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOCKED BY\tGRANTED")
	for _, l := range locks {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", l.ID, l.LockedBy, humanize.Time(l.Granted))
	}
	return tw.Flush()
}

func releaseLocks(ctx context.Context, a *app, args []string) error {
	if err := a.m.ReleaseLocks(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "locks released")
	return nil
}

func clearChecksums(ctx context.Context, a *app, args []string) error {
	if err := a.m.ClearChecksums(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "checksums cleared")
	return nil
}

func dropAll(ctx context.Context, a *app, args []string) error {
	if !a.force {
		fmt.Fprintf(a.stdout, "%s all database objects will be dropped. Type yes to continue: ", red("WARNING"))
		answer, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			fmt.Fprintln(a.stdout, "aborted")
			return nil
		}
	}
	if err := a.m.DropAll(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "all database objects dropped")
	return nil
}

func executeSQL(ctx context.Context, a *app, args []string) error {
	script := strings.Join(args, " ")
	if script == "" || script == "-" {
		raw, err := ioutil.ReadAll(a.stdin)
		if err != nil {
			return err
		}
		script = string(raw)
	}
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("%w: no SQL given", errUsage)
	}
	return a.m.ExecuteSQL(ctx, script, a.delimiter)
}

func dbDoc(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: db-doc needs exactly one output directory", errUsage)
	}
	return a.m.DBDoc(ctx, changelog.New(), args[0])
}

// commandNames lists the commands for error messages.
func commandNames() []string {
	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	names = append(names, "version")
	sort.Strings(names)
	return names
}
