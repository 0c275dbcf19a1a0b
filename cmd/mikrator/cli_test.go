package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/denisbrodbeck/mikrator"
	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_createDSN(t *testing.T) {
	host := "localhost"
	port := "5432"
	name := "app1"
	user := "mike"
	pass := "secret"
	sslmode := "verify-ca"
	sslcert := "certs/db.cert"
	sslkey := "certs/db.key"
	sslrootcert := "certs/ca.cert"
	timeout := time.Second * 42

	want := `host=localhost port=5432 dbname='app1' user='mike' password='secret' sslmode=verify-ca sslcert='certs/db.cert' sslkey='certs/db.key' sslrootcert='certs/ca.cert' connect_timeout=42`
	if got := createDSN(host, port, name, user, pass, sslmode, sslcert, sslkey, sslrootcert, timeout); got != want {
		t.Errorf("createDSN()\ngot  %q\nwant %q", got, want)
	}
	want = `password='ve ry$se\'cret!'`
	if got := createDSN("", "", "", "", `ve ry$se'cret!`, "", "", "", "", time.Second*0); got != want {
		t.Errorf("createDSN()\ngot  %q\nwant %q", got, want)
	}
}

func Test_normalizeDriver(t *testing.T) {
	tests := map[string]string{
		"postgres":   "postgres",
		"PostgreSQL": "postgres",
		"pg":         "postgres",
		"sqlite":     "sqlite3",
		"sqlite3":    "sqlite3",
		"mysql":      "mysql",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizeDriver(in), in)
	}
}

func Test_tomlParser(t *testing.T) {
	got := map[string]string{}
	set := func(name, value string) error {
		got[name] = value
		return nil
	}
	config := `
driver = "sqlite3"
url = "file:app.db"
verbose = true
timeout = "3s"
`
	require.NoError(t, tomlParser(strings.NewReader(config), set))
	require.Equal(t, map[string]string{
		"driver":  "sqlite3",
		"url":     "file:app.db",
		"verbose": "true",
		"timeout": "3s",
	}, got)

	err := tomlParser(strings.NewReader("[db]\nurl = \"x\"\n"), set)
	require.Error(t, err)
	err = tomlParser(strings.NewReader("url = "), set)
	require.Error(t, err)
}

func Test_loadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MIKRATOR_DOTENV_TEST=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MIKRATOR_DOTENV_TEST") })
	require.NoError(t, loadDotEnv(path))
	require.Equal(t, "loaded", os.Getenv("MIKRATOR_DOTENV_TEST"))
}

func Test_formatDriverError(t *testing.T) {
	msg := formatDriverError(&pq.Error{Severity: "ERROR", Code: "42P01", Message: `relation "t" does not exist`})
	require.Contains(t, msg, "Error Code : 42P01 (undefined_table)")
	require.Contains(t, msg, `relation "t" does not exist`)

	msg = formatDriverError(&mysql.MySQLError{Number: 1146, Message: "Table 'test.t' doesn't exist"})
	require.Contains(t, msg, "Error Code : 1146")
	require.NotContains(t, msg, "SQL State")

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("SELECT * FROM nothere")
	require.Error(t, err)
	msg = formatDriverError(err)
	require.Contains(t, msg, "Error Code : 1")
	require.Contains(t, msg, "no such table")
}

// run calls ParseAndRun against the sqlite database at url.
func run(t *testing.T, url, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-driver", "sqlite3", "-url", url, "-no-color"}, args...)
	code := ParseAndRun(&stdout, &stderr, strings.NewReader(stdin), args)
	return code, stdout.String(), stderr.String()
}

func TestParseAndRun(t *testing.T) {
	dir := t.TempDir()
	url := filepath.Join(dir, "app.db")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, ParseAndRun(&stdout, &stderr, nil, []string{"version"}))
	require.Contains(t, stdout.String(), mikrator.Version)

	require.Equal(t, 1, ParseAndRun(&stdout, &stderr, nil, nil))
	require.Equal(t, 1, ParseAndRun(&stdout, &stderr, nil, []string{"-format", "xml", "snapshot"}))
	require.Equal(t, 1, ParseAndRun(&stdout, &stderr, nil, []string{"-driver", "sqlite3", "snapshot"}))

	code, _, errOut := run(t, url, "", "frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unknown command")

	code, out, errOut := run(t, url, "", "execute-sql",
		"CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT); INSERT INTO t (name) VALUES ('a'); SELECT id, name FROM t")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "(1 rows)")

	code, out, _ = run(t, url, "SELECT COUNT(*) AS n FROM t;", "execute-sql")
	require.Equal(t, 0, code)
	require.Contains(t, out, "n")

	code, _, errOut = run(t, url, "", "execute-sql", "SELECT * FROM nothere")
	require.Equal(t, 3, code)
	require.Contains(t, errOut, "no such table")

	code, out, _ = run(t, url, "", "-format", "json", "snapshot")
	require.Equal(t, 0, code)
	require.Contains(t, out, `"name": "t"`)

	snapFile := filepath.Join(dir, "snapshot.yaml")
	code, _, _ = run(t, url, "", "-out", snapFile, "snapshot")
	require.Equal(t, 0, code)
	require.FileExists(t, snapFile)

	code, _, _ = run(t, url, "", "execute-sql", "CREATE TABLE u (id int)")
	require.Equal(t, 0, code)
	code, out, _ = run(t, url, "", "-reference-snapshot", snapFile, "diff")
	require.Equal(t, 0, code)
	require.Contains(t, out, "Missing: NONE")
	require.Contains(t, out, "table u")

	code, _, _ = run(t, url, "", "diff")
	require.Equal(t, 1, code)

	code, out, _ = run(t, url, "", "-author", "carol", "generate-changelog")
	require.Equal(t, 0, code)
	require.Contains(t, out, "createTable")
	require.Contains(t, out, "carol")

	code, out, _ = run(t, url, "", "history")
	require.Equal(t, 0, code)
	require.Contains(t, out, "no changesets executed")

	code, _, _ = run(t, url, "", "tag", "v1")
	require.Equal(t, 3, code)
	code, _, _ = run(t, url, "", "tag")
	require.Equal(t, 1, code)

	code, out, _ = run(t, url, "", "tag-exists", "v1")
	require.Equal(t, 0, code)
	require.Contains(t, out, "does not exist")

	code, out, _ = run(t, url, "", "list-locks")
	require.Equal(t, 0, code)
	require.Contains(t, out, "no locks held")

	code, out, _ = run(t, url, "", "release-locks")
	require.Equal(t, 0, code)
	require.Contains(t, out, "locks released")

	code, out, _ = run(t, url, "", "clear-checksums")
	require.Equal(t, 0, code)
	require.Contains(t, out, "checksums cleared")

	docs := filepath.Join(dir, "docs")
	code, _, errOut = run(t, url, "", "db-doc", docs)
	require.Equal(t, 0, code, errOut)
	require.FileExists(t, filepath.Join(docs, "index.html"))
	require.FileExists(t, filepath.Join(docs, "tables", "t.html"))

	code, out, _ = run(t, url, "no\n", "drop-all")
	require.Equal(t, 0, code)
	require.Contains(t, out, "aborted")

	code, out, _ = run(t, url, "yes\n", "drop-all")
	require.Equal(t, 0, code)
	require.Contains(t, out, "all database objects dropped")

	code, out, _ = run(t, url, "", "-format", "json", "snapshot")
	require.Equal(t, 0, code)
	require.NotContains(t, out, `"name": "t"`)
}

func TestParseAndRunHistory(t *testing.T) {
	ctx := context.Background()
	url := filepath.Join(t.TempDir(), "app.db")

	db, err := sql.Open("sqlite3", url)
	require.NoError(t, err)
	m, err := mikrator.New(db)
	require.NoError(t, err)
	_, err = m.Update(ctx, changelog.New(changelog.WithChangeSets(
		changelog.NewChangeSet("1", "alice", changelog.Changes(&changelog.SQL{SQL: "CREATE TABLE t (id int)"})),
		changelog.NewChangeSet("2", "alice", changelog.Changes(&changelog.TagDatabase{Tag: "v1"})),
	)))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	code, out, errOut := run(t, url, "", "history")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "deployment")
	require.Contains(t, out, "1 ::1::alice EXECUTED")
	require.Contains(t, out, "2 ::2::alice EXECUTED tag v1")

	code, out, _ = run(t, url, "", "-tags", "history")
	require.Equal(t, 0, code)
	require.NotContains(t, out, "::1::alice")
	require.Contains(t, out, "::2::alice")

	code, out, _ = run(t, url, "", "tag-exists", "v1")
	require.Equal(t, 0, code)
	require.Contains(t, out, "tag v1 exists")

	code, _, _ = run(t, url, "", "tag", "v2")
	require.Equal(t, 0, code)
	code, out, _ = run(t, url, "", "history", "v2")
	require.Equal(t, 0, code)
	require.Contains(t, out, "::2::alice")
}

func Test_historyTree(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := []ledger.RanChangeSet{
		{ID: "1", Author: "alice", OrderExecuted: 1, ExecType: ledger.Executed, DeploymentID: "d1", DateExecuted: now.Add(-2 * time.Hour)},
		{ID: "2", Author: "alice", OrderExecuted: 2, ExecType: ledger.MarkRan, DeploymentID: "d1", DateExecuted: now.Add(-2 * time.Hour)},
		{ID: "3", Author: "bob", OrderExecuted: 3, ExecType: ledger.Failed, DeploymentID: "d2", DateExecuted: now.Add(-time.Minute), Tag: "v2"},
	}
	tree := historyTree(rows, now)
	require.Equal(t, 2, strings.Count(tree, "deployment"))
	require.Contains(t, tree, "deployment d1 (2 hours ago)")
	require.Contains(t, tree, "deployment d2 (1 minute ago)")
	require.Contains(t, tree, "2 ::2::alice MARK_RAN")
	require.Contains(t, tree, "3 ::3::bob FAILED tag v2")
}

func TestParseAndRunConfig(t *testing.T) {
	dir := t.TempDir()
	url := filepath.Join(dir, "app.db")

	config := filepath.Join(dir, "mikrator.toml")
	require.NoError(t, os.WriteFile(config, []byte("driver = \"sqlite3\"\nurl = \""+filepath.ToSlash(url)+"\"\nno-color = true\n"), 0o600))
	var stdout, stderr bytes.Buffer
	code := ParseAndRun(&stdout, &stderr, nil, []string{"-config", config, "list-locks"})
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "no locks held")

	t.Setenv("MIKRATOR_DRIVER", "sqlite3")
	t.Setenv("MIKRATOR_URL", url)
	stdout.Reset()
	code = ParseAndRun(&stdout, &stderr, nil, []string{"tag-exists", "v1"})
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "does not exist")
}

// flushFs creates files which fail to flush on Close.
type flushFs struct{ afero.Fs }

func (fs flushFs) Create(name string) (afero.File, error) {
	f, err := fs.Fs.Create(name)
	return flushFile{f}, err
}

type flushFile struct{ afero.File }

func (flushFile) Close() error { return errors.New("disk full") }

func Test_appOutput(t *testing.T) {
	var stdout bytes.Buffer
	a := &app{logger: zap.NewNop(), stdout: &stdout, fs: afero.NewMemMapFs()}
	write := func(w io.Writer) error {
		_, err := io.WriteString(w, "tables: []\n")
		return err
	}

	require.NoError(t, a.output(write))
	require.Equal(t, "tables: []\n", stdout.String())

	a.out = "snapshot.yaml"
	require.NoError(t, a.output(write))
	raw, err := afero.ReadFile(a.fs, "snapshot.yaml")
	require.NoError(t, err)
	require.Equal(t, "tables: []\n", string(raw))

	a.fs = flushFs{afero.NewMemMapFs()}
	err = a.output(write)
	require.EqualError(t, err, "failed to write snapshot.yaml: disk full")

	werr := errors.New("encode failed")
	err = a.output(func(io.Writer) error { return werr })
	require.ErrorIs(t, err, werr)
}
