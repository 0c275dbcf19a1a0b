package mikrator

import (
	"context"
	"html/template"
	"io"
	"path/filepath"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/format"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"go.uber.org/zap"
)

const docLayout = `{{define "head"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.}}</title></head>
<body>
<p><a href="{{root}}index.html">Overview</a> | <a href="{{root}}pending.html">Pending changes</a> | <a href="{{root}}changelog.yaml">Changelog</a></p>
<h1>{{.}}</h1>
{{end}}
{{define "foot"}}<hr><p>Generated by mikrator {{version}}</p>
</body>
</html>
{{end}}`

const docIndex = `{{template "head" "Database"}}
<p>{{.Snapshot.Dialect}} {{.Snapshot.Version}}, captured {{.Snapshot.Created.UTC.Format "2006-01-02 15:04:05"}} UTC</p>
<h2>Tables</h2>
<ul>
{{range .Snapshot.Tables}}<li><a href="tables/{{page .Name}}">{{.Name}}</a>{{if .Remarks}} {{.Remarks}}{{end}}</li>
{{else}}<li>none</li>
{{end}}</ul>
{{if .Snapshot.Views}}<h2>Views</h2>
<ul>
{{range .Snapshot.Views}}<li>{{.Name}}<pre>{{.Definition}}</pre></li>
{{end}}</ul>
{{end}}{{if .Snapshot.Sequences}}<h2>Sequences</h2>
<ul>
{{range .Snapshot.Sequences}}<li>{{.Name}} start {{.Start}} increment {{.Increment}}</li>
{{end}}</ul>
{{end}}<h2>Executed changesets</h2>
<table>
<tr><th>#</th><th>Changeset</th><th>Executed</th><th>Type</th><th>Tag</th><th>Description</th></tr>
{{range .Ran}}<tr><td>{{.OrderExecuted}}</td><td>{{.Identifier}}</td><td>{{.DateExecuted.UTC.Format "2006-01-02 15:04:05"}}</td><td>{{.ExecType}}</td><td>{{.Tag}}</td><td>{{.Description}}</td></tr>
{{end}}</table>
{{template "foot"}}`

const docTable = `{{template "head" .Table.Name}}
{{if .Table.Remarks}}<p>{{.Table.Remarks}}</p>{{end}}
<h2>Columns</h2>
<table>
<tr><th>Name</th><th>Type</th><th>Nullable</th><th>Default</th><th>Remarks</th></tr>
{{range .Table.Columns}}<tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Nullable}}</td><td>{{.Default}}</td><td>{{.Remarks}}</td></tr>
{{end}}</table>
{{with .Table.PrimaryKey}}<h2>Primary key</h2>
<p>{{.Name}} ({{join .Columns}})</p>
{{end}}{{if .Table.Indexes}}<h2>Indexes</h2>
<ul>
{{range .Table.Indexes}}<li>{{.Name}} ({{join .Columns}}){{if .Unique}} unique{{end}}</li>
{{end}}</ul>
{{end}}{{if .Table.UniqueConstraints}}<h2>Unique constraints</h2>
<ul>
{{range .Table.UniqueConstraints}}<li>{{.Name}} ({{join .Columns}})</li>
{{end}}</ul>
{{end}}{{if .Table.ForeignKeys}}<h2>Foreign keys</h2>
<ul>
{{range .Table.ForeignKeys}}<li>{{.Name}} ({{join .Columns}}) references <a href="{{page .ReferencedTable}}">{{.ReferencedTable}}</a> ({{join .ReferencedColumns}})</li>
{{end}}</ul>
{{end}}{{template "foot"}}`

const docPending = `{{template "head" "Pending changes"}}
<table>
<tr><th>Changeset</th><th>Runs as</th><th>Changes</th></tr>
{{range .}}<tr><td>{{.ChangeSet.Identifier}}</td><td>{{.ExecType}}</td><td>{{.ChangeSet.Description}}</td></tr>
{{else}}<tr><td colspan="3">none</td></tr>
{{end}}</table>
{{template "foot"}}`

func docTemplate(name, body, root string) *template.Template {
	funcs := template.FuncMap{
		"root":    func() string { return root },
		"version": func() string { return Version },
		"page":    docPage,
		"join":    func(s []string) string { return strings.Join(s, ", ") },
	}
	return template.Must(template.Must(template.New(name).Funcs(funcs).Parse(docLayout)).Parse(body))
}

var (
	docIndexTmpl   = docTemplate("index", docIndex, "")
	docTableTmpl   = docTemplate("table", docTable, "../")
	docPendingTmpl = docTemplate("pending", docPending, "")
)

func docPage(table string) string {
	return strings.ToLower(strings.NewReplacer("/", "_", `\`, "_", " ", "_").Replace(table)) + ".html"
}

// DBDoc writes HTML documentation of the database and of the pending
// changesets of cl to dir on the file system of m.
func (m *Mikrator) DBDoc(ctx context.Context, cl *changelog.ChangeLog, dir string, options ...RunOption) error {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	ran, err := m.ran(ctx)
	if err != nil {
		return err
	}
	pending, err := m.Status(ctx, cl, options...)
	if err != nil {
		return err
	}

	if err := m.fs.MkdirAll(filepath.Join(dir, "tables"), 0o755); err != nil {
		return err
	}
	err = m.writeDoc(filepath.Join(dir, "index.html"), func(w io.Writer) error {
		return docIndexTmpl.Execute(w, struct {
			Snapshot *snapshot.Snapshot
			Ran      []ledger.RanChangeSet
		}{snap, ran})
	})
	if err != nil {
		return err
	}
	for _, t := range snap.Tables {
		t := t
		err := m.writeDoc(filepath.Join(dir, "tables", docPage(t.Name)), func(w io.Writer) error {
			return docTableTmpl.Execute(w, struct{ Table *snapshot.Table }{t})
		})
		if err != nil {
			return err
		}
	}
	err = m.writeDoc(filepath.Join(dir, "pending.html"), func(w io.Writer) error {
		return docPendingTmpl.Execute(w, pending)
	})
	if err != nil {
		return err
	}
	err = m.writeDoc(filepath.Join(dir, "changelog.yaml"), func(w io.Writer) error {
		return cl.Serialize(w, format.YAML)
	})
	if err != nil {
		return err
	}
	m.logger.Info("database documentation written", zap.String("dir", dir), zap.Int("tables", len(snap.Tables)))
	return nil
}

func (m *Mikrator) writeDoc(path string, render func(w io.Writer) error) (err error) {
	f, err := m.fs.Create(path)
	if err != nil {
		return err
	}
	defer logCloser(f, m.logger)
	return render(f)
}
