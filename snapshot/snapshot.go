// Package snapshot captures the structure of a live database and compares
// two captures.
//
// A Snapshot is plain data. It can be serialized, loaded back and compared
// without a database connection. Every collection is kept in a
// deterministic order: tables, views, sequences, indexes and constraints by
// name, columns by their position in the table.
package snapshot

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/denisbrodbeck/mikrator/format"
	"github.com/spf13/afero"
)

// Snapshot is a point in time capture of the objects in one schema.
type Snapshot struct {
	Dialect   string      `json:"dialect"`
	Version   string      `json:"version,omitempty"`
	Schema    string      `json:"schema,omitempty"`
	Created   time.Time   `json:"created"`
	Tables    []*Table    `json:"tables"`
	Views     []*View     `json:"views,omitempty"`
	Sequences []*Sequence `json:"sequences,omitempty"`
}

// Table is a base table.
type Table struct {
	Name              string              `json:"name"`
	Remarks           string              `json:"remarks,omitempty"`
	Columns           []*Column           `json:"columns"`
	PrimaryKey        *PrimaryKey         `json:"primaryKey,omitempty"`
	Indexes           []*Index            `json:"indexes,omitempty"`
	UniqueConstraints []*UniqueConstraint `json:"uniqueConstraints,omitempty"`
	ForeignKeys       []*ForeignKey       `json:"foreignKeys,omitempty"`
}

// Column is a table column. Type is upper cased as reported by the
// database; Default is the default expression, empty when there is none.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Nullable      bool   `json:"nullable"`
	Default       string `json:"default,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty"`
	Remarks       string `json:"remarks,omitempty"`
	Position      int    `json:"position"`
}

type PrimaryKey struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
}

// Index is an index which does not back a constraint.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

type UniqueConstraint struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete,omitempty"`
	OnUpdate          string   `json:"onUpdate,omitempty"`
}

type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

type Sequence struct {
	Name      string `json:"name"`
	Start     int64  `json:"start"`
	Increment int64  `json:"increment"`
	MinValue  int64  `json:"minValue"`
	MaxValue  int64  `json:"maxValue"`
	Cycle     bool   `json:"cycle,omitempty"`
}

// Table returns the table named name or nil. Names are compared case
// insensitively.
func (s *Snapshot) Table(name string) *Table {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// View returns the view named name or nil.
func (s *Snapshot) View(name string) *View {
	for _, v := range s.Views {
		if strings.EqualFold(v.Name, name) {
			return v
		}
	}
	return nil
}

// Sequence returns the sequence named name or nil.
func (s *Snapshot) Sequence(name string) *Sequence {
	for _, q := range s.Sequences {
		if strings.EqualFold(q.Name, name) {
			return q
		}
	}
	return nil
}

// Index returns the first index named name on any table, or nil.
func (s *Snapshot) Index(name string) (*Table, *Index) {
	for _, t := range s.Tables {
		if i := t.Index(name); i != nil {
			return t, i
		}
	}
	return nil, nil
}

// Column returns the column called name or nil. Lookups of table members
// ignore case.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func (t *Table) Index(name string) *Index {
	for _, i := range t.Indexes {
		if strings.EqualFold(i.Name, name) {
			return i
		}
	}
	return nil
}

// IndexOn returns an index or unique constraint covering exactly columns.
func (t *Table) IndexOn(columns []string) *Index {
	for _, i := range t.Indexes {
		if sameColumns(i.Columns, columns) {
			return i
		}
	}
	for _, u := range t.UniqueConstraints {
		if sameColumns(u.Columns, columns) {
			return &Index{Name: u.Name, Columns: u.Columns, Unique: true}
		}
	}
	return nil
}

func (t *Table) ForeignKey(name string) *ForeignKey {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.Name, name) {
			return fk
		}
	}
	return nil
}

func (t *Table) UniqueConstraint(name string) *UniqueConstraint {
	for _, u := range t.UniqueConstraints {
		if strings.EqualFold(u.Name, name) {
			return u
		}
	}
	return nil
}

// UniqueOn returns the unique constraint covering exactly columns.
func (t *Table) UniqueOn(columns []string) *UniqueConstraint {
	for _, u := range t.UniqueConstraints {
		if sameColumns(u.Columns, columns) {
			return u
		}
	}
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(strings.TrimSpace(a[i]), strings.TrimSpace(b[i])) {
			return false
		}
	}
	return true
}

// sort brings every collection into its canonical order.
func (s *Snapshot) sort() {
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	sort.Slice(s.Views, func(i, j int) bool { return s.Views[i].Name < s.Views[j].Name })
	sort.Slice(s.Sequences, func(i, j int) bool { return s.Sequences[i].Name < s.Sequences[j].Name })
	for _, t := range s.Tables {
		sort.SliceStable(t.Columns, func(i, j int) bool { return t.Columns[i].Position < t.Columns[j].Position })
		sort.Slice(t.Indexes, func(i, j int) bool { return t.Indexes[i].Name < t.Indexes[j].Name })
		sort.Slice(t.UniqueConstraints, func(i, j int) bool { return t.UniqueConstraints[i].Name < t.UniqueConstraints[j].Name })
		sort.Slice(t.ForeignKeys, func(i, j int) bool { return t.ForeignKeys[i].Name < t.ForeignKeys[j].Name })
	}
}

// Serialize writes the snapshot to w.
func (s *Snapshot) Serialize(w io.Writer, f format.Format) error {
	return format.Encode(w, f, s)
}

// Load reads a snapshot written by Serialize.
func Load(r io.Reader, f format.Format) (*Snapshot, error) {
	s := &Snapshot{}
	if err := format.Decode(r, f, s); err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.sort()
	return s, nil
}

// WriteFile serializes the snapshot to path. The format follows the file
// extension.
func (s *Snapshot) WriteFile(fs afero.Fs, path string) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file %q: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return s.Serialize(f, format.FromPath(path))
}

// LoadFile loads a snapshot from path. The format follows the file
// extension.
func LoadFile(fs afero.Fs, path string) (*Snapshot, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file %q: %w", path, err)
	}
	defer f.Close()
	return Load(f, format.FromPath(path))
}
