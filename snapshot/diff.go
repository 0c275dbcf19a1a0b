package snapshot

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/denisbrodbeck/mikrator/format"
)

// ObjectType is the kind of a database object.
type ObjectType string

const (
	TypeTable            ObjectType = "table"
	TypeColumn           ObjectType = "column"
	TypePrimaryKey       ObjectType = "primaryKey"
	TypeUniqueConstraint ObjectType = "uniqueConstraint"
	TypeIndex            ObjectType = "index"
	TypeForeignKey       ObjectType = "foreignKey"
	TypeView             ObjectType = "view"
	TypeSequence         ObjectType = "sequence"
)

var typeOrder = map[ObjectType]int{
	TypeTable:            0,
	TypeColumn:           1,
	TypePrimaryKey:       2,
	TypeUniqueConstraint: 3,
	TypeIndex:            4,
	TypeForeignKey:       5,
	TypeView:             6,
	TypeSequence:         7,
}

// Object identifies a database object. Table is empty for tables, views and
// sequences.
type Object struct {
	Type  ObjectType `json:"type"`
	Table string     `json:"table,omitempty"`
	Name  string     `json:"name"`
}

func (o Object) String() string {
	if o.Table == "" {
		return string(o.Type) + " " + o.Name
	}
	return string(o.Type) + " " + o.Table + "." + o.Name
}

// Difference is a single attribute which differs between two objects.
type Difference struct {
	Field      string `json:"field"`
	Reference  string `json:"reference"`
	Comparison string `json:"comparison"`
}

// ChangedObject is an object present in both snapshots with different
// attributes.
type ChangedObject struct {
	Object
	Differences []Difference `json:"differences"`
}

// DiffResult is the outcome of Compare.
type DiffResult struct {
	// Reference and Comparison are the compared snapshots.
	Reference  *Snapshot `json:"-"`
	Comparison *Snapshot `json:"-"`
	// Missing objects exist in the reference but not in the comparison.
	Missing []Object `json:"missing"`
	// Unexpected objects exist in the comparison but not in the reference.
	Unexpected []Object        `json:"unexpected"`
	Changed    []ChangedObject `json:"changed"`
}

// Empty reports whether both snapshots are equal.
func (r *DiffResult) Empty() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0 && len(r.Changed) == 0
}

// Serialize writes the diff to w.
func (r *DiffResult) Serialize(w io.Writer, f format.Format) error {
	return format.Encode(w, f, r)
}

// Compare computes the structural differences between reference and
// comparison. A missing or unexpected table is reported once; its columns,
// indexes and constraints are not listed separately.
func Compare(reference, comparison *Snapshot) *DiffResult {
	r := &DiffResult{Reference: reference, Comparison: comparison}

	for _, rt := range reference.Tables {
		ct := comparison.Table(rt.Name)
		if ct == nil {
			r.Missing = append(r.Missing, Object{Type: TypeTable, Name: rt.Name})
			continue
		}
		r.compareTables(rt, ct)
	}
	for _, ct := range comparison.Tables {
		if reference.Table(ct.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeTable, Name: ct.Name})
		}
	}

	for _, rv := range reference.Views {
		cv := comparison.View(rv.Name)
		if cv == nil {
			r.Missing = append(r.Missing, Object{Type: TypeView, Name: rv.Name})
			continue
		}
		r.changed(Object{Type: TypeView, Name: rv.Name},
			diff("definition", normalizeSQL(rv.Definition), normalizeSQL(cv.Definition)))
	}
	for _, cv := range comparison.Views {
		if reference.View(cv.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeView, Name: cv.Name})
		}
	}

	for _, rs := range reference.Sequences {
		cs := comparison.Sequence(rs.Name)
		if cs == nil {
			r.Missing = append(r.Missing, Object{Type: TypeSequence, Name: rs.Name})
			continue
		}
		r.changed(Object{Type: TypeSequence, Name: rs.Name},
			diff("start", itoa(rs.Start), itoa(cs.Start)),
			diff("increment", itoa(rs.Increment), itoa(cs.Increment)),
			diff("minValue", itoa(rs.MinValue), itoa(cs.MinValue)),
			diff("maxValue", itoa(rs.MaxValue), itoa(cs.MaxValue)),
			diff("cycle", strconv.FormatBool(rs.Cycle), strconv.FormatBool(cs.Cycle)))
	}
	for _, cs := range comparison.Sequences {
		if reference.Sequence(cs.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeSequence, Name: cs.Name})
		}
	}

	sortObjects(r.Missing)
	sortObjects(r.Unexpected)
	sort.SliceStable(r.Changed, func(i, j int) bool { return less(r.Changed[i].Object, r.Changed[j].Object) })
	return r
}

func (r *DiffResult) compareTables(rt, ct *Table) {
	table := rt.Name
	r.changed(Object{Type: TypeTable, Name: table}, diff("remarks", rt.Remarks, ct.Remarks))

	for _, rc := range rt.Columns {
		cc := ct.Column(rc.Name)
		if cc == nil {
			r.Missing = append(r.Missing, Object{Type: TypeColumn, Table: table, Name: rc.Name})
			continue
		}
		r.changed(Object{Type: TypeColumn, Table: table, Name: rc.Name},
			diff("type", normalizeType(rc.Type), normalizeType(cc.Type)),
			diff("nullable", strconv.FormatBool(rc.Nullable), strconv.FormatBool(cc.Nullable)),
			diff("default", rc.Default, cc.Default),
			diff("autoIncrement", strconv.FormatBool(rc.AutoIncrement), strconv.FormatBool(cc.AutoIncrement)),
			diff("remarks", rc.Remarks, cc.Remarks))
	}
	for _, cc := range ct.Columns {
		if rt.Column(cc.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeColumn, Table: table, Name: cc.Name})
		}
	}

	switch {
	case rt.PrimaryKey != nil && ct.PrimaryKey == nil:
		r.Missing = append(r.Missing, Object{Type: TypePrimaryKey, Table: table, Name: rt.PrimaryKey.Name})
	case rt.PrimaryKey == nil && ct.PrimaryKey != nil:
		r.Unexpected = append(r.Unexpected, Object{Type: TypePrimaryKey, Table: table, Name: ct.PrimaryKey.Name})
	case rt.PrimaryKey != nil:
		r.changed(Object{Type: TypePrimaryKey, Table: table, Name: rt.PrimaryKey.Name},
			diff("columns", join(rt.PrimaryKey.Columns), join(ct.PrimaryKey.Columns)))
	}

	for _, ru := range rt.UniqueConstraints {
		cu := ct.UniqueConstraint(ru.Name)
		if cu == nil {
			cu = ct.UniqueOn(ru.Columns)
		}
		if cu == nil {
			r.Missing = append(r.Missing, Object{Type: TypeUniqueConstraint, Table: table, Name: ru.Name})
			continue
		}
		r.changed(Object{Type: TypeUniqueConstraint, Table: table, Name: ru.Name},
			diff("columns", join(ru.Columns), join(cu.Columns)))
	}
	for _, cu := range ct.UniqueConstraints {
		if rt.UniqueConstraint(cu.Name) == nil && rt.UniqueOn(cu.Columns) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeUniqueConstraint, Table: table, Name: cu.Name})
		}
	}

	for _, ri := range rt.Indexes {
		ci := ct.Index(ri.Name)
		if ci == nil {
			r.Missing = append(r.Missing, Object{Type: TypeIndex, Table: table, Name: ri.Name})
			continue
		}
		r.changed(Object{Type: TypeIndex, Table: table, Name: ri.Name},
			diff("columns", join(ri.Columns), join(ci.Columns)),
			diff("unique", strconv.FormatBool(ri.Unique), strconv.FormatBool(ci.Unique)))
	}
	for _, ci := range ct.Indexes {
		if rt.Index(ci.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeIndex, Table: table, Name: ci.Name})
		}
	}

	for _, rf := range rt.ForeignKeys {
		cf := ct.ForeignKey(rf.Name)
		if cf == nil {
			r.Missing = append(r.Missing, Object{Type: TypeForeignKey, Table: table, Name: rf.Name})
			continue
		}
		r.changed(Object{Type: TypeForeignKey, Table: table, Name: rf.Name},
			diff("columns", join(rf.Columns), join(cf.Columns)),
			diff("referencedTable", strings.ToLower(rf.ReferencedTable), strings.ToLower(cf.ReferencedTable)),
			diff("referencedColumns", join(rf.ReferencedColumns), join(cf.ReferencedColumns)),
			diff("onDelete", rf.OnDelete, cf.OnDelete),
			diff("onUpdate", rf.OnUpdate, cf.OnUpdate))
	}
	for _, cf := range ct.ForeignKeys {
		if rt.ForeignKey(cf.Name) == nil {
			r.Unexpected = append(r.Unexpected, Object{Type: TypeForeignKey, Table: table, Name: cf.Name})
		}
	}
}

// changed records o when at least one of diffs is not nil.
func (r *DiffResult) changed(o Object, diffs ...*Difference) {
	var ds []Difference
	for _, d := range diffs {
		if d != nil {
			ds = append(ds, *d)
		}
	}
	if len(ds) > 0 {
		r.Changed = append(r.Changed, ChangedObject{Object: o, Differences: ds})
	}
}

func diff(field, reference, comparison string) *Difference {
	if reference == comparison {
		return nil
	}
	return &Difference{Field: field, Reference: reference, Comparison: comparison}
}

func join(cols []string) string {
	return strings.ToLower(strings.Join(cols, ","))
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func sortObjects(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool { return less(objs[i], objs[j]) })
}

func less(a, b Object) bool {
	if typeOrder[a.Type] != typeOrder[b.Type] {
		return typeOrder[a.Type] < typeOrder[b.Type]
	}
	if a.Table != b.Table {
		return a.Table < b.Table
	}
	return a.Name < b.Name
}

// Report writes a human readable report of r to w.
func (r *DiffResult) Report(w io.Writer) error {
	var err error
	printf := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	section := func(title string, objs []Object) {
		printf("%s:", title)
		if len(objs) == 0 {
			printf(" NONE\n")
			return
		}
		printf("\n")
		for _, o := range objs {
			printf("  %s\n", o)
		}
	}
	section("Missing", r.Missing)
	section("Unexpected", r.Unexpected)
	printf("Changed:")
	if len(r.Changed) == 0 {
		printf(" NONE\n")
	} else {
		printf("\n")
	}
	for _, c := range r.Changed {
		printf("  %s\n", c.Object)
		for _, d := range c.Differences {
			printf("    %s changed from %q to %q\n", d.Field, d.Reference, d.Comparison)
		}
	}
	return err
}
