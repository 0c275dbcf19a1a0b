package mikrator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"go.uber.org/zap"
)

// generator turns a snapshot diff into changesets which make the
// comparison look like the reference.
type generator struct {
	m      *Mikrator
	diff   *snapshot.DiffResult
	author string
	prefix string
	sets   []*changelog.ChangeSet
	// inlined foreign keys of created tables
	inlined map[string]bool
}

func (m *Mikrator) changeLogFromDiff(diff *snapshot.DiffResult, author string) *changelog.ChangeLog {
	g := &generator{
		m:       m,
		diff:    diff,
		author:  author,
		prefix:  strconv.FormatInt(m.clock.Now().UnixNano()/int64(1e6), 10),
		inlined: map[string]bool{},
	}
	g.missing()
	g.unexpected()
	g.changed()
	m.logger.Info("changelog generated", zap.Int("changesets", len(g.sets)))
	return changelog.New(changelog.WithChangeSets(g.sets...))
}

func (g *generator) sqlite() bool { return g.m.dialect.Name() == dialect.NameSQLite }

func (g *generator) add(c changelog.Change) {
	id := fmt.Sprintf("%s-%d", g.prefix, len(g.sets)+1)
	g.sets = append(g.sets, changelog.NewChangeSet(id, g.author, changelog.Changes(c)))
}

func byType(objs []snapshot.Object, t snapshot.ObjectType) []snapshot.Object {
	return filter(objs, func(o snapshot.Object) bool { return o.Type == t })
}

func (g *generator) missing() {
	ref := g.diff.Reference
	objs := g.diff.Missing

	if g.m.dialect.SupportsSequences() {
		for _, o := range byType(objs, snapshot.TypeSequence) {
			if s := ref.Sequence(o.Name); s != nil {
				g.add(createSequence(s))
			}
		}
	}
	for _, o := range byType(objs, snapshot.TypeTable) {
		if t := ref.Table(o.Name); t != nil {
			g.add(g.createTable(t))
		}
	}
	for _, o := range byType(objs, snapshot.TypeColumn) {
		if t := ref.Table(o.Table); t != nil {
			if c := t.Column(o.Name); c != nil {
				g.add(&changelog.AddColumn{TableName: t.Name, Columns: []changelog.Column{column(c)}})
			}
		}
	}
	for _, o := range byType(objs, snapshot.TypePrimaryKey) {
		if t := ref.Table(o.Table); t != nil && t.PrimaryKey != nil {
			g.add(addPrimaryKey(t))
		}
	}

	// objects of created tables are not listed separately
	created := map[string]bool{}
	for _, o := range byType(objs, snapshot.TypeTable) {
		created[strings.ToLower(o.Name)] = true
	}
	for _, t := range ref.Tables {
		if created[strings.ToLower(t.Name)] {
			for _, u := range t.UniqueConstraints {
				g.add(g.addUnique(t.Name, u))
			}
			for _, i := range t.Indexes {
				g.add(createIndex(t.Name, i))
			}
		}
	}
	for _, o := range byType(objs, snapshot.TypeUniqueConstraint) {
		if t := ref.Table(o.Table); t != nil {
			if u := t.UniqueConstraint(o.Name); u != nil {
				g.add(g.addUnique(t.Name, u))
			}
		}
	}
	for _, o := range byType(objs, snapshot.TypeIndex) {
		if t := ref.Table(o.Table); t != nil {
			if i := t.Index(o.Name); i != nil {
				g.add(createIndex(t.Name, i))
			}
		}
	}

	for _, t := range ref.Tables {
		if !created[strings.ToLower(t.Name)] {
			continue
		}
		for _, fk := range t.ForeignKeys {
			g.addForeignKey(t.Name, fk)
		}
	}
	for _, o := range byType(objs, snapshot.TypeForeignKey) {
		if t := ref.Table(o.Table); t != nil {
			if fk := t.ForeignKey(o.Name); fk != nil {
				g.addForeignKey(t.Name, fk)
			}
		}
	}

	for _, o := range byType(objs, snapshot.TypeView) {
		if v := ref.View(o.Name); v != nil {
			g.add(&changelog.CreateView{ViewName: v.Name, SelectQuery: viewQuery(v.Definition)})
		}
	}
}

func (g *generator) unexpected() {
	cmp := g.diff.Comparison
	objs := g.diff.Unexpected

	for _, o := range byType(objs, snapshot.TypeView) {
		g.add(&changelog.DropView{ViewName: o.Name})
	}
	if !g.sqlite() {
		for _, o := range byType(objs, snapshot.TypeForeignKey) {
			g.add(&changelog.DropForeignKeyConstraint{BaseTableName: o.Table, ConstraintName: o.Name})
		}
	}
	for _, o := range byType(objs, snapshot.TypeIndex) {
		g.add(&changelog.DropIndex{TableName: o.Table, IndexName: o.Name})
	}
	for _, o := range byType(objs, snapshot.TypeUniqueConstraint) {
		g.add(g.dropUnique(o.Table, o.Name))
	}
	for _, o := range byType(objs, snapshot.TypePrimaryKey) {
		g.add(&changelog.DropPrimaryKey{TableName: o.Table, ConstraintName: o.Name})
	}
	for _, o := range byType(objs, snapshot.TypeColumn) {
		g.add(&changelog.DropColumn{TableName: o.Table, ColumnName: o.Name})
	}
	var tables []*snapshot.Table
	for _, o := range byType(objs, snapshot.TypeTable) {
		if t := cmp.Table(o.Name); t != nil {
			tables = append(tables, t)
		}
	}
	for _, t := range dropOrder(tables) {
		g.add(&changelog.DropTable{TableName: t.Name, CascadeConstraints: true})
	}
	if g.m.dialect.SupportsSequences() {
		for _, o := range byType(objs, snapshot.TypeSequence) {
			g.add(&changelog.DropSequence{SequenceName: o.Name})
		}
	}
}

func (g *generator) changed() {
	ref := g.diff.Reference
	for _, c := range g.diff.Changed {
		switch c.Type {
		case snapshot.TypeTable:
			if t := ref.Table(c.Name); t != nil {
				g.add(&changelog.SetTableRemarks{TableName: t.Name, Remarks: t.Remarks})
			}
		case snapshot.TypeColumn:
			t := ref.Table(c.Table)
			if t == nil || t.Column(c.Name) == nil {
				continue
			}
			g.changedColumn(t.Name, t.Column(c.Name), c.Differences)
		case snapshot.TypePrimaryKey:
			if t := ref.Table(c.Table); t != nil && t.PrimaryKey != nil {
				g.add(&changelog.DropPrimaryKey{TableName: t.Name, ConstraintName: c.Name})
				g.add(addPrimaryKey(t))
			}
		case snapshot.TypeUniqueConstraint:
			if t := ref.Table(c.Table); t != nil {
				if u := t.UniqueConstraint(c.Name); u != nil {
					g.add(g.dropUnique(t.Name, c.Name))
					g.add(g.addUnique(t.Name, u))
				}
			}
		case snapshot.TypeIndex:
			if t := ref.Table(c.Table); t != nil {
				if i := t.Index(c.Name); i != nil {
					g.add(&changelog.DropIndex{TableName: t.Name, IndexName: i.Name})
					g.add(createIndex(t.Name, i))
				}
			}
		case snapshot.TypeForeignKey:
			if t := ref.Table(c.Table); t != nil && !g.sqlite() {
				if fk := t.ForeignKey(c.Name); fk != nil {
					g.add(&changelog.DropForeignKeyConstraint{BaseTableName: t.Name, ConstraintName: fk.Name})
					g.addForeignKey(t.Name, fk)
				}
			}
		case snapshot.TypeView:
			if v := ref.View(c.Name); v != nil {
				g.add(&changelog.CreateView{ViewName: v.Name, SelectQuery: viewQuery(v.Definition), ReplaceIfExists: true})
			}
		case snapshot.TypeSequence:
			if s := ref.Sequence(c.Name); s != nil && g.m.dialect.SupportsSequences() {
				cycle := s.Cycle
				g.add(&changelog.AlterSequence{
					SequenceName: s.Name,
					IncrementBy:  int64Ptr(s.Increment),
					MinValue:     int64Ptr(s.MinValue),
					MaxValue:     int64Ptr(s.MaxValue),
					Cycle:        &cycle,
				})
			}
		}
	}
}

func (g *generator) changedColumn(table string, c *snapshot.Column, diffs []snapshot.Difference) {
	for _, d := range diffs {
		switch d.Field {
		case "type":
			g.add(&changelog.ModifyDataType{TableName: table, ColumnName: c.Name, NewDataType: c.Type})
		case "nullable":
			if c.Nullable {
				g.add(&changelog.DropNotNullConstraint{TableName: table, ColumnName: c.Name, ColumnDataType: c.Type})
			} else {
				g.add(&changelog.AddNotNullConstraint{TableName: table, ColumnName: c.Name, ColumnDataType: c.Type})
			}
		case "default":
			if c.Default == "" {
				g.add(&changelog.DropDefaultValue{TableName: table, ColumnName: c.Name, ColumnDataType: c.Type})
			} else {
				g.add(&changelog.AddDefaultValue{TableName: table, ColumnName: c.Name, ColumnDataType: c.Type, DefaultValue: changelog.Computed(c.Default)})
			}
		case "remarks":
			g.add(&changelog.SetColumnRemarks{TableName: table, ColumnName: c.Name, ColumnDataType: c.Type, Remarks: c.Remarks})
		}
	}
}

func (g *generator) createTable(t *snapshot.Table) *changelog.CreateTable {
	ct := &changelog.CreateTable{TableName: t.Name, Remarks: t.Remarks}
	pk := map[string]bool{}
	if t.PrimaryKey != nil {
		for _, c := range t.PrimaryKey.Columns {
			pk[strings.ToLower(c)] = true
		}
	}
	for _, c := range t.Columns {
		col := column(c)
		if pk[strings.ToLower(c.Name)] {
			if col.Constraints == nil {
				col.Constraints = &changelog.Constraints{}
			}
			col.Constraints.PrimaryKey = true
			col.Constraints.PrimaryKeyName = t.PrimaryKey.Name
		}
		ct.Columns = append(ct.Columns, col)
	}

	// sqlite cannot add foreign keys to existing tables
	if g.sqlite() {
		for _, fk := range t.ForeignKeys {
			if len(fk.Columns) != 1 {
				continue
			}
			for i := range ct.Columns {
				col := &ct.Columns[i]
				if !strings.EqualFold(col.Name, fk.Columns[0]) {
					continue
				}
				if col.Constraints == nil {
					col.Constraints = &changelog.Constraints{}
				}
				col.Constraints.ForeignKeyName = fk.Name
				col.Constraints.ReferencedTableName = fk.ReferencedTable
				col.Constraints.ReferencedColumnNames = strings.Join(fk.ReferencedColumns, ",")
				col.Constraints.DeleteCascade = strings.EqualFold(fk.OnDelete, "CASCADE")
				g.inlined[strings.ToLower(t.Name+"."+fk.Name)] = true
			}
		}
	}
	return ct
}

func (g *generator) addForeignKey(table string, fk *snapshot.ForeignKey) {
	if g.inlined[strings.ToLower(table+"."+fk.Name)] {
		return
	}
	if g.sqlite() {
		g.m.logger.Warn("foreign key cannot be added to an existing sqlite table",
			zap.String("table", table), zap.String("foreignKey", fk.Name))
		return
	}
	g.add(&changelog.AddForeignKeyConstraint{
		BaseTableName:         table,
		BaseColumnNames:       strings.Join(fk.Columns, ","),
		ConstraintName:        fk.Name,
		ReferencedTableName:   fk.ReferencedTable,
		ReferencedColumnNames: strings.Join(fk.ReferencedColumns, ","),
		OnDelete:              fk.OnDelete,
		OnUpdate:              fk.OnUpdate,
	})
}

// addUnique returns the change adding u. SQLite adds unique indexes
// instead of constraints.
func (g *generator) addUnique(table string, u *snapshot.UniqueConstraint) changelog.Change {
	if g.sqlite() {
		name := u.Name
		if name == "" || strings.HasPrefix(name, "sqlite_") {
			name = "uq_" + table + "_" + strings.Join(u.Columns, "_")
		}
		return createIndex(table, &snapshot.Index{Name: name, Columns: u.Columns, Unique: true})
	}
	return &changelog.AddUniqueConstraint{TableName: table, ColumnNames: strings.Join(u.Columns, ","), ConstraintName: u.Name}
}

func (g *generator) dropUnique(table, name string) changelog.Change {
	if g.sqlite() {
		return &changelog.DropIndex{TableName: table, IndexName: name}
	}
	return &changelog.DropUniqueConstraint{TableName: table, ConstraintName: name}
}

func column(c *snapshot.Column) changelog.Column {
	col := changelog.Column{Name: c.Name, Type: c.Type, AutoIncrement: c.AutoIncrement, Remarks: c.Remarks}
	if c.Default != "" {
		col.Default = changelog.Computed(c.Default)
	}
	if !c.Nullable {
		col.Constraints = changelog.NotNull()
	}
	return col
}

func addPrimaryKey(t *snapshot.Table) *changelog.AddPrimaryKey {
	return &changelog.AddPrimaryKey{TableName: t.Name, ColumnNames: strings.Join(t.PrimaryKey.Columns, ","), ConstraintName: t.PrimaryKey.Name}
}

func createIndex(table string, i *snapshot.Index) *changelog.CreateIndex {
	ci := &changelog.CreateIndex{TableName: table, IndexName: i.Name, Unique: i.Unique}
	for _, c := range i.Columns {
		ci.Columns = append(ci.Columns, changelog.Column{Name: c})
	}
	return ci
}

func createSequence(s *snapshot.Sequence) *changelog.CreateSequence {
	return &changelog.CreateSequence{
		SequenceName: s.Name,
		StartValue:   int64Ptr(s.Start),
		IncrementBy:  int64Ptr(s.Increment),
		MinValue:     int64Ptr(s.MinValue),
		MaxValue:     int64Ptr(s.MaxValue),
		Cycle:        s.Cycle,
	}
}

func int64Ptr(v int64) *int64 { return &v }

// viewQuery strips the CREATE VIEW prefix some databases report as view
// definition.
func viewQuery(def string) string {
	def = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(def), ";"))
	upper := strings.ToUpper(def)
	if !strings.HasPrefix(upper, "CREATE ") {
		return def
	}
	if i := strings.Index(upper, " AS "); i >= 0 {
		return strings.TrimSpace(def[i+4:])
	}
	return def
}
