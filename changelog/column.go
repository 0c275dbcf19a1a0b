package changelog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/denisbrodbeck/mikrator/dialect"
)

// Column is a column of createTable, addColumn, createIndex, insert and
// update. Which fields matter depends on the change.
type Column struct {
	Name          string       `json:"name"`
	Type          string       `json:"type,omitempty"`
	Value         *Value       `json:"value,omitempty"`
	Default       *Value       `json:"defaultValue,omitempty"`
	AutoIncrement bool         `json:"autoIncrement,omitempty"`
	Remarks       string       `json:"remarks,omitempty"`
	Constraints   *Constraints `json:"constraints,omitempty"`
	BeforeColumn  string       `json:"beforeColumn,omitempty"`
	AfterColumn   string       `json:"afterColumn,omitempty"`
	// Position 1 adds the column as first column.
	Position int `json:"position,omitempty"`
	// Computed index columns are expressions.
	Computed   bool `json:"computed,omitempty"`
	Descending bool `json:"descending,omitempty"`
}

// Constraints are inline column constraints.
type Constraints struct {
	// Nullable nil leaves the database default.
	Nullable             *bool  `json:"nullable,omitempty"`
	PrimaryKey           bool   `json:"primaryKey,omitempty"`
	PrimaryKeyName       string `json:"primaryKeyName,omitempty"`
	Unique               bool   `json:"unique,omitempty"`
	UniqueConstraintName string `json:"uniqueConstraintName,omitempty"`
	// References is "table(column)". ReferencedTableName and
	// ReferencedColumnNames are used when it is empty.
	References            string `json:"references,omitempty"`
	ReferencedTableName   string `json:"referencedTableName,omitempty"`
	ReferencedColumnNames string `json:"referencedColumnNames,omitempty"`
	ForeignKeyName        string `json:"foreignKeyName,omitempty"`
	DeleteCascade         bool   `json:"deleteCascade,omitempty"`
	CheckConstraint       string `json:"checkConstraint,omitempty"`
	NotNullConstraintName string `json:"notNullConstraintName,omitempty"`
}

// NotNull returns constraints declaring a column NOT NULL.
func NotNull() *Constraints {
	f := false
	return &Constraints{Nullable: &f}
}

// PrimaryKey returns constraints declaring a column primary key.
func PrimaryKey() *Constraints {
	f := false
	return &Constraints{PrimaryKey: true, Nullable: &f}
}

var referencesRe = regexp.MustCompile(`^\s*([^()\s]+)\s*\(([^)]*)\)\s*$`)

func (c *Constraints) notNull() bool {
	return c != nil && (c.PrimaryKey || c.Nullable != nil && !*c.Nullable)
}

func (c *Constraints) reference(schema string) (*dialect.Reference, error) {
	if c == nil || c.References == "" && c.ReferencedTableName == "" {
		return nil, nil
	}
	ref := &dialect.Reference{Name: c.ForeignKeyName}
	if c.DeleteCascade {
		ref.OnDelete = "CASCADE"
	}
	if c.References != "" {
		m := referencesRe.FindStringSubmatch(c.References)
		if m == nil {
			return nil, fmt.Errorf("invalid references %q, expected table(column)", c.References)
		}
		ref.Table = parseName(m[1], schema)
		ref.Columns = splitNames(m[2])
		return ref, nil
	}
	ref.Table = table(schema, c.ReferencedTableName)
	ref.Columns = splitNames(c.ReferencedColumnNames)
	return ref, nil
}

func parseName(s, schema string) dialect.Name {
	if i := strings.LastIndex(s, "."); i >= 0 {
		return dialect.Name{Schema: s[:i], Name: s[i+1:]}
	}
	return table(schema, s)
}

// columnDef converts c to a column definition for createTable and
// addColumn.
func (c Column) columnDef(env Env, schema string) (dialect.ColumnDef, error) {
	def := dialect.ColumnDef{
		Name:          c.Name,
		Type:          c.Type,
		NotNull:       c.Constraints.notNull(),
		AutoIncrement: c.AutoIncrement,
		Remarks:       env.expand(c.Remarks),
	}
	if c.Default != nil {
		v, err := c.Default.literal(env)
		if err != nil {
			return def, fmt.Errorf("column %s: %w", c.Name, err)
		}
		def.Default = v
	}
	if k := c.Constraints; k != nil {
		def.PrimaryKey = k.PrimaryKey
		def.Unique = k.Unique
		def.UniqueName = k.UniqueConstraintName
		def.Check = k.CheckConstraint
		ref, err := k.reference(schema)
		if err != nil {
			return def, fmt.Errorf("column %s: %w", c.Name, err)
		}
		def.References = ref
	}
	return def, nil
}

// ValueKind is the type of a Value.
type ValueKind string

const (
	KindString               ValueKind = "string"
	KindNumeric              ValueKind = "numeric"
	KindBoolean              ValueKind = "boolean"
	KindDate                 ValueKind = "date"
	KindComputed             ValueKind = "computed"
	KindNextSequenceValue    ValueKind = "sequenceNext"
	KindCurrentSequenceValue ValueKind = "sequenceCurrent"
	KindNull                 ValueKind = "null"
)

// Value is a column value or default value.
type Value struct {
	Kind ValueKind `json:"kind"`
	Raw  string    `json:"value,omitempty"`
}

// String returns a string value. Properties in s are expanded.
func String(s string) *Value { return &Value{Kind: KindString, Raw: s} }

// Numeric returns a numeric value. v is any integer or float or a string
// holding a number.
func Numeric(v interface{}) *Value { return &Value{Kind: KindNumeric, Raw: fmt.Sprint(v)} }

// Bool returns a boolean value.
func Bool(b bool) *Value { return &Value{Kind: KindBoolean, Raw: strconv.FormatBool(b)} }

// Date returns a date, time or timestamp value in ISO 8601 form, e.g.
// "2020-01-02", "12:30:00" or "2020-01-02T12:30:00". Anything else is
// treated as a database function, e.g. "NOW()".
func Date(s string) *Value { return &Value{Kind: KindDate, Raw: s} }

// DateTime returns a timestamp value.
func DateTime(t time.Time) *Value {
	return &Value{Kind: KindDate, Raw: t.Format("2006-01-02T15:04:05.999999999")}
}

// Computed returns a SQL expression rendered verbatim.
func Computed(expr string) *Value { return &Value{Kind: KindComputed, Raw: expr} }

// NextSequenceValue returns the next value of sequence.
func NextSequenceValue(sequence string) *Value {
	return &Value{Kind: KindNextSequenceValue, Raw: sequence}
}

// CurrentSequenceValue returns the current value of sequence.
func CurrentSequenceValue(sequence string) *Value {
	return &Value{Kind: KindCurrentSequenceValue, Raw: sequence}
}

// Null returns NULL.
func Null() *Value { return &Value{Kind: KindNull} }

var dateLayouts = []struct {
	layout string
	render string
}{
	{"2006-01-02T15:04:05.999999999", ""},
	{"2006-01-02 15:04:05.999999999", ""},
	{"2006-01-02", "2006-01-02"},
	{"15:04:05", "15:04:05"},
}

// literal converts v to a value understood by dialect.Literal.
func (v *Value) literal(env Env) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch v.Kind {
	case KindString, "":
		return env.expand(v.Raw), nil
	case KindNumeric:
		raw := strings.TrimSpace(env.expand(v.Raw))
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("invalid numeric value %q", raw)
		}
		return dialect.Expr(raw), nil
	case KindBoolean:
		b, err := strconv.ParseBool(env.expand(v.Raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean value %q", v.Raw)
		}
		return b, nil
	case KindDate:
		raw := strings.TrimSpace(env.expand(v.Raw))
		for _, l := range dateLayouts {
			t, err := time.Parse(l.layout, raw)
			if err != nil {
				continue
			}
			if l.render == "" {
				return t, nil
			}
			return t.Format(l.render), nil
		}
		return dialect.Expr(raw), nil
	case KindComputed:
		return dialect.Expr(env.expand(v.Raw)), nil
	case KindNextSequenceValue:
		return dialect.NextVal{Sequence: parseName(v.Raw, "")}, nil
	case KindCurrentSequenceValue:
		return dialect.CurrVal{Sequence: parseName(v.Raw, "")}, nil
	case KindNull:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown value kind %q", v.Kind)
}

// valueOf returns the literal of the column value, or of its default when
// the value is unset.
func (c Column) valueOf(env Env) (interface{}, error) {
	if c.Value != nil {
		return c.Value.literal(env)
	}
	return c.Default.literal(env)
}
