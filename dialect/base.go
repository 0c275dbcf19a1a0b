package dialect

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	version "github.com/hashicorp/go-version"
)

var (
	identRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	typeRe     = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9_ ]*?)\s*(\(.*\))?\s*(\[\])?\s*$`)
	timeLayout = "2006-01-02 15:04:05.999999"
)

var reserved = map[string]bool{
	"ALL": true, "ALTER": true, "AND": true, "AS": true, "ASC": true, "BETWEEN": true,
	"BY": true, "CASE": true, "CHECK": true, "COLUMN": true, "CONSTRAINT": true,
	"CREATE": true, "CROSS": true, "CURRENT_DATE": true, "CURRENT_TIME": true,
	"CURRENT_TIMESTAMP": true, "CURRENT_USER": true, "DATABASE": true, "DEFAULT": true,
	"DELETE": true, "DESC": true, "DISTINCT": true, "DROP": true, "ELSE": true,
	"END": true, "EXISTS": true, "FALSE": true, "FOR": true, "FOREIGN": true,
	"FROM": true, "FULL": true, "GRANT": true, "GROUP": true, "HAVING": true, "IN": true,
	"INDEX": true, "INNER": true, "INSERT": true, "INTO": true, "IS": true, "JOIN": true,
	"KEY": true, "LEFT": true, "LIKE": true, "LIMIT": true, "NOT": true, "NULL": true,
	"OFFSET": true, "ON": true, "OR": true, "ORDER": true, "OUTER": true, "PRIMARY": true,
	"REFERENCES": true, "RIGHT": true, "ROW": true, "ROWS": true, "SELECT": true,
	"SET": true, "TABLE": true, "THEN": true, "TO": true, "TRUE": true, "UNION": true,
	"UNIQUE": true, "UPDATE": true, "USER": true, "USING": true, "VALUES": true,
	"VIEW": true, "WHEN": true, "WHERE": true, "WITH": true,
}

// base carries what all dialects share. Dialect specific behavior is passed
// into the generic generators as the Dialect itself.
type base struct {
	name        string
	driver      string
	version     string
	quoteOpen   string
	quoteClose  string
	strategy    QuotingStrategy
	foldsToLow  bool
	placeholder sq.PlaceholderFormat
	types       map[string]string
}

func (b *base) Name() string                      { return b.name }
func (b *base) DriverName() string                { return b.driver }
func (b *base) Version() string                   { return b.version }
func (b *base) Quoting() QuotingStrategy          { return b.strategy }
func (b *base) Placeholder() sq.PlaceholderFormat { return b.placeholder }

func (b *base) Quote(ident string) string {
	if !b.needsQuote(ident) {
		return ident
	}
	escaped := strings.Replace(ident, b.quoteClose, b.quoteClose+b.quoteClose, -1)
	return b.quoteOpen + escaped + b.quoteClose
}

func (b *base) needsQuote(ident string) bool {
	switch {
	case b.strategy == QuoteAllObjects:
		return true
	case !identRe.MatchString(ident):
		return true
	case reserved[strings.ToUpper(ident)]:
		return true
	case b.strategy == QuoteLegacy && b.foldsToLow && ident != strings.ToLower(ident):
		return true
	}
	return false
}

func (b *base) QuoteName(n Name) string {
	if n.Schema == "" {
		return b.Quote(n.Name)
	}
	return b.Quote(n.Schema) + "." + b.Quote(n.Name)
}

// ColumnType maps the generic type t using the dialect's type table. Types
// the table does not know are passed through upper cased.
func (b *base) ColumnType(t string, autoIncrement bool) string {
	m := typeRe.FindStringSubmatch(t)
	if m == nil {
		return strings.TrimSpace(t)
	}
	name := strings.ToUpper(strings.Join(strings.Fields(m[1]), " "))
	params := strings.Replace(m[2], " ", "", -1)
	array := m[3]

	mapped, ok := b.types[name]
	if !ok {
		return name + params + array
	}
	if strings.Contains(mapped, "(") {
		return mapped + array
	}
	return mapped + params + array
}

// atLeast reports whether the server version is at least min. An unknown
// version is assumed to be recent.
func (b *base) atLeast(min string) bool {
	if b.version == "" {
		return true
	}
	have, err := version.NewVersion(b.version)
	if err != nil {
		return true
	}
	return have.GreaterThanOrEqual(version.Must(version.NewVersion(min)))
}

func (b *base) literal(v interface{}, trueLit, falseLit string, escapeBackslash bool) (string, error) {
	switch v := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		s := v
		if escapeBackslash {
			s = strings.Replace(s, `\`, `\\`, -1)
		}
		return "'" + strings.Replace(s, "'", "''", -1) + "'", nil
	case bool:
		if v {
			return trueLit, nil
		}
		return falseLit, nil
	case int:
		return strconv.Itoa(v), nil
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case time.Time:
		return "'" + v.Format(timeLayout) + "'", nil
	case *time.Time:
		if v == nil {
			return "NULL", nil
		}
		return "'" + v.Format(timeLayout) + "'", nil
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(v)) + "'", nil
	case Expr:
		return string(v), nil
	}
	return "", fmt.Errorf("cannot render %T as %s literal", v, b.name)
}

func quoteAll(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func int64Clause(keyword string, v *int64) string {
	if v == nil {
		return ""
	}
	return " " + keyword + " " + strconv.FormatInt(*v, 10)
}
