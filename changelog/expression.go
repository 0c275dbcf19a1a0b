package changelog

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Context and label expressions, e.g. "test and !prod", "a, b" or
// "(a or b) and c". "," is an alias of "or" and "not" of "!".

var expressionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Punct", Pattern: `[!(),]`},
	{Name: "Ident", Pattern: `[^\s!(),]+`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var expressionParser = participle.MustBuild[orExpr](
	participle.Lexer(expressionLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Ident"),
)

type orExpr struct {
	Terms []*andExpr `@@ ( ( "or" | "," ) @@ )*`
}

type andExpr struct {
	Factors []*unaryExpr `@@ ( "and" @@ )*`
}

type unaryExpr struct {
	Not     *unaryExpr `  ( "!" | "not" ) @@`
	Primary *primary   `| @@`
}

type primary struct {
	Name string  `  @Ident`
	Sub  *orExpr `| "(" @@ ")"`
}

func (e *orExpr) eval(set map[string]bool) bool {
	for _, t := range e.Terms {
		if t.eval(set) {
			return true
		}
	}
	return false
}

func (e *andExpr) eval(set map[string]bool) bool {
	for _, f := range e.Factors {
		if !f.eval(set) {
			return false
		}
	}
	return true
}

func (e *unaryExpr) eval(set map[string]bool) bool {
	if e.Not != nil {
		return !e.Not.eval(set)
	}
	if e.Primary.Sub != nil {
		return e.Primary.Sub.eval(set)
	}
	return set[strings.ToLower(e.Primary.Name)]
}

// Expression is a parsed context or label expression.
type Expression struct {
	raw  string
	root *orExpr
}

// ParseExpression parses s. An empty expression matches everything.
func ParseExpression(s string) (*Expression, error) {
	e := &Expression{raw: s}
	if strings.TrimSpace(s) == "" {
		return e, nil
	}
	root, err := expressionParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", s, err)
	}
	e.root = root
	return e, nil
}

func (e *Expression) String() string { return e.raw }

// Empty reports whether the expression has no terms.
func (e *Expression) Empty() bool { return e.root == nil }

// Matches evaluates the expression with names set to true and every other
// name false. Names are compared case insensitively.
func (e *Expression) Matches(names []string) bool {
	if e.root == nil {
		return true
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return e.root.eval(set)
}

// MatchContexts reports whether a changeset with context expression expr
// runs for the runtime contexts. Without runtime contexts every changeset
// runs.
func MatchContexts(expr string, contexts []string) (bool, error) {
	if len(contexts) == 0 {
		return true, nil
	}
	e, err := ParseExpression(expr)
	if err != nil {
		return false, err
	}
	return e.Matches(contexts), nil
}

// MatchLabels reports whether a changeset carrying labels runs for the
// runtime label filter. An empty filter and a changeset without labels
// always run.
func MatchLabels(filter string, labels []string) (bool, error) {
	if len(labels) == 0 {
		return true, nil
	}
	e, err := ParseExpression(filter)
	if err != nil {
		return false, err
	}
	return e.Matches(labels), nil
}

// MatchDBMS reports whether the comma separated list matches the dialect
// name. An empty list or "all" matches every database and "none" no
// database. Entries prefixed with "!" exclude a database.
func MatchDBMS(list, name string) bool {
	list = strings.TrimSpace(list)
	if list == "" {
		return true
	}
	name = canonicalDBMS(name)
	positive, matched := false, false
	for _, entry := range strings.Split(list, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case entry == "all":
			positive, matched = true, true
		case entry == "none":
			positive = true
		case strings.HasPrefix(entry, "!"):
			if canonicalDBMS(entry[1:]) == name {
				return false
			}
		default:
			positive = true
			if canonicalDBMS(entry) == name {
				matched = true
			}
		}
	}
	return matched || !positive
}

func canonicalDBMS(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "postgres", "postgresql", "pg":
		return "postgresql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return n
	}
}
