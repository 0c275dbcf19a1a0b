package changelog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpressionMatches(t *testing.T) {
	tests := []struct {
		expr  string
		names []string
		want  bool
	}{
		{"", nil, true},
		{"test", []string{"test"}, true},
		{"test", []string{"prod"}, false},
		{"TEST", []string{"test"}, true},
		{"!prod", []string{"test"}, true},
		{"not prod", []string{"prod"}, false},
		{"test and !prod", []string{"test", "prod"}, false},
		{"test AND !prod", []string{"test"}, true},
		{"a, b", []string{"b"}, true},
		{"a or b", []string{"c"}, false},
		{"(a or b) and c", []string{"a", "c"}, true},
		{"(a or b) and c", []string{"a"}, false},
		{"!(a and b)", []string{"a"}, true},
	}
	for _, tt := range tests {
		e, err := ParseExpression(tt.expr)
		require.NoError(t, err, tt.expr)
		require.Equal(t, tt.want, e.Matches(tt.names), "%q with %v", tt.expr, tt.names)
	}
}

func TestParseExpressionInvalid(t *testing.T) {
	for _, expr := range []string{"(a", "a and", "a b", "!"} {
		_, err := ParseExpression(expr)
		require.Error(t, err, expr)
	}
}

func TestMatchContexts(t *testing.T) {
	ok, err := MatchContexts("prod", nil)
	require.NoError(t, err)
	require.True(t, ok, "no runtime contexts runs everything")

	ok, err = MatchContexts("prod", []string{"test"})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = MatchContexts("", []string{"test"})
	require.NoError(t, err)
	require.True(t, ok, "changesets without context run in every context")
}

func TestMatchLabels(t *testing.T) {
	ok, err := MatchLabels("a", nil)
	require.NoError(t, err)
	require.True(t, ok, "unlabeled changesets always run")

	ok, err = MatchLabels("", []string{"a"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchLabels("a and !b", []string{"a", "b"})
	require.NoError(t, err)
	require.False(t, ok)

	_, err = MatchLabels("(", []string{"a"})
	require.Error(t, err)
}

func TestMatchDBMS(t *testing.T) {
	tests := []struct {
		list, name string
		want       bool
	}{
		{"", "sqlite", true},
		{"all", "mysql", true},
		{"none", "mysql", false},
		{"postgresql", "postgresql", true},
		{"postgres", "postgresql", true},
		{"mysql, postgresql", "sqlite", false},
		{"mysql, sqlite", "sqlite", true},
		{"!sqlite", "sqlite", false},
		{"!sqlite", "postgresql", true},
		{"all, !mariadb", "mysql", false},
		{"sqlite3", "sqlite", true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MatchDBMS(tt.list, tt.name), "%q on %s", tt.list, tt.name)
	}
}
