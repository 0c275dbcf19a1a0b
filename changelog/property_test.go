package changelog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveProperties(t *testing.T) {
	props := []Property{
		{Name: "table", Value: "person"},
		{Name: "table", Value: "other"},
		{Name: "type", Value: "text", DBMS: "postgresql"},
		{Name: "type", Value: "varchar(255)"},
		{Name: "env", Value: "test", Context: "test"},
		{Name: "env", Value: "prod", Context: "prod"},
		{Name: "flag", Value: "on", Labels: []string{"feature"}},
		{Name: "schema", Value: "public"},
	}
	p, err := ResolveProperties(props, map[string]string{"schema": "override"}, Scope{
		Contexts:    []string{"prod"},
		LabelFilter: "!feature",
		DBMS:        "sqlite",
	})
	require.NoError(t, err)

	lookup := func(name string) string {
		v, ok := p.Lookup(name)
		require.True(t, ok, name)
		return v
	}
	require.Equal(t, "person", lookup("table"), "first definition wins")
	require.Equal(t, "varchar(255)", lookup("type"))
	require.Equal(t, "prod", lookup("env"))
	require.Equal(t, "override", lookup("schema"))
	_, ok := p.Lookup("flag")
	require.False(t, ok)

	require.Equal(t, "SELECT * FROM override.person WHERE x = '${missing}'",
		p.Expand("SELECT * FROM ${schema}.${table} WHERE x = '${missing}'"))
}

func TestResolvePropertiesInvalidContext(t *testing.T) {
	_, err := ResolveProperties([]Property{{Name: "a", Value: "b", Context: "(x"}}, nil, Scope{Contexts: []string{"x"}})
	require.Error(t, err)
}

func TestPropertiesNil(t *testing.T) {
	var p *Properties
	require.Equal(t, "${a}", p.Expand("${a}"))
	_, ok := p.Lookup("a")
	require.False(t, ok)
}
