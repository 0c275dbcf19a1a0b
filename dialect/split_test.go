package dialect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		delimiter string
		want      []string
	}{
		{
			name:   "simple",
			script: "CREATE TABLE a (id int);\nINSERT INTO a VALUES (1);",
			want:   []string{"CREATE TABLE a (id int)", "INSERT INTO a VALUES (1)"},
		},
		{
			name:   "delimiter in string",
			script: "INSERT INTO a VALUES ('x;y'); SELECT 1",
			want:   []string{"INSERT INTO a VALUES ('x;y')", "SELECT 1"},
		},
		{
			name:   "escaped quote",
			script: "SELECT 'it''s; fine'; SELECT 2;",
			want:   []string{"SELECT 'it''s; fine'", "SELECT 2"},
		},
		{
			name:   "comments",
			script: "-- first; comment\nSELECT 1; /* block; */ SELECT 2;\n-- trailing",
			want:   []string{"-- first; comment\nSELECT 1", "/* block; */ SELECT 2"},
		},
		{
			name:   "dollar quoted body",
			script: "CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END $body$ LANGUAGE plpgsql; SELECT $1",
			want:   []string{"CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END $body$ LANGUAGE plpgsql", "SELECT $1"},
		},
		{
			name:      "custom delimiter on its own line",
			script:    "SELECT 1;\nSELECT 2\nGO\nSELECT 3\n go \n",
			delimiter: "GO",
			want:      []string{"SELECT 1;\nSELECT 2", "SELECT 3"},
		},
		{
			name:   "empty",
			script: " ;; \n",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SplitStatements(tt.script, tt.delimiter))
		})
	}
}

func TestStripComments(t *testing.T) {
	got := StripComments("SELECT 1 -- one\n/* two */+ '--not a comment'")
	require.Equal(t, "SELECT 1 \n+ '--not a comment'", got)
}
