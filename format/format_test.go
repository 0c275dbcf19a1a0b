package format

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name    string            `json:"name"`
	Count   int               `json:"count"`
	Created time.Time         `json:"created"`
	Tags    []string          `json:"tags,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := doc{
		Name:    "snapshot",
		Count:   3,
		Created: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Tags:    []string{"a", "b"},
		Extra:   map[string]string{"k": "v"},
	}
	for _, f := range []Format{JSON, YAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, f, in))
			require.NotZero(t, buf.Len())

			var out doc
			require.NoError(t, Decode(&buf, f, &out))
			require.Equal(t, in, out)
		})
	}
}

func TestYAMLKeepsIntegers(t *testing.T) {
	type sequence struct {
		Name     string  `json:"name"`
		MinValue int64   `json:"minValue"`
		MaxValue int64   `json:"maxValue"`
		Limit    uint64  `json:"limit"`
		Ratio    float64 `json:"ratio"`
	}
	in := []sequence{{Name: "person_id_seq", MinValue: math.MinInt64, MaxValue: math.MaxInt64, Limit: math.MaxUint64, Ratio: 0.5}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, YAML, in))
	require.Contains(t, buf.String(), "maxValue: 9223372036854775807\n")
	require.Contains(t, buf.String(), "limit: 18446744073709551615\n")

	var out []sequence
	require.NoError(t, Decode(&buf, YAML, &out))
	require.Equal(t, in, out)
}

func TestYAMLKeysFollowJSONTags(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, YAML, doc{Name: "x"}))
	require.True(t, strings.HasPrefix(buf.String(), "count: 0\n"), buf.String())
	require.Contains(t, buf.String(), "name: x\n")
	require.NotContains(t, buf.String(), "tags")
}

func TestParse(t *testing.T) {
	f, err := Parse(" YML ")
	require.NoError(t, err)
	require.Equal(t, YAML, f)

	_, err = Parse("xml")
	require.Error(t, err)

	require.Equal(t, YAML, FromPath("out/changelog.yaml"))
	require.Equal(t, JSON, FromPath("out/changelog.json"))
	require.Equal(t, JSON, FromPath("changelog"))
}
