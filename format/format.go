// Package format encodes changelogs, snapshots and diffs as JSON or YAML.
//
// Types carry json tags only. YAML is produced by converting the JSON form,
// so both formats always contain the same keys.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a serialization format.
type Format string

// Supported formats.
const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// Parse returns the format named s.
func Parse(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown format %q, want json or yaml", s)
}

// FromPath guesses the format from the file extension of path. Unknown
// extensions are JSON.
func FromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Encode writes v to w.
func Encode(w io.Writer, f Format, v interface{}) error {
	switch f {
	case JSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case YAML:
		buf, err := json.Marshal(v)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		var generic interface{}
		if err := dec.Decode(&generic); err != nil {
			return err
		}
		generic, err = numbers(generic)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", f)
}

// Decode reads v from r.
func Decode(r io.Reader, f Format, v interface{}) error {
	switch f {
	case JSON, "":
		return json.NewDecoder(r).Decode(v)
	case YAML:
		var generic interface{}
		if err := yaml.NewDecoder(r).Decode(&generic); err != nil {
			return err
		}
		buf, err := json.Marshal(generic)
		if err != nil {
			return err
		}
		return json.Unmarshal(buf, v)
	}
	return fmt.Errorf("unknown format %q", f)
}

// numbers replaces the json.Number values in v with int64, uint64 or
// float64 so yaml.v3 writes integers without loss.
func numbers(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return u, nil
		}
		return v.Float64()
	case map[string]interface{}:
		for k, e := range v {
			n, err := numbers(e)
			if err != nil {
				return nil, err
			}
			v[k] = n
		}
	case []interface{}:
		for i, e := range v {
			n, err := numbers(e)
			if err != nil {
				return nil, err
			}
			v[i] = n
		}
	}
	return v, nil
}
