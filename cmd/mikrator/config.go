package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// tomlParser is a ff.ConfigFileParser for flat TOML files:
//
//	driver = "sqlite3"
//	url = "file:app.db"
//	verbose = true
func tomlParser(r io.Reader, set func(name, value string) error) error {
	var values map[string]interface{}
	if _, err := toml.NewDecoder(r).Decode(&values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var value string
		switch v := values[name].(type) {
		case map[string]interface{}, []map[string]interface{}:
			return fmt.Errorf("config file: %s: tables are not supported", name)
		case string:
			value = v
		default:
			value = fmt.Sprint(v)
		}
		if err := set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// loadDotEnv adds the variables of the env file at path to the environment.
// Variables which are set already win. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
