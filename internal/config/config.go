// Package config holds the command line configuration file format and the
// runtime configuration handed to database action scripts.
package config

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// TOMLParser is an ff.ConfigFileParser for TOML files. Top-level keys name
// flags; keys of nested tables are joined with ".". Array values set the
// flag once per element.
//
// Example:
//
//	domain = "example.eu.auth0.com"
//	manifest = "manifest.yml"
//	timeout = "30s"
func TOMLParser(r io.Reader, set func(name, value string) error) error {
	var doc map[string]any
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("invalid TOML config: %w", err)
	}
	return setAll("", doc, set)
}

func setAll(prefix string, table map[string]any, set func(name, value string) error) error {
	for _, key := range slices.Sorted(maps.Keys(table)) {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := table[key].(type) {
		case map[string]any:
			if err := setAll(name, v, set); err != nil {
				return err
			}
		case []any:
			for _, elem := range v {
				s, err := tomlString(elem)
				if err != nil {
					return fmt.Errorf("config key %q: %w", name, err)
				}
				if err := set(name, s); err != nil {
					return err
				}
			}
		default:
			s, err := tomlString(v)
			if err != nil {
				return fmt.Errorf("config key %q: %w", name, err)
			}
			if err := set(name, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func tomlString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case fmt.Stringer:
		// Dates and times.
		return x.String(), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// ScriptConfiguration is the `configuration` object that database action
// scripts receive at runtime. It is set on the connection on every deploy.
type ScriptConfiguration struct {
	PostgresUsername string `env:"POSTGRES_USERNAME"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresDatabase string `env:"POSTGRES_DATABASE"`
	PostgresPort     string `env:"POSTGRES_PORT"`
	MongoURI         string `env:"MONGO_URI"`
	MongoDBName      string `env:"MONGO_DB_NAME"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadScriptConfiguration reads the script configuration from the environment.
func LoadScriptConfiguration() (ScriptConfiguration, error) {
	var sc ScriptConfiguration
	err := ParseEnv(&sc)
	return sc, err
}

// Values returns the non-empty settings keyed by their environment
// variable name, which is also the key the scripts read.
func (sc ScriptConfiguration) Values() map[string]string {
	vals := map[string]string{
		"POSTGRES_USERNAME": sc.PostgresUsername,
		"POSTGRES_PASSWORD": sc.PostgresPassword,
		"POSTGRES_HOST":     sc.PostgresHost,
		"POSTGRES_DATABASE": sc.PostgresDatabase,
		"POSTGRES_PORT":     sc.PostgresPort,
		"MONGO_URI":         sc.MongoURI,
		"MONGO_DB_NAME":     sc.MongoDBName,
	}
	maps.DeleteFunc(vals, func(_, v string) bool { return strings.TrimSpace(v) == "" })
	return vals
}

// Empty reports whether no setting is present.
func (sc ScriptConfiguration) Empty() bool {
	return len(sc.Values()) == 0
}
