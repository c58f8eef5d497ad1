// Package manifest reads the declarative list of rules, database action
// scripts and login templates that should exist on the tenant, together
// with the data each of them is generated with.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path"
	"slices"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
	"github.com/Giving-What-We-Can/auth0-rules/internal/store"
	"gopkg.in/yaml.v3"
)

// Category groups entities that are deployed through the same API.
// Its value is also the directory name of the category's scripts.
type Category string

const (
	Rules Category = "rules"
	DB    Category = "db"
	Login Category = "login"
)

// Categories lists all categories in deployment order.
var Categories = []Category{Rules, DB, Login}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !slices.Contains(Categories, c) {
		return "", fmt.Errorf("unknown category %q (want one of rules, db, login)", s)
	}
	return c, nil
}

// ScriptPath returns the store path of the script file with the given key.
func (c Category) ScriptPath(file string) string {
	ext := ".js"
	if c == Login {
		ext = ".liquid"
	}
	return path.Join("scripts", string(c), "src", file+ext)
}

// Noun returns the name of a single entity of c for messages.
func (c Category) Noun() string {
	switch c {
	case Rules:
		return "Rule"
	case DB:
		return "Connection"
	case Login:
		return "Template"
	}
	return string(c)
}

// DataFunc computes the template data injected into generated scripts.
type DataFunc func(ctx context.Context) (Data, error)

// Entity is one deployable unit of the manifest.
type Entity struct {
	Name     string
	Category Category
	// File is the script key for rules and login templates.
	File    string
	Enabled bool
	// Order is the 1-based position of the entity within its category.
	Order int

	// Connection and Scripts are set for database connections only.
	// Scripts maps action script names (e.g. "get_user") to script keys.
	Connection string
	Scripts    map[string]string

	// ComputeData is nil for entities without template data.
	ComputeData DataFunc
}

// Files returns the script keys e is generated from, in sorted order.
func (e *Entity) Files() []string {
	if e.Category == DB {
		files := slices.Collect(maps.Values(e.Scripts))
		slices.Sort(files)
		return slices.Compact(files)
	}
	return []string{e.File}
}

type Manifest struct {
	Rules []*Entity
	DB    []*Entity
	Login []*Entity
}

// Entities returns the entities of category c in manifest order.
func (m *Manifest) Entities(c Category) []*Entity {
	switch c {
	case Rules:
		return m.Rules
	case DB:
		return m.DB
	case Login:
		return m.Login
	}
	return nil
}

// Directory looks up remote records for data providers.
// *auth0.Client implements it.
type Directory interface {
	AllRoles(ctx context.Context) ([]auth0.Role, error)
	AllClients(ctx context.Context) ([]auth0.Application, error)
}

// Options supplies the collaborators of data providers.
type Options struct {
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// Directory is required if any entity uses a roles or clients provider.
	Directory Directory
}

// DBScriptNames are the database action scripts a custom database
// connection can define.
var DBScriptNames = []string{"change_email", "change_password", "create", "delete", "get_user", "login", "verify"}

type entitySpec struct {
	Name       string               `yaml:"name"`
	File       string               `yaml:"file"`
	Enabled    *bool                `yaml:"enabled"`
	Connection string               `yaml:"connection"`
	Scripts    map[string]string    `yaml:"scripts"`
	Data       yaml.Node            `yaml:"data"`
}

type manifestSpec struct {
	Rules []entitySpec `yaml:"rules"`
	DB    []entitySpec `yaml:"db"`
	Login []entitySpec `yaml:"login"`
}

// Load reads and validates the manifest at manifestPath.
func Load(st store.Store, manifestPath string, opts Options) (*Manifest, error) {
	bs, err := st.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("could not read manifest %q: %v", manifestPath, err)
	}
	m, err := Parse(bs, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %q: %w", manifestPath, err)
	}
	return m, nil
}

// Parse decodes and validates a manifest. Unknown fields are errors.
func Parse(data []byte, opts Options) (*Manifest, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var spec manifestSpec
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	m := &Manifest{}
	var err error
	if m.Rules, err = buildEntities(Rules, spec.Rules, opts); err != nil {
		return nil, err
	}
	if m.DB, err = buildEntities(DB, spec.DB, opts); err != nil {
		return nil, err
	}
	if m.Login, err = buildEntities(Login, spec.Login, opts); err != nil {
		return nil, err
	}
	if len(m.Login) > 1 {
		return nil, errors.New("login: at most one universal login template can be defined")
	}
	return m, nil
}

func buildEntities(c Category, specs []entitySpec, opts Options) ([]*Entity, error) {
	entities := make([]*Entity, 0, len(specs))
	seen := make(map[string]bool)
	for i, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("%s[%d]: name is required", c, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%s: duplicate name %q", c, s.Name)
		}
		seen[s.Name] = true

		e := &Entity{
			Name:       s.Name,
			Category:   c,
			File:       s.File,
			Enabled:    s.Enabled == nil || *s.Enabled,
			Order:      i + 1,
			Connection: s.Connection,
			Scripts:    s.Scripts,
		}
		if err := validateEntity(e); err != nil {
			return nil, fmt.Errorf("%s %q: %w", c, s.Name, err)
		}
		providers, err := dataProviders(&s.Data, opts)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", c, s.Name, err)
		}
		if len(providers) > 0 {
			e.ComputeData = combine(providers)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func validateEntity(e *Entity) error {
	switch e.Category {
	case Rules, Login:
		if e.File == "" {
			return errors.New("file is required")
		}
		if e.Connection != "" || len(e.Scripts) > 0 {
			return errors.New("connection and scripts are only valid for db entries")
		}
	case DB:
		if e.Connection == "" {
			return errors.New("connection is required")
		}
		if e.File != "" {
			return errors.New("db entries list their files under scripts")
		}
		if len(e.Scripts) == 0 {
			return errors.New("at least one script is required")
		}
		for name, file := range e.Scripts {
			if !slices.Contains(DBScriptNames, name) {
				return fmt.Errorf("unknown database action script %q", name)
			}
			if file == "" {
				return fmt.Errorf("script %q has no file", name)
			}
		}
	}
	return nil
}

type keyedProvider struct {
	key string
	provider
}

// dataProviders builds the providers of a data mapping in declaration order.
func dataProviders(node *yaml.Node, opts Options) ([]keyedProvider, error) {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: data must be a mapping", node.Line)
	}
	var providers []keyedProvider
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if seen[key] {
			return nil, fmt.Errorf("data: duplicate key %q", key)
		}
		seen[key] = true
		p, err := newProvider(node.Content[i+1], opts)
		if err != nil {
			return nil, fmt.Errorf("data %q: %w", key, err)
		}
		providers = append(providers, keyedProvider{key: key, provider: p})
	}
	return providers, nil
}

func combine(providers []keyedProvider) DataFunc {
	return func(ctx context.Context) (Data, error) {
		data := make(Data, 0, len(providers))
		for _, p := range providers {
			v, err := p.provider(ctx)
			if err != nil {
				return nil, fmt.Errorf("data %q: %w", p.key, err)
			}
			data = append(data, Field{Key: p.key, Value: v})
		}
		return data, nil
	}
}
