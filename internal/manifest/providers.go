package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// provider computes the value of one template data key.
type provider func(ctx context.Context) (any, error)

type envSpec struct {
	Kind     string `yaml:"kind"`
	Var      string `yaml:"var"`
	Optional bool   `yaml:"optional"`
}

type literalSpec struct {
	Kind  string    `yaml:"kind"`
	Value yaml.Node `yaml:"value"`
}

type lookupSpec struct {
	Kind  string   `yaml:"kind"`
	Names []string `yaml:"names"`
	// Where is a CEL expression over the variables id and name.
	Where string `yaml:"where"`
	// Annotate is the field holding the record name in the generated data.
	Annotate string `yaml:"annotate"`
}

// decodeStrict decodes node into v, rejecting unknown fields.
// yaml.Node.Decode has no strict mode, hence the round trip.
func decodeStrict(node *yaml.Node, v any) error {
	bs, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	return dec.Decode(v)
}

func newProvider(node *yaml.Node, opts Options) (provider, error) {
	var head struct {
		Kind string `yaml:"kind"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, fmt.Errorf("data providers must be mappings with a kind: %v", err)
	}
	switch head.Kind {
	case "env":
		var s envSpec
		if err := decodeStrict(node, &s); err != nil {
			return nil, err
		}
		return newEnvProvider(s, opts.LookupEnv)
	case "literal":
		var s literalSpec
		if err := decodeStrict(node, &s); err != nil {
			return nil, err
		}
		return newLiteralProvider(s)
	case "roles", "clients":
		var s lookupSpec
		if err := decodeStrict(node, &s); err != nil {
			return nil, err
		}
		return newLookupProvider(s, opts.Directory)
	case "":
		return nil, errors.New("kind is required")
	}
	return nil, fmt.Errorf("unknown data provider kind %q", head.Kind)
}

func newEnvProvider(s envSpec, lookup func(string) (string, bool)) (provider, error) {
	if s.Var == "" {
		return nil, errors.New("env: var is required")
	}
	return func(ctx context.Context) (any, error) {
		v, ok := lookup(s.Var)
		if !ok {
			if s.Optional {
				return nil, nil
			}
			return nil, fmt.Errorf("environment variable %s is not set", s.Var)
		}
		return v, nil
	}, nil
}

func newLiteralProvider(s literalSpec) (provider, error) {
	if s.Value.Kind == 0 {
		return nil, errors.New("literal: value is required")
	}
	v, err := dataFromNode(&s.Value)
	if err != nil {
		return nil, fmt.Errorf("literal: %v", err)
	}
	return func(ctx context.Context) (any, error) {
		return v, nil
	}, nil
}

// recordFilter selects remote records by name or by a CEL expression.
type recordFilter struct {
	names []string
	where cel.Program
}

func newRecordFilter(names []string, where string) (*recordFilter, error) {
	f := &recordFilter{names: names}
	if where == "" {
		return f, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(where)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid where expression: %v", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("where expression must be boolean, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid where expression: %v", err)
	}
	f.where = prg
	return f, nil
}

func (f *recordFilter) matches(rec auth0.Record) (bool, error) {
	if slices.Contains(f.names, rec.Name) {
		return true, nil
	}
	if f.where == nil {
		return false, nil
	}
	out, _, err := f.where.Eval(map[string]any{"id": rec.ID, "name": rec.Name})
	if err != nil {
		return false, fmt.Errorf("evaluate where expression for %q: %v", rec.Name, err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func newLookupProvider(s lookupSpec, dir Directory) (provider, error) {
	if dir == nil {
		return nil, fmt.Errorf("%s: a tenant connection is required", s.Kind)
	}
	if len(s.Names) == 0 && s.Where == "" {
		return nil, fmt.Errorf("%s: names or where is required", s.Kind)
	}
	filter, err := newRecordFilter(s.Names, s.Where)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Kind, err)
	}

	annotate := s.Annotate
	var fetch func(ctx context.Context) ([]auth0.Record, error)
	// Roles list the id first, clients the name.
	var record func(rec auth0.Record) Data
	switch s.Kind {
	case "roles":
		if annotate == "" {
			annotate = "roleName"
		}
		record = func(rec auth0.Record) Data {
			return Data{{Key: "value", Value: rec.ID}, {Key: annotate, Value: rec.Name}}
		}
		fetch = func(ctx context.Context) ([]auth0.Record, error) {
			roles, err := dir.AllRoles(ctx)
			if err != nil {
				return nil, err
			}
			return records(auth0.FilterValid(roles, auth0.ValidateRole)), nil
		}
	case "clients":
		if annotate == "" {
			annotate = "applicationName"
		}
		record = func(rec auth0.Record) Data {
			return Data{{Key: annotate, Value: rec.Name}, {Key: "value", Value: rec.ID}}
		}
		fetch = func(ctx context.Context) ([]auth0.Record, error) {
			clients, err := dir.AllClients(ctx)
			if err != nil {
				return nil, err
			}
			return records(auth0.FilterValid(clients, auth0.ValidateClient)), nil
		}
	}
	if annotate == "kind" || annotate == "value" {
		return nil, fmt.Errorf("%s: annotate field %q is reserved", s.Kind, annotate)
	}

	return func(ctx context.Context) (any, error) {
		recs, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		values := make([]AnnotatedValue, 0)
		found := make(map[string]bool)
		for _, rec := range recs {
			ok, err := filter.matches(rec)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			found[rec.Name] = true
			av, err := Annotate(record(rec))
			if err != nil {
				return nil, err
			}
			log.Debug().Str("kind", s.Kind).Str("name", rec.Name).Str("value", av.Value()).Msg("Selected record")
			values = append(values, av)
		}
		for _, n := range s.Names {
			if !found[n] {
				log.Warn().Str("kind", s.Kind).Str("name", n).Msg("No tenant record has this name")
			}
		}
		return values, nil
	}, nil
}

func records[T any](valid []auth0.Valid[T]) []auth0.Record {
	recs := make([]auth0.Record, len(valid))
	for i, v := range valid {
		recs[i] = v.Record
	}
	return recs
}
