// Package codegen produces the canonical text of rules, database action
// scripts and login templates from the script sources and their template data.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/Giving-What-We-Can/auth0-rules/internal/format"
	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
	"github.com/rs/zerolog/log"
)

var ErrMalformedTemplate = errors.New("malformed template")

// MalformedTemplateError is returned when template data cannot be injected
// into a script.
type MalformedTemplateError struct {
	Entity string
	File   string
	Reason string
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Entity, e.File, e.Reason)
}

func (e *MalformedTemplateError) Is(target error) bool {
	return target == ErrMalformedTemplate
}

const bannerWidth = 80

// Banner returns the "do not edit" header of generated artifacts of category c.
func Banner(c manifest.Category) string {
	if c == manifest.Login {
		return strings.Join([]string{
			"<!--",
			"  THIS TEMPLATE IS AUTOMATICALLY GENERATED -",
			"  DON'T EDIT IT DIRECTLY!!!",
			"",
			"  Instead, update it in the Auth0 Rules",
			"  repository and deploy your changes.",
			"-->",
		}, "\n")
	}
	rule := strings.Repeat("/", bannerWidth)
	return strings.Join([]string{
		rule,
		"/**",
		" * THIS CODE IS AUTOMATICALLY GENERATED -",
		" * DON'T EDIT IT DIRECTLY!!!",
		" *",
		" * Instead, update it in the Auth0 Rules",
		" * repository and deploy your changes.",
		" */",
		rule,
	}, "\n")
}

// The authoring toolchain appends `export {}` to compiled scripts.
var exportMarkerRegex = regexp.MustCompile(`(?m)^[ \t]*export[ \t]+\{\}.*$`)

// StripExportMarker removes the first `export {}` line of script.
func StripExportMarker(script string) string {
	loc := exportMarkerRegex.FindStringIndex(script)
	if loc == nil {
		return script
	}
	return script[:loc[0]] + script[loc[1]:]
}

// The first function header, possibly spanning several lines, up to and
// including the newline after its opening brace. Braces in the parameter
// list, such as a default of {} or a destructuring pattern, may nest once.
var functionOpenRegex = regexp.MustCompile(`\bfunction\b(?:[^{}]|\{(?:[^{}]|\{[^{}]*\})*\})*?\)[ \t]*\{[ \t]*\n`)

// InjectData declares TEMPLATE_DATA as the first statement of the first
// function in script. Rules must consist of a single function, so this is
// the only place the declaration can go.
func InjectData(script, literal string) (string, error) {
	loc := functionOpenRegex.FindStringIndex(script)
	if loc == nil {
		return "", &MalformedTemplateError{Reason: "no function definition to inject template data into"}
	}
	decl := "// Template data\nconst TEMPLATE_DATA = " + literal + "\n\n"
	return script[:loc[1]] + decl + script[loc[1]:], nil
}

// ScriptSource reads script files. store.Store implements it.
type ScriptSource interface {
	ReadFile(path string) ([]byte, error)
}

// Artifact is the canonical text generated for one script of an entity.
type Artifact struct {
	Entity string
	File   string
	Text   string
}

type Generator struct {
	source     ScriptSource
	formatters map[manifest.Category]format.Formatter
}

// NewGenerator returns a generator reading scripts from source. Categories
// missing from formatters use format.Builtin, or format.Text for login
// templates.
func NewGenerator(source ScriptSource, formatters map[manifest.Category]format.Formatter) *Generator {
	fs := map[manifest.Category]format.Formatter{
		manifest.Rules: format.Builtin{},
		manifest.DB:    format.Builtin{},
		manifest.Login: format.Text{},
	}
	maps.Copy(fs, formatters)
	return &Generator{source: source, formatters: fs}
}

func (g *Generator) data(ctx context.Context, e *manifest.Entity) (manifest.Data, error) {
	if e.ComputeData == nil {
		return nil, nil
	}
	data, err := e.ComputeData(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute template data for %s %q: %w", e.Category.Noun(), e.Name, err)
	}
	if data == nil {
		data = manifest.Data{}
	}
	return data, nil
}

// Generate returns the artifact of a rule or login template.
func (g *Generator) Generate(ctx context.Context, e *manifest.Entity) (Artifact, error) {
	data, err := g.data(ctx, e)
	if err != nil {
		return Artifact{}, err
	}
	return g.generate(ctx, e, e.File, data)
}

// GenerateScripts returns the artifacts of a database connection keyed by
// action script name. Template data is computed once for all scripts.
func (g *Generator) GenerateScripts(ctx context.Context, e *manifest.Entity) (map[string]Artifact, error) {
	data, err := g.data(ctx, e)
	if err != nil {
		return nil, err
	}
	artifacts := make(map[string]Artifact, len(e.Scripts))
	for _, name := range slices.Sorted(maps.Keys(e.Scripts)) {
		a, err := g.generate(ctx, e, e.Scripts[name], data)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", name, err)
		}
		artifacts[name] = a
	}
	return artifacts, nil
}

// generate injects data unless it is nil.
func (g *Generator) generate(ctx context.Context, e *manifest.Entity, file string, data manifest.Data) (Artifact, error) {
	path := e.Category.ScriptPath(file)
	bs, err := g.source.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("read script %s of %s %q: %w", path, e.Category.Noun(), e.Name, err)
	}

	body := strings.ReplaceAll(string(bs), "\r\n", "\n")
	body = strings.TrimSpace(StripExportMarker(body))
	text := Banner(e.Category) + "\n\n" + body
	if data != nil {
		literal, err := SerializeData(data)
		if err != nil {
			return Artifact{}, fmt.Errorf("serialize template data of %q: %w", e.Name, err)
		}
		text, err = InjectData(text, literal)
		if err != nil {
			var mt *MalformedTemplateError
			if errors.As(err, &mt) {
				mt.Entity = e.Name
				mt.File = path
			}
			return Artifact{}, err
		}
	}

	formatter, ok := g.formatters[e.Category]
	if !ok {
		return Artifact{}, fmt.Errorf("no formatter for category %s", e.Category)
	}
	formatted, err := formatter.Format(ctx, text)
	if err != nil {
		return Artifact{}, fmt.Errorf("format %s: %w", path, err)
	}

	reqs := Requires(formatted)
	for _, r := range reqs {
		if !r.Valid() {
			log.Warn().Str("entity", e.Name).Str("module", r.Module).Str("version", r.Version).
				Msg("Script requires a module with an invalid version pin")
		}
	}
	for _, m := range conflictingPins(reqs) {
		log.Warn().Str("entity", e.Name).Str("module", m).
			Msg("Script pins a module at different versions")
	}

	return Artifact{Entity: e.Name, File: path, Text: formatted}, nil
}
