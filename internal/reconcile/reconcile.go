// Package reconcile compares the entities of a manifest with the tenant
// and deploys the ones that are out of date.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
	"github.com/Giving-What-We-Can/auth0-rules/internal/canonical"
	"github.com/Giving-What-We-Can/auth0-rules/internal/codegen"
	"github.com/Giving-What-We-Can/auth0-rules/internal/config"
	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
	"github.com/Giving-What-We-Can/auth0-rules/internal/report"
	"github.com/Giving-What-We-Can/auth0-rules/internal/store"
	"github.com/Giving-What-We-Can/auth0-rules/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrConnectionNotFound = errors.New("connection not found")

// Tenant is the part of the Management API the runner uses.
// *auth0.Client implements it.
type Tenant interface {
	AllRules(ctx context.Context) ([]auth0.Rule, error)
	AllConnections(ctx context.Context) ([]auth0.Connection, error)
	CreateRule(ctx context.Context, r auth0.Rule) (auth0.Rule, error)
	UpdateRule(ctx context.Context, id string, u auth0.RuleUpdate) (auth0.Rule, error)
	UpdateConnection(ctx context.Context, id string, u auth0.ConnectionUpdate) (auth0.Connection, error)
	UniversalLoginTemplate(ctx context.Context) (string, error)
	SetUniversalLoginTemplate(ctx context.Context, template string) error
}

// Runner diffs and deploys the entities of one manifest category at a time.
type Runner struct {
	Tenant    Tenant
	Generator *codegen.Generator
	Reporter  *report.Reporter
	// Source is scanned for script files no entity refers to. Optional.
	Source store.Store
	// Scripts is set as the configuration of every deployed database connection.
	Scripts config.ScriptConfiguration
}

// Outcome summarizes one run over a category.
type Outcome struct {
	Category manifest.Category
	// Results holds the diff of every generated artifact, in manifest order.
	Results []report.Result
	// UpToDate names the entities whose remote copy matches.
	UpToDate []string
	// Deployed names the entities that were created or updated.
	Deployed []string
	// Skipped names disabled entities that a deploy left alone.
	Skipped []string
}

// Changed reports whether any entity differs from its remote copy.
func (o *Outcome) Changed() bool {
	for _, r := range o.Results {
		if !report.Unchanged(r.Parts) {
			return true
		}
	}
	return false
}

// plan is the generated state of one entity next to its remote state.
type plan struct {
	entity  *manifest.Entity
	results []report.Result
	// upToDate is false if anything needs to be deployed.
	upToDate bool
	// apply deploys the generated state.
	apply func(ctx context.Context) error
	exists bool
}

// Diff reports the differences between the entities of category c and the tenant.
// All entities are compared, whether enabled or not.
func (r *Runner) Diff(ctx context.Context, m *manifest.Manifest, c manifest.Category) (*Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "diff "+string(c), trace.WithAttributes(attribute.String("category", string(c))))
	defer span.End()

	out := &Outcome{Category: c}
	plans, err := r.plan(ctx, m.Entities(c), c)
	for _, p := range plans {
		out.Results = append(out.Results, p.results...)
		if p.upToDate {
			out.UpToDate = append(out.UpToDate, p.entity.Name)
		}
	}
	logUnchanged(c, r.Reporter.Report(string(c), out.Results))
	r.warnUnreferenced(m, c)
	return out, spanError(span, err)
}

// logUnchanged logs the results Reporter found without differences.
// Outcome.UpToDate is taken from the plans instead: a connection yields one
// result per script, and its configuration can be stale while every script
// is unchanged.
func logUnchanged(c manifest.Category, unchanged []string) {
	if len(unchanged) > 0 {
		log.Debug().Str("category", string(c)).Strs("results", unchanged).Msg("Unchanged")
	}
}

// Deploy creates or updates the enabled entities of category c that
// differ from the tenant. Up-to-date entities are not touched.
func (r *Runner) Deploy(ctx context.Context, m *manifest.Manifest, c manifest.Category) (*Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "deploy "+string(c), trace.WithAttributes(attribute.String("category", string(c))))
	defer span.End()

	out := &Outcome{Category: c}
	var enabled []*manifest.Entity
	for _, e := range m.Entities(c) {
		if !e.Enabled {
			r.Reporter.Skip(c.Noun(), e.Name, "disabled")
			out.Skipped = append(out.Skipped, e.Name)
			continue
		}
		enabled = append(enabled, e)
	}

	plans, err := r.plan(ctx, enabled, c)
	errs := []error{err}
	for _, p := range plans {
		out.Results = append(out.Results, p.results...)
	}
	logUnchanged(c, r.Reporter.Report(string(c), out.Results))

	for _, p := range plans {
		if p.upToDate {
			log.Debug().Str("entity", p.entity.Name).Msg("Up to date, skipping")
			out.UpToDate = append(out.UpToDate, p.entity.Name)
			continue
		}
		r.Reporter.Action(c.Noun(), p.entity.Name, p.exists)
		if err := r.traced(ctx, "apply", p.entity, p.apply); err != nil {
			errs = append(errs, fmt.Errorf("deploy %s %q: %w", c.Noun(), p.entity.Name, err))
			continue
		}
		out.Deployed = append(out.Deployed, p.entity.Name)
	}
	r.warnUnreferenced(m, c)
	return out, spanError(span, errors.Join(errs...))
}

// plan generates every entity and pairs it with its remote state. Entities
// that fail are left out and their errors joined. A failure to read the
// remote state aborts the whole category.
func (r *Runner) plan(ctx context.Context, entities []*manifest.Entity, c manifest.Category) ([]*plan, error) {
	var planEntity func(ctx context.Context, e *manifest.Entity) (*plan, error)
	switch c {
	case manifest.Rules:
		rules, err := r.Tenant.AllRules(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch rules: %w", err)
		}
		byName := make(map[string]auth0.Rule)
		for _, v := range auth0.FilterValid(rules, auth0.ValidateRule) {
			byName[v.Name] = v.Item
		}
		planEntity = func(ctx context.Context, e *manifest.Entity) (*plan, error) {
			return r.planRule(ctx, e, byName)
		}
	case manifest.DB:
		conns, err := r.Tenant.AllConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch connections: %w", err)
		}
		byName := make(map[string]auth0.Connection)
		for _, v := range auth0.FilterValid(conns, auth0.ValidateConnection) {
			byName[v.Name] = v.Item
		}
		planEntity = func(ctx context.Context, e *manifest.Entity) (*plan, error) {
			return r.planConnection(ctx, e, byName)
		}
	case manifest.Login:
		planEntity = r.planLogin
	default:
		return nil, fmt.Errorf("unknown category %q", c)
	}

	var plans []*plan
	var errs []error
	for _, e := range entities {
		var p *plan
		err := r.traced(ctx, "plan", e, func(ctx context.Context) error {
			var err error
			p, err = planEntity(ctx, e)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("entity", e.Name).Msg("Failed to generate")
			errs = append(errs, fmt.Errorf("%s %q: %w", c.Noun(), e.Name, err))
			continue
		}
		plans = append(plans, p)
	}
	return plans, errors.Join(errs...)
}

func (r *Runner) planRule(ctx context.Context, e *manifest.Entity, remote map[string]auth0.Rule) (*plan, error) {
	a, err := r.Generator.Generate(ctx, e)
	if err != nil {
		return nil, err
	}
	existing, exists := remote[e.Name]
	parts := report.Diff(a.Text, existing.Script)
	p := &plan{
		entity:   e,
		results:  []report.Result{{Entity: e.Name, Parts: parts}},
		upToDate: exists && report.Unchanged(parts),
		exists:   exists,
	}
	order, enabled := e.Order, true
	if exists {
		p.apply = func(ctx context.Context) error {
			_, err := r.Tenant.UpdateRule(ctx, existing.ID, auth0.RuleUpdate{
				Script:  a.Text,
				Order:   &order,
				Enabled: &enabled,
			})
			return err
		}
	} else {
		p.apply = func(ctx context.Context) error {
			_, err := r.Tenant.CreateRule(ctx, auth0.Rule{
				Name:    e.Name,
				Script:  a.Text,
				Order:   order,
				Enabled: enabled,
			})
			return err
		}
	}
	return p, nil
}

func (r *Runner) planConnection(ctx context.Context, e *manifest.Entity, remote map[string]auth0.Connection) (*plan, error) {
	conn, ok := remote[e.Connection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, e.Connection)
	}
	artifacts, err := r.Generator.GenerateScripts(ctx, e)
	if err != nil {
		return nil, err
	}

	local := make(map[string]any, len(artifacts))
	for name, a := range artifacts {
		local[name] = a.Text
	}
	remoteScripts := conn.CustomScripts()
	remoteAny := make(map[string]any, len(remoteScripts))
	for name, s := range remoteScripts {
		remoteAny[name] = s
	}

	// Scripts missing locally show up as removed, missing remotely as added.
	names := slices.Sorted(maps.Keys(local))
	for name := range remoteScripts {
		if _, ok := local[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	var results []report.Result
	for _, name := range names {
		text, _ := local[name].(string)
		results = append(results, report.Result{
			Entity: fmt.Sprintf("%s (%s)", e.Name, name),
			Parts:  report.Diff(text, remoteScripts[name]),
		})
	}

	configuration := make(map[string]any)
	for k, v := range r.Scripts.Values() {
		configuration[k] = v
	}
	remoteConfig, _ := conn.Options["configuration"].(map[string]any)
	configStale := len(configuration) > 0 && !canonical.Equal(configuration, remoteConfig)
	if configStale {
		log.Info().Str("entity", e.Name).Msg("Script configuration differs from the connection's")
	}

	p := &plan{
		entity:   e,
		results:  results,
		upToDate: canonical.Equal(local, remoteAny) && !configStale,
		exists:   true,
	}
	p.apply = func(ctx context.Context) error {
		options := maps.Clone(conn.Options)
		if options == nil {
			options = make(map[string]any)
		}
		options["customScripts"] = local
		if len(configuration) > 0 {
			options["configuration"] = configuration
		}
		_, err := r.Tenant.UpdateConnection(ctx, conn.ID, auth0.ConnectionUpdate{Options: options})
		return err
	}
	return p, nil
}

func (r *Runner) planLogin(ctx context.Context, e *manifest.Entity) (*plan, error) {
	a, err := r.Generator.Generate(ctx, e)
	if err != nil {
		return nil, err
	}
	remote, err := r.Tenant.UniversalLoginTemplate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch login template: %w", err)
	}
	parts := report.Diff(a.Text, remote)
	return &plan{
		entity:   e,
		results:  []report.Result{{Entity: e.Name, Parts: parts}},
		upToDate: remote != "" && report.Unchanged(parts),
		exists:   remote != "",
		apply: func(ctx context.Context) error {
			return r.Tenant.SetUniversalLoginTemplate(ctx, a.Text)
		},
	}, nil
}

func (r *Runner) traced(ctx context.Context, op string, e *manifest.Entity, f func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, op+" "+e.Name, trace.WithAttributes(
		attribute.String("category", string(e.Category)),
		attribute.String("entity", e.Name),
	))
	defer span.End()
	return spanError(span, f(ctx))
}

func spanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// warnUnreferenced logs script files of category c that no entity uses.
func (r *Runner) warnUnreferenced(m *manifest.Manifest, c manifest.Category) {
	if r.Source == nil {
		return
	}
	used := make(map[string]bool)
	for _, e := range m.Entities(c) {
		for _, f := range e.Files() {
			used[c.ScriptPath(f)] = true
		}
	}
	ext := path.Ext(c.ScriptPath("x"))
	files, err := store.ScriptFiles(r.Source, path.Join("scripts", string(c), "src"), ext)
	if err != nil {
		log.Warn().Err(err).Str("category", string(c)).Msg("Cannot list script files")
		return
	}
	for _, f := range files {
		if !used[f] {
			log.Warn().Str("file", f).Msg("Script is not referenced by the manifest")
		}
	}
}
