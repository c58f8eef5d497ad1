package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
	"github.com/Giving-What-We-Can/auth0-rules/internal/codegen"
	"github.com/Giving-What-We-Can/auth0-rules/internal/config"
	"github.com/Giving-What-We-Can/auth0-rules/internal/format"
	"github.com/Giving-What-We-Can/auth0-rules/internal/gitclient"
	"github.com/Giving-What-We-Can/auth0-rules/internal/logging"
	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
	"github.com/Giving-What-We-Can/auth0-rules/internal/reconcile"
	"github.com/Giving-What-We-Can/auth0-rules/internal/report"
	"github.com/Giving-What-We-Can/auth0-rules/internal/store"
	"github.com/Giving-What-We-Can/auth0-rules/internal/telemetry"
	"github.com/peterbourgon/ff/v3"
	"github.com/rs/zerolog/log"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func gitClientAuthFromEnv() *gitclient.Auth {
	user := os.Getenv("AUTH0RULES_GIT_USER")
	if user == "" {
		return nil
	}
	pass := os.Getenv("AUTH0RULES_GIT_PASSWORD")
	return &gitclient.Auth{
		Username: user,
		Password: pass,
	}
}

// Options contains program options that can be set via command-line flags,
// environment variables or a TOML config file.
type Options struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RootDir      string
	GitURL       string
	GitRef       string
	GitDir       string
	Manifest     string
	Prettier     bool
	Timeout      time.Duration
	Rate         float64
	Report       string
	FailOnChange bool
}

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: auth0rules <rules|db|login> <diff|deploy> [flags]")
	fmt.Fprintln(w, "       auth0rules list [flags]")
	fmt.Fprintln(w, "       auth0rules version")
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	if len(args) == 1 && args[0] == "version" {
		fmt.Fprintln(stdout, Version)
		return exitOK
	}
	if len(args) >= 1 && args[0] == "list" {
		return runList(ctx, args[1:], stdout)
	}
	if len(args) < 2 {
		usage(os.Stderr)
		return exitUsage
	}
	category, err := manifest.ParseCategory(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		usage(os.Stderr)
		return exitUsage
	}
	action := args[1]
	if action != "diff" && action != "deploy" {
		fmt.Fprintf(os.Stderr, "Unknown command %q. Available commands: diff, deploy\n", action)
		return exitUsage
	}

	opts, err := parseFlags(fmt.Sprintf("auth0rules %s %s", category, action), args[2:])
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}

	shutdown, err := telemetry.Setup(ctx, "auth0rules")
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer shutdown(context.Background())

	out, err := execute(ctx, opts, category, action, stdout)
	if err != nil {
		log.Error().Err(err).Msgf("%s %s failed", category, action)
		return exitFailure
	}
	if action == "diff" && opts.FailOnChange && out.Changed() {
		log.Error().Str("category", string(category)).Msg("Tenant is out of date")
		return exitFailure
	}
	return exitOK
}

func parseFlags(name string, args []string) (Options, error) {
	var opts Options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", "", "Path to a TOML config file setting any of the flags below")
	fs.StringVar(&opts.Domain, "domain", "", "Auth0 tenant domain, e.g. example.eu.auth0.com")
	fs.StringVar(&opts.ClientID, "client-id", "", "Client ID of the machine-to-machine application")
	fs.StringVar(&opts.ClientSecret, "client-secret", "", "Client secret of the machine-to-machine application")
	fs.StringVar(&opts.RootDir, "root-dir", ".", "Root directory of the local script repository")
	fs.StringVar(&opts.GitURL, "git-url", "", "URL of a git repository to read scripts from instead of -root-dir")
	fs.StringVar(&opts.GitRef, "git-ref", "", "Git ref (branch or tag) to read scripts from. Defaults to the default branch")
	fs.StringVar(&opts.GitDir, "git-dir", "", "Directory within the git repository holding the manifest and scripts")
	fs.StringVar(&opts.Manifest, "manifest", "manifest.yml", "Path of the manifest, relative to the script repository")
	fs.BoolVar(&opts.Prettier, "prettier", false, "Format scripts with the prettier executable instead of the builtin formatter")
	fs.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Maximum time to wait for a single API request or formatter run")
	fs.Float64Var(&opts.Rate, "rate", 2, "Maximum number of API requests per second (0 for no limit)")
	fs.StringVar(&opts.Report, "report", "", "Also write the diff to this file (.md or .html)")
	fs.BoolVar(&opts.FailOnChange, "fail-on-change", false, "Exit with status 1 if diff finds changes")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("AUTH0"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(config.TOMLParser),
	)
	if err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

func execute(ctx context.Context, opts Options, c manifest.Category, action string, stdout io.Writer) (*reconcile.Outcome, error) {
	st, err := createStore(ctx, opts)
	if err != nil {
		return nil, err
	}

	tenant, err := auth0.New(ctx, auth0.Config{
		Domain:            opts.Domain,
		ClientID:          opts.ClientID,
		ClientSecret:      opts.ClientSecret,
		RequestsPerSecond: opts.Rate,
		Timeout:           opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create API client: %w", err)
	}

	m, err := manifest.Load(st, opts.Manifest, manifest.Options{Directory: tenant})
	if err != nil {
		return nil, err
	}
	log.Debug().Int("entities", len(m.Entities(c))).Str("category", string(c)).Msg("Loaded manifest")

	formatters, err := createFormatters(opts)
	if err != nil {
		return nil, err
	}
	scriptConfig, err := config.LoadScriptConfiguration()
	if err != nil {
		return nil, err
	}
	if c == manifest.DB && action == "deploy" && scriptConfig.Empty() {
		log.Warn().Msg("No POSTGRES_* or MONGO_* variables set, keeping the connections' script configuration")
	}

	runner := &reconcile.Runner{
		Tenant:    tenant,
		Generator: codegen.NewGenerator(st, formatters),
		Reporter:  report.NewReporter(stdout),
		Source:    st,
		Scripts:   scriptConfig,
	}

	var out *reconcile.Outcome
	if action == "deploy" {
		out, err = runner.Deploy(ctx, m, c)
	} else {
		out, err = runner.Diff(ctx, m, c)
	}
	if out != nil {
		log.Info().
			Str("category", string(c)).
			Strs("upToDate", out.UpToDate).
			Strs("deployed", out.Deployed).
			Strs("skipped", out.Skipped).
			Msgf("%s finished", action)
		if opts.Report != "" {
			title := fmt.Sprintf("auth0rules %s %s", c, action)
			if rerr := writeReport(opts.Report, title, out); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
	}
	return out, err
}

func createStore(ctx context.Context, opts Options) (store.Store, error) {
	src, err := createSource(ctx, opts)
	if err != nil {
		return nil, err
	}
	// The empty ref selects the git source's default ref.
	st, err := src.Store("")
	if err != nil {
		return nil, fmt.Errorf("cannot open scripts: %w", err)
	}
	return st, nil
}

func createSource(ctx context.Context, opts Options) (store.Source, error) {
	if opts.GitURL != "" {
		log.Info().Str("url", opts.GitURL).Msg("Retrieving scripts from git")
		client, err := gitclient.New(ctx, opts.GitURL, gitClientAuthFromEnv())
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve git repo: %w", err)
		}
		ref := opts.GitRef
		if ref == "" {
			ref, err = client.DefaultBranch()
			if err != nil {
				return nil, fmt.Errorf("no -git-ref specified and no default branch found: %w", err)
			}
		}
		log.Info().Str("ref", ref).Msg("Using git ref")
		return store.NewGitSource(client, ref, opts.GitDir), nil
	}
	if opts.RootDir != "" {
		log.Debug().Str("dir", opts.RootDir).Msg("Using local scripts")
		return store.NewDiskStore(opts.RootDir), nil
	}
	return nil, errors.New("neither -root-dir nor -git-url specified")
}

func createFormatters(opts Options) (map[manifest.Category]format.Formatter, error) {
	if !opts.Prettier {
		return nil, nil
	}
	path, err := format.LookupPrettier()
	if err != nil {
		return nil, err
	}
	js := &format.Prettier{Path: path, Parser: "babel", Timeout: opts.Timeout}
	return map[manifest.Category]format.Formatter{
		manifest.Rules: js,
		manifest.DB:    js,
	}, nil
}

func writeReport(path, title string, out *reconcile.Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create report: %w", err)
	}
	sections := []report.Section{{Category: string(out.Category), Results: out.Results}}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		err = report.WriteHTML(f, title, sections)
	default:
		err = report.WriteMarkdown(f, title, sections)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("cannot write report %s: %w", path, err)
	}
	log.Info().Str("file", path).Msg("Wrote report")
	return nil
}
