package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/Giving-What-We-Can/auth0-rules/internal/auth0"
	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
	"github.com/Giving-What-We-Can/auth0-rules/internal/store"
	"github.com/rs/zerolog/log"
)

var errOffline = errors.New("remote lookups are not available when listing")

// offlineDirectory satisfies data providers at load time. Listing never
// computes template data, so its methods are never called.
type offlineDirectory struct{}

func (offlineDirectory) AllRoles(ctx context.Context) ([]auth0.Role, error) {
	return nil, errOffline
}

func (offlineDirectory) AllClients(ctx context.Context) ([]auth0.Application, error) {
	return nil, errOffline
}

// runList prints the available git references and, per category, every
// script file next to the entities generated from it.
func runList(ctx context.Context, args []string, stdout io.Writer) int {
	opts, err := parseFlags("auth0rules list", args)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if err := list(ctx, opts, stdout); err != nil {
		log.Error().Err(err).Msg("list failed")
		return exitFailure
	}
	return exitOK
}

func list(ctx context.Context, opts Options, w io.Writer) error {
	src, err := createSource(ctx, opts)
	if err != nil {
		return err
	}
	if gs, ok := src.(*store.GitSource); ok {
		refs, err := gs.ListReferences()
		if err != nil {
			return fmt.Errorf("failed to list references: %w", err)
		}
		fmt.Fprintf(w, "Branches and tags in %s:\n", opts.GitURL)
		for _, v := range refs {
			marker := ""
			if v == gs.DefaultRef() {
				marker = " (selected)"
			}
			fmt.Fprintf(w, "  %s%s\n", v, marker)
		}
		fmt.Fprintln(w)
	}

	st, err := src.Store("")
	if err != nil {
		return err
	}
	m, err := manifest.Load(st, opts.Manifest, manifest.Options{Directory: offlineDirectory{}})
	if err != nil {
		return err
	}

	for _, c := range manifest.Categories {
		users := make(map[string][]string)
		for _, e := range m.Entities(c) {
			for _, f := range e.Files() {
				p := c.ScriptPath(f)
				users[p] = append(users[p], e.Name)
			}
		}
		files, err := store.ScriptFiles(st, path.Join("scripts", string(c), "src"), path.Ext(c.ScriptPath("x")))
		if err != nil {
			return fmt.Errorf("failed to list %s scripts: %w", c, err)
		}

		fmt.Fprintf(w, "%s:\n", c)
		seen := make(map[string]bool)
		for _, f := range files {
			seen[f] = true
			names := "(unreferenced)"
			if len(users[f]) > 0 {
				names = strings.Join(users[f], ", ")
			}
			fmt.Fprintf(w, "  %s: %s\n", f, names)
		}
		for _, e := range m.Entities(c) {
			for _, f := range e.Files() {
				if p := c.ScriptPath(f); !seen[p] {
					seen[p] = true
					fmt.Fprintf(w, "  %s: %s (missing)\n", p, strings.Join(users[p], ", "))
				}
			}
		}
	}
	return nil
}
