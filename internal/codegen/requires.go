package codegen

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// Require is a module pinned by a require('name@version') call. Scripts
// running on the tenant can only load npm modules pinned this way.
type Require struct {
	Module  string
	Version string
}

// Valid reports whether the pinned version is a semantic version.
func (r Require) Valid() bool {
	v := r.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// Canonical returns the pinned version in canonical "vMAJOR.MINOR.PATCH" form,
// or "" if it is not valid.
func (r Require) Canonical() string {
	if !r.Valid() {
		return ""
	}
	return semver.Canonical("v" + strings.TrimPrefix(r.Version, "v"))
}

var requireRegex = regexp.MustCompile(`require\(\s*['"]((?:@[^'"@/]+/)?[^'"@]+)@([^'"]+)['"]\s*\)`)

// Requires lists the version-pinned modules required by script, in order
// of appearance.
func Requires(script string) []Require {
	var reqs []Require
	for _, m := range requireRegex.FindAllStringSubmatch(script, -1) {
		reqs = append(reqs, Require{Module: m[1], Version: m[2]})
	}
	return reqs
}

// conflictingPins lists the modules reqs pin at more than one version, in
// order of first appearance. "4.17" and "v4.17.0" are the same version.
func conflictingPins(reqs []Require) []string {
	pinned := make(map[string]string)
	var conflicts []string
	for _, r := range reqs {
		c := r.Canonical()
		if c == "" {
			continue
		}
		prev, ok := pinned[r.Module]
		if !ok {
			pinned[r.Module] = c
			continue
		}
		if prev != c && !slices.Contains(conflicts, r.Module) {
			conflicts = append(conflicts, r.Module)
		}
	}
	return conflicts
}
