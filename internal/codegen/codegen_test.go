package codegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/Giving-What-We-Can/auth0-rules/internal/format"
	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
	"github.com/Giving-What-We-Can/auth0-rules/internal/report"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

type mapSource map[string]string

func (m mapSource) ReadFile(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return []byte(s), nil
}

func mustAnnotate(t *testing.T, record manifest.Data) manifest.AnnotatedValue {
	t.Helper()
	av, err := manifest.Annotate(record)
	if err != nil {
		t.Fatalf("Annotate() failed: %v", err)
	}
	return av
}

func TestSerializeData(t *testing.T) {
	tests := []struct {
		name string
		data manifest.Data
		want string
	}{
		{
			name: "empty",
			data: manifest.Data{},
			want: "{}",
		},
		{
			name: "plain values in declaration order",
			data: manifest.Data{{Key: "namespace", Value: "https://example.org/"}, {Key: "count", Value: 3}, {Key: "flags", Value: []any{true, nil}}},
			want: "{\nnamespace: \"https://example.org/\",\ncount: 3,\nflags: [true,null]\n}",
		},
		{
			name: "non-identifier keys are quoted",
			data: manifest.Data{{Key: "with-dash", Value: "<b>"}, {Key: "_ok$", Value: 1}},
			want: "{\n\"with-dash\": \"<b>\",\n_ok$: 1\n}",
		},
		{
			name: "nested mappings keep their order",
			data: manifest.Data{{Key: "claims", Value: manifest.Data{{Key: "z", Value: "<i>"}, {Key: "a", Value: []any{manifest.Data{{Key: "k", Value: 1}}}}}}},
			want: "{\nclaims: {\"z\":\"<i>\",\"a\":[{\"k\":1}]}\n}",
		},
		{
			name: "plain maps are sorted",
			data: manifest.Data{{Key: "m", Value: map[string]any{"b": 2, "a": 1}}},
			want: "{\nm: {\"a\":1,\"b\":2}\n}",
		},
		{
			name: "untyped empty array",
			data: manifest.Data{{Key: "list", Value: []any{}}},
			want: "{\nlist: []\n}",
		},
		{
			name: "typed empty annotated array",
			data: manifest.Data{{Key: "list", Value: []manifest.AnnotatedValue{}}},
			want: "{\nlist: [].map(item => item.value)\n}",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SerializeData(tc.data)
			if err != nil {
				t.Fatalf("SerializeData() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("SerializeData() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSerializeDataAnnotated(t *testing.T) {
	data := manifest.Data{
		{Key: "whitelist", Value: []manifest.AnnotatedValue{
			mustAnnotate(t, manifest.Data{{Key: "name", Value: "X"}, {Key: "value", Value: "abc"}}),
			mustAnnotate(t, manifest.Data{{Key: "name", Value: "Y"}, {Key: "value", Value: "def"}}),
		}},
	}
	got, err := SerializeData(data)
	if err != nil {
		t.Fatalf("SerializeData() failed: %v", err)
	}
	want := "{\nwhitelist: [{\"name\":\"X\",\"value\":\"abc\"},{\"name\":\"Y\",\"value\":\"def\"}].map(item => item.value)\n}"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SerializeData() mismatch (-want +got):\n%s", diff)
	}

	// The wire shape, as decoded from JSON, is recognized as well.
	var wire []any
	if err := json.Unmarshal([]byte(`[{"kind":"commentValue","value":"abc","name":"X"},{"kind":"commentValue","value":"def","name":"Y"}]`), &wire); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	got, err = SerializeData(manifest.Data{{Key: "whitelist", Value: wire}})
	if err != nil {
		t.Fatalf("SerializeData() failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SerializeData() of wire shape mismatch (-want +got):\n%s", diff)
	}

	// Evaluating the emitted expression keeps the names and reduces to the values.
	lit := strings.TrimSuffix(strings.TrimPrefix(got, "{\nwhitelist: "), ".map(item => item.value)\n}")
	var records []map[string]string
	if err := json.Unmarshal([]byte(lit), &records); err != nil {
		t.Fatalf("emitted array is not a JSON literal: %v", err)
	}
	var values []string
	for _, r := range records {
		if r["name"] == "" {
			t.Errorf("record %v lost its name", r)
		}
		values = append(values, r["value"])
	}
	if diff := cmp.Diff([]string{"abc", "def"}, values); diff != "" {
		t.Errorf("mapped values mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeDataMixedArrayIsPlain(t *testing.T) {
	data := manifest.Data{{Key: "mixed", Value: []any{
		map[string]any{"kind": "commentValue", "value": "abc"},
		"plain",
	}}}
	got, err := SerializeData(data)
	if err != nil {
		t.Fatalf("SerializeData() failed: %v", err)
	}
	want := "{\nmixed: [{\"kind\":\"commentValue\",\"value\":\"abc\"},\"plain\"]\n}"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SerializeData() mismatch (-want +got):\n%s", diff)
	}
}

func TestSerializeDataRoundTrip(t *testing.T) {
	// YAML is a superset of JSON that also accepts unquoted keys.
	want := map[string]any{
		"namespace": "https://example.org/claims",
		"retries":   3,
		"ratio":     0.5,
		"enabled":   true,
		"nothing":   nil,
		"names":     []any{"a", "b c", "d\"e"},
		"nested":    map[string]any{"x": "1", "y": []any{1, 2}},
		"odd key":   "value: with colon",
	}
	data := manifest.Data{
		{Key: "namespace", Value: want["namespace"]},
		{Key: "retries", Value: want["retries"]},
		{Key: "ratio", Value: want["ratio"]},
		{Key: "enabled", Value: want["enabled"]},
		{Key: "nothing", Value: nil},
		{Key: "names", Value: want["names"]},
		{Key: "nested", Value: manifest.Data{{Key: "y", Value: []any{1, 2}}, {Key: "x", Value: "1"}}},
		{Key: "odd key", Value: want["odd key"]},
	}
	lit, err := SerializeData(data)
	if err != nil {
		t.Fatalf("SerializeData() failed: %v", err)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(lit), &parsed); err != nil {
		t.Fatalf("parse %q: %v", lit, err)
	}
	if diff := cmp.Diff(want, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStripExportMarker(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"function f() {}\nexport {}\n", "function f() {}\n\n"},
		{"function f() {}\n  export {} // ts\n", "function f() {}\n\n"},
		{"function f() {}\n", "function f() {}\n"},
		{"const exported = {}\n", "const exported = {}\n"},
	}
	for _, tc := range tests {
		if got := StripExportMarker(tc.in); got != tc.want {
			t.Errorf("StripExportMarker(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInjectData(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "first function",
			script: "// helper function below\nfunction a(user, context, callback) {\n  x();\n}\nfunction b() {\n}\n",
			want:   "// helper function below\nfunction a(user, context, callback) {\n// Template data\nconst TEMPLATE_DATA = {}\n\n  x();\n}\nfunction b() {\n}\n",
		},
		{
			name:   "multi-line signature",
			script: "async function login(\n  email,\n  password,\n  callback\n) {  \n  go();\n}",
			want:   "async function login(\n  email,\n  password,\n  callback\n) {  \n// Template data\nconst TEMPLATE_DATA = {}\n\n  go();\n}",
		},
		{
			name:   "object default parameter",
			script: "function f(user, opts = {}) {\n  return 1\n}\n",
			want:   "function f(user, opts = {}) {\n// Template data\nconst TEMPLATE_DATA = {}\n\n  return 1\n}\n",
		},
		{
			name:   "destructured parameter over several lines",
			script: "function g({\n  user,\n  context = {},\n}, callback) {\n  callback(null)\n}\n",
			want:   "function g({\n  user,\n  context = {},\n}, callback) {\n// Template data\nconst TEMPLATE_DATA = {}\n\n  callback(null)\n}\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := InjectData(tc.script, "{}")
			if err != nil {
				t.Fatalf("InjectData() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("InjectData() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := InjectData("const f = () => {\n};\n", "{}")
	if !errors.Is(err, ErrMalformedTemplate) {
		t.Errorf("InjectData() without function: error = %v, want ErrMalformedTemplate", err)
	}
}

func TestRequires(t *testing.T) {
	script := `function f(user, context, callback) {
  const _ = require('lodash@4.17.21');
  const scoped = require("@slack/client@5.0");
  const bad = require('request@latest');
  const fs = require('fs');
}`
	got := Requires(script)
	want := []Require{
		{Module: "lodash", Version: "4.17.21"},
		{Module: "@slack/client", Version: "5.0"},
		{Module: "request", Version: "latest"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Requires() mismatch (-want +got):\n%s", diff)
	}
	valid := []bool{true, true, false}
	for i, r := range got {
		if r.Valid() != valid[i] {
			t.Errorf("%s@%s: Valid() = %v, want %v", r.Module, r.Version, r.Valid(), valid[i])
		}
	}
	if c := got[1].Canonical(); c != "v5.0.0" {
		t.Errorf("Canonical() = %q, want v5.0.0", c)
	}
}

func TestConflictingPins(t *testing.T) {
	tests := []struct {
		name string
		reqs []Require
		want []string
	}{
		{
			name: "same version spelled differently",
			reqs: []Require{{Module: "lodash", Version: "4.17"}, {Module: "lodash", Version: "v4.17.0"}},
		},
		{
			name: "different versions",
			reqs: []Require{
				{Module: "lodash", Version: "4.17.21"},
				{Module: "axios", Version: "1.6.0"},
				{Module: "lodash", Version: "4.17.20"},
				{Module: "lodash", Version: "3.0.0"},
			},
			want: []string{"lodash"},
		},
		{
			name: "invalid pins are ignored",
			reqs: []Require{{Module: "request", Version: "latest"}, {Module: "request", Version: "2.88.2"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, conflictingPins(tc.reqs)); diff != "" {
				t.Errorf("conflictingPins() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

const addDefaultRolesScript = `function addDefaultRole(user, context, callback) {
    const roles = TEMPLATE_DATA.defaultRoles
  callback(null, user, context)
}
export {}
`

func addDefaultRoleEntity() *manifest.Entity {
	return &manifest.Entity{
		Name:     "Add Default Role",
		Category: manifest.Rules,
		File:     "add-default-roles",
		Enabled:  true,
		ComputeData: func(ctx context.Context) (manifest.Data, error) {
			av, err := manifest.Annotate(manifest.Data{{Key: "value", Value: "rol_1"}, {Key: "roleName", Value: "Admin"}})
			if err != nil {
				return nil, err
			}
			return manifest.Data{{Key: "defaultRoles", Value: []manifest.AnnotatedValue{av}}}, nil
		},
	}
}

func TestGenerateAddDefaultRole(t *testing.T) {
	src := mapSource{"scripts/rules/src/add-default-roles.js": addDefaultRolesScript}
	g := NewGenerator(src, nil)
	ctx := context.Background()

	a, err := g.Generate(ctx, addDefaultRoleEntity())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	want := Banner(manifest.Rules) + `

function addDefaultRole(user, context, callback) {
  // Template data
  const TEMPLATE_DATA = {
    defaultRoles: [{ "value": "rol_1", "roleName": "Admin" }].map(item => item.value)
  }

  const roles = TEMPLATE_DATA.defaultRoles
  callback(null, user, context)
}
`
	if diff := cmp.Diff(want, a.Text); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}
	if a.Entity != "Add Default Role" || a.File != "scripts/rules/src/add-default-roles.js" {
		t.Errorf("Generate() = {Entity: %q, File: %q}", a.Entity, a.File)
	}

	// An identical remote copy is up to date.
	parts := report.Diff(a.Text, want)
	if !report.Unchanged(parts) {
		t.Errorf("Diff() against identical remote has changes: %v", parts)
	}
	var buf strings.Builder
	upToDate := report.NewReporter(&buf).Report("rules", []report.Result{{Entity: a.Entity, Parts: parts}})
	if diff := cmp.Diff([]string{"Add Default Role"}, upToDate); diff != "" {
		t.Errorf("Report() up-to-date mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateIsLayoutIndependent(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{
			name: "line breaks and indentation",
			script: "\r\n\r\nfunction addDefaultRole(user, context, callback) {\r\n\r\n" +
				"const roles = TEMPLATE_DATA.defaultRoles   \r\n" +
				"      callback(null, user, context)\r\n}\r\nexport {}\r\n",
		},
		{
			name: "spacing within lines",
			script: "function addDefaultRole(user,context,callback){\n" +
				"  const roles=TEMPLATE_DATA.defaultRoles\n" +
				"  callback( null , user,context )\n}\nexport {}\n",
		},
	}
	ctx := context.Background()
	want, err := NewGenerator(mapSource{"scripts/rules/src/add-default-roles.js": addDefaultRolesScript}, nil).Generate(ctx, addDefaultRoleEntity())
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NewGenerator(mapSource{"scripts/rules/src/add-default-roles.js": tc.script}, nil).Generate(ctx, addDefaultRoleEntity())
			if err != nil {
				t.Fatalf("Generate() failed: %v", err)
			}
			if diff := cmp.Diff(want.Text, got.Text); diff != "" {
				t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateWithoutData(t *testing.T) {
	src := mapSource{"scripts/rules/src/log-context.js": "function logContext(user, context, callback) {\n  console.log(context)\n  callback(null, user, context)\n}\n"}
	e := &manifest.Entity{Name: "Log Context", Category: manifest.Rules, File: "log-context"}
	a, err := NewGenerator(src, nil).Generate(context.Background(), e)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if strings.Contains(a.Text, "TEMPLATE_DATA") {
		t.Errorf("Generate() injected data for an entity without data:\n%s", a.Text)
	}
	if !strings.HasPrefix(a.Text, Banner(manifest.Rules)+"\n\nfunction logContext(") {
		t.Errorf("Generate() output does not start with banner and script:\n%s", a.Text)
	}
}

func TestGenerateScripts(t *testing.T) {
	src := mapSource{
		"scripts/db/src/login.js":    "function login(email, password, callback) {\n  callback(null)\n}\n",
		"scripts/db/src/get-user.js": "function getByEmail(email, callback) {\n  callback(null)\n}\n",
	}
	calls := 0
	e := &manifest.Entity{
		Name:       "Parfit",
		Category:   manifest.DB,
		Connection: "Parfit-DB",
		Scripts:    map[string]string{"login": "login", "get_user": "get-user"},
		ComputeData: func(ctx context.Context) (manifest.Data, error) {
			calls++
			return manifest.Data{{Key: "pgShouldSsl", Value: true}}, nil
		},
	}
	got, err := NewGenerator(src, nil).GenerateScripts(context.Background(), e)
	if err != nil {
		t.Fatalf("GenerateScripts() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("ComputeData called %d times, want 1", calls)
	}
	if len(got) != 2 {
		t.Fatalf("GenerateScripts() returned %d artifacts, want 2", len(got))
	}
	for name, a := range got {
		if !strings.Contains(a.Text, "  const TEMPLATE_DATA = {\n    pgShouldSsl: true\n  }\n") {
			t.Errorf("script %s lacks template data:\n%s", name, a.Text)
		}
	}
}

func TestGenerateLoginTemplate(t *testing.T) {
	src := mapSource{"scripts/login/src/login.liquid": "<!DOCTYPE html>\r\n<html>  \r\n\r\n\r\n<body>{%- auth0:widget -%}</body>\r\n</html>\r\n"}
	e := &manifest.Entity{Name: "Universal Login", Category: manifest.Login, File: "login"}
	a, err := NewGenerator(src, nil).Generate(context.Background(), e)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	want := Banner(manifest.Login) + "\n\n<!DOCTYPE html>\n<html>\n\n<body>{%- auth0:widget -%}</body>\n</html>\n"
	if diff := cmp.Diff(want, a.Text); diff != "" {
		t.Errorf("Generate() mismatch (-want +got):\n%s", diff)
	}

	e.ComputeData = func(ctx context.Context) (manifest.Data, error) { return manifest.Data{{Key: "x", Value: 1}}, nil }
	_, err = NewGenerator(src, nil).Generate(context.Background(), e)
	var mt *MalformedTemplateError
	if !errors.As(err, &mt) {
		t.Fatalf("Generate() error = %v, want *MalformedTemplateError", err)
	}
	if mt.Entity != "Universal Login" || mt.File != "scripts/login/src/login.liquid" {
		t.Errorf("MalformedTemplateError = %+v", mt)
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	withData := func(e *manifest.Entity) *manifest.Entity {
		e.ComputeData = func(ctx context.Context) (manifest.Data, error) { return manifest.Data{{Key: "a", Value: 1}}, nil }
		return e
	}

	t.Run("missing script", func(t *testing.T) {
		e := &manifest.Entity{Name: "Gone", Category: manifest.Rules, File: "gone"}
		_, err := NewGenerator(mapSource{}, nil).Generate(ctx, e)
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Generate() error = %v, want fs.ErrNotExist", err)
		}
	})
	t.Run("no function anchor", func(t *testing.T) {
		src := mapSource{"scripts/rules/src/arrow.js": "const f = (user, context, callback) => {\n  callback(null, user, context)\n}\n"}
		e := withData(&manifest.Entity{Name: "Arrow", Category: manifest.Rules, File: "arrow"})
		_, err := NewGenerator(src, nil).Generate(ctx, e)
		if !errors.Is(err, ErrMalformedTemplate) {
			t.Fatalf("Generate() error = %v, want ErrMalformedTemplate", err)
		}
		if !strings.Contains(err.Error(), "Arrow") {
			t.Errorf("error %q does not name the entity", err)
		}
	})
	t.Run("formatter rejects output", func(t *testing.T) {
		src := mapSource{"scripts/rules/src/broken.js": "function broken(user, context, callback) {\n  if (x) {\n  callback(null, user, context)\n}\n"}
		e := withData(&manifest.Entity{Name: "Broken", Category: manifest.Rules, File: "broken"})
		_, err := NewGenerator(src, nil).Generate(ctx, e)
		if !errors.Is(err, format.ErrFormat) {
			t.Fatalf("Generate() error = %v, want format.ErrFormat", err)
		}
		var fe *format.Error
		if !errors.As(err, &fe) || fe.Snippet == "" {
			t.Errorf("Generate() error carries no snippet: %v", err)
		}
	})
	t.Run("data failure", func(t *testing.T) {
		src := mapSource{"scripts/rules/src/a.js": "function a() {\n}\n"}
		e := &manifest.Entity{Name: "A", Category: manifest.Rules, File: "a",
			ComputeData: func(ctx context.Context) (manifest.Data, error) { return nil, errors.New("tenant down") }}
		_, err := NewGenerator(src, nil).Generate(ctx, e)
		if err == nil || !strings.Contains(err.Error(), "tenant down") {
			t.Errorf("Generate() error = %v, want data failure", err)
		}
	})
}
