package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTempFiles(t *testing.T, files map[string]string) *DiskStore {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0666); err != nil {
			t.Fatalf("Failed to write temp file: %v", err)
		}
	}
	return NewDiskStore(dir)
}

func TestDiskStore(t *testing.T) {
	st := writeTempFiles(t, map[string]string{
		"manifest.yaml":                  "rules: []",
		"scripts/rules/src/a.js":         "function a() {}",
		"scripts/rules/src/nested/b.js":  "function b() {}",
		"scripts/login/src/login.liquid": "<html></html>",
	})

	t.Run("Store", func(t *testing.T) {
		if _, err := st.Store(""); err != nil {
			t.Errorf("Store(\"\") failed: %v", err)
		}
		if _, err := st.Store("main"); !errors.Is(err, ErrNoSuchRef) {
			t.Errorf("Store(\"main\") error = %v, want ErrNoSuchRef", err)
		}
		if err := st.Refresh(context.Background()); err != nil {
			t.Errorf("Refresh() failed: %v", err)
		}
	})

	t.Run("ReadFile", func(t *testing.T) {
		got, err := st.ReadFile("scripts/rules/src/a.js")
		if err != nil {
			t.Fatalf("ReadFile() failed: %v", err)
		}
		if string(got) != "function a() {}" {
			t.Errorf("ReadFile() = %q, want %q", got, "function a() {}")
		}
	})

	t.Run("ReadFile missing", func(t *testing.T) {
		_, err := st.ReadFile("scripts/rules/src/missing.js")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("ReadFile() error = %v, want fs.ErrNotExist", err)
		}
	})

	t.Run("ReadFile escaping root", func(t *testing.T) {
		if _, err := st.ReadFile("../outside.js"); err == nil {
			t.Error("ReadFile() of a path outside the root succeeded")
		}
	})

	t.Run("ListFiles", func(t *testing.T) {
		got, err := st.ListFiles("scripts/rules")
		if err != nil {
			t.Fatalf("ListFiles() failed: %v", err)
		}
		want := []string{"scripts/rules/src/a.js", "scripts/rules/src/nested/b.js"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ListFiles() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("WriteFile", func(t *testing.T) {
		if err := st.WriteFile("out/generated.js", []byte("x")); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		got, err := st.ReadFile("out/generated.js")
		if err != nil {
			t.Fatalf("ReadFile() failed: %v", err)
		}
		if string(got) != "x" {
			t.Errorf("ReadFile() after WriteFile() = %q, want %q", got, "x")
		}
		if err := st.WriteFile("../escape.js", []byte("x")); err == nil {
			t.Error("WriteFile() of a path outside the root succeeded")
		}
	})
}

func TestScriptFiles(t *testing.T) {
	st := writeTempFiles(t, map[string]string{
		"scripts/rules/src/b.js":     "",
		"scripts/rules/src/a.JS":     "",
		"scripts/rules/src/types.ts": "",
		"scripts/rules/README.md":    "",
		"scripts/login/src/x.liquid": "",
	})

	tests := []struct {
		name string
		dir  string
		exts []string
		want []string
	}{
		{"rules", "scripts/rules", []string{".js"}, []string{"scripts/rules/src/a.JS", "scripts/rules/src/b.js"}},
		{"login", "scripts/login", []string{".liquid", ".html"}, []string{"scripts/login/src/x.liquid"}},
		{"missing dir", "scripts/db", []string{".js"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ScriptFiles(st, tc.dir, tc.exts...)
			if err != nil {
				t.Fatalf("ScriptFiles() failed: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ScriptFiles() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
