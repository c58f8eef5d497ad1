package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is one commit for GitRepo: the files it writes and an optional tag.
type Commit struct {
	Files map[string]string
	Tag   string
}

// GitRepo creates a git repository in a temp dir on branch "master",
// applies the given commits in order and returns the directory.
// If branch is non-empty, one extra commit with branchFiles is made on
// that branch, and master is checked out again afterwards.
func GitRepo(t *testing.T, commits []Commit, branch string, branchFiles map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	write := func(files map[string]string) {
		writeFiles(t, dir, files)
	}
	commit := func(msg string) plumbing.Hash {
		return commitAll(t, w, msg)
	}

	for i, c := range commits {
		write(c.Files)
		h := commit("commit " + string(rune('A'+i)))
		if c.Tag != "" {
			if _, err := repo.CreateTag(c.Tag, h, nil); err != nil {
				t.Fatalf("Failed to create tag %s: %v", c.Tag, err)
			}
		}
	}

	if branch != "" {
		err = w.Checkout(&git.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName(branch),
			Create: true,
		})
		if err != nil {
			t.Fatalf("Failed to checkout branch: %v", err)
		}
		write(branchFiles)
		commit("branch commit")
		err = w.Checkout(&git.CheckoutOptions{
			Branch: plumbing.NewBranchReferenceName("master"),
		})
		if err != nil {
			t.Fatalf("Failed to checkout master: %v", err)
		}
	}

	return dir
}

// CommitFiles adds a commit with files to the checked out branch of the
// repository in dir.
func CommitFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("Failed to open git repo: %v", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	writeFiles(t, dir, files)
	commitAll(t, w, "update")
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", name, err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func commitAll(t *testing.T, w *git.Worktree, msg string) plumbing.Hash {
	t.Helper()
	if _, err := w.Add("."); err != nil {
		t.Fatalf("Failed to add files: %v", err)
	}
	h, err := w.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return h
}
