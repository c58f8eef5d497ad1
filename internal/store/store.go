package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Giving-What-We-Can/auth0-rules/internal/gitclient"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	// Number of script files kept in memory by a GitSource.
	DefaultCacheSize = 512
)

var (
	ErrReadOnly  = errors.New("store is read-only")
	ErrNoSuchRef = errors.New("no such ref")
)

// Source is the abstraction over different types of storage layers,
// in particular local disk (non-versioned) and a Git repo (read-only).
type Source interface {
	// Refresh updates the internal state of the source (e.g., via git fetch).
	// For a disk store, this is a no-op.
	Refresh(ctx context.Context) error
	// Store returns a handle to a store at the given ref.
	// For non-versioned disk-based stores, ref must be "".
	Store(ref string) (Store, error)
}

// Store is a minimal abstraction to list, read, and write files.
// Paths always use forward slashes and are relative to the store's root,
// e.g. "scripts/rules/src/log-context.js".
type Store interface {
	// ListFiles lists all files in dir (recursively).
	// The resulting paths are relative to the store's root directory,
	// so they can be passed to ReadFile and WriteFile unmodified.
	ListFiles(dir string) ([]string, error)
	// ReadFile reads the contents of path from the store.
	// A missing file yields an error matching fs.ErrNotExist.
	ReadFile(path string) ([]byte, error)
	// WriteFile writes the given contents to path in the store.
	// Stores that do not support writing return ErrReadOnly.
	WriteFile(path string, contents []byte) error
}

// DiskStore is an implementation of Source and Store that reads files from the local file system.
type DiskStore struct {
	rootDir string
}

var _ Source = (*DiskStore)(nil)
var _ Store = (*DiskStore)(nil)

func NewDiskStore(rootDir string) *DiskStore {
	return &DiskStore{
		rootDir: rootDir,
	}
}

func (d *DiskStore) Refresh(ctx context.Context) error {
	return nil
}

func (d *DiskStore) Store(ref string) (Store, error) {
	if ref != "" {
		return nil, fmt.Errorf("invalid ref %q: %w", ref, ErrNoSuchRef)
	}
	return d, nil
}

func (d *DiskStore) ListFiles(dir string) ([]string, error) {
	return listFilesRecursively(d.rootDir, filepath.FromSlash(dir))
}

func resolveRelPath(root, subpath string) (string, error) {
	fullPath := filepath.Join(root, filepath.FromSlash(subpath))

	// Verify ancestry by calculating the relative path from the root.
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return "", fmt.Errorf("not a relative path: %v", err) // e.g. paths on different volumes
	}

	// A relative path escaping the root will start with ".."
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root directory", subpath)
	}

	return fullPath, nil
}

func (d *DiskStore) ReadFile(path string) ([]byte, error) {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

func (d *DiskStore) WriteFile(path string, contents []byte) error {
	fullPath, err := resolveRelPath(d.rootDir, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(fullPath, contents, 0644)
}

// GitSource is an implementation of Source that reads from a remote Git repository.
// File contents are cached by commit hash, so a refresh never serves stale data.
type GitSource struct {
	client     *gitclient.Client
	defaultRef string   // ref to use if the empty ref ("") is requested
	rootDir    string   // directory within the repository that stores are rooted at
	refs       []string // cached list of available references
	cache      *lru.Cache[string, []byte]
}

// gitStore is a "view" over a single commit of a GitSource.
type gitStore struct {
	client  *gitclient.Client
	hash    string
	rootDir string
	cache   *lru.Cache[string, []byte]
}

var _ Source = (*GitSource)(nil)
var _ Store = (*gitStore)(nil)

// NewGitSource returns a source serving files below rootDir ("" for the
// repository root) of the revisions known to client.
func NewGitSource(client *gitclient.Client, defaultRef, rootDir string) *GitSource {
	cache, err := lru.New[string, []byte](DefaultCacheSize)
	if err != nil {
		// Only fails for non-positive sizes.
		panic(fmt.Sprintf("cannot create file cache: %v", err))
	}
	return &GitSource{
		client:     client,
		defaultRef: defaultRef,
		rootDir:    strings.Trim(rootDir, "/"),
		cache:      cache,
	}
}

func (g *GitSource) DefaultRef() string {
	return g.defaultRef
}

func (g *GitSource) Refresh(ctx context.Context) error {
	g.refs = nil
	return g.client.Update(ctx)
}

func (g *GitSource) Store(ref string) (Store, error) {
	if ref == "" {
		ref = g.defaultRef
	}
	refs, err := g.ListReferences()
	if err != nil {
		return nil, fmt.Errorf("cannot list references: %v", err)
	}
	if !slices.Contains(refs, ref) {
		return nil, ErrNoSuchRef
	}
	hash, err := g.client.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSuchRef, err)
	}
	log.Debug().Str("ref", ref).Str("commit", hash).Msg("Reading scripts from git")
	return &gitStore{
		client:  g.client,
		hash:    hash,
		rootDir: g.rootDir,
		cache:   g.cache,
	}, nil
}

func (g *GitSource) ListReferences() ([]string, error) {
	if g.refs != nil {
		return g.refs, nil
	}
	refs, err := g.client.ListReferences()
	if err != nil {
		return nil, err
	}
	slices.Sort(refs)
	g.refs = refs
	return refs, nil
}

func (g *gitStore) repoPath(p string) string {
	// Avoid using filepath here, as git needs "/" on any OS.
	return path.Join(g.rootDir, p)
}

func (g *gitStore) ListFiles(dir string) ([]string, error) {
	files, err := g.client.ListFilesRecursive(g.hash, g.repoPath(dir))
	if err != nil {
		if errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, fmt.Errorf("directory %s: %w", dir, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to list files: %v", err)
	}
	// Make relative to gitStore root.
	result := make([]string, len(files))
	for i, f := range files {
		result[i] = path.Join(dir, f)
	}
	return result, nil
}

func (g *gitStore) ReadFile(p string) ([]byte, error) {
	key := g.hash + ":" + g.repoPath(p)
	if bs, ok := g.cache.Get(key); ok {
		return bs, nil
	}
	bs, err := g.client.ReadFile(g.hash, g.repoPath(p))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, fmt.Errorf("file %s: %w", p, fs.ErrNotExist)
		}
		return nil, err
	}
	g.cache.Add(key, bs)
	return bs, nil
}

func (g *gitStore) WriteFile(path string, contents []byte) error {
	return ErrReadOnly
}

// listFilesRecursively lists all files in subDir, which must
// be a relative path specifying a sub-directory of rootDir.
// The resulting paths will all be relative to rootDir and use forward slashes.
//
// Example:
// with rootDir "/foo/bar" and subDir "scripts/rules", all files under
// "/foo/bar/scripts/rules" will be returned, relative to "/foo/bar", such as
// ["scripts/rules/src/log-context.js"].
func listFilesRecursively(rootDir, subDir string) ([]string, error) {
	var files []string

	startDir := filepath.Join(rootDir, subDir)
	err := filepath.WalkDir(startDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Handle errors accessing a path (e.g. permission denied)
			return err
		}
		if d.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relPath))
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// ScriptFiles lists all files under dir with one of the given extensions
// (e.g. ".js"), sorted. A missing dir has no script files.
func ScriptFiles(st Store, dir string, exts ...string) ([]string, error) {
	allFiles, err := st.ListFiles(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result []string
	for _, f := range allFiles {
		if slices.Contains(exts, strings.ToLower(path.Ext(f))) {
			result = append(result, f)
		}
	}
	slices.Sort(result)
	return result, nil
}
