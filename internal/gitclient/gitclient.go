// Package gitclient reads script sources from any revision of a remote git
// repository, without a worktree.
package gitclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rs/zerolog/log"
)

// Auth holds Basic Auth credentials.
// For GitHub, use any non-empty Username and a personal access token
// as Password.
type Auth struct {
	Username string
	Password string // or Token
}

// Client holds a clone of the repository in memory.
type Client struct {
	url  string
	repo *git.Repository
	auth transport.AuthMethod
}

func New(ctx context.Context, url string, auth *Auth) (*Client, error) {
	cloneOpts := &git.CloneOptions{
		URL:        url,
		NoCheckout: true, // only the object database is needed
		Tags:       git.AllTags,
	}
	var am transport.AuthMethod
	if auth != nil {
		am = &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}
		cloneOpts.Auth = am
	}

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	log.Debug().Str("url", url).Msg("Cloned script repository")
	return &Client{url: url, repo: repo, auth: am}, nil
}

// DefaultBranch returns the branch HEAD pointed to when the repository was cloned.
func (c *Client) DefaultBranch() (string, error) {
	head, err := c.repo.Head()
	if err != nil {
		return "", fmt.Errorf("cannot resolve HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// Update fetches new commits and tags from the remote.
func (c *Client) Update(ctx context.Context) error {
	err := c.repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []config.RefSpec{
			"+refs/heads/*:refs/remotes/origin/*",
			"+refs/tags/*:refs/tags/*",
		},
		Auth:  c.auth,
		Force: true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch %s: %w", c.url, err)
	}
	return nil
}

// ListReferences returns the short names of all branches and tags, sorted.
func (c *Client) ListReferences() ([]string, error) {
	refMap := make(map[string]bool)

	refs, err := c.repo.References()
	if err != nil {
		return nil, err
	}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if name.IsTag() || name.IsBranch() {
			refMap[name.Short()] = true
		} else if name.IsRemote() {
			// refs/remotes/origin/main -> main
			short := name.Short()
			if i := strings.Index(short, "/"); i != -1 && short[i+1:] != "HEAD" {
				refMap[short[i+1:]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	references := make([]string, 0, len(refMap))
	for v := range refMap {
		references = append(references, v)
	}
	slices.Sort(references)
	return references, nil
}

// Resolve returns the commit hash of a branch, tag or hash.
// Remote-tracking branches take precedence over stale local ones.
func (c *Client) Resolve(revision string) (string, error) {
	if !strings.HasPrefix(revision, "refs/") {
		if hash, err := c.repo.ResolveRevision(plumbing.Revision("origin/" + revision)); err == nil {
			return hash.String(), nil
		}
	}
	hash, err := c.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", fmt.Errorf("revision %q not found: %w", revision, err)
	}
	return hash.String(), nil
}

func (c *Client) tree(revision string) (*object.Tree, error) {
	hash, err := c.Resolve(revision)
	if err != nil {
		return nil, err
	}
	commit, err := c.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("commit lookup failed: %w", err)
	}
	return commit.Tree()
}

// ReadFile reads filePath at revision. A missing file yields object.ErrFileNotFound.
func (c *Client) ReadFile(revision, filePath string) ([]byte, error) {
	tree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}
	file, err := tree.File(filePath)
	if err != nil {
		return nil, err
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// ListFilesRecursive lists the files below dirPath at revision, relative to dirPath.
func (c *Client) ListFilesRecursive(revision, dirPath string) ([]string, error) {
	rootTree, err := c.tree(revision)
	if err != nil {
		return nil, err
	}

	targetTree := rootTree
	if dirPath != "" && dirPath != "." && dirPath != "/" {
		targetTree, err = rootTree.Tree(dirPath)
		if err != nil {
			return nil, fmt.Errorf("directory %q not found or invalid: %w", dirPath, err)
		}
	}

	var filePaths []string
	filesIter := targetTree.Files()
	defer filesIter.Close()
	err = filesIter.ForEach(func(f *object.File) error {
		filePaths = append(filePaths, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iteration failed: %w", err)
	}
	return filePaths, nil
}
