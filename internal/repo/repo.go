// Package repo fetches repository metadata (flat file tree and README)
// from the supported version-control hosts and the local filesystem.
package repo

import (
	"context"
	"fmt"
	"strings"
)

// Ref identifies a repository on a host.
type Ref struct {
	Owner  string
	Repo   string
	Branch string // optional; empty means resolve the default
	Token  string // optional access token for private repositories
	Dir    string // local checkout path, used by the "local" provider
}

// Metadata is the repository context handed to the structure prompt: a
// newline-joined flat list of blob paths plus optional README text.
type Metadata struct {
	FileTree string
	Readme   string
}

// Provider fetches metadata for one VCS type.
type Provider interface {
	// Fetch returns the file tree and README for the given repository,
	// resolving the branch via candidate order (explicit, "main",
	// "master"), first success wins.
	Fetch(ctx context.Context, ref Ref) (*Metadata, error)
}

// Filter removes excluded directories and files from tree listings.
type Filter struct {
	ExcludedDirs  []string
	ExcludedFiles []string
}

// AllowDir reports whether a directory (relative, slash-separated) should
// be descended into.
func (f Filter) AllowDir(dir string) bool {
	parts := strings.Split(dir, "/")
	for _, part := range parts {
		for _, excluded := range f.ExcludedDirs {
			if part == excluded {
				return false
			}
		}
	}
	return true
}

// Allow reports whether a blob path survives the exclusion filters.
func (f Filter) Allow(path string) bool {
	for _, dir := range f.ExcludedDirs {
		if strings.HasPrefix(path, dir+"/") || strings.Contains(path, "/"+dir+"/") {
			return false
		}
	}
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	for _, name := range f.ExcludedFiles {
		if base == name {
			return false
		}
	}
	return true
}

// JoinTree filters and newline-joins blob paths into the wire form the
// structure prompt expects.
func (f Filter) JoinTree(paths []string) string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.Allow(p) {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// branchCandidates returns the resolution order for a ref.
func branchCandidates(ref Ref) []string {
	if ref.Branch != "" {
		return []string{ref.Branch, "main", "master"}
	}
	return []string{"main", "master"}
}

// resolveBranch tries fetch against each candidate branch in order and
// returns the first success.
func resolveBranch(ctx context.Context, ref Ref, fetch func(ctx context.Context, branch string) (*Metadata, error)) (*Metadata, error) {
	var lastErr error
	for _, branch := range branchCandidates(ref) {
		meta, err := fetch(ctx, branch)
		if err == nil {
			return meta, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("no resolvable branch for %s/%s: %w", ref.Owner, ref.Repo, lastErr)
}

// NewProvider returns the metadata provider for a repository type.
func NewProvider(repoType string, filter Filter) (Provider, error) {
	switch repoType {
	case "github":
		return NewGitHub(filter), nil
	case "gitlab":
		return NewGitLab(filter), nil
	case "bitbucket":
		return NewBitbucket(filter), nil
	case "local":
		return NewLocal(filter), nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %q", repoType)
	}
}
