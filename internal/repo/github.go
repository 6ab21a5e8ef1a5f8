package repo

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
)

// GitHub fetches repository metadata through the GitHub API.
type GitHub struct {
	filter Filter
	// newClient is swappable for tests.
	newClient func(token string) *github.Client
}

// NewGitHub creates a GitHub metadata provider.
func NewGitHub(filter Filter) *GitHub {
	return &GitHub{
		filter: filter,
		newClient: func(token string) *github.Client {
			client := github.NewClient(nil)
			if token != "" {
				client = client.WithAuthToken(token)
			}
			return client
		},
	}
}

// Fetch returns the flat blob list and README for the repository.
func (g *GitHub) Fetch(ctx context.Context, ref Ref) (*Metadata, error) {
	client := g.newClient(ref.Token)

	return resolveBranch(ctx, ref, func(ctx context.Context, branch string) (*Metadata, error) {
		tree, _, err := client.Git.GetTree(ctx, ref.Owner, ref.Repo, branch, true)
		if err != nil {
			return nil, fmt.Errorf("fetching tree at %s: %w", branch, err)
		}

		var paths []string
		for _, entry := range tree.Entries {
			if entry.GetType() == "blob" {
				paths = append(paths, entry.GetPath())
			}
		}

		meta := &Metadata{FileTree: g.filter.JoinTree(paths)}

		// README is optional; a miss is not an error.
		readme, _, err := client.Repositories.GetReadme(ctx, ref.Owner, ref.Repo, &github.RepositoryContentGetOptions{Ref: branch})
		if err == nil {
			if content, cerr := readme.GetContent(); cerr == nil {
				meta.Readme = content
			}
		}

		return meta, nil
	})
}
