package repo

import (
	"context"
	"fmt"

	gitlab "github.com/xanzy/go-gitlab"
)

// GitLab fetches repository metadata through the GitLab API.
type GitLab struct {
	filter  Filter
	baseURL string
}

// NewGitLab creates a GitLab metadata provider against gitlab.com.
func NewGitLab(filter Filter) *GitLab {
	return &GitLab{filter: filter, baseURL: "https://gitlab.com"}
}

// Fetch returns the flat blob list and README for the project.
func (g *GitLab) Fetch(ctx context.Context, ref Ref) (*Metadata, error) {
	client, err := gitlab.NewClient(ref.Token, gitlab.WithBaseURL(g.baseURL))
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	project := ref.Owner + "/" + ref.Repo

	return resolveBranch(ctx, ref, func(ctx context.Context, branch string) (*Metadata, error) {
		opts := &gitlab.ListTreeOptions{
			Ref:         gitlab.Ptr(branch),
			Recursive:   gitlab.Ptr(true),
			ListOptions: gitlab.ListOptions{PerPage: 100},
		}

		var paths []string
		for {
			entries, resp, err := client.Repositories.ListTree(project, opts, gitlab.WithContext(ctx))
			if err != nil {
				return nil, fmt.Errorf("fetching tree at %s: %w", branch, err)
			}
			for _, entry := range entries {
				if entry.Type == "blob" {
					paths = append(paths, entry.Path)
				}
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}

		meta := &Metadata{FileTree: g.filter.JoinTree(paths)}

		// README is optional; a miss is not an error.
		raw, _, err := client.RepositoryFiles.GetRawFile(project, "README.md",
			&gitlab.GetRawFileOptions{Ref: gitlab.Ptr(branch)}, gitlab.WithContext(ctx))
		if err == nil {
			meta.Readme = string(raw)
		}

		return meta, nil
	})
}
