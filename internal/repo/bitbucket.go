package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// Bitbucket fetches repository metadata through the Bitbucket Cloud REST
// API. Bitbucket has no SDK in use here; a retrying HTTP client covers its
// flakier rate limiting.
type Bitbucket struct {
	filter  Filter
	baseURL string
	client  *retryablehttp.Client
}

// NewBitbucket creates a Bitbucket metadata provider.
func NewBitbucket(filter Filter) *Bitbucket {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &Bitbucket{
		filter:  filter,
		baseURL: "https://api.bitbucket.org/2.0",
		client:  client,
	}
}

type bitbucketTreePage struct {
	Values []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"values"`
	Next string `json:"next"`
}

// Fetch returns the flat blob list and README for the repository.
func (b *Bitbucket) Fetch(ctx context.Context, ref Ref) (*Metadata, error) {
	return resolveBranch(ctx, ref, func(ctx context.Context, branch string) (*Metadata, error) {
		var paths []string

		url := fmt.Sprintf("%s/repositories/%s/%s/src/%s/?max_depth=20&pagelen=100&fields=values.path,values.type,next",
			b.baseURL, ref.Owner, ref.Repo, branch)
		for url != "" {
			var page bitbucketTreePage
			if err := b.getJSON(ctx, url, ref.Token, &page); err != nil {
				return nil, fmt.Errorf("fetching tree at %s: %w", branch, err)
			}
			for _, v := range page.Values {
				if v.Type == "commit_file" {
					paths = append(paths, v.Path)
				}
			}
			url = page.Next
		}

		meta := &Metadata{FileTree: b.filter.JoinTree(paths)}

		// README is optional; a miss is not an error.
		readmeURL := fmt.Sprintf("%s/repositories/%s/%s/src/%s/README.md", b.baseURL, ref.Owner, ref.Repo, branch)
		if body, err := b.get(ctx, readmeURL, ref.Token); err == nil {
			meta.Readme = string(body)
		}

		return meta, nil
	})
}

func (b *Bitbucket) getJSON(ctx context.Context, url, token string, out any) error {
	body, err := b.get(ctx, url, token)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (b *Bitbucket) get(ctx context.Context, url, token string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitbucket API error %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
