// Package cache coordinates reuse of finished wikis. A wiki is written to
// the cache only when every one of its pages generated successfully, so a
// cache hit is always a complete wiki.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/store"
	"github.com/julianshen/repowiki/internal/wiki"
)

// Coordinator sits between the generation pipeline and the cache rows. It
// implements the pipeline's cache interface.
type Coordinator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator over the given store.
func NewCoordinator(s *store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: s, logger: logger}
}

func keyFor(ref job.Ref) store.CacheKey {
	return store.CacheKey{
		Owner:         ref.Owner,
		Repo:          ref.Repo,
		RepoType:      ref.RepoType,
		Language:      ref.Language,
		Comprehensive: ref.Comprehensive,
	}
}

// Save writes a finished wiki. It refuses structures with any missing or
// placeholder page content; a partial wiki must never shadow a complete
// one.
func (c *Coordinator) Save(ctx context.Context, ref job.Ref, structure *wiki.Structure) error {
	if structure == nil {
		return fmt.Errorf("refusing to cache nil structure for %s/%s", ref.Owner, ref.Repo)
	}
	for _, p := range structure.Pages {
		if !usableContent(p.Content) {
			return fmt.Errorf("refusing to cache incomplete wiki for %s/%s: page %s has no generated content",
				ref.Owner, ref.Repo, p.ID)
		}
	}

	if err := c.store.SaveWiki(ctx, keyFor(ref), structure); err != nil {
		return err
	}
	c.logger.Info("wiki cached", "owner", ref.Owner, "repo", ref.Repo,
		"language", ref.Language, "comprehensive", ref.Comprehensive, "pages", len(structure.Pages))
	return nil
}

// Get returns the cached wiki for a key, or nil on a miss. A flat cached
// structure gets sections inferred on the way out; the inference result is
// not written back.
func (c *Coordinator) Get(ctx context.Context, key store.CacheKey) (*wiki.Structure, error) {
	structure, err := c.store.GetWiki(ctx, key)
	if err != nil || structure == nil {
		return structure, err
	}
	if key.Comprehensive && !structure.HasSections() {
		wiki.InferSections(structure)
	}
	return structure, nil
}

// Invalidate removes a cached wiki, typically ahead of a forced refresh.
func (c *Coordinator) Invalidate(ctx context.Context, key store.CacheKey) error {
	return c.store.DeleteWiki(ctx, key)
}

// List returns all cache entries.
func (c *Coordinator) List(ctx context.Context) ([]store.CacheEntry, error) {
	return c.store.ListWikis(ctx)
}

// usableContent reports whether page content is real generated text rather
// than empty or a failure placeholder.
func usableContent(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	return !strings.HasPrefix(content, "Error generating content for page")
}
