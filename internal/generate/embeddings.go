package generate

import (
	"context"
	"fmt"

	"github.com/julianshen/repowiki/internal/job"
	"github.com/julianshen/repowiki/internal/wiki"
)

// EmbeddingPreparer readies the retrieval index for a repository before
// the structure phase. The embedding pipeline itself runs upstream; this
// boundary exists so a misconfigured embedder fails the job in phase 0
// instead of poisoning the structure response.
type EmbeddingPreparer interface {
	Prepare(ctx context.Context, ref job.Ref) error
}

// CompleterPreparer probes the retrieval layer with a minimal completion
// and signature-checks the response for the known embedding failure
// messages.
type CompleterPreparer struct {
	completer PageCompleter
}

// NewCompleterPreparer creates an EmbeddingPreparer backed by the same
// completion endpoint the generation phases use.
func NewCompleterPreparer(completer PageCompleter) *CompleterPreparer {
	return &CompleterPreparer{completer: completer}
}

// Prepare issues the probe and classifies its outcome. A transport error
// is returned as is; a response matching an embedding failure signature
// becomes an EmbeddingConfigError.
func (p *CompleterPreparer) Prepare(ctx context.Context, ref job.Ref) error {
	prompt := fmt.Sprintf("Confirm the retrieval index for %s/%s is ready. Reply with a single word.", ref.Owner, ref.Repo)

	text, _, err := p.completer.Complete(ctx, "", prompt)
	if err != nil {
		return fmt.Errorf("embedding probe: %w", err)
	}
	if err := wiki.DetectUpstreamError(text); err != nil {
		return err
	}
	return nil
}

// NoopPreparer skips the embeddings phase, for local runs without a
// retrieval layer.
type NoopPreparer struct{}

// Prepare always succeeds.
func (NoopPreparer) Prepare(context.Context, job.Ref) error { return nil }
