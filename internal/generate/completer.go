// Package generate runs the wiki generation phases for a job: embeddings
// preparation, structure generation, and the sequential page scheduler.
package generate

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/julianshen/repowiki/internal/provider"
)

// Usage is the token accounting for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// PageCompleter produces one full completion from a prompt. The production
// implementation streams from an LLM provider; tests substitute fakes.
type PageCompleter interface {
	Complete(ctx context.Context, system, prompt string) (string, Usage, error)
}

// Completer collects a provider's streamed response into a single string,
// rate limiting requests so long page queues stay inside provider quotas.
type Completer struct {
	provider  provider.LLMProvider
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

// NewCompleter creates a Completer. requestsPerMinute <= 0 disables rate
// limiting.
func NewCompleter(p provider.LLMProvider, model string, maxTokens, requestsPerMinute int) *Completer {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Completer{
		provider:  p,
		model:     model,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// Complete sends a prompt and returns the accumulated response text along
// with token usage.
func (c *Completer) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, err
	}

	req := provider.CompletionRequest{
		Model:     c.model,
		System:    system,
		Messages:  []provider.Message{provider.NewUserMessage(prompt)},
		MaxTokens: c.maxTokens,
	}

	ch, err := c.provider.Stream(ctx, req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("starting completion: %w", err)
	}

	var (
		parts []string
		usage Usage
	)
	for evt := range ch {
		switch evt.Type {
		case "text_delta":
			parts = append(parts, evt.Text)
		case "usage":
			usage.InputTokens += evt.InputTokens
			usage.OutputTokens += evt.OutputTokens
		case "error":
			return "", usage, fmt.Errorf("completion stream: %w", evt.Error)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", usage, err
	}
	return strings.Join(parts, ""), usage, nil
}
