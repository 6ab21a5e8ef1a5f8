// Package anthropic implements the LLMProvider interface against the
// Anthropic Messages API with SSE streaming.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/julianshen/repowiki/internal/provider"
)

func init() {
	provider.RegisterProvider("anthropic", func(baseURL, apiKey string, _ map[string]string) provider.LLMProvider {
		return New(baseURL, apiKey)
	})
}

// Provider implements the LLMProvider interface for the Anthropic API.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a new Anthropic provider.
func New(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

// apiRequest is the request body sent to the Anthropic API.
type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Stream      bool         `json:"stream"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream sends a completion request to the Anthropic API and returns a
// channel of StreamEvents parsed from the SSE response.
func (p *Provider) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamEvent, error) {
	apiReq := apiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
		System:      req.System,
		Temperature: req.Temperature,
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, apiMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan provider.StreamEvent)
	go p.processStream(ctx, resp.Body, ch)

	return ch, nil
}

func (p *Provider) processStream(ctx context.Context, body io.ReadCloser, ch chan<- provider.StreamEvent) {
	defer close(ch)
	defer body.Close()

	reader := newSSEReader(body)
	for {
		evt, ok := reader.next()
		if !ok {
			break
		}

		out := p.convertEvent(evt)
		if out == nil {
			continue
		}

		select {
		case ch <- *out:
		case <-ctx.Done():
			return
		}
	}

	if err := reader.err(); err != nil {
		select {
		case ch <- provider.StreamEvent{Type: "error", Error: fmt.Errorf("reading stream: %w", err)}:
		case <-ctx.Done():
		}
	}
}

func (p *Provider) convertEvent(evt sseEvent) *provider.StreamEvent {
	switch evt.Event {
	case "message_start":
		var parsed struct {
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(evt.Data), &parsed); err != nil {
			return nil
		}
		if parsed.Message.Usage.InputTokens > 0 {
			return &provider.StreamEvent{Type: "usage", InputTokens: parsed.Message.Usage.InputTokens}
		}
		return nil

	case "content_block_delta":
		var parsed struct {
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(evt.Data), &parsed); err != nil {
			return &provider.StreamEvent{Type: "error", Error: fmt.Errorf("parsing content_block_delta: %w", err)}
		}
		if parsed.Delta.Type == "text_delta" {
			return &provider.StreamEvent{Type: "text_delta", Text: parsed.Delta.Text}
		}
		return nil

	case "message_delta":
		var parsed struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(evt.Data), &parsed); err != nil {
			return nil
		}
		if parsed.Usage.OutputTokens > 0 {
			return &provider.StreamEvent{Type: "usage", OutputTokens: parsed.Usage.OutputTokens}
		}
		return nil

	case "message_stop":
		return &provider.StreamEvent{Type: "stop"}

	default:
		return nil
	}
}
