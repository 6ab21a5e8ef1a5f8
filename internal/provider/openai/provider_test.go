package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julianshen/repowiki/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTextResponse(t *testing.T) {
	sseBody := `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}

data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5}}

data: [DONE]

`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sseBody))
	}))
	defer server.Close()

	p := New(server.URL, "test-api-key", nil)
	var _ provider.LLMProvider = p

	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Model:     "gpt-4",
		System:    "You are helpful.",
		Messages:  []provider.Message{provider.NewUserMessage("Hi")},
		MaxTokens: 1024,
	})
	require.NoError(t, err)

	var textParts []string
	var input, output int
	var hasStop bool
	for evt := range ch {
		switch evt.Type {
		case "text_delta":
			textParts = append(textParts, evt.Text)
		case "usage":
			input += evt.InputTokens
			output += evt.OutputTokens
		case "stop":
			hasStop = true
		}
	}

	assert.Equal(t, []string{"Hello", " world"}, textParts)
	assert.Equal(t, 12, input)
	assert.Equal(t, 5, output)
	assert.True(t, hasStop, "should have received stop event")
}

func TestStreamSystemPromptBecomesFirstMessage(t *testing.T) {
	var gotReq apiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotReq))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	p := New(server.URL, "test-api-key", nil)
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Model:     "gpt-4",
		System:    "Write documentation.",
		Messages:  []provider.Message{provider.NewUserMessage("Hi")},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	for range ch {
	}

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "Write documentation.", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.True(t, gotReq.Stream)
	assert.True(t, gotReq.StreamOptions.IncludeUsage)
}

func TestStreamExtraHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "repowiki", r.Header.Get("X-Title"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	p := New(server.URL, "test-api-key", map[string]string{"X-Title": "repowiki"})
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Model:     "gpt-4",
		Messages:  []provider.Message{provider.NewUserMessage("Hi")},
		MaxTokens: 64,
	})
	require.NoError(t, err)
	for range ch {
	}
}

func TestStreamAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	p := New(server.URL, "test-api-key", nil)
	_, err := p.Stream(context.Background(), provider.CompletionRequest{
		Model:     "gpt-4",
		Messages:  []provider.Message{provider.NewUserMessage("Hi")},
		MaxTokens: 64,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestStreamMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {not json\n\n"))
	}))
	defer server.Close()

	p := New(server.URL, "test-api-key", nil)
	ch, err := p.Stream(context.Background(), provider.CompletionRequest{
		Model:     "gpt-4",
		Messages:  []provider.Message{provider.NewUserMessage("Hi")},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	var events []provider.StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	require.Error(t, events[0].Error)
}
