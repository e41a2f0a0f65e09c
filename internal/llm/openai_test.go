package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(srv.URL, "key", "llama-3.1-8b-instant", 0.7, 150, time.Second)
}

func TestOpenAICompleteSendsRolesContentAndTools(t *testing.T) {
	t.Parallel()

	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Hi! What do you see? ","tool_calls":[{"id":"c1","type":"function","function":{"name":"highlight_image_part","arguments":"{\"region\":\"castle\"}"}}]}}]}`))
	})

	msgs := []domain.Message{
		domain.SystemMessage("sys"),
		{Role: domain.RoleAssistant, Content: "earlier", ToolCalls: []domain.ToolCall{{Function: domain.FunctionCall{Name: "x"}}}},
		domain.UserMessage("a mermaid"),
	}
	reply, err := c.Complete(context.Background(), msgs, tools.Definitions())
	require.NoError(t, err)

	assert.Equal(t, "Hi! What do you see?", reply.Content)
	assert.Equal(t, domain.RoleAssistant, reply.Role)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "highlight_image_part", reply.ToolCalls[0].Function.Name)

	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	assert.Equal(t, 150, got.MaxTokens)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Tools, 2)
	assert.Equal(t, []wireMessage{
		{Role: "system", Content: "sys"},
		{Role: "assistant", Content: "earlier"},
		{Role: "user", Content: "a mermaid"},
	}, got.Messages)
}

func TestOpenAICompleteOmitsToolsWhenNoneGiven(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	})

	_, err := c.Complete(context.Background(), []domain.Message{domain.UserMessage("hi")}, nil)
	require.NoError(t, err)
	_, hasTools := raw["tools"]
	assert.False(t, hasTools)
}

func TestOpenAIFailuresAreUpstreamErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"status_non_2xx", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("slow down"))
		}, http.StatusTooManyRequests},
		{"bad_json", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("not-json")) }, http.StatusOK},
		{"empty_choices", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"choices":[]}`)) }, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			_, err := c.Complete(context.Background(), []domain.Message{domain.UserMessage("hi")}, nil)
			require.Error(t, err)

			var ue *UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tc.status, ue.StatusCode)
		})
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	t.Parallel()

	c := NewOpenAIClient("http://127.0.0.1:1", "", "m", 0.7, 150, time.Second)
	_, err := c.Complete(context.Background(), nil, nil)
	assert.True(t, IsUpstream(err))
}

func TestOpenAIListModels(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"a"},{"id":"b"},{"id":"c"}]}`))
	})
	n, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLabelFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Groq", labelFor("https://api.groq.com/openai/v1"))
	assert.Equal(t, "OpenAI", labelFor("https://api.openai.com/v1"))
	assert.Equal(t, "OpenAI-compatible", labelFor("http://localhost:11434/v1"))
}
