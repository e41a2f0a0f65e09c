package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageText accepts both the plain string and the content-parts encodings.
func messageText(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(raw, &parts))
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func TestLangChainCompleteMapsRolesAndDecodesToolCalls(t *testing.T) {
	t.Parallel()

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		Tools []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}
	lister := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama-3.1-8b-instant",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": " Great job! ",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "celebrate_achievement", "arguments": "{\"message\":\"Yay\",\"animation\":\"stars\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`))
	})

	p, err := NewLangChainProvider(lister)
	require.NoError(t, err)

	reply, err := p.Complete(context.Background(), []domain.Message{
		domain.SystemMessage("sys"),
		domain.AssistantMessage("What do you see?"),
		domain.UserMessage("a fox"),
	}, tools.Definitions())
	require.NoError(t, err)

	assert.Equal(t, domain.RoleAssistant, reply.Role)
	assert.Equal(t, "Great job!", reply.Content)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "call_1", reply.ToolCalls[0].ID)
	assert.Equal(t, tools.NameCelebrate, reply.ToolCalls[0].Function.Name)
	inv, err := tools.FromCall(reply.ToolCalls[0])
	require.NoError(t, err)
	assert.Equal(t, tools.Celebration{Message: "Yay", Animation: tools.AnimationStars}, inv)

	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	require.Len(t, got.Messages, 3)
	wantRoles := []string{"system", "assistant", "user"}
	wantText := []string{"sys", "What do you see?", "a fox"}
	for i, m := range got.Messages {
		assert.Equal(t, wantRoles[i], m.Role)
		assert.Equal(t, wantText[i], messageText(t, m.Content))
	}
	require.Len(t, got.Tools, 2)
	assert.Equal(t, tools.NameCelebrate, got.Tools[0].Function.Name)
}

func TestLangChainCompleteWrapsUpstreamErrors(t *testing.T) {
	t.Parallel()

	lister := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	})

	p, err := NewLangChainProvider(lister)
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), []domain.Message{domain.UserMessage("hi")}, nil)
	require.Error(t, err)
	var ue *UpstreamError
	assert.ErrorAs(t, err, &ue)
}
