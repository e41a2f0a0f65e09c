package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/tools"
)

const maxErrorBody = 512

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (Groq by default).
type OpenAIClient struct {
	HTTPClient  *http.Client
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	label       string
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []wireMessage      `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Tools       []tools.Definition `json:"tools,omitempty"`
	ToolChoice  string             `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role      string            `json:"role"`
			Content   *string           `json:"content"`
			ToolCalls []domain.ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// NewOpenAIClient creates a client for the given base URL.
func NewOpenAIClient(baseURL, apiKey, model string, temperature float64, maxTokens int, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		HTTPClient:  &http.Client{Timeout: timeout},
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		label:       labelFor(baseURL),
	}
}

func labelFor(baseURL string) string {
	switch {
	case strings.Contains(baseURL, "groq.com"):
		return "Groq"
	case strings.Contains(baseURL, "openai.com"):
		return "OpenAI"
	default:
		return "OpenAI-compatible"
	}
}

// Name implements Provider.
func (c *OpenAIClient) Name() string { return c.label }

// Complete implements Provider. Only role and content of each message are
// sent; tool calls stay on the stored history.
func (c *OpenAIClient) Complete(ctx context.Context, messages []domain.Message, defs []tools.Definition) (domain.Message, error) {
	if c.APIKey == "" {
		return domain.Message{}, upstream(c.label, 0, fmt.Errorf("api key missing"))
	}

	req := chatRequest{
		Model:       c.Model,
		Messages:    make([]wireMessage, 0, len(messages)),
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var cr chatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/completions", body, &cr); err != nil {
		return domain.Message{}, err
	}
	if len(cr.Choices) == 0 {
		return domain.Message{}, upstream(c.label, 0, ErrEmptyResponse)
	}

	choice := cr.Choices[0].Message
	msg := domain.Message{Role: domain.RoleAssistant, ToolCalls: choice.ToolCalls}
	if choice.Content != nil {
		msg.Content = strings.TrimSpace(*choice.Content)
	}
	return msg, nil
}

// ListModels implements Provider.
func (c *OpenAIClient) ListModels(ctx context.Context) (int, error) {
	if c.APIKey == "" {
		return 0, upstream(c.label, 0, fmt.Errorf("api key missing"))
	}
	var mr modelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &mr); err != nil {
		return 0, err
	}
	return len(mr.Data), nil
}

func (c *OpenAIClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return upstream(c.label, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(b))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return upstream(c.label, resp.StatusCode, errors.New(detail))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstream(c.label, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
