// Package convclient calls the conversation proxy's start, continue and end
// endpoints.
package convclient

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
)

// ErrSessionNotFound is returned when the proxy no longer knows the session.
var ErrSessionNotFound = errors.New("session not found")

// ServerError is a non-2xx answer from the proxy.
type ServerError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *ServerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("proxy status %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("proxy status %d: %s", e.StatusCode, e.Message)
}

// Client talks to one proxy. Each call is bounded by Timeout in addition to
// the caller's context.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Timeout    time.Duration
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		HTTPClient: &http.Client{},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Timeout:    timeout,
	}
}

type startResponse struct {
	Message   domain.Message `json:"message"`
	SessionID string         `json:"sessionId"`
}

type continueResponse struct {
	Message domain.Message `json:"message"`
}

// Start opens a session and returns the greeting.
func (c *Client) Start(ctx context.Context, sessionID, imageDescription string) (domain.Message, error) {
	var out startResponse
	err := c.post(ctx, "/api/conversation/start", map[string]any{
		"sessionId":        sessionID,
		"imageDescription": imageDescription,
	}, &out)
	if err != nil {
		return domain.Message{}, fmt.Errorf("start: %w", err)
	}
	return out.Message, nil
}

// Continue sends one child turn.
func (c *Client) Continue(ctx context.Context, sessionID, userMessage string, timeRemaining int) (domain.Message, error) {
	var out continueResponse
	err := c.post(ctx, "/api/conversation/continue", map[string]any{
		"sessionId":     sessionID,
		"userMessage":   userMessage,
		"timeRemaining": timeRemaining,
	}, &out)
	if err != nil {
		return domain.Message{}, fmt.Errorf("continue: %w", err)
	}
	return out.Message, nil
}

// End closes the session on the proxy.
func (c *Client) End(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, "/api/conversation/end", map[string]any{"sessionId": sessionID}, nil); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	return nil
}

// Health is the proxy's /api/health answer.
type Health struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	ModelsAvailable int    `json:"models_available"`
	Error           string `json:"error"`
}

// Health fetches the proxy's provider health. A 500 answer still decodes.
func (c *Client) Health(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("decode health: %w", err)
	}
	return h, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &ServerError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		se.Message, se.Details = body.Error, body.Details
	} else {
		se.Message = strings.TrimSpace(string(raw))
	}
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}
