package convclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/storytime/internal/domain"
)

func TestStartContinueEnd(t *testing.T) {
	t.Parallel()

	var got []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/conversation/start":
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Hi! What do you see?"},"sessionId":"s1"}`))
		case "/api/conversation/continue":
			_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Wow!","tool_calls":[{"function":{"name":"celebrate_achievement","arguments":"{}"}}]},"timeRemaining":42}`))
		case "/api/conversation/end":
			_, _ = w.Write([]byte(`{"success":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	ctx := context.Background()

	msg, err := c.Start(ctx, "s1", "An underwater castle")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if msg.Role != domain.RoleAssistant || msg.Content != "Hi! What do you see?" {
		t.Errorf("unexpected greeting: %+v", msg)
	}

	msg, err = c.Continue(ctx, "s1", "a mermaid", 42)
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "celebrate_achievement" {
		t.Errorf("unexpected tool calls: %+v", msg.ToolCalls)
	}

	if err := c.End(ctx, "s1"); err != nil {
		t.Fatalf("End: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(got))
	}
	if got[0]["imageDescription"] != "An underwater castle" {
		t.Errorf("start body = %v", got[0])
	}
	if got[1]["userMessage"] != "a mermaid" || got[1]["timeRemaining"] != float64(42) {
		t.Errorf("continue body = %v", got[1])
	}
}

func TestContinueNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Session not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Continue(context.Background(), "gone", "hi", 30)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServerErrorCarriesDetails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to start conversation","details":"Groq: upstream status 401"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, time.Second).Start(context.Background(), "s1", "forest")
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Details != "Groq: upstream status 401" {
		t.Errorf("unexpected error: %+v", se)
	}
}

func TestCallsAreBoundedByTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := New(srv.URL, 50*time.Millisecond).Start(context.Background(), "s1", "forest")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("call was not bounded by the timeout")
	}
}

func TestHealthDecodesErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"Groq API key invalid","error":"401"}`))
	}))
	defer srv.Close()

	h, err := New(srv.URL, time.Second).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "error" || h.Message != "Groq API key invalid" {
		t.Errorf("unexpected health: %+v", h)
	}
}
