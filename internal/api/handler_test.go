package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestDecodeRejectsOversizeBody(t *testing.T) {
	h := NewHandler(16)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sessionId":"`+strings.Repeat("a", 64)+`"}`))
	w := httptest.NewRecorder()

	var v map[string]string
	if h.decode(w, req, &v) {
		t.Fatal("expected decode to fail")
	}
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestValidSessionID(t *testing.T) {
	cases := map[string]bool{
		"session_1700000000000": true,
		"6f1c2a.b:c-d":          true,
		"":                      false,
		"has space":             false,
	}
	cases[strings.Repeat("x", 129)] = false
	for id, want := range cases {
		if got := validSessionID(id); got != want {
			t.Errorf("validSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}
