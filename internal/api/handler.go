// Package api provides HTTP handlers for the conversation API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
)

// sessionIDPattern bounds client-chosen session ids.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Handler provides common handler utilities.
type Handler struct {
	maxBodyBytes int64
}

// NewHandler creates a new Handler. maxBodyBytes caps JSON request bodies.
func NewHandler(maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 64 * 1024
	}
	return &Handler{maxBodyBytes: maxBodyBytes}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v. It writes the error response itself and
// reports whether the caller should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
