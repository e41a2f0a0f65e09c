package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/storytime/internal/conversation"
	"github.com/ashureev/storytime/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ConversationService is the proxy behaviour the handlers drive.
type ConversationService interface {
	Start(ctx context.Context, sessionID, imageDescription string) (domain.Message, error)
	Continue(ctx context.Context, req conversation.ContinueRequest) (domain.Message, error)
	End(ctx context.Context, sessionID string)
	ProviderName() string
	Models(ctx context.Context) (int, error)
}

// ConversationHandler serves the conversation, health and image endpoints.
type ConversationHandler struct {
	*Handler
	svc ConversationService
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(base *Handler, svc ConversationService) *ConversationHandler {
	return &ConversationHandler{Handler: base, svc: svc}
}

// RegisterRoutes registers the read-only routes. Conversation routes are
// registered separately so they can carry the rate limiter.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/images", h.Images)
}

// RegisterConversationRoutes registers start, continue and end under r.
func (h *ConversationHandler) RegisterConversationRoutes(r chi.Router) {
	r.Post("/start", h.Start)
	r.Post("/continue", h.Continue)
	r.Post("/end", h.End)
}

type startRequest struct {
	SessionID        string `json:"sessionId"`
	ImageDescription string `json:"imageDescription"`
}

type startResponse struct {
	Message   domain.Message `json:"message"`
	SessionID string         `json:"sessionId"`
}

type continueRequest struct {
	SessionID     string   `json:"sessionId"`
	UserMessage   string   `json:"userMessage"`
	TimeRemaining *float64 `json:"timeRemaining"`
}

type continueResponse struct {
	Message       domain.Message `json:"message"`
	TimeRemaining *float64       `json:"timeRemaining"`
}

type endRequest struct {
	SessionID string `json:"sessionId"`
}

type failure struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Start seeds a session and returns the greeting.
func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !validSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	if strings.TrimSpace(req.ImageDescription) == "" {
		Error(w, http.StatusBadRequest, "imageDescription is required")
		return
	}

	msg, err := h.svc.Start(r.Context(), req.SessionID, req.ImageDescription)
	if err != nil {
		JSON(w, http.StatusInternalServerError, failure{Error: "Failed to start conversation", Details: err.Error()})
		return
	}

	JSON(w, http.StatusOK, startResponse{Message: msg, SessionID: req.SessionID})
}

// Continue forwards one child turn.
func (h *ConversationHandler) Continue(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Ids that could never have been started are simply unknown.
	if !validSessionID(req.SessionID) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		Error(w, http.StatusBadRequest, "userMessage is required")
		return
	}

	msg, err := h.svc.Continue(r.Context(), conversation.ContinueRequest{
		SessionID:     req.SessionID,
		UserMessage:   req.UserMessage,
		TimeRemaining: req.TimeRemaining,
	})
	if errors.Is(err, conversation.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		JSON(w, http.StatusInternalServerError, failure{Error: "Failed to continue conversation", Details: err.Error()})
		return
	}

	JSON(w, http.StatusOK, continueResponse{Message: msg, TimeRemaining: req.TimeRemaining})
}

// End forgets the session. It always succeeds.
func (h *ConversationHandler) End(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID != "" {
		h.svc.End(r.Context(), req.SessionID)
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Health pings the provider's model listing.
func (h *ConversationHandler) Health(w http.ResponseWriter, r *http.Request) {
	provider := h.svc.ProviderName()
	n, err := h.svc.Models(r.Context())
	if err != nil {
		slog.Warn("Health check failed", "provider", provider, "error", err)
		JSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": provider + " API key invalid",
			"error":   err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"message":          provider + " API key is valid",
		"models_available": n,
	})
}

// Images lists the selectable images.
func (h *ConversationHandler) Images(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"images": domain.Catalog()})
}
