// Package conversation implements the proxy side of a timed conversation:
// seeding the persona, annotating time pressure and keeping history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/storytime/internal/convlog"
	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/llm"
	"github.com/ashureev/storytime/internal/store"
	"github.com/ashureev/storytime/internal/tools"
	"github.com/go-chi/chi/v5/middleware"
)

// ErrSessionNotFound is returned for an unknown, expired or ended session id.
var ErrSessionNotFound = errors.New("session not found")

// Options tune a Service. Zero values are replaced by defaults.
type Options struct {
	ToolsEnabled bool
	Timeout      time.Duration
	Budget       *llm.Budget
	Log          convlog.Logger
	Logger       *slog.Logger
}

// Service runs start/continue/end against a provider and a session store.
type Service struct {
	provider llm.Provider
	sessions store.SessionStore
	budget   *llm.Budget
	defs     []tools.Definition
	timeout  time.Duration
	log      convlog.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires a Service.
func NewService(provider llm.Provider, sessions store.SessionStore, opts Options) *Service {
	s := &Service{
		provider: provider,
		sessions: sessions,
		budget:   opts.Budget,
		timeout:  opts.Timeout,
		log:      opts.Log,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if opts.ToolsEnabled {
		s.defs = tools.Definitions()
	}
	if s.budget == nil {
		s.budget = llm.NewBudget(3000, 40)
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.log == nil {
		s.log = convlog.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ContinueRequest is one child turn.
type ContinueRequest struct {
	SessionID   string
	UserMessage string
	// TimeRemaining is nil when the client did not report it.
	TimeRemaining *float64
}

// Start seeds a session for the image and returns the greeting. An existing
// session with the same id is replaced.
func (s *Service) Start(ctx context.Context, sessionID, imageDescription string) (domain.Message, error) {
	system := domain.SystemMessage(SystemPrompt(imageDescription))

	reply, err := s.complete(ctx, []domain.Message{system, domain.UserMessage(OpeningLine)})
	if err != nil {
		s.logger.Error("Error starting conversation", "session_id", sessionID, "provider", s.provider.Name(), "error", err)
		s.logEvent(ctx, sessionID, "inbound", convlog.EventError, err.Error(), nil)
		return domain.Message{}, err
	}

	now := s.now()
	sess := domain.NewSession(sessionID, imageDescription, now)
	sess.Status = domain.SessionActive
	sess.Append(now, system, reply)
	s.sessions.Put(sess)

	s.logger.Info("Conversation started", "session_id", sessionID, "provider", s.provider.Name())
	s.logEvent(ctx, sessionID, "inbound", convlog.EventStart, imageDescription, nil)
	s.logEvent(ctx, sessionID, "outbound", convlog.EventAssistant, reply.Content, toolMeta(reply))
	return reply, nil
}

// Continue appends the child's message (with any time-pressure annotation),
// sends the history upstream and stores the reply. History is only extended
// when the provider call succeeds.
func (s *Service) Continue(ctx context.Context, req ContinueRequest) (domain.Message, error) {
	sess, ok := s.sessions.Get(req.SessionID)
	if !ok {
		return domain.Message{}, ErrSessionNotFound
	}

	sess.Lock()
	defer sess.Unlock()
	if sess.Status != domain.SessionActive {
		return domain.Message{}, ErrSessionNotFound
	}

	content := req.UserMessage
	var meta map[string]any
	if req.TimeRemaining != nil {
		content += TimeAnnotation(*req.TimeRemaining)
		meta = map[string]any{"time_remaining": *req.TimeRemaining}
	}
	user := domain.UserMessage(content)
	s.logEvent(ctx, req.SessionID, "inbound", convlog.EventUser, req.UserMessage, meta)

	history := append(sess.History(), user)
	reply, err := s.complete(ctx, s.budget.Fit(history))
	if err != nil {
		s.logger.Error("Error continuing conversation", "session_id", req.SessionID, "provider", s.provider.Name(), "error", err)
		s.logEvent(ctx, req.SessionID, "inbound", convlog.EventError, err.Error(), nil)
		return domain.Message{}, err
	}

	sess.Append(s.now(), user, reply)
	// A Start for the same id, an End or an eviction may have run while the
	// provider was busy; only refresh the entry if it is still this session.
	if cur, ok := s.sessions.Get(req.SessionID); ok && cur == sess {
		s.sessions.Put(sess)
	}

	s.logEvent(ctx, req.SessionID, "outbound", convlog.EventAssistant, reply.Content, toolMeta(reply))
	return reply, nil
}

// End forgets the session. It is idempotent and never fails; a session that
// is mid-call is marked ended once that call returns.
func (s *Service) End(ctx context.Context, sessionID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}

	sess.Lock()
	alreadyEnded := sess.Status == domain.SessionEnded
	sess.Status = domain.SessionEnded
	turns := sess.Len()
	sess.Unlock()

	s.sessions.Remove(sessionID)
	if alreadyEnded {
		return
	}
	s.logger.Info("Conversation ended", "session_id", sessionID, "messages", turns)
	s.logEvent(ctx, sessionID, "inbound", convlog.EventEnd, "", map[string]any{"messages": turns})
}

// ProviderName returns the configured provider label.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// Models asks the provider how many models are available.
func (s *Service) Models(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.provider.ListModels(ctx)
}

func (s *Service) complete(ctx context.Context, messages []domain.Message) (domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := s.now()
	reply, err := s.provider.Complete(ctx, messages, s.defs)
	if err != nil {
		if !llm.IsUpstream(err) {
			err = &llm.UpstreamError{Provider: s.provider.Name(), Err: err}
		}
		return domain.Message{}, fmt.Errorf("complete: %w", err)
	}
	reply.Role = domain.RoleAssistant
	s.logger.Debug("Provider replied", "provider", s.provider.Name(), "duration", s.now().Sub(start), "tool_calls", len(reply.ToolCalls))
	return reply, nil
}

func (s *Service) logEvent(ctx context.Context, sessionID, direction, eventType, content string, meta map[string]any) {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["request_id"] = reqID
	}
	s.log.Log(convlog.Event{
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Direction: direction,
		EventType: eventType,
		Content:   content,
		Meta:      meta,
	})
}

func toolMeta(m domain.Message) map[string]any {
	if len(m.ToolCalls) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		names = append(names, tc.Function.Name)
	}
	return map[string]any{"tool_calls": names}
}
