package domain

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a proxy-side session.
type SessionStatus string

const (
	SessionNotStarted SessionStatus = "not-started"
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
)

// Session is the proxy-side history of one timed conversation.
//
// Callers that read, extend and store the history must hold the session lock
// for the whole sequence.
type Session struct {
	mu sync.Mutex

	ID               string
	ImageDescription string
	Status           SessionStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time

	messages []Message
}

// NewSession creates a session that has not been started yet.
func NewSession(id, imageDescription string, now time.Time) *Session {
	return &Session{
		ID:               id,
		ImageDescription: imageDescription,
		Status:           SessionNotStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Lock acquires the per-session lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Append adds messages to the end of the history.
func (s *Session) Append(now time.Time, msgs ...Message) {
	s.messages = append(s.messages, msgs...)
	s.UpdatedAt = now
}

// History returns a copy of the accumulated messages.
func (s *Session) History() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	return len(s.messages)
}

// Transcript is an immutable snapshot of a finished session.
type Transcript struct {
	SessionID        string
	ImageDescription string
	Messages         []Message
	StartedAt        time.Time
	EndedAt          time.Time
	Reason           string
}

// Snapshot captures the session as a transcript.
func (s *Session) Snapshot(reason string, now time.Time) Transcript {
	return Transcript{
		SessionID:        s.ID,
		ImageDescription: s.ImageDescription,
		Messages:         s.History(),
		StartedAt:        s.CreatedAt,
		EndedAt:          now,
		Reason:           reason,
	}
}
