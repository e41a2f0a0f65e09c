// Package store provides session storage and transcript archiving.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/storytime/internal/domain"
)

// ErrTranscriptNotFound is returned when an archived transcript does not exist.
var ErrTranscriptNotFound = errors.New("transcript not found")

// SessionStore holds live conversation sessions keyed by session id.
type SessionStore interface {
	// Get returns the session for id, if it is stored and not expired.
	Get(id string) (*domain.Session, bool)

	// Put stores the session under its id and refreshes its expiry.
	Put(s *domain.Session)

	// Remove deletes the session. It reports whether the id was present.
	Remove(id string) bool

	// Len returns the number of stored sessions.
	Len() int
}

// Archive persists transcripts of finished sessions. It is write-mostly:
// nothing reads it back to resume a conversation.
type Archive interface {
	// Save writes or replaces the transcript for its session id.
	Save(ctx context.Context, t domain.Transcript) error

	// Get loads an archived transcript.
	Get(ctx context.Context, sessionID string) (domain.Transcript, error)

	// DeleteOlderThan removes transcripts that ended before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
