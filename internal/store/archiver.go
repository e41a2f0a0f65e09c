package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/storytime/internal/domain"
)

// Transcript reasons recorded in the archive.
const (
	ReasonEnded   = "ended"
	ReasonExpired = "expired"
)

const archiveWriteTimeout = 10 * time.Second

// Archiver writes sessions leaving the SessionStore to an Archive on a
// background goroutine. Enqueue never blocks, so it is safe to call from an
// EvictFunc.
type Archiver struct {
	archive Archive
	queue   chan *domain.Session
	now     func() time.Time
	logger  *slog.Logger
}

// NewArchiver creates an archiver with a bounded queue.
func NewArchiver(archive Archive, queueSize int, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Archiver{
		archive: archive,
		queue:   make(chan *domain.Session, queueSize),
		now:     time.Now,
		logger:  logger,
	}
}

// Enqueue schedules s for archiving. When the queue is full the session is
// dropped and a warning logged.
func (a *Archiver) Enqueue(s *domain.Session) {
	if a == nil || s == nil {
		return
	}
	select {
	case a.queue <- s:
	default:
		a.logger.Warn("archive queue full, dropping transcript", "session_id", s.ID)
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("Archiver started")
	for {
		select {
		case s := <-a.queue:
			a.write(s)
		case <-ctx.Done():
			for {
				select {
				case s := <-a.queue:
					a.write(s)
				default:
					a.logger.Info("Archiver shutting down", "reason", ctx.Err())
					return nil
				}
			}
		}
	}
}

func (a *Archiver) write(s *domain.Session) {
	s.Lock()
	if s.Status == domain.SessionNotStarted || s.Len() == 0 {
		s.Unlock()
		return
	}
	reason := ReasonExpired
	if s.Status == domain.SessionEnded {
		reason = ReasonEnded
	}
	t := s.Snapshot(reason, a.now())
	s.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := a.archive.Save(ctx, t); err != nil {
		a.logger.Error("Failed to archive transcript", "session_id", t.SessionID, "error", err)
		return
	}
	a.logger.Debug("Transcript archived", "session_id", t.SessionID, "reason", reason, "messages", len(t.Messages))
}
