package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Listener is the speech input adapter. Start is idempotent, no callback
// fires after Stop returns, and a session the engine ends on its own is
// restarted while listening is still wanted.
type Listener struct {
	engine       Recognizer
	settings     RecognitionSettings
	onTranscript func(Transcript)
	onError      func(error)
	logger       *slog.Logger

	// RestartDelay spaces automatic restarts.
	RestartDelay time.Duration

	fire sync.Mutex

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewListener wraps engine. onTranscript receives interim and final
// transcripts; onError receives recognition failures, after which listening
// stops. Neither callback may call back into the Listener.
func NewListener(engine Recognizer, settings RecognitionSettings, onTranscript func(Transcript), onError func(error), logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		engine:       engine,
		settings:     settings,
		onTranscript: onTranscript,
		onError:      onError,
		logger:       logger,
		RestartDelay: 250 * time.Millisecond,
	}
}

// Start begins listening. It is a no-op while already listening.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	l.gen++
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx, l.gen)
}

// Stop halts listening. No transcript or error is delivered after it returns.
func (l *Listener) Stop() {
	l.fire.Lock()
	defer l.fire.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Listening reports whether listening is wanted.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *Listener) current(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == id
}

func (l *Listener) run(ctx context.Context, id uint64) {
	emit := func(t Transcript) {
		l.fire.Lock()
		defer l.fire.Unlock()
		if ctx.Err() != nil || !l.current(id) {
			return
		}
		if l.onTranscript != nil {
			l.onTranscript(t)
		}
	}

	for {
		err := l.engine.Recognize(ctx, l.settings, emit)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.fail(ctx, id, err)
			return
		}

		l.logger.Debug("Recognition ended by engine, restarting")
		select {
		case <-time.After(l.RestartDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) fail(ctx context.Context, id uint64, err error) {
	l.fire.Lock()
	defer l.fire.Unlock()

	l.mu.Lock()
	if l.gen != id || ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.cancel = nil
	l.mu.Unlock()

	var re *RecognitionError
	if !errors.As(err, &re) {
		err = &RecognitionError{Reason: ReasonEngine, Err: err}
	}
	l.logger.Info("Recognition failed", "error", err)
	if l.onError != nil {
		l.onError(err)
	}
}
