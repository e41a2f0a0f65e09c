package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/storytime/internal/domain"
)

type recordingArchive struct {
	mu    sync.Mutex
	saved []domain.Transcript
}

func (r *recordingArchive) Save(_ context.Context, t domain.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, t)
	return nil
}

func (r *recordingArchive) Get(_ context.Context, _ string) (domain.Transcript, error) {
	return domain.Transcript{}, ErrTranscriptNotFound
}

func (r *recordingArchive) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (r *recordingArchive) Ping(_ context.Context) error { return nil }
func (r *recordingArchive) Close() error                 { return nil }

func (r *recordingArchive) snapshot() []domain.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Transcript(nil), r.saved...)
}

func TestArchiverWritesEndedAndExpiredSessions(t *testing.T) {
	t.Parallel()

	rec := &recordingArchive{}
	a := NewArchiver(rec, 8, nil)

	ended := domain.NewSession("ended", "d", time.Now())
	ended.Status = domain.SessionEnded
	ended.Append(time.Now(), domain.SystemMessage("s"), domain.AssistantMessage("hi"))

	expired := domain.NewSession("expired", "d", time.Now())
	expired.Status = domain.SessionActive
	expired.Append(time.Now(), domain.SystemMessage("s"))

	never := domain.NewSession("never", "d", time.Now())

	a.Enqueue(ended)
	a.Enqueue(expired)
	a.Enqueue(never)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	saved := rec.snapshot()
	if len(saved) != 2 {
		t.Fatalf("saved %d transcripts, want 2", len(saved))
	}
	reasons := map[string]string{}
	for _, tr := range saved {
		reasons[tr.SessionID] = tr.Reason
	}
	if reasons["ended"] != ReasonEnded || reasons["expired"] != ReasonExpired {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
}

func TestArchiverDropsWhenFull(t *testing.T) {
	t.Parallel()

	rec := &recordingArchive{}
	a := NewArchiver(rec, 1, nil)
	s := domain.NewSession("x", "d", time.Now())
	a.Enqueue(s)
	a.Enqueue(s)

	if len(a.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(a.queue))
	}

	var nilArchiver *Archiver
	nilArchiver.Enqueue(s)
}

func TestSweepDeletesOldTranscripts(t *testing.T) {
	t.Parallel()

	a := openTestArchive(t)
	ctx := context.Background()
	if err := a.Save(ctx, sampleTranscript("old", time.Now().Add(-72*time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	sweep(ctx, a, 24*time.Hour)

	if _, err := a.Get(ctx, "old"); err == nil {
		t.Fatal("expected transcript to be swept")
	}
}
