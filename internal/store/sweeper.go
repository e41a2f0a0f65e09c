package store

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper periodically deletes archived transcripts older than retention.
// It returns when ctx is done.
func RunSweeper(ctx context.Context, archive Archive, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Archive sweeper started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			sweep(ctx, archive, retention)
		case <-ctx.Done():
			slog.Info("Archive sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

func sweep(ctx context.Context, archive Archive, retention time.Duration) {
	deleted, err := archive.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Archive sweep canceled", "error", err)
			return
		}
		slog.Error("Archive sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Archive sweep removed transcripts", "count", deleted)
	}
}
