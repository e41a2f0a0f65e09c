// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// Retry tuning for RetryOnConflict. Variables so tests can shorten them.
var (
	ConflictRetries   = 3
	ConflictBaseDelay = 100 * time.Millisecond
)

// RetryOnConflict runs op, retrying SQLite lock conflicts with exponential
// backoff (100ms, 200ms, ...). Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, opName string, op func() error) error {
	var err error
	for i := 0; i < ConflictRetries; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == ConflictRetries-1 {
			break
		}

		delay := ConflictBaseDelay * time.Duration(1<<i)
		slog.Debug("database locked, retrying", "op", opName, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", opName, ctx.Err())
		case <-time.After(delay):
		}
	}
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", opName, ConflictRetries, err)
	}
	return err
}
