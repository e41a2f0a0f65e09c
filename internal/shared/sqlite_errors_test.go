package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: retry later"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryOnConflict(t *testing.T) {
	ConflictBaseDelay = time.Millisecond
	t.Cleanup(func() { ConflictBaseDelay = 100 * time.Millisecond })

	calls := 0
	err := RetryOnConflict(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	calls = 0
	plain := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), "op", func() error {
		calls++
		return plain
	})
	if !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("non-conflict error should not retry: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), "op", func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil || calls != ConflictRetries {
		t.Fatalf("expected exhausted retries: err=%v calls=%d", err, calls)
	}
}
