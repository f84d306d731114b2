package database

import (
	"context"
	"strings"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 50 * time.Millisecond
)

// WithRetry runs fn up to three times with linear backoff when it fails with
// a transient store error. Domain errors are returned immediately; callers
// must pass operations that are safe to repeat.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryBaseWait):
			}
		}
		lastErr = fn()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// IsTransient reports whether the error looks like a recoverable store
// failure (busy/locked SQLite handle, dropped connection) rather than a
// domain failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "database table is locked", "busy", "connection reset", "connection refused", "broken pipe"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
