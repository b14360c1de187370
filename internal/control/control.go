package control

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error classes the breaker counts separately.
const (
	ClassTransport = "transport_api"
	ClassTimeout   = "timeout"
	ClassUnknown   = "unknown"
)

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	if attempt > 6 {
		return 30
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// RetryBackoff is RetryBackoffSeconds as a duration.
func RetryBackoff(attempt int) time.Duration {
	return time.Duration(RetryBackoffSeconds(attempt)) * time.Second
}

// ClassifyError maps a poll error onto a breaker class.
func ClassifyError(err error) string {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "telegram"):
		return ClassTransport
	case strings.Contains(msg, "timeout"):
		return ClassTimeout
	default:
		return ClassUnknown
	}
}

// Sleep waits for d or until ctx is done, whichever comes first. It
// reports whether the full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
