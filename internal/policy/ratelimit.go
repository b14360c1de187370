package policy

import (
	"context"
	"sync"
	"time"
)

// Window is the span the rate ceiling applies to.
const Window = 60 * time.Second

// RateLimiter keeps a sliding window of event timestamps per user.
// Lookups take the map lock and then the window lock, so a window is
// never swept while an event is being counted against it.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[int64]*rateWindow
}

type rateWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// NewRateLimiter allows perWindow events per user per minute. A ceiling
// <= 0 disables limiting.
func NewRateLimiter(perWindow int) *RateLimiter {
	return &RateLimiter{
		limit:   perWindow,
		window:  Window,
		now:     time.Now,
		windows: map[int64]*rateWindow{},
	}
}

// WithClock replaces the time source; for tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Allow records an event for userID and reports whether it is within the
// ceiling. Rejected events still count toward the window.
func (l *RateLimiter) Allow(userID int64) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	w, ok := l.windows[userID]
	if !ok {
		w = &rateWindow{}
		l.windows[userID] = w
	}
	w.mu.Lock()
	l.mu.Unlock()
	defer w.mu.Unlock()

	now := l.now()
	w.prune(now, l.window)
	w.stamps = append(w.stamps, now)
	return len(w.stamps) <= l.limit
}

func (w *rateWindow) prune(now time.Time, span time.Duration) {
	keep := w.stamps[:0]
	for _, t := range w.stamps {
		if now.Sub(t) < span {
			keep = append(keep, t)
		}
	}
	w.stamps = keep
}

// Sweep forgets users whose window has gone idle and returns how many
// were removed.
func (l *RateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for id, w := range l.windows {
		w.mu.Lock()
		w.prune(now, l.window)
		idle := len(w.stamps) == 0
		w.mu.Unlock()
		if idle {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of users with a live window.
func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
