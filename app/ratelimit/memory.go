package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Counts are not shared
// between instances. Expired windows are swept at most once per window length.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	now       func() time.Time
	windows   map[string]*window
	lastSweep time.Time
}

func NewMemoryLimiter(limit int, w time.Duration, now func() time.Time) *MemoryLimiter {
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  w,
		now:     now,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if now.Sub(l.lastSweep) >= l.window {
			l.sweep(now)
			l.lastSweep = now
		}
		w = &window{resetAt: now.Add(l.window)}
		l.windows[key] = w
	}
	w.count++

	return newResult(l.limit, w.count, w.resetAt.Sub(now)), nil
}

func (l *MemoryLimiter) sweep(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
