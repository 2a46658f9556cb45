package chat

import (
	"sync"
	"time"
)

// frameLimiter bounds the inbound frame rate of one session: at most budget
// frames per sliding window.
//
// The ring holds the arrival times of the last budget admitted frames. A new
// frame recycles the oldest slot when that slot's mark has left the window;
// a still-fresh mark means the budget is spent. Memory stays fixed for the
// session's lifetime regardless of traffic.
type frameLimiter struct {
	mu     sync.Mutex
	marks  []time.Time // ring; the zero time marks a never-used slot
	next   int
	window time.Duration
}

// newFrameLimiter falls back to the package defaults when given a
// non-positive budget or window.
func newFrameLimiter(budget int, window time.Duration) *frameLimiter {
	if budget <= 0 {
		budget = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &frameLimiter{
		marks:  make([]time.Time, budget),
		window: window,
	}
}

// admit reports whether a frame arriving at now fits the budget. On denial,
// retryAfter is how long until the window frees the oldest slot.
func (l *frameLimiter) admit(now time.Time) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.marks[l.next]
	if !oldest.IsZero() {
		if held := now.Sub(oldest); held < l.window {
			return false, l.window - held
		}
	}
	l.marks[l.next] = now
	l.next = (l.next + 1) % len(l.marks)
	return true, 0
}
