package chat

import (
	"sync"
	"time"
)

// Limiter is a fixed window counter: at most limit sends per window, the counter resets when the window ends.
// It only guards the sending client, the server does not rely on it.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	start time.Time
	count int

	sync.Mutex
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{limit: limit, window: window, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.Lock()
	defer l.Unlock()
	l.now = now
	return l
}

// Allow counts an attempt and reports whether it fits into the current window. Rejected attempts are not counted.
func (l *Limiter) Allow() bool {
	l.Lock()
	defer l.Unlock()
	now := l.now()
	if l.start.IsZero() || now.Sub(l.start) >= l.window {
		l.start = now
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Refund returns a slot taken by Allow for a send that did not go through. Nothing is returned once the window
// has ended.
func (l *Limiter) Refund() {
	l.Lock()
	defer l.Unlock()
	if l.start.IsZero() || l.now().Sub(l.start) >= l.window || l.count == 0 {
		return
	}
	l.count--
}

// Remaining is the number of sends left in the current window.
func (l *Limiter) Remaining() int {
	l.Lock()
	defer l.Unlock()
	if l.start.IsZero() || l.now().Sub(l.start) >= l.window {
		return l.limit
	}
	return l.limit - l.count
}
