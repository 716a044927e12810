package moderation

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the span of one rate-limit window.
const DefaultWindow = time.Minute

// Limiter enforces a fixed-window message quota per sender. The first
// post in a window starts it; once the count reaches the limit further
// posts are denied until the window expires, at which point the counter
// resets atomically.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*windowEntry
	// now is overridable for tests.
	now func() time.Time
}

type windowEntry struct {
	start time.Time
	count int
}

// NewLimiter builds a limiter allowing limit posts per window. The limit
// is clamped to [1,100]; a zero window means DefaultWindow.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		entries: map[string]*windowEntry{},
		now:     time.Now,
	}
}

// TryConsume records one post attempt for key and reports whether it is
// allowed.
func (l *Limiter) TryConsume(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.Sub(e.start) >= l.window {
		l.entries[key] = &windowEntry{start: now, count: 1}
		if len(l.entries) > 4096 {
			l.sweepLocked(now)
		}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// Remaining reports how many posts key may still make in the current
// window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || l.now().Sub(e.start) >= l.window {
		return l.limit
	}
	if e.count >= l.limit {
		return 0
	}
	return l.limit - e.count
}

// sweepLocked drops expired windows. Caller holds mu.
func (l *Limiter) sweepLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.start) >= l.window {
			delete(l.entries, k)
		}
	}
}

// SetNow overrides the clock. Tests only.
func (l *Limiter) SetNow(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = fn
}

// SubjectKey derives the limiter key for a sender. Registered users are
// keyed by user ID, guests by IP; the value is hashed so raw IPs do not
// leak into logs or memory dumps.
func SubjectKey(userID uint64, ip string) string {
	var raw string
	if userID > 0 {
		raw = fmt.Sprintf("u:%d", userID)
	} else {
		raw = "ip:" + ip
	}
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
