package moderation

import (
	"testing"
	"time"
)

func TestLimiterFixedWindow(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetNow(func() time.Time { return now })

	key := SubjectKey(42, "")
	for i := 0; i < 3; i++ {
		if !l.TryConsume(key) {
			t.Fatalf("post %d denied inside quota", i+1)
		}
	}
	if l.TryConsume(key) {
		t.Fatalf("fourth post allowed, limit is 3")
	}
	if got := l.Remaining(key); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}

	// Window expiry resets the counter.
	now = now.Add(time.Minute)
	if !l.TryConsume(key) {
		t.Fatalf("post denied after window reset")
	}
	if got := l.Remaining(key); got != 2 {
		t.Fatalf("Remaining after reset = %d, want 2", got)
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	if !l.TryConsume(SubjectKey(1, "")) {
		t.Fatalf("first key denied")
	}
	if !l.TryConsume(SubjectKey(2, "")) {
		t.Fatalf("second key shares the first key's window")
	}
	if l.TryConsume(SubjectKey(1, "")) {
		t.Fatalf("first key allowed past its limit")
	}
}

func TestLimiterClamp(t *testing.T) {
	l := NewLimiter(0, 0)
	key := SubjectKey(0, "203.0.113.9")
	if !l.TryConsume(key) {
		t.Fatalf("clamped limiter denied the first post")
	}
	if l.TryConsume(key) {
		t.Fatalf("limit 0 should clamp to 1")
	}

	if got := NewLimiter(500, 0).limit; got != 100 {
		t.Fatalf("limit 500 clamped to %d, want 100", got)
	}
}

func TestSubjectKey(t *testing.T) {
	if SubjectKey(7, "203.0.113.9") != SubjectKey(7, "198.51.100.1") {
		t.Fatalf("registered key should ignore IP")
	}
	if SubjectKey(0, "203.0.113.9") == SubjectKey(0, "198.51.100.1") {
		t.Fatalf("guest keys for different IPs collide")
	}
	if len(SubjectKey(7, "")) != 32 {
		t.Fatalf("key is not an md5 hex digest")
	}
}
