package store

import (
	"errors"
	"testing"
	"time"

	"pollchat/pkg/models"
)

// openTemp opens a fresh store in a temp dir and closes it when the test
// ends. The package keeps one global handle, so tests must not run in
// parallel.
func openTemp(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir(), 0); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func seed(t *testing.T, n int) []models.Message {
	t.Helper()
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		m, err := AppendMessage(models.Message{
			UserID:      uint64(i%3) + 1,
			DisplayName: "user",
			Body:        "hello",
			CreatedAt:   time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	openTemp(t)
	msgs := seed(t, 5)
	for i, m := range msgs {
		if m.ID != uint64(i+1) {
			t.Fatalf("message %d got ID %d", i, m.ID)
		}
	}
	if got := ActiveCount(); got != 5 {
		t.Fatalf("ActiveCount = %d, want 5", got)
	}
}

func TestSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	if err := Open(dir, 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	m, err := AppendMessage(models.Message{Body: "first"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := Open(dir, 0); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
	m2, err := AppendMessage(models.Message{Body: "second"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if m2.ID != m.ID+1 {
		t.Fatalf("ID after reopen = %d, want %d", m2.ID, m.ID+1)
	}
}

func TestGetMessage(t *testing.T) {
	openTemp(t)
	seed(t, 1)
	m, err := GetMessage(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Body != "hello" {
		t.Fatalf("body = %q", m.Body)
	}
	if _, err := GetMessage(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing row = %v, want ErrNotFound", err)
	}
}

func TestRanges(t *testing.T) {
	openTemp(t)
	seed(t, 10)
	if err := SoftDeleteMessage(4); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	t.Run("after ascending skips deleted", func(t *testing.T) {
		got, err := RangeAfter(2, 0)
		if err != nil {
			t.Fatalf("RangeAfter: %v", err)
		}
		want := []uint64{3, 5, 6, 7, 8, 9, 10}
		checkIDs(t, got, want)
	})

	t.Run("after honors limit", func(t *testing.T) {
		got, err := RangeAfter(0, 3)
		if err != nil {
			t.Fatalf("RangeAfter: %v", err)
		}
		checkIDs(t, got, []uint64{1, 2, 3})
	})

	t.Run("before returns newest older rows ascending", func(t *testing.T) {
		got, err := RangeBefore(8, 3)
		if err != nil {
			t.Fatalf("RangeBefore: %v", err)
		}
		checkIDs(t, got, []uint64{5, 6, 7})
	})

	t.Run("latest descending", func(t *testing.T) {
		got, err := RangeLatest(4)
		if err != nil {
			t.Fatalf("RangeLatest: %v", err)
		}
		checkIDs(t, got, []uint64{10, 9, 8, 7})
	})
}

func checkIDs(t *testing.T, got []models.Message, want []uint64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("position %d: ID %d, want %d", i, m.ID, want[i])
		}
	}
}

func TestSoftDeleteIdempotent(t *testing.T) {
	openTemp(t)
	seed(t, 2)
	if err := SoftDeleteMessage(1); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := SoftDeleteMessage(1); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if got := ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1 (double delete counted twice?)", got)
	}
	if err := SoftDeleteMessage(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing = %v, want ErrNotFound", err)
	}
}

func TestTrimToCapacity(t *testing.T) {
	openTemp(t)
	seed(t, 10)

	trimmed, err := TrimToCapacity(7)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if trimmed != 3 {
		t.Fatalf("trimmed %d, want 3", trimmed)
	}
	got, err := RangeAfter(0, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	// the oldest rows go first
	checkIDs(t, got, []uint64{4, 5, 6, 7, 8, 9, 10})

	if again, _ := TrimToCapacity(7); again != 0 {
		t.Fatalf("trim under capacity removed %d rows", again)
	}
}

func TestPurgeDeletedBefore(t *testing.T) {
	openTemp(t)
	seed(t, 5) // created at minute 0..4
	for _, id := range []uint64{1, 2, 5} {
		if err := SoftDeleteMessage(id); err != nil {
			t.Fatalf("soft delete %d: %v", id, err)
		}
	}

	cutoff := time.Date(2026, 1, 1, 0, 2, 0, 0, time.UTC)
	purged, err := PurgeDeletedBefore(cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	// rows 1 and 2 predate the cutoff; row 5 is deleted but too recent,
	// rows 3 and 4 are live and untouched
	if purged != 2 {
		t.Fatalf("purged %d, want 2", purged)
	}
	if _, err := GetMessage(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged row still readable: %v", err)
	}
	if m, err := GetMessage(5); err != nil || !m.Deleted {
		t.Fatalf("recent deleted row should survive: %v", err)
	}
}

func TestStats(t *testing.T) {
	openTemp(t)
	if n, err := GetStat("messages_total"); err != nil || n != 0 {
		t.Fatalf("unset stat = %d, %v", n, err)
	}
	if _, err := IncrStat("messages_total", 2); err != nil {
		t.Fatalf("incr: %v", err)
	}
	n, err := IncrStat("messages_total", 3)
	if err != nil || n != 5 {
		t.Fatalf("incr = %d, %v, want 5", n, err)
	}
	if err := SetStat("messages_total", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if n, _ := GetStat("messages_total"); n != 1 {
		t.Fatalf("after set = %d, want 1", n)
	}
}
