package client

import "testing"

func msg(id uint64) Message {
	return Message{ID: id, Message: "m", CreatedAtHuman: "1 min"}
}

func TestViewAppendDeduplicates(t *testing.T) {
	v := NewView()
	added := v.Append([]Message{msg(1), msg(2), msg(3)})
	if len(added) != 3 {
		t.Fatalf("added %d rows, want 3", len(added))
	}
	added = v.Append([]Message{msg(2), msg(3), msg(4)})
	if len(added) != 1 || added[0].ID != 4 {
		t.Fatalf("duplicate rows re-added: %v", added)
	}
	if v.Len() != 4 || v.FirstID() != 1 || v.LastID() != 4 {
		t.Fatalf("cursors: len=%d first=%d last=%d", v.Len(), v.FirstID(), v.LastID())
	}
}

func TestViewPrepend(t *testing.T) {
	v := NewView()
	v.Append([]Message{msg(10), msg(11)})
	n := v.Prepend([]Message{msg(7), msg(8), msg(9), msg(10)})
	if n != 3 {
		t.Fatalf("prepended %d rows, want 3", n)
	}
	got := v.Messages()
	want := []uint64{7, 8, 9, 10, 11}
	for i, m := range got {
		if m.ID != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
	if v.FirstID() != 7 {
		t.Fatalf("FirstID = %d", v.FirstID())
	}
}

func TestViewRefreshTimestamps(t *testing.T) {
	v := NewView()
	v.Append([]Message{msg(1), msg(2)})

	fresh := msg(1)
	fresh.CreatedAtHuman = "2 mins"
	unknown := msg(99)
	changed := v.RefreshTimestamps([]Message{fresh, msg(2), unknown})
	if changed != 1 {
		t.Fatalf("changed = %d, want 1", changed)
	}
	if got := v.Messages()[0].CreatedAtHuman; got != "2 mins" {
		t.Fatalf("row not refreshed: %q", got)
	}
	if v.Len() != 2 {
		t.Fatalf("refresh grew the window to %d", v.Len())
	}
}

func TestViewHasMore(t *testing.T) {
	v := NewView()
	if !v.HasMore() {
		t.Fatalf("fresh view should assume more history")
	}
	v.setHasMore(false)
	if v.HasMore() {
		t.Fatalf("setHasMore(false) ignored")
	}
}
