package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"pollchat/pkg/config"
	"pollchat/pkg/models"
	"pollchat/pkg/moderation"
	"pollchat/pkg/store"
)

func newService(t *testing.T, mutate ...func(*config.ChatConfig)) *Service {
	t.Helper()
	if err := store.Open(t.TempDir(), 0); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.ChatConfig{
		AllowGuests:      true,
		MaxMessages:      100,
		MaxMessageLength: 50,
		RateLimit:        10,
	}
	mod := config.ModerationConfig{
		EnableWordFilter: true,
		BlockedTerms:     []config.BlockedTerm{{Term: "badword"}},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return New(cfg, moderation.NewPolicy(mod), moderation.NewLimiter(cfg.RateLimit, time.Minute))
}

func registered() models.Actor {
	return models.Actor{UserID: 7, DisplayName: "alice", IP: "203.0.113.9"}
}

func TestSubmitPersists(t *testing.T) {
	s := newService(t)
	m, err := s.Submit(context.Background(), registered(), "  hello world  ")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if m.ID == 0 {
		t.Fatalf("no ID assigned")
	}
	if m.Body != "hello world" {
		t.Fatalf("body not trimmed: %q", m.Body)
	}
	got, err := store.GetMessage(m.ID)
	if err != nil || got.Body != "hello world" {
		t.Fatalf("row not persisted: %+v, %v", got, err)
	}
}

func TestSubmitGuestRules(t *testing.T) {
	t.Run("guest allowed with name", func(t *testing.T) {
		s := newService(t)
		actor := models.Actor{DisplayName: "visitor", IP: "203.0.113.9"}
		if _, err := s.Submit(context.Background(), actor, "hi"); err != nil {
			t.Fatalf("guest post rejected: %v", err)
		}
	})

	t.Run("guests disabled", func(t *testing.T) {
		s := newService(t, func(c *config.ChatConfig) { c.AllowGuests = false })
		actor := models.Actor{DisplayName: "visitor", IP: "203.0.113.9"}
		if _, err := s.Submit(context.Background(), actor, "hi"); !errors.Is(err, ErrGuestsDisabled) {
			t.Fatalf("got %v, want ErrGuestsDisabled", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		s := newService(t)
		actor := models.Actor{DisplayName: "   ", IP: "203.0.113.9"}
		if _, err := s.Submit(context.Background(), actor, "hi"); !errors.Is(err, ErrMissingName) {
			t.Fatalf("got %v, want ErrMissingName", err)
		}
	})
}

func TestSubmitLengthLimit(t *testing.T) {
	s := newService(t, func(c *config.ChatConfig) { c.MaxMessageLength = 5 })
	var tooLong *TooLongError
	_, err := s.Submit(context.Background(), registered(), "abcdefgh")
	if !errors.As(err, &tooLong) {
		t.Fatalf("got %v, want TooLongError", err)
	}
	if tooLong.Limit != 5 {
		t.Fatalf("limit reported as %d", tooLong.Limit)
	}
	// limit counts runes, not bytes
	if _, err := s.Submit(context.Background(), registered(), "ééééé"); err != nil {
		t.Fatalf("five runes rejected: %v", err)
	}
}

func TestSubmitBanned(t *testing.T) {
	s := newService(t)
	if _, err := store.AddBan(models.Ban{UserID: 7, Reason: "spamming"}); err != nil {
		t.Fatalf("add ban: %v", err)
	}
	var banned *BannedError
	_, err := s.Submit(context.Background(), registered(), "hi")
	if !errors.As(err, &banned) {
		t.Fatalf("got %v, want BannedError", err)
	}
	if banned.Ban.Reason != "spamming" {
		t.Fatalf("ban not carried: %+v", banned.Ban)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	s := newService(t, func(c *config.ChatConfig) { c.RateLimit = 2 })
	for i := 0; i < 2; i++ {
		if _, err := s.Submit(context.Background(), registered(), "hi"); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}
	if _, err := s.Submit(context.Background(), registered(), "hi"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
	// admins bypass the limiter
	admin := registered()
	admin.Admin = true
	if _, err := s.Submit(context.Background(), admin, "hi"); err != nil {
		t.Fatalf("admin post limited: %v", err)
	}
}

func TestSubmitPolicy(t *testing.T) {
	s := newService(t)
	var blocked *moderation.BlockedError
	if _, err := s.Submit(context.Background(), registered(), "badword here"); !errors.As(err, &blocked) {
		t.Fatalf("got %v, want BlockedError", err)
	}
	if _, err := s.Submit(context.Background(), registered(), "   "); !errors.Is(err, moderation.ErrEmptyMessage) {
		t.Fatalf("got %v, want ErrEmptyMessage", err)
	}
}

func TestSubmitTrimsCapacity(t *testing.T) {
	s := newService(t, func(c *config.ChatConfig) { c.MaxMessages = 3 })
	for i := 0; i < 5; i++ {
		if _, err := s.Submit(context.Background(), registered(), "hi"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if got := store.ActiveCount(); got != 3 {
		t.Fatalf("ActiveCount = %d, want 3", got)
	}
	rows, err := store.RangeAfter(0, 0)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if rows[0].ID != 3 {
		t.Fatalf("oldest surviving row is %d, want 3", rows[0].ID)
	}
}

func TestSubmitHooks(t *testing.T) {
	s := newService(t)
	var seen []uint64
	s.OnSaved(func(m models.Message, _ models.Actor) { seen = append(seen, m.ID) })
	s.OnSaved(func(m models.Message, _ models.Actor) { seen = append(seen, m.ID+100) })

	m, err := s.Submit(context.Background(), registered(), "hi")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(seen) != 2 || seen[0] != m.ID || seen[1] != m.ID+100 {
		t.Fatalf("hooks ran %v for id %d", seen, m.ID)
	}

	// hooks do not run for rejected messages
	if _, err := s.Submit(context.Background(), registered(), "   "); err == nil {
		t.Fatalf("empty message accepted")
	}
	if len(seen) != 2 {
		t.Fatalf("hook ran for a rejected message")
	}
}

func TestSubmitCancelledContext(t *testing.T) {
	s := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Submit(ctx, registered(), "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
