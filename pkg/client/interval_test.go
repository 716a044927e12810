package client

import (
	"testing"
	"time"
)

func TestNextInterval(t *testing.T) {
	cfg := DefaultPollConfig()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	active := func() PollState {
		return PollState{
			WindowFocused: true,
			Online:        true,
			LastActivity:  now.Add(-5 * time.Second),
			LastMessage:   now.Add(-10 * time.Second),
		}
	}

	cases := []struct {
		name   string
		mutate func(*PollState)
		want   time.Duration
	}{
		{"typing pins to minimum", func(s *PollState) { s.InputFocused = true }, 2 * time.Second},
		{"focused and active", func(s *PollState) {}, 2500 * time.Millisecond},
		{"focused but idle", func(s *PollState) {
			s.LastActivity = now.Add(-2 * time.Minute)
			s.LastMessage = now.Add(-2 * time.Minute)
		}, 3 * time.Second},
		{"background grows with idle time", func(s *PollState) {
			s.WindowFocused = false
			s.LastActivity = now.Add(-3 * time.Minute)
			s.LastMessage = now.Add(-3 * time.Minute)
		}, 5 * time.Second},
		{"background idle caps at five minutes", func(s *PollState) {
			s.WindowFocused = false
			s.LastActivity = now.Add(-20 * time.Minute)
			s.LastMessage = now.Add(-4 * time.Minute)
		}, 7 * time.Second},
		{"recent message shortens a slow interval", func(s *PollState) {
			s.WindowFocused = false
			s.LastActivity = now.Add(-4 * time.Minute)
			s.LastMessage = now.Add(-30 * time.Second)
		}, 2500 * time.Millisecond},
		{"stale room adds a second", func(s *PollState) {
			s.LastActivity = now.Add(-2 * time.Minute)
			s.LastMessage = now.Add(-10 * time.Minute)
		}, 4 * time.Second},
		{"empty polls add 300ms each", func(s *PollState) { s.ConsecutiveEmpty = 2 }, 3100 * time.Millisecond},
		{"one error backs off", func(s *PollState) { s.ConsecutiveErrors = 1 }, 3 * time.Second},
		{"two errors back off more", func(s *PollState) { s.ConsecutiveErrors = 2 }, 4500 * time.Millisecond},
		{"error backoff caps at max", func(s *PollState) { s.ConsecutiveErrors = 10 }, 12 * time.Second},
		{"offline pins to max", func(s *PollState) { s.Online = false; s.InputFocused = true }, 12 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := active()
			tc.mutate(&s)
			if got := NextInterval(cfg, s, now); got != tc.want {
				t.Fatalf("NextInterval = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextIntervalClampsAndNormalizes(t *testing.T) {
	s := PollState{Online: true, ConsecutiveEmpty: 100}
	got := NextInterval(PollConfig{}, s, time.Now())
	if got != 12*time.Second {
		t.Fatalf("zero config did not normalize and clamp: %v", got)
	}
}
