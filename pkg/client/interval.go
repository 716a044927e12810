package client

import (
	"math"
	"time"
)

// PollConfig bounds the adaptive poll interval.
type PollConfig struct {
	MinInterval       time.Duration
	MaxInterval       time.Duration
	BackoffMultiplier float64
}

// DefaultPollConfig mirrors the served chat settings defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MinInterval:       2 * time.Second,
		MaxInterval:       12 * time.Second,
		BackoffMultiplier: 1.5,
	}
}

func (c PollConfig) normalized() PollConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = 12 * time.Second
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = 1.5
	}
	return c
}

// PollState is the engagement snapshot the interval decision is made
// from. All fields are plain data so NextInterval stays pure.
type PollState struct {
	WindowFocused     bool
	InputFocused      bool
	Online            bool
	ConsecutiveEmpty  int
	ConsecutiveErrors int
	LastActivity      time.Time
	LastMessage       time.Time
}

// NextInterval computes the next poll delay from the engagement state.
// Errors apply exponential backoff (capped at five applications);
// otherwise the delay grows with inactivity and consecutive empty polls
// and shrinks while the user is typing or messages are flowing. The
// result is always clamped to [MinInterval, MaxInterval].
func NextInterval(cfg PollConfig, s PollState, now time.Time) time.Duration {
	cfg = cfg.normalized()
	sinceActivity := now.Sub(s.LastActivity)
	sinceMessage := now.Sub(s.LastMessage)

	interval := cfg.MinInterval

	if s.ConsecutiveErrors > 0 {
		n := s.ConsecutiveErrors
		if n > 5 {
			n = 5
		}
		backoff := time.Duration(float64(cfg.MinInterval) * math.Pow(cfg.BackoffMultiplier, float64(n)))
		if backoff > cfg.MaxInterval {
			backoff = cfg.MaxInterval
		}
		interval = backoff
	} else {
		switch {
		case s.InputFocused:
			interval = cfg.MinInterval
		case s.WindowFocused && sinceActivity < 30*time.Second:
			interval = cfg.MinInterval + 500*time.Millisecond
		case s.WindowFocused:
			interval = cfg.MinInterval + time.Second
		default:
			background := sinceActivity
			if background > 5*time.Minute {
				background = 5 * time.Minute
			}
			interval = cfg.MinInterval + time.Duration(float64(background)/float64(time.Minute)*float64(time.Second))
		}

		if sinceMessage < time.Minute {
			if busy := cfg.MinInterval + 500*time.Millisecond; interval > busy {
				interval = busy
			}
		} else if sinceMessage > 5*time.Minute {
			interval += time.Second
		}

		interval += time.Duration(s.ConsecutiveEmpty) * 300 * time.Millisecond
	}

	if !s.Online {
		interval = cfg.MaxInterval
	}

	if interval < cfg.MinInterval {
		interval = cfg.MinInterval
	}
	if interval > cfg.MaxInterval {
		interval = cfg.MaxInterval
	}
	return interval
}
