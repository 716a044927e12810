// Package ingest runs the message submission pipeline: permission and
// identity checks, ban lookup, rate limiting, the moderation policy,
// persistence and capacity trimming, in that order.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"pollchat/pkg/config"
	"pollchat/pkg/logger"
	"pollchat/pkg/models"
	"pollchat/pkg/moderation"
	"pollchat/pkg/store"
	"pollchat/pkg/telemetry"
)

var (
	// ErrGuestsDisabled is returned when an anonymous actor posts while
	// guest posting is off.
	ErrGuestsDisabled = errors.New("guest posting is disabled")
	// ErrMissingName is returned when no display name can be resolved.
	ErrMissingName = errors.New("display name is required")
	// ErrRateLimited is returned when the sender exhausted the current
	// rate-limit window.
	ErrRateLimited = errors.New("too many messages, slow down")
)

// TooLongError reports the configured length limit that was exceeded.
type TooLongError struct {
	Limit int
}

func (e *TooLongError) Error() string { return "message is too long" }

// BannedError carries the matching ban.
type BannedError struct {
	Ban models.Ban
}

func (e *BannedError) Error() string { return "you are banned from this chat" }

// Hook runs after a message is persisted. Hooks run in registration
// order on the submitting goroutine.
type Hook func(models.Message, models.Actor)

// Service wires the pipeline stages together.
type Service struct {
	cfg     config.ChatConfig
	policy  *moderation.Policy
	limiter *moderation.Limiter
	hooks   []Hook
	now     func() time.Time
}

// New builds the pipeline from the chat config and compiled policy.
func New(cfg config.ChatConfig, policy *moderation.Policy, limiter *moderation.Limiter) *Service {
	return &Service{cfg: cfg, policy: policy, limiter: limiter, now: time.Now}
}

// OnSaved registers a post-persist hook.
func (s *Service) OnSaved(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Limiter exposes the message rate limiter, e.g. for status endpoints.
func (s *Service) Limiter() *moderation.Limiter { return s.limiter }

// Submit runs the full pipeline for one message and returns the persisted
// row. The stage order is fixed: cheap identity checks first, then the ban
// lookup, the rate limiter (a denied attempt still consumes the window
// slot), the moderation policy, and only then the write.
func (s *Service) Submit(ctx context.Context, actor models.Actor, body string) (models.Message, error) {
	var zero models.Message
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if actor.Guest() && !s.cfg.AllowGuests {
		telemetry.MessagesRejected.WithLabelValues("guests_disabled").Inc()
		return zero, ErrGuestsDisabled
	}

	name := strings.TrimSpace(actor.DisplayName)
	if name == "" {
		telemetry.MessagesRejected.WithLabelValues("missing_name").Inc()
		return zero, ErrMissingName
	}

	body = strings.TrimSpace(body)
	if limit := s.cfg.MaxMessageLength; limit > 0 && len([]rune(body)) > limit {
		telemetry.MessagesRejected.WithLabelValues("too_long").Inc()
		return zero, &TooLongError{Limit: limit}
	}

	now := s.now().UTC()
	if ban, found, err := store.FindBan(actor.UserID, actor.IP, now); err != nil {
		return zero, err
	} else if found {
		telemetry.MessagesRejected.WithLabelValues("banned").Inc()
		logger.Info("message_rejected_banned", "user_id", actor.UserID, "ip", actor.IP, "ban_id", ban.ID)
		return zero, &BannedError{Ban: ban}
	}

	if !actor.Admin && !s.limiter.TryConsume(moderation.SubjectKey(actor.UserID, actor.IP)) {
		telemetry.MessagesRejected.WithLabelValues("rate_limited").Inc()
		return zero, ErrRateLimited
	}

	if err := s.policy.Check(body, actor); err != nil {
		var blocked *moderation.BlockedError
		if errors.As(err, &blocked) {
			telemetry.MessagesRejected.WithLabelValues("blocked").Inc()
			logger.Info("message_rejected_blocked", "user_id", actor.UserID, "term", blocked.Term)
		} else {
			telemetry.MessagesRejected.WithLabelValues("empty").Inc()
		}
		return zero, err
	}

	m := models.Message{
		UserID:      actor.UserID,
		DisplayName: name,
		Body:        body,
		CreatedAt:   now,
		IPAddress:   actor.IP,
		UserAgent:   actor.UserAgent,
	}
	saved, err := store.AppendMessage(m)
	if err != nil {
		return zero, err
	}
	telemetry.MessagesIngested.Inc()
	if _, err := store.IncrStat("messages_total", 1); err != nil {
		logger.Warn("stat_incr_failed", "stat", "messages_total", "error", err)
	}
	if _, err := store.IncrStat("messages_today", 1); err != nil {
		logger.Warn("stat_incr_failed", "stat", "messages_today", "error", err)
	}

	// Keep the room at capacity as part of the send itself so readers
	// never observe more than max_messages active rows.
	if trimmed, err := store.TrimToCapacity(s.cfg.MaxMessages); err != nil {
		logger.Warn("capacity_trim_failed", "error", err)
	} else if trimmed > 0 {
		telemetry.MessagesTrimmed.Add(float64(trimmed))
	}

	for _, h := range s.hooks {
		h(saved, actor)
	}
	return saved, nil
}
