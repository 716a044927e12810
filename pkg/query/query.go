// Package query serves the read side of the chat: windowed message
// listing plus per-row enrichment (rendered HTML, timestamps, avatar and
// profile links).
package query

import (
	"context"
	"fmt"
	"html"
	"time"

	"pollchat/pkg/config"
	"pollchat/pkg/format"
	"pollchat/pkg/logger"
	"pollchat/pkg/models"
	"pollchat/pkg/store"
	"pollchat/pkg/telemetry"
)

const (
	// InitialLimit applies to first loads that send no limit.
	InitialLimit = 15
	// DefaultLimit applies to history pages that send no limit.
	DefaultLimit = 20
	// PollLimit applies to forward polls that send no limit.
	PollLimit = 50
	// HandlerMaxLimit is the absolute server-side ceiling.
	HandlerMaxLimit = 100
	// refreshWindow is how many newest rows are re-sent on forward polls
	// so clients can refresh relative timestamps.
	refreshWindow = 50
)

// Options selects the message window. AfterID wins over BeforeID; with
// neither set the newest rows are returned.
type Options struct {
	AfterID  uint64
	BeforeID uint64
	Limit    int
}

// WireMessage is the enriched row served to clients.
type WireMessage struct {
	ID               uint64 `json:"id"`
	UserID           uint64 `json:"user_id"`
	DisplayName      string `json:"display_name"`
	DisplayNameHTML  string `json:"display_name_html"`
	Message          string `json:"message"`
	CreatedAt        string `json:"created_at"`
	CreatedAtHuman   string `json:"created_at_human"`
	CreatedAtISO     string `json:"created_at_iso"`
	CreatedTimestamp int64  `json:"created_timestamp"`
	AvatarURL        string `json:"avatar_url"`
	ProfileURL       string `json:"profile_url"`
	UserType         string `json:"user_type"`
	IsCurrentUser    bool   `json:"is_current_user"`
}

// Page is one list response.
type Page struct {
	Messages []WireMessage `json:"messages"`
	Count    int           `json:"count"`
	HasMore  bool          `json:"has_more"`
	// Updated carries the newest rows on forward polls so clients can
	// refresh displayed timestamps; empty otherwise.
	Updated []WireMessage `json:"updated_messages,omitempty"`
}

// Service renders message windows. URL resolvers are optional; when nil
// the corresponding field stays empty.
type Service struct {
	cfg       config.ChatConfig
	formatter *format.Formatter
	// ProfileURL resolves a registered user's profile page.
	ProfileURL func(userID uint64) string
	// AvatarURL resolves a registered user's avatar image.
	AvatarURL func(userID uint64) string
	now       func() time.Time
}

// New builds the read service.
func New(cfg config.ChatConfig, formatter *format.Formatter) *Service {
	return &Service{cfg: cfg, formatter: formatter, now: time.Now}
}

// ClampLimit normalizes a requested window size, falling back to the
// given per-mode default when no limit was sent.
func ClampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > HandlerMaxLimit {
		return HandlerMaxLimit
	}
	return limit
}

// List returns one message window for the actor. Forward polls
// (AfterID > 0) return ascending rows plus the refresh window; backward
// pagination (BeforeID > 0) returns ascending rows older than BeforeID;
// the initial load returns the newest rows in descending order.
func (s *Service) List(ctx context.Context, opts Options, actor models.Actor) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	telemetry.PollRequests.Inc()
	fallback := InitialLimit
	switch {
	case opts.AfterID > 0:
		fallback = PollLimit
	case opts.BeforeID > 0:
		fallback = DefaultLimit
	}
	limit := ClampLimit(opts.Limit, fallback)

	var (
		rows    []models.Message
		updated []models.Message
		err     error
	)
	switch {
	case opts.AfterID > 0:
		rows, err = store.RangeAfter(opts.AfterID, limit)
		if err == nil {
			updated, err = store.RangeLatest(refreshWindow)
		}
	case opts.BeforeID > 0:
		rows, err = store.RangeBefore(opts.BeforeID, limit)
	default:
		rows, err = store.RangeLatest(limit)
	}
	if err != nil {
		return nil, err
	}

	if err := store.SetStat("last_activity", s.now().Unix()); err != nil {
		logger.Warn("stat_set_failed", "stat", "last_activity", "error", err)
	}

	page := &Page{
		Messages: s.renderAll(rows, actor),
		Count:    len(rows),
		HasMore:  len(rows) == limit,
	}
	if opts.AfterID > 0 && len(updated) > 0 {
		page.Updated = s.renderAll(updated, actor)
	}
	return page, nil
}

func (s *Service) renderAll(rows []models.Message, actor models.Actor) []WireMessage {
	out := make([]WireMessage, 0, len(rows))
	for _, m := range rows {
		out = append(out, s.Render(m, actor))
	}
	return out
}

// Render enriches one persisted row for the wire.
func (s *Service) Render(m models.Message, actor models.Actor) WireMessage {
	w := WireMessage{
		ID:               m.ID,
		UserID:           m.UserID,
		DisplayName:      m.DisplayName,
		Message:          s.formatter.Render(m.Body),
		CreatedAt:        m.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		CreatedAtHuman:   format.HumanDelta(m.CreatedAt, s.now()),
		CreatedAtISO:     m.CreatedAt.UTC().Format(time.RFC3339),
		CreatedTimestamp: m.CreatedAt.Unix(),
		UserType:         "guest",
		IsCurrentUser:    !actor.Guest() && m.UserID == actor.UserID,
	}
	if m.Registered() {
		w.UserType = "registered"
		if s.ProfileURL != nil {
			w.ProfileURL = s.ProfileURL(m.UserID)
		}
		if s.cfg.ShowAvatars && s.AvatarURL != nil {
			w.AvatarURL = s.AvatarURL(m.UserID)
		}
	}
	name := html.EscapeString(m.DisplayName)
	if w.ProfileURL != "" {
		w.DisplayNameHTML = fmt.Sprintf(
			`<a href="%s" target="_blank" rel="noopener noreferrer">%s</a>`,
			html.EscapeString(w.ProfileURL), name)
	} else {
		w.DisplayNameHTML = name
	}
	return w
}
