// Package api exposes the chat REST surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"pollchat/pkg/auth"
	"pollchat/pkg/config"
	"pollchat/pkg/ingest"
	"pollchat/pkg/logger"
	"pollchat/pkg/models"
	"pollchat/pkg/moderation"
	"pollchat/pkg/query"
	"pollchat/pkg/store"
	"pollchat/pkg/telemetry"
)

// API holds the handlers and their collaborators.
type API struct {
	cfg      *config.Config
	ingest   *ingest.Service
	query    *query.Service
	validate *validator.Validate
}

// New builds the API.
func New(cfg *config.Config, ing *ingest.Service, qry *query.Service) *API {
	return &API{cfg: cfg, ingest: ing, query: qry, validate: validator.New()}
}

// Router returns the route table. The caller wraps it with the auth
// middleware.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/v1/messages", telemetry.Middleware("messages", http.HandlerFunc(a.handleList))).Methods(http.MethodGet)
	r.Handle("/v1/send", telemetry.Middleware("send", http.HandlerFunc(a.handleSend))).Methods(http.MethodPost)
	r.Handle("/v1/user-status", telemetry.Middleware("user_status", http.HandlerFunc(a.handleUserStatus))).Methods(http.MethodGet)

	r.Handle("/v1/admin/moderate", telemetry.Middleware("moderate", http.HandlerFunc(a.handleModerate))).Methods(http.MethodPost)
	r.Handle("/v1/admin/bans", telemetry.Middleware("bans", http.HandlerFunc(a.handleListBans))).Methods(http.MethodGet)
	r.Handle("/v1/admin/bans", telemetry.Middleware("bans", http.HandlerFunc(a.handleAddBan))).Methods(http.MethodPost)
	r.Handle("/v1/admin/bans", telemetry.Middleware("bans", http.HandlerFunc(a.handleLiftBansFor))).Methods(http.MethodDelete)
	r.Handle("/v1/admin/bans/{id}", telemetry.Middleware("bans", http.HandlerFunc(a.handleLiftBan))).Methods(http.MethodDelete)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /v1/messages?after_id=&before_id=&limit=
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	actor := auth.ActorFrom(r.Context())

	if ban, found, err := store.FindBan(actor.UserID, actor.IP, time.Now().UTC()); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	} else if found {
		writeJSON(w, http.StatusForbidden, banPayload(ban))
		return
	}

	var opts query.Options
	q := r.URL.Query()
	opts.AfterID, _ = strconv.ParseUint(q.Get("after_id"), 10, 64)
	opts.BeforeID, _ = strconv.ParseUint(q.Get("before_id"), 10, 64)
	opts.Limit, _ = strconv.Atoi(q.Get("limit"))

	page, err := a.query.List(r.Context(), opts, actor)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*query.Page
	}{true, page})
}

type sendRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
	// DisplayName is honored for guests only; registered identities carry
	// their signed name.
	DisplayName string `json:"display_name" validate:"max=100"`
}

// POST /v1/send
func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}

	actor := auth.ActorFrom(r.Context())
	if actor.Guest() && actor.DisplayName == "" {
		actor.DisplayName = req.DisplayName
	}

	saved, err := a.ingest.Submit(r.Context(), actor, req.Message)
	if err != nil {
		a.writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success   bool              `json:"success"`
		MessageID uint64            `json:"message_id"`
		Message   query.WireMessage `json:"message"`
	}{true, saved.ID, a.query.Render(saved, actor)})
}

func (a *API) writeSendError(w http.ResponseWriter, err error) {
	var (
		banned  *ingest.BannedError
		tooLong *ingest.TooLongError
		blocked *moderation.BlockedError
	)
	switch {
	case errors.As(err, &banned):
		writeJSON(w, http.StatusForbidden, banPayload(banned.Ban))
	case errors.Is(err, ingest.ErrGuestsDisabled):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusForbidden)
	case errors.Is(err, ingest.ErrRateLimited):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusTooManyRequests)
	case errors.As(err, &tooLong):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "message is too long", "max_length": tooLong.Limit,
		})
	case errors.As(err, &blocked),
		errors.Is(err, ingest.ErrMissingName),
		errors.Is(err, moderation.ErrEmptyMessage):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
	default:
		logger.Error("send_failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func banPayload(b models.Ban) map[string]any {
	out := map[string]any{
		"error":  "you are banned from this chat",
		"banned": true,
		"reason": b.Reason,
	}
	if !b.ExpiresAt.IsZero() {
		out["expires_at"] = b.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

// GET /v1/user-status
func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	now := time.Now().UTC()

	resp := map[string]any{
		"user": map[string]any{
			"id":           actor.UserID,
			"display_name": actor.DisplayName,
			"type":         userType(actor),
		},
		"settings": map[string]any{
			"allow_guests":         a.cfg.Chat.AllowGuests,
			"max_message_length":   a.cfg.Chat.MaxMessageLength,
			"rate_limit":           a.cfg.Chat.RateLimit,
			"show_timestamps":      a.cfg.Chat.ShowTimestamps,
			"show_avatars":         a.cfg.Chat.ShowAvatars,
			"enable_notifications": a.cfg.Chat.EnableNotifications,
			"enable_sounds":        a.cfg.Chat.EnableSounds,
			"min_poll_interval_ms": a.cfg.Chat.MinPollInterval.Duration().Milliseconds(),
			"max_poll_interval_ms": a.cfg.Chat.MaxPollInterval.Duration().Milliseconds(),
		},
	}

	ban, found, err := store.FindBan(actor.UserID, actor.IP, now)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	resp["banned"] = found
	if found {
		resp["ban"] = banPayload(ban)
	}
	canPost := !found && (!actor.Guest() || a.cfg.Chat.AllowGuests)
	resp["can_post"] = canPost
	if canPost {
		resp["rate_remaining"] = a.ingest.Limiter().Remaining(moderation.SubjectKey(actor.UserID, actor.IP))
	}
	writeJSON(w, http.StatusOK, resp)
}

func userType(a models.Actor) string {
	switch {
	case a.Admin:
		return "admin"
	case a.Guest():
		return "guest"
	default:
		return "registered"
	}
}

type moderateRequest struct {
	MessageID uint64 `json:"message_id" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=approve delete ban_user"`
	// Reason and Duration are consulted for ban_user only; empty Duration
	// means a permanent ban.
	Reason   string `json:"reason" validate:"max=500"`
	Duration string `json:"duration"`
}

// POST /v1/admin/moderate
func (a *API) handleModerate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}
	actor := auth.ActorFrom(r.Context())

	switch req.Action {
	case "approve":
		// nothing to change; the row stays visible
		if _, err := store.GetMessage(req.MessageID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"message not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
	case "delete":
		if err := store.SoftDeleteMessage(req.MessageID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"message not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
	case "ban_user":
		m, err := store.GetMessage(req.MessageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"message not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		b := models.Ban{UserID: m.UserID, DisplayName: m.DisplayName, Reason: req.Reason, BannedBy: actor.UserID}
		if m.UserID == 0 {
			if m.IPAddress == "" {
				http.Error(w, `{"error":"message has no bannable subject"}`, http.StatusUnprocessableEntity)
				return
			}
			b.IPAddress = m.IPAddress
		}
		if req.Duration != "" {
			d, err := time.ParseDuration(req.Duration)
			if err != nil || d <= 0 {
				http.Error(w, `{"error":"invalid duration"}`, http.StatusBadRequest)
				return
			}
			b.ExpiresAt = time.Now().UTC().Add(d)
		}
		if _, err := store.AddBan(b); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		if err := store.SoftDeleteMessage(req.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
	}
	logger.AuditEvent("message_moderated", "message_id", req.MessageID, "action", req.Action, "by_user", actor.UserID, "by_ip", actor.IP)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message_id": req.MessageID, "action": req.Action})
}

// GET /v1/admin/bans?all=1
func (a *API) handleListBans(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	bans, err := store.ListBans(activeOnly, time.Now().UTC())
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bans": bans, "count": len(bans)})
}

type banRequest struct {
	UserID      uint64 `json:"user_id"`
	DisplayName string `json:"display_name" validate:"max=100"`
	IPAddress   string `json:"ip_address" validate:"omitempty,ip"`
	Reason      string `json:"reason" validate:"max=500"`
	// Duration like "24h"; empty means permanent.
	Duration string `json:"duration"`
}

// POST /v1/admin/bans
func (a *API) handleAddBan(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == 0 && req.IPAddress == "" {
		http.Error(w, `{"error":"user_id or ip_address required"}`, http.StatusBadRequest)
		return
	}
	actor := auth.ActorFrom(r.Context())
	b := models.Ban{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		IPAddress:   req.IPAddress,
		Reason:      req.Reason,
		BannedBy:    actor.UserID,
	}
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			http.Error(w, `{"error":"invalid duration"}`, http.StatusBadRequest)
			return
		}
		b.ExpiresAt = time.Now().UTC().Add(d)
	}
	saved, err := store.AddBan(b)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	logger.AuditEvent("ban_added", "ban_id", saved.ID, "user_id", saved.UserID, "ip", saved.IPAddress, "by_user", actor.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ban": saved})
}

// DELETE /v1/admin/bans?user_id=&ip=
func (a *API) handleLiftBansFor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	q := r.URL.Query()
	userID, _ := strconv.ParseUint(q.Get("user_id"), 10, 64)
	ip := q.Get("ip")
	if userID == 0 && ip == "" {
		http.Error(w, `{"error":"user_id or ip required"}`, http.StatusBadRequest)
		return
	}
	lifted, err := store.LiftBansFor(userID, ip)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	actor := auth.ActorFrom(r.Context())
	logger.AuditEvent("bans_lifted", "user_id", userID, "ip", ip, "count", lifted, "by_user", actor.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": lifted})
}

// DELETE /v1/admin/bans/{id}
func (a *API) handleLiftBan(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		http.Error(w, `{"error":"invalid ban id"}`, http.StatusBadRequest)
		return
	}
	if err := store.LiftBan(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"ban not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	actor := auth.ActorFrom(r.Context())
	logger.AuditEvent("ban_lifted", "ban_id", id, "by_user", actor.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ban_id": id})
}
