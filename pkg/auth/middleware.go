// Package auth resolves the calling actor (admin key, signed identity, or
// guest) and applies transport-level protections: CORS and a per-client
// request rate limit.
package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"pollchat/pkg/logger"
	"pollchat/pkg/models"
)

// SecConfig holds the middleware knobs.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	SigningKeys    map[string]struct{}
	AdminKeys      map[string]struct{}
}

// Middleware wraps the API with CORS handling, actor resolution and the
// transport rate limiter. Health and metrics probes pass through
// unauthenticated and unmetered.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	// Rate limiters keyed by API key or remote IP
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				// Cache preflight response for 10 minutes to reduce preflight traffic.
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-User-ID,X-User-Name,X-User-Roles,X-User-Signature")
				w.Header().Set("Access-Control-Expose-Headers", "X-Role-Name")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if probePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			actor, limitKey, roleName := resolveActor(r, cfg, ip)

			if !limiters.Allow(limitKey) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				logger.Warn("rate_limited", "ip", ip, "path", r.URL.Path)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/v1/admin/") && !actor.Admin {
				http.Error(w, "forbidden", http.StatusForbidden)
				logger.Warn("request_forbidden", "reason", "admin_key_required", "path", r.URL.Path, "ip", ip)
				return
			}

			// Expose role name for handlers and clients
			w.Header().Set("X-Role-Name", roleName)
			r = r.WithContext(WithActor(r.Context(), actor))
			next.ServeHTTP(w, r)
		})
	}
}

func probePath(p string) bool {
	return p == "/healthz" || p == "/readyz" || p == "/metrics"
}

// resolveActor classifies the request: admin API key, signed registered
// identity, or guest keyed by IP. It returns the actor, the rate-limit
// key and the role name exposed to clients.
func resolveActor(r *http.Request, cfg SecConfig, ip string) (models.Actor, string, string) {
	key := apiKey(r)
	if key != "" {
		if _, ok := cfg.AdminKeys[key]; ok {
			a := models.Actor{Admin: true, IP: ip, UserAgent: r.UserAgent()}
			if signed, ok := verifySignedIdentity(r, cfg.SigningKeys); ok {
				a.UserID = signed.UserID
				a.DisplayName = signed.DisplayName
				a.Roles = signed.Roles
			}
			return a, key, "admin"
		}
	}
	if a, ok := verifySignedIdentity(r, cfg.SigningKeys); ok {
		a.IP = ip
		a.UserAgent = r.UserAgent()
		return a, fmt.Sprintf("u/%d", a.UserID), "user"
	}
	if r.Header.Get("X-User-Signature") != "" {
		logger.Warn("identity_signature_invalid", "ip", ip)
	}
	return models.Actor{IP: ip, UserAgent: r.UserAgent()}, ip, "guest"
}

// apiKey reads Authorization: Bearer <key> or X-API-Key.
func apiKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		if k := strings.TrimSpace(auth[7:]); k != "" {
			return k
		}
	}
	return r.Header.Get("X-API-Key")
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller IP, honoring proxy headers in order.
func ClientIP(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		parts := strings.Split(v, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
