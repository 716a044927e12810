package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"pollchat/pkg/models"
)

type actorCtxKey struct{}

// WithActor attaches the resolved actor to the request context.
func WithActor(ctx context.Context, a models.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, a)
}

// ActorFrom returns the actor resolved by the middleware. A zero actor is
// an anonymous guest with no IP recorded.
func ActorFrom(ctx context.Context) models.Actor {
	if a, ok := ctx.Value(actorCtxKey{}).(models.Actor); ok {
		return a
	}
	return models.Actor{}
}

// SignIdentity computes the identity signature the embedding site sends
// in X-User-Signature: hex HMAC-SHA256 over "id\nname\nroles".
func SignIdentity(key string, userID uint64, name, roles string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatUint(userID, 10)))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(name))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(roles))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignedIdentity checks the X-User-* headers against the configured
// signing keys and returns the registered actor on success.
func verifySignedIdentity(r *http.Request, keys map[string]struct{}) (models.Actor, bool) {
	idStr := r.Header.Get("X-User-ID")
	sig := r.Header.Get("X-User-Signature")
	if idStr == "" || sig == "" || len(keys) == 0 {
		return models.Actor{}, false
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		return models.Actor{}, false
	}
	name := r.Header.Get("X-User-Name")
	roles := r.Header.Get("X-User-Roles")
	for key := range keys {
		want := SignIdentity(key, id, name, roles)
		if hmac.Equal([]byte(want), []byte(sig)) {
			a := models.Actor{UserID: id, DisplayName: name}
			for _, role := range strings.Split(roles, ",") {
				if role = strings.TrimSpace(role); role != "" {
					a.Roles = append(a.Roles, role)
				}
			}
			return a, true
		}
	}
	return models.Actor{}, false
}
