package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"chatsync/pkg/logger"
	"chatsync/pkg/utils"
)

type ctxUserKey struct{}

// RequireUser verifies the caller's identity and injects the user id into
// the request context. Credentials are taken from the Authorization bearer
// token, or from the X-User-ID / X-User-Signature header pair.
func RequireUser(v TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
			sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))
			if uid != "" {
				token = uid + ":" + sig
			}
		}
		userID, ok := v.Verify(token)
		if !ok {
			logger.Log.Warn("request_unauthorized", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the verified user id or empty string.
func UserIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return s
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}
