package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/token"
)

// Auth validates the Bearer capability token and puts the user ID and claims
// into the request context. WebSocket clients cannot set headers from the
// browser, so the token is also accepted as a query parameter.
func Auth(verifier *token.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				raw = r.URL.Query().Get("token")
			}
			if raw == "" {
				unauthorized(w)
				return
			}
			claims, err := verifier.Verify(raw)
			if err != nil {
				unauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID())
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}
