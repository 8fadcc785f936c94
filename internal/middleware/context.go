package middleware

import (
	"context"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/token"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	ClaimsKey contextKey = "claims"
)

// GetUserID returns the authenticated user ID from the context (set by Auth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetClaims returns the capability claims from the context (set by Auth).
func GetClaims(ctx context.Context) *token.Claims {
	v, _ := ctx.Value(ClaimsKey).(*token.Claims)
	return v
}
