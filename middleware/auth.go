// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielhkuo/nutriflow/auth"
)

type contextKey int

const (
	dietitianKey contextKey = iota
	clientKey
	clientIPKey
)

// DietitianVerifier checks a dietitian access token
type DietitianVerifier interface {
	Verify(ctx context.Context, token string) (*auth.DietitianIdentity, error)
}

// ClientValidator authenticates a portal request
type ClientValidator interface {
	ValidateClientAuth(r *http.Request) (*auth.ClientAuth, error)
}

// WithDietitian stores the dietitian identity in ctx
func WithDietitian(ctx context.Context, id *auth.DietitianIdentity) context.Context {
	return context.WithValue(ctx, dietitianKey, id)
}

// DietitianFromContext returns the identity set by RequireDietitian
func DietitianFromContext(ctx context.Context) (*auth.DietitianIdentity, bool) {
	id, ok := ctx.Value(dietitianKey).(*auth.DietitianIdentity)
	return id, ok && id != nil
}

// WithClient stores the portal client in ctx
func WithClient(ctx context.Context, c *auth.ClientAuth) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFromContext returns the client set by RequireClient
func ClientFromContext(ctx context.Context) (*auth.ClientAuth, bool) {
	c, ok := ctx.Value(clientKey).(*auth.ClientAuth)
	return c, ok && c != nil
}

// RequireDietitian rejects requests without a valid Supabase session
func RequireDietitian(v DietitianVerifier) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := auth.RequestToken(r, auth.DietitianCookieName)
			identity, err := v.Verify(r.Context(), token)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next(w, r.WithContext(WithDietitian(r.Context(), identity)))
		}
	}
}

// RequireClient rejects portal requests without a live client session
func RequireClient(v ClientValidator) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			client, err := v.ValidateClientAuth(r)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next(w, r.WithContext(WithClient(r.Context(), client)))
		}
	}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		ErrorResponse(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, auth.ErrInvalidToken):
		ErrorResponse(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, auth.ErrSessionRevoked):
		ErrorResponse(w, http.StatusUnauthorized, "Session expired or revoked")
	case errors.Is(err, auth.ErrPortalDisabled):
		ErrorResponse(w, http.StatusForbidden, "Portal access is disabled")
	default:
		slog.Error("authentication failed", "path", r.URL.Path, "error", err)
		ErrorResponse(w, http.StatusServiceUnavailable, "Authentication unavailable")
	}
}
