// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cookie names for the two kinds of session
const (
	ClientCookieName    = "nutriflow_client_token"
	DietitianCookieName = "sb-access-token"
)

// ClientAuth identifies an authenticated portal client
type ClientAuth struct {
	ClientID    string
	DietitianID string
	SessionID   string
}

// ClientAuthenticator ties client tokens to rows in client_sessions so that
// logout and portal revocation take effect before the token expires.
type ClientAuthenticator struct {
	tokens *ClientTokenManager
	db     *sql.DB
	now    func() time.Time
}

func NewClientAuthenticator(db *sql.DB, tokens *ClientTokenManager) *ClientAuthenticator {
	return &ClientAuthenticator{tokens: tokens, db: db, now: time.Now}
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequestToken returns the bearer token, falling back to the named cookie
func RequestToken(r *http.Request, cookieName string) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// ValidateClientAuth authenticates a portal request.
// The token must verify, its session must be live, and the client must
// still have portal access.
func (a *ClientAuthenticator) ValidateClientAuth(r *http.Request) (*ClientAuth, error) {
	token := RequestToken(r, ClientCookieName)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.tokens.ParseClientToken(token)
	if err != nil {
		return nil, err
	}

	var (
		clientID      string
		expiresAt     time.Time
		revokedAt     sql.NullTime
		portalEnabled bool
		status        string
	)
	err = a.db.QueryRowContext(r.Context(), `
		SELECT s.client_id, s.expires_at, s.revoked_at, c.portal_enabled, c.status
		FROM client_sessions s
		JOIN clients c ON c.id = s.client_id
		WHERE s.id = $1 AND s.dietitian_id = $2
	`, claims.ID, claims.DietitianID).Scan(&clientID, &expiresAt, &revokedAt, &portalEnabled, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client session: %w", err)
	}

	if clientID != claims.ClientID || revokedAt.Valid || !a.now().Before(expiresAt) {
		return nil, ErrSessionRevoked
	}
	if !portalEnabled || status == "archived" {
		return nil, ErrPortalDisabled
	}

	return &ClientAuth{
		ClientID:    claims.ClientID,
		DietitianID: claims.DietitianID,
		SessionID:   claims.ID,
	}, nil
}

// StartSession records a new portal session and issues its token
func (a *ClientAuthenticator) StartSession(ctx context.Context, clientID, dietitianID, ipHash, userAgent string) (string, time.Time, error) {
	sessionID := NewID()
	token, expiresAt, err := a.tokens.CreateClientToken(clientID, dietitianID, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}

	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO client_sessions (id, client_id, dietitian_id, ip_hash, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sessionID, clientID, dietitianID, ipHash, userAgent, a.now(), expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create client session: %w", err)
	}

	return token, expiresAt, nil
}

// RevokeSession ends one session
func (a *ClientAuthenticator) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE client_sessions SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`, a.now(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeClientSessions ends every session of a client except keepSessionID (may be empty)
func (a *ClientAuthenticator) RevokeClientSessions(ctx context.Context, clientID, keepSessionID string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE client_sessions SET revoked_at = $1
		WHERE client_id = $2 AND revoked_at IS NULL AND id::text <> $3
	`, a.now(), clientID, keepSessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke client sessions: %w", err)
	}
	return nil
}
