// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ClientTokenIssuer   = "nutriflow"
	ClientTokenAudience = "client-portal"
)

var (
	ErrMissingToken   = errors.New("authorization token required")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrSessionRevoked = errors.New("session expired or revoked")
	ErrPortalDisabled = errors.New("portal access disabled")
)

// ClientClaims are the claims of a client portal token.
// The registered ID (jti) is the client_sessions row id.
type ClientClaims struct {
	ClientID    string `json:"client_id"`
	DietitianID string `json:"dietitian_id"`
	jwt.RegisteredClaims
}

// ClientTokenManager issues and verifies client portal tokens.
type ClientTokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewClientTokenManager creates a manager signing with HS256.
func NewClientTokenManager(secret string, ttl time.Duration) *ClientTokenManager {
	return &ClientTokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL is how long issued tokens stay valid
func (m *ClientTokenManager) TTL() time.Duration {
	return m.ttl
}

// CreateClientToken signs a token for one portal session.
func (m *ClientTokenManager) CreateClientToken(clientID, dietitianID, sessionID string) (string, time.Time, error) {
	if clientID == "" || dietitianID == "" || sessionID == "" {
		return "", time.Time{}, errors.New("client, dietitian and session ids are required")
	}

	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := &ClientClaims{
		ClientID:    clientID,
		DietitianID: dietitianID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   clientID,
			Issuer:    ClientTokenIssuer,
			Audience:  jwt.ClaimStrings{ClientTokenAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt.Truncate(time.Second), nil
}

// ParseClientToken verifies signature, issuer, audience and expiry.
func (m *ClientTokenManager) ParseClientToken(tokenString string) (*ClientClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &ClientClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ClientTokenIssuer),
		jwt.WithAudience(ClientTokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ClientID == "" || claims.DietitianID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Subject != claims.ClientID {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
