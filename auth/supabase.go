// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielhkuo/nutriflow/supabase"
	"github.com/golang-jwt/jwt/v5"
)

// SupabaseAudience is the aud claim of signed-in Supabase users
const SupabaseAudience = "authenticated"

// DietitianIdentity is the Supabase user behind a dietitian request
type DietitianIdentity struct {
	ID    string
	Email string
	Role  string
}

// UserLookup resolves an access token remotely. *supabase.Client satisfies it.
type UserLookup interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SupabaseVerifier checks dietitian access tokens. Tokens are verified
// locally with the project JWT secret when one is configured; otherwise,
// or when the token was signed with a key we do not hold, Supabase is asked.
type SupabaseVerifier struct {
	secret []byte
	remote UserLookup
}

func NewSupabaseVerifier(jwtSecret string, remote UserLookup) *SupabaseVerifier {
	v := &SupabaseVerifier{remote: remote}
	if jwtSecret != "" {
		v.secret = []byte(jwtSecret)
	}
	return v
}

// Verify returns the identity of a valid access token.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*DietitianIdentity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	if v.secret != nil {
		identity, err := v.verifyLocal(token)
		if err == nil {
			return identity, nil
		}
		// Asymmetric signing keys can't be checked locally
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) && !errors.Is(err, jwt.ErrTokenUnverifiable) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	if v.remote == nil {
		return nil, ErrInvalidToken
	}
	user, err := v.remote.GetUser(ctx, token)
	if err != nil {
		var apiErr *supabase.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	return &DietitianIdentity{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

func (v *SupabaseVerifier) verifyLocal(token string) (*DietitianIdentity, error) {
	claims := &supabaseClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(SupabaseAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return &DietitianIdentity{ID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
