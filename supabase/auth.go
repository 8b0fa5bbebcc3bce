// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// User is a Supabase auth user.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	Aud          string         `json:"aud"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the token set returned by sign-in and refresh.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         *User  `json:"user"`
}

// SignUp registers a user. With email confirmation enabled Supabase returns
// only the user, so the session may be nil.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*User, *Session, error) {
	body, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		apiKey: c.anonKey,
		jsonBody: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	if gjson.GetBytes(body, "access_token").Exists() {
		var session Session
		if err := json.Unmarshal(body, &session); err != nil {
			return nil, nil, fmt.Errorf("failed to decode session: %w", err)
		}
		if session.User == nil || session.User.ID == "" {
			return nil, nil, errors.New("supabase session without user")
		}
		return session.User, &session, nil
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == "" {
		return nil, nil, errors.New("supabase returned no user id")
	}
	return &user, nil, nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.tokenGrant(ctx, "password", map[string]any{"email": email, "password": password})
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.tokenGrant(ctx, "refresh_token", map[string]any{"refresh_token": refreshToken})
}

func (c *Client) tokenGrant(ctx context.Context, grant string, payload map[string]any) (*Session, error) {
	body, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/auth/v1/token?grant_type=" + url.QueryEscape(grant),
		apiKey:   c.anonKey,
		jsonBody: payload,
	})
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if session.AccessToken == "" {
		return nil, errors.New("supabase returned no access token")
	}
	return &session, nil
}

// SignOut revokes the refresh tokens of the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		apiKey: c.anonKey,
		bearer: accessToken,
	})
	return err
}

// RecoverPassword sends a password reset email.
func (c *Client) RecoverPassword(ctx context.Context, email, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	_, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     path,
		apiKey:   c.anonKey,
		jsonBody: map[string]any{"email": email},
	})
	return err
}

// GetUser returns the user an access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	body, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		apiKey: c.anonKey,
		bearer: accessToken,
	})
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.ID == "" {
		return nil, errors.New("supabase returned no user id")
	}
	return &user, nil
}
