// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"context"
	"database/sql/driver"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionColumns = []string{"client_id", "expires_at", "revoked_at", "portal_enabled", "status"}

func newTestAuthenticator(t *testing.T) (*ClientAuthenticator, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewClientTokenManager(testSecret, time.Hour)
	tokens.now = fixedClock(now)

	a := NewClientAuthenticator(db, tokens)
	a.now = fixedClock(now)
	return a, mock, now
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(r), "header %q", tt.header)
	}
}

func TestRequestToken_CookieFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: ClientCookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", RequestToken(r, ClientCookieName))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", RequestToken(r, ClientCookieName))
}

func TestValidateClientAuth(t *testing.T) {
	a, mock, now := newTestAuthenticator(t)

	token, _, err := a.tokens.CreateClientToken("client-1", "diet-1", "session-1")
	require.NoError(t, err)

	tests := []struct {
		name    string
		row     []driver.Value
		wantErr error
	}{
		{"live session", []driver.Value{"client-1", now.Add(time.Hour), nil, true, "active"}, nil},
		{"revoked", []driver.Value{"client-1", now.Add(time.Hour), now.Add(-time.Minute), true, "active"}, ErrSessionRevoked},
		{"session expired", []driver.Value{"client-1", now, nil, true, "active"}, ErrSessionRevoked},
		{"portal disabled", []driver.Value{"client-1", now.Add(time.Hour), nil, false, "active"}, ErrPortalDisabled},
		{"archived", []driver.Value{"client-1", now.Add(time.Hour), nil, true, "archived"}, ErrPortalDisabled},
		{"other client", []driver.Value{"client-2", now.Add(time.Hour), nil, true, "active"}, ErrSessionRevoked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectQuery("FROM client_sessions s").
				WithArgs("session-1", "diet-1").
				WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(tt.row...))

			r := httptest.NewRequest(http.MethodGet, "/api/portal/meal-plans", nil)
			r.Header.Set("Authorization", "Bearer "+token)

			got, err := a.ValidateClientAuth(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, &ClientAuth{ClientID: "client-1", DietitianID: "diet-1", SessionID: "session-1"}, got)
		})
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateClientAuth_NoSession(t *testing.T) {
	a, mock, _ := newTestAuthenticator(t)
	token, _, err := a.tokens.CreateClientToken("client-1", "diet-1", "session-1")
	require.NoError(t, err)

	mock.ExpectQuery("FROM client_sessions s").
		WithArgs("session-1", "diet-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: ClientCookieName, Value: token})

	_, err = a.ValidateClientAuth(r)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateClientAuth_BadToken(t *testing.T) {
	a, mock, _ := newTestAuthenticator(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.ValidateClientAuth(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Bearer nope")
	_, err = a.ValidateClientAuth(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// No DB lookups for tokens that fail verification
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSession(t *testing.T) {
	a, mock, now := newTestAuthenticator(t)
	longUA := strings.Repeat("x", 300)

	mock.ExpectExec("INSERT INTO client_sessions").
		WithArgs(sqlmock.AnyArg(), "client-1", "diet-1", "iphash", strings.Repeat("x", 255), now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, expiresAt, err := a.StartSession(context.Background(), "client-1", "diet-1", "iphash", longUA)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expiresAt)

	claims, err := a.tokens.ParseClientToken(token)
	require.NoError(t, err)
	assert.True(t, IsValidID(claims.ID), "session id should be a UUID")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeSessions(t *testing.T) {
	a, mock, now := newTestAuthenticator(t)

	mock.ExpectExec("UPDATE client_sessions SET revoked_at").
		WithArgs(now, "session-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, a.RevokeSession(context.Background(), "session-1"))

	mock.ExpectExec("UPDATE client_sessions SET revoked_at").
		WithArgs(now, "client-1", "").
		WillReturnResult(sqlmock.NewResult(0, 3))
	require.NoError(t, a.RevokeClientSessions(context.Background(), "client-1", ""))

	assert.NoError(t, mock.ExpectationsWereMet())
}
