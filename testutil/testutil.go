// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package testutil

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

// Fixed ids so expectations can name them
const (
	DietitianID      = "11111111-1111-4111-8111-111111111111"
	OtherDietitianID = "22222222-2222-4222-8222-222222222222"
	ClientID         = "33333333-3333-4333-8333-333333333333"
	SessionID        = "44444444-4444-4444-8444-444444444444"
	ResourceID       = "55555555-5555-4555-8555-555555555555"
)

// TestSecret is long enough for the client token secret check
const TestSecret = "test-client-secret-0123456789abcdef"

// NewMockDB returns a sqlmock database that fails the test on unmet expectations
func NewMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet database expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// GetTestConfig returns a standard test configuration
func GetTestConfig() cliparse.Config {
	return cliparse.Config{
		Port:                3318,
		DatabaseURL:         "postgres://test",
		LogLevel:            "error",
		AppURL:              "https://app.example.com",
		AllowedOrigins:      []string{"https://app.example.com"},
		SupabaseURL:         "https://project.supabase.co",
		SupabaseAnonKey:     "anon",
		StorageBucket:       "client-documents",
		ClientJWTSecret:     TestSecret,
		ClientTokenTTL:      7 * 24 * time.Hour,
		LoginRateLimit:      5,
		LoginRateWindow:     15 * time.Minute,
		StripeWebhookSecret: "whsec_test",
		OpenAIModel:         "gpt-4o-mini",
		GDPRGracePeriod:     30 * 24 * time.Hour,
	}
}

// MakeRequest creates an HTTP test request
func MakeRequest(method, path string, body interface{}, headers map[string]string) *http.Request {
	var req *http.Request
	switch b := body.(type) {
	case nil:
		req = httptest.NewRequest(method, path, nil)
	case string:
		req = httptest.NewRequest(method, path, strings.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	default:
		jsonBody, _ := json.Marshal(b)
		req = httptest.NewRequest(method, path, bytes.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req
}

// AsDietitian attaches an authenticated dietitian to the request
func AsDietitian(r *http.Request, id string) *http.Request {
	return r.WithContext(middleware.WithDietitian(r.Context(), &auth.DietitianIdentity{
		ID:    id,
		Email: "dietitian@example.com",
		Role:  "authenticated",
	}))
}

// AsClient attaches an authenticated portal client to the request
func AsClient(r *http.Request, clientID, dietitianID string) *http.Request {
	return r.WithContext(middleware.WithClient(r.Context(), &auth.ClientAuth{
		ClientID:    clientID,
		DietitianID: dietitianID,
		SessionID:   SessionID,
	}))
}

// AssertStatus checks that the response has the expected status code
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Errorf("Expected status %d, got %d. Body: %s", expected, w.Code, w.Body.String())
	}
}

// AssertJSON decodes the response body into the provided struct
func AssertJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}
}

// AssertError checks the status code and that the error message contains want
func AssertError(t *testing.T, w *httptest.ResponseRecorder, status int, want string) {
	t.Helper()
	AssertStatus(t, w, status)
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if !strings.Contains(resp.Error, want) {
		t.Errorf("Expected error containing %q, got %q", want, resp.Error)
	}
}
