// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/danielhkuo/nutriflow/models"
)

func TestWithLogging_PreservesResponse(t *testing.T) {
	// Test that logging doesn't interfere with various response codes
	testCases := []struct {
		name       string
		statusCode int
		body       string
	}{
		{"OK", http.StatusOK, "ok"},
		{"Created", http.StatusCreated, `{"id":"123"}`},
		{"BadRequest", http.StatusBadRequest, `{"error":"bad request"}`},
		{"NotFound", http.StatusNotFound, "not found"},
		{"InternalError", http.StatusInternalServerError, "error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := WithLogging(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				w.Write([]byte(tc.body))
			})

			req := httptest.NewRequest("POST", "/api/test", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}
			if w.Body.String() != tc.body {
				t.Errorf("Expected body '%s', got '%s'", tc.body, w.Body.String())
			}
		})
	}
}

func TestJSONResponse(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		data       interface{}
		expected   string
	}{
		{
			name:       "simple struct",
			statusCode: http.StatusOK,
			data:       models.MessageResponse{Message: "hello"},
			expected:   `{"message":"hello"}`,
		},
		{
			name:       "created response",
			statusCode: http.StatusCreated,
			data:       models.URLResponse{URL: "https://checkout.stripe.com/c/pay/cs_test"},
			expected:   `{"url":"https://checkout.stripe.com/c/pay/cs_test"}`,
		},
		{
			name:       "array data",
			statusCode: http.StatusOK,
			data:       []string{"a", "b", "c"},
			expected:   `["a","b","c"]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			JSONResponse(w, tc.statusCode, tc.data)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
			}
			// Trim newline added by Encode
			body := strings.TrimSpace(w.Body.String())
			if body != tc.expected {
				t.Errorf("Expected body '%s', got '%s'", tc.expected, body)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		message    string
	}{
		{"bad request", http.StatusBadRequest, "first_name is required"},
		{"unauthorized", http.StatusUnauthorized, "Invalid email or password"},
		{"payment required", http.StatusPaymentRequired, "No AI credits remaining"},
		{"too large", http.StatusRequestEntityTooLarge, "File exceeds 10 MB"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			ErrorResponse(w, tc.statusCode, tc.message)

			if w.Code != tc.statusCode {
				t.Errorf("Expected status %d, got %d", tc.statusCode, w.Code)
			}

			// The body carries exactly one field
			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if len(resp) != 1 || resp["error"] != tc.message {
				t.Errorf("Expected {error: %q}, got %v", tc.message, resp)
			}
		})
	}
}

func TestParseJSONBody(t *testing.T) {
	t.Run("valid JSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"email":"a@b.c","password":"secret123"}`))

		var parsed models.ClientLoginRequest
		if err := ParseJSONBody(req, &parsed); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if parsed.Email != "a@b.c" || parsed.Password != "secret123" {
			t.Errorf("Unexpected parse result: %+v", parsed)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{invalid json}`))

		var parsed models.ClientLoginRequest
		if err := ParseJSONBody(req, &parsed); err == nil {
			t.Error("Expected error for invalid JSON")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(""))

		var parsed models.ClientLoginRequest
		if err := ParseJSONBody(req, &parsed); !errors.Is(err, ErrEmptyBody) {
			t.Errorf("Expected ErrEmptyBody, got %v", err)
		}
	})

	t.Run("oversized body", func(t *testing.T) {
		big := `{"email":"` + strings.Repeat("a", MaxJSONBody) + `"}`
		req := httptest.NewRequest("POST", "/", strings.NewReader(big))

		var parsed models.ClientLoginRequest
		if err := ParseJSONBody(req, &parsed); err == nil {
			t.Error("Expected error for oversized body")
		}
	})

	t.Run("body is consumed after parsing", func(t *testing.T) {
		bodyReader := io.NopCloser(bytes.NewReader([]byte(`{"email":"a@b.c"}`)))
		req := httptest.NewRequest("POST", "/", bodyReader)

		var parsed models.ClientLoginRequest
		_ = ParseJSONBody(req, &parsed)

		remaining, _ := io.ReadAll(req.Body)
		if len(remaining) > 0 {
			t.Error("Expected body to be consumed")
		}
	})
}

func TestCORS(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("handled"))
	})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		h := CORS([]string{"https://app.nutriflow.io"})(nextHandler)
		req := httptest.NewRequest("OPTIONS", "/api/clients", nil)
		req.Header.Set("Origin", "https://app.nutriflow.io")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("Expected status 204, got %d", w.Code)
		}
		if w.Body.String() != "" {
			t.Errorf("Expected empty body for preflight, got '%s'", w.Body.String())
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "https://app.nutriflow.io" {
			t.Error("Expected Access-Control-Allow-Origin to match request origin")
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("Expected Access-Control-Allow-Credentials to be 'true'")
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PATCH") {
			t.Error("Expected PATCH in allowed methods")
		}
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		h := CORS([]string{"https://app.nutriflow.io"})(nextHandler)
		req := httptest.NewRequest("GET", "/api/clients", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		if w.Body.String() != "handled" {
			t.Error("Expected next handler to be called")
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("Expected no Access-Control-Allow-Origin for unknown origin")
		}
	})

	t.Run("no configured origins allows none", func(t *testing.T) {
		h := CORS(nil)(nextHandler)
		req := httptest.NewRequest("GET", "/api/clients", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("Expected no origin to be echoed")
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Error("Expected no credentials header")
		}
	})
}

func TestProxyTrust_ClientIP(t *testing.T) {
	proxies := NewProxyTrust([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	})

	testCases := []struct {
		name       string
		trust      *ProxyTrust
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{"remote addr with port", proxies, "192.168.1.1:12345", nil, "192.168.1.1"},
		{"ipv6 remote addr", proxies, "[::1]:8080", nil, "::1"},
		{"remote addr without port", proxies, "10.0.0.1", nil, "10.0.0.1"},
		{
			"untrusted peer ignores forwarded-for", proxies, "203.0.113.7:5555",
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.7",
		},
		{
			"untrusted peer ignores real-ip", proxies, "203.0.113.7:5555",
			map[string]string{"X-Real-IP": "198.51.100.1"}, "203.0.113.7",
		},
		{
			"no trusted proxies ignores headers", NewProxyTrust(nil), "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "10.0.0.1",
		},
		{
			"nil trust ignores headers", nil, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "198.51.100.1"}, "10.0.0.1",
		},
		{
			"single hop behind proxy", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50"}, "203.0.113.50",
		},
		{
			"right-most untrusted hop wins", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.50, 10.0.0.2"}, "203.0.113.50",
		},
		{
			"spoofed left hops are skipped", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "not-an-ip, 203.0.113.50"}, "203.0.113.50",
		},
		{
			"garbage from a trusted hop stops the walk", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50, garbage, 10.0.0.2"}, "10.0.0.2",
		},
		{
			"all hops trusted returns left-most", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "10.0.0.3, 10.0.0.2"}, "10.0.0.3",
		},
		{
			"real-ip behind proxy", proxies, "10.0.0.1:1",
			map[string]string{"X-Real-IP": "203.0.113.75"}, "203.0.113.75",
		},
		{
			"forwarded-for wins over real-ip", proxies, "10.0.0.1:1",
			map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "203.0.113.75"},
			"203.0.113.50",
		},
		{
			"ipv6 proxy", proxies, "[fd00::1]:443",
			map[string]string{"X-Forwarded-For": "2001:db8::5"}, "2001:db8::5",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			if ip := tc.trust.ClientIP(req); ip != tc.expected {
				t.Errorf("Expected IP '%s', got '%s'", tc.expected, ip)
			}
		})
	}
}

func TestGetClientIP(t *testing.T) {
	t.Run("without RealIP uses socket address", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", "198.51.100.1")
		req.Header.Set("X-Real-IP", "198.51.100.2")

		if ip := GetClientIP(req); ip != "203.0.113.7" {
			t.Errorf("Expected socket address, got '%s'", ip)
		}
	})

	t.Run("RealIP stores resolved address", func(t *testing.T) {
		var got string
		h := RealIP(NewProxyTrust([]netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}))(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetClientIP(r)
			}))

		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.50")
		h.ServeHTTP(httptest.NewRecorder(), req)

		if got != "203.0.113.50" {
			t.Errorf("Expected '203.0.113.50', got '%s'", got)
		}
	})
}
