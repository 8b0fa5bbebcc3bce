// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/supabase"
)

// AuthHandler handles dietitian accounts, delegating credentials to the auth provider
type AuthHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	provider AuthProvider
}

func NewAuthHandler(db *sql.DB, cfg cliparse.Config, provider AuthProvider) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, provider: provider}
}

// SignUp handles POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	email, ok := validEmail(req.Email)
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid email is required")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "full_name is required")
		return
	}
	practice := strings.TrimSpace(req.PracticeName)

	user, session, err := h.provider.SignUp(r.Context(), email, req.Password, map[string]any{
		"full_name":     fullName,
		"practice_name": practice,
	})
	if err != nil {
		writeProviderError(w, "sign up", err, http.StatusBadRequest)
		return
	}

	dietitian, err := createDietitian(r.Context(), h.db, user.ID, email, fullName, practice)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "An account with this email already exists")
		return
	}
	if err != nil {
		serverError(w, "Failed to create account", err, "user_id", user.ID)
		return
	}

	slog.Info("dietitian signed up", "dietitian_id", dietitian.ID)

	resp := models.AuthSessionResponse{Dietitian: dietitian}
	if session != nil {
		h.writeSession(w, &resp, session)
	} else {
		resp.ConfirmationRequired = true
	}
	middleware.JSONResponse(w, http.StatusCreated, resp)
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := h.provider.SignInWithPassword(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		writeProviderError(w, "login", err, http.StatusUnauthorized)
		return
	}
	if session.User == nil {
		serverError(w, "Login failed", errors.New("session without user"))
		return
	}

	dietitian, err := h.ensureDietitian(r.Context(), session.User)
	if err != nil {
		serverError(w, "Failed to load account", err, "user_id", session.User.ID)
		return
	}

	resp := models.AuthSessionResponse{Dietitian: dietitian}
	h.writeSession(w, &resp, session)
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.RefreshToken == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	session, err := h.provider.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		writeProviderError(w, "refresh", err, http.StatusUnauthorized)
		return
	}

	var resp models.AuthSessionResponse
	h.writeSession(w, &resp, session)
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.RequestToken(r, auth.DietitianCookieName); token != "" {
		if err := h.provider.SignOut(r.Context(), token); err != nil {
			// The cookie is cleared regardless; an expired token can't sign out
			slog.Warn("provider sign out failed", "error", err)
		}
	}
	setCookie(w, auth.DietitianCookieName, "", time.Time{}, secureCookies(h.cfg))
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Logged out"})
}

// ResetPassword handles POST /api/auth/reset-password
// Always answers 200 so the endpoint can't be used to probe for accounts
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email, ok := validEmail(req.Email)
	if !ok {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	if err := h.provider.RecoverPassword(r.Context(), email, h.cfg.AppURL+"/reset-password"); err != nil {
		slog.Warn("password recovery failed", "error", err)
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{
		Message: "If an account exists for this email, a reset link has been sent",
	})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, resp *models.AuthSessionResponse, s *supabase.Session) {
	resp.AccessToken = s.AccessToken
	resp.RefreshToken = s.RefreshToken
	resp.ExpiresIn = s.ExpiresIn
	expires := time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	setCookie(w, auth.DietitianCookieName, s.AccessToken, expires, secureCookies(h.cfg))
}

// ensureDietitian loads the dietitian row for a provider user, creating it
// for accounts that confirmed their email after signing up
func (h *AuthHandler) ensureDietitian(ctx context.Context, user *supabase.User) (*models.Dietitian, error) {
	d, err := scanDietitian(h.db.QueryRowContext(ctx,
		`SELECT `+dietitianColumns+` FROM dietitians WHERE id = $1`, user.ID))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	fullName, _ := user.UserMetadata["full_name"].(string)
	practice, _ := user.UserMetadata["practice_name"].(string)
	if fullName == "" {
		fullName = user.Email
	}
	return createDietitian(ctx, h.db, user.ID, strings.ToLower(user.Email), fullName, practice)
}

// writeProviderError maps auth provider failures; rejected credentials get rejectStatus
func writeProviderError(w http.ResponseWriter, op string, err error, rejectStatus int) {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			middleware.ErrorResponse(w, http.StatusTooManyRequests, "Too many attempts, please try again later")
			return
		case apiErr.Status < 500:
			msg := apiErr.Message
			if rejectStatus == http.StatusUnauthorized {
				msg = "Invalid email or password"
				if op == "refresh" {
					msg = "Invalid or expired refresh token"
				}
			}
			middleware.ErrorResponse(w, rejectStatus, msg)
			return
		}
	}
	slog.Error("auth provider error", "op", op, "error", err)
	middleware.ErrorResponse(w, http.StatusBadGateway, "Authentication provider unavailable")
}

func secureCookies(cfg cliparse.Config) bool {
	return strings.HasPrefix(cfg.AppURL, "https://")
}
