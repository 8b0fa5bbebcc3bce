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
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/lib/pq"
)

// ClientAuthHandler handles the client portal's own email and password accounts
type ClientAuthHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	sessions SessionStore
}

func NewClientAuthHandler(db *sql.DB, cfg cliparse.Config, sessions SessionStore) *ClientAuthHandler {
	return &ClientAuthHandler{db: db, cfg: cfg, sessions: sessions}
}

type loginCandidate struct {
	clientID     string
	dietitianID  string
	passwordHash sql.NullString
}

// Login handles POST /api/client-auth/login
// The same email can belong to clients of different dietitians; such logins
// must name the dietitian.
func (h *ClientAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.ClientLoginRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if req.DietitianID != "" && !auth.IsValidID(req.DietitianID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid dietitian_id")
		return
	}

	q := newQuery(`
		SELECT id, dietitian_id, password_hash FROM clients
		WHERE LOWER(email) = $1 AND portal_enabled AND status <> 'archived'
		  AND password_hash IS NOT NULL`, email)
	if req.DietitianID != "" {
		q.where("dietitian_id = ?", req.DietitianID)
	}
	q.then("LIMIT 2")

	rows, err := h.db.QueryContext(r.Context(), q.String(), q.args...)
	if err != nil {
		serverError(w, "Login failed", err)
		return
	}
	var matches []loginCandidate
	for rows.Next() {
		var c loginCandidate
		if err := rows.Scan(&c.clientID, &c.dietitianID, &c.passwordHash); err != nil {
			rows.Close()
			serverError(w, "Login failed", err)
			return
		}
		matches = append(matches, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		serverError(w, "Login failed", err)
		return
	}

	switch len(matches) {
	case 0:
		auth.CheckPassword("", req.Password)
		middleware.ClientLogins.WithLabelValues("invalid").Inc()
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case 1:
	default:
		middleware.ClientLogins.WithLabelValues("ambiguous").Inc()
		middleware.ErrorResponse(w, http.StatusBadRequest, "This email is registered with several practices; dietitian_id is required")
		return
	}

	c := matches[0]
	if !auth.CheckPassword(c.passwordHash.String, req.Password) {
		middleware.ClientLogins.WithLabelValues("invalid").Inc()
		slog.Warn("client login rejected", "client_id", c.clientID)
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if _, err := h.db.ExecContext(r.Context(),
		`UPDATE clients SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), c.clientID); err != nil {
		serverError(w, "Login failed", err, "client_id", c.clientID)
		return
	}

	resp, err := h.startSession(w, r, c.clientID, c.dietitianID)
	if err != nil {
		serverError(w, "Login failed", err, "client_id", c.clientID)
		return
	}

	middleware.ClientLogins.WithLabelValues("success").Inc()
	slog.Info("client logged in", "client_id", c.clientID, "dietitian_id", c.dietitianID)
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// AcceptInvite handles POST /api/client-auth/accept-invite
// The invite token is single use; the client picks a password and is logged in.
func (h *ClientAuthHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req models.AcceptInviteRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Token == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "token is required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		serverError(w, "Failed to accept invite", err)
		return
	}

	var clientID, dietitianID string
	err = h.db.QueryRowContext(r.Context(), `
		UPDATE clients SET password_hash = $1, invite_token_hash = NULL, invite_expires_at = NULL,
			portal_enabled = TRUE, updated_at = $2
		WHERE invite_token_hash = $3 AND invite_expires_at > $2 AND status <> 'archived'
		RETURNING id, dietitian_id
	`, hash, time.Now().UTC(), auth.HashToken(req.Token)).Scan(&clientID, &dietitianID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Invalid or expired invite")
		return
	}
	if err != nil {
		serverError(w, "Failed to accept invite", err)
		return
	}

	resp, err := h.startSession(w, r, clientID, dietitianID)
	if err != nil {
		serverError(w, "Failed to accept invite", err, "client_id", clientID)
		return
	}

	slog.Info("portal invite accepted", "client_id", clientID)
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Logout handles POST /api/client-auth/logout
func (h *ClientAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	if err := h.sessions.RevokeSession(r.Context(), c.SessionID); err != nil {
		serverError(w, "Logout failed", err, "client_id", c.ClientID)
		return
	}
	setCookie(w, auth.ClientCookieName, "", time.Time{}, secureCookies(h.cfg))
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Logged out"})
}

// Me handles GET /api/client-auth/me
func (h *ClientAuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	profile, err := loadClientProfile(r.Context(), h.db, c.ClientID, c.DietitianID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load profile", err, "client_id", c.ClientID)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, profile)
}

// ChangePassword handles POST /api/client-auth/change-password
// Other sessions are signed out; the current one stays valid.
func (h *ClientAuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	c := portalClient(r)

	var current sql.NullString
	err := h.db.QueryRowContext(r.Context(),
		`SELECT password_hash FROM clients WHERE id = $1 AND dietitian_id = $2`,
		c.ClientID, c.DietitianID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to change password", err, "client_id", c.ClientID)
		return
	}
	if !auth.CheckPassword(current.String, req.CurrentPassword) {
		middleware.ErrorResponse(w, http.StatusUnauthorized, "Current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			middleware.ErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		serverError(w, "Failed to change password", err)
		return
	}

	if _, err := h.db.ExecContext(r.Context(),
		`UPDATE clients SET password_hash = $1, updated_at = $2 WHERE id = $3 AND dietitian_id = $4`,
		hash, time.Now().UTC(), c.ClientID, c.DietitianID); err != nil {
		serverError(w, "Failed to change password", err, "client_id", c.ClientID)
		return
	}

	if err := h.sessions.RevokeClientSessions(r.Context(), c.ClientID, c.SessionID); err != nil {
		serverError(w, "Failed to revoke other sessions", err, "client_id", c.ClientID)
		return
	}

	slog.Info("client password changed", "client_id", c.ClientID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Password changed"})
}

// startSession issues a token, sets the portal cookie and builds the login response
func (h *ClientAuthHandler) startSession(w http.ResponseWriter, r *http.Request, clientID, dietitianID string) (*models.ClientLoginResponse, error) {
	ipHash := auth.HashIP(middleware.GetClientIP(r), h.cfg.ClientJWTSecret)
	token, expiresAt, err := h.sessions.StartSession(r.Context(), clientID, dietitianID, ipHash, r.UserAgent())
	if err != nil {
		return nil, err
	}

	profile, err := loadClientProfile(r.Context(), h.db, clientID, dietitianID)
	if err != nil {
		return nil, err
	}

	setCookie(w, auth.ClientCookieName, token, expiresAt, secureCookies(h.cfg))
	return &models.ClientLoginResponse{Token: token, ExpiresAt: expiresAt, Client: *profile}, nil
}

// loadClientProfile returns what a client may see about themselves
func loadClientProfile(ctx context.Context, db *sql.DB, clientID, dietitianID string) (*models.ClientProfile, error) {
	var p models.ClientProfile
	err := db.QueryRowContext(ctx, `
		SELECT c.id, c.dietitian_id, d.full_name, d.practice_name, c.first_name, c.last_name, c.email,
			c.goals, c.allergies, c.dietary_restrictions
		FROM clients c
		JOIN dietitians d ON d.id = c.dietitian_id
		WHERE c.id = $1 AND c.dietitian_id = $2
	`, clientID, dietitianID).Scan(&p.ID, &p.DietitianID, &p.DietitianName, &p.PracticeName,
		&p.FirstName, &p.LastName, &p.Email, &p.Goals,
		pq.Array(&p.Allergies), pq.Array(&p.DietaryRestrictions))
	if err != nil {
		return nil, err
	}
	if p.Allergies == nil {
		p.Allergies = []string{}
	}
	if p.DietaryRestrictions == nil {
		p.DietaryRestrictions = []string{}
	}
	return &p, nil
}
