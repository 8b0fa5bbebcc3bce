// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/lib/pq"
)

// InviteTTL is how long a portal invite link stays valid
const InviteTTL = 7 * 24 * time.Hour

const clientColumns = `id, dietitian_id, first_name, last_name, email, phone, date_of_birth, gender,
	height_cm, weight_kg, goals, allergies, dietary_restrictions, medical_notes, status,
	portal_enabled, last_login_at, created_at, updated_at`

func scanClient(s scanner) (*models.Client, error) {
	var c models.Client
	err := s.Scan(&c.ID, &c.DietitianID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&c.DateOfBirth, &c.Gender, &c.HeightCM, &c.WeightKG, &c.Goals,
		pq.Array(&c.Allergies), pq.Array(&c.DietaryRestrictions), &c.MedicalNotes, &c.Status,
		&c.PortalEnabled, &c.LastLoginAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Allergies == nil {
		c.Allergies = []string{}
	}
	if c.DietaryRestrictions == nil {
		c.DietaryRestrictions = []string{}
	}
	return &c, nil
}

type ClientHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	catalog  *billing.Catalog
	sessions SessionStore
}

func NewClientHandler(db *sql.DB, cfg cliparse.Config, catalog *billing.Catalog, sessions SessionStore) *ClientHandler {
	return &ClientHandler{db: db, cfg: cfg, catalog: catalog, sessions: sessions}
}

// ListClients handles GET /api/clients?status=&search=
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT `+clientColumns+` FROM clients WHERE dietitian_id = $1`, dietitianID(r))

	status := r.URL.Query().Get("status")
	switch status {
	case "":
		q.where("status <> ?", models.ClientArchived)
	case models.ClientActive, models.ClientInactive, models.ClientArchived:
		q.where("status = ?", status)
	default:
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
		return
	}
	if search := strings.TrimSpace(r.URL.Query().Get("search")); search != "" {
		q.where("(first_name || ' ' || last_name || ' ' || email) ILIKE ?", "%"+escapeLike(search)+"%")
	}
	q.then("ORDER BY last_name, first_name")

	rows, err := h.db.QueryContext(r.Context(), q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list clients", err)
		return
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			serverError(w, "Failed to list clients", err)
			return
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		serverError(w, "Failed to list clients", err)
		return
	}

	middleware.JSONResponse(w, http.StatusOK, clients)
}

// CreateClient handles POST /api/clients
func (h *ClientHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req models.ClientRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	c := &models.Client{
		DietitianID:         dietitianID(r),
		Status:              models.ClientActive,
		Allergies:           []string{},
		DietaryRestrictions: []string{},
	}
	if msg := applyClientRequest(c, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	if c.FirstName == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "first_name is required")
		return
	}
	if c.Email == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "email is required")
		return
	}

	// Plan limit
	var plan string
	var count int
	err := h.db.QueryRowContext(r.Context(), `
		SELECT d.subscription_plan,
			(SELECT COUNT(*) FROM clients c WHERE c.dietitian_id = d.id AND c.status <> 'archived')
		FROM dietitians d WHERE d.id = $1
	`, c.DietitianID).Scan(&plan, &count)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to create client", err)
		return
	}
	if limit := h.catalog.ClientLimit(plan); limit > 0 && count >= limit {
		middleware.ErrorResponse(w, http.StatusForbidden,
			fmt.Sprintf("The %s plan allows %d clients; upgrade to add more", plan, limit))
		return
	}

	c.ID = auth.NewID()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO clients (id, dietitian_id, first_name, last_name, email, phone, date_of_birth, gender,
			height_cm, weight_kg, goals, allergies, dietary_restrictions, medical_notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, c.ID, c.DietitianID, c.FirstName, c.LastName, c.Email, c.Phone, c.DateOfBirth, c.Gender,
		c.HeightCM, c.WeightKG, c.Goals, pq.Array(c.Allergies), pq.Array(c.DietaryRestrictions),
		c.MedicalNotes, c.Status, now)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "A client with this email already exists")
		return
	}
	if err != nil {
		serverError(w, "Failed to create client", err)
		return
	}

	slog.Info("client created", "dietitian_id", c.DietitianID, "client_id", c.ID)
	middleware.JSONResponse(w, http.StatusCreated, c)
}

// GetClient handles GET /api/clients/{id}
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.loadClient(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load client", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, c)
}

// UpdateClient handles PUT /api/clients/{id}
func (h *ClientHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ClientRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	c, err := h.loadClient(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load client", err)
		return
	}

	wasArchived := c.Status == models.ClientArchived
	if msg := applyClientRequest(c, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	if c.FirstName == "" || c.Email == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "first_name and email cannot be empty")
		return
	}
	archiving := c.Status == models.ClientArchived && !wasArchived
	if archiving {
		c.PortalEnabled = false
	}
	c.UpdatedAt = time.Now().UTC()

	_, err = h.db.ExecContext(r.Context(), `
		UPDATE clients SET first_name = $1, last_name = $2, email = $3, phone = $4, date_of_birth = $5,
			gender = $6, height_cm = $7, weight_kg = $8, goals = $9, allergies = $10,
			dietary_restrictions = $11, medical_notes = $12, status = $13, portal_enabled = $14, updated_at = $15
		WHERE id = $16 AND dietitian_id = $17
	`, c.FirstName, c.LastName, c.Email, c.Phone, c.DateOfBirth, c.Gender, c.HeightCM, c.WeightKG,
		c.Goals, pq.Array(c.Allergies), pq.Array(c.DietaryRestrictions), c.MedicalNotes, c.Status,
		c.PortalEnabled, c.UpdatedAt, c.ID, c.DietitianID)
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "A client with this email already exists")
		return
	}
	if err != nil {
		serverError(w, "Failed to update client", err)
		return
	}

	if archiving {
		if err := h.sessions.RevokeClientSessions(r.Context(), c.ID, ""); err != nil {
			slog.Error("failed to revoke sessions of archived client", "client_id", c.ID, "error", err)
		}
	}

	middleware.JSONResponse(w, http.StatusOK, c)
}

// DeleteClient handles DELETE /api/clients/{id}
// Clients are archived rather than deleted; erasure goes through GDPR requests
func (h *ClientHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE clients SET status = 'archived', portal_enabled = FALSE,
			invite_token_hash = NULL, invite_expires_at = NULL, updated_at = $1
		WHERE id = $2 AND dietitian_id = $3
	`, time.Now().UTC(), id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to archive client", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	if err := h.sessions.RevokeClientSessions(r.Context(), id, ""); err != nil {
		serverError(w, "Failed to revoke client sessions", err, "client_id", id)
		return
	}

	slog.Info("client archived", "client_id", id)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Client archived"})
}

// PortalInvite handles POST /api/clients/{id}/portal-invite
func (h *ClientHandler) PortalInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	token, err := auth.GenerateInviteToken()
	if err != nil {
		serverError(w, "Failed to create invite", err)
		return
	}
	expiresAt := time.Now().UTC().Add(InviteTTL).Truncate(time.Second)

	// A new invite replaces any earlier one
	res, err := h.db.ExecContext(r.Context(), `
		UPDATE clients SET invite_token_hash = $1, invite_expires_at = $2, portal_enabled = TRUE, updated_at = $3
		WHERE id = $4 AND dietitian_id = $5 AND status <> 'archived'
	`, auth.HashToken(token), expiresAt, time.Now().UTC(), id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to create invite", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	slog.Info("portal invite created", "client_id", id)
	middleware.JSONResponse(w, http.StatusOK, models.PortalInviteResponse{
		InviteURL: h.cfg.AppURL + "/portal/accept-invite?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt,
	})
}

// PortalRevoke handles POST /api/clients/{id}/portal-revoke
func (h *ClientHandler) PortalRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE clients SET portal_enabled = FALSE, invite_token_hash = NULL, invite_expires_at = NULL, updated_at = $1
		WHERE id = $2 AND dietitian_id = $3
	`, time.Now().UTC(), id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to revoke portal access", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	if err := h.sessions.RevokeClientSessions(r.Context(), id, ""); err != nil {
		serverError(w, "Failed to revoke client sessions", err, "client_id", id)
		return
	}

	slog.Info("portal access revoked", "client_id", id)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Portal access revoked"})
}

func (h *ClientHandler) loadClient(ctx context.Context, id, dietitianID string) (*models.Client, error) {
	return scanClient(h.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1 AND dietitian_id = $2`, id, dietitianID))
}

// applyClientRequest copies set fields onto c and returns a validation message
func applyClientRequest(c *models.Client, req *models.ClientRequest) string {
	if req.FirstName != nil {
		c.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		c.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Email != nil {
		email, ok := validEmail(*req.Email)
		if !ok {
			return "Invalid email"
		}
		c.Email = email
	}
	if req.Phone != nil {
		c.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.DateOfBirth != nil {
		dob, err := parseDate(*req.DateOfBirth)
		if err != nil {
			return err.Error()
		}
		if dob != nil && dob.After(time.Now()) {
			return "date_of_birth cannot be in the future"
		}
		c.DateOfBirth = dob
	}
	if req.Gender != nil {
		c.Gender = strings.TrimSpace(*req.Gender)
	}
	if req.HeightCM != nil {
		if *req.HeightCM <= 0 || *req.HeightCM > 300 {
			return "height_cm out of range"
		}
		c.HeightCM = req.HeightCM
	}
	if req.WeightKG != nil {
		if *req.WeightKG <= 0 || *req.WeightKG > 700 {
			return "weight_kg out of range"
		}
		c.WeightKG = req.WeightKG
	}
	if req.Goals != nil {
		c.Goals = strings.TrimSpace(*req.Goals)
	}
	if req.Allergies != nil {
		c.Allergies = cleanList(*req.Allergies)
	}
	if req.DietaryRestrictions != nil {
		c.DietaryRestrictions = cleanList(*req.DietaryRestrictions)
	}
	if req.MedicalNotes != nil {
		c.MedicalNotes = *req.MedicalNotes
	}
	if req.Status != nil {
		switch *req.Status {
		case models.ClientActive, models.ClientInactive, models.ClientArchived:
			c.Status = *req.Status
		default:
			return "Invalid status"
		}
	}
	return ""
}

// cleanList trims entries and drops blanks and duplicates
func cleanList(items []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

// escapeLike escapes LIKE wildcards in user input
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
