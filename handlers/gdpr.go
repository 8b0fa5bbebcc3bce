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
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

const gdprRequestColumns = `g.id, g.client_id, COALESCE(TRIM(c.first_name || ' ' || c.last_name), ''),
	g.request_type, g.status, g.requested_at, g.scheduled_for, g.completed_at, g.notes`

func scanGDPRRequest(s scanner) (*models.GDPRRequest, error) {
	var g models.GDPRRequest
	var clientID sql.NullString
	err := s.Scan(&g.ID, &clientID, &g.ClientName, &g.RequestType, &g.Status, &g.RequestedAt,
		&g.ScheduledFor, &g.CompletedAt, &g.Notes)
	if err != nil {
		return nil, err
	}
	g.ClientID = clientID.String
	return &g, nil
}

// GDPRHandler serves consent records, data exports and data subject requests
type GDPRHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewGDPRHandler(db *sql.DB, cfg cliparse.Config) *GDPRHandler {
	return &GDPRHandler{db: db, cfg: cfg}
}

// ListConsents handles GET /api/clients/{id}/consents
func (h *GDPRHandler) ListConsents(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	exists, err := clientBelongs(r.Context(), h.db, clientID, did)
	if err != nil {
		serverError(w, "Failed to list consents", err)
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	consents, err := listConsents(r.Context(), h.db, clientID, did)
	if err != nil {
		serverError(w, "Failed to list consents", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, consents)
}

// RecordConsent handles POST /api/clients/{id}/consents
func (h *GDPRHandler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	var req models.ConsentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := validateConsent(&req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	exists, err := clientBelongs(r.Context(), h.db, clientID, did)
	if err != nil {
		serverError(w, "Failed to record consent", err)
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	rec, err := recordConsent(r.Context(), h.db, clientID, did, &req,
		auth.HashIP(middleware.GetClientIP(r), h.cfg.ClientJWTSecret))
	if err != nil {
		serverError(w, "Failed to record consent", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, rec)
}

// ExportClient handles GET /api/clients/{id}/export
func (h *GDPRHandler) ExportClient(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	export, err := loadClientExport(r.Context(), h.db, clientID, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to export client data", err, "client_id", clientID)
		return
	}
	writeExport(w, export)
}

// ListRequests handles GET /api/gdpr/requests?status=
func (h *GDPRHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT `+gdprRequestColumns+` FROM gdpr_requests g
		LEFT JOIN clients c ON c.id = g.client_id
		WHERE g.dietitian_id = $1`, dietitianID(r))
	if status := r.URL.Query().Get("status"); status != "" {
		switch status {
		case models.GDPRPending, models.GDPRApproved, models.GDPRRejected, models.GDPRCompleted:
			q.where("g.status = ?", status)
		default:
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}
	q.then("ORDER BY g.requested_at DESC")

	rows, err := h.db.QueryContext(r.Context(), q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list requests", err)
		return
	}
	defer rows.Close()

	requests := []models.GDPRRequest{}
	for rows.Next() {
		g, err := scanGDPRRequest(rows)
		if err != nil {
			serverError(w, "Failed to list requests", err)
			return
		}
		requests = append(requests, *g)
	}
	if err := rows.Err(); err != nil {
		serverError(w, "Failed to list requests", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, requests)
}

// ApproveRequest handles POST /api/gdpr/requests/{id}/approve
// Exports complete at once; deletions run after the grace period.
func (h *GDPRHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// RejectRequest handles POST /api/gdpr/requests/{id}/reject
func (h *GDPRHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *GDPRHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.GDPRDecisionRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil && !errors.Is(err, middleware.ErrEmptyBody) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	did := dietitianID(r)

	g, err := h.load(r.Context(), id, did)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Request not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load request", err)
		return
	}
	if g.Status != models.GDPRPending {
		middleware.ErrorResponse(w, http.StatusConflict, "Request has already been decided")
		return
	}

	now := time.Now().UTC()
	g.Notes = req.Notes
	switch {
	case !approve:
		g.Status = models.GDPRRejected
		g.CompletedAt = &now
	case g.RequestType == models.GDPRExport:
		g.Status = models.GDPRCompleted
		g.CompletedAt = &now
	default:
		g.Status = models.GDPRApproved
		scheduled := now.Add(h.cfg.GDPRGracePeriod)
		g.ScheduledFor = &scheduled
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE gdpr_requests SET status = $1, scheduled_for = $2, completed_at = $3, notes = $4
		WHERE id = $5 AND dietitian_id = $6 AND status = 'pending'
	`, g.Status, g.ScheduledFor, g.CompletedAt, g.Notes, g.ID, did)
	if err != nil {
		serverError(w, "Failed to update request", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusConflict, "Request has already been decided")
		return
	}

	slog.Info("gdpr request decided", "request_id", g.ID, "type", g.RequestType, "status", g.Status)
	middleware.JSONResponse(w, http.StatusOK, g)
}

func (h *GDPRHandler) load(ctx context.Context, id, did string) (*models.GDPRRequest, error) {
	return scanGDPRRequest(h.db.QueryRowContext(ctx, `SELECT `+gdprRequestColumns+` FROM gdpr_requests g
		LEFT JOIN clients c ON c.id = g.client_id
		WHERE g.id = $1 AND g.dietitian_id = $2`, id, did))
}

func validateConsent(req *models.ConsentRequest) string {
	if !models.IsValidConsentType(req.ConsentType) {
		return "Invalid consent_type"
	}
	if req.Granted == nil {
		return "granted is required"
	}
	return ""
}

// listConsents returns the full consent history, newest first
func listConsents(ctx context.Context, conn *sql.DB, clientID, did string) ([]models.ConsentRecord, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT id, client_id, consent_type, granted, recorded_at FROM consent_records
		WHERE client_id = $1 AND dietitian_id = $2
		ORDER BY recorded_at DESC
	`, clientID, did)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	consents := []models.ConsentRecord{}
	for rows.Next() {
		var c models.ConsentRecord
		if err := rows.Scan(&c.ID, &c.ClientID, &c.ConsentType, &c.Granted, &c.RecordedAt); err != nil {
			return nil, err
		}
		consents = append(consents, c)
	}
	return consents, rows.Err()
}

// recordConsent appends to the consent history; records are never updated
func recordConsent(ctx context.Context, conn *sql.DB, clientID, did string, req *models.ConsentRequest, ipHash string) (*models.ConsentRecord, error) {
	rec := &models.ConsentRecord{
		ID:          auth.NewID(),
		ClientID:    clientID,
		ConsentType: req.ConsentType,
		Granted:     *req.Granted,
		RecordedAt:  time.Now().UTC(),
	}
	_, err := conn.ExecContext(ctx, `
		INSERT INTO consent_records (id, dietitian_id, client_id, consent_type, granted, ip_hash, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, did, rec.ClientID, rec.ConsentType, rec.Granted, ipHash, rec.RecordedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// loadClientExport gathers everything stored about one client
func loadClientExport(ctx context.Context, conn *sql.DB, clientID, did string) (*models.ClientExport, error) {
	client, err := scanClient(conn.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1 AND dietitian_id = $2`, clientID, did))
	if err != nil {
		return nil, err
	}

	export := &models.ClientExport{ExportedAt: time.Now().UTC(), Client: *client}

	if export.MealPlans, err = queryMealPlans(ctx, conn, `SELECT `+mealPlanColumns+` FROM meal_plans
		WHERE client_id = $1 AND dietitian_id = $2 ORDER BY created_at`, clientID, did); err != nil {
		return nil, fmt.Errorf("meal plans: %w", err)
	}
	if export.Appointments, err = queryAppointments(ctx, conn, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.client_id = $1 AND a.dietitian_id = $2 ORDER BY a.starts_at`, clientID, did); err != nil {
		return nil, fmt.Errorf("appointments: %w", err)
	}
	if export.Documents, err = queryDocuments(ctx, conn, `SELECT `+documentColumns+` FROM documents
		WHERE client_id = $1 AND dietitian_id = $2 ORDER BY uploaded_at`, clientID, did); err != nil {
		return nil, fmt.Errorf("documents: %w", err)
	}
	if export.Invoices, err = queryInvoices(ctx, conn, `SELECT `+invoiceColumns+` FROM invoices
		WHERE client_id = $1 AND dietitian_id = $2 AND status <> 'draft' ORDER BY created_at`, clientID, did); err != nil {
		return nil, fmt.Errorf("invoices: %w", err)
	}
	if export.Consents, err = listConsents(ctx, conn, clientID, did); err != nil {
		return nil, fmt.Errorf("consents: %w", err)
	}
	return export, nil
}

// writeExport sends the export as a JSON attachment
func writeExport(w http.ResponseWriter, export *models.ClientExport) {
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="client-%s-export.json"`, export.Client.ID))
	middleware.JSONResponse(w, http.StatusOK, export)
}
