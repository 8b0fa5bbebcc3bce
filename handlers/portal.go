// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/dustin/go-humanize"
)

var errPendingRequest = errors.New("deletion request already pending")

// PortalHandler serves the client portal. Every query is scoped to the
// authenticated client and their dietitian.
type PortalHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	storage ObjectStorage
	now     func() time.Time
}

func NewPortalHandler(db *sql.DB, cfg cliparse.Config, storage ObjectStorage) *PortalHandler {
	return &PortalHandler{db: db, cfg: cfg, storage: storage, now: time.Now}
}

// MealPlans handles GET /api/portal/meal-plans
func (h *PortalHandler) MealPlans(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	plans, err := queryMealPlans(r.Context(), h.db, `SELECT `+mealPlanColumns+` FROM meal_plans
		WHERE client_id = $1 AND dietitian_id = $2 AND status = 'published'
		ORDER BY created_at DESC`, c.ClientID, c.DietitianID)
	if err != nil {
		serverError(w, "Failed to list meal plans", err, "client_id", c.ClientID)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, plans)
}

// MealPlan handles GET /api/portal/meal-plans/{id}
func (h *PortalHandler) MealPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c := portalClient(r)
	p, err := scanMealPlan(h.db.QueryRowContext(r.Context(), `SELECT `+mealPlanColumns+` FROM meal_plans
		WHERE id = $1 AND client_id = $2 AND dietitian_id = $3 AND status = 'published'`,
		id, c.ClientID, c.DietitianID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meal plan not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load meal plan", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, p)
}

// Appointments handles GET /api/portal/appointments
func (h *PortalHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, title, starts_at, ends_at, location, status FROM appointments
		WHERE client_id = $1 AND dietitian_id = $2
		ORDER BY starts_at DESC
	`, c.ClientID, c.DietitianID)
	if err != nil {
		serverError(w, "Failed to list appointments", err)
		return
	}
	defer rows.Close()

	now := h.now()
	appts := []models.PortalAppointment{}
	for rows.Next() {
		var a models.PortalAppointment
		if err := rows.Scan(&a.ID, &a.Title, &a.StartsAt, &a.EndsAt, &a.Location, &a.Status); err != nil {
			serverError(w, "Failed to list appointments", err)
			return
		}
		a.StartsIn = humanize.RelTime(a.StartsAt, now, "ago", "from now")
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		serverError(w, "Failed to list appointments", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, appts)
}

// CancelAppointment handles POST /api/portal/appointments/{id}/cancel
// Clients may cancel scheduled appointments up to 24 hours ahead.
func (h *PortalHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c := portalClient(r)

	var (
		title, status, clientName string
		startsAt                  time.Time
	)
	err := h.db.QueryRowContext(r.Context(), `
		SELECT a.title, a.status, a.starts_at, TRIM(c.first_name || ' ' || c.last_name)
		FROM appointments a JOIN clients c ON c.id = a.client_id
		WHERE a.id = $1 AND a.client_id = $2 AND a.dietitian_id = $3
	`, id, c.ClientID, c.DietitianID).Scan(&title, &status, &startsAt, &clientName)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to cancel appointment", err)
		return
	}
	if status != models.AppointmentScheduled {
		middleware.ErrorResponse(w, http.StatusConflict, "Only scheduled appointments can be cancelled")
		return
	}
	if startsAt.Sub(h.now()) < models.ClientCancelNotice {
		middleware.ErrorResponse(w, http.StatusConflict,
			"Appointments can only be cancelled more than 24 hours in advance; please contact your dietitian")
		return
	}

	err = withTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(r.Context(), `
			UPDATE appointments SET status = 'cancelled', updated_at = $1
			WHERE id = $2 AND client_id = $3 AND dietitian_id = $4 AND status = 'scheduled'
		`, h.now().UTC(), id, c.ClientID, c.DietitianID)
		if err != nil {
			return err
		}
		if rowsAffected(res) == 0 {
			return errConflict
		}
		return db.Notify(r.Context(), tx, c.DietitianID, models.NotifyAppointmentCancel,
			"Appointment cancelled",
			fmt.Sprintf("%s cancelled %q on %s", clientName, title, startsAt.UTC().Format("Mon 2 Jan 2006 15:04 MST")))
	})
	if errors.Is(err, errConflict) {
		middleware.ErrorResponse(w, http.StatusConflict, "Only scheduled appointments can be cancelled")
		return
	}
	if err != nil {
		serverError(w, "Failed to cancel appointment", err)
		return
	}

	slog.Info("appointment cancelled by client", "appointment_id", id, "client_id", c.ClientID)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Appointment cancelled"})
}

// Documents handles GET /api/portal/documents
func (h *PortalHandler) Documents(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	docs, err := queryDocuments(r.Context(), h.db, `SELECT `+documentColumns+` FROM documents
		WHERE client_id = $1 AND dietitian_id = $2 AND shared_with_client
		ORDER BY uploaded_at DESC`, c.ClientID, c.DietitianID)
	if err != nil {
		serverError(w, "Failed to list documents", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, docs)
}

// DownloadDocument handles GET /api/portal/documents/{id}/download
func (h *PortalHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c := portalClient(r)
	doc, err := scanDocument(h.db.QueryRowContext(r.Context(), `SELECT `+documentColumns+` FROM documents
		WHERE id = $1 AND client_id = $2 AND dietitian_id = $3 AND shared_with_client`,
		id, c.ClientID, c.DietitianID))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load document", err)
		return
	}
	writeSignedURL(w, r, h.storage, h.cfg.StorageBucket, doc)
}

// Invoices handles GET /api/portal/invoices
func (h *PortalHandler) Invoices(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	invoices, err := queryInvoices(r.Context(), h.db, `SELECT `+invoiceColumns+` FROM invoices
		WHERE client_id = $1 AND dietitian_id = $2 AND status <> 'draft'
		ORDER BY created_at DESC`, c.ClientID, c.DietitianID)
	if err != nil {
		serverError(w, "Failed to list invoices", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, invoices)
}

// Consents handles GET /api/portal/consents
func (h *PortalHandler) Consents(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	consents, err := listConsents(r.Context(), h.db, c.ClientID, c.DietitianID)
	if err != nil {
		serverError(w, "Failed to list consents", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, consents)
}

// RecordConsent handles POST /api/portal/consents
func (h *PortalHandler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	var req models.ConsentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if msg := validateConsent(&req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	c := portalClient(r)
	rec, err := recordConsent(r.Context(), h.db, c.ClientID, c.DietitianID, &req,
		auth.HashIP(middleware.GetClientIP(r), h.cfg.ClientJWTSecret))
	if err != nil {
		serverError(w, "Failed to record consent", err)
		return
	}
	slog.Info("consent recorded", "client_id", c.ClientID, "type", rec.ConsentType, "granted", rec.Granted)
	middleware.JSONResponse(w, http.StatusCreated, rec)
}

// Export handles GET /api/portal/gdpr/export
func (h *PortalHandler) Export(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	export, err := loadClientExport(r.Context(), h.db, c.ClientID, c.DietitianID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to export data", err, "client_id", c.ClientID)
		return
	}
	writeExport(w, export)
}

// DeletionRequest handles POST /api/portal/gdpr/deletion-request
func (h *PortalHandler) DeletionRequest(w http.ResponseWriter, r *http.Request) {
	c := portalClient(r)
	g := &models.GDPRRequest{
		ID:          auth.NewID(),
		ClientID:    c.ClientID,
		RequestType: models.GDPRDeletion,
		Status:      models.GDPRPending,
		RequestedAt: h.now().UTC(),
	}

	err := withTx(r.Context(), h.db, func(tx *sql.Tx) error {
		var name string
		// Row lock keeps two concurrent requests from both passing the check
		if err := tx.QueryRowContext(r.Context(), `
			SELECT TRIM(first_name || ' ' || last_name) FROM clients
			WHERE id = $1 AND dietitian_id = $2 FOR UPDATE
		`, c.ClientID, c.DietitianID).Scan(&name); err != nil {
			return err
		}
		g.ClientName = name

		var pending bool
		if err := tx.QueryRowContext(r.Context(), `
			SELECT EXISTS(SELECT 1 FROM gdpr_requests
				WHERE client_id = $1 AND request_type = 'deletion' AND status = 'pending')
		`, c.ClientID).Scan(&pending); err != nil {
			return err
		}
		if pending {
			return errPendingRequest
		}

		if _, err := tx.ExecContext(r.Context(), `
			INSERT INTO gdpr_requests (id, dietitian_id, client_id, request_type, status, requested_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, g.ID, c.DietitianID, g.ClientID, g.RequestType, g.Status, g.RequestedAt); err != nil {
			return err
		}
		return db.Notify(r.Context(), tx, c.DietitianID, models.NotifyGDPRRequest,
			"Data deletion requested", name+" asked for their data to be deleted")
	})
	if errors.Is(err, errPendingRequest) {
		middleware.ErrorResponse(w, http.StatusConflict, "A deletion request is already pending")
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to create deletion request", err)
		return
	}

	slog.Info("gdpr deletion requested", "client_id", c.ClientID, "request_id", g.ID)
	middleware.JSONResponse(w, http.StatusCreated, g)
}
