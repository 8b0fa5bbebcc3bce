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
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

const appointmentColumns = `a.id, a.dietitian_id, a.client_id, TRIM(c.first_name || ' ' || c.last_name),
	a.title, a.starts_at, a.ends_at, a.location, a.notes, a.status, a.created_at, a.updated_at`

const appointmentFrom = ` FROM appointments a JOIN clients c ON c.id = a.client_id`

func scanAppointment(s scanner) (*models.Appointment, error) {
	var a models.Appointment
	err := s.Scan(&a.ID, &a.DietitianID, &a.ClientID, &a.ClientName, &a.Title, &a.StartsAt,
		&a.EndsAt, &a.Location, &a.Notes, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type AppointmentHandler struct {
	db *sql.DB
}

func NewAppointmentHandler(db *sql.DB) *AppointmentHandler {
	return &AppointmentHandler{db: db}
}

// ListAppointments handles GET /api/appointments?from=&to=&client_id=
// from and to accept RFC 3339 timestamps or YYYY-MM-DD dates.
func (h *AppointmentHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT `+appointmentColumns+appointmentFrom+` WHERE a.dietitian_id = $1`, dietitianID(r))

	query := r.URL.Query()
	if v := query.Get("from"); v != "" {
		from, err := parseTimeParam(v)
		if err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid from: "+err.Error())
			return
		}
		q.where("a.starts_at >= ?", from)
	}
	if v := query.Get("to"); v != "" {
		to, err := parseTimeParam(v)
		if err != nil {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid to: "+err.Error())
			return
		}
		q.where("a.starts_at < ?", to)
	}
	if v := query.Get("client_id"); v != "" {
		if !auth.IsValidID(v) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid client_id")
			return
		}
		q.where("a.client_id = ?", v)
	}
	q.then("ORDER BY a.starts_at")

	appts, err := queryAppointments(r.Context(), h.db, q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list appointments", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, appts)
}

// CreateAppointment handles POST /api/appointments
func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req models.AppointmentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ClientID == nil || !auth.IsValidID(*req.ClientID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid client_id is required")
		return
	}
	if req.StartsAt == nil || req.EndsAt == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "starts_at and ends_at are required")
		return
	}

	a := &models.Appointment{
		DietitianID: dietitianID(r),
		ClientID:    *req.ClientID,
		Title:       "Consultation",
		Status:      models.AppointmentScheduled,
	}
	if msg := applyAppointmentRequest(a, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	var clientName string
	err := h.db.QueryRowContext(r.Context(), `
		SELECT TRIM(first_name || ' ' || last_name) FROM clients
		WHERE id = $1 AND dietitian_id = $2 AND status <> 'archived'
	`, a.ClientID, a.DietitianID).Scan(&clientName)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to create appointment", err)
		return
	}
	a.ClientName = clientName

	if busy, err := h.overlaps(r.Context(), a); err != nil {
		serverError(w, "Failed to create appointment", err)
		return
	} else if busy {
		middleware.ErrorResponse(w, http.StatusConflict, "This time overlaps another scheduled appointment")
		return
	}

	a.ID = auth.NewID()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO appointments (id, dietitian_id, client_id, title, starts_at, ends_at, location, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, a.ID, a.DietitianID, a.ClientID, a.Title, a.StartsAt, a.EndsAt, a.Location, a.Notes, a.Status, now)
	if err != nil {
		serverError(w, "Failed to create appointment", err)
		return
	}

	slog.Info("appointment created", "appointment_id", a.ID, "client_id", a.ClientID)
	middleware.JSONResponse(w, http.StatusCreated, a)
}

// GetAppointment handles GET /api/appointments/{id}
func (h *AppointmentHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	a, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load appointment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, a)
}

// UpdateAppointment handles PUT /api/appointments/{id}
func (h *AppointmentHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.AppointmentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	a, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load appointment", err)
		return
	}
	if req.ClientID != nil && *req.ClientID != a.ClientID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "client_id cannot be changed")
		return
	}

	moved := (req.StartsAt != nil && !req.StartsAt.Equal(a.StartsAt)) || (req.EndsAt != nil && !req.EndsAt.Equal(a.EndsAt))
	if msg := applyAppointmentRequest(a, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	if moved && a.Status == models.AppointmentScheduled {
		if busy, err := h.overlaps(r.Context(), a); err != nil {
			serverError(w, "Failed to update appointment", err)
			return
		} else if busy {
			middleware.ErrorResponse(w, http.StatusConflict, "This time overlaps another scheduled appointment")
			return
		}
	}

	a.UpdatedAt = time.Now().UTC()
	// A moved appointment gets a fresh reminder
	_, err = h.db.ExecContext(r.Context(), `
		UPDATE appointments SET title = $1, starts_at = $2, ends_at = $3, location = $4, notes = $5,
			reminder_sent_at = CASE WHEN $6 THEN NULL ELSE reminder_sent_at END, updated_at = $7
		WHERE id = $8 AND dietitian_id = $9
	`, a.Title, a.StartsAt, a.EndsAt, a.Location, a.Notes, moved, a.UpdatedAt, a.ID, a.DietitianID)
	if err != nil {
		serverError(w, "Failed to update appointment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, a)
}

// DeleteAppointment handles DELETE /api/appointments/{id}
func (h *AppointmentHandler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM appointments WHERE id = $1 AND dietitian_id = $2`, id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to delete appointment", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Appointment deleted"})
}

// SetStatus handles POST /api/appointments/{id}/status
func (h *AppointmentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.AppointmentStatusRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !models.IsValidAppointmentStatus(req.Status) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status")
		return
	}

	a, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Appointment not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load appointment", err)
		return
	}

	// Reopening must not create a double booking
	if req.Status == models.AppointmentScheduled && a.Status != models.AppointmentScheduled {
		if busy, err := h.overlaps(r.Context(), a); err != nil {
			serverError(w, "Failed to update appointment", err)
			return
		} else if busy {
			middleware.ErrorResponse(w, http.StatusConflict, "This time overlaps another scheduled appointment")
			return
		}
	}

	a.Status = req.Status
	a.UpdatedAt = time.Now().UTC()
	if _, err := h.db.ExecContext(r.Context(), `
		UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3 AND dietitian_id = $4
	`, a.Status, a.UpdatedAt, a.ID, a.DietitianID); err != nil {
		serverError(w, "Failed to update appointment", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, a)
}

// overlaps reports whether another scheduled appointment of the dietitian intersects a
func (h *AppointmentHandler) overlaps(ctx context.Context, a *models.Appointment) (bool, error) {
	var busy bool
	err := h.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointments
			WHERE dietitian_id = $1 AND status = 'scheduled'
				AND starts_at < $2 AND ends_at > $3 AND id::text <> $4
		)
	`, a.DietitianID, a.EndsAt, a.StartsAt, a.ID).Scan(&busy)
	return busy, err
}

func (h *AppointmentHandler) load(ctx context.Context, id, did string) (*models.Appointment, error) {
	return scanAppointment(h.db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+appointmentFrom+` WHERE a.id = $1 AND a.dietitian_id = $2`, id, did))
}

func queryAppointments(ctx context.Context, conn *sql.DB, query string, args ...any) ([]models.Appointment, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := []models.Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}

func applyAppointmentRequest(a *models.Appointment, req *models.AppointmentRequest) string {
	if req.Title != nil {
		if t := strings.TrimSpace(*req.Title); t != "" {
			a.Title = t
		}
	}
	if req.StartsAt != nil {
		a.StartsAt = req.StartsAt.UTC()
	}
	if req.EndsAt != nil {
		a.EndsAt = req.EndsAt.UTC()
	}
	if !a.EndsAt.After(a.StartsAt) {
		return "ends_at must be after starts_at"
	}
	if a.EndsAt.Sub(a.StartsAt) > 12*time.Hour {
		return "appointments cannot be longer than 12 hours"
	}
	if req.Location != nil {
		a.Location = strings.TrimSpace(*req.Location)
	}
	if req.Notes != nil {
		a.Notes = *req.Notes
	}
	return ""
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
}
