// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

const dietitianColumns = `id, email, full_name, practice_name, phone, timezone, subscription_plan,
	subscription_status, current_period_end, ai_credits, stripe_customer_id, created_at, updated_at`

func scanDietitian(s scanner) (*models.Dietitian, error) {
	var d models.Dietitian
	var customerID sql.NullString
	err := s.Scan(&d.ID, &d.Email, &d.FullName, &d.PracticeName, &d.Phone, &d.Timezone,
		&d.SubscriptionPlan, &d.SubscriptionStatus, &d.CurrentPeriodEnd, &d.AICredits,
		&customerID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		d.StripeCustomerID = &customerID.String
	}
	return &d, nil
}

// createDietitian inserts the tenant row and grants the starter credits.
// An existing row for the same user is returned unchanged.
func createDietitian(ctx context.Context, conn *sql.DB, id, email, fullName, practice string) (*models.Dietitian, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO dietitians (id, email, full_name, practice_name, subscription_plan, ai_credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, id, email, fullName, practice, models.PlanFree, now)
	if err != nil {
		return nil, err
	}
	if rowsAffected(res) == 1 {
		if err := db.AddCredits(ctx, tx, id, models.StarterCredits, models.CreditReasonSignup, ""); err != nil {
			return nil, err
		}
	}

	d, err := scanDietitian(tx.QueryRowContext(ctx, `SELECT `+dietitianColumns+` FROM dietitians WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

type DietitianHandler struct {
	db  *sql.DB
	cfg cliparse.Config
}

func NewDietitianHandler(db *sql.DB, cfg cliparse.Config) *DietitianHandler {
	return &DietitianHandler{db: db, cfg: cfg}
}

// GetProfile handles GET /api/dietitian/profile
func (h *DietitianHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	d, err := scanDietitian(h.db.QueryRowContext(r.Context(),
		`SELECT `+dietitianColumns+` FROM dietitians WHERE id = $1`, dietitianID(r)))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load profile", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, d)
}

// UpdateProfile handles PUT /api/dietitian/profile
func (h *DietitianHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "full_name cannot be empty")
		return
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil || *req.Timezone == "" {
			middleware.ErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown timezone %q", *req.Timezone))
			return
		}
	}

	// COALESCE keeps columns the request left out
	d, err := scanDietitian(h.db.QueryRowContext(r.Context(), `
		UPDATE dietitians SET
			full_name = COALESCE($1, full_name),
			practice_name = COALESCE($2, practice_name),
			phone = COALESCE($3, phone),
			timezone = COALESCE($4, timezone),
			updated_at = $5
		WHERE id = $6
		RETURNING `+dietitianColumns,
		trimmed(req.FullName), trimmed(req.PracticeName), trimmed(req.Phone), req.Timezone,
		time.Now().UTC(), dietitianID(r)))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to update profile", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, d)
}

// trimmed returns a trimmed copy, keeping nil as nil
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
