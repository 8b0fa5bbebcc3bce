// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/ai"
	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/lib/pq"
	"github.com/tidwall/gjson"
)

var errNoCredits = errors.New("no AI credits left")

const mealPlanColumns = `id, dietitian_id, client_id, title, description, start_date, end_date,
	target_calories, content, status, ai_generated, created_at, updated_at`

func scanMealPlan(s scanner) (*models.MealPlan, error) {
	var p models.MealPlan
	var content []byte
	err := s.Scan(&p.ID, &p.DietitianID, &p.ClientID, &p.Title, &p.Description, &p.StartDate,
		&p.EndDate, &p.TargetCalories, &content, &p.Status, &p.AIGenerated, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Content = json.RawMessage(content)
	return &p, nil
}

type MealPlanHandler struct {
	db        *sql.DB
	generator MealPlanGenerator // nil when AI is not configured
	throttle  GenerationThrottle
}

func NewMealPlanHandler(db *sql.DB, generator MealPlanGenerator, throttle GenerationThrottle) *MealPlanHandler {
	return &MealPlanHandler{db: db, generator: generator, throttle: throttle}
}

// ListMealPlans handles GET /api/meal-plans?client_id=&status=
func (h *MealPlanHandler) ListMealPlans(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT `+mealPlanColumns+` FROM meal_plans WHERE dietitian_id = $1`, dietitianID(r))
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		if !auth.IsValidID(clientID) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid client_id")
			return
		}
		q.where("client_id = ?", clientID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !isMealPlanStatus(status) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		q.where("status = ?", status)
	}
	q.then("ORDER BY created_at DESC")

	plans, err := queryMealPlans(r.Context(), h.db, q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list meal plans", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, plans)
}

// CreateMealPlan handles POST /api/meal-plans
func (h *MealPlanHandler) CreateMealPlan(w http.ResponseWriter, r *http.Request) {
	var req models.MealPlanRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ClientID == nil || !auth.IsValidID(*req.ClientID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid client_id is required")
		return
	}

	p := &models.MealPlan{
		DietitianID: dietitianID(r),
		ClientID:    *req.ClientID,
		Status:      models.MealPlanDraft,
		Content:     json.RawMessage(`{"days":[]}`),
	}
	if msg := applyMealPlanRequest(p, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	if p.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	ok, err := clientBelongs(r.Context(), h.db, p.ClientID, p.DietitianID)
	if err != nil {
		serverError(w, "Failed to create meal plan", err)
		return
	}
	if !ok {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	if err := insertMealPlan(r.Context(), h.db, p); err != nil {
		serverError(w, "Failed to create meal plan", err)
		return
	}
	middleware.JSONResponse(w, http.StatusCreated, p)
}

// GetMealPlan handles GET /api/meal-plans/{id}
func (h *MealPlanHandler) GetMealPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.load(r.Context(), id, dietitianID(r))
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

// UpdateMealPlan handles PUT /api/meal-plans/{id}
func (h *MealPlanHandler) UpdateMealPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.MealPlanRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	p, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meal plan not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load meal plan", err)
		return
	}
	if req.ClientID != nil && *req.ClientID != p.ClientID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "client_id cannot be changed")
		return
	}
	if msg := applyMealPlanRequest(p, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	if p.Title == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "title cannot be empty")
		return
	}
	p.UpdatedAt = time.Now().UTC()

	_, err = h.db.ExecContext(r.Context(), `
		UPDATE meal_plans SET title = $1, description = $2, start_date = $3, end_date = $4,
			target_calories = $5, content = $6, updated_at = $7
		WHERE id = $8 AND dietitian_id = $9
	`, p.Title, p.Description, p.StartDate, p.EndDate, p.TargetCalories, []byte(p.Content),
		p.UpdatedAt, p.ID, p.DietitianID)
	if err != nil {
		serverError(w, "Failed to update meal plan", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, p)
}

// DeleteMealPlan handles DELETE /api/meal-plans/{id}
func (h *MealPlanHandler) DeleteMealPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM meal_plans WHERE id = $1 AND dietitian_id = $2`, id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to delete meal plan", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meal plan not found")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Meal plan deleted"})
}

// PublishMealPlan handles POST /api/meal-plans/{id}/publish
// Only drafts can be published; publishing makes the plan visible in the portal.
func (h *MealPlanHandler) PublishMealPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Meal plan not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load meal plan", err)
		return
	}
	if p.Status != models.MealPlanDraft {
		middleware.ErrorResponse(w, http.StatusConflict, "Only draft meal plans can be published")
		return
	}

	p.Status = models.MealPlanPublished
	p.UpdatedAt = time.Now().UTC()
	res, err := h.db.ExecContext(r.Context(), `
		UPDATE meal_plans SET status = 'published', updated_at = $1
		WHERE id = $2 AND dietitian_id = $3 AND status = 'draft'
	`, p.UpdatedAt, p.ID, p.DietitianID)
	if err != nil {
		serverError(w, "Failed to publish meal plan", err)
		return
	}
	if rowsAffected(res) == 0 {
		// Published concurrently
		middleware.ErrorResponse(w, http.StatusConflict, "Only draft meal plans can be published")
		return
	}

	slog.Info("meal plan published", "meal_plan_id", p.ID, "client_id", p.ClientID)
	middleware.JSONResponse(w, http.StatusOK, p)
}

// GenerateMealPlan handles POST /api/meal-plans/generate
// One AI credit is spent up front and refunded if the model fails.
func (h *MealPlanHandler) GenerateMealPlan(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "AI generation is not configured")
		return
	}

	var req models.GenerateMealPlanRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if !auth.IsValidID(req.ClientID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid client_id is required")
		return
	}
	if req.TargetCalories < 0 || req.TargetCalories > 10000 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "target_calories out of range")
		return
	}

	did := dietitianID(r)
	if h.throttle != nil && !h.throttle.Allow(did) {
		middleware.AIGenerations.WithLabelValues("throttled").Inc()
		middleware.ErrorResponse(w, http.StatusTooManyRequests, "Too many generations, please wait a moment")
		return
	}

	var client models.Client
	err := h.db.QueryRowContext(r.Context(), `
		SELECT first_name, last_name, goals, allergies, dietary_restrictions
		FROM clients WHERE id = $1 AND dietitian_id = $2 AND status <> 'archived'
	`, req.ClientID, did).Scan(&client.FirstName, &client.LastName, &client.Goals,
		pq.Array(&client.Allergies), pq.Array(&client.DietaryRestrictions))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to generate meal plan", err)
		return
	}

	remaining, err := h.spendCredit(r.Context(), did, req.ClientID)
	if errors.Is(err, errNoCredits) {
		middleware.AIGenerations.WithLabelValues("no_credits").Inc()
		middleware.ErrorResponse(w, http.StatusPaymentRequired, "No AI credits left; buy a credit pack or upgrade your plan")
		return
	}
	if err != nil {
		serverError(w, "Failed to generate meal plan", err)
		return
	}

	goals := strings.TrimSpace(req.Goals)
	if goals == "" {
		goals = client.Goals
	}
	planReq := ai.PlanRequest{
		ClientName:     client.FirstName,
		Days:           req.Days,
		MealsPerDay:    req.MealsPerDay,
		TargetCalories: req.TargetCalories,
		Goals:          goals,
		Allergies:      client.Allergies,
		Restrictions:   client.DietaryRestrictions,
		Preferences:    req.Preferences,
		Exclusions:     req.Exclusions,
	}
	planReq.Normalize()

	generated, err := h.generator.Generate(r.Context(), planReq)
	if err != nil {
		middleware.AIGenerations.WithLabelValues("failed").Inc()
		slog.Error("meal plan generation failed", "dietitian_id", did, "client_id", req.ClientID, "error", err)
		h.refund(did, req.ClientID)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Meal plan generation failed; your credit was refunded")
		return
	}

	content, err := json.Marshal(generated.Content)
	if err != nil {
		h.refund(did, req.ClientID)
		serverError(w, "Failed to generate meal plan", err)
		return
	}

	p := &models.MealPlan{
		DietitianID: did,
		ClientID:    req.ClientID,
		Title:       generated.Title,
		Description: generated.Description,
		Content:     content,
		Status:      models.MealPlanDraft,
		AIGenerated: true,
	}
	if p.Title == "" {
		p.Title = fmt.Sprintf("%d-day plan for %s", planReq.Days, client.FirstName)
	}
	if req.TargetCalories > 0 {
		p.TargetCalories = &req.TargetCalories
	}
	if err := insertMealPlan(r.Context(), h.db, p); err != nil {
		h.refund(did, req.ClientID)
		serverError(w, "Failed to save meal plan", err)
		return
	}

	middleware.AIGenerations.WithLabelValues("success").Inc()
	slog.Info("meal plan generated", "dietitian_id", did, "meal_plan_id", p.ID, "remaining_credits", remaining)
	middleware.JSONResponse(w, http.StatusCreated, models.GenerateMealPlanResponse{
		MealPlan:         *p,
		RemainingCredits: remaining,
	})
}

// spendCredit takes one credit and returns the new balance
func (h *MealPlanHandler) spendCredit(ctx context.Context, did, clientID string) (int, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var remaining int
	err = tx.QueryRowContext(ctx, `
		UPDATE dietitians SET ai_credits = ai_credits - 1, updated_at = $1
		WHERE id = $2 AND ai_credits > 0
		RETURNING ai_credits
	`, now, did).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errNoCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to spend credit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, dietitian_id, delta, reason, reference, created_at)
		VALUES ($1, $2, -1, $3, $4, $5)
	`, auth.NewID(), did, models.CreditReasonGeneration, clientID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to record credit change: %w", err)
	}

	return remaining, tx.Commit()
}

// refund gives the credit back; it runs detached from the request so a
// client disconnect can't lose it
func (h *MealPlanHandler) refund(did, clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := func() error {
		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := db.AddCredits(ctx, tx, did, 1, models.CreditReasonRefund, clientID); err != nil {
			return err
		}
		return tx.Commit()
	}()
	if err != nil {
		slog.Error("failed to refund ai credit", "dietitian_id", did, "error", err)
	}
}

func (h *MealPlanHandler) load(ctx context.Context, id, did string) (*models.MealPlan, error) {
	return scanMealPlan(h.db.QueryRowContext(ctx,
		`SELECT `+mealPlanColumns+` FROM meal_plans WHERE id = $1 AND dietitian_id = $2`, id, did))
}

func insertMealPlan(ctx context.Context, conn *sql.DB, p *models.MealPlan) error {
	p.ID = auth.NewID()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := conn.ExecContext(ctx, `
		INSERT INTO meal_plans (id, dietitian_id, client_id, title, description, start_date, end_date,
			target_calories, content, status, ai_generated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, p.ID, p.DietitianID, p.ClientID, p.Title, p.Description, p.StartDate, p.EndDate,
		p.TargetCalories, []byte(p.Content), p.Status, p.AIGenerated, now)
	return err
}

func queryMealPlans(ctx context.Context, conn *sql.DB, query string, args ...any) ([]models.MealPlan, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := []models.MealPlan{}
	for rows.Next() {
		p, err := scanMealPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func applyMealPlanRequest(p *models.MealPlan, req *models.MealPlanRequest) string {
	if req.Title != nil {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.StartDate != nil {
		d, err := parseDate(*req.StartDate)
		if err != nil {
			return err.Error()
		}
		p.StartDate = d
	}
	if req.EndDate != nil {
		d, err := parseDate(*req.EndDate)
		if err != nil {
			return err.Error()
		}
		p.EndDate = d
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		return "end_date must not be before start_date"
	}
	if req.TargetCalories != nil {
		if *req.TargetCalories <= 0 || *req.TargetCalories > 10000 {
			return "target_calories out of range"
		}
		p.TargetCalories = req.TargetCalories
	}
	if req.Content != nil {
		if !gjson.ValidBytes(*req.Content) || !gjson.ParseBytes(*req.Content).IsObject() {
			return "content must be a JSON object"
		}
		p.Content = *req.Content
	}
	return ""
}

func isMealPlanStatus(s string) bool {
	switch s {
	case models.MealPlanDraft, models.MealPlanPublished, models.MealPlanArchived:
		return true
	}
	return false
}
