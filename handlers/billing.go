// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

var errDuplicateEvent = errors.New("event already processed")

// Webhook outcomes, also used as metric labels
const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

type BillingHandler struct {
	db       *sql.DB
	cfg      cliparse.Config
	catalog  *billing.Catalog
	payments PaymentGateway // nil when Stripe is not configured
}

func NewBillingHandler(db *sql.DB, cfg cliparse.Config, catalog *billing.Catalog, payments PaymentGateway) *BillingHandler {
	return &BillingHandler{db: db, cfg: cfg, catalog: catalog, payments: payments}
}

// Subscription handles GET /api/billing/subscription
func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	var resp models.SubscriptionResponse
	err := h.db.QueryRowContext(r.Context(), `
		SELECT d.subscription_plan, d.subscription_status, d.current_period_end, d.ai_credits,
			(SELECT COUNT(*) FROM clients c WHERE c.dietitian_id = d.id AND c.status <> 'archived')
		FROM dietitians d WHERE d.id = $1
	`, dietitianID(r)).Scan(&resp.Plan, &resp.Status, &resp.CurrentPeriodEnd, &resp.AICredits, &resp.ActiveClients)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load subscription", err)
		return
	}
	resp.ClientLimit = h.catalog.ClientLimit(resp.Plan)
	middleware.JSONResponse(w, http.StatusOK, resp)
}

// Checkout handles POST /api/billing/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}
	var req models.CheckoutRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	plan, ok := h.catalog.Plan(req.Plan)
	if !ok || plan.PriceID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown plan")
		return
	}

	did := dietitianID(r)
	customerID, err := h.ensureCustomer(r.Context(), did)
	if err != nil {
		h.gatewayError(w, "checkout", err)
		return
	}

	url, err := h.payments.CheckoutURL(r.Context(), billing.CheckoutParams{
		CustomerID:        customerID,
		PriceID:           plan.PriceID,
		Mode:              billing.ModeSubscription,
		SuccessURL:        h.cfg.AppURL + "/billing?checkout=success",
		CancelURL:         h.cfg.AppURL + "/billing?checkout=cancelled",
		ClientReferenceID: did,
		Metadata:          map[string]string{"dietitian_id": did, "plan": plan.ID},
	})
	if err != nil {
		h.gatewayError(w, "checkout", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.URLResponse{URL: url})
}

// CreditsCheckout handles POST /api/billing/credits/checkout
func (h *BillingHandler) CreditsCheckout(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}
	var req models.CreditsCheckoutRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	pack, ok := h.catalog.Pack(req.Pack)
	if !ok || pack.PriceID == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unknown credit pack")
		return
	}

	did := dietitianID(r)
	customerID, err := h.ensureCustomer(r.Context(), did)
	if err != nil {
		h.gatewayError(w, "credits checkout", err)
		return
	}

	url, err := h.payments.CheckoutURL(r.Context(), billing.CheckoutParams{
		CustomerID:        customerID,
		PriceID:           pack.PriceID,
		Mode:              billing.ModePayment,
		SuccessURL:        h.cfg.AppURL + "/billing?credits=success",
		CancelURL:         h.cfg.AppURL + "/billing?credits=cancelled",
		ClientReferenceID: did,
		Metadata:          map[string]string{"dietitian_id": did, "pack": pack.ID},
	})
	if err != nil {
		h.gatewayError(w, "credits checkout", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.URLResponse{URL: url})
}

// Portal handles POST /api/billing/portal
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}

	var customerID sql.NullString
	err := h.db.QueryRowContext(r.Context(),
		`SELECT stripe_customer_id FROM dietitians WHERE id = $1`, dietitianID(r)).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to open billing portal", err)
		return
	}
	if !customerID.Valid {
		middleware.ErrorResponse(w, http.StatusConflict, "No billing account yet; start a subscription first")
		return
	}

	url, err := h.payments.PortalURL(r.Context(), customerID.String, h.cfg.AppURL+"/billing")
	if err != nil {
		h.gatewayError(w, "portal", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.URLResponse{URL: url})
}

// CreditHistory handles GET /api/billing/credits/history
func (h *BillingHandler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, delta, reason, reference, created_at FROM credit_ledger
		WHERE dietitian_id = $1 ORDER BY created_at DESC LIMIT 100
	`, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to load credit history", err)
		return
	}
	defer rows.Close()

	entries := []models.CreditLedgerEntry{}
	for rows.Next() {
		var e models.CreditLedgerEntry
		if err := rows.Scan(&e.ID, &e.Delta, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			serverError(w, "Failed to load credit history", err)
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		serverError(w, "Failed to load credit history", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, entries)
}

// StripeWebhook handles POST /api/webhooks/stripe
// Each event id is recorded in the same transaction as its effects, so a
// redelivered event is acknowledged without being applied twice.
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil || h.cfg.StripeWebhookSecret == "" {
		middleware.ErrorResponse(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, middleware.MaxJSONBody))
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	ev, err := h.payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			slog.Warn("stripe webhook rejected", "error", err)
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		slog.Error("stripe webhook undecodable", "error", err)
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	var outcome string
	err = withTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(r.Context(), `
			INSERT INTO stripe_events (id, type, received_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, ev.Type, time.Now().UTC())
		if err != nil {
			return err
		}
		if rowsAffected(res) == 0 {
			return errDuplicateEvent
		}
		outcome, err = h.applyEvent(r.Context(), tx, ev)
		return err
	})
	if errors.Is(err, errDuplicateEvent) {
		middleware.WebhookEvents.WithLabelValues(ev.Type, outcomeDuplicate).Inc()
		middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Already processed"})
		return
	}
	if err != nil {
		// Stripe retries on non-2xx
		middleware.WebhookEvents.WithLabelValues(ev.Type, outcomeFailed).Inc()
		serverError(w, "Failed to process webhook", err, "event_id", ev.ID, "type", ev.Type)
		return
	}

	middleware.WebhookEvents.WithLabelValues(ev.Type, outcome).Inc()
	slog.Info("stripe webhook processed", "event_id", ev.ID, "type", ev.Type, "outcome", outcome)
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: outcome})
}

func (h *BillingHandler) applyEvent(ctx context.Context, tx *sql.Tx, ev *models.BillingEvent) (string, error) {
	now := time.Now().UTC()

	switch ev.Type {
	case models.EventCheckoutCompleted:
		did := ev.ClientReferenceID
		if did == "" {
			did = ev.Metadata["dietitian_id"]
		}
		if did == "" {
			slog.Warn("checkout without dietitian reference", "event_id", ev.ID)
			return outcomeIgnored, nil
		}

		switch ev.Mode {
		case billing.ModePayment:
			pack, ok := h.catalog.Pack(ev.Metadata["pack"])
			if !ok {
				slog.Warn("checkout for unknown credit pack", "event_id", ev.ID, "pack", ev.Metadata["pack"])
				return outcomeIgnored, nil
			}
			err := db.AddCredits(ctx, tx, did, pack.Credits, models.CreditReasonPurchase, ev.ID)
			if errors.Is(err, sql.ErrNoRows) {
				return outcomeIgnored, nil
			}
			return outcomeApplied, err

		case billing.ModeSubscription:
			plan, ok := h.catalog.Plan(ev.Metadata["plan"])
			if !ok {
				slog.Warn("checkout for unknown plan", "event_id", ev.ID, "plan", ev.Metadata["plan"])
				return outcomeIgnored, nil
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE dietitians SET stripe_customer_id = $1, subscription_id = $2, subscription_plan = $3,
					subscription_status = 'active', updated_at = $4
				WHERE id = $5
			`, ev.CustomerID, ev.SubscriptionID, plan.ID, now, did)
			if err != nil {
				return "", err
			}
			return appliedIf(res), nil
		}
		return outcomeIgnored, nil

	case models.EventSubscriptionUpdated:
		// Unknown prices keep the current plan
		var plan *string
		if p, ok := h.catalog.PlanForPrice(ev.PriceID); ok {
			plan = &p.ID
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE dietitians SET subscription_status = $1, subscription_id = $2, current_period_end = $3,
				subscription_plan = COALESCE($4, subscription_plan), updated_at = $5
			WHERE stripe_customer_id = $6
		`, ev.SubscriptionStatus, ev.SubscriptionID, ev.CurrentPeriodEnd, plan, now, ev.CustomerID)
		if err != nil {
			return "", err
		}
		return appliedIf(res), nil

	case models.EventSubscriptionDeleted:
		res, err := tx.ExecContext(ctx, `
			UPDATE dietitians SET subscription_plan = 'free', subscription_status = 'canceled',
				subscription_id = NULL, current_period_end = NULL, updated_at = $1
			WHERE stripe_customer_id = $2
		`, now, ev.CustomerID)
		if err != nil {
			return "", err
		}
		return appliedIf(res), nil

	case models.EventInvoicePaid:
		if ev.BillingReason != "subscription_create" && ev.BillingReason != "subscription_cycle" {
			return outcomeIgnored, nil
		}
		var did, current string
		err := tx.QueryRowContext(ctx,
			`SELECT id, subscription_plan FROM dietitians WHERE stripe_customer_id = $1`, ev.CustomerID).Scan(&did, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return outcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		plan, ok := h.catalog.PlanForPrice(ev.PriceID)
		if !ok {
			plan, _ = h.catalog.Plan(current)
		}
		if plan.MonthlyCredits == 0 {
			return outcomeIgnored, nil
		}
		return outcomeApplied, db.AddCredits(ctx, tx, did, plan.MonthlyCredits, models.CreditReasonRenewal, ev.ID)

	case models.EventPaymentFailed:
		var did string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM dietitians WHERE stripe_customer_id = $1`, ev.CustomerID).Scan(&did)
		if errors.Is(err, sql.ErrNoRows) {
			return outcomeIgnored, nil
		}
		if err != nil {
			return "", err
		}
		return outcomeApplied, db.Notify(ctx, tx, did, models.NotifyPaymentFailed,
			"Payment failed", "Your latest subscription payment failed. Update your payment method to keep your plan.")
	}

	return outcomeIgnored, nil
}

// ensureCustomer returns the dietitian's Stripe customer, creating it on first use
func (h *BillingHandler) ensureCustomer(ctx context.Context, did string) (string, error) {
	var email, name string
	var customerID sql.NullString
	err := h.db.QueryRowContext(ctx,
		`SELECT email, full_name, stripe_customer_id FROM dietitians WHERE id = $1`, did).Scan(&email, &name, &customerID)
	if err != nil {
		return "", err
	}
	if customerID.Valid {
		return customerID.String, nil
	}

	id, err := h.payments.CreateCustomer(ctx, email, name, did)
	if err != nil {
		return "", err
	}
	if _, err := h.db.ExecContext(ctx, `
		UPDATE dietitians SET stripe_customer_id = $1, updated_at = $2
		WHERE id = $3 AND stripe_customer_id IS NULL
	`, id, time.Now().UTC(), did); err != nil {
		return "", err
	}
	slog.Info("stripe customer created", "dietitian_id", did)
	return id, nil
}

func (h *BillingHandler) gatewayError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	slog.Error("payment provider error", "op", op, "error", err)
	middleware.ErrorResponse(w, http.StatusBadGateway, "Payment provider unavailable")
}

func appliedIf(res sql.Result) string {
	if rowsAffected(res) == 0 {
		return outcomeIgnored
	}
	return outcomeApplied
}
