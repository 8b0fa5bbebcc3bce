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
	"regexp"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/lib/pq"
)

const invoiceColumns = `id, dietitian_id, client_id, number, status, currency, total_cents,
	issued_at, due_date, paid_at, notes, created_at, updated_at`

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

// errNoProfile means the dietitian row is missing, not the client
var errNoProfile = errors.New("dietitian profile not found")

func scanInvoice(s scanner) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.Scan(&inv.ID, &inv.DietitianID, &inv.ClientID, &inv.Number, &inv.Status, &inv.Currency,
		&inv.TotalCents, &inv.IssuedAt, &inv.DueDate, &inv.PaidAt, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.TotalDisplay = models.FormatAmount(inv.TotalCents, inv.Currency)
	return &inv, nil
}

type InvoiceHandler struct {
	db *sql.DB
}

func NewInvoiceHandler(db *sql.DB) *InvoiceHandler {
	return &InvoiceHandler{db: db}
}

// ListInvoices handles GET /api/invoices?status=&client_id=
func (h *InvoiceHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT `+invoiceColumns+` FROM invoices WHERE dietitian_id = $1`, dietitianID(r))
	if status := r.URL.Query().Get("status"); status != "" {
		switch status {
		case models.InvoiceDraft, models.InvoiceSent, models.InvoicePaid, models.InvoiceVoid:
			q.where("status = ?", status)
		default:
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
	}
	if clientID := r.URL.Query().Get("client_id"); clientID != "" {
		if !auth.IsValidID(clientID) {
			middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid client_id")
			return
		}
		q.where("client_id = ?", clientID)
	}
	q.then("ORDER BY created_at DESC")

	invoices, err := queryInvoices(r.Context(), h.db, q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list invoices", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, invoices)
}

// CreateInvoice handles POST /api/invoices
// Numbers run per dietitian per year: INV-2025-0001, INV-2025-0002, ...
func (h *InvoiceHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req models.InvoiceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ClientID == nil || !auth.IsValidID(*req.ClientID) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "A valid client_id is required")
		return
	}
	if req.Items == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "At least one item is required")
		return
	}

	inv := &models.Invoice{
		ID:          auth.NewID(),
		DietitianID: dietitianID(r),
		ClientID:    *req.ClientID,
		Status:      models.InvoiceDraft,
		Currency:    "eur",
	}
	if msg := applyInvoiceRequest(inv, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}

	err := withTx(r.Context(), h.db, func(tx *sql.Tx) error {
		// Serializes numbering per dietitian
		var locked string
		err := tx.QueryRowContext(r.Context(),
			`SELECT id FROM dietitians WHERE id = $1 FOR UPDATE`, inv.DietitianID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return errNoProfile
		}
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRowContext(r.Context(), `
			SELECT EXISTS(SELECT 1 FROM clients WHERE id = $1 AND dietitian_id = $2)
		`, inv.ClientID, inv.DietitianID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return sql.ErrNoRows
		}

		now := time.Now().UTC()
		prefix := fmt.Sprintf("INV-%d-", now.Year())
		var last int
		if err := tx.QueryRowContext(r.Context(), `
			SELECT COALESCE(MAX(CAST(SUBSTRING(number FROM $1) AS INTEGER)), 0)
			FROM invoices WHERE dietitian_id = $2 AND number LIKE $3
		`, len(prefix)+1, inv.DietitianID, prefix+"%").Scan(&last); err != nil {
			return err
		}
		inv.Number = fmt.Sprintf("INV-%d-%04d", now.Year(), last+1)
		inv.CreatedAt, inv.UpdatedAt = now, now

		if _, err := tx.ExecContext(r.Context(), `
			INSERT INTO invoices (id, dietitian_id, client_id, number, status, currency, total_cents, due_date, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		`, inv.ID, inv.DietitianID, inv.ClientID, inv.Number, inv.Status, inv.Currency, inv.TotalCents,
			inv.DueDate, inv.Notes, now); err != nil {
			return err
		}
		return insertInvoiceItems(r.Context(), tx, inv)
	})
	if errors.Is(err, errNoProfile) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Profile not found")
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if db.IsUniqueViolation(err) {
		middleware.ErrorResponse(w, http.StatusConflict, "Invoice number already taken, please retry")
		return
	}
	if err != nil {
		serverError(w, "Failed to create invoice", err)
		return
	}

	slog.Info("invoice created", "invoice_id", inv.ID, "number", inv.Number)
	middleware.JSONResponse(w, http.StatusCreated, inv)
}

// GetInvoice handles GET /api/invoices/{id}
func (h *InvoiceHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inv, err := loadInvoice(r.Context(), h.db, `id = $1 AND dietitian_id = $2`, id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Invoice not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load invoice", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, inv)
}

// UpdateInvoice handles PUT /api/invoices/{id}; drafts only
func (h *InvoiceHandler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.InvoiceRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	inv, err := loadInvoice(r.Context(), h.db, `id = $1 AND dietitian_id = $2`, id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Invoice not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load invoice", err)
		return
	}
	if inv.Status != models.InvoiceDraft {
		middleware.ErrorResponse(w, http.StatusConflict, "Only draft invoices can be edited")
		return
	}
	if req.ClientID != nil && *req.ClientID != inv.ClientID {
		middleware.ErrorResponse(w, http.StatusBadRequest, "client_id cannot be changed")
		return
	}
	if msg := applyInvoiceRequest(inv, &req); msg != "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, msg)
		return
	}
	inv.UpdatedAt = time.Now().UTC()

	err = withTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(r.Context(), `
			UPDATE invoices SET currency = $1, total_cents = $2, due_date = $3, notes = $4, updated_at = $5
			WHERE id = $6 AND dietitian_id = $7 AND status = 'draft'
		`, inv.Currency, inv.TotalCents, inv.DueDate, inv.Notes, inv.UpdatedAt, inv.ID, inv.DietitianID)
		if err != nil {
			return err
		}
		if rowsAffected(res) == 0 {
			return errConflict
		}
		if req.Items == nil {
			return nil
		}
		if _, err := tx.ExecContext(r.Context(), `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
			return err
		}
		return insertInvoiceItems(r.Context(), tx, inv)
	})
	if errors.Is(err, errConflict) {
		middleware.ErrorResponse(w, http.StatusConflict, "Only draft invoices can be edited")
		return
	}
	if err != nil {
		serverError(w, "Failed to update invoice", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, inv)
}

// DeleteInvoice handles DELETE /api/invoices/{id}; drafts only
func (h *InvoiceHandler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	res, err := h.db.ExecContext(r.Context(),
		`DELETE FROM invoices WHERE id = $1 AND dietitian_id = $2 AND status = 'draft'`, id, did)
	if err != nil {
		serverError(w, "Failed to delete invoice", err)
		return
	}
	if rowsAffected(res) == 0 {
		h.missingOrConflict(w, r, id, did, "Only draft invoices can be deleted")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Invoice deleted"})
}

// SendInvoice handles POST /api/invoices/{id}/send
func (h *InvoiceHandler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.InvoiceSent, "issued_at", models.InvoiceDraft)
}

// MarkPaid handles POST /api/invoices/{id}/mark-paid
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.InvoicePaid, "paid_at", models.InvoiceSent)
}

// VoidInvoice handles POST /api/invoices/{id}/void
func (h *InvoiceHandler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, models.InvoiceVoid, "", models.InvoiceDraft, models.InvoiceSent)
}

// transition moves an invoice to status `to` if it is in one of `from`,
// stamping stampColumn with the current time when set
func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, to, stampColumn string, from ...string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	set := "status = $1, updated_at = $2"
	if stampColumn != "" {
		set += ", " + stampColumn + " = $2"
	}
	inv, err := scanInvoice(h.db.QueryRowContext(r.Context(), `
		UPDATE invoices SET `+set+`
		WHERE id = $3 AND dietitian_id = $4 AND status = ANY($5)
		RETURNING `+invoiceColumns, to, time.Now().UTC(), id, did, pq.Array(from)))
	if errors.Is(err, sql.ErrNoRows) {
		h.missingOrConflict(w, r, id, did,
			fmt.Sprintf("Only %s invoices can be marked %s", strings.Join(from, " or "), to))
		return
	}
	if err != nil {
		serverError(w, "Failed to update invoice", err)
		return
	}

	slog.Info("invoice status changed", "invoice_id", inv.ID, "status", to)
	middleware.JSONResponse(w, http.StatusOK, inv)
}

// missingOrConflict tells a missing invoice (404) from one in the wrong state (409)
func (h *InvoiceHandler) missingOrConflict(w http.ResponseWriter, r *http.Request, id, did, conflictMsg string) {
	var exists bool
	err := h.db.QueryRowContext(r.Context(),
		`SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1 AND dietitian_id = $2)`, id, did).Scan(&exists)
	if err != nil {
		serverError(w, "Failed to update invoice", err)
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Invoice not found")
		return
	}
	middleware.ErrorResponse(w, http.StatusConflict, conflictMsg)
}

// loadInvoice loads one invoice with its items; cond selects it with $1, $2
func loadInvoice(ctx context.Context, conn *sql.DB, cond string, args ...any) (*models.Invoice, error) {
	inv, err := scanInvoice(conn.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+cond, args...))
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, description, quantity, unit_price_cents FROM invoice_items
		WHERE invoice_id = $1 ORDER BY description
	`, inv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inv.Items = []models.InvoiceItem{}
	for rows.Next() {
		var it models.InvoiceItem
		if err := rows.Scan(&it.ID, &it.Description, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, it)
	}
	return inv, rows.Err()
}

func queryInvoices(ctx context.Context, conn *sql.DB, query string, args ...any) ([]models.Invoice, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func insertInvoiceItems(ctx context.Context, tx *sql.Tx, inv *models.Invoice) error {
	for i := range inv.Items {
		inv.Items[i].ID = auth.NewID()
		it := inv.Items[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, description, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, it.ID, inv.ID, it.Description, it.Quantity, it.UnitPriceCents); err != nil {
			return err
		}
	}
	return nil
}

func applyInvoiceRequest(inv *models.Invoice, req *models.InvoiceRequest) string {
	if req.Currency != nil {
		c := strings.ToLower(strings.TrimSpace(*req.Currency))
		if !currencyPattern.MatchString(c) {
			return "currency must be a 3-letter ISO code"
		}
		inv.Currency = c
	}
	if req.DueDate != nil {
		d, err := parseDate(*req.DueDate)
		if err != nil {
			return err.Error()
		}
		inv.DueDate = d
	}
	if req.Notes != nil {
		inv.Notes = *req.Notes
	}
	if req.Items != nil {
		if len(req.Items) == 0 {
			return "At least one item is required"
		}
		if len(req.Items) > models.MaxInvoiceItems {
			return fmt.Sprintf("An invoice can have at most %d items", models.MaxInvoiceItems)
		}
		items := make([]models.InvoiceItem, len(req.Items))
		for i, it := range req.Items {
			it.Description = strings.TrimSpace(it.Description)
			if it.Description == "" {
				return fmt.Sprintf("item %d: description is required", i+1)
			}
			if it.Quantity <= 0 || it.Quantity > models.MaxItemQuantity {
				return fmt.Sprintf("item %d: quantity must be between 1 and %d", i+1, models.MaxItemQuantity)
			}
			if it.UnitPriceCents < 0 {
				return fmt.Sprintf("item %d: unit_price_cents cannot be negative", i+1)
			}
			if it.UnitPriceCents > models.MaxUnitPriceCents {
				return fmt.Sprintf("item %d: unit_price_cents cannot exceed %d", i+1, int64(models.MaxUnitPriceCents))
			}
			it.ID = ""
			items[i] = it
		}
		total, err := models.InvoiceTotal(items)
		if err != nil {
			return "Invoice total is too large"
		}
		inv.Items = items
		inv.TotalCents = total
	}
	inv.TotalDisplay = models.FormatAmount(inv.TotalCents, inv.Currency)
	return ""
}
