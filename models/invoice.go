// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Invoice status constants
const (
	InvoiceDraft = "draft"
	InvoiceSent  = "sent"
	InvoicePaid  = "paid"
	InvoiceVoid  = "void"
)

// Per-item limits; quantity is stored in an INTEGER column
const (
	MaxItemQuantity   = 100_000
	MaxUnitPriceCents = 10_000_000_000
	MaxInvoiceItems   = 200
)

// ErrTotalTooLarge is returned when an invoice total does not fit in int64
var ErrTotalTooLarge = errors.New("invoice total is too large")

type Invoice struct {
	ID           string        `json:"id"`
	DietitianID  string        `json:"dietitian_id"`
	ClientID     string        `json:"client_id"`
	Number       string        `json:"number"`
	Status       string        `json:"status"`
	Currency     string        `json:"currency"`
	TotalCents   int64         `json:"total_cents"`
	TotalDisplay string        `json:"total_display"`
	IssuedAt     *time.Time    `json:"issued_at,omitempty"`
	DueDate      *time.Time    `json:"due_date,omitempty"`
	PaidAt       *time.Time    `json:"paid_at,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	Items        []InvoiceItem `json:"items,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type InvoiceItem struct {
	ID             string `json:"id,omitempty"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type InvoiceRequest struct {
	ClientID *string       `json:"client_id"`
	Currency *string       `json:"currency"`
	DueDate  *string       `json:"due_date"`
	Notes    *string       `json:"notes"`
	Items    []InvoiceItem `json:"items"`
}

// InvoiceTotal sums quantity * unit price over all items. Items must have
// non-negative quantity and price.
func InvoiceTotal(items []InvoiceItem) (int64, error) {
	var total int64
	for _, it := range items {
		if it.Quantity < 0 || it.UnitPriceCents < 0 {
			return 0, errors.New("invoice items cannot be negative")
		}
		if it.Quantity == 0 || it.UnitPriceCents == 0 {
			continue
		}
		q := int64(it.Quantity)
		if it.UnitPriceCents > (math.MaxInt64-total)/q {
			return 0, ErrTotalTooLarge
		}
		total += q * it.UnitPriceCents
	}
	return total, nil
}

// FormatAmount renders cents as "1,234.50 EUR"
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + humanize.FormatFloat("#,###.##", float64(cents)/100) + " " + strings.ToUpper(currency)
}
