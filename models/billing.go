// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Credit ledger reasons
const (
	CreditReasonSignup     = "signup_bonus"
	CreditReasonPurchase   = "purchase"
	CreditReasonGeneration = "ai_generation"
	CreditReasonRefund     = "ai_generation_refund"
	CreditReasonRenewal    = "subscription_renewal"
)

// Stripe event types handled by the webhook
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
	EventInvoicePaid         = "invoice.paid"
)

type SubscriptionResponse struct {
	Plan             string     `json:"plan"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	AICredits        int        `json:"ai_credits"`
	ClientLimit      int        `json:"client_limit"` // 0 = unlimited
	ActiveClients    int        `json:"active_clients"`
}

type CheckoutRequest struct {
	Plan string `json:"plan"`
}

type CreditsCheckoutRequest struct {
	Pack string `json:"pack"`
}

type CreditLedgerEntry struct {
	ID        string    `json:"id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BillingEvent is a verified webhook event reduced to the fields the app uses
type BillingEvent struct {
	ID                 string
	Type               string
	CustomerID         string
	SubscriptionID     string
	SubscriptionStatus string
	PriceID            string
	Mode               string // checkout mode: "payment" or "subscription"
	ClientReferenceID  string
	BillingReason      string // invoices: subscription_create, subscription_cycle, ...
	CurrentPeriodEnd   *time.Time
	Metadata           map[string]string
}
