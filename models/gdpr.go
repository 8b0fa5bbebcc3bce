// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Consent types a client can grant or withdraw
const (
	ConsentDataProcessing = "data_processing"
	ConsentHealthData     = "health_data"
	ConsentMarketing      = "marketing"
	ConsentAIProcessing   = "ai_processing"
)

// GDPR request types and statuses
const (
	GDPRExport   = "export"
	GDPRDeletion = "deletion"

	GDPRPending   = "pending"
	GDPRApproved  = "approved"
	GDPRRejected  = "rejected"
	GDPRCompleted = "completed"
)

// IsValidConsentType reports whether t is a known consent type
func IsValidConsentType(t string) bool {
	switch t {
	case ConsentDataProcessing, ConsentHealthData, ConsentMarketing, ConsentAIProcessing:
		return true
	}
	return false
}

type ConsentRecord struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	ConsentType string    `json:"consent_type"`
	Granted     bool      `json:"granted"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type ConsentRequest struct {
	ConsentType string `json:"consent_type"`
	Granted     *bool  `json:"granted"`
}

type GDPRRequest struct {
	ID           string     `json:"id"`
	ClientID     string     `json:"client_id"`
	ClientName   string     `json:"client_name,omitempty"`
	RequestType  string     `json:"request_type"`
	Status       string     `json:"status"`
	RequestedAt  time.Time  `json:"requested_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type GDPRDecisionRequest struct {
	Notes string `json:"notes"`
}

// ClientExport is the full data export for one client
type ClientExport struct {
	ExportedAt   time.Time       `json:"exported_at"`
	Client       Client          `json:"client"`
	MealPlans    []MealPlan      `json:"meal_plans"`
	Appointments []Appointment   `json:"appointments"`
	Documents    []Document      `json:"documents"`
	Invoices     []Invoice       `json:"invoices"`
	Consents     []ConsentRecord `json:"consents"`
}
