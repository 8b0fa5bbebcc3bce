// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Notification kinds
const (
	NotifyAppointmentReminder = "appointment_reminder"
	NotifyAppointmentCancel   = "appointment_cancelled"
	NotifyGDPRRequest         = "gdpr_request"
	NotifyPaymentFailed       = "payment_failed"
)

type Notification struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
