// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Client status constants
const (
	ClientActive   = "active"
	ClientInactive = "inactive"
	ClientArchived = "archived"
)

type Client struct {
	ID                  string     `json:"id"`
	DietitianID         string     `json:"dietitian_id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Email               string     `json:"email"`
	Phone               string     `json:"phone,omitempty"`
	DateOfBirth         *time.Time `json:"date_of_birth,omitempty"`
	Gender              string     `json:"gender,omitempty"`
	HeightCM            *float64   `json:"height_cm,omitempty"`
	WeightKG            *float64   `json:"weight_kg,omitempty"`
	Goals               string     `json:"goals,omitempty"`
	Allergies           []string   `json:"allergies"`
	DietaryRestrictions []string   `json:"dietary_restrictions"`
	MedicalNotes        string     `json:"medical_notes,omitempty"`
	Status              string     `json:"status"`
	PortalEnabled       bool       `json:"portal_enabled"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// FullName joins first and last name
func (c Client) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// ClientRequest is used for both create and update; update treats nil as unchanged
type ClientRequest struct {
	FirstName           *string   `json:"first_name"`
	LastName            *string   `json:"last_name"`
	Email               *string   `json:"email"`
	Phone               *string   `json:"phone"`
	DateOfBirth         *string   `json:"date_of_birth"` // YYYY-MM-DD
	Gender              *string   `json:"gender"`
	HeightCM            *float64  `json:"height_cm"`
	WeightKG            *float64  `json:"weight_kg"`
	Goals               *string   `json:"goals"`
	Allergies           *[]string `json:"allergies"`
	DietaryRestrictions *[]string `json:"dietary_restrictions"`
	MedicalNotes        *string   `json:"medical_notes"`
	Status              *string   `json:"status"`
}

type PortalInviteResponse struct {
	InviteURL string    `json:"invite_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClientProfile is what a portal client sees about themself
type ClientProfile struct {
	ID                  string   `json:"id"`
	DietitianID         string   `json:"dietitian_id"`
	DietitianName       string   `json:"dietitian_name"`
	PracticeName        string   `json:"practice_name"`
	FirstName           string   `json:"first_name"`
	LastName            string   `json:"last_name"`
	Email               string   `json:"email"`
	Goals               string   `json:"goals,omitempty"`
	Allergies           []string `json:"allergies"`
	DietaryRestrictions []string `json:"dietary_restrictions"`
}
