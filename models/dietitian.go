// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Subscription plans
const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
)

// Credits granted to a new account
const StarterCredits = 3

type Dietitian struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	PracticeName       string     `json:"practice_name"`
	Phone              string     `json:"phone,omitempty"`
	Timezone           string     `json:"timezone"`
	SubscriptionPlan   string     `json:"subscription_plan"`
	SubscriptionStatus string     `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	AICredits          int        `json:"ai_credits"`
	StripeCustomerID   *string    `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type SignUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	PracticeName string `json:"practice_name"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// AuthSessionResponse is returned by dietitian signup, login and refresh
type AuthSessionResponse struct {
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresIn    int        `json:"expires_in,omitempty"`
	Dietitian    *Dietitian `json:"dietitian,omitempty"`
	// Set when the auth provider requires email confirmation before a session exists
	ConfirmationRequired bool `json:"confirmation_required,omitempty"`
}

type UpdateProfileRequest struct {
	FullName     *string `json:"full_name"`
	PracticeName *string `json:"practice_name"`
	Phone        *string `json:"phone"`
	Timezone     *string `json:"timezone"`
}
