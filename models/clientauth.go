// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

type ClientLoginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DietitianID string `json:"dietitian_id,omitempty"`
}

type AcceptInviteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ClientLoginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Client    ClientProfile `json:"client"`
}

type ClientSession struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id"`
	DietitianID string     `json:"dietitian_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}
