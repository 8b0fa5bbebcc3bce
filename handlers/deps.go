// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/danielhkuo/nutriflow/ai"
	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/supabase"
)

// AuthProvider is the hosted identity service dietitians sign in with.
// *supabase.Client satisfies it.
type AuthProvider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*supabase.User, *supabase.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	RecoverPassword(ctx context.Context, email, redirectTo string) error
}

// ObjectStorage holds uploaded documents. *supabase.Client satisfies it.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error
	CreateSignedURL(ctx context.Context, bucket, path string, expiresIn time.Duration) (string, error)
	Remove(ctx context.Context, bucket string, paths []string) error
}

// PaymentGateway is the payment provider. *billing.StripeGateway satisfies it.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, email, name, dietitianID string) (string, error)
	CheckoutURL(ctx context.Context, p billing.CheckoutParams) (string, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (*models.BillingEvent, error)
}

// MealPlanGenerator drafts meal plans. *ai.Generator satisfies it.
type MealPlanGenerator interface {
	Generate(ctx context.Context, req ai.PlanRequest) (*ai.GeneratedPlan, error)
}

// SessionStore manages portal sessions. *auth.ClientAuthenticator satisfies it.
type SessionStore interface {
	StartSession(ctx context.Context, clientID, dietitianID, ipHash, userAgent string) (string, time.Time, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeClientSessions(ctx context.Context, clientID, keepSessionID string) error
}

// GenerationThrottle limits AI generations per dietitian. *ai.Throttle satisfies it.
type GenerationThrottle interface {
	Allow(dietitianID string) bool
}

// compile-time checks
var (
	_ AuthProvider       = (*supabase.Client)(nil)
	_ ObjectStorage      = (*supabase.Client)(nil)
	_ PaymentGateway     = (*billing.StripeGateway)(nil)
	_ MealPlanGenerator  = (*ai.Generator)(nil)
	_ GenerationThrottle = (*ai.Throttle)(nil)
)

// setCookie writes an HttpOnly session cookie; an empty value clears it
func setCookie(w http.ResponseWriter, name, value string, expires time.Time, secure bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	} else {
		c.Expires = expires
	}
	http.SetCookie(w, c)
}
