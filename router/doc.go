// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the NutriFlow API.

# Route Registration

NewRouter builds every handler from the database, config and external
services, and returns the mux wrapped in CORS and RealIP:

	handler := router.NewRouter(db, cfg, router.Services{...})

Every API route is wrapped with request logging and Prometheus metrics,
labelled by route pattern.

# Guards

  - /api/dietitian, /api/clients, /api/meal-plans, /api/appointments,
    /api/documents, /api/invoices, /api/billing, /api/gdpr and
    /api/notifications require a Supabase access token (RequireDietitian)
  - /api/portal and the signed-in /api/client-auth routes require a live
    client portal session (RequireClient)
  - POST /api/client-auth/login and /api/client-auth/accept-invite are
    rate limited per client IP. X-Forwarded-For is only believed when the
    socket peer is in cfg.TrustedProxies
  - POST /api/webhooks/stripe is public; the handler verifies the signature

# Other Endpoints

	GET /health  - liveness
	GET /metrics - Prometheus scrape
	GET /        - banner
*/
package router
