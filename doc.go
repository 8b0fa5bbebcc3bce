// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the NutriFlow API server.

NutriFlow is a practice management service for dietitians: clients, meal
plans (hand written or AI drafted), appointments, documents, invoices and
GDPR records, plus a portal where clients see what their dietitian shared.

# Starting the Server

The server reads a .env file, the environment and CLI flags:

	DATABASE_URL=postgres://... go run .

Or with flags:

	go run . -p 3318 -d "postgres://..."

# Configuration

Required settings:

  - DATABASE_URL (-d): PostgreSQL connection string
  - SUPABASE_URL, SUPABASE_ANON_KEY: hosted auth for dietitians
  - CLIENT_JWT_SECRET (-client-secret): signs client portal tokens, 32+ bytes

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - SUPABASE_SERVICE_KEY: enables document storage
  - STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET: enable billing
  - OPENAI_API_KEY: enables meal plan generation

# Architecture

  - handlers: HTTP request handlers for the dietitian API and client portal
  - router: Route definitions using Go 1.22+ routing
  - middleware: CORS, logging, metrics, auth guards, login rate limiting
  - auth: client portal tokens and sessions, Supabase token verification
  - supabase: Supabase Auth and Storage REST client
  - billing: Stripe checkout, portal and webhook parsing
  - ai: OpenAI meal plan generation
  - jobs: cron scheduled housekeeping
  - models: Request/response types
  - db: Schema creation and shared SQL helpers
  - cliparse: Configuration parsing
  - logging: slog setup

See package documentation for each component.
*/
package main
