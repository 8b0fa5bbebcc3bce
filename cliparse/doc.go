// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(os.Args[1:])

# Precedence

CLI flags win over environment variables. A .env file (path set with
-env, default ".env") is loaded with godotenv and never overrides
variables that are already set. A missing .env file is not an error.

# CLI Flags

	-env           Path to .env file
	-p             Server port
	-d             Database URL
	-log-level     debug, info, warn or error
	-app-url       Public URL of the web app
	-origins       Allowed CORS origins, comma separated
	-trust-proxy   Trusted proxy IPs or CIDRs, comma separated
	-client-secret Client portal token secret
	-client-ttl    Client portal token lifetime
	-login-limit   Client login attempts per window
	-login-window  Client login rate limit window
	-gdpr-grace    Delay before approved deletions run

# Environment Variables

	PORT, DATABASE_URL, LOG_LEVEL, APP_URL, ALLOWED_ORIGINS, TRUSTED_PROXIES
	SUPABASE_URL, SUPABASE_ANON_KEY, SUPABASE_SERVICE_KEY, SUPABASE_JWT_SECRET, STORAGE_BUCKET
	CLIENT_JWT_SECRET, CLIENT_TOKEN_TTL, LOGIN_RATE_LIMIT, LOGIN_RATE_WINDOW, GDPR_GRACE_PERIOD
	STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, STRIPE_PRICE_BASIC, STRIPE_PRICE_PRO,
	STRIPE_PRICE_CREDITS_10, STRIPE_PRICE_CREDITS_50
	OPENAI_API_KEY, OPENAI_MODEL

# Validation

ParseFlags returns an error if required values are missing or malformed:

  - DATABASE_URL, SUPABASE_URL and SUPABASE_ANON_KEY must be provided
  - CLIENT_JWT_SECRET must be at least 32 bytes
  - durations must parse and be positive
  - TRUSTED_PROXIES entries must be IP addresses or CIDRs

ALLOWED_ORIGINS defaults to the origin of APP_URL. With no
TRUSTED_PROXIES, forwarding headers are ignored and the socket address
identifies the client.

Stripe and OpenAI settings are optional; StripeEnabled and AIEnabled
report whether those integrations are available.
*/
package cliparse
