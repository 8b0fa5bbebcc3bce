// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the NutriFlow API.

# Handler Types

Each handler is a struct holding the database, config and whatever
external services it calls, behind small interfaces (deps.go):

  - AuthHandler, DietitianHandler: dietitian accounts and profile
  - ClientHandler: client records, portal invites and revocation
  - ClientAuthHandler: client portal login, invites, password changes
  - MealPlanHandler: meal plans and AI generation
  - AppointmentHandler: scheduling with overlap checks
  - DocumentHandler: uploads to object storage and signed downloads
  - InvoiceHandler: numbered invoices and their status transitions
  - BillingHandler: subscriptions, AI credits and the Stripe webhook
  - GDPRHandler: consents, exports and data subject requests
  - NotificationHandler: dietitian notifications
  - PortalHandler: what a signed-in client can see and do

# Tenancy

Every dietitian query filters on the authenticated dietitian id, and
every portal query on the client and their dietitian. A row owned by
someone else is reported as not found.

# Errors

Errors are written as {"error": "..."} with the status that describes
them: 400 for bad input, 402 without AI credits, 403 over the plan's
client limit, 404, 409 for state conflicts and duplicates, 413 for
oversized uploads, 429 when throttled, 502/503 when an upstream service
fails or is not configured.
*/
package handlers
