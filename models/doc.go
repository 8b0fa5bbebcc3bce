// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Domain Types

One struct per table, JSON-tagged for responses:

  - Dietitian: the tenant, with subscription plan and AI credits
  - Client: a dietitian's patient, optionally with portal access
  - ClientSession: one portal login
  - MealPlan: structured plan (MealPlanContent stored as jsonb)
  - Appointment, Document, Invoice (+ InvoiceItem)
  - ConsentRecord, GDPRRequest, Notification, CreditLedgerEntry

Secrets never leave the server: password hashes and invite tokens have no
fields here at all, and storage paths and Stripe ids are tagged `json:"-"`.

# Request Types

Create and update share one type per resource. Pointer fields let updates
distinguish "not sent" from "set to zero value":

	var req models.ClientRequest
	// req.Email == nil → leave unchanged

# Errors

Every error response has the same shape:

	{"error": "Client not found"}

# Constants

Status values are plain strings that match the CHECK constraints in package db:

	ClientActive, ClientInactive, ClientArchived
	MealPlanDraft, MealPlanPublished, MealPlanArchived
	AppointmentScheduled, AppointmentCompleted, AppointmentCancelled, AppointmentNoShow
	InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceVoid
	GDPRPending, GDPRApproved, GDPRRejected, GDPRCompleted
*/
package models
