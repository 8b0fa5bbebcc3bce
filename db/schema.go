// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Tables lists every table in dependency order, children last
var Tables = []string{
	"dietitians",
	"clients",
	"client_sessions",
	"meal_plans",
	"appointments",
	"documents",
	"invoices",
	"invoice_items",
	"consent_records",
	"gdpr_requests",
	"credit_ledger",
	"stripe_events",
	"notifications",
}

const Schema = `
-- Dietitians (id is the Supabase auth user id)
CREATE TABLE IF NOT EXISTS dietitians (
    id UUID PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    full_name TEXT NOT NULL,
    practice_name TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    timezone TEXT NOT NULL DEFAULT 'UTC',
    stripe_customer_id TEXT UNIQUE,
    subscription_plan TEXT NOT NULL DEFAULT 'free' CHECK (subscription_plan IN ('free', 'basic', 'pro')),
    subscription_status TEXT NOT NULL DEFAULT 'inactive',
    subscription_id TEXT,
    current_period_end TIMESTAMPTZ,
    ai_credits INTEGER NOT NULL DEFAULT 0 CHECK (ai_credits >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Clients
CREATE TABLE IF NOT EXISTS clients (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    date_of_birth DATE,
    gender TEXT NOT NULL DEFAULT '',
    height_cm NUMERIC(5,1),
    weight_kg NUMERIC(5,1),
    goals TEXT NOT NULL DEFAULT '',
    allergies TEXT[] NOT NULL DEFAULT '{}',
    dietary_restrictions TEXT[] NOT NULL DEFAULT '{}',
    medical_notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'archived')),
    portal_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    password_hash TEXT,
    invite_token_hash TEXT UNIQUE,
    invite_expires_at TIMESTAMPTZ,
    last_login_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (dietitian_id, email)
);

CREATE INDEX IF NOT EXISTS idx_clients_dietitian ON clients(dietitian_id);
CREATE INDEX IF NOT EXISTS idx_clients_email ON clients(LOWER(email));

-- Client portal sessions (jti of the client token)
CREATE TABLE IF NOT EXISTS client_sessions (
    id UUID PRIMARY KEY,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    ip_hash TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    revoked_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_client_sessions_client ON client_sessions(client_id);

-- Meal plans
CREATE TABLE IF NOT EXISTS meal_plans (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    start_date DATE,
    end_date DATE,
    target_calories INTEGER,
    content JSONB NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published', 'archived')),
    ai_generated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_meal_plans_client ON meal_plans(dietitian_id, client_id);

-- Appointments
CREATE TABLE IF NOT EXISTS appointments (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL,
    ends_at TIMESTAMPTZ NOT NULL,
    location TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'completed', 'cancelled', 'no_show')),
    reminder_sent_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (ends_at > starts_at)
);

CREATE INDEX IF NOT EXISTS idx_appointments_range ON appointments(dietitian_id, starts_at);

-- Documents (bytes live in Supabase Storage)
CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    file_name TEXT NOT NULL,
    content_type TEXT NOT NULL,
    size_bytes BIGINT NOT NULL,
    storage_path TEXT NOT NULL UNIQUE,
    shared_with_client BOOLEAN NOT NULL DEFAULT FALSE,
    uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_documents_client ON documents(dietitian_id, client_id);

-- Invoices
CREATE TABLE IF NOT EXISTS invoices (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    number TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'sent', 'paid', 'void')),
    currency TEXT NOT NULL DEFAULT 'eur',
    total_cents BIGINT NOT NULL DEFAULT 0,
    issued_at TIMESTAMPTZ,
    due_date DATE,
    paid_at TIMESTAMPTZ,
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (dietitian_id, number)
);

CREATE TABLE IF NOT EXISTS invoice_items (
    id UUID PRIMARY KEY,
    invoice_id UUID NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents >= 0)
);

CREATE INDEX IF NOT EXISTS idx_invoice_items_invoice ON invoice_items(invoice_id);

-- GDPR
CREATE TABLE IF NOT EXISTS consent_records (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    consent_type TEXT NOT NULL,
    granted BOOLEAN NOT NULL,
    ip_hash TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_consent_records_client ON consent_records(client_id, consent_type, recorded_at DESC);

CREATE TABLE IF NOT EXISTS gdpr_requests (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    client_id UUID REFERENCES clients(id) ON DELETE SET NULL,
    request_type TEXT NOT NULL CHECK (request_type IN ('export', 'deletion')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'completed')),
    requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    scheduled_for TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_gdpr_requests_due ON gdpr_requests(status, scheduled_for);

-- Billing
CREATE TABLE IF NOT EXISTS credit_ledger (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_credit_ledger_dietitian ON credit_ledger(dietitian_id, created_at DESC);

CREATE TABLE IF NOT EXISTS stripe_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Notifications
CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY,
    dietitian_id UUID NOT NULL REFERENCES dietitians(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    read_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_dietitian ON notifications(dietitian_id, created_at DESC);
`
