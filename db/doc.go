// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db handles database schema creation and a few shared writes.

# Schema Creation

CreateSchema initializes all required tables on the Supabase Postgres:

	if err := db.CreateSchema(ctx, conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tenancy

Every tenant-owned table carries dietitian_id. The API connects with
service credentials, so row level security does not apply; queries must
filter on dietitian_id themselves.

# Shared Writes

Notify and AddCredits take an Execer so they can join a caller's
transaction:

	tx, _ := conn.BeginTx(ctx, nil)
	db.AddCredits(ctx, tx, dietitianID, 10, models.CreditReasonPurchase, eventID)
*/
package db
