// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// IsUniqueViolation reports whether err is a Postgres unique_violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Notify inserts a notification for a dietitian
func Notify(ctx context.Context, ex Execer, dietitianID, kind, title, body string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO notifications (id, dietitian_id, kind, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), dietitianID, kind, title, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// AddCredits changes a dietitian's AI credit balance and records the
// change in the ledger. Run it inside a transaction.
func AddCredits(ctx context.Context, ex Execer, dietitianID string, delta int, reason, reference string) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE dietitians SET ai_credits = ai_credits + $1, updated_at = $2
		WHERE id = $3
	`, delta, time.Now().UTC(), dietitianID)
	if err != nil {
		return fmt.Errorf("failed to update credits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, dietitian_id, delta, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), dietitianID, delta, reason, reference, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record credit change: %w", err)
	}
	return nil
}
