// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/middleware"
)

// errConflict aborts a transaction whose row changed state underneath it
var errConflict = errors.New("conflict")

// scanner is a *sql.Row or *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// dietitianID returns the authenticated dietitian; routes are guarded so it is always set
func dietitianID(r *http.Request) string {
	if id, ok := middleware.DietitianFromContext(r.Context()); ok {
		return id.ID
	}
	return ""
}

// portalClient returns the authenticated portal client
func portalClient(r *http.Request) *auth.ClientAuth {
	if c, ok := middleware.ClientFromContext(r.Context()); ok {
		return c
	}
	return &auth.ClientAuth{}
}

// pathID reads a UUID path parameter, answering 400 when it is malformed
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if !auth.IsValidID(id) {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid "+name)
		return "", false
	}
	return id, true
}

// serverError logs err and answers 500 with a generic message
func serverError(w http.ResponseWriter, msg string, err error, attrs ...any) {
	slog.Error(strings.ToLower(msg), append(attrs, "error", err)...)
	middleware.ErrorResponse(w, http.StatusInternalServerError, msg)
}

// validEmail is a light syntax check; the address is normalized to lower case
func validEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return s, true
}

// parseDate parses YYYY-MM-DD; empty input is nil
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return &t, nil
}

// clientBelongs reports whether a client exists for the dietitian
func clientBelongs(ctx context.Context, db *sql.DB, clientID, dietitianID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM clients WHERE id = $1 AND dietitian_id = $2)
	`, clientID, dietitianID).Scan(&exists)
	return exists, err
}

// rowsAffected returns 0 when the driver can't tell
func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// queryBuilder appends WHERE conditions with numbered placeholders
type queryBuilder struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string, args ...any) *queryBuilder {
	q := &queryBuilder{args: args}
	q.sql.WriteString(base)
	return q
}

// where adds "AND <cond>" where cond uses ? for the single argument
func (q *queryBuilder) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql.WriteString(" AND ")
	q.sql.WriteString(strings.Replace(cond, "?", fmt.Sprintf("$%d", len(q.args)), 1))
}

func (q *queryBuilder) then(s string) *queryBuilder {
	q.sql.WriteString(" ")
	q.sql.WriteString(s)
	return q
}

func (q *queryBuilder) String() string { return q.sql.String() }

// withTx runs fn in a transaction, committing when it returns nil
func withTx(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
