// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/robfig/cron/v3"
)

const (
	// SessionRetention is how long expired or revoked sessions are kept
	SessionRetention = 24 * time.Hour
	// ReminderLead is how far ahead appointment reminders go out
	ReminderLead = 24 * time.Hour

	jobTimeout = 5 * time.Minute
)

// ObjectRemover deletes stored documents. *supabase.Client satisfies it.
type ObjectRemover interface {
	Remove(ctx context.Context, bucket string, paths []string) error
}

// Sweeper drops stale login rate-limit windows
type Sweeper interface {
	Sweep() int
}

// Cleaner drops idle AI generation limiters
type Cleaner interface {
	Cleanup()
}

// Runner owns the cron schedule for housekeeping work
type Runner struct {
	db       *sql.DB
	storage  ObjectRemover
	bucket   string
	limiter  Sweeper
	throttle Cleaner
	cron     *cron.Cron
	now      func() time.Time
}

// New creates a Runner; limiter and throttle may be nil
func New(conn *sql.DB, storage ObjectRemover, bucket string, limiter Sweeper, throttle Cleaner) *Runner {
	logger := slogLogger{}
	return &Runner{
		db:       conn,
		storage:  storage,
		bucket:   bucket,
		limiter:  limiter,
		throttle: throttle,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		now: time.Now,
	}
}

// Start registers every job and starts the scheduler
func (r *Runner) Start() error {
	schedule := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{"@every 15m", "purge_sessions", r.purgeSessions},
		{"@every 1h", "appointment_reminders", r.sendReminders},
		{"0 3 * * *", "gdpr_deletions", r.runGDPRDeletions},
		{"@every 10m", "sweep_limiters", r.sweepLimiters},
	}
	for _, s := range schedule {
		if _, err := r.cron.AddFunc(s.spec, r.wrap(s.name, s.fn)); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", s.name, err)
		}
	}
	r.cron.Start()
	slog.Info("background jobs started", "jobs", len(schedule))
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("background jobs still running at shutdown")
	}
}

func (r *Runner) wrap(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		middleware.JobRuns.WithLabelValues(name, strconv.FormatBool(err == nil)).Inc()
		if err != nil {
			slog.Error("job failed", "job", name, "error", err)
			return
		}
		slog.Debug("job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (r *Runner) purgeSessions(ctx context.Context) error {
	_, err := r.PurgeSessions(ctx)
	return err
}

func (r *Runner) sendReminders(ctx context.Context) error {
	_, err := r.SendReminders(ctx)
	return err
}

func (r *Runner) runGDPRDeletions(ctx context.Context) error {
	_, err := r.RunGDPRDeletions(ctx)
	return err
}

func (r *Runner) sweepLimiters(ctx context.Context) error {
	r.SweepLimiters()
	return nil
}

// PurgeSessions deletes portal sessions that expired or were revoked
// more than SessionRetention ago
func (r *Runner) PurgeSessions(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-SessionRetention)
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM client_sessions
		WHERE expires_at < $1 OR revoked_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("purged client sessions", "count", n)
	}
	return n, nil
}

type reminder struct {
	id, dietitianID, title, clientName string
	startsAt                            time.Time
}

// SendReminders notifies dietitians about scheduled appointments starting
// within ReminderLead. Each appointment is reminded once.
func (r *Runner) SendReminders(ctx context.Context) (int, error) {
	now := r.now().UTC()
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.dietitian_id, a.title, a.starts_at, TRIM(c.first_name || ' ' || c.last_name)
		FROM appointments a JOIN clients c ON c.id = a.client_id
		WHERE a.status = 'scheduled' AND a.reminder_sent_at IS NULL
		  AND a.starts_at > $1 AND a.starts_at <= $2
		ORDER BY a.starts_at
	`, now, now.Add(ReminderLead))
	if err != nil {
		return 0, fmt.Errorf("failed to load upcoming appointments: %w", err)
	}

	var due []reminder
	for rows.Next() {
		var rem reminder
		if err := rows.Scan(&rem.id, &rem.dietitianID, &rem.title, &rem.startsAt, &rem.clientName); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, rem)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, rem := range due {
		ok, err := r.remind(ctx, rem, now)
		if err != nil {
			slog.Error("failed to send reminder", "appointment_id", rem.id, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			sent++
		}
	}
	if sent > 0 {
		slog.Info("appointment reminders sent", "count", sent)
	}
	return sent, errors.Join(errs...)
}

// remind claims the appointment and writes the notification in one transaction
func (r *Runner) remind(ctx context.Context, rem reminder, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE appointments SET reminder_sent_at = $1
		WHERE id = $2 AND reminder_sent_at IS NULL
	`, now, rem.id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	body := fmt.Sprintf("%s with %s at %s", rem.title, rem.clientName,
		rem.startsAt.UTC().Format("Mon 2 Jan 15:04 MST"))
	if err := db.Notify(ctx, tx, rem.dietitianID, models.NotifyAppointmentReminder, "Upcoming appointment", body); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

type deletion struct {
	id, dietitianID string
	clientID        sql.NullString
}

// RunGDPRDeletions carries out approved deletion requests whose grace
// period has passed. Stored documents go first; a request whose objects
// cannot be removed is retried on the next run.
func (r *Runner) RunGDPRDeletions(ctx context.Context) (int, error) {
	now := r.now().UTC()
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dietitian_id, client_id FROM gdpr_requests
		WHERE request_type = 'deletion' AND status = 'approved' AND scheduled_for <= $1
		ORDER BY scheduled_for
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due deletions: %w", err)
	}

	var due []deletion
	for rows.Next() {
		var d deletion
		if err := rows.Scan(&d.id, &d.dietitianID, &d.clientID); err != nil {
			rows.Close()
			return 0, err
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	done := 0
	var errs []error
	for _, d := range due {
		if err := r.deleteClientData(ctx, d, now); err != nil {
			slog.Error("gdpr deletion failed", "request_id", d.id, "error", err)
			errs = append(errs, err)
			continue
		}
		slog.Info("gdpr deletion completed", "request_id", d.id, "client_id", d.clientID.String)
		done++
	}
	return done, errors.Join(errs...)
}

func (r *Runner) deleteClientData(ctx context.Context, d deletion, now time.Time) error {
	if d.clientID.Valid {
		paths, err := r.documentPaths(ctx, d.clientID.String, d.dietitianID)
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			if err := r.storage.Remove(ctx, r.bucket, paths); err != nil {
				return fmt.Errorf("failed to remove documents: %w", err)
			}
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if d.clientID.Valid {
		// Cascades to plans, appointments, documents, invoices, consents and sessions
		if _, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = $1 AND dietitian_id = $2`,
			d.clientID.String, d.dietitianID); err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE gdpr_requests SET status = 'completed', completed_at = $1
		WHERE id = $2
	`, now, d.id); err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}
	return tx.Commit()
}

func (r *Runner) documentPaths(ctx context.Context, clientID, dietitianID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT storage_path FROM documents WHERE client_id = $1 AND dietitian_id = $2`,
		clientID, dietitianID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SweepLimiters drops idle in-memory rate limit state
func (r *Runner) SweepLimiters() {
	removed := 0
	if r.limiter != nil {
		removed = r.limiter.Sweep()
	}
	if r.throttle != nil {
		r.throttle.Cleanup()
	}
	slog.Debug("rate limiters swept", "windows_removed", removed)
}

// slogLogger routes cron's own logging through slog
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
