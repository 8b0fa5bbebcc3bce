// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) Remove(ctx context.Context, bucket string, paths []string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, paths...)
	return nil
}

type countingSweeper struct{ sweeps, cleanups int }

func (c *countingSweeper) Sweep() int { c.sweeps++; return 2 }
func (c *countingSweeper) Cleanup()   { c.cleanups++ }

func newRunner(t *testing.T) (*Runner, sqlmock.Sqlmock, *fakeRemover) {
	conn, mock := testutil.NewMockDB(t)
	storage := &fakeRemover{}
	r := New(conn, storage, "client-documents", nil, nil)
	r.now = func() time.Time { return jobNow }
	return r, mock, storage
}

func TestPurgeSessions(t *testing.T) {
	r, mock, _ := newRunner(t)
	mock.ExpectExec("DELETE FROM client_sessions WHERE expires_at < \\$1 OR revoked_at < \\$1").
		WithArgs(jobNow.Add(-SessionRetention)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.PurgeSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSendReminders(t *testing.T) {
	r, mock, _ := newRunner(t)
	cols := []string{"id", "dietitian_id", "title", "starts_at", "client_name"}
	mock.ExpectQuery("FROM appointments a JOIN clients c").
		WithArgs(jobNow, jobNow.Add(ReminderLead)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(testutil.ResourceID, testutil.DietitianID, "Follow-up", jobNow.Add(25*time.Hour), "Alex Doe").
			AddRow(testutil.SessionID, testutil.DietitianID, "Check-in", jobNow.Add(26*time.Hour), "Sam Roe"))

	// First appointment is claimed and notified
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments SET reminder_sent_at").
		WithArgs(jobNow, testutil.ResourceID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), testutil.DietitianID, models.NotifyAppointmentReminder, "Upcoming appointment",
			"Follow-up with Alex Doe at Tue 11 Mar 10:00 UTC", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Second was reminded by another instance in the meantime
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments SET reminder_sent_at").
		WithArgs(jobNow, testutil.SessionID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	sent, err := r.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestSendReminders_QueryError(t *testing.T) {
	r, mock, _ := newRunner(t)
	mock.ExpectQuery("FROM appointments").WillReturnError(errors.New("connection reset"))

	_, err := r.SendReminders(context.Background())
	assert.ErrorContains(t, err, "upcoming appointments")
}

var deletionCols = []string{"id", "dietitian_id", "client_id"}

func TestRunGDPRDeletions(t *testing.T) {
	r, mock, storage := newRunner(t)
	mock.ExpectQuery("FROM gdpr_requests WHERE request_type = 'deletion' AND status = 'approved'").
		WithArgs(jobNow).
		WillReturnRows(sqlmock.NewRows(deletionCols).
			AddRow("req-1", testutil.DietitianID, testutil.ClientID).
			AddRow("req-2", testutil.DietitianID, nil))

	mock.ExpectQuery("SELECT storage_path FROM documents").
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows([]string{"storage_path"}).AddRow("a/b/c/labs.pdf").AddRow("a/b/d/diary.txt"))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM clients").
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE gdpr_requests SET status = 'completed'").
		WithArgs(jobNow, "req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Client already gone; only the request is closed
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE gdpr_requests SET status = 'completed'").
		WithArgs(jobNow, "req-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	done, err := r.RunGDPRDeletions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, []string{"a/b/c/labs.pdf", "a/b/d/diary.txt"}, storage.removed)
}

func TestRunGDPRDeletions_StorageDownKeepsClient(t *testing.T) {
	r, mock, storage := newRunner(t)
	storage.err = errors.New("storage unavailable")

	mock.ExpectQuery("FROM gdpr_requests").
		WillReturnRows(sqlmock.NewRows(deletionCols).AddRow("req-1", testutil.DietitianID, testutil.ClientID))
	mock.ExpectQuery("SELECT storage_path FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"storage_path"}).AddRow("a/b/c/labs.pdf"))

	done, err := r.RunGDPRDeletions(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, done)
}

func TestSweepLimiters(t *testing.T) {
	conn, _ := testutil.NewMockDB(t)
	sweeper := &countingSweeper{}
	r := New(conn, &fakeRemover{}, "client-documents", sweeper, sweeper)

	r.SweepLimiters()
	assert.Equal(t, 1, sweeper.sweeps)
	assert.Equal(t, 1, sweeper.cleanups)

	// Nil dependencies are skipped
	New(conn, nil, "", nil, nil).SweepLimiters()
}

func TestStartStop(t *testing.T) {
	r, _, _ := newRunner(t)
	require.NoError(t, r.Start())
	assert.Len(t, r.cron.Entries(), 4)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
