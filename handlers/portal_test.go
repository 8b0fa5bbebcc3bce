// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cancelCols = []string{"title", "status", "starts_at", "client_name"}

func newPortalHandler(t *testing.T) (*PortalHandler, sqlmock.Sqlmock, *fakeStorage) {
	db, mock := testutil.NewMockDB(t)
	storage := newFakeStorage()
	h := NewPortalHandler(db, testutil.GetTestConfig(), storage)
	h.now = func() time.Time { return testNow }
	return h, mock, storage
}

func TestPortalMealPlans_PublishedOnly(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	mock.ExpectQuery(`FROM meal_plans WHERE client_id = \$1 AND dietitian_id = \$2 AND status = 'published'`).
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows(mealPlanCols).AddRow(mealPlanRow(testutil.ResourceID, models.MealPlanPublished)...))

	w := httptest.NewRecorder()
	h.MealPlans(w, portalRequest("GET", "/api/portal/meal-plans", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	var plans []models.MealPlan
	testutil.AssertJSON(t, w, &plans)
	assert.Len(t, plans, 1)
}

func TestPortalMealPlan_DraftHidden(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	mock.ExpectQuery("status = 'published'").
		WithArgs(testutil.ResourceID, testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows(mealPlanCols))

	w := httptest.NewRecorder()
	h.MealPlan(w, portalRequest("GET", "/", nil, "id", testutil.ResourceID))
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestPortalAppointments_RelativeTimes(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	mock.ExpectQuery("SELECT id, title, starts_at, ends_at, location, status FROM appointments").
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "starts_at", "ends_at", "location", "status"}).
			AddRow(testutil.ResourceID, "Follow-up", testNow.Add(48*time.Hour), testNow.Add(49*time.Hour), "", models.AppointmentScheduled).
			AddRow(testutil.SessionID, "Intake", testNow.Add(-3*time.Hour), testNow.Add(-2*time.Hour), "Office", models.AppointmentCompleted))

	w := httptest.NewRecorder()
	h.Appointments(w, portalRequest("GET", "/api/portal/appointments", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	var appts []models.PortalAppointment
	testutil.AssertJSON(t, w, &appts)
	require.Len(t, appts, 2)
	assert.Equal(t, "2 days from now", appts[0].StartsIn)
	assert.Equal(t, "3 hours ago", appts[1].StartsIn)
}

func TestPortalCancelAppointment(t *testing.T) {
	t.Run("well ahead", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectQuery("SELECT a.title, a.status, a.starts_at").
			WithArgs(testutil.ResourceID, testutil.ClientID, testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows(cancelCols).AddRow("Follow-up", models.AppointmentScheduled, testNow.Add(48*time.Hour), "Alex Doe"))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE appointments SET status = 'cancelled'").
			WithArgs(testNow, testutil.ResourceID, testutil.ClientID, testutil.DietitianID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), testutil.DietitianID, models.NotifyAppointmentCancel, "Appointment cancelled",
				`Alex Doe cancelled "Follow-up" on Wed 12 Mar 2025 09:00 UTC`, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		h.CancelAppointment(w, portalRequest("POST", "/", nil, "id", testutil.ResourceID))
		testutil.AssertStatus(t, w, http.StatusOK)
	})

	t.Run("inside the notice period", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectQuery("SELECT a.title, a.status, a.starts_at").
			WillReturnRows(sqlmock.NewRows(cancelCols).AddRow("Follow-up", models.AppointmentScheduled, testNow.Add(23*time.Hour), "Alex Doe"))

		w := httptest.NewRecorder()
		h.CancelAppointment(w, portalRequest("POST", "/", nil, "id", testutil.ResourceID))
		testutil.AssertError(t, w, http.StatusConflict, "24 hours")
	})

	t.Run("already completed", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectQuery("SELECT a.title, a.status, a.starts_at").
			WillReturnRows(sqlmock.NewRows(cancelCols).AddRow("Intake", models.AppointmentCompleted, testNow.Add(72*time.Hour), "Alex Doe"))

		w := httptest.NewRecorder()
		h.CancelAppointment(w, portalRequest("POST", "/", nil, "id", testutil.ResourceID))
		testutil.AssertError(t, w, http.StatusConflict, "Only scheduled")
	})

	t.Run("another client's appointment", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectQuery("SELECT a.title, a.status, a.starts_at").WillReturnRows(sqlmock.NewRows(cancelCols))

		w := httptest.NewRecorder()
		h.CancelAppointment(w, portalRequest("POST", "/", nil, "id", testutil.ResourceID))
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}

func TestPortalDocuments(t *testing.T) {
	t.Run("shared download", func(t *testing.T) {
		h, mock, storage := newPortalHandler(t)
		mock.ExpectQuery("AND shared_with_client").
			WithArgs(testutil.ResourceID, testutil.ClientID, testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows(documentCols).AddRow(documentRow(testutil.ResourceID, true)...))

		w := httptest.NewRecorder()
		h.DownloadDocument(w, portalRequest("GET", "/", nil, "id", testutil.ResourceID))

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, SignedURLTTL, storage.signedTT)
	})

	t.Run("private document", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectQuery("AND shared_with_client").WillReturnRows(sqlmock.NewRows(documentCols))

		w := httptest.NewRecorder()
		h.DownloadDocument(w, portalRequest("GET", "/", nil, "id", testutil.ResourceID))
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}

func TestPortalInvoices_HidesDrafts(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	mock.ExpectQuery(`AND status <> 'draft'`).
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows(invoiceCols).AddRow(invoiceRow(testutil.ResourceID, models.InvoiceSent)...))

	w := httptest.NewRecorder()
	h.Invoices(w, portalRequest("GET", "/api/portal/invoices", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	var invoices []models.Invoice
	testutil.AssertJSON(t, w, &invoices)
	require.Len(t, invoices, 1)
	assert.Equal(t, "120.00 EUR", invoices[0].TotalDisplay)
}

func TestPortalConsent(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	mock.ExpectExec("INSERT INTO consent_records").
		WithArgs(sqlmock.AnyArg(), testutil.DietitianID, testutil.ClientID, models.ConsentAIProcessing, true,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	h.RecordConsent(w, portalRequest("POST", "/api/portal/consents", `{"consent_type":"ai_processing","granted":true}`))
	testutil.AssertStatus(t, w, http.StatusCreated)
}

func TestPortalExport(t *testing.T) {
	h, mock, _ := newPortalHandler(t)
	expectExport(mock)

	w := httptest.NewRecorder()
	h.Export(w, portalRequest("GET", "/api/portal/gdpr/export", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}

func TestPortalDeletionRequest(t *testing.T) {
	t.Run("creates and notifies", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM clients WHERE id = (.+) FOR UPDATE").
			WithArgs(testutil.ClientID, testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alex Doe"))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(testutil.ClientID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO gdpr_requests").
			WithArgs(sqlmock.AnyArg(), testutil.DietitianID, testutil.ClientID, models.GDPRDeletion, models.GDPRPending, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO notifications").
			WithArgs(sqlmock.AnyArg(), testutil.DietitianID, models.NotifyGDPRRequest, "Data deletion requested",
				"Alex Doe asked for their data to be deleted", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		h.DeletionRequest(w, portalRequest("POST", "/api/portal/gdpr/deletion-request", nil))

		testutil.AssertStatus(t, w, http.StatusCreated)
		var g models.GDPRRequest
		testutil.AssertJSON(t, w, &g)
		assert.Equal(t, models.GDPRPending, g.Status)
		assert.Equal(t, "Alex Doe", g.ClientName)
	})

	t.Run("already pending", func(t *testing.T) {
		h, mock, _ := newPortalHandler(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alex Doe"))
		mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		h.DeletionRequest(w, portalRequest("POST", "/api/portal/gdpr/deletion-request", nil))
		testutil.AssertError(t, w, http.StatusConflict, "already pending")
	})
}
