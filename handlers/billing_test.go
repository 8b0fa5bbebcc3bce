// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBillingHandler(t *testing.T, payments PaymentGateway) (*BillingHandler, sqlmock.Sqlmock) {
	db, mock := testutil.NewMockDB(t)
	cfg := testutil.GetTestConfig()
	cfg.StripePriceBasic = "price_basic"
	cfg.StripePricePro = "price_pro"
	cfg.StripePriceCredits10 = "price_c10"
	cfg.StripePriceCredits50 = "price_c50"
	return NewBillingHandler(db, cfg, billing.NewCatalog(cfg), payments), mock
}

func webhookRequest() *http.Request {
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", nil)
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	return req
}

func expectEventRecorded(mock sqlmock.Sqlmock, ev *models.BillingEvent, fresh bool) {
	mock.ExpectBegin()
	var affected int64
	if fresh {
		affected = 1
	}
	mock.ExpectExec("INSERT INTO stripe_events").
		WithArgs(ev.ID, ev.Type, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestStripeWebhook_CreditPack(t *testing.T) {
	ev := &models.BillingEvent{
		ID:                "evt_1",
		Type:              models.EventCheckoutCompleted,
		Mode:              billing.ModePayment,
		ClientReferenceID: testutil.DietitianID,
		Metadata:          map[string]string{"pack": "credits_50"},
	}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})

	expectEventRecorded(mock, ev, true)
	mock.ExpectExec(`UPDATE dietitians SET ai_credits = ai_credits \+`).
		WithArgs(50, sqlmock.AnyArg(), testutil.DietitianID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(sqlmock.AnyArg(), testutil.DietitianID, 50, models.CreditReasonPurchase, "evt_1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.MessageResponse
	testutil.AssertJSON(t, w, &resp)
	assert.Equal(t, outcomeApplied, resp.Message)
}

func TestStripeWebhook_Duplicate(t *testing.T) {
	ev := &models.BillingEvent{ID: "evt_1", Type: models.EventCheckoutCompleted, Mode: billing.ModePayment}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})

	expectEventRecorded(mock, ev, false)
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())

	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Body.String(), "Already processed")
}

func TestStripeWebhook_SubscriptionCheckout(t *testing.T) {
	ev := &models.BillingEvent{
		ID:             "evt_2",
		Type:           models.EventCheckoutCompleted,
		Mode:           billing.ModeSubscription,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"dietitian_id": testutil.DietitianID, "plan": models.PlanPro},
	}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})

	expectEventRecorded(mock, ev, true)
	mock.ExpectExec("UPDATE dietitians SET stripe_customer_id").
		WithArgs("cus_1", "sub_1", models.PlanPro, sqlmock.AnyArg(), testutil.DietitianID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())
	testutil.AssertStatus(t, w, http.StatusOK)
}

func TestStripeWebhook_SubscriptionChanges(t *testing.T) {
	t.Run("updated with unknown price keeps plan", func(t *testing.T) {
		ev := &models.BillingEvent{
			ID: "evt_3", Type: models.EventSubscriptionUpdated, CustomerID: "cus_1",
			SubscriptionID: "sub_1", SubscriptionStatus: "past_due", PriceID: "price_legacy",
		}
		h, mock := newBillingHandler(t, &fakePayments{event: ev})
		expectEventRecorded(mock, ev, true)
		mock.ExpectExec("UPDATE dietitians SET subscription_status").
			WithArgs("past_due", "sub_1", nil, nil, sqlmock.AnyArg(), "cus_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		h.StripeWebhook(w, webhookRequest())
		testutil.AssertStatus(t, w, http.StatusOK)
	})

	t.Run("deleted falls back to free", func(t *testing.T) {
		ev := &models.BillingEvent{ID: "evt_4", Type: models.EventSubscriptionDeleted, CustomerID: "cus_1"}
		h, mock := newBillingHandler(t, &fakePayments{event: ev})
		expectEventRecorded(mock, ev, true)
		mock.ExpectExec("UPDATE dietitians SET subscription_plan = 'free'").
			WithArgs(sqlmock.AnyArg(), "cus_1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		h.StripeWebhook(w, webhookRequest())

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Contains(t, w.Body.String(), outcomeIgnored)
	})
}

func TestStripeWebhook_InvoicePaidGrantsMonthlyCredits(t *testing.T) {
	ev := &models.BillingEvent{
		ID: "evt_5", Type: models.EventInvoicePaid, CustomerID: "cus_1",
		BillingReason: "subscription_cycle", PriceID: "price_basic",
	}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})

	expectEventRecorded(mock, ev, true)
	mock.ExpectQuery("SELECT id, subscription_plan FROM dietitians WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_plan"}).AddRow(testutil.DietitianID, models.PlanFree))
	mock.ExpectExec(`UPDATE dietitians SET ai_credits = ai_credits \+`).
		WithArgs(20, sqlmock.AnyArg(), testutil.DietitianID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(sqlmock.AnyArg(), testutil.DietitianID, 20, models.CreditReasonRenewal, "evt_5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())
	testutil.AssertStatus(t, w, http.StatusOK)
}

func TestStripeWebhook_ManualInvoiceIgnored(t *testing.T) {
	ev := &models.BillingEvent{ID: "evt_6", Type: models.EventInvoicePaid, CustomerID: "cus_1", BillingReason: "manual"}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})
	expectEventRecorded(mock, ev, true)
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())

	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Body.String(), outcomeIgnored)
}

func TestStripeWebhook_PaymentFailedNotifies(t *testing.T) {
	ev := &models.BillingEvent{ID: "evt_7", Type: models.EventPaymentFailed, CustomerID: "cus_1"}
	h, mock := newBillingHandler(t, &fakePayments{event: ev})
	expectEventRecorded(mock, ev, true)
	mock.ExpectQuery("SELECT id FROM dietitians WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testutil.DietitianID))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(sqlmock.AnyArg(), testutil.DietitianID, models.NotifyPaymentFailed, "Payment failed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	h.StripeWebhook(w, webhookRequest())
	testutil.AssertStatus(t, w, http.StatusOK)
}

func TestStripeWebhook_Failures(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		h, _ := newBillingHandler(t, &fakePayments{parseErr: fmt.Errorf("%w: mismatch", billing.ErrInvalidSignature)})
		w := httptest.NewRecorder()
		h.StripeWebhook(w, webhookRequest())
		testutil.AssertError(t, w, http.StatusBadRequest, "Invalid signature")
	})

	t.Run("not configured", func(t *testing.T) {
		h, _ := newBillingHandler(t, nil)
		w := httptest.NewRecorder()
		h.StripeWebhook(w, webhookRequest())
		testutil.AssertStatus(t, w, http.StatusServiceUnavailable)
	})

	t.Run("database error lets stripe retry", func(t *testing.T) {
		ev := &models.BillingEvent{ID: "evt_8", Type: models.EventSubscriptionDeleted, CustomerID: "cus_1"}
		h, mock := newBillingHandler(t, &fakePayments{event: ev})
		expectEventRecorded(mock, ev, true)
		mock.ExpectExec("UPDATE dietitians").WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		h.StripeWebhook(w, webhookRequest())
		testutil.AssertStatus(t, w, http.StatusInternalServerError)
	})
}

func TestCheckout(t *testing.T) {
	t.Run("creates customer once", func(t *testing.T) {
		payments := &fakePayments{}
		h, mock := newBillingHandler(t, payments)
		mock.ExpectQuery("SELECT email, full_name, stripe_customer_id FROM dietitians").
			WithArgs(testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows([]string{"email", "full_name", "stripe_customer_id"}).
				AddRow("dietitian@example.com", "Dana Smith", nil))
		mock.ExpectExec("UPDATE dietitians SET stripe_customer_id").
			WithArgs("cus_new", sqlmock.AnyArg(), testutil.DietitianID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		h.Checkout(w, dietitianRequest("POST", "/api/billing/checkout", `{"plan":"pro"}`))

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, 1, payments.customers)
		require.Len(t, payments.checkouts, 1)
		p := payments.checkouts[0]
		assert.Equal(t, "price_pro", p.PriceID)
		assert.Equal(t, billing.ModeSubscription, p.Mode)
		assert.Equal(t, "cus_new", p.CustomerID)
		assert.Equal(t, testutil.DietitianID, p.ClientReferenceID)
		assert.Equal(t, models.PlanPro, p.Metadata["plan"])
	})

	t.Run("free plan cannot be bought", func(t *testing.T) {
		h, _ := newBillingHandler(t, &fakePayments{})
		w := httptest.NewRecorder()
		h.Checkout(w, dietitianRequest("POST", "/api/billing/checkout", `{"plan":"free"}`))
		testutil.AssertError(t, w, http.StatusBadRequest, "Unknown plan")
	})

	t.Run("not configured", func(t *testing.T) {
		h, _ := newBillingHandler(t, nil)
		w := httptest.NewRecorder()
		h.Checkout(w, dietitianRequest("POST", "/api/billing/checkout", `{"plan":"pro"}`))
		testutil.AssertStatus(t, w, http.StatusServiceUnavailable)
	})
}

func TestCreditsCheckout_ExistingCustomer(t *testing.T) {
	payments := &fakePayments{}
	h, mock := newBillingHandler(t, payments)
	mock.ExpectQuery("SELECT email, full_name, stripe_customer_id FROM dietitians").
		WillReturnRows(sqlmock.NewRows([]string{"email", "full_name", "stripe_customer_id"}).
			AddRow("dietitian@example.com", "Dana Smith", "cus_old"))

	w := httptest.NewRecorder()
	h.CreditsCheckout(w, dietitianRequest("POST", "/api/billing/credits/checkout", `{"pack":"credits_10"}`))

	testutil.AssertStatus(t, w, http.StatusOK)
	assert.Zero(t, payments.customers)
	require.Len(t, payments.checkouts, 1)
	assert.Equal(t, billing.ModePayment, payments.checkouts[0].Mode)
	assert.Equal(t, "credits_10", payments.checkouts[0].Metadata["pack"])
}

func TestBillingPortal_NoCustomer(t *testing.T) {
	h, mock := newBillingHandler(t, &fakePayments{})
	mock.ExpectQuery("SELECT stripe_customer_id FROM dietitians").
		WillReturnRows(sqlmock.NewRows([]string{"stripe_customer_id"}).AddRow(nil))

	w := httptest.NewRecorder()
	h.Portal(w, dietitianRequest("POST", "/api/billing/portal", nil))
	testutil.AssertStatus(t, w, http.StatusConflict)
}

func TestSubscription(t *testing.T) {
	h, mock := newBillingHandler(t, nil)
	mock.ExpectQuery("SELECT d.subscription_plan, d.subscription_status").
		WithArgs(testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows([]string{"plan", "status", "period_end", "credits", "clients"}).
			AddRow(models.PlanBasic, "active", testNow, 12, 7))

	w := httptest.NewRecorder()
	h.Subscription(w, dietitianRequest("GET", "/api/billing/subscription", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.SubscriptionResponse
	testutil.AssertJSON(t, w, &resp)
	assert.Equal(t, 50, resp.ClientLimit)
	assert.Equal(t, 7, resp.ActiveClients)
	assert.Equal(t, 12, resp.AICredits)
}

func TestCreditHistory(t *testing.T) {
	h, mock := newBillingHandler(t, nil)
	mock.ExpectQuery("FROM credit_ledger").
		WithArgs(testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "delta", "reason", "reference", "created_at"}).
			AddRow(testutil.ResourceID, -1, models.CreditReasonGeneration, testutil.ClientID, testNow))

	w := httptest.NewRecorder()
	h.CreditHistory(w, dietitianRequest("GET", "/api/billing/credits/history", nil))

	testutil.AssertStatus(t, w, http.StatusOK)
	var entries []models.CreditLedgerEntry
	testutil.AssertJSON(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, -1, entries[0].Delta)
}
