// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"database/sql"
	"net/http"

	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/handlers"
	"github.com/danielhkuo/nutriflow/middleware"
)

// PortalSessions authenticates portal requests and manages their sessions.
// *auth.ClientAuthenticator satisfies it.
type PortalSessions interface {
	handlers.SessionStore
	middleware.ClientValidator
}

// Services are the external dependencies the routes need. Payments and
// Generator stay nil when their integration is not configured.
type Services struct {
	Auth      handlers.AuthProvider
	Verifier  middleware.DietitianVerifier
	Sessions  PortalSessions
	Storage   handlers.ObjectStorage
	Payments  handlers.PaymentGateway
	Generator handlers.MealPlanGenerator
	Throttle  handlers.GenerationThrottle
	Catalog   *billing.Catalog
	Limiter   *middleware.FixedWindowLimiter
}

func NewRouter(db *sql.DB, cfg cliparse.Config, svc Services) http.Handler {
	mux := http.NewServeMux()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, cfg, svc.Auth)
	dietitianHandler := handlers.NewDietitianHandler(db, cfg)
	clientHandler := handlers.NewClientHandler(db, cfg, svc.Catalog, svc.Sessions)
	clientAuthHandler := handlers.NewClientAuthHandler(db, cfg, svc.Sessions)
	mealPlanHandler := handlers.NewMealPlanHandler(db, svc.Generator, svc.Throttle)
	appointmentHandler := handlers.NewAppointmentHandler(db)
	documentHandler := handlers.NewDocumentHandler(db, cfg, svc.Storage)
	invoiceHandler := handlers.NewInvoiceHandler(db)
	billingHandler := handlers.NewBillingHandler(db, cfg, svc.Catalog, svc.Payments)
	gdprHandler := handlers.NewGDPRHandler(db, cfg)
	notificationHandler := handlers.NewNotificationHandler(db)
	portalHandler := handlers.NewPortalHandler(db, cfg, svc.Storage)

	dietitian := middleware.RequireDietitian(svc.Verifier)
	client := middleware.RequireClient(svc.Sessions)
	limited := middleware.RateLimit(svc.Limiter)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, middleware.WithLogging(middleware.WithMetrics(pattern, h)))
	}

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", middleware.MetricsHandler())

	// Dietitian accounts (hosted auth)
	handle("POST /api/auth/signup", authHandler.SignUp)
	handle("POST /api/auth/login", authHandler.Login)
	handle("POST /api/auth/refresh", authHandler.Refresh)
	handle("POST /api/auth/logout", authHandler.Logout)
	handle("POST /api/auth/reset-password", authHandler.ResetPassword)

	handle("GET /api/dietitian/profile", dietitian(dietitianHandler.GetProfile))
	handle("PUT /api/dietitian/profile", dietitian(dietitianHandler.UpdateProfile))

	// Clients
	handle("GET /api/clients", dietitian(clientHandler.ListClients))
	handle("POST /api/clients", dietitian(clientHandler.CreateClient))
	handle("GET /api/clients/{id}", dietitian(clientHandler.GetClient))
	handle("PUT /api/clients/{id}", dietitian(clientHandler.UpdateClient))
	handle("DELETE /api/clients/{id}", dietitian(clientHandler.DeleteClient))
	handle("POST /api/clients/{id}/portal-invite", dietitian(clientHandler.PortalInvite))
	handle("POST /api/clients/{id}/portal-revoke", dietitian(clientHandler.PortalRevoke))

	// Meal plans
	handle("GET /api/meal-plans", dietitian(mealPlanHandler.ListMealPlans))
	handle("POST /api/meal-plans", dietitian(mealPlanHandler.CreateMealPlan))
	handle("POST /api/meal-plans/generate", dietitian(mealPlanHandler.GenerateMealPlan))
	handle("GET /api/meal-plans/{id}", dietitian(mealPlanHandler.GetMealPlan))
	handle("PUT /api/meal-plans/{id}", dietitian(mealPlanHandler.UpdateMealPlan))
	handle("DELETE /api/meal-plans/{id}", dietitian(mealPlanHandler.DeleteMealPlan))
	handle("POST /api/meal-plans/{id}/publish", dietitian(mealPlanHandler.PublishMealPlan))

	// Appointments
	handle("GET /api/appointments", dietitian(appointmentHandler.ListAppointments))
	handle("POST /api/appointments", dietitian(appointmentHandler.CreateAppointment))
	handle("GET /api/appointments/{id}", dietitian(appointmentHandler.GetAppointment))
	handle("PUT /api/appointments/{id}", dietitian(appointmentHandler.UpdateAppointment))
	handle("DELETE /api/appointments/{id}", dietitian(appointmentHandler.DeleteAppointment))
	handle("POST /api/appointments/{id}/status", dietitian(appointmentHandler.SetStatus))

	// Documents
	handle("GET /api/clients/{id}/documents", dietitian(documentHandler.ListDocuments))
	handle("POST /api/clients/{id}/documents", dietitian(documentHandler.UploadDocument))
	handle("GET /api/documents/{id}/download", dietitian(documentHandler.DownloadDocument))
	handle("PATCH /api/documents/{id}", dietitian(documentHandler.UpdateDocument))
	handle("DELETE /api/documents/{id}", dietitian(documentHandler.DeleteDocument))

	// Invoices
	handle("GET /api/invoices", dietitian(invoiceHandler.ListInvoices))
	handle("POST /api/invoices", dietitian(invoiceHandler.CreateInvoice))
	handle("GET /api/invoices/{id}", dietitian(invoiceHandler.GetInvoice))
	handle("PUT /api/invoices/{id}", dietitian(invoiceHandler.UpdateInvoice))
	handle("DELETE /api/invoices/{id}", dietitian(invoiceHandler.DeleteInvoice))
	handle("POST /api/invoices/{id}/send", dietitian(invoiceHandler.SendInvoice))
	handle("POST /api/invoices/{id}/mark-paid", dietitian(invoiceHandler.MarkPaid))
	handle("POST /api/invoices/{id}/void", dietitian(invoiceHandler.VoidInvoice))

	// Billing
	handle("GET /api/billing/subscription", dietitian(billingHandler.Subscription))
	handle("POST /api/billing/checkout", dietitian(billingHandler.Checkout))
	handle("POST /api/billing/credits/checkout", dietitian(billingHandler.CreditsCheckout))
	handle("POST /api/billing/portal", dietitian(billingHandler.Portal))
	handle("GET /api/billing/credits/history", dietitian(billingHandler.CreditHistory))
	handle("POST /api/webhooks/stripe", billingHandler.StripeWebhook)

	// GDPR
	handle("GET /api/clients/{id}/consents", dietitian(gdprHandler.ListConsents))
	handle("POST /api/clients/{id}/consents", dietitian(gdprHandler.RecordConsent))
	handle("GET /api/clients/{id}/export", dietitian(gdprHandler.ExportClient))
	handle("GET /api/gdpr/requests", dietitian(gdprHandler.ListRequests))
	handle("POST /api/gdpr/requests/{id}/approve", dietitian(gdprHandler.ApproveRequest))
	handle("POST /api/gdpr/requests/{id}/reject", dietitian(gdprHandler.RejectRequest))

	// Notifications
	handle("GET /api/notifications", dietitian(notificationHandler.ListNotifications))
	handle("POST /api/notifications/{id}/read", dietitian(notificationHandler.MarkRead))

	// Client portal accounts; unauthenticated entry points are rate limited per IP
	handle("POST /api/client-auth/login", limited(clientAuthHandler.Login))
	handle("POST /api/client-auth/accept-invite", limited(clientAuthHandler.AcceptInvite))
	handle("POST /api/client-auth/logout", client(clientAuthHandler.Logout))
	handle("GET /api/client-auth/me", client(clientAuthHandler.Me))
	handle("POST /api/client-auth/change-password", client(clientAuthHandler.ChangePassword))

	// Client portal
	handle("GET /api/portal/meal-plans", client(portalHandler.MealPlans))
	handle("GET /api/portal/meal-plans/{id}", client(portalHandler.MealPlan))
	handle("GET /api/portal/appointments", client(portalHandler.Appointments))
	handle("POST /api/portal/appointments/{id}/cancel", client(portalHandler.CancelAppointment))
	handle("GET /api/portal/documents", client(portalHandler.Documents))
	handle("GET /api/portal/documents/{id}/download", client(portalHandler.DownloadDocument))
	handle("GET /api/portal/invoices", client(portalHandler.Invoices))
	handle("GET /api/portal/consents", client(portalHandler.Consents))
	handle("POST /api/portal/consents", client(portalHandler.RecordConsent))
	handle("GET /api/portal/gdpr/export", client(portalHandler.Export))
	handle("POST /api/portal/gdpr/deletion-request", client(portalHandler.DeletionRequest))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nutriflow API v1"))
	})

	realIP := middleware.RealIP(middleware.NewProxyTrust(cfg.TrustedProxies))
	return middleware.CORS(cfg.AllowedOrigins)(realIP(mux))
}
