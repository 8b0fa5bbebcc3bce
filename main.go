// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/danielhkuo/nutriflow/ai"
	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/billing"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/db"
	"github.com/danielhkuo/nutriflow/jobs"
	"github.com/danielhkuo/nutriflow/logging"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/router"
	"github.com/danielhkuo/nutriflow/supabase"
)

// Each dietitian may start a generation every 20s, with a burst of 3
const (
	generationInterval = 20 * time.Second
	generationBurst    = 3
	shutdownTimeout    = 15 * time.Second
)

func main() {
	var err error

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	// Connect to PostgreSQL
	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Verify connection
	if err := dbConn.PingContext(ctx); err != nil {
		slog.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	// Create schema (tables)
	if err := db.CreateSchema(ctx, dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready")

	sb, err := supabase.New(supabase.Config{
		URL:        cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		ServiceKey: cfg.SupabaseServiceKey,
	})
	if err != nil {
		slog.Error("supabase client failed", "error", err)
		os.Exit(1)
	}
	if cfg.SupabaseServiceKey == "" {
		slog.Warn("SUPABASE_SERVICE_KEY not set; document storage is unavailable")
	}

	tokens := auth.NewClientTokenManager(cfg.ClientJWTSecret, cfg.ClientTokenTTL)
	sessions := auth.NewClientAuthenticator(dbConn, tokens)
	limiter := middleware.NewFixedWindowLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow)
	throttle := ai.NewThrottle(generationInterval, generationBurst)

	svc := router.Services{
		Auth:     sb,
		Verifier: auth.NewSupabaseVerifier(cfg.SupabaseJWTSecret, sb),
		Sessions: sessions,
		Storage:  sb,
		Throttle: throttle,
		Catalog:  billing.NewCatalog(cfg),
		Limiter:  limiter,
	}
	// Left nil when unconfigured so the endpoints answer 503
	if cfg.StripeEnabled() {
		svc.Payments = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set; billing is disabled")
	}
	if cfg.AIEnabled() {
		svc.Generator = ai.NewGenerator(cfg.OpenAIKey, cfg.OpenAIModel)
	} else {
		slog.Warn("OPENAI_API_KEY not set; meal plan generation is disabled")
	}

	runner := jobs.New(dbConn, sb, cfg.StorageBucket, limiter, throttle)
	if err := runner.Start(); err != nil {
		slog.Error("job scheduling failed", "error", err)
		os.Exit(1)
	}

	// Create server
	server := http.Server{
		Handler:           router.NewRouter(dbConn, cfg, svc),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// signal.Notify requires the channel to be buffered
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		// Wait for Ctrl-C signal
		<-ctrlc
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
		runner.Stop(ctx)
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
		return
	}
	<-stopped
	slog.Info("Server closed")
}
