// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the application's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nutriflow",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nutriflow",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
	}, []string{"method", "route"})

	rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the login rate limiter.",
	}, []string{"path"})

	// ClientLogins counts portal logins by result (success, invalid, ambiguous).
	ClientLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "portal",
		Name:      "logins_total",
		Help:      "Client portal login attempts.",
	}, []string{"result"})

	// AIGenerations counts meal plan generations by result.
	AIGenerations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "ai",
		Name:      "generations_total",
		Help:      "AI meal plan generations.",
	}, []string{"result"})

	// WebhookEvents counts Stripe webhook deliveries by event type and outcome.
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Stripe webhook events received.",
	}, []string{"type", "outcome"})

	// JobRuns counts background job runs.
	JobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nutriflow",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job runs.",
	}, []string{"job", "success"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rateLimited,
		ClientLogins,
		AIGenerations,
		WebhookEvents,
		JobRuns,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// MetricsHandler exposes the registry for scraping
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// WithMetrics records request count and latency under the route pattern,
// so path parameters don't explode label cardinality
func WithMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next(rec, r)

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}
