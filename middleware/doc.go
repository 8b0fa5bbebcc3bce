// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging and Metrics

	mux.HandleFunc(pattern, middleware.WithLogging(middleware.WithMetrics(pattern, handler)))

WithLogging logs method, path, status and duration_ms once the handler
returns. WithMetrics records Prometheus counters and latency labelled by
route pattern; MetricsHandler serves them on /metrics.

# Authentication Guards

	dietitian := middleware.RequireDietitian(verifier)
	client := middleware.RequireClient(clientAuth)

	mux.HandleFunc("GET /api/clients", dietitian(h.ListClients))
	mux.HandleFunc("GET /api/portal/meal-plans", client(h.ListMealPlans))

Handlers read the caller with DietitianFromContext or ClientFromContext.
Missing or invalid tokens are 401, disabled portal access is 403.

# Rate Limiting

FixedWindowLimiter counts requests per client IP in fixed windows. Over the
limit, RateLimit answers 429 with Retry-After in seconds. State is per
process; Sweep drops elapsed windows.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message") // {"error": "message"}

# CORS

	handler := middleware.CORS(cfg.AllowedOrigins)(mux)

Only listed origins get Access-Control-Allow-Origin; an empty list allows
none.

# Client IP

	handler = middleware.RealIP(middleware.NewProxyTrust(cfg.TrustedProxies))(handler)
	ip := middleware.GetClientIP(r)

With no trusted proxies the socket address is the client. Behind a trusted
proxy the right-most X-Forwarded-For hop outside the trusted ranges is used,
so hops a client prepends cannot change its rate limit key.
*/
package middleware
