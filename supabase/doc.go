// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package supabase is a small REST client for the hosted Supabase services the
API delegates to: Auth (dietitian accounts) and Storage (client documents).

	sb, err := supabase.New(supabase.Config{
		URL:        cfg.SupabaseURL,
		AnonKey:    cfg.SupabaseAnonKey,
		ServiceKey: cfg.SupabaseServiceKey,
	})

Auth calls use the anon key; calls on behalf of a user send the user's
access token as the bearer. Storage calls use the service role key.

Non-2xx responses become *APIError carrying the HTTP status and the
message Supabase returned.
*/
package supabase
