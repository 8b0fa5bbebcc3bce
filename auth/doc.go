// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth authenticates the two kinds of caller the API serves.

# Dietitians

Dietitians sign in through Supabase Auth. Their access tokens are checked by
SupabaseVerifier, locally against the project JWT secret when it is
configured and through Supabase's /auth/v1/user endpoint otherwise:

	verifier := auth.NewSupabaseVerifier(cfg.SupabaseJWTSecret, sb)
	identity, err := verifier.Verify(ctx, token)

# Portal Clients

Clients of a dietitian log in with a password set from an invite link.
A successful login creates a client_sessions row and an HS256 token whose
jti is that row's id:

	tokens := auth.NewClientTokenManager(cfg.ClientJWTSecret, cfg.ClientTokenTTL)
	clients := auth.NewClientAuthenticator(db, tokens)
	token, expiresAt, err := clients.StartSession(ctx, clientID, dietitianID, ipHash, userAgent)

ValidateClientAuth accepts the token from the Authorization header or the
nutriflow_client_token cookie. It rejects tokens whose session was revoked
or whose client lost portal access, so logout takes effect immediately.

# Secrets

Passwords are bcrypt hashed. Invite tokens are 256-bit random strings;
only their SHA-256 is stored:

	token, err := auth.GenerateInviteToken()
	hash := auth.HashToken(token)

IP addresses are kept only as a salted HMAC (HashIP).
*/
package auth
