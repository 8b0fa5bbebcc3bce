// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package billing wraps Stripe checkout, the billing portal and webhook
// verification, and holds the plan and credit pack catalogue.
package billing
