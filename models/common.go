// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse acknowledges an action that has nothing else to return
type MessageResponse struct {
	Message string `json:"message"`
}

// URLResponse carries a redirect or download target
type URLResponse struct {
	URL string `json:"url"`
}
