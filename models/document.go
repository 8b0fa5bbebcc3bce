// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// MaxDocumentSize caps uploads at 10 MiB
const MaxDocumentSize = 10 << 20

// AllowedDocumentTypes lists the accepted upload content types
var AllowedDocumentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type Document struct {
	ID               string    `json:"id"`
	DietitianID      string    `json:"dietitian_id"`
	ClientID         string    `json:"client_id"`
	FileName         string    `json:"file_name"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	StoragePath      string    `json:"-"`
	SharedWithClient bool      `json:"shared_with_client"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

type UpdateDocumentRequest struct {
	SharedWithClient *bool `json:"shared_with_client"`
}
