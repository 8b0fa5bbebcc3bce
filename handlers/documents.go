// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielhkuo/nutriflow/auth"
	"github.com/danielhkuo/nutriflow/cliparse"
	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/dustin/go-humanize"
)

// SignedURLTTL is how long a download link works
const SignedURLTTL = time.Hour

const documentColumns = `id, dietitian_id, client_id, file_name, content_type, size_bytes,
	storage_path, shared_with_client, uploaded_at`

func scanDocument(s scanner) (*models.Document, error) {
	var d models.Document
	err := s.Scan(&d.ID, &d.DietitianID, &d.ClientID, &d.FileName, &d.ContentType, &d.SizeBytes,
		&d.StoragePath, &d.SharedWithClient, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type DocumentHandler struct {
	db      *sql.DB
	cfg     cliparse.Config
	storage ObjectStorage
}

func NewDocumentHandler(db *sql.DB, cfg cliparse.Config, storage ObjectStorage) *DocumentHandler {
	return &DocumentHandler{db: db, cfg: cfg, storage: storage}
}

// ListDocuments handles GET /api/clients/{id}/documents
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	exists, err := clientBelongs(r.Context(), h.db, clientID, did)
	if err != nil {
		serverError(w, "Failed to list documents", err)
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	docs, err := queryDocuments(r.Context(), h.db, `SELECT `+documentColumns+` FROM documents
		WHERE client_id = $1 AND dietitian_id = $2 ORDER BY uploaded_at DESC`, clientID, did)
	if err != nil {
		serverError(w, "Failed to list documents", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, docs)
}

// UploadDocument handles POST /api/clients/{id}/documents (multipart field "file")
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	clientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	did := dietitianID(r)

	tooLarge := "File too large; the limit is " + humanize.IBytes(models.MaxDocumentSize)

	// Room for multipart headers on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, models.MaxDocumentSize+64<<10)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		middleware.ErrorResponse(w, http.StatusBadRequest, "Expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > models.MaxDocumentSize {
		middleware.ErrorResponse(w, http.StatusRequestEntityTooLarge, tooLarge)
		return
	}
	if header.Size == 0 {
		middleware.ErrorResponse(w, http.StatusBadRequest, "file is empty")
		return
	}

	contentType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err != nil || !models.AllowedDocumentTypes[contentType] {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Unsupported file type; upload a PDF, PNG, JPEG, DOCX or text file")
		return
	}

	exists, err := clientBelongs(r.Context(), h.db, clientID, did)
	if err != nil {
		serverError(w, "Failed to upload document", err)
		return
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}

	doc := &models.Document{
		ID:          auth.NewID(),
		DietitianID: did,
		ClientID:    clientID,
		FileName:    cleanFileName(header.Filename),
		ContentType: contentType,
		SizeBytes:   header.Size,
		UploadedAt:  time.Now().UTC(),
	}
	doc.StoragePath = path.Join(did, clientID, doc.ID, doc.FileName)

	if err := h.storage.Upload(r.Context(), h.cfg.StorageBucket, doc.StoragePath, contentType, file); err != nil {
		slog.Error("document upload failed", "client_id", clientID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Storage unavailable, please retry")
		return
	}

	_, err = h.db.ExecContext(r.Context(), `
		INSERT INTO documents (id, dietitian_id, client_id, file_name, content_type, size_bytes, storage_path, shared_with_client, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	`, doc.ID, doc.DietitianID, doc.ClientID, doc.FileName, doc.ContentType, doc.SizeBytes, doc.StoragePath, doc.UploadedAt)
	if err != nil {
		// Don't leave an orphaned object behind
		if rmErr := h.storage.Remove(context.WithoutCancel(r.Context()), h.cfg.StorageBucket, []string{doc.StoragePath}); rmErr != nil {
			slog.Error("failed to remove orphaned upload", "path", doc.StoragePath, "error", rmErr)
		}
		serverError(w, "Failed to save document", err)
		return
	}

	slog.Info("document uploaded", "document_id", doc.ID, "client_id", clientID, "size", humanize.IBytes(uint64(doc.SizeBytes)))
	middleware.JSONResponse(w, http.StatusCreated, doc)
}

// DownloadDocument handles GET /api/documents/{id}/download
func (h *DocumentHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.load(r.Context(), id, dietitianID(r))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to load document", err)
		return
	}
	writeSignedURL(w, r, h.storage, h.cfg.StorageBucket, doc)
}

// UpdateDocument handles PATCH /api/documents/{id}
func (h *DocumentHandler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateDocumentRequest
	if err := middleware.ParseJSONBody(r, &req); err != nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.SharedWithClient == nil {
		middleware.ErrorResponse(w, http.StatusBadRequest, "shared_with_client is required")
		return
	}

	doc, err := scanDocument(h.db.QueryRowContext(r.Context(), `
		UPDATE documents SET shared_with_client = $1
		WHERE id = $2 AND dietitian_id = $3
		RETURNING `+documentColumns, *req.SharedWithClient, id, dietitianID(r)))
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to update document", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/{id}
func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var storagePath string
	err := h.db.QueryRowContext(r.Context(), `
		DELETE FROM documents WHERE id = $1 AND dietitian_id = $2 RETURNING storage_path
	`, id, dietitianID(r)).Scan(&storagePath)
	if errors.Is(err, sql.ErrNoRows) {
		middleware.ErrorResponse(w, http.StatusNotFound, "Document not found")
		return
	}
	if err != nil {
		serverError(w, "Failed to delete document", err)
		return
	}

	// The row is gone either way; a leftover object is only wasted space
	if err := h.storage.Remove(r.Context(), h.cfg.StorageBucket, []string{storagePath}); err != nil {
		slog.Error("failed to remove document object", "path", storagePath, "error", err)
	}

	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Document deleted"})
}

func (h *DocumentHandler) load(ctx context.Context, id, did string) (*models.Document, error) {
	return scanDocument(h.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND dietitian_id = $2`, id, did))
}

func writeSignedURL(w http.ResponseWriter, r *http.Request, storage ObjectStorage, bucket string, doc *models.Document) {
	url, err := storage.CreateSignedURL(r.Context(), bucket, doc.StoragePath, SignedURLTTL)
	if err != nil {
		slog.Error("failed to sign document url", "document_id", doc.ID, "error", err)
		middleware.ErrorResponse(w, http.StatusBadGateway, "Storage unavailable, please retry")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.URLResponse{URL: url})
}

func queryDocuments(ctx context.Context, conn *sql.DB, query string, args ...any) ([]models.Document, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// cleanFileName keeps the base name and drops characters that upset object paths
func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == '?', r == '#', r == '%':
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "document"
	}
	if len(name) > 200 {
		name = name[len(name)-200:]
	}
	return name
}
