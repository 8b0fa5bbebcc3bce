// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/danielhkuo/nutriflow/middleware"
	"github.com/danielhkuo/nutriflow/models"
)

type NotificationHandler struct {
	db *sql.DB
}

func NewNotificationHandler(db *sql.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

// ListNotifications handles GET /api/notifications?unread=true
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := newQuery(`SELECT id, kind, title, body, read_at, created_at FROM notifications WHERE dietitian_id = $1`, dietitianID(r))
	if r.URL.Query().Get("unread") == "true" {
		q.then("AND read_at IS NULL")
	}
	q.then("ORDER BY created_at DESC LIMIT 100")

	rows, err := h.db.QueryContext(r.Context(), q.String(), q.args...)
	if err != nil {
		serverError(w, "Failed to list notifications", err)
		return
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			serverError(w, "Failed to list notifications", err)
			return
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		serverError(w, "Failed to list notifications", err)
		return
	}
	middleware.JSONResponse(w, http.StatusOK, notifications)
}

// MarkRead handles POST /api/notifications/{id}/read
// Marking an already read notification is a no-op.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.db.ExecContext(r.Context(), `
		UPDATE notifications SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND dietitian_id = $3
	`, time.Now().UTC(), id, dietitianID(r))
	if err != nil {
		serverError(w, "Failed to update notification", err)
		return
	}
	if rowsAffected(res) == 0 {
		middleware.ErrorResponse(w, http.StatusNotFound, "Notification not found")
		return
	}
	middleware.JSONResponse(w, http.StatusOK, models.MessageResponse{Message: "Marked as read"})
}
