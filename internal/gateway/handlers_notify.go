package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kaiwahq/kaiwa/internal/notify"
)

// NotifyHandler serves the notification endpoints: the hook ingest
// POST used by the assistant's hook scripts and the viewer-facing
// list/read/delete surface.
type NotifyHandler struct {
	svc   *notify.Service
	token string
}

// NewNotifyHandler creates a handler over the notification service.
func NewNotifyHandler(svc *notify.Service, token string) *NotifyHandler {
	return &NotifyHandler{svc: svc, token: token}
}

// RegisterRoutes registers the notification routes on the given mux.
func (h *NotifyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/notifications/hook", h.auth(h.handleHook))
	mux.HandleFunc("GET /api/notifications", h.auth(h.handleList))
	mux.HandleFunc("GET /api/notifications/stats", h.auth(h.handleStats))
	mux.HandleFunc("PATCH /api/notifications/{id}/read", h.auth(h.handleMarkRead))
	mux.HandleFunc("POST /api/notifications/mark-all-read", h.auth(h.handleMarkAllRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", h.auth(h.handleDelete))
}

func (h *NotifyHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return requireAuth(h.token, next)
}

func (h *NotifyHandler) handleHook(w http.ResponseWriter, r *http.Request) {
	var payload notify.HookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	n, err := h.svc.Ingest(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, notify.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		default:
			slog.Error("notify.hook", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store notification")
		}
		return
	}

	slog.Debug("notify.hook", "id", n.ID, "type", n.Type, "project", n.ProjectID)
	writeJSON(w, http.StatusCreated, n)
}

func (h *NotifyHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := notify.ListOptions{
		ProjectID: q.Get("project_id"),
		Type:      q.Get("type"),
	}
	if v := q.Get("unread_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unread_only must be a boolean")
			return
		}
		opts.UnreadOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		opts.Offset = n
	}

	res, err := h.svc.List(r.Context(), opts)
	if err != nil {
		slog.Error("notify.list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *NotifyHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		slog.Error("notify.stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *NotifyHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := h.svc.MarkRead(r.Context(), id)
	if err != nil {
		slog.Error("notify.mark_read", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	if n == nil {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *NotifyHandler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	marked, err := h.svc.MarkAllRead(r.Context(), body.ProjectID)
	if err != nil {
		slog.Error("notify.mark_all_read", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

func (h *NotifyHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		slog.Error("notify.delete", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
