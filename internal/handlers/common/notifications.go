package common

import (
	"net/http"
	"strconv"

	"millops/internal/audit"
	"millops/internal/notify"
	"millops/internal/response"
)

// ListNotifications returns the inbox, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := notify.List(r.Context(), h.DB, r.URL.Query().Get("unread") == "true", limit)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// MarkNotificationRead marks one notification read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := IntParam(w, r, "id")
	if !ok {
		return
	}
	if err := notify.MarkRead(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]string{"status": "read"})
}

// MarkAllNotificationsRead clears the unread inbox.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := notify.MarkAllRead(r.Context(), h.DB)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]int{"marked": n})
}

// ListAudit returns audit entries filtered by module, user and record.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	from, ok := Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := Date(w, r, "to", "")
	if !ok {
		return
	}
	items, err := audit.List(r.Context(), h.DB, audit.Filter{
		Module: q.Get("module"), Username: q.Get("user"), RecordID: q.Get("record_id"),
		From: from, To: to, Limit: limit,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}
