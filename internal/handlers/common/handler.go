// Package common holds the dependencies every handler package shares, plus
// the cross-cutting endpoints: exports, dashboard, notifications and audit.
package common

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"millops/internal/audit"
	"millops/internal/auth"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/inventory"
	"millops/internal/logging"
	"millops/internal/response"
	"millops/internal/validation"
	"millops/internal/websocket"
)

// Base carries the shared dependencies. Handler packages embed it.
type Base struct {
	DB     *sql.DB
	Hub    *websocket.Hub
	Events events.Publisher
}

// Handler serves the cross-cutting endpoints.
type Handler struct {
	Base
}

// Audit records an audit entry attributed to the caller.
func (b *Base) Audit(r *http.Request, action, module, recordID, summary string) {
	audit.LogAudit(r.Context(), b.DB, b.Hub, auth.Username(r), action, module, recordID, summary)
}

// Emit publishes a domain event for a change that has been committed.
func (b *Base) Emit(r *http.Request, typ, recordID string, payload any) {
	events.Emit(r.Context(), b.Events, logging.FromContext(r.Context()), typ, recordID, payload)
}

// Logger returns the request logger.
func Logger(r *http.Request) *zap.Logger {
	return logging.FromContext(r.Context())
}

// Decode reads the JSON body into v, writing a 400 when it cannot.
func Decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := response.DecodeBody(r, v); err != nil {
		response.Err(w, "invalid body", http.StatusBadRequest)
		return false
	}
	return true
}

// Param returns a URL path parameter.
func Param(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// IntParam returns a numeric URL path parameter, writing a 400 when it is
// not a number.
func IntParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		response.Err(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// Date reads a YYYY-MM-DD query parameter, defaulting to def. A malformed
// value is reported as a validation error.
func Date(w http.ResponseWriter, r *http.Request, name, def string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, true
	}
	if _, err := time.Parse(database.DateLayout, v); err != nil {
		response.Fail(w, r, validation.Single(name, "must be a date (YYYY-MM-DD)"))
		return "", false
	}
	return v, true
}

// Identity returns the caller, or a zero identity when unauthenticated.
func Identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// EmitLowStock publishes stock.low for each of productIDs that is now at or
// below its reorder point.
func (b *Base) EmitLowStock(r *http.Request, productIDs []string) {
	if len(productIDs) == 0 {
		return
	}
	low, err := inventory.LowStock(r.Context(), b.DB)
	if err != nil {
		Logger(r).Warn("low stock check", zap.Error(err))
		return
	}
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}
	for _, s := range low {
		if wanted[s.ProductID] {
			b.Emit(r, events.StockLow, s.ProductID, events.StockLowPayload{
				ProductID: s.ProductID, SKU: s.SKU, Name: s.Name, Qty: s.Qty, ReorderPoint: s.ReorderPoint,
			})
		}
	}
}
