package common

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/export"
	"millops/internal/response"
)

// Export streams one report as CSV (default) or XLSX. Every export is
// audited with its row count.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = export.CSV
	}
	if format != export.CSV && format != export.XLSX {
		response.Err(w, "format must be csv or xlsx", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	q := r.URL.Query()
	kind := Param(r, "kind")
	var table export.Table
	var err error
	switch kind {
	case "customers":
		table, err = export.Customers(ctx, h.DB, q.Get("status"))
	case "suppliers":
		table, err = export.Suppliers(ctx, h.DB, q.Get("status"))
	case "products":
		table, err = export.Products(ctx, h.DB)
	case "stock":
		table, err = export.Stock(ctx, h.DB, q.Get("location"))
	case "trial-balance":
		asOf, ok := Date(w, r, "as_of", database.Today())
		if !ok {
			return
		}
		table, err = export.TrialBalance(ctx, h.DB, asOf)
	case "ledger":
		from, ok := Date(w, r, "from", "")
		if !ok {
			return
		}
		to, ok := Date(w, r, "to", "")
		if !ok {
			return
		}
		if q.Get("account") == "" {
			response.Err(w, "account is required", http.StatusBadRequest)
			return
		}
		table, err = export.AccountLedger(ctx, h.DB, q.Get("account"), from, to, q.Get("party"))
	default:
		response.Err(w, "unknown export "+kind, http.StatusNotFound)
		return
	}
	if err != nil {
		response.Fail(w, r, err)
		return
	}

	h.Audit(r, audit.ActionExport, "reports", kind, fmt.Sprintf("Exported %d %s rows as %s", len(table.Rows), kind, format))

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", table.Filename(format)))
	if err := export.Write(w, format, table); err != nil {
		Logger(r).Error("write export", zap.Error(err))
	}
}
