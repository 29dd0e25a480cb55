package inventory

import (
	"fmt"
	"net/http"
	"strconv"

	"millops/internal/audit"
	"millops/internal/handlers/common"
	"millops/internal/inventory"
	"millops/internal/response"
)

// ListStock returns stock levels for ?location= and ?product_id=.
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := inventory.ListStock(r.Context(), h.DB, q.Get("location"), q.Get("product_id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// LowStock returns products at or below their reorder point.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := inventory.LowStock(r.Context(), h.DB)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// StockHistory returns a product's recent movements.
func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := inventory.History(r.Context(), h.DB, common.Param(r, "id"), limit)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// AdjustRequest is a stock count.
type AdjustRequest struct {
	ProductID string  `json:"product_id"`
	Location  string  `json:"location"`
	Counted   float64 `json:"counted"`
	Reason    string  `json:"reason"`
}

// AdjustStock sets a counted quantity and books the difference.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !common.Decode(w, r, &req) {
		return
	}
	m, err := inventory.Adjust(r.Context(), h.DB, req.ProductID, req.Location, req.Counted, req.Reason, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "stock", req.ProductID,
		fmt.Sprintf("Counted %g at %s (%+g): %s", req.Counted, m.Location, m.Qty, req.Reason))
	h.EmitLowStock(r, []string{req.ProductID})
	response.JSON(w, m)
}

// TransferRequest moves stock between locations.
type TransferRequest struct {
	ProductID string  `json:"product_id"`
	From      string  `json:"from_location"`
	To        string  `json:"to_location"`
	Qty       float64 `json:"qty"`
	Notes     string  `json:"notes"`
}

// TransferStock moves stock between locations.
func (h *Handler) TransferStock(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !common.Decode(w, r, &req) {
		return
	}
	if err := inventory.Transfer(r.Context(), h.DB, req.ProductID, req.From, req.To, req.Qty, req.Notes, common.Identity(r).Username); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "stock", req.ProductID, fmt.Sprintf("Moved %g from %s to %s", req.Qty, req.From, req.To))
	response.JSON(w, map[string]string{"status": "transferred"})
}
