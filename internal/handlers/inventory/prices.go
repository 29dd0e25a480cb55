package inventory

import (
	"fmt"
	"net/http"
	"strconv"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/pricing"
	"millops/internal/response"
)

// ListPriceRules returns the price rules of one product.
func (h *Handler) ListPriceRules(w http.ResponseWriter, r *http.Request) {
	items, err := pricing.ListRules(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// CreatePriceRule adds a rule for the product in the path.
func (h *Handler) CreatePriceRule(w http.ResponseWriter, r *http.Request) {
	var p models.PriceRule
	if !common.Decode(w, r, &p) {
		return
	}
	p.ProductID = common.Param(r, "id")
	rule, err := pricing.CreateRule(r.Context(), h.DB, p)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "pricing", strconv.Itoa(rule.ID),
		fmt.Sprintf("Price rule for %s tier %s from %g at %s", rule.ProductID, rule.Tier, rule.MinQty, rule.UnitPrice.StringFixed(2)))
	response.Created(w, rule)
}

// UpdatePriceRule replaces a rule.
func (h *Handler) UpdatePriceRule(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IntParam(w, r, "ruleID")
	if !ok {
		return
	}
	var p models.PriceRule
	if !common.Decode(w, r, &p) {
		return
	}
	rule, err := pricing.UpdateRule(r.Context(), h.DB, id, p)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "pricing", strconv.Itoa(id), "Updated price rule for "+rule.ProductID)
	response.JSON(w, rule)
}

// DeletePriceRule removes a rule.
func (h *Handler) DeletePriceRule(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IntParam(w, r, "ruleID")
	if !ok {
		return
	}
	if err := pricing.DeleteRule(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "pricing", strconv.Itoa(id), "Deleted price rule")
	response.JSON(w, map[string]string{"status": "deleted"})
}

// ResolvePrice returns the unit price for ?tier=, ?qty= and ?date=.
func (h *Handler) ResolvePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, ok := common.Date(w, r, "date", database.Today())
	if !ok {
		return
	}
	qty := 1.0
	if v := q.Get("qty"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || n <= 0 {
			response.Err(w, "qty must be a positive number", http.StatusBadRequest)
			return
		}
		qty = n
	}
	price, err := pricing.Resolve(r.Context(), h.DB, common.Param(r, "id"), q.Get("tier"), qty, date)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, price)
}

// BulkAdjustPrices raises or lowers many rules at once.
func (h *Handler) BulkAdjustPrices(w http.ResponseWriter, r *http.Request) {
	var a pricing.BulkAdjustment
	if !common.Decode(w, r, &a) {
		return
	}
	n, err := pricing.BulkAdjust(r.Context(), h.DB, a)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "pricing", "bulk",
		fmt.Sprintf("Bulk %s adjustment of %s on %d rules", a.Type, a.Value.String(), n))
	response.JSON(w, map[string]int{"updated": n})
}
