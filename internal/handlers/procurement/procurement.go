package procurement

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/handlers/common"
	"millops/internal/purchasing"
	"millops/internal/response"
)

// ListPurchases returns purchase headers filtered by supplier, status and
// date range.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", "")
	if !ok {
		return
	}
	page, limit, offset := response.Paging(r, 50, 500)
	items, total, err := purchasing.ListPurchases(r.Context(), h.DB, purchasing.Filter{
		SupplierID: q.Get("supplier_id"), Status: q.Get("status"), From: from, To: to, Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

// GetPurchase returns one purchase with its lines and payments.
func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	p, err := purchasing.GetPurchase(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	payments, err := purchasing.ListPayments(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"purchase": p, "payments": payments})
}

// CreatePurchase stores a draft purchase.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var in purchasing.Input
	if !common.Decode(w, r, &in) {
		return
	}
	p, err := purchasing.CreatePurchase(r.Context(), h.DB, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "purchases", p.ID, "Created purchase "+p.ID+" from "+p.SupplierID)
	response.Created(w, p)
}

// UpdatePurchase replaces a draft purchase.
func (h *Handler) UpdatePurchase(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var in purchasing.Input
	if !common.Decode(w, r, &in) {
		return
	}
	p, err := purchasing.UpdatePurchase(r.Context(), h.DB, id, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "purchases", id, "Updated draft purchase "+id)
	response.JSON(w, p)
}

// DeletePurchase removes a draft purchase.
func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := purchasing.DeletePurchase(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "purchases", id, "Deleted draft purchase "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

// PostPurchase books the purchase to the ledger and receives its stock in
// one transaction.
func (h *Handler) PostPurchase(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	p, err := purchasing.PostPurchase(r.Context(), h.DB, id, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPost, "purchases", id, "Posted purchase "+id+" gross "+p.GrossTotal.StringFixed(2))
	h.Emit(r, events.PurchasePosted, id, nil)
	response.JSON(w, p)
}

// RecordPayment pays down a posted purchase.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var in purchasing.PaymentInput
	if !common.Decode(w, r, &in) {
		return
	}
	pay, err := purchasing.RecordPayment(r.Context(), h.DB, id, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	p, err := purchasing.GetPurchase(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPayment, "purchases", id, "Paid "+pay.Amount.StringFixed(2)+" on "+id)
	h.Emit(r, events.PurchasePaid, id, events.PaymentPayload{
		DocumentID: id, PartyID: pay.SupplierID, Amount: pay.Amount.StringFixed(2), Status: p.Status,
	})
	response.Created(w, pay)
}

// VoidPurchase reverses a posted purchase without payments.
func (h *Handler) VoidPurchase(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !common.Decode(w, r, &body) {
		return
	}
	p, err := purchasing.VoidPurchase(r.Context(), h.DB, id, common.Identity(r).Username, body.Reason)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionVoid, "purchases", id, "Voided purchase "+id+": "+body.Reason)
	response.JSON(w, p)
}

// PayablesAging buckets open purchases by days overdue as of ?as_of=.
func (h *Handler) PayablesAging(w http.ResponseWriter, r *http.Request) {
	asOf, ok := common.Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	report, err := purchasing.PayablesAging(r.Context(), h.DB, asOf)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, report)
}
