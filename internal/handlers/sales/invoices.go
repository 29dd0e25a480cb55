package sales

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/handlers/common"
	"millops/internal/response"
	"millops/internal/sales"
)

// ListInvoices returns invoice headers filtered by customer, status and
// date range.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
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
	items, total, err := sales.ListInvoices(r.Context(), h.DB, sales.Filter{
		CustomerID: q.Get("customer_id"), Status: q.Get("status"), From: from, To: to, Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

// GetInvoice returns one invoice with its lines and receipts.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	inv, err := sales.GetInvoice(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	receipts, err := sales.ListReceipts(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"invoice": inv, "receipts": receipts})
}

// CreateInvoice stores a draft invoice priced from the customer's tier.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var in sales.Input
	if !common.Decode(w, r, &in) {
		return
	}
	inv, err := sales.CreateInvoice(r.Context(), h.DB, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "invoices", inv.ID, "Created invoice "+inv.ID+" for "+inv.CustomerID)
	response.Created(w, inv)
}

// UpdateInvoice replaces a draft invoice.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var in sales.Input
	if !common.Decode(w, r, &in) {
		return
	}
	inv, err := sales.UpdateInvoice(r.Context(), h.DB, id, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "invoices", id, "Updated draft invoice "+id)
	response.JSON(w, inv)
}

// DeleteInvoice removes a draft invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := sales.DeleteInvoice(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "invoices", id, "Deleted draft invoice "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

// PostInvoice books the invoice to the ledger and issues its stock.
func (h *Handler) PostInvoice(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	inv, err := sales.PostInvoice(r.Context(), h.DB, id, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPost, "invoices", id, "Posted invoice "+id+" gross "+inv.GrossTotal.StringFixed(2))
	h.Emit(r, events.InvoicePosted, id, nil)
	var products []string
	for _, l := range inv.Lines {
		if l.ProductID != "" {
			products = append(products, l.ProductID)
		}
	}
	h.EmitLowStock(r, products)
	response.JSON(w, inv)
}

// RecordReceipt records money received against a posted invoice.
func (h *Handler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var in sales.ReceiptInput
	if !common.Decode(w, r, &in) {
		return
	}
	rc, err := sales.RecordReceipt(r.Context(), h.DB, id, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	inv, err := sales.GetInvoice(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPayment, "invoices", id, "Received "+rc.Amount.StringFixed(2)+" on "+id)
	h.Emit(r, events.InvoicePaid, id, events.PaymentPayload{
		DocumentID: id, PartyID: rc.CustomerID, Amount: rc.Amount.StringFixed(2), Status: inv.Status,
	})
	response.Created(w, rc)
}

// VoidInvoice reverses a posted invoice without receipts and returns its
// stock.
func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !common.Decode(w, r, &body) {
		return
	}
	inv, err := sales.VoidInvoice(r.Context(), h.DB, id, common.Identity(r).Username, body.Reason)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionVoid, "invoices", id, "Voided invoice "+id+": "+body.Reason)
	response.JSON(w, inv)
}

// ReceivablesAging buckets open invoices by days overdue as of ?as_of=.
func (h *Handler) ReceivablesAging(w http.ResponseWriter, r *http.Request) {
	asOf, ok := common.Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	report, err := sales.ReceivablesAging(r.Context(), h.DB, asOf)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, report)
}
