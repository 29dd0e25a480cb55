package sales

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/parties"
	"millops/internal/response"
)

// ListCustomers returns customers matching ?search= and ?status=, paged.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := response.Paging(r, 50, 500)
	items, total, err := parties.ListCustomers(r.Context(), h.DB, parties.ListFilter{
		Search: r.URL.Query().Get("search"), Status: r.URL.Query().Get("status"), Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

// GetCustomer returns one customer with its receivable balance.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	c, err := parties.GetCustomer(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	bal, err := parties.CustomerBalance(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"customer": c, "balance": bal})
}

// CreateCustomer adds a customer.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var c models.Customer
	if !common.Decode(w, r, &c) {
		return
	}
	created, err := parties.CreateCustomer(r.Context(), h.DB, c)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "customers", created.ID, "Created customer "+created.Name)
	response.Created(w, created)
}

// UpdateCustomer replaces a customer's details.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var c models.Customer
	if !common.Decode(w, r, &c) {
		return
	}
	updated, err := parties.UpdateCustomer(r.Context(), h.DB, id, c)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "customers", id, "Updated customer "+updated.Name)
	response.JSON(w, updated)
}

// DeleteCustomer removes a customer with no ledger activity.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := parties.DeleteCustomer(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "customers", id, "Deleted customer "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

// CustomerStatement returns the customer's receivable ledger for
// ?from=..?to= with a running balance.
func (h *Handler) CustomerStatement(w http.ResponseWriter, r *http.Request) {
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", database.Today())
	if !ok {
		return
	}
	st, err := parties.CustomerStatement(r.Context(), h.DB, common.Param(r, "id"), from, to)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, st)
}
