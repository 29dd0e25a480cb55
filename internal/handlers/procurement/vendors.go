package procurement

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/parties"
	"millops/internal/response"
)

// ListSuppliers returns suppliers matching ?search= and ?status=, paged.
func (h *Handler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := response.Paging(r, 50, 500)
	items, total, err := parties.ListSuppliers(r.Context(), h.DB, parties.ListFilter{
		Search: r.URL.Query().Get("search"), Status: r.URL.Query().Get("status"), Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

// GetSupplier returns one supplier with what is owed to it.
func (h *Handler) GetSupplier(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	v, err := parties.GetSupplier(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	bal, err := parties.SupplierBalance(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"supplier": v, "balance": bal})
}

// CreateSupplier adds a supplier.
func (h *Handler) CreateSupplier(w http.ResponseWriter, r *http.Request) {
	var v models.Supplier
	if !common.Decode(w, r, &v) {
		return
	}
	created, err := parties.CreateSupplier(r.Context(), h.DB, v)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "suppliers", created.ID, "Created supplier "+created.Name)
	response.Created(w, created)
}

// UpdateSupplier replaces a supplier's details.
func (h *Handler) UpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var v models.Supplier
	if !common.Decode(w, r, &v) {
		return
	}
	updated, err := parties.UpdateSupplier(r.Context(), h.DB, id, v)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "suppliers", id, "Updated supplier "+updated.Name)
	response.JSON(w, updated)
}

// DeleteSupplier removes a supplier with no ledger activity.
func (h *Handler) DeleteSupplier(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := parties.DeleteSupplier(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "suppliers", id, "Deleted supplier "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

// SupplierStatement returns the supplier's payable ledger with a running
// balance.
func (h *Handler) SupplierStatement(w http.ResponseWriter, r *http.Request) {
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", database.Today())
	if !ok {
		return
	}
	st, err := parties.SupplierStatement(r.Context(), h.DB, common.Param(r, "id"), from, to)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, st)
}
