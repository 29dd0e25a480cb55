package inventory

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"millops/internal/audit"
	"millops/internal/catalog"
	"millops/internal/export"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/response"
)

// ListProducts returns products matching ?search=, ?category= and
// ?active=true, paged.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, offset := response.Paging(r, 50, 500)
	cat, _ := strconv.Atoi(q.Get("category"))
	items, total, err := catalog.ListProducts(r.Context(), h.DB, catalog.ProductFilter{
		Search: q.Get("search"), CategoryID: cat, ActiveOnly: q.Get("active") == "true", Limit: limit, Offset: offset,
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSONMeta(w, items, total, page, limit)
}

// GetProduct returns one product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := catalog.GetProduct(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, p)
}

// CreateProduct adds a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if !common.Decode(w, r, &in) {
		return
	}
	if in.TaxRate == nil {
		rate := h.DefaultTaxRate
		in.TaxRate = &rate
	}
	p, err := catalog.CreateProduct(r.Context(), h.DB, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "products", p.ID, "Created product "+p.SKU)
	response.Created(w, p)
}

// UpdateProduct changes the fields present in the body.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var in catalog.ProductInput
	if !common.Decode(w, r, &in) {
		return
	}
	p, err := catalog.UpdateProduct(r.Context(), h.DB, id, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "products", id, "Updated product "+p.SKU)
	response.JSON(w, p)
}

// DeleteProduct removes a product that was never moved or sold.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := catalog.DeleteProduct(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "products", id, "Deleted product "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

// ImportProducts upserts products from an uploaded CSV or XLSX file in the
// product export layout.
func (h *Handler) ImportProducts(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		response.Err(w, "file too large or not a multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Err(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	format := export.CSV
	if strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		format = export.XLSX
	}
	rows, err := export.Read(file, format)
	if err != nil {
		response.Err(w, "cannot read "+header.Filename+": "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := catalog.ImportProducts(r.Context(), h.DB, rows)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionImport, "products", header.Filename,
		fmt.Sprintf("Imported products: %d created, %d updated, %d rejected", res.Created, res.Updated, len(res.Errors)))
	response.JSON(w, res)
}

// ListCategories returns every category.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	items, err := catalog.ListCategories(r.Context(), h.DB)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// CreateCategory adds a category.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var c models.Category
	if !common.Decode(w, r, &c) {
		return
	}
	created, err := catalog.CreateCategory(r.Context(), h.DB, c)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "categories", strconv.Itoa(created.ID), "Created category "+created.Name)
	response.Created(w, created)
}

// DeleteCategory removes an unused category.
func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IntParam(w, r, "id")
	if !ok {
		return
	}
	if err := catalog.DeleteCategory(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "categories", strconv.Itoa(id), "Deleted category")
	response.JSON(w, map[string]string{"status": "deleted"})
}
