package common

import (
	"net/http"

	"millops/internal/dashboard"
	"millops/internal/database"
	"millops/internal/response"
)

// WidgetTypes lists every widget a layout may hold.
func (h *Handler) WidgetTypes(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, dashboard.Types())
}

// GetLayout returns the caller's widget layout.
func (h *Handler) GetLayout(w http.ResponseWriter, r *http.Request) {
	layout, err := dashboard.GetLayout(r.Context(), h.DB, Identity(r).UserID)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, layout)
}

// UpdateLayout reorders, enables or disables the caller's widgets.
func (h *Handler) UpdateLayout(w http.ResponseWriter, r *http.Request) {
	var updates []dashboard.LayoutUpdate
	if !Decode(w, r, &updates) {
		return
	}
	layout, err := dashboard.UpdateLayout(r.Context(), h.DB, Identity(r).UserID, updates)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, layout)
}

// WidgetData returns one widget's data. Settings stored in the caller's
// layout apply.
func (h *Handler) WidgetData(w http.ResponseWriter, r *http.Request) {
	asOf, ok := Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	typ := Param(r, "type")
	layout, err := dashboard.GetLayout(r.Context(), h.DB, Identity(r).UserID)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	var settings []byte
	for _, wg := range layout {
		if wg.WidgetType == typ {
			settings = wg.Settings
		}
	}
	data, err := dashboard.WidgetData(r.Context(), h.DB, typ, asOf, settings)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, data)
}

// Summary returns every enabled widget's data in one response.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	asOf, ok := Date(w, r, "as_of", database.Today())
	if !ok {
		return
	}
	out, err := dashboard.Summary(r.Context(), h.DB, Identity(r).UserID, asOf)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, out)
}
