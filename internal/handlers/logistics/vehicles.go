package logistics

import (
	"net/http"
	"time"

	"millops/internal/audit"
	"millops/internal/database"
	"millops/internal/fleet"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/response"
)

func (h *Handler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	items, err := fleet.ListVehicles(r.Context(), h.DB, r.URL.Query().Get("status"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := fleet.GetVehicle(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, v)
}

func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if !common.Decode(w, r, &v) {
		return
	}
	created, err := fleet.CreateVehicle(r.Context(), h.DB, v)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "vehicles", created.ID, "Created vehicle "+created.Registration)
	response.Created(w, created)
}

func (h *Handler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var v models.Vehicle
	if !common.Decode(w, r, &v) {
		return
	}
	updated, err := fleet.UpdateVehicle(r.Context(), h.DB, id, v)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "vehicles", id, "Updated vehicle "+updated.Registration)
	response.JSON(w, updated)
}

func (h *Handler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	if err := fleet.DeleteVehicle(r.Context(), h.DB, id); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionDelete, "vehicles", id, "Deleted vehicle "+id)
	response.JSON(w, map[string]string{"status": "deleted"})
}

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	items, err := fleet.ListDrivers(r.Context(), h.DB, r.URL.Query().Get("status"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := fleet.GetDriver(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, d)
}

func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if !common.Decode(w, r, &d) {
		return
	}
	created, err := fleet.CreateDriver(r.Context(), h.DB, d)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "drivers", created.ID, "Created driver "+created.Name)
	response.Created(w, created)
}

func (h *Handler) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var d models.Driver
	if !common.Decode(w, r, &d) {
		return
	}
	updated, err := fleet.UpdateDriver(r.Context(), h.DB, id, d)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "drivers", id, "Updated driver "+updated.Name)
	response.JSON(w, updated)
}

// ExpiringLicences lists drivers whose licence runs out by ?date (default
// thirty days from today).
func (h *Handler) ExpiringLicences(w http.ResponseWriter, r *http.Request) {
	date, ok := common.Date(w, r, "date", time.Now().AddDate(0, 0, 30).Format(database.DateLayout))
	if !ok {
		return
	}
	items, err := fleet.ExpiringLicences(r.Context(), h.DB, date)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}
