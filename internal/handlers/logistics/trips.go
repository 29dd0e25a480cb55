package logistics

import (
	"fmt"
	"net/http"
	"strconv"

	"millops/internal/audit"
	"millops/internal/events"
	"millops/internal/fleet"
	"millops/internal/handlers/common"
	"millops/internal/response"
)

// ListTrips filters by ?vehicle_id, ?driver_id, ?status, ?from and ?to.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := fleet.ListTrips(r.Context(), h.DB, fleet.TripFilter{
		VehicleID: q.Get("vehicle_id"), DriverID: q.Get("driver_id"), Status: q.Get("status"),
		From: q.Get("from"), To: q.Get("to"),
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := fleet.GetTrip(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, t)
}

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var in fleet.TripInput
	if !common.Decode(w, r, &in) {
		return
	}
	t, err := fleet.CreateTrip(r.Context(), h.DB, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "trips", t.ID, fmt.Sprintf("Planned trip %s to %s on %s", t.ID, t.Destination, t.PlannedDate))
	response.Created(w, t)
}

type odometerRequest struct {
	Odometer *float64 `json:"odometer"`
}

// StartTrip puts a trip on the road and dispatches its pending shipments.
func (h *Handler) StartTrip(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var req odometerRequest
	if r.ContentLength != 0 && !common.Decode(w, r, &req) {
		return
	}
	t, err := fleet.StartTrip(r.Context(), h.DB, id, req.Odometer, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "trips", id, "Started trip "+id)
	h.EmitLowStock(r, h.shipmentProducts(r, t.ShipmentIDs))
	response.JSON(w, t)
}

// CompleteTrip closes a trip at the given end odometer.
func (h *Handler) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var req odometerRequest
	if !common.Decode(w, r, &req) {
		return
	}
	if req.Odometer == nil {
		response.Err(w, "odometer is required", http.StatusBadRequest)
		return
	}
	t, err := fleet.CompleteTrip(r.Context(), h.DB, id, *req.Odometer)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "trips", id, fmt.Sprintf("Completed trip %s at %g km", id, *req.Odometer))
	h.Emit(r, events.TripCompleted, id, t)
	response.JSON(w, t)
}

func (h *Handler) CancelTrip(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	t, err := fleet.CancelTrip(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionVoid, "trips", id, "Cancelled trip "+id)
	response.JSON(w, t)
}

func (h *Handler) ListFuel(w http.ResponseWriter, r *http.Request) {
	items, err := fleet.ListFuel(r.Context(), h.DB, r.URL.Query().Get("vehicle_id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

// LogFuel records a fill-up and books its cost.
func (h *Handler) LogFuel(w http.ResponseWriter, r *http.Request) {
	var in fleet.FuelInput
	if !common.Decode(w, r, &in) {
		return
	}
	f, err := fleet.LogFuel(r.Context(), h.DB, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "fuel", strconv.Itoa(f.ID),
		fmt.Sprintf("Fuel for %s: %g l, %s", in.VehicleID, in.Litres, in.Cost.StringFixed(2)))
	response.Created(w, f)
}

func (h *Handler) ListMaintenance(w http.ResponseWriter, r *http.Request) {
	items, err := fleet.ListMaintenance(r.Context(), h.DB, r.URL.Query().Get("vehicle_id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) OpenMaintenance(w http.ResponseWriter, r *http.Request) {
	var in fleet.MaintenanceInput
	if !common.Decode(w, r, &in) {
		return
	}
	m, err := fleet.OpenMaintenance(r.Context(), h.DB, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "maintenance", strconv.Itoa(m.ID), "Maintenance on "+in.VehicleID+": "+in.Description)
	response.Created(w, m)
}

func (h *Handler) CloseMaintenance(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IntParam(w, r, "id")
	if !ok {
		return
	}
	m, err := fleet.CloseMaintenance(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "maintenance", strconv.Itoa(id), "Closed maintenance job")
	response.JSON(w, m)
}

// VehicleCosts totals fuel and maintenance for one vehicle between ?from
// and ?to.
func (h *Handler) VehicleCosts(w http.ResponseWriter, r *http.Request) {
	from, ok := common.Date(w, r, "from", "")
	if !ok {
		return
	}
	to, ok := common.Date(w, r, "to", "")
	if !ok {
		return
	}
	s, err := fleet.CostSummary(r.Context(), h.DB, common.Param(r, "id"), from, to)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, s)
}
