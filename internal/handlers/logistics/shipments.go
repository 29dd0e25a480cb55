package logistics

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"millops/internal/audit"
	"millops/internal/fleet"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/response"
)

// ListShipments filters by ?direction, ?status, ?trip_id and ?party_id.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := fleet.ListShipments(r.Context(), h.DB, fleet.ShipmentFilter{
		Direction: q.Get("direction"), Status: q.Get("status"), TripID: q.Get("trip_id"), PartyID: q.Get("party_id"),
	})
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, items)
}

func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	s, err := fleet.GetShipment(r.Context(), h.DB, common.Param(r, "id"))
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, s)
}

func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var in fleet.ShipmentInput
	if !common.Decode(w, r, &in) {
		return
	}
	s, err := fleet.CreateShipment(r.Context(), h.DB, in, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "shipments", s.ID, fmt.Sprintf("Created %s shipment with %d lines", s.Direction, len(s.Lines)))
	response.Created(w, s)
}

type assignRequest struct {
	TripID string `json:"trip_id"`
}

// AssignShipment puts a pending shipment on a trip.
func (h *Handler) AssignShipment(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	var req assignRequest
	if !common.Decode(w, r, &req) {
		return
	}
	s, err := fleet.AssignTrip(r.Context(), h.DB, id, req.TripID)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "shipments", id, "Assigned to trip "+req.TripID)
	response.JSON(w, s)
}

// DispatchShipment sends a shipment. Outbound shipments issue stock.
func (h *Handler) DispatchShipment(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	s, err := fleet.DispatchShipment(r.Context(), h.DB, id, common.Identity(r).Username)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionPost, "shipments", id, "Dispatched shipment "+id)
	h.EmitLowStock(r, lineProducts(s))
	response.JSON(w, s)
}

func (h *Handler) DeliverShipment(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	s, err := fleet.DeliverShipment(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "shipments", id, "Delivered shipment "+id)
	response.JSON(w, s)
}

func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	id := common.Param(r, "id")
	s, err := fleet.CancelShipment(r.Context(), h.DB, id)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionVoid, "shipments", id, "Cancelled shipment "+id)
	response.JSON(w, s)
}

func lineProducts(s models.Shipment) []string {
	if s.Direction != "outbound" {
		return nil
	}
	ids := make([]string, 0, len(s.Lines))
	for _, l := range s.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// shipmentProducts collects the outbound products of the given shipments.
func (h *Handler) shipmentProducts(r *http.Request, shipmentIDs []string) []string {
	var ids []string
	for _, sid := range shipmentIDs {
		s, err := fleet.GetShipment(r.Context(), h.DB, sid)
		if err != nil {
			common.Logger(r).Warn("load shipment for stock check", zap.String("shipment", sid), zap.Error(err))
			continue
		}
		ids = append(ids, lineProducts(s)...)
	}
	return ids
}
