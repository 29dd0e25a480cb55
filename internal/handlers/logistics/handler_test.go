package logistics_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"millops/internal/config"
	"millops/internal/events"
	"millops/internal/fleet"
	"millops/internal/handlers/common"
	"millops/internal/handlers/logistics"
	"millops/internal/inventory"
	"millops/internal/models"
	"millops/internal/scraper"
	"millops/internal/testutil"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}
func (r *recorder) Close() error { return nil }

func (r *recorder) count(typ string) int {
	n := 0
	for _, e := range r.got {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newRouter(h *logistics.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(req, 1, "dispatcher", "user"))
		})
	})
	r.Post("/trips", h.CreateTrip)
	r.Post("/trips/{id}/start", h.StartTrip)
	r.Post("/trips/{id}/complete", h.CompleteTrip)
	r.Post("/shipments", h.CreateShipment)
	r.Post("/shipments/{id}/assign", h.AssignShipment)
	r.Post("/fuel", h.LogFuel)
	r.Get("/vehicles/{id}/costs", h.VehicleCosts)
	r.Get("/drivers/expiring", h.ExpiringLicences)
	r.Get("/wheat-shipments", h.ListWheatShipments)
	r.Get("/wheat-shipments/runs", h.ListScrapeRuns)
	r.Post("/wheat-shipments/scrape", h.Scrape)
	return r
}

func serve(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest(method, path, body))
	return w
}

func setup(t *testing.T) (*sql.DB, *recorder, http.Handler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.CreateVehicle(t, db, "VEH-1", "MILL-01", 1000)
	testutil.CreateDriver(t, db, "DRV-1", "Sam Ortiz", "2027-01-01")
	testutil.CreateCustomer(t, db, "CUS-1", "Riverside Bakery", "standard")
	testutil.CreateProduct(t, db, "PRD-BRAN", "BRAN-25", "0.40", "0", 450)
	err := inventory.Receive(context.Background(), db, inventory.Movement{ProductID: "PRD-BRAN", Qty: 500, UnitCost: decimal.RequireFromString("2")})
	if err != nil {
		t.Fatal(err)
	}
	pub := &recorder{}
	h := &logistics.Handler{Base: common.Base{DB: db, Events: pub}}
	return db, pub, newRouter(h)
}

func TestTripDispatchesShipments(t *testing.T) {
	_, pub, router := setup(t)

	w := serve(router, "POST", "/trips", fleet.TripInput{
		VehicleID: "VEH-1", DriverID: "DRV-1", Origin: "Mill", Destination: "Riverside", PlannedDate: "2026-06-01", CargoKg: 5000,
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var trip models.Trip
	testutil.DecodeEnvelope(t, w, &trip)

	w = serve(router, "POST", "/shipments", fleet.ShipmentInput{
		Direction: "outbound", CustomerID: "CUS-1",
		Lines: []fleet.ShipmentLineInput{{ProductID: "PRD-BRAN", Qty: 100}},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var sh models.Shipment
	testutil.DecodeEnvelope(t, w, &sh)

	w = serve(router, "POST", "/shipments/"+sh.ID+"/assign", map[string]string{"trip_id": trip.ID})
	testutil.AssertStatus(t, w, http.StatusOK)

	w = serve(router, "POST", "/trips/"+trip.ID+"/start", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	if pub.count(events.StockLow) != 1 {
		t.Errorf("Expected stock.low after the trip took 100 of 500, got %d", pub.count(events.StockLow))
	}

	w = serve(router, "POST", "/trips/"+trip.ID+"/complete", map[string]any{})
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = serve(router, "POST", "/trips/"+trip.ID+"/complete", map[string]float64{"odometer": 1250})
	testutil.AssertStatus(t, w, http.StatusOK)
	if pub.count(events.TripCompleted) != 1 {
		t.Errorf("Expected one trip.completed event, got %d", pub.count(events.TripCompleted))
	}
	w = serve(router, "POST", "/trips/"+trip.ID+"/start", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)
}

func TestFuelAndCosts(t *testing.T) {
	_, _, router := setup(t)

	w := serve(router, "POST", "/fuel", fleet.FuelInput{
		VehicleID: "VEH-1", LogDate: "2026-06-02", Litres: 300, Cost: decimal.RequireFromString("450"), OdometerKm: 1300,
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	w = serve(router, "POST", "/fuel", fleet.FuelInput{
		VehicleID: "VEH-1", LogDate: "2026-06-02", Litres: 10, Cost: decimal.RequireFromString("15"), AccountCode: "4000",
	})
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = serve(router, "GET", "/vehicles/VEH-1/costs?from=2026-06-01&to=2026-06-30", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var s models.VehicleCostSummary
	testutil.DecodeEnvelope(t, w, &s)
	if !s.FuelCost.Equal(decimal.RequireFromString("450")) {
		t.Errorf("Expected fuel cost 450, got %s", s.FuelCost)
	}

	w = serve(router, "GET", "/drivers/expiring?date=2027-06-01", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var drivers []models.Driver
	testutil.DecodeEnvelope(t, w, &drivers)
	if len(drivers) != 1 {
		t.Errorf("Expected 1 expiring licence, got %d", len(drivers))
	}
}

const board = `<table><tbody>
<tr><td>MV Golden Grain</td><td>Port Adelaide</td><td>Jakarta</td><td>32,500</td><td>2026-05-03</td></tr>
<tr><td>Ocean Harvest</td><td>Vancouver</td><td>Yokohama</td><td>TBA</td><td>2026-05-12</td></tr>
</tbody></table>`

func TestScrapeEndpoint(t *testing.T) {
	db := testutil.SetupTestDB(t)
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, board)
	}))
	defer site.Close()

	pub := &recorder{}
	h := &logistics.Handler{
		Base:    common.Base{DB: db, Events: pub},
		Scraper: scraper.New(db, pub, nil),
		Sources: []config.ScrapeSource{
			{Name: "grain-board", URL: site.URL + "/lineup"},
			{Name: "backup-board", URL: site.URL + "/down"},
		},
	}
	router := newRouter(h)

	w := serve(router, "POST", "/wheat-shipments/scrape?source=nowhere", nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = serve(router, "POST", "/wheat-shipments/scrape", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var runs []models.ScrapeRun
	testutil.DecodeEnvelope(t, w, &runs)
	if len(runs) != 2 {
		t.Fatalf("Expected a run per source, got %d", len(runs))
	}
	if runs[0].RowsParsed != 1 || runs[0].RowsSkipped != 1 || runs[0].Error != "" {
		t.Errorf("Unexpected first run %+v", runs[0])
	}
	if runs[1].Error == "" {
		t.Error("Expected the failing source to report its error")
	}
	if pub.count(events.ScrapeFinished) != 2 {
		t.Errorf("Expected 2 scrape.finished events, got %d", pub.count(events.ScrapeFinished))
	}

	w = serve(router, "GET", "/wheat-shipments?destination=jak", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var ships []models.WheatShipment
	testutil.DecodeEnvelope(t, w, &ships)
	if len(ships) != 1 || ships[0].QuantityTonnes != 32500 {
		t.Errorf("Expected the Jakarta shipment, got %+v", ships)
	}

	w = serve(router, "GET", "/wheat-shipments/runs", nil)
	testutil.DecodeEnvelope(t, w, &runs)
	if len(runs) != 2 {
		t.Errorf("Expected 2 recorded runs, got %d", len(runs))
	}

	empty := newRouter(&logistics.Handler{Base: common.Base{DB: db}})
	w = serve(empty, "POST", "/wheat-shipments/scrape", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)
}
