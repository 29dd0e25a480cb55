package common_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"millops/internal/dashboard"
	"millops/internal/handlers/common"
	"millops/internal/models"
	"millops/internal/testutil"
)

func newRouter(t *testing.T) (http.Handler, *common.Handler) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	h := &common.Handler{Base: common.Base{DB: db}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(req, 1, "admin", "admin"))
		})
	})
	r.Get("/search", h.GlobalSearch)
	r.Get("/calendar", h.Calendar)
	r.Get("/export/{kind}", h.Export)
	r.Get("/audit", h.ListAudit)
	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{id}/read", h.MarkNotificationRead)
	r.Get("/dashboard/layout", h.GetLayout)
	r.Put("/dashboard/layout", h.UpdateLayout)
	r.Get("/dashboard/widgets/{type}", h.WidgetData)
	return r, h
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestGlobalSearch(t *testing.T) {
	router, h := newRouter(t)
	testutil.CreateCustomer(t, h.DB, "CUS-1", "Riverside Bakery", "standard")
	testutil.CreateSupplier(t, h.DB, "SUP-1", "Prairie Grain Co")
	testutil.CreateProduct(t, h.DB, "PRD-1", "FLOUR-T55", "1.20", "10", 0)
	testutil.CreateProduct(t, h.DB, "PRD-2", "RYE_100", "1.00", "10", 0)

	w := get(router, "/search?q=river")
	testutil.AssertStatus(t, w, http.StatusOK)
	var got map[string][]common.SearchHit
	testutil.DecodeEnvelope(t, w, &got)
	if len(got["customers"]) != 1 || got["customers"][0].ID != "CUS-1" {
		t.Errorf("Expected Riverside Bakery, got %+v", got["customers"])
	}
	if len(got["suppliers"]) != 0 {
		t.Errorf("Expected no supplier hits, got %+v", got["suppliers"])
	}

	w = get(router, "/search?q=_")
	testutil.DecodeEnvelope(t, w, &got)
	if len(got["products"]) != 1 || got["products"][0].ID != "PRD-2" {
		t.Errorf("Expected underscore to match literally, got %+v", got["products"])
	}

	w = get(router, "/search")
	testutil.DecodeEnvelope(t, w, &got)
	if len(got["invoices"]) != 0 || got["invoices"] == nil {
		t.Errorf("Expected empty groups for an empty query, got %+v", got)
	}
}

func TestCalendar(t *testing.T) {
	router, h := newRouter(t)
	testutil.CreateVehicle(t, h.DB, "VEH-1", "MILL-01", 0)
	testutil.CreateDriver(t, h.DB, "DRV-1", "Sam Ortiz", "2026-06-20")
	h.DB.Exec(`INSERT INTO trips (id, vehicle_id, driver_id, origin, destination, planned_date) VALUES ('TRP-1', 'VEH-1', 'DRV-1', 'Mill', 'Riverside', '2026-06-03')`)
	h.DB.Exec(`INSERT INTO wheat_shipments (source, vessel, destination, quantity_tonnes, shipment_date) VALUES ('board', 'Ocean Harvest', 'Yokohama', 48000, '2026-07-01')`)

	w := get(router, "/calendar?year=2026&month=6")
	testutil.AssertStatus(t, w, http.StatusOK)
	var events []common.CalendarEvent
	testutil.DecodeEnvelope(t, w, &events)
	if len(events) != 2 {
		t.Fatalf("Expected trip and licence expiry, got %+v", events)
	}
	if events[0].Type != "trip" || events[1].Type != "licence_expiry" {
		t.Errorf("Expected events in date order, got %s then %s", events[0].Type, events[1].Type)
	}

	w = get(router, "/calendar?month=13")
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestExportEndpoint(t *testing.T) {
	router, h := newRouter(t)
	testutil.CreateCustomer(t, h.DB, "CUS-1", "Riverside Bakery", "standard")

	w := get(router, "/export/customers?format=csv")
	testutil.AssertStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Header().Get("Content-Disposition"), "customers.csv") {
		t.Errorf("Expected customers.csv attachment, got %q", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Body.String(), "Riverside Bakery") {
		t.Errorf("Expected customer in export, got %q", w.Body.String())
	}

	w = get(router, "/export/customers?format=pdf")
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = get(router, "/export/ledger")
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = get(router, "/export/payroll")
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = get(router, "/audit?module=reports")
	var entries []models.AuditEntry
	testutil.DecodeEnvelope(t, w, &entries)
	if len(entries) != 1 || entries[0].Action != "export" {
		t.Errorf("Expected one export audit entry, got %+v", entries)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	router, h := newRouter(t)
	h.DB.Exec(`INSERT INTO notifications (type, severity, title, message, module, record_id) VALUES ('stock.low', 'warning', 'Low stock', '', 'inventory', 'PRD-1')`)

	w := get(router, "/notifications?unread=true")
	var list []models.Notification
	testutil.DecodeEnvelope(t, w, &list)
	if len(list) != 1 {
		t.Fatalf("Expected 1 unread, got %d", len(list))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/notifications/"+strconv.Itoa(list[0].ID)+"/read", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/notifications/999/read", nil))
	testutil.AssertStatus(t, w, http.StatusNotFound)

	w = get(router, "/notifications?unread=true")
	testutil.DecodeEnvelope(t, w, &list)
	if len(list) != 0 {
		t.Errorf("Expected inbox empty, got %d", len(list))
	}
}

func TestDashboardLayoutEndpoints(t *testing.T) {
	router, _ := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/dashboard/layout", []dashboard.LayoutUpdate{{WidgetType: "payroll", Position: 1, Enabled: true}}))
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = get(router, "/dashboard/widgets/cash_position?as_of=2026-06-01")
	testutil.AssertStatus(t, w, http.StatusOK)
	w = get(router, "/dashboard/widgets/payroll")
	testutil.AssertStatus(t, w, http.StatusNotFound)
}
