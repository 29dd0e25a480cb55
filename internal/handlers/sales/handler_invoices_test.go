package sales_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"millops/internal/audit"
	"millops/internal/events"
	"millops/internal/handlers/common"
	handlers "millops/internal/handlers/sales"
	"millops/internal/inventory"
	"millops/internal/models"
	"millops/internal/sales"
	"millops/internal/testutil"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}
func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	var out []string
	for _, e := range r.got {
		out = append(out, e.Type)
	}
	return out
}

func newRouter(db *sql.DB, pub events.Publisher) http.Handler {
	h := &handlers.Handler{Base: common.Base{DB: db, Events: pub}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(req, 1, "clerk", "user"))
		})
	})
	r.Get("/customers/{id}", h.GetCustomer)
	r.Post("/customers", h.CreateCustomer)
	r.Post("/invoices", h.CreateInvoice)
	r.Get("/invoices/{id}", h.GetInvoice)
	r.Post("/invoices/{id}/post", h.PostInvoice)
	r.Post("/invoices/{id}/receipts", h.RecordReceipt)
	r.Post("/invoices/{id}/void", h.VoidInvoice)
	r.Delete("/invoices/{id}", h.DeleteInvoice)
	return r
}

func seedFlour(t *testing.T, db *sql.DB) {
	t.Helper()
	testutil.CreateCustomer(t, db, "CUS-1", "Riverside Bakery", "standard")
	testutil.CreateProduct(t, db, "PRD-FLOUR", "FLOUR-T55", "1.20", "10", 950)
	err := inventory.Receive(context.Background(), db, inventory.Movement{ProductID: "PRD-FLOUR", Qty: 1000, UnitCost: decimal.RequireFromString("0.50")})
	if err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, testutil.JSONRequest(method, path, body))
	return w
}

func TestInvoiceLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedFlour(t, db)
	pub := &recorder{}
	router := newRouter(db, pub)

	w := do(t, router, "POST", "/invoices", sales.Input{
		CustomerID: "CUS-1", InvoiceDate: "2026-05-04",
		Lines: []sales.LineInput{{ProductID: "PRD-FLOUR", Qty: 100}},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var inv models.SalesInvoice
	testutil.DecodeEnvelope(t, w, &inv)
	if !inv.GrossTotal.Equal(decimal.RequireFromString("132")) {
		t.Errorf("Expected gross 132.00, got %s", inv.GrossTotal)
	}

	w = do(t, router, "POST", "/invoices/"+inv.ID+"/post", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeEnvelope(t, w, &inv)
	if inv.Status != "posted" {
		t.Errorf("Expected posted, got %s", inv.Status)
	}
	want := []string{events.InvoicePosted, events.StockLow}
	if got := pub.types(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Expected events %v, got %v", want, got)
	}

	w = do(t, router, "POST", "/invoices/"+inv.ID+"/post", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = do(t, router, "POST", "/invoices/"+inv.ID+"/receipts", sales.ReceiptInput{Amount: decimal.RequireFromString("132"), ReceiptDate: "2026-05-10"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	last := pub.got[len(pub.got)-1]
	var pay events.PaymentPayload
	if err := last.Decode(&pay); err != nil {
		t.Fatal(err)
	}
	if last.Type != events.InvoicePaid || pay.Status != "paid" || pay.Amount != "132.00" {
		t.Errorf("Expected invoice.paid with status paid, got %s %+v", last.Type, pay)
	}

	w = do(t, router, "POST", "/invoices/"+inv.ID+"/void", map[string]string{"reason": "wrong customer"})
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = do(t, router, "DELETE", "/invoices/"+inv.ID, nil)
	testutil.AssertStatus(t, w, http.StatusConflict)

	entries, err := audit.List(context.Background(), db, audit.Filter{Module: "invoices", RecordID: inv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected create, post and payment audit entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Username != "clerk" {
			t.Errorf("Expected entries attributed to clerk, got %q", e.Username)
		}
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	seedFlour(t, db)
	router := newRouter(db, events.Nop{})

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown customer", sales.Input{CustomerID: "CUS-9", InvoiceDate: "2026-05-04", Lines: []sales.LineInput{{ProductID: "PRD-FLOUR", Qty: 1}}}, http.StatusBadRequest},
		{"no lines", sales.Input{CustomerID: "CUS-1", InvoiceDate: "2026-05-04"}, http.StatusBadRequest},
		{"malformed body", "not an invoice", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/invoices", tt.body)
			testutil.AssertStatus(t, w, tt.status)
		})
	}

	w := do(t, router, "GET", "/invoices/INV-404", nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}
