package procurement_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"millops/internal/events"
	"millops/internal/handlers/common"
	"millops/internal/handlers/procurement"
	"millops/internal/models"
	"millops/internal/purchasing"
	"millops/internal/testutil"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.got = append(r.got, e)
	return nil
}
func (r *recorder) Close() error { return nil }

func newRouter(db *sql.DB, pub events.Publisher) http.Handler {
	h := &procurement.Handler{Base: common.Base{DB: db, Events: pub}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(req, 1, "buyer", "clerk"))
		})
	})
	r.Post("/suppliers", h.CreateSupplier)
	r.Get("/suppliers/{id}", h.GetSupplier)
	r.Put("/suppliers/{id}", h.UpdateSupplier)
	r.Delete("/suppliers/{id}", h.DeleteSupplier)
	r.Get("/suppliers/{id}/statement", h.SupplierStatement)
	r.Post("/purchases", h.CreatePurchase)
	r.Post("/purchases/{id}/post", h.PostPurchase)
	r.Post("/purchases/{id}/payments", h.RecordPayment)
	r.Post("/purchases/{id}/void", h.VoidPurchase)
	r.Get("/payables/aging", h.PayablesAging)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, testutil.JSONRequest(method, path, body))
	return w
}

func TestSupplierCRUD(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(db, nil)

	w := do(t, router, "POST", "/suppliers", models.Supplier{Name: "  Prairie Grain Co ", Email: "sales@prairie.example"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var s models.Supplier
	testutil.DecodeEnvelope(t, w, &s)
	if s.Name != "Prairie Grain Co" || s.PaymentTermsDays != 30 || s.Status != "active" {
		t.Errorf("Expected trimmed name and defaults, got %+v", s)
	}

	w = do(t, router, "POST", "/suppliers", models.Supplier{Name: "Bad Mail", Email: "not-an-email"})
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "PUT", "/suppliers/"+s.ID, models.Supplier{Status: "blocked"})
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeEnvelope(t, w, &s)
	if s.Status != "blocked" || s.Name != "Prairie Grain Co" {
		t.Errorf("Expected blocked supplier with name kept, got %+v", s)
	}

	w = do(t, router, "DELETE", "/suppliers/"+s.ID, nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	w = do(t, router, "GET", "/suppliers/"+s.ID, nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestPurchaseLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateSupplier(t, db, "SUP-1", "Prairie Grain Co")
	testutil.CreateProduct(t, db, "PRD-WHEAT", "WHEAT-HRW", "0.45", "0", 0)
	pub := &recorder{}
	router := newRouter(db, pub)

	w := do(t, router, "POST", "/purchases", purchasing.Input{
		SupplierID: "SUP-1", PurchaseDate: "2026-03-01", DueDate: "2026-03-31",
		Lines: []purchasing.LineInput{{ProductID: "PRD-WHEAT", Qty: 100, UnitCost: decimal.RequireFromString("0.50")}},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var p models.Purchase
	testutil.DecodeEnvelope(t, w, &p)
	if !p.GrossTotal.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Expected gross 50, got %s", p.GrossTotal)
	}

	w = do(t, router, "POST", "/purchases/"+p.ID+"/post", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var onHand float64
	db.QueryRow("SELECT COALESCE(SUM(qty), 0) FROM stock_levels WHERE product_id = 'PRD-WHEAT'").Scan(&onHand)
	if onHand != 100 {
		t.Errorf("Expected 100 received, got %g", onHand)
	}

	w = do(t, router, "POST", "/purchases/"+p.ID+"/payments", purchasing.PaymentInput{Amount: decimal.NewFromInt(60)})
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = do(t, router, "POST", "/purchases/"+p.ID+"/payments", purchasing.PaymentInput{Amount: decimal.NewFromInt(20), PaymentDate: "2026-03-10"})
	testutil.AssertStatus(t, w, http.StatusCreated)

	if len(pub.got) != 2 || pub.got[0].Type != events.PurchasePosted || pub.got[1].Type != events.PurchasePaid {
		t.Fatalf("Expected purchase.posted then purchase.paid, got %+v", pub.got)
	}
	var paid events.PaymentPayload
	if err := pub.got[1].Decode(&paid); err != nil {
		t.Fatal(err)
	}
	if paid.Status != models.StatusPartiallyPaid || paid.Amount != "20.00" {
		t.Errorf("Expected partially_paid 20.00, got %+v", paid)
	}

	w = do(t, router, "GET", "/suppliers/SUP-1", nil)
	var got struct {
		Balance decimal.Decimal `json:"balance"`
	}
	testutil.DecodeEnvelope(t, w, &got)
	if !got.Balance.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected 30 owed, got %s", got.Balance)
	}

	w = do(t, router, "GET", "/suppliers/SUP-1/statement?from=2026-01-01&to=2026-12-31", nil)
	var st models.Statement
	testutil.DecodeEnvelope(t, w, &st)
	if len(st.Lines) != 2 || !st.ClosingBalance.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected 2 statement lines closing at 30, got %d closing %s", len(st.Lines), st.ClosingBalance)
	}

	w = do(t, router, "POST", "/purchases/"+p.ID+"/void", map[string]string{"reason": "wrong supplier"})
	testutil.AssertStatus(t, w, http.StatusConflict)
	w = do(t, router, "DELETE", "/suppliers/SUP-1", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = do(t, router, "GET", "/payables/aging?as_of=2026-05-15", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var aging models.AgingReport
	testutil.DecodeEnvelope(t, w, &aging)
	if !aging.Totals.Days31_60.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected 30 in the 31-60 bucket, got %+v", aging.Totals)
	}
}

func TestVoidPostedPurchase(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateSupplier(t, db, "SUP-1", "Prairie Grain Co")
	router := newRouter(db, nil)

	w := do(t, router, "POST", "/purchases", purchasing.Input{
		SupplierID: "SUP-1", PurchaseDate: "2026-03-01",
		Lines: []purchasing.LineInput{{Description: "Mill maintenance", Qty: 1, UnitCost: decimal.NewFromInt(400)}},
	})
	var p models.Purchase
	testutil.DecodeEnvelope(t, w, &p)
	do(t, router, "POST", "/purchases/"+p.ID+"/post", nil)

	w = do(t, router, "POST", "/purchases/"+p.ID+"/void", map[string]string{"reason": "duplicate"})
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeEnvelope(t, w, &p)
	if p.Status != models.StatusVoid {
		t.Errorf("Expected void, got %s", p.Status)
	}
	w = do(t, router, "POST", "/purchases/"+p.ID+"/void", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = do(t, router, "GET", "/suppliers/SUP-1", nil)
	var got struct {
		Balance decimal.Decimal `json:"balance"`
	}
	testutil.DecodeEnvelope(t, w, &got)
	if !got.Balance.IsZero() {
		t.Errorf("Expected nothing owed after void, got %s", got.Balance)
	}
}
