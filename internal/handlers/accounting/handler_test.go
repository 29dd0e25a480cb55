package accounting_test

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"millops/internal/handlers/accounting"
	"millops/internal/handlers/common"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/testutil"
)

func newRouter(db *sql.DB) http.Handler {
	h := &accounting.Handler{Base: common.Base{DB: db}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, testutil.WithUser(req, 1, "accountant", "user"))
		})
	})
	r.Get("/accounts", h.ListAccounts)
	r.Post("/accounts", h.CreateAccount)
	r.Get("/accounts/{code}/ledger", h.AccountLedger)
	r.Get("/accounts/{code}/balance", h.AccountBalance)
	r.Post("/journal", h.PostEntry)
	r.Get("/journal/{id}", h.GetEntry)
	r.Post("/journal/{id}/reverse", h.ReverseEntry)
	r.Get("/trial-balance", h.TrialBalance)
	return r
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func serve(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest(method, path, body))
	return w
}

func TestManualEntryAndReversal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(db)

	w := serve(router, "POST", "/journal", ledger.Entry{
		Date: "2026-02-01", Memo: "Owner capital",
		// source fields are ignored for manual entries
		SourceModule: "sales", SourceID: "INV-1",
		Lines: []ledger.Line{
			ledger.Debit("1010", d("250"), "", "Deposit"),
			ledger.Credit("3000", d("250"), "", "Capital"),
		},
	})
	testutil.AssertStatus(t, w, http.StatusCreated)
	var entry models.JournalEntry
	testutil.DecodeEnvelope(t, w, &entry)
	if entry.SourceModule != ledger.SourceManual || entry.PostedBy != "accountant" {
		t.Errorf("Expected manual entry by accountant, got %s by %s", entry.SourceModule, entry.PostedBy)
	}

	w = serve(router, "GET", "/trial-balance?as_of=2026-02-28", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var tb models.TrialBalance
	testutil.DecodeEnvelope(t, w, &tb)
	if !tb.Balanced || !tb.TotalDebit.Equal(d("250")) {
		t.Errorf("Expected balanced trial balance of 250, got %s/%s", tb.TotalDebit, tb.TotalCredit)
	}

	w = serve(router, "POST", "/journal/"+entry.ID+"/reverse", map[string]string{"date": "2026-02-10"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	w = serve(router, "POST", "/journal/"+entry.ID+"/reverse", nil)
	testutil.AssertStatus(t, w, http.StatusConflict)

	w = serve(router, "GET", "/accounts/1010/ledger?from=2026-01-01&to=2026-12-31", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var l models.AccountLedger
	testutil.DecodeEnvelope(t, w, &l)
	if len(l.Lines) != 2 || !l.ClosingBalance.IsZero() {
		t.Errorf("Expected 2 lines closing at zero, got %d closing %s", len(l.Lines), l.ClosingBalance)
	}

	w = serve(router, "GET", "/accounts/1010/balance?as_of=2026-02-05", nil)
	testutil.AssertStatus(t, w, http.StatusOK)
	var bal map[string]string
	testutil.DecodeEnvelope(t, w, &bal)
	if bal["balance"] != "250.00" {
		t.Errorf("Expected 250.00 before the reversal date, got %s", bal["balance"])
	}
}

func TestPostEntryRejects(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(db)

	tests := []struct {
		name   string
		lines  []ledger.Line
		status int
	}{
		{"unbalanced", []ledger.Line{ledger.Debit("1000", d("10"), "", ""), ledger.Credit("3000", d("9"), "", "")}, http.StatusBadRequest},
		{"single line", []ledger.Line{ledger.Debit("1000", d("10"), "", "")}, http.StatusBadRequest},
		{"unknown account", []ledger.Line{ledger.Debit("9999", d("10"), "", ""), ledger.Credit("3000", d("10"), "", "")}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, "POST", "/journal", ledger.Entry{Date: "2026-02-01", Lines: tt.lines})
			testutil.AssertStatus(t, w, tt.status)
		})
	}

	w := serve(router, "GET", "/trial-balance?as_of=yesterday", nil)
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = serve(router, "GET", "/accounts/9999/balance", nil)
	testutil.AssertStatus(t, w, http.StatusNotFound)
}

func TestCreateAccount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router := newRouter(db)

	w := serve(router, "POST", "/accounts", ledger.AccountInput{Code: "5400", Name: "Milling Supplies", Type: "expense"})
	testutil.AssertStatus(t, w, http.StatusCreated)
	w = serve(router, "POST", "/accounts", ledger.AccountInput{Code: "5400", Name: "Duplicate", Type: "expense"})
	testutil.AssertStatus(t, w, http.StatusConflict)
	w = serve(router, "POST", "/accounts", ledger.AccountInput{Code: "5500", Name: "Odd", Type: "mystery"})
	testutil.AssertStatus(t, w, http.StatusBadRequest)

	w = serve(router, "GET", "/accounts", nil)
	var accounts []models.Account
	testutil.DecodeEnvelope(t, w, &accounts)
	found := false
	for _, a := range accounts {
		if a.Code == "5400" {
			found = true
		}
	}
	if !found {
		t.Error("Expected new account in chart")
	}
}
