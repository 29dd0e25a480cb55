package parties_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/parties"
	"millops/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCustomerCRUD(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	c, err := parties.CreateCustomer(ctx, db, models.Customer{Name: "Sunrise Bakery", Email: "orders@sunrise.example", CreditLimit: dec("5000")})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if c.PriceTier != "standard" || c.Status != "active" || c.PaymentTermsDays != 30 {
		t.Errorf("Expected defaults, got %+v", c)
	}

	if _, err := parties.CreateCustomer(ctx, db, models.Customer{Name: "X", Email: "not-an-email", PriceTier: "gold"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid error, got %v", err)
	}

	c.PriceTier = "wholesale"
	c.Name = ""
	updated, err := parties.UpdateCustomer(ctx, db, c.ID, c)
	if err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}
	if updated.PriceTier != "wholesale" || updated.Name != "Sunrise Bakery" {
		t.Errorf("Unexpected update %+v", updated)
	}

	items, total, err := parties.ListCustomers(ctx, db, parties.ListFilter{Search: "sunrise"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("Expected 1 customer, got %d", total)
	}

	if _, err := ledger.PostEntry(ctx, db, ledger.Entry{Date: "2026-06-01", Lines: []ledger.Line{
		ledger.Debit(ledger.AccountReceivable, dec("100"), c.ID, ""),
		ledger.Credit(ledger.AccountSales, dec("100"), "", ""),
	}}); err != nil {
		t.Fatal(err)
	}
	if err := parties.DeleteCustomer(ctx, db, c.ID); !errors.Is(err, parties.ErrPartyInUse) {
		t.Errorf("Expected ErrPartyInUse, got %v", err)
	}

	other, _ := parties.CreateCustomer(ctx, db, models.Customer{Name: "Walk-in"})
	if err := parties.DeleteCustomer(ctx, db, other.ID); err != nil {
		t.Errorf("DeleteCustomer: %v", err)
	}
	if _, err := parties.GetCustomer(ctx, db, other.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
}

func TestStatementsAndBalances(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	testutil.CreateSupplier(t, db, "SUP-1", "Prairie Grain Co")

	post := func(date string, lines ...ledger.Line) {
		t.Helper()
		if _, err := ledger.PostEntry(ctx, db, ledger.Entry{Date: date, Lines: lines}); err != nil {
			t.Fatal(err)
		}
	}
	post("2026-01-05", ledger.Debit(ledger.AccountInventory, dec("1000"), "", ""), ledger.Credit(ledger.AccountPayable, dec("1000"), "SUP-1", ""))
	post("2026-02-05", ledger.Debit(ledger.AccountInventory, dec("400"), "", ""), ledger.Credit(ledger.AccountPayable, dec("400"), "SUP-1", ""))
	post("2026-02-20", ledger.Debit(ledger.AccountPayable, dec("1000"), "SUP-1", ""), ledger.Credit(ledger.AccountBank, dec("1000"), "", ""))

	bal, err := parties.SupplierBalance(ctx, db, "SUP-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Equal(dec("400")) {
		t.Errorf("Expected 400 owed, got %s", bal)
	}

	st, err := parties.SupplierStatement(ctx, db, "SUP-1", "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatal(err)
	}
	if !st.OpeningBalance.Equal(dec("1000")) || !st.ClosingBalance.Equal(dec("400")) || len(st.Lines) != 2 {
		t.Errorf("Unexpected statement %+v", st)
	}

	if _, err := parties.SupplierBalance(ctx, db, "SUP-404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestBuildAging(t *testing.T) {
	items := []parties.OpenItem{
		{PartyID: "C2", PartyName: "Bravo", DueDate: "2026-06-20", Outstanding: dec("100")},
		{PartyID: "C1", PartyName: "Alpha", DueDate: "2026-05-01", Outstanding: dec("50")},
		{PartyID: "C1", PartyName: "Alpha", DueDate: "2026-03-15", Outstanding: dec("25")},
		{PartyID: "C1", PartyName: "Alpha", DocDate: "2026-01-01", Outstanding: dec("10")},
		{PartyID: "C3", PartyName: "Charlie", DueDate: "2026-01-01", Outstanding: dec("0")},
	}
	report := parties.BuildAging("2026-06-30", items)

	if len(report.Rows) != 2 {
		t.Fatalf("Expected 2 parties, got %d", len(report.Rows))
	}
	got := []string{report.Rows[0].PartyName, report.Rows[1].PartyName}
	if diff := cmp.Diff([]string{"Alpha", "Bravo"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	alpha := report.Rows[0]
	if !alpha.Days31_60.Equal(dec("50")) || !alpha.Days61_90.IsZero() || !alpha.Over90.Equal(dec("35")) || !alpha.Total.Equal(dec("85")) {
		t.Errorf("Unexpected Alpha buckets %+v", alpha)
	}
	if !report.Totals.Current.Equal(dec("100")) || !report.Totals.Total.Equal(dec("185")) {
		t.Errorf("Unexpected totals %+v", report.Totals)
	}

	at, _ := time.Parse("2006-01-02", "2026-06-10")
	if d := parties.DaysOverdue(items[0], at); d != 0 {
		t.Errorf("Expected not-yet-due item to report 0, got %d", d)
	}
}
