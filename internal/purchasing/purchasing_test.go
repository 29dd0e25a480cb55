package purchasing_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/inventory"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/purchasing"
	"millops/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func setup(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.CreateSupplier(t, db, "SUP-1", "Prairie Grain Co")
	testutil.CreateProduct(t, db, "PRD-WHEAT", "WHEAT-HRW", "0.45", "5", 0)
	return db, context.Background()
}

func wheatBill() purchasing.Input {
	return purchasing.Input{
		SupplierID:   "SUP-1",
		Reference:    "PG-8812",
		PurchaseDate: "2026-03-01",
		Lines: []purchasing.LineInput{
			{ProductID: "PRD-WHEAT", Qty: 2000, UnitCost: dec("0.30")},
			{Description: "Haulage", Qty: 1, UnitCost: dec("150"), TaxRate: decPtr("0")},
		},
	}
}

func TestCreatePurchaseComputesTotals(t *testing.T) {
	db, ctx := setup(t)

	p, err := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if p.Status != models.StatusDraft {
		t.Errorf("Expected draft, got %s", p.Status)
	}
	if !p.NetTotal.Equal(dec("750")) || !p.TaxTotal.Equal(dec("30")) || !p.GrossTotal.Equal(dec("780")) {
		t.Errorf("Expected 750/30/780, got %s/%s/%s", p.NetTotal, p.TaxTotal, p.GrossTotal)
	}
	if p.DueDate != "2026-03-31" {
		t.Errorf("Expected due date from 30-day terms, got %s", p.DueDate)
	}
	if len(p.Lines) != 2 || p.Lines[0].Description != "Product WHEAT-HRW" {
		t.Errorf("Unexpected lines %+v", p.Lines)
	}

	bad := wheatBill()
	bad.SupplierID = "SUP-404"
	bad.Lines = append(bad.Lines, purchasing.LineInput{Qty: 1, UnitCost: dec("1")})
	if _, err := purchasing.CreatePurchase(ctx, db, bad, "clerk"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid error, got %v", err)
	}
}

func TestPostPurchaseWritesLedgerAndStock(t *testing.T) {
	db, ctx := setup(t)
	p, err := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if err != nil {
		t.Fatal(err)
	}

	posted, err := purchasing.PostPurchase(ctx, db, p.ID, "manager")
	if err != nil {
		t.Fatalf("PostPurchase: %v", err)
	}
	if posted.Status != models.StatusPosted || posted.JournalEntryID == "" || posted.PostedAt == nil {
		t.Errorf("Unexpected posted purchase %+v", posted)
	}
	if !posted.Outstanding.Equal(dec("780")) {
		t.Errorf("Expected outstanding 780, got %s", posted.Outstanding)
	}

	je, err := ledger.GetEntry(ctx, db, posted.JournalEntryID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][2]string{
		ledger.AccountInventory:        {"600", "0"},
		ledger.AccountPurchasesExpense: {"150", "0"},
		ledger.AccountVATReceivable:    {"30", "0"},
		ledger.AccountPayable:          {"0", "780"},
	}
	if len(je.Lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d", len(want), len(je.Lines))
	}
	for _, l := range je.Lines {
		w, ok := want[l.AccountCode]
		if !ok || !l.Debit.Equal(dec(w[0])) || !l.Credit.Equal(dec(w[1])) {
			t.Errorf("Unexpected line %s %s/%s", l.AccountCode, l.Debit, l.Credit)
		}
		if l.AccountCode == ledger.AccountPayable && l.PartyID != "SUP-1" {
			t.Errorf("Expected AP line tagged SUP-1, got %q", l.PartyID)
		}
	}

	qty, _ := inventory.OnHand(ctx, db, "PRD-WHEAT", "MAIN")
	if qty != 2000 {
		t.Errorf("Expected 2000 received, got %g", qty)
	}

	if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); !errors.Is(err, purchasing.ErrNotDraft) {
		t.Errorf("Expected ErrNotDraft on second post, got %v", err)
	}
	if _, err := purchasing.UpdatePurchase(ctx, db, p.ID, wheatBill()); !errors.Is(err, purchasing.ErrNotDraft) {
		t.Errorf("Expected ErrNotDraft on update, got %v", err)
	}

	tb, _ := ledger.TrialBalance(ctx, db, "2026-12-31")
	if !tb.Balanced {
		t.Error("Expected trial balance to balance")
	}
}

func TestPostPurchaseRollsBackOnFailure(t *testing.T) {
	db, ctx := setup(t)
	p, err := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE accounts SET active = 0 WHERE code = ?", ledger.AccountVATReceivable); err != nil {
		t.Fatal(err)
	}

	if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("Expected invalid error from inactive account, got %v", err)
	}

	after, _ := purchasing.GetPurchase(ctx, db, p.ID)
	if after.Status != models.StatusDraft {
		t.Errorf("Expected purchase to stay draft, got %s", after.Status)
	}
	qty, _ := inventory.OnHand(ctx, db, "PRD-WHEAT", "")
	if qty != 0 {
		t.Errorf("Expected no stock received, got %g", qty)
	}
	var entries, movements int
	db.QueryRow("SELECT COUNT(*) FROM journal_entries").Scan(&entries)
	db.QueryRow("SELECT COUNT(*) FROM stock_movements").Scan(&movements)
	if entries != 0 || movements != 0 {
		t.Errorf("Expected nothing written, got %d entries and %d movements", entries, movements)
	}
}

func TestRecordPayment(t *testing.T) {
	db, ctx := setup(t)
	p, _ := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); err != nil {
		t.Fatal(err)
	}

	if _, err := purchasing.RecordPayment(ctx, db, p.ID, purchasing.PaymentInput{Amount: dec("800")}, "manager"); !errors.Is(err, purchasing.ErrOverpayment) {
		t.Errorf("Expected ErrOverpayment, got %v", err)
	}
	if _, err := purchasing.RecordPayment(ctx, db, p.ID, purchasing.PaymentInput{Amount: dec("10"), AccountCode: ledger.AccountSales}, "manager"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid error paying from revenue account, got %v", err)
	}

	if _, err := purchasing.RecordPayment(ctx, db, p.ID, purchasing.PaymentInput{Amount: dec("500"), PaymentDate: "2026-03-10"}, "manager"); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	mid, _ := purchasing.GetPurchase(ctx, db, p.ID)
	if mid.Status != models.StatusPartiallyPaid || !mid.Outstanding.Equal(dec("280")) {
		t.Errorf("Expected partially paid with 280 left, got %s %s", mid.Status, mid.Outstanding)
	}

	pay, err := purchasing.RecordPayment(ctx, db, p.ID, purchasing.PaymentInput{Amount: dec("280"), AccountCode: ledger.AccountCash, PaymentDate: "2026-03-20"}, "manager")
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if pay.JournalEntryID == "" {
		t.Error("Expected payment journal entry")
	}
	done, _ := purchasing.GetPurchase(ctx, db, p.ID)
	if done.Status != models.StatusPaid || !done.Outstanding.IsZero() {
		t.Errorf("Expected paid, got %s %s", done.Status, done.Outstanding)
	}
	if _, err := purchasing.RecordPayment(ctx, db, p.ID, purchasing.PaymentInput{Amount: dec("1")}, "manager"); !errors.Is(err, purchasing.ErrNotPayable) {
		t.Errorf("Expected ErrNotPayable, got %v", err)
	}

	payments, _ := purchasing.ListPayments(ctx, db, p.ID)
	if len(payments) != 2 {
		t.Errorf("Expected 2 payments, got %d", len(payments))
	}
	bal, _ := ledger.PartyBalance(ctx, db, ledger.AccountPayable, "SUP-1")
	if !bal.IsZero() {
		t.Errorf("Expected nothing owed to SUP-1, got %s", bal)
	}
	if _, err := purchasing.VoidPurchase(ctx, db, p.ID, "manager", ""); !errors.Is(err, purchasing.ErrHasPayments) {
		t.Errorf("Expected ErrHasPayments, got %v", err)
	}
}

func TestVoidPurchase(t *testing.T) {
	db, ctx := setup(t)
	p, _ := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); err != nil {
		t.Fatal(err)
	}

	voided, err := purchasing.VoidPurchase(ctx, db, p.ID, "manager", "wrong supplier")
	if err != nil {
		t.Fatalf("VoidPurchase: %v", err)
	}
	if voided.Status != models.StatusVoid {
		t.Errorf("Expected void, got %s", voided.Status)
	}
	qty, _ := inventory.OnHand(ctx, db, "PRD-WHEAT", "")
	if qty != 0 {
		t.Errorf("Expected stock returned, got %g", qty)
	}
	for _, code := range []string{ledger.AccountInventory, ledger.AccountPayable, ledger.AccountVATReceivable} {
		bal, _ := ledger.AccountBalance(ctx, db, code, "")
		if !bal.IsZero() {
			t.Errorf("Expected %s back to zero, got %s", code, bal)
		}
	}
	if _, err := purchasing.VoidPurchase(ctx, db, p.ID, "manager", ""); !errors.Is(err, purchasing.ErrAlreadyVoid) {
		t.Errorf("Expected ErrAlreadyVoid, got %v", err)
	}
}

func TestVoidFailsWhenStockConsumed(t *testing.T) {
	db, ctx := setup(t)
	p, _ := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk")
	if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); err != nil {
		t.Fatal(err)
	}
	if _, err := inventory.Issue(ctx, db, inventory.Movement{ProductID: "PRD-WHEAT", Qty: 1500}); err != nil {
		t.Fatal(err)
	}
	if _, err := purchasing.VoidPurchase(ctx, db, p.ID, "manager", ""); !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Errorf("Expected ErrInsufficientStock, got %v", err)
	}
	after, _ := purchasing.GetPurchase(ctx, db, p.ID)
	if after.Status != models.StatusPosted {
		t.Errorf("Expected purchase to stay posted, got %s", after.Status)
	}
}

func TestPayablesAging(t *testing.T) {
	db, ctx := setup(t)
	old := wheatBill()
	old.PurchaseDate = "2026-01-01"
	old.DueDate = "2026-01-15"
	recent := wheatBill()
	recent.PurchaseDate = "2026-03-25"
	for _, in := range []purchasing.Input{old, recent} {
		p, err := purchasing.CreatePurchase(ctx, db, in, "clerk")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := purchasing.PostPurchase(ctx, db, p.ID, "manager"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := purchasing.CreatePurchase(ctx, db, wheatBill(), "clerk"); err != nil {
		t.Fatal(err)
	}

	report, err := purchasing.PayablesAging(ctx, db, "2026-04-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Rows) != 1 {
		t.Fatalf("Expected one supplier row, got %d", len(report.Rows))
	}
	row := report.Rows[0]
	if !row.Current.Equal(dec("780")) || !row.Days61_90.Equal(dec("780")) || !row.Total.Equal(dec("1560")) {
		t.Errorf("Unexpected aging row %+v", row)
	}

	overdue, _ := purchasing.OverduePayables(ctx, db, "2026-04-01")
	if len(overdue) != 1 || overdue[0].DueDate != "2026-01-15" {
		t.Errorf("Expected the January purchase overdue, got %+v", overdue)
	}
}
