package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/config"
	"millops/internal/database"
	"millops/internal/ledger"
	"millops/internal/testutil"
	"millops/internal/validation"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cashSale(date, amount string) ledger.Entry {
	return ledger.Entry{
		Date: date,
		Memo: "cash sale",
		Lines: []ledger.Line{
			ledger.Debit(ledger.AccountCash, d(amount), "", ""),
			ledger.Credit(ledger.AccountSales, d(amount), "", ""),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   ledger.Entry
		wantErr bool
		invalid bool
	}{
		{"balanced", cashSale("2026-03-01", "100.00"), false, false},
		{"one line", ledger.Entry{Date: "2026-03-01", Lines: []ledger.Line{ledger.Debit("1000", d("5"), "", "")}}, true, true},
		{"unbalanced", ledger.Entry{Date: "2026-03-01", Lines: []ledger.Line{
			ledger.Debit("1000", d("10"), "", ""),
			ledger.Credit("4000", d("9.99"), "", ""),
		}}, true, false},
		{"both sides on a line", ledger.Entry{Date: "2026-03-01", Lines: []ledger.Line{
			{AccountCode: "1000", Debit: d("5"), Credit: d("5")},
			ledger.Credit("4000", d("0"), "", ""),
		}}, true, true},
		{"three places", ledger.Entry{Date: "2026-03-01", Lines: []ledger.Line{
			ledger.Debit("1000", d("1.005"), "", ""),
			ledger.Credit("4000", d("1.005"), "", ""),
		}}, true, true},
		{"negative", ledger.Entry{Date: "2026-03-01", Lines: []ledger.Line{
			ledger.Debit("1000", d("-5"), "", ""),
			ledger.Credit("4000", d("-5"), "", ""),
		}}, true, true},
		{"bad date", cashSale("01/03/2026", "10"), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ledger.Validate(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("Expected an invalid error, got %v", err)
			}
			if _, ok := validation.AsValidation(err); ok != tt.invalid {
				t.Errorf("Expected field errors=%v, got %v", tt.invalid, err)
			}
		})
	}
}

func TestPostEntryAndTrialBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	je, err := ledger.PostEntry(ctx, db, cashSale("2026-03-01", "250.50"))
	if err != nil {
		t.Fatalf("PostEntry: %v", err)
	}
	if len(je.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(je.Lines))
	}
	if je.SourceModule != ledger.SourceManual {
		t.Errorf("Expected source manual, got %s", je.SourceModule)
	}

	_, err = ledger.PostEntry(ctx, db, ledger.Entry{Date: "2026-03-02", Lines: []ledger.Line{
		ledger.Debit(ledger.AccountInventory, d("80"), "", ""),
		ledger.Credit(ledger.AccountBank, d("80"), "", ""),
	}})
	if err != nil {
		t.Fatalf("PostEntry: %v", err)
	}

	tb, err := ledger.TrialBalance(ctx, db, "2026-12-31")
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}
	if !tb.Balanced {
		t.Errorf("Expected balanced trial balance, got %s / %s", tb.TotalDebit, tb.TotalCredit)
	}
	if !tb.TotalDebit.Equal(d("330.50")) {
		t.Errorf("Expected total debit 330.50, got %s", tb.TotalDebit)
	}
	if len(tb.Rows) != 4 {
		t.Errorf("Expected 4 rows, got %d", len(tb.Rows))
	}

	early, err := ledger.TrialBalance(ctx, db, "2026-03-01")
	if err != nil {
		t.Fatalf("TrialBalance: %v", err)
	}
	if !early.TotalDebit.Equal(d("250.50")) {
		t.Errorf("Expected as-of total 250.50, got %s", early.TotalDebit)
	}
}

func TestPostRejectsUnknownAndInactiveAccounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	e := cashSale("2026-03-01", "10")
	e.Lines[1].AccountCode = "9999"
	if _, err := ledger.PostEntry(ctx, db, e); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid error for unknown account, got %v", err)
	}

	if _, err := db.Exec("UPDATE accounts SET active = 0 WHERE code = ?", ledger.AccountSales); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.PostEntry(ctx, db, cashSale("2026-03-01", "10")); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid error for inactive account, got %v", err)
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM journal_entries").Scan(&n)
	if n != 0 {
		t.Errorf("Expected no entries written, got %d", n)
	}
}

func TestReverseOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	je, err := ledger.PostEntry(ctx, db, cashSale("2026-03-01", "40"))
	if err != nil {
		t.Fatal(err)
	}
	rev, err := ledger.Reverse(ctx, db, je.ID, "admin", "2026-03-05", "")
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if rev.ReversalOf == nil || *rev.ReversalOf != je.ID {
		t.Errorf("Expected reversal_of %s, got %v", je.ID, rev.ReversalOf)
	}
	if !rev.Lines[0].Credit.Equal(d("40")) || rev.Lines[0].AccountCode != ledger.AccountCash {
		t.Errorf("Expected cash credit of 40, got %+v", rev.Lines[0])
	}

	orig, _ := ledger.GetEntry(ctx, db, je.ID)
	if orig.ReversedBy == nil || *orig.ReversedBy != rev.ID {
		t.Errorf("Expected reversed_by %s, got %v", rev.ID, orig.ReversedBy)
	}

	if _, err := ledger.Reverse(ctx, db, je.ID, "admin", "", ""); !errors.Is(err, ledger.ErrAlreadyReversed) {
		t.Errorf("Expected ErrAlreadyReversed, got %v", err)
	}
	if _, err := ledger.Reverse(ctx, db, rev.ID, "admin", "", ""); !errors.Is(err, ledger.ErrReversalEntry) {
		t.Errorf("Expected ErrReversalEntry, got %v", err)
	}
	if _, err := ledger.Reverse(ctx, db, "JE-0000-00000", "admin", "", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	bal, err := ledger.AccountBalance(ctx, db, ledger.AccountCash, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bal.IsZero() {
		t.Errorf("Expected cash balance 0 after reversal, got %s", bal)
	}
}

func TestReverseRefusesModuleEntries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		e := cashSale("2026-03-01", "12")
		e.SourceModule = "invoicing"
		e.SourceID = "INV-2026-0001"
		var err error
		id, err = ledger.Post(ctx, tx, e)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Reverse(ctx, db, id, "admin", "", ""); !errors.Is(err, ledger.ErrNotManual) {
		t.Errorf("Expected ErrNotManual, got %v", err)
	}

	entries, total, err := ledger.ListEntries(ctx, db, ledger.EntryFilter{SourceModule: "invoicing"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(entries) != 1 || entries[0].SourceID != "INV-2026-0001" {
		t.Errorf("Expected the invoicing entry, got %d %+v", total, entries)
	}
}

func TestAccountLedgerRunningBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	for _, e := range []ledger.Entry{
		cashSale("2026-01-10", "100"),
		cashSale("2026-02-10", "50"),
		{Date: "2026-02-20", Lines: []ledger.Line{
			ledger.Debit(ledger.AccountFuel, d("30"), "", "diesel"),
			ledger.Credit(ledger.AccountCash, d("30"), "", "diesel"),
		}},
	} {
		if _, err := ledger.PostEntry(ctx, db, e); err != nil {
			t.Fatal(err)
		}
	}

	al, err := ledger.AccountLedger(ctx, db, ledger.AccountCash, "2026-02-01", "", "")
	if err != nil {
		t.Fatalf("AccountLedger: %v", err)
	}
	if !al.OpeningBalance.Equal(d("100")) {
		t.Errorf("Expected opening 100, got %s", al.OpeningBalance)
	}
	if len(al.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(al.Lines))
	}
	if !al.Lines[0].Balance.Equal(d("150")) || !al.Lines[1].Balance.Equal(d("120")) {
		t.Errorf("Expected running 150 then 120, got %s then %s", al.Lines[0].Balance, al.Lines[1].Balance)
	}
	if !al.ClosingBalance.Equal(d("120")) {
		t.Errorf("Expected closing 120, got %s", al.ClosingBalance)
	}

	sales, err := ledger.AccountLedger(ctx, db, ledger.AccountSales, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !sales.ClosingBalance.Equal(d("150")) {
		t.Errorf("Expected revenue balance 150 credit-normal, got %s", sales.ClosingBalance)
	}

	if _, err := ledger.AccountLedger(ctx, db, "7777", "", "", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestPartyBalance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	post := func(e ledger.Entry) {
		t.Helper()
		if _, err := ledger.PostEntry(ctx, db, e); err != nil {
			t.Fatal(err)
		}
	}
	post(ledger.Entry{Date: "2026-04-01", Lines: []ledger.Line{
		ledger.Debit(ledger.AccountReceivable, d("300"), "CUS-1", ""),
		ledger.Credit(ledger.AccountSales, d("300"), "", ""),
	}})
	post(ledger.Entry{Date: "2026-04-02", Lines: []ledger.Line{
		ledger.Debit(ledger.AccountReceivable, d("75"), "CUS-2", ""),
		ledger.Credit(ledger.AccountSales, d("75"), "", ""),
	}})
	post(ledger.Entry{Date: "2026-04-03", Lines: []ledger.Line{
		ledger.Debit(ledger.AccountBank, d("120"), "", ""),
		ledger.Credit(ledger.AccountReceivable, d("120"), "CUS-1", ""),
	}})

	bal, err := ledger.PartyBalance(ctx, db, ledger.AccountReceivable, "CUS-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Equal(d("180")) {
		t.Errorf("Expected CUS-1 to owe 180, got %s", bal)
	}
	bal, _ = ledger.PartyBalance(ctx, db, ledger.AccountReceivable, "CUS-3")
	if !bal.IsZero() {
		t.Errorf("Expected 0 for unknown party, got %s", bal)
	}
}

func TestAccountLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	acct, err := ledger.CreateAccount(ctx, db, ledger.AccountInput{Code: "1020", Name: "Petty Cash", Type: "asset", ParentCode: "1000"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if !acct.Active || acct.ParentCode != "1000" {
		t.Errorf("Unexpected account %+v", acct)
	}
	if _, err := ledger.CreateAccount(ctx, db, ledger.AccountInput{Code: "1020", Name: "Dup", Type: "asset"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected conflict on duplicate code, got %v", err)
	}
	if _, err := ledger.CreateAccount(ctx, db, ledger.AccountInput{Code: "1030", Name: "Bad", Type: "bogus"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid type error, got %v", err)
	}

	je, err := ledger.PostEntry(ctx, db, ledger.Entry{Date: "2026-05-01", Lines: []ledger.Line{
		ledger.Debit("1020", d("20"), "", ""),
		ledger.Credit(ledger.AccountCash, d("20"), "", ""),
	}})
	if err != nil {
		t.Fatal(err)
	}

	off := false
	if _, err := ledger.UpdateAccount(ctx, db, "1020", ledger.AccountInput{Active: &off}); !errors.Is(err, ledger.ErrAccountInUse) {
		t.Errorf("Expected ErrAccountInUse, got %v", err)
	}
	if _, err := ledger.Reverse(ctx, db, je.ID, "admin", "", ""); err != nil {
		t.Fatal(err)
	}
	updated, err := ledger.UpdateAccount(ctx, db, "1020", ledger.AccountInput{Name: "Till", Active: &off})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if updated.Active || updated.Name != "Till" {
		t.Errorf("Expected inactive Till, got %+v", updated)
	}

	active, _ := ledger.ListAccounts(ctx, db, false)
	all, _ := ledger.ListAccounts(ctx, db, true)
	if len(all) != len(active)+1 {
		t.Errorf("Expected one inactive account, got %d active of %d", len(active), len(all))
	}
}

func TestSeedAccounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	n, err := ledger.SeedAccounts(ctx, db, []config.AccountSeed{
		{Code: "1000", Name: "Cash", Type: "asset"},
		{Code: "4200", Name: "Bran Sales", Type: "revenue"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 new account, got %d", n)
	}
	if _, err := ledger.SeedAccounts(ctx, db, []config.AccountSeed{{Code: "4300", Name: "X", Type: "income"}}); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected invalid type error, got %v", err)
	}
}

func TestConcurrentPostEntry(t *testing.T) {
	db := testutil.SetupFileDB(t)
	ctx := context.Background()

	const workers, each = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := ledger.PostEntry(ctx, db, cashSale("2026-04-01", "10.00")); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	failed := 0
	var sample error
	for err := range errs {
		failed++
		sample = err
	}
	if failed > 0 {
		t.Fatalf("Expected every concurrent post to succeed, %d/%d failed: %v", failed, workers*each, sample)
	}

	var entries int
	db.QueryRow("SELECT COUNT(*) FROM journal_entries").Scan(&entries)
	if entries != workers*each {
		t.Errorf("Expected %d entries, got %d", workers*each, entries)
	}
	bal, err := ledger.AccountBalance(ctx, db, ledger.AccountCash, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Equal(d("2000")) {
		t.Errorf("Expected cash balance 2000, got %s", bal)
	}
}
