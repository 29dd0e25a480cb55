package purchasing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/inventory"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/parties"
	"millops/internal/validation"
)

// PostPurchase books a draft purchase. In one transaction it debits
// Inventory for stocked lines and Purchases Expense for the rest, debits VAT
// Receivable with the tax, credits Accounts Payable with the gross (tagged
// with the supplier), receives stocked lines into the purchase location and
// marks the purchase posted. Any failure leaves nothing behind.
func PostPurchase(ctx context.Context, db *sql.DB, id, user string) (models.Purchase, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := GetPurchase(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != models.StatusDraft {
			return ErrNotDraft
		}
		s, err := parties.GetSupplier(ctx, tx, p.SupplierID)
		if err != nil {
			return err
		}
		if s.Status == "blocked" {
			return ErrSupplierBlocked
		}

		stockedNet, expenseNet := decimal.Zero, decimal.Zero
		for _, l := range p.Lines {
			stocked := false
			if l.ProductID != "" {
				prod, ok, err := lookupProduct(ctx, tx, l.ProductID)
				if err != nil {
					return err
				}
				if !ok {
					return apperr.NotFound("product " + l.ProductID)
				}
				stocked = prod.stocked
			}
			if !stocked {
				expenseNet = expenseNet.Add(l.LineNet)
				continue
			}
			stockedNet = stockedNet.Add(l.LineNet)
			err := inventory.Receive(ctx, tx, inventory.Movement{
				ProductID: l.ProductID,
				Location:  p.Location,
				Qty:       l.Qty,
				UnitCost:  l.UnitCost,
				Reference: p.ID,
				CreatedBy: user,
			})
			if err != nil {
				return fmt.Errorf("receive %s: %w", l.ProductID, err)
			}
		}

		memo := "Purchase " + p.ID + " from " + s.Name
		if p.Reference != "" {
			memo += " (" + p.Reference + ")"
		}
		entry := ledger.Entry{Date: p.PurchaseDate, Memo: memo, SourceModule: SourceModule, SourceID: p.ID, PostedBy: user}
		if stockedNet.IsPositive() {
			entry.Lines = append(entry.Lines, ledger.Debit(ledger.AccountInventory, stockedNet, "", "stock received"))
		}
		if expenseNet.IsPositive() {
			entry.Lines = append(entry.Lines, ledger.Debit(ledger.AccountPurchasesExpense, expenseNet, "", "non-stock items"))
		}
		if p.TaxTotal.IsPositive() {
			entry.Lines = append(entry.Lines, ledger.Debit(ledger.AccountVATReceivable, p.TaxTotal, "", "input VAT"))
		}
		entry.Lines = append(entry.Lines, ledger.Credit(ledger.AccountPayable, p.GrossTotal, p.SupplierID, memo))

		jeID, err := ledger.Post(ctx, tx, entry)
		if err != nil {
			return err
		}
		now := database.Now()
		_, err = tx.ExecContext(ctx, "UPDATE purchases SET status = 'posted', journal_entry_id = ?, posted_at = ?, updated_at = ? WHERE id = ?",
			jeID, now, now, id)
		return err
	})
	if err != nil {
		return models.Purchase{}, err
	}
	return GetPurchase(ctx, db, id)
}

// PaymentInput is a payment against a posted purchase. AccountCode names
// the asset account the money leaves from and defaults to Bank.
type PaymentInput struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate string          `json:"payment_date"`
	AccountCode string          `json:"account_code"`
	Reference   string          `json:"reference"`
}

// RecordPayment pays down a posted purchase: Dr Accounts Payable (supplier)
// / Cr the paying account. The purchase becomes partially_paid or paid.
func RecordPayment(ctx context.Context, db *sql.DB, id string, in PaymentInput, user string) (models.SupplierPayment, error) {
	if in.PaymentDate == "" {
		in.PaymentDate = database.Today()
	}
	if in.AccountCode == "" {
		in.AccountCode = ledger.AccountBank
	}
	ve := &validation.ValidationErrors{}
	validation.ValidatePositiveAmount(ve, "amount", in.Amount)
	validation.ValidateDate(ve, "payment_date", in.PaymentDate)
	validation.ValidateMaxLength(ve, "reference", in.Reference, 100)
	if err := ve.Err(); err != nil {
		return models.SupplierPayment{}, err
	}

	var pay models.SupplierPayment
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := GetPurchase(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != models.StatusPosted && p.Status != models.StatusPartiallyPaid {
			return ErrNotPayable
		}
		if in.Amount.GreaterThan(p.Outstanding) {
			return fmt.Errorf("%w: outstanding %s", ErrOverpayment, p.Outstanding.StringFixed(2))
		}
		acct, err := ledger.GetAccount(ctx, tx, in.AccountCode)
		if err != nil {
			return err
		}
		if acct.Type != "asset" {
			return apperr.New(apperr.ErrInvalid, "payments must be made from an asset account")
		}

		memo := "Payment on " + p.ID
		jeID, err := ledger.Post(ctx, tx, ledger.Entry{
			Date: in.PaymentDate, Memo: memo, SourceModule: SourceModule, SourceID: p.ID, PostedBy: user,
			Lines: []ledger.Line{
				ledger.Debit(ledger.AccountPayable, in.Amount, p.SupplierID, memo),
				ledger.Credit(in.AccountCode, in.Amount, "", memo),
			},
		})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO supplier_payments (purchase_id, supplier_id, payment_date, amount, account_code, reference, journal_entry_id, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SupplierID, in.PaymentDate, in.Amount.String(), in.AccountCode, in.Reference, jeID, user, database.Now())
		if err != nil {
			return fmt.Errorf("insert supplier payment: %w", err)
		}
		paid := p.AmountPaid.Add(in.Amount)
		status := models.StatusPartiallyPaid
		if paid.Equal(p.GrossTotal) {
			status = models.StatusPaid
		}
		if _, err := tx.ExecContext(ctx, "UPDATE purchases SET amount_paid = ?, status = ?, updated_at = ? WHERE id = ?",
			paid.String(), status, database.Now(), id); err != nil {
			return err
		}
		payID, _ := res.LastInsertId()
		pay = models.SupplierPayment{
			ID: int(payID), PurchaseID: p.ID, SupplierID: p.SupplierID, PaymentDate: in.PaymentDate, Amount: in.Amount,
			AccountCode: in.AccountCode, Reference: in.Reference, JournalEntryID: jeID, CreatedBy: user, CreatedAt: database.Now(),
		}
		return nil
	})
	return pay, err
}

// ListPayments returns the payments made against a purchase, oldest first.
func ListPayments(ctx context.Context, q database.DBTX, purchaseID string) ([]models.SupplierPayment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, purchase_id, supplier_id, payment_date, amount, account_code, reference, journal_entry_id, created_by, created_at
		FROM supplier_payments WHERE purchase_id = ? ORDER BY id`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list supplier payments: %w", err)
	}
	defer rows.Close()
	var items []models.SupplierPayment
	for rows.Next() {
		var s models.SupplierPayment
		if err := rows.Scan(&s.ID, &s.PurchaseID, &s.SupplierID, &s.PaymentDate, &s.Amount, &s.AccountCode, &s.Reference, &s.JournalEntryID, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if items == nil {
		items = []models.SupplierPayment{}
	}
	return items, rows.Err()
}

// VoidPurchase cancels a purchase. A draft is simply marked void. A posted
// purchase with no payments gets a reversing journal entry and its stock
// receipts are taken back out; it fails if that stock has already been used.
func VoidPurchase(ctx context.Context, db *sql.DB, id, user, reason string) (models.Purchase, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := GetPurchase(ctx, tx, id)
		if err != nil {
			return err
		}
		switch p.Status {
		case models.StatusVoid:
			return ErrAlreadyVoid
		case models.StatusPartiallyPaid, models.StatusPaid:
			return ErrHasPayments
		case models.StatusPosted:
			memo := "Void " + p.ID
			if reason != "" {
				memo += ": " + reason
			}
			if _, err := ledger.ReverseTx(ctx, tx, p.JournalEntryID, user, database.Today(), memo); err != nil {
				return err
			}
			for _, l := range p.Lines {
				if l.ProductID == "" {
					continue
				}
				prod, ok, err := lookupProduct(ctx, tx, l.ProductID)
				if err != nil {
					return err
				}
				if !ok || !prod.stocked {
					continue
				}
				err = inventory.ReverseReceipt(ctx, tx, inventory.Movement{
					ProductID: l.ProductID, Location: p.Location, Qty: l.Qty, UnitCost: l.UnitCost,
					Reference: p.ID, Notes: "void", CreatedBy: user,
				})
				if err != nil {
					return err
				}
			}
		}
		_, err = tx.ExecContext(ctx, "UPDATE purchases SET status = 'void', updated_at = ? WHERE id = ?", database.Now(), id)
		return err
	})
	if err != nil {
		return models.Purchase{}, err
	}
	return GetPurchase(ctx, db, id)
}

// openPurchases returns every posted or partially paid purchase dated on or
// before asOf.
func openPurchases(ctx context.Context, q database.DBTX, asOf string) ([]models.Purchase, error) {
	rows, err := q.QueryContext(ctx, purchaseSelect+" WHERE p.status IN ('posted', 'partially_paid') AND p.purchase_date <= ? ORDER BY p.due_date", asOf)
	if err != nil {
		return nil, fmt.Errorf("open purchases: %w", err)
	}
	defer rows.Close()
	var items []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// PayablesAging buckets what is owed to each supplier by days past due.
func PayablesAging(ctx context.Context, q database.DBTX, asOf string) (models.AgingReport, error) {
	if asOf == "" {
		asOf = database.Today()
	}
	open, err := openPurchases(ctx, q, asOf)
	if err != nil {
		return models.AgingReport{}, err
	}
	items := make([]parties.OpenItem, 0, len(open))
	for _, p := range open {
		items = append(items, parties.OpenItem{PartyID: p.SupplierID, PartyName: p.SupplierName, DocDate: p.PurchaseDate, DueDate: p.DueDate, Outstanding: p.Outstanding})
	}
	return parties.BuildAging(asOf, items), nil
}

// OverduePayables returns open purchases whose due date is before asOf.
func OverduePayables(ctx context.Context, q database.DBTX, asOf string) ([]models.Purchase, error) {
	if asOf == "" {
		asOf = database.Today()
	}
	open, err := openPurchases(ctx, q, asOf)
	if err != nil {
		return nil, err
	}
	overdue := []models.Purchase{}
	for _, p := range open {
		if p.DueDate != "" && p.DueDate < asOf {
			overdue = append(overdue, p)
		}
	}
	return overdue, nil
}
