package sales

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
	"millops/internal/money"
	"millops/internal/parties"
	"millops/internal/validation"
)

// PostInvoice books a draft invoice in one transaction: Dr Accounts
// Receivable (customer) with the gross, Cr Sales with the net and Cr VAT
// Payable with the tax. Stocked lines are issued from the invoice location
// and their average cost moves from Inventory to Cost of Goods Sold.
// Customers with a credit limit may not go over it.
func PostInvoice(ctx context.Context, db *sql.DB, id, user string) (models.SalesInvoice, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		inv, err := GetInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.StatusDraft {
			return ErrNotDraft
		}
		c, err := parties.GetCustomer(ctx, tx, inv.CustomerID)
		if err != nil {
			return err
		}
		if c.Status == "blocked" {
			return ErrCustomerBlocked
		}
		if c.CreditLimit.IsPositive() {
			owed, err := parties.CustomerBalance(ctx, tx, c.ID)
			if err != nil {
				return err
			}
			if owed.Add(inv.GrossTotal).GreaterThan(c.CreditLimit) {
				return fmt.Errorf("%w: owes %s, limit %s", ErrCreditLimit, owed.StringFixed(2), c.CreditLimit.StringFixed(2))
			}
		}

		cogs := decimal.Zero
		for _, l := range inv.Lines {
			if l.ProductID == "" {
				continue
			}
			prod, ok, err := lookupProduct(ctx, tx, l.ProductID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.NotFound("product " + l.ProductID)
			}
			if !prod.stocked {
				continue
			}
			unitCost, err := inventory.Issue(ctx, tx, inventory.Movement{
				ProductID: l.ProductID,
				Location:  inv.Location,
				Qty:       l.Qty,
				Reference: inv.ID,
				CreatedBy: user,
			})
			if err != nil {
				return fmt.Errorf("issue %s: %w", l.ProductID, err)
			}
			cogs = cogs.Add(money.Round2(unitCost.Mul(decimal.NewFromFloat(l.Qty))))
			if _, err := tx.ExecContext(ctx, "UPDATE sales_invoice_lines SET unit_cost = ? WHERE id = ?", unitCost.String(), l.ID); err != nil {
				return err
			}
		}

		memo := "Invoice " + inv.ID + " to " + c.Name
		entry := ledger.Entry{Date: inv.InvoiceDate, Memo: memo, SourceModule: SourceModule, SourceID: inv.ID, PostedBy: user}
		entry.Lines = append(entry.Lines, ledger.Debit(ledger.AccountReceivable, inv.GrossTotal, inv.CustomerID, memo))
		if inv.NetTotal.IsPositive() {
			entry.Lines = append(entry.Lines, ledger.Credit(ledger.AccountSales, inv.NetTotal, "", "sales"))
		}
		if inv.TaxTotal.IsPositive() {
			entry.Lines = append(entry.Lines, ledger.Credit(ledger.AccountVATPayable, inv.TaxTotal, "", "output VAT"))
		}
		if cogs.IsPositive() {
			entry.Lines = append(entry.Lines,
				ledger.Debit(ledger.AccountCOGS, cogs, "", "cost of goods sold"),
				ledger.Credit(ledger.AccountInventory, cogs, "", "stock issued"))
		}
		jeID, err := ledger.Post(ctx, tx, entry)
		if err != nil {
			return err
		}
		now := database.Now()
		_, err = tx.ExecContext(ctx, "UPDATE sales_invoices SET status = 'posted', journal_entry_id = ?, posted_at = ?, updated_at = ? WHERE id = ?",
			jeID, now, now, id)
		return err
	})
	if err != nil {
		return models.SalesInvoice{}, err
	}
	return GetInvoice(ctx, db, id)
}

// ReceiptInput is money received against a posted invoice. AccountCode
// names the asset account it lands in and defaults to Bank.
type ReceiptInput struct {
	Amount      decimal.Decimal `json:"amount"`
	ReceiptDate string          `json:"receipt_date"`
	AccountCode string          `json:"account_code"`
	Reference   string          `json:"reference"`
}

// RecordReceipt books Dr the receiving account / Cr Accounts Receivable
// (customer) and moves the invoice to partially_paid or paid.
func RecordReceipt(ctx context.Context, db *sql.DB, id string, in ReceiptInput, user string) (models.CustomerReceipt, error) {
	if in.ReceiptDate == "" {
		in.ReceiptDate = database.Today()
	}
	if in.AccountCode == "" {
		in.AccountCode = ledger.AccountBank
	}
	ve := &validation.ValidationErrors{}
	validation.ValidatePositiveAmount(ve, "amount", in.Amount)
	validation.ValidateDate(ve, "receipt_date", in.ReceiptDate)
	validation.ValidateMaxLength(ve, "reference", in.Reference, 100)
	if err := ve.Err(); err != nil {
		return models.CustomerReceipt{}, err
	}

	var rec models.CustomerReceipt
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		inv, err := GetInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.StatusPosted && inv.Status != models.StatusPartiallyPaid {
			return ErrNotReceivable
		}
		if in.Amount.GreaterThan(inv.Outstanding) {
			return fmt.Errorf("%w: outstanding %s", ErrOverReceipt, inv.Outstanding.StringFixed(2))
		}
		acct, err := ledger.GetAccount(ctx, tx, in.AccountCode)
		if err != nil {
			return err
		}
		if acct.Type != "asset" {
			return apperr.New(apperr.ErrInvalid, "receipts must be paid into an asset account")
		}

		memo := "Receipt on " + inv.ID
		jeID, err := ledger.Post(ctx, tx, ledger.Entry{
			Date: in.ReceiptDate, Memo: memo, SourceModule: SourceModule, SourceID: inv.ID, PostedBy: user,
			Lines: []ledger.Line{
				ledger.Debit(in.AccountCode, in.Amount, "", memo),
				ledger.Credit(ledger.AccountReceivable, in.Amount, inv.CustomerID, memo),
			},
		})
		if err != nil {
			return err
		}
		now := database.Now()
		res, err := tx.ExecContext(ctx, `INSERT INTO customer_receipts (invoice_id, customer_id, receipt_date, amount, account_code, reference, journal_entry_id, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, inv.CustomerID, in.ReceiptDate, in.Amount.String(), in.AccountCode, in.Reference, jeID, user, now)
		if err != nil {
			return fmt.Errorf("insert customer receipt: %w", err)
		}
		paid := inv.AmountPaid.Add(in.Amount)
		status := models.StatusPartiallyPaid
		if paid.Equal(inv.GrossTotal) {
			status = models.StatusPaid
		}
		if _, err := tx.ExecContext(ctx, "UPDATE sales_invoices SET amount_paid = ?, status = ?, updated_at = ? WHERE id = ?",
			paid.String(), status, now, id); err != nil {
			return err
		}
		recID, _ := res.LastInsertId()
		rec = models.CustomerReceipt{
			ID: int(recID), InvoiceID: inv.ID, CustomerID: inv.CustomerID, ReceiptDate: in.ReceiptDate, Amount: in.Amount,
			AccountCode: in.AccountCode, Reference: in.Reference, JournalEntryID: jeID, CreatedBy: user, CreatedAt: now,
		}
		return nil
	})
	return rec, err
}

// ListReceipts returns the receipts against an invoice, oldest first.
func ListReceipts(ctx context.Context, q database.DBTX, invoiceID string) ([]models.CustomerReceipt, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, invoice_id, customer_id, receipt_date, amount, account_code, reference, journal_entry_id, created_by, created_at
		FROM customer_receipts WHERE invoice_id = ? ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list customer receipts: %w", err)
	}
	defer rows.Close()
	items := []models.CustomerReceipt{}
	for rows.Next() {
		var r models.CustomerReceipt
		if err := rows.Scan(&r.ID, &r.InvoiceID, &r.CustomerID, &r.ReceiptDate, &r.Amount, &r.AccountCode, &r.Reference, &r.JournalEntryID, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// VoidInvoice cancels an invoice. Drafts are marked void; a posted invoice
// with no receipts is reversed in the ledger and its goods return to stock
// at the cost they left at.
func VoidInvoice(ctx context.Context, db *sql.DB, id, user, reason string) (models.SalesInvoice, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		inv, err := GetInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case models.StatusVoid:
			return ErrAlreadyVoid
		case models.StatusPartiallyPaid, models.StatusPaid:
			return ErrHasReceipts
		case models.StatusPosted:
			memo := "Void " + inv.ID
			if reason != "" {
				memo += ": " + reason
			}
			if _, err := ledger.ReverseTx(ctx, tx, inv.JournalEntryID, user, database.Today(), memo); err != nil {
				return err
			}
			for _, l := range inv.Lines {
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
				err = inventory.Receive(ctx, tx, inventory.Movement{
					ProductID: l.ProductID, Location: inv.Location, Qty: l.Qty, UnitCost: l.UnitCost,
					Reference: inv.ID, Notes: "void", CreatedBy: user,
				})
				if err != nil {
					return err
				}
			}
		}
		_, err = tx.ExecContext(ctx, "UPDATE sales_invoices SET status = 'void', updated_at = ? WHERE id = ?", database.Now(), id)
		return err
	})
	if err != nil {
		return models.SalesInvoice{}, err
	}
	return GetInvoice(ctx, db, id)
}

func openInvoices(ctx context.Context, q database.DBTX, asOf string) ([]models.SalesInvoice, error) {
	rows, err := q.QueryContext(ctx, invoiceSelect+" WHERE i.status IN ('posted', 'partially_paid') AND i.invoice_date <= ? ORDER BY i.due_date", asOf)
	if err != nil {
		return nil, fmt.Errorf("open invoices: %w", err)
	}
	defer rows.Close()
	items := []models.SalesInvoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

// ReceivablesAging buckets what each customer owes by days past due.
func ReceivablesAging(ctx context.Context, q database.DBTX, asOf string) (models.AgingReport, error) {
	if asOf == "" {
		asOf = database.Today()
	}
	open, err := openInvoices(ctx, q, asOf)
	if err != nil {
		return models.AgingReport{}, err
	}
	items := make([]parties.OpenItem, 0, len(open))
	for _, inv := range open {
		items = append(items, parties.OpenItem{PartyID: inv.CustomerID, PartyName: inv.CustomerName, DocDate: inv.InvoiceDate, DueDate: inv.DueDate, Outstanding: inv.Outstanding})
	}
	return parties.BuildAging(asOf, items), nil
}

// SalesTotal sums posted invoice nets (excluding void) dated from..to.
func SalesTotal(ctx context.Context, q database.DBTX, from, to string) (decimal.Decimal, int, error) {
	rows, err := q.QueryContext(ctx, `SELECT net_total FROM sales_invoices
		WHERE status IN ('posted', 'partially_paid', 'paid') AND invoice_date >= ? AND invoice_date <= ?`, from, to)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("sales total: %w", err)
	}
	defer rows.Close()
	total, n := decimal.Zero, 0
	for rows.Next() {
		var net decimal.Decimal
		if err := rows.Scan(&net); err != nil {
			return decimal.Zero, 0, err
		}
		total = total.Add(net)
		n++
	}
	return total, n, rows.Err()
}
