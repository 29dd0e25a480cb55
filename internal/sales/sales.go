// Package sales raises customer invoices priced from the price lists, posts
// them to the receivables ledger and stock, and collects receipts.
package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/inventory"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/parties"
	"millops/internal/pricing"
	"millops/internal/validation"
)

// SourceModule tags journal entries and stock movements written here.
const SourceModule = "sales"

var (
	ErrNotDraft        = apperr.New(apperr.ErrConflict, "only draft invoices can be changed")
	ErrNotReceivable   = apperr.New(apperr.ErrConflict, "invoice is not open for receipts")
	ErrOverReceipt     = apperr.New(apperr.ErrInvalid, "receipt exceeds the outstanding balance")
	ErrHasReceipts     = apperr.New(apperr.ErrConflict, "invoice has receipts recorded and cannot be voided")
	ErrAlreadyVoid     = apperr.New(apperr.ErrConflict, "invoice is already void")
	ErrCustomerBlocked = apperr.New(apperr.ErrConflict, "customer is blocked")
	ErrCreditLimit     = apperr.New(apperr.ErrConflict, "invoice would exceed the customer's credit limit")
)

// LineInput is one invoice line as submitted. Product lines are priced from
// the customer's tier unless UnitPrice is given; free-text lines need both a
// description and a price.
type LineInput struct {
	ProductID   string           `json:"product_id"`
	Description string           `json:"description"`
	Qty         float64          `json:"qty"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	TaxRate     *decimal.Decimal `json:"tax_rate"`
}

// Input is an invoice as submitted for create or update.
type Input struct {
	CustomerID  string      `json:"customer_id"`
	InvoiceDate string      `json:"invoice_date"`
	DueDate     string      `json:"due_date"`
	Location    string      `json:"location"`
	Notes       string      `json:"notes"`
	Lines       []LineInput `json:"lines"`
}

type product struct {
	name    string
	stocked bool
	taxRate decimal.Decimal
}

func lookupProduct(ctx context.Context, q database.DBTX, id string) (product, bool, error) {
	var p product
	var stocked int
	err := q.QueryRowContext(ctx, "SELECT name, stocked, tax_rate FROM products WHERE id = ? AND active = 1", id).Scan(&p.name, &stocked, &p.taxRate)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	p.stocked = stocked == 1
	return p, true, nil
}

func prepare(ctx context.Context, q database.DBTX, in *Input) ([]models.SalesInvoiceLine, money.Totals, error) {
	totals := money.Totals{Net: decimal.Zero, Tax: decimal.Zero, Gross: decimal.Zero}
	ve := &validation.ValidationErrors{}

	tier := pricing.StandardTier
	validation.RequireField(ve, "customer_id", in.CustomerID)
	if in.CustomerID != "" {
		c, err := parties.GetCustomer(ctx, q, in.CustomerID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			ve.Add("customer_id", "references non-existent customer: "+in.CustomerID)
		case err != nil:
			return nil, totals, err
		case c.Status == "blocked":
			return nil, totals, ErrCustomerBlocked
		default:
			if c.PriceTier != "" {
				tier = c.PriceTier
			}
			if in.DueDate == "" && in.InvoiceDate != "" {
				if d, err := time.Parse(database.DateLayout, in.InvoiceDate); err == nil {
					in.DueDate = d.AddDate(0, 0, c.PaymentTermsDays).Format(database.DateLayout)
				}
			}
		}
	}
	validation.ValidateDate(ve, "invoice_date", in.InvoiceDate)
	validation.ValidateDate(ve, "due_date", in.DueDate)
	validation.ValidateDateOrder(ve, "due_date", in.InvoiceDate, in.DueDate)
	validation.ValidateMaxLength(ve, "notes", in.Notes, 10000)
	if len(in.Lines) == 0 {
		ve.Add("lines", "at least one line is required")
	}

	lines := make([]models.SalesInvoiceLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		validation.ValidatePositiveFloat(ve, field+".qty", l.Qty)
		validation.ValidateMaxQuantity(ve, field+".qty", l.Qty)
		line := models.SalesInvoiceLine{ProductID: l.ProductID, Description: l.Description, Qty: l.Qty, UnitCost: decimal.Zero}
		if l.ProductID != "" {
			p, ok, err := lookupProduct(ctx, q, l.ProductID)
			if err != nil {
				return nil, totals, err
			}
			if !ok {
				ve.Add(field+".product_id", "references non-existent or inactive product: "+l.ProductID)
				continue
			}
			line.TaxRate = p.taxRate
			if line.Description == "" {
				line.Description = p.name
			}
			if l.UnitPrice == nil && l.Qty > 0 {
				price, err := pricing.Resolve(ctx, q, l.ProductID, tier, l.Qty, in.InvoiceDate)
				if err != nil {
					return nil, totals, err
				}
				line.UnitPrice = price.UnitPrice
			}
		} else {
			if line.Description == "" {
				ve.Add(field+".description", "is required for lines without a product")
			}
			if l.UnitPrice == nil {
				ve.Add(field+".unit_price", "is required for lines without a product")
			}
		}
		if l.UnitPrice != nil {
			line.UnitPrice = *l.UnitPrice
		}
		validation.ValidateAmount(ve, field+".unit_price", line.UnitPrice)
		if l.TaxRate != nil {
			line.TaxRate = *l.TaxRate
			validation.ValidateRate(ve, field+".tax_rate", line.TaxRate)
		}
		line.LineNet, line.LineTax = money.LineTotals(l.Qty, line.UnitPrice, line.TaxRate)
		totals.Add(line.LineNet, line.LineTax)
		lines = append(lines, line)
	}
	if err := ve.Err(); err != nil {
		return nil, totals, err
	}
	return lines, totals, nil
}

func writeLines(ctx context.Context, q database.DBTX, invoiceID string, lines []models.SalesInvoiceLine) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM sales_invoice_lines WHERE invoice_id = ?", invoiceID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := q.ExecContext(ctx, `INSERT INTO sales_invoice_lines (invoice_id, product_id, description, qty, unit_price, tax_rate, line_net, line_tax, unit_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			invoiceID, l.ProductID, l.Description, l.Qty, l.UnitPrice.String(), l.TaxRate.String(), l.LineNet.String(), l.LineTax.String(), l.UnitCost.String())
		if err != nil {
			return fmt.Errorf("insert invoice line: %w", err)
		}
	}
	return nil
}

func normalise(in *Input) {
	if in.InvoiceDate == "" {
		in.InvoiceDate = database.Today()
	}
	if in.Location == "" {
		in.Location = inventory.DefaultLocation
	}
}

// CreateInvoice saves a draft invoice.
func CreateInvoice(ctx context.Context, db *sql.DB, in Input, user string) (models.SalesInvoice, error) {
	normalise(&in)
	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		lines, totals, err := prepare(ctx, tx, &in)
		if err != nil {
			return err
		}
		id, err = database.NextID(ctx, tx, "INV", 4)
		if err != nil {
			return err
		}
		now := database.Now()
		_, err = tx.ExecContext(ctx, `INSERT INTO sales_invoices (id, customer_id, invoice_date, due_date, status, location, notes,
			net_total, tax_total, gross_total, amount_paid, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'draft', ?, ?, ?, ?, ?, '0', ?, ?, ?)`,
			id, in.CustomerID, in.InvoiceDate, in.DueDate, in.Location, in.Notes,
			totals.Net.String(), totals.Tax.String(), totals.Gross.String(), user, now, now)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		return writeLines(ctx, tx, id, lines)
	})
	if err != nil {
		return models.SalesInvoice{}, err
	}
	return GetInvoice(ctx, db, id)
}

// UpdateInvoice replaces a draft invoice's header and lines, repricing them.
func UpdateInvoice(ctx context.Context, db *sql.DB, id string, in Input) (models.SalesInvoice, error) {
	normalise(&in)
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		current, err := GetInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != models.StatusDraft {
			return ErrNotDraft
		}
		lines, totals, err := prepare(ctx, tx, &in)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sales_invoices SET customer_id = ?, invoice_date = ?, due_date = ?, location = ?, notes = ?,
			net_total = ?, tax_total = ?, gross_total = ?, updated_at = ? WHERE id = ?`,
			in.CustomerID, in.InvoiceDate, in.DueDate, in.Location, in.Notes,
			totals.Net.String(), totals.Tax.String(), totals.Gross.String(), database.Now(), id)
		if err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		return writeLines(ctx, tx, id, lines)
	})
	if err != nil {
		return models.SalesInvoice{}, err
	}
	return GetInvoice(ctx, db, id)
}

// DeleteInvoice removes a draft invoice.
func DeleteInvoice(ctx context.Context, db *sql.DB, id string) error {
	return database.WithTx(ctx, db, func(tx *sql.Tx) error {
		inv, err := GetInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if inv.Status != models.StatusDraft {
			return ErrNotDraft
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM sales_invoices WHERE id = ?", id)
		return err
	})
}

const invoiceSelect = `SELECT i.id, i.customer_id, COALESCE(c.name, ''), i.invoice_date, i.due_date, i.status, i.location, i.notes,
	i.net_total, i.tax_total, i.gross_total, i.amount_paid, i.journal_entry_id, i.created_by, i.created_at, i.updated_at, i.posted_at
	FROM sales_invoices i LEFT JOIN customers c ON c.id = i.customer_id`

func scanInvoice(s interface{ Scan(...any) error }) (models.SalesInvoice, error) {
	var inv models.SalesInvoice
	var postedAt sql.NullString
	err := s.Scan(&inv.ID, &inv.CustomerID, &inv.CustomerName, &inv.InvoiceDate, &inv.DueDate, &inv.Status, &inv.Location, &inv.Notes,
		&inv.NetTotal, &inv.TaxTotal, &inv.GrossTotal, &inv.AmountPaid, &inv.JournalEntryID, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt, &postedAt)
	inv.PostedAt = database.SP(postedAt)
	inv.Outstanding = inv.GrossTotal.Sub(inv.AmountPaid)
	if inv.Status == models.StatusDraft || inv.Status == models.StatusVoid {
		inv.Outstanding = decimal.Zero
	}
	return inv, err
}

// GetInvoice returns an invoice with its lines.
func GetInvoice(ctx context.Context, q database.DBTX, id string) (models.SalesInvoice, error) {
	inv, err := scanInvoice(q.QueryRowContext(ctx, invoiceSelect+" WHERE i.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return inv, apperr.NotFound("invoice " + id)
	}
	if err != nil {
		return inv, fmt.Errorf("get invoice: %w", err)
	}
	rows, err := q.QueryContext(ctx, `SELECT id, invoice_id, product_id, description, qty, unit_price, tax_rate, line_net, line_tax, unit_cost
		FROM sales_invoice_lines WHERE invoice_id = ? ORDER BY id`, id)
	if err != nil {
		return inv, fmt.Errorf("get invoice lines: %w", err)
	}
	defer rows.Close()
	inv.Lines = []models.SalesInvoiceLine{}
	for rows.Next() {
		var l models.SalesInvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.ProductID, &l.Description, &l.Qty, &l.UnitPrice, &l.TaxRate, &l.LineNet, &l.LineTax, &l.UnitCost); err != nil {
			return inv, err
		}
		inv.Lines = append(inv.Lines, l)
	}
	return inv, rows.Err()
}

// Filter narrows ListInvoices.
type Filter struct {
	CustomerID string
	Status     string
	From       string
	To         string
	Limit      int
	Offset     int
}

// ListInvoices returns invoice headers newest first with the total match
// count.
func ListInvoices(ctx context.Context, q database.DBTX, f Filter) ([]models.SalesInvoice, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.CustomerID != "" {
		where += " AND i.customer_id = ?"
		args = append(args, f.CustomerID)
	}
	if f.Status != "" {
		where += " AND i.status = ?"
		args = append(args, f.Status)
	}
	if f.From != "" {
		where += " AND i.invoice_date >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		where += " AND i.invoice_date <= ?"
		args = append(args, f.To)
	}
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales_invoices i"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	query := invoiceSelect + where + " ORDER BY i.invoice_date DESC, i.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	items := []models.SalesInvoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}
