// Package purchasing is the purchase manager: supplier bills are drafted,
// posted to the ledger and stock in one transaction, paid down and, while
// unpaid, voided.
package purchasing

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
	"millops/internal/validation"
)

// SourceModule tags journal entries and stock movements written here.
const SourceModule = "purchasing"

var (
	ErrNotDraft        = apperr.New(apperr.ErrConflict, "only draft purchases can be changed")
	ErrNotPayable      = apperr.New(apperr.ErrConflict, "purchase is not open for payment")
	ErrOverpayment     = apperr.New(apperr.ErrInvalid, "payment exceeds the outstanding balance")
	ErrHasPayments     = apperr.New(apperr.ErrConflict, "purchase has payments recorded and cannot be voided")
	ErrAlreadyVoid     = apperr.New(apperr.ErrConflict, "purchase is already void")
	ErrSupplierBlocked = apperr.New(apperr.ErrConflict, "supplier is blocked")
)

// LineInput is one line of a purchase as submitted. TaxRate defaults to the
// product's rate, or zero for free-text lines.
type LineInput struct {
	ProductID   string           `json:"product_id"`
	Description string           `json:"description"`
	Qty         float64          `json:"qty"`
	UnitCost    decimal.Decimal  `json:"unit_cost"`
	TaxRate     *decimal.Decimal `json:"tax_rate"`
}

// Input is a purchase as submitted for create or update.
type Input struct {
	SupplierID   string      `json:"supplier_id"`
	Reference    string      `json:"reference"`
	PurchaseDate string      `json:"purchase_date"`
	DueDate      string      `json:"due_date"`
	Location     string      `json:"location"`
	Notes        string      `json:"notes"`
	Lines        []LineInput `json:"lines"`
}

type product struct {
	name    string
	stocked bool
	taxRate decimal.Decimal
}

func lookupProduct(ctx context.Context, q database.DBTX, id string) (product, bool, error) {
	var p product
	var stocked int
	err := q.QueryRowContext(ctx, "SELECT name, stocked, tax_rate FROM products WHERE id = ?", id).Scan(&p.name, &stocked, &p.taxRate)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, err
	}
	p.stocked = stocked == 1
	return p, true, nil
}

// prepare validates in and returns the priced lines and totals.
func prepare(ctx context.Context, q database.DBTX, in *Input) ([]models.PurchaseLine, money.Totals, error) {
	totals := money.Totals{Net: decimal.Zero, Tax: decimal.Zero, Gross: decimal.Zero}
	ve := &validation.ValidationErrors{}

	validation.RequireField(ve, "supplier_id", in.SupplierID)
	if in.SupplierID != "" {
		s, err := parties.GetSupplier(ctx, q, in.SupplierID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			ve.Add("supplier_id", "references non-existent supplier: "+in.SupplierID)
		case err != nil:
			return nil, totals, err
		case s.Status == "blocked":
			return nil, totals, ErrSupplierBlocked
		default:
			if in.DueDate == "" && in.PurchaseDate != "" {
				if d, err := time.Parse(database.DateLayout, in.PurchaseDate); err == nil {
					in.DueDate = d.AddDate(0, 0, s.PaymentTermsDays).Format(database.DateLayout)
				}
			}
		}
	}
	validation.ValidateDate(ve, "purchase_date", in.PurchaseDate)
	validation.ValidateDate(ve, "due_date", in.DueDate)
	validation.ValidateDateOrder(ve, "due_date", in.PurchaseDate, in.DueDate)
	validation.ValidateMaxLength(ve, "reference", in.Reference, 100)
	validation.ValidateMaxLength(ve, "notes", in.Notes, 10000)
	if len(in.Lines) == 0 {
		ve.Add("lines", "at least one line is required")
	}

	lines := make([]models.PurchaseLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		validation.ValidatePositiveFloat(ve, field+".qty", l.Qty)
		validation.ValidateMaxQuantity(ve, field+".qty", l.Qty)
		validation.ValidateAmount(ve, field+".unit_cost", l.UnitCost)
		rate := decimal.Zero
		desc := l.Description
		if l.ProductID != "" {
			p, ok, err := lookupProduct(ctx, q, l.ProductID)
			if err != nil {
				return nil, totals, err
			}
			if !ok {
				ve.Add(field+".product_id", "references non-existent product: "+l.ProductID)
				continue
			}
			rate = p.taxRate
			if desc == "" {
				desc = p.name
			}
		} else if desc == "" {
			ve.Add(field+".description", "is required for lines without a product")
		}
		if l.TaxRate != nil {
			rate = *l.TaxRate
			validation.ValidateRate(ve, field+".tax_rate", rate)
		}
		net, tax := money.LineTotals(l.Qty, l.UnitCost, rate)
		totals.Add(net, tax)
		lines = append(lines, models.PurchaseLine{
			ProductID: l.ProductID, Description: desc, Qty: l.Qty, UnitCost: l.UnitCost,
			TaxRate: rate, LineNet: net, LineTax: tax,
		})
	}
	if err := ve.Err(); err != nil {
		return nil, totals, err
	}
	return lines, totals, nil
}

func writeLines(ctx context.Context, q database.DBTX, purchaseID string, lines []models.PurchaseLine) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM purchase_lines WHERE purchase_id = ?", purchaseID); err != nil {
		return err
	}
	for _, l := range lines {
		_, err := q.ExecContext(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, description, qty, unit_cost, tax_rate, line_net, line_tax)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			purchaseID, l.ProductID, l.Description, l.Qty, l.UnitCost.String(), l.TaxRate.String(), l.LineNet.String(), l.LineTax.String())
		if err != nil {
			return fmt.Errorf("insert purchase line: %w", err)
		}
	}
	return nil
}

func normalise(in *Input) {
	if in.PurchaseDate == "" {
		in.PurchaseDate = database.Today()
	}
	if in.Location == "" {
		in.Location = inventory.DefaultLocation
	}
}

// CreatePurchase saves a draft purchase.
func CreatePurchase(ctx context.Context, db *sql.DB, in Input, user string) (models.Purchase, error) {
	normalise(&in)
	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		lines, totals, err := prepare(ctx, tx, &in)
		if err != nil {
			return err
		}
		id, err = database.NextID(ctx, tx, "PUR", 4)
		if err != nil {
			return err
		}
		now := database.Now()
		_, err = tx.ExecContext(ctx, `INSERT INTO purchases (id, supplier_id, reference, purchase_date, due_date, status, location, notes,
			net_total, tax_total, gross_total, amount_paid, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'draft', ?, ?, ?, ?, ?, '0', ?, ?, ?)`,
			id, in.SupplierID, in.Reference, in.PurchaseDate, in.DueDate, in.Location, in.Notes,
			totals.Net.String(), totals.Tax.String(), totals.Gross.String(), user, now, now)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		return writeLines(ctx, tx, id, lines)
	})
	if err != nil {
		return models.Purchase{}, err
	}
	return GetPurchase(ctx, db, id)
}

// UpdatePurchase replaces a draft purchase's header and lines.
func UpdatePurchase(ctx context.Context, db *sql.DB, id string, in Input) (models.Purchase, error) {
	normalise(&in)
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		current, err := GetPurchase(ctx, tx, id)
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
		_, err = tx.ExecContext(ctx, `UPDATE purchases SET supplier_id = ?, reference = ?, purchase_date = ?, due_date = ?, location = ?, notes = ?,
			net_total = ?, tax_total = ?, gross_total = ?, updated_at = ? WHERE id = ?`,
			in.SupplierID, in.Reference, in.PurchaseDate, in.DueDate, in.Location, in.Notes,
			totals.Net.String(), totals.Tax.String(), totals.Gross.String(), database.Now(), id)
		if err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		return writeLines(ctx, tx, id, lines)
	})
	if err != nil {
		return models.Purchase{}, err
	}
	return GetPurchase(ctx, db, id)
}

// DeletePurchase removes a draft purchase.
func DeletePurchase(ctx context.Context, db *sql.DB, id string) error {
	return database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := GetPurchase(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != models.StatusDraft {
			return ErrNotDraft
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM purchases WHERE id = ?", id)
		return err
	})
}

const purchaseSelect = `SELECT p.id, p.supplier_id, COALESCE(s.name, ''), p.reference, p.purchase_date, p.due_date, p.status, p.location, p.notes,
	p.net_total, p.tax_total, p.gross_total, p.amount_paid, p.journal_entry_id, p.created_by, p.created_at, p.updated_at, p.posted_at
	FROM purchases p LEFT JOIN suppliers s ON s.id = p.supplier_id`

func scanPurchase(s interface{ Scan(...any) error }) (models.Purchase, error) {
	var p models.Purchase
	var postedAt sql.NullString
	err := s.Scan(&p.ID, &p.SupplierID, &p.SupplierName, &p.Reference, &p.PurchaseDate, &p.DueDate, &p.Status, &p.Location, &p.Notes,
		&p.NetTotal, &p.TaxTotal, &p.GrossTotal, &p.AmountPaid, &p.JournalEntryID, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &postedAt)
	p.PostedAt = database.SP(postedAt)
	p.Outstanding = p.GrossTotal.Sub(p.AmountPaid)
	if p.Status == models.StatusDraft || p.Status == models.StatusVoid {
		p.Outstanding = decimal.Zero
	}
	return p, err
}

// GetPurchase returns a purchase with its lines.
func GetPurchase(ctx context.Context, q database.DBTX, id string) (models.Purchase, error) {
	p, err := scanPurchase(q.QueryRowContext(ctx, purchaseSelect+" WHERE p.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, apperr.NotFound("purchase " + id)
	}
	if err != nil {
		return p, fmt.Errorf("get purchase: %w", err)
	}
	rows, err := q.QueryContext(ctx, `SELECT id, purchase_id, product_id, description, qty, unit_cost, tax_rate, line_net, line_tax
		FROM purchase_lines WHERE purchase_id = ? ORDER BY id`, id)
	if err != nil {
		return p, fmt.Errorf("get purchase lines: %w", err)
	}
	defer rows.Close()
	p.Lines = []models.PurchaseLine{}
	for rows.Next() {
		var l models.PurchaseLine
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.ProductID, &l.Description, &l.Qty, &l.UnitCost, &l.TaxRate, &l.LineNet, &l.LineTax); err != nil {
			return p, err
		}
		p.Lines = append(p.Lines, l)
	}
	return p, rows.Err()
}

// Filter narrows ListPurchases.
type Filter struct {
	SupplierID string
	Status     string
	From       string
	To         string
	Limit      int
	Offset     int
}

// ListPurchases returns purchase headers newest first with the total match
// count. Lines are not loaded.
func ListPurchases(ctx context.Context, q database.DBTX, f Filter) ([]models.Purchase, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.SupplierID != "" {
		where += " AND p.supplier_id = ?"
		args = append(args, f.SupplierID)
	}
	if f.Status != "" {
		where += " AND p.status = ?"
		args = append(args, f.Status)
	}
	if f.From != "" {
		where += " AND p.purchase_date >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		where += " AND p.purchase_date <= ?"
		args = append(args, f.To)
	}
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM purchases p"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchases: %w", err)
	}
	query := purchaseSelect + where + " ORDER BY p.purchase_date DESC, p.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()
	var items []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		p.Lines = []models.PurchaseLine{}
		items = append(items, p)
	}
	if items == nil {
		items = []models.Purchase{}
	}
	return items, total, rows.Err()
}
