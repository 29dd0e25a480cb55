// Package inventory keeps per-location stock levels and the movement history
// behind them. Receive and Issue take a database.DBTX so purchasing, sales
// and shipments can move stock inside their own posting transaction.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/validation"
)

// DefaultLocation is used when a caller leaves the location blank.
const DefaultLocation = "MAIN"

var (
	ErrInsufficientStock = apperr.New(apperr.ErrConflict, "insufficient stock")
	ErrNotStocked        = apperr.New(apperr.ErrInvalid, "product is not stock-tracked")
)

// Movement describes one stock change.
type Movement struct {
	ProductID string
	Location  string
	Qty       float64
	UnitCost  decimal.Decimal
	Reference string
	Notes     string
	CreatedBy string
}

// roundQty keeps quantities to three places so repeated float arithmetic
// does not leave dust below zero.
func roundQty(q float64) float64 {
	return math.Round(q*1000) / 1000
}

type productStock struct {
	stocked      bool
	averageCost  decimal.Decimal
	reorderPoint float64
}

func loadProduct(ctx context.Context, q database.DBTX, id string) (productStock, error) {
	var p productStock
	var stocked int
	err := q.QueryRowContext(ctx, "SELECT stocked, average_cost, reorder_point FROM products WHERE id = ?", id).
		Scan(&stocked, &p.averageCost, &p.reorderPoint)
	if errors.Is(err, sql.ErrNoRows) {
		return p, apperr.NotFound("product " + id)
	}
	if err != nil {
		return p, fmt.Errorf("load product %s: %w", id, err)
	}
	p.stocked = stocked == 1
	return p, nil
}

// OnHand returns the quantity of product at location. A blank location
// sums every location.
func OnHand(ctx context.Context, q database.DBTX, productID, location string) (float64, error) {
	var qty float64
	var err error
	if location == "" {
		err = q.QueryRowContext(ctx, "SELECT COALESCE(SUM(qty), 0) FROM stock_levels WHERE product_id = ?", productID).Scan(&qty)
	} else {
		err = q.QueryRowContext(ctx, "SELECT COALESCE(SUM(qty), 0) FROM stock_levels WHERE product_id = ? AND location = ?", productID, location).Scan(&qty)
	}
	if err != nil {
		return 0, fmt.Errorf("on hand %s: %w", productID, err)
	}
	return roundQty(qty), nil
}

func setLevel(ctx context.Context, q database.DBTX, productID, location string, qty float64) error {
	_, err := q.ExecContext(ctx, `INSERT INTO stock_levels (product_id, location, qty, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, location) DO UPDATE SET qty = excluded.qty, updated_at = excluded.updated_at`,
		productID, location, roundQty(qty), database.Now())
	if err != nil {
		return fmt.Errorf("set stock level: %w", err)
	}
	return nil
}

func record(ctx context.Context, q database.DBTX, typ string, m Movement) (int64, error) {
	if m.CreatedBy == "" {
		m.CreatedBy = "system"
	}
	res, err := q.ExecContext(ctx, `INSERT INTO stock_movements (product_id, location, type, qty, unit_cost, reference, notes, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProductID, m.Location, typ, roundQty(m.Qty), m.UnitCost.String(), m.Reference, m.Notes, m.CreatedBy, database.Now())
	if err != nil {
		return 0, fmt.Errorf("record %s movement: %w", typ, err)
	}
	return res.LastInsertId()
}

func check(m *Movement) error {
	if m.Location == "" {
		m.Location = DefaultLocation
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "product_id", m.ProductID)
	validation.ValidatePositiveFloat(ve, "qty", m.Qty)
	validation.ValidateMaxQuantity(ve, "qty", m.Qty)
	validation.ValidateAmount(ve, "unit_cost", m.UnitCost)
	return ve.Err()
}

// Receive adds stock at m.UnitCost and folds it into the product's moving
// average cost.
func Receive(ctx context.Context, q database.DBTX, m Movement) error {
	if err := check(&m); err != nil {
		return err
	}
	p, err := loadProduct(ctx, q, m.ProductID)
	if err != nil {
		return err
	}
	if !p.stocked {
		return ErrNotStocked
	}
	total, err := OnHand(ctx, q, m.ProductID, "")
	if err != nil {
		return err
	}
	here, err := OnHand(ctx, q, m.ProductID, m.Location)
	if err != nil {
		return err
	}

	avg := money.MovingAverage(total, p.averageCost, m.Qty, m.UnitCost)
	if _, err := q.ExecContext(ctx, "UPDATE products SET average_cost = ?, updated_at = ? WHERE id = ?", avg.String(), database.Now(), m.ProductID); err != nil {
		return fmt.Errorf("update average cost: %w", err)
	}
	if err := setLevel(ctx, q, m.ProductID, m.Location, here+m.Qty); err != nil {
		return err
	}
	_, err = record(ctx, q, "receive", m)
	return err
}

// Issue removes stock and returns the average unit cost it left at. Stock
// never goes negative: a short location fails with ErrInsufficientStock.
func Issue(ctx context.Context, q database.DBTX, m Movement) (decimal.Decimal, error) {
	m.UnitCost = decimal.Zero
	if err := check(&m); err != nil {
		return decimal.Zero, err
	}
	p, err := loadProduct(ctx, q, m.ProductID)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.stocked {
		return decimal.Zero, ErrNotStocked
	}
	here, err := OnHand(ctx, q, m.ProductID, m.Location)
	if err != nil {
		return decimal.Zero, err
	}
	if roundQty(m.Qty) > here {
		return decimal.Zero, fmt.Errorf("%w: %s at %s has %g, need %g", ErrInsufficientStock, m.ProductID, m.Location, here, m.Qty)
	}
	if err := setLevel(ctx, q, m.ProductID, m.Location, here-m.Qty); err != nil {
		return decimal.Zero, err
	}
	m.UnitCost = p.averageCost
	if _, err := record(ctx, q, "issue", m); err != nil {
		return decimal.Zero, err
	}
	return p.averageCost, nil
}

// Adjust sets the counted quantity of product at location. The difference
// is written off (or back) against Cost of Goods Sold at average cost so the
// Inventory account keeps matching the stock valuation.
func Adjust(ctx context.Context, db *sql.DB, productID, location string, counted float64, reason, user string) (models.StockMovement, error) {
	if location == "" {
		location = DefaultLocation
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "product_id", productID)
	validation.ValidateNonNegativeFloat(ve, "qty", counted)
	validation.ValidateMaxQuantity(ve, "qty", counted)
	validation.RequireField(ve, "reason", reason)
	if err := ve.Err(); err != nil {
		return models.StockMovement{}, err
	}

	var mv models.StockMovement
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !p.stocked {
			return ErrNotStocked
		}
		here, err := OnHand(ctx, tx, productID, location)
		if err != nil {
			return err
		}
		delta := roundQty(counted - here)
		if delta == 0 {
			return apperr.New(apperr.ErrInvalid, "counted quantity matches stock on hand")
		}
		if err := setLevel(ctx, tx, productID, location, counted); err != nil {
			return err
		}
		m := Movement{ProductID: productID, Location: location, Qty: delta, UnitCost: p.averageCost, Reference: "adjust", Notes: reason, CreatedBy: user}
		mvID, err := record(ctx, tx, "adjust", m)
		if err != nil {
			return err
		}

		value := money.Round2(decimal.NewFromFloat(math.Abs(delta)).Mul(p.averageCost))
		if value.IsPositive() {
			entry := ledger.Entry{
				Date:         database.Today(),
				Memo:         fmt.Sprintf("Stock adjustment %s at %s: %s", productID, location, reason),
				SourceModule: "inventory",
				SourceID:     productID,
				PostedBy:     user,
			}
			if delta < 0 {
				entry.Lines = []ledger.Line{
					ledger.Debit(ledger.AccountCOGS, value, "", "stock write-off"),
					ledger.Credit(ledger.AccountInventory, value, "", "stock write-off"),
				}
			} else {
				entry.Lines = []ledger.Line{
					ledger.Debit(ledger.AccountInventory, value, "", "stock found"),
					ledger.Credit(ledger.AccountCOGS, value, "", "stock found"),
				}
			}
			if _, err := ledger.Post(ctx, tx, entry); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx, `SELECT id, product_id, location, type, qty, unit_cost, reference, notes, created_by, created_at
			FROM stock_movements WHERE id = ?`, mvID).
			Scan(&mv.ID, &mv.ProductID, &mv.Location, &mv.Type, &mv.Qty, &mv.UnitCost, &mv.Reference, &mv.Notes, &mv.CreatedBy, &mv.CreatedAt)
	})
	return mv, err
}

// Transfer moves qty of product from one location to another in a single
// transaction. Cost is unchanged.
func Transfer(ctx context.Context, db *sql.DB, productID, from, to string, qty float64, notes, user string) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "product_id", productID)
	validation.RequireField(ve, "from_location", from)
	validation.RequireField(ve, "to_location", to)
	validation.ValidatePositiveFloat(ve, "qty", qty)
	validation.ValidateMaxQuantity(ve, "qty", qty)
	if from != "" && from == to {
		ve.Add("to_location", "must differ from from_location")
	}
	if err := ve.Err(); err != nil {
		return err
	}

	return database.WithTx(ctx, db, func(tx *sql.Tx) error {
		p, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !p.stocked {
			return ErrNotStocked
		}
		src, err := OnHand(ctx, tx, productID, from)
		if err != nil {
			return err
		}
		if roundQty(qty) > src {
			return fmt.Errorf("%w: %s at %s has %g, need %g", ErrInsufficientStock, productID, from, src, qty)
		}
		dst, err := OnHand(ctx, tx, productID, to)
		if err != nil {
			return err
		}
		if err := setLevel(ctx, tx, productID, from, src-qty); err != nil {
			return err
		}
		if err := setLevel(ctx, tx, productID, to, dst+qty); err != nil {
			return err
		}
		ref := from + "->" + to
		out := Movement{ProductID: productID, Location: from, Qty: qty, UnitCost: p.averageCost, Reference: ref, Notes: notes, CreatedBy: user}
		if _, err := record(ctx, tx, "transfer_out", out); err != nil {
			return err
		}
		in := out
		in.Location = to
		_, err = record(ctx, tx, "transfer_in", in)
		return err
	})
}

const levelSelect = `SELECT s.product_id, p.sku, p.name, s.location, s.qty, p.reorder_point, p.reorder_qty, p.average_cost, s.updated_at
	FROM stock_levels s JOIN products p ON p.id = s.product_id`

func scanLevels(rows *sql.Rows) ([]models.StockLevel, error) {
	defer rows.Close()
	var items []models.StockLevel
	for rows.Next() {
		var l models.StockLevel
		if err := rows.Scan(&l.ProductID, &l.SKU, &l.Name, &l.Location, &l.Qty, &l.ReorderPoint, &l.ReorderQty, &l.AverageCost, &l.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	if items == nil {
		items = []models.StockLevel{}
	}
	return items, rows.Err()
}

// ListStock returns stock levels, optionally for one location or product.
func ListStock(ctx context.Context, q database.DBTX, location, productID string) ([]models.StockLevel, error) {
	query := levelSelect + " WHERE 1=1"
	var args []any
	if location != "" {
		query += " AND s.location = ?"
		args = append(args, location)
	}
	if productID != "" {
		query += " AND s.product_id = ?"
		args = append(args, productID)
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY p.sku, s.location", args...)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	return scanLevels(rows)
}

// LowStock returns active stocked products whose total quantity across all
// locations is at or below their reorder point. Location is reported blank.
func LowStock(ctx context.Context, q database.DBTX) ([]models.StockLevel, error) {
	rows, err := q.QueryContext(ctx, `SELECT p.id, p.sku, p.name, '', COALESCE(SUM(s.qty), 0) AS on_hand, p.reorder_point, p.reorder_qty, p.average_cost,
		COALESCE(MAX(s.updated_at), p.updated_at)
		FROM products p LEFT JOIN stock_levels s ON s.product_id = p.id
		WHERE p.stocked = 1 AND p.active = 1 AND p.reorder_point > 0
		GROUP BY p.id
		HAVING on_hand <= p.reorder_point
		ORDER BY p.sku`)
	if err != nil {
		return nil, fmt.Errorf("low stock: %w", err)
	}
	return scanLevels(rows)
}

// BelowReorder reports whether product's total stock is at or below its
// reorder point.
func BelowReorder(ctx context.Context, q database.DBTX, productID string) (bool, error) {
	p, err := loadProduct(ctx, q, productID)
	if err != nil {
		return false, err
	}
	if !p.stocked || p.reorderPoint <= 0 {
		return false, nil
	}
	qty, err := OnHand(ctx, q, productID, "")
	if err != nil {
		return false, err
	}
	return qty <= p.reorderPoint, nil
}

// History returns the newest movements for product.
func History(ctx context.Context, q database.DBTX, productID string, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `SELECT id, product_id, location, type, qty, unit_cost, reference, notes, created_by, created_at
		FROM stock_movements WHERE product_id = ? ORDER BY id DESC LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("stock history: %w", err)
	}
	defer rows.Close()
	var items []models.StockMovement
	for rows.Next() {
		var m models.StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Location, &m.Type, &m.Qty, &m.UnitCost, &m.Reference, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if items == nil {
		items = []models.StockMovement{}
	}
	return items, rows.Err()
}

// ReverseReceipt undoes a receipt (on void) by taking the same quantity back
// out and backing its cost out of the moving average, so stock valuation
// keeps matching the Inventory account. It fails if the stock has already
// been consumed.
func ReverseReceipt(ctx context.Context, q database.DBTX, m Movement) error {
	if m.Location == "" {
		m.Location = DefaultLocation
	}
	p, err := loadProduct(ctx, q, m.ProductID)
	if err != nil {
		return err
	}
	here, err := OnHand(ctx, q, m.ProductID, m.Location)
	if err != nil {
		return err
	}
	if roundQty(m.Qty) > here {
		return fmt.Errorf("%w: %s at %s has %g, cannot reverse receipt of %g", ErrInsufficientStock, m.ProductID, m.Location, here, m.Qty)
	}
	total, err := OnHand(ctx, q, m.ProductID, "")
	if err != nil {
		return err
	}

	avg := money.ReverseAverage(total, p.averageCost, m.Qty, m.UnitCost)
	if _, err := q.ExecContext(ctx, "UPDATE products SET average_cost = ?, updated_at = ? WHERE id = ?", avg.String(), database.Now(), m.ProductID); err != nil {
		return fmt.Errorf("update average cost: %w", err)
	}
	if err := setLevel(ctx, q, m.ProductID, m.Location, here-m.Qty); err != nil {
		return err
	}
	m.Qty = -m.Qty
	_, err = record(ctx, q, "receive", m)
	return err
}
