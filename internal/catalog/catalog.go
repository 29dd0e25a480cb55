// Package catalog manages products and their categories.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/validation"
)

var ErrProductInUse = apperr.New(apperr.ErrConflict, "product has stock or document history; deactivate it instead")

const productSelect = `SELECT id, sku, name, description, category_id, unit, stocked, list_price, average_cost, tax_rate,
	reorder_point, reorder_qty, active, created_at, updated_at FROM products`

func scanProduct(s interface{ Scan(...any) error }) (models.Product, error) {
	var p models.Product
	var cat sql.NullInt64
	var stocked, active int
	err := s.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &cat, &p.Unit, &stocked, &p.ListPrice, &p.AverageCost, &p.TaxRate,
		&p.ReorderPoint, &p.ReorderQty, &active, &p.CreatedAt, &p.UpdatedAt)
	if cat.Valid {
		id := int(cat.Int64)
		p.CategoryID = &id
	}
	p.Stocked = stocked == 1
	p.Active = active == 1
	return p, err
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Search     string
	CategoryID int
	ActiveOnly bool
	Limit      int
	Offset     int
}

// ListProducts returns products ordered by SKU with the total match count.
func ListProducts(ctx context.Context, q database.DBTX, f ProductFilter) ([]models.Product, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.Search != "" {
		where += " AND (sku LIKE ? OR name LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.CategoryID > 0 {
		where += " AND category_id = ?"
		args = append(args, f.CategoryID)
	}
	if f.ActiveOnly {
		where += " AND active = 1"
	}
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	query := productSelect + where + " ORDER BY sku"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()
	var items []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	if items == nil {
		items = []models.Product{}
	}
	return items, total, rows.Err()
}

// GetProduct returns one product.
func GetProduct(ctx context.Context, q database.DBTX, id string) (models.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, productSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, apperr.NotFound("product " + id)
	}
	return p, err
}

// ProductInput is the writable part of a product. Pointer fields keep their
// current value on update when nil.
type ProductInput struct {
	SKU          string           `json:"sku"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	CategoryID   *int             `json:"category_id"`
	Unit         string           `json:"unit"`
	Stocked      *bool            `json:"stocked"`
	ListPrice    *decimal.Decimal `json:"list_price"`
	TaxRate      *decimal.Decimal `json:"tax_rate"`
	ReorderPoint *float64         `json:"reorder_point"`
	ReorderQty   *float64         `json:"reorder_qty"`
	Active       *bool            `json:"active"`
}

func (in ProductInput) apply(p *models.Product) {
	if in.SKU != "" {
		p.SKU = strings.TrimSpace(in.SKU)
	}
	if in.Name != "" {
		p.Name = strings.TrimSpace(in.Name)
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.CategoryID != nil {
		p.CategoryID = in.CategoryID
		if *in.CategoryID == 0 {
			p.CategoryID = nil
		}
	}
	if in.Unit != "" {
		p.Unit = in.Unit
	}
	if in.Stocked != nil {
		p.Stocked = *in.Stocked
	}
	if in.ListPrice != nil {
		p.ListPrice = *in.ListPrice
	}
	if in.TaxRate != nil {
		p.TaxRate = *in.TaxRate
	}
	if in.ReorderPoint != nil {
		p.ReorderPoint = *in.ReorderPoint
	}
	if in.ReorderQty != nil {
		p.ReorderQty = *in.ReorderQty
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
}

func validateProduct(ctx context.Context, q database.DBTX, p models.Product) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "sku", p.SKU)
	validation.ValidateSKU(ve, "sku", p.SKU)
	validation.ValidateMaxLength(ve, "sku", p.SKU, 64)
	validation.RequireField(ve, "name", p.Name)
	validation.ValidateMaxLength(ve, "name", p.Name, 200)
	validation.RequireField(ve, "unit", p.Unit)
	validation.ValidateAmount(ve, "list_price", p.ListPrice)
	validation.ValidateRate(ve, "tax_rate", p.TaxRate)
	validation.ValidateNonNegativeFloat(ve, "reorder_point", p.ReorderPoint)
	validation.ValidateNonNegativeFloat(ve, "reorder_qty", p.ReorderQty)
	if p.CategoryID != nil {
		validation.ValidateForeignKey(ctx, ve, q, "category_id", "categories", *p.CategoryID)
	}
	return ve.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func skuConflict(err error, sku string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return apperr.New(apperr.ErrConflict, "sku "+sku+" already exists")
	}
	return err
}

// CreateProduct adds a product with a new PRD id.
func CreateProduct(ctx context.Context, q database.DBTX, in ProductInput) (models.Product, error) {
	p := models.Product{Unit: "ea", Stocked: true, Active: true, ListPrice: decimal.Zero, TaxRate: decimal.Zero, AverageCost: decimal.Zero}
	in.apply(&p)
	if err := validateProduct(ctx, q, p); err != nil {
		return p, err
	}
	id, err := database.NextID(ctx, q, "PRD", 4)
	if err != nil {
		return p, err
	}
	now := database.Now()
	_, err = q.ExecContext(ctx, `INSERT INTO products (id, sku, name, description, category_id, unit, stocked, list_price, average_cost, tax_rate,
		reorder_point, reorder_qty, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, '0', ?, ?, ?, ?, ?, ?)`,
		id, p.SKU, p.Name, p.Description, p.CategoryID, p.Unit, boolInt(p.Stocked), money.Round2(p.ListPrice).String(), p.TaxRate.String(),
		p.ReorderPoint, p.ReorderQty, boolInt(p.Active), now, now)
	if err != nil {
		return p, skuConflict(fmt.Errorf("create product: %w", err), p.SKU)
	}
	return GetProduct(ctx, q, id)
}

// UpdateProduct applies in to an existing product. A product that has been
// stocked cannot be switched to non-stocked while stock remains.
func UpdateProduct(ctx context.Context, q database.DBTX, id string, in ProductInput) (models.Product, error) {
	p, err := GetProduct(ctx, q, id)
	if err != nil {
		return p, err
	}
	wasStocked := p.Stocked
	in.apply(&p)
	if err := validateProduct(ctx, q, p); err != nil {
		return p, err
	}
	if wasStocked && !p.Stocked {
		var onHand float64
		q.QueryRowContext(ctx, "SELECT COALESCE(SUM(qty), 0) FROM stock_levels WHERE product_id = ?", id).Scan(&onHand)
		if onHand > 0 {
			return p, apperr.New(apperr.ErrConflict, "product still has stock on hand")
		}
	}
	_, err = q.ExecContext(ctx, `UPDATE products SET sku = ?, name = ?, description = ?, category_id = ?, unit = ?, stocked = ?, list_price = ?,
		tax_rate = ?, reorder_point = ?, reorder_qty = ?, active = ?, updated_at = ? WHERE id = ?`,
		p.SKU, p.Name, p.Description, p.CategoryID, p.Unit, boolInt(p.Stocked), money.Round2(p.ListPrice).String(),
		p.TaxRate.String(), p.ReorderPoint, p.ReorderQty, boolInt(p.Active), database.Now(), id)
	if err != nil {
		return p, skuConflict(fmt.Errorf("update product: %w", err), p.SKU)
	}
	return GetProduct(ctx, q, id)
}

// DeleteProduct removes a product that never moved stock and is not on any
// document.
func DeleteProduct(ctx context.Context, db *sql.DB, id string) error {
	if _, err := GetProduct(ctx, db, id); err != nil {
		return err
	}
	var refs int
	err := db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM stock_movements WHERE product_id = ?) +
		(SELECT COUNT(*) FROM purchase_lines WHERE product_id = ?) +
		(SELECT COUNT(*) FROM sales_invoice_lines WHERE product_id = ?) +
		(SELECT COUNT(*) FROM shipment_lines WHERE product_id = ?)`, id, id, id, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("check product references: %w", err)
	}
	if refs > 0 {
		return ErrProductInUse
	}
	_, err = db.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	return err
}

// FindBySKU returns the product id for sku, or "" when none exists.
func FindBySKU(ctx context.Context, q database.DBTX, sku string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, "SELECT id FROM products WHERE sku = ?", sku).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// ImportResult summarises an import.
type ImportResult struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Errors  []ImportError `json:"errors"`
}

// ImportError names a rejected row. Rows are numbered as in the source
// sheet, header included.
type ImportError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportProducts upserts products by SKU from tabular rows. The first row is
// a header naming the columns (sku, name, description, unit, list_price,
// tax_rate, reorder_point, reorder_qty, stocked, category); sku and name are
// required. Bad rows are reported and skipped; good rows are written in one
// transaction.
func ImportProducts(ctx context.Context, db *sql.DB, rows [][]string) (ImportResult, error) {
	res := ImportResult{Errors: []ImportError{}}
	if len(rows) < 2 {
		return res, apperr.New(apperr.ErrInvalid, "import needs a header row and at least one product")
	}
	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := col["sku"]; !ok {
		return res, apperr.New(apperr.ErrInvalid, "header must include sku")
	}
	if _, ok := col["name"]; !ok {
		return res, apperr.New(apperr.ErrInvalid, "header must include name")
	}
	cell := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		for n, row := range rows[1:] {
			rowNum := n + 2
			if strings.Join(row, "") == "" {
				continue
			}
			in, err := rowInput(ctx, tx, func(name string) string { return cell(row, name) })
			if err != nil {
				res.Errors = append(res.Errors, ImportError{Row: rowNum, Message: err.Error()})
				continue
			}
			id, err := FindBySKU(ctx, tx, in.SKU)
			if err != nil {
				return err
			}
			if id == "" {
				_, err = CreateProduct(ctx, tx, in)
			} else {
				_, err = UpdateProduct(ctx, tx, id, in)
			}
			if err != nil {
				if apperr.Status(err) >= 500 {
					return err
				}
				res.Errors = append(res.Errors, ImportError{Row: rowNum, Message: err.Error()})
				continue
			}
			if id == "" {
				res.Created++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	return res, err
}

func rowInput(ctx context.Context, q database.DBTX, cell func(string) string) (ProductInput, error) {
	in := ProductInput{SKU: cell("sku"), Name: cell("name"), Description: cell("description"), Unit: cell("unit")}
	if in.SKU == "" || in.Name == "" {
		return in, errors.New("sku and name are required")
	}
	for _, f := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"list_price", &in.ListPrice}, {"tax_rate", &in.TaxRate}} {
		if v := cell(f.name); v != "" {
			d, err := money.Parse(v)
			if err != nil {
				return in, fmt.Errorf("%s: %w", f.name, err)
			}
			*f.dst = &d
		}
	}
	for _, f := range []struct {
		name string
		dst  **float64
	}{{"reorder_point", &in.ReorderPoint}, {"reorder_qty", &in.ReorderQty}} {
		if v := cell(f.name); v != "" {
			x, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
			if err != nil {
				return in, fmt.Errorf("%s: not a number", f.name)
			}
			*f.dst = &x
		}
	}
	if v := strings.ToLower(cell("stocked")); v != "" {
		b := v == "1" || v == "true" || v == "yes" || v == "y"
		in.Stocked = &b
	}
	if name := cell("category"); name != "" {
		id, err := ensureCategory(ctx, q, name)
		if err != nil {
			return in, err
		}
		in.CategoryID = &id
	}
	return in, nil
}

// ProductRows renders products as a header plus one row each, in the same
// columns ImportProducts reads.
func ProductRows(products []models.Product, categories map[int]string) [][]string {
	out := [][]string{{"sku", "name", "description", "unit", "list_price", "tax_rate", "average_cost", "reorder_point", "reorder_qty", "stocked", "category", "active"}}
	for _, p := range products {
		cat := ""
		if p.CategoryID != nil {
			cat = categories[*p.CategoryID]
		}
		out = append(out, []string{
			p.SKU, p.Name, p.Description, p.Unit,
			p.ListPrice.StringFixed(2), p.TaxRate.String(), p.AverageCost.StringFixed(4),
			strconv.FormatFloat(p.ReorderPoint, 'f', -1, 64), strconv.FormatFloat(p.ReorderQty, 'f', -1, 64),
			strconv.FormatBool(p.Stocked), cat, strconv.FormatBool(p.Active),
		})
	}
	return out
}
