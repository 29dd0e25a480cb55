// Package pricing resolves the unit price a customer pays for a product from
// tiered, quantity-break price rules with effective dates.
package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/validation"
)

// StandardTier is the fallback tier every customer can buy at.
const StandardTier = "standard"

// Price sources reported on a resolved price.
const (
	SourceTier     = "tier"
	SourceStandard = "standard"
	SourceList     = "list"
)

const ruleSelect = `SELECT id, product_id, tier, min_qty, unit_price, effective_from, effective_to, notes, created_at, updated_at FROM price_rules`

func scanRules(rows *sql.Rows) ([]models.PriceRule, error) {
	defer rows.Close()
	var items []models.PriceRule
	for rows.Next() {
		var p models.PriceRule
		if err := rows.Scan(&p.ID, &p.ProductID, &p.Tier, &p.MinQty, &p.UnitPrice, &p.EffectiveFrom, &p.EffectiveTo, &p.Notes, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if items == nil {
		items = []models.PriceRule{}
	}
	return items, rows.Err()
}

// ListRules returns every rule for product ordered by tier and quantity break.
func ListRules(ctx context.Context, q database.DBTX, productID string) ([]models.PriceRule, error) {
	rows, err := q.QueryContext(ctx, ruleSelect+" WHERE product_id = ? ORDER BY tier, min_qty, effective_from", productID)
	if err != nil {
		return nil, fmt.Errorf("list price rules: %w", err)
	}
	return scanRules(rows)
}

// GetRule returns one rule.
func GetRule(ctx context.Context, q database.DBTX, id int) (models.PriceRule, error) {
	rows, err := q.QueryContext(ctx, ruleSelect+" WHERE id = ?", id)
	if err != nil {
		return models.PriceRule{}, fmt.Errorf("get price rule: %w", err)
	}
	items, err := scanRules(rows)
	if err != nil {
		return models.PriceRule{}, err
	}
	if len(items) == 0 {
		return models.PriceRule{}, apperr.NotFound("price rule " + strconv.Itoa(id))
	}
	return items[0], nil
}

func validateRule(ctx context.Context, q database.DBTX, p models.PriceRule) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "product_id", p.ProductID)
	validation.ValidateForeignKey(ctx, ve, q, "product_id", "products", p.ProductID)
	validation.RequireField(ve, "tier", p.Tier)
	validation.ValidateEnum(ve, "tier", p.Tier, validation.ValidPriceTiers)
	validation.ValidatePositiveFloat(ve, "min_qty", p.MinQty)
	validation.ValidatePositiveAmount(ve, "unit_price", p.UnitPrice)
	validation.RequireField(ve, "effective_from", p.EffectiveFrom)
	validation.ValidateDate(ve, "effective_from", p.EffectiveFrom)
	validation.ValidateDate(ve, "effective_to", p.EffectiveTo)
	validation.ValidateDateOrder(ve, "effective_to", p.EffectiveFrom, p.EffectiveTo)
	validation.ValidateMaxLength(ve, "notes", p.Notes, 500)
	return ve.Err()
}

// CreateRule adds a price rule.
func CreateRule(ctx context.Context, db *sql.DB, p models.PriceRule) (models.PriceRule, error) {
	if p.Tier == "" {
		p.Tier = StandardTier
	}
	if p.MinQty == 0 {
		p.MinQty = 1
	}
	if p.EffectiveFrom == "" {
		p.EffectiveFrom = database.Today()
	}
	if err := validateRule(ctx, db, p); err != nil {
		return p, err
	}
	now := database.Now()
	res, err := db.ExecContext(ctx, `INSERT INTO price_rules (product_id, tier, min_qty, unit_price, effective_from, effective_to, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProductID, p.Tier, p.MinQty, money.Round2(p.UnitPrice).String(), p.EffectiveFrom, p.EffectiveTo, p.Notes, now, now)
	if err != nil {
		return p, fmt.Errorf("create price rule: %w", err)
	}
	id, _ := res.LastInsertId()
	return GetRule(ctx, db, int(id))
}

// UpdateRule replaces the editable fields of a rule.
func UpdateRule(ctx context.Context, db *sql.DB, id int, p models.PriceRule) (models.PriceRule, error) {
	current, err := GetRule(ctx, db, id)
	if err != nil {
		return current, err
	}
	p.ProductID = current.ProductID
	if p.Tier == "" {
		p.Tier = current.Tier
	}
	if p.MinQty == 0 {
		p.MinQty = current.MinQty
	}
	if p.EffectiveFrom == "" {
		p.EffectiveFrom = current.EffectiveFrom
	}
	if err := validateRule(ctx, db, p); err != nil {
		return current, err
	}
	_, err = db.ExecContext(ctx, `UPDATE price_rules SET tier = ?, min_qty = ?, unit_price = ?, effective_from = ?, effective_to = ?, notes = ?, updated_at = ?
		WHERE id = ?`, p.Tier, p.MinQty, money.Round2(p.UnitPrice).String(), p.EffectiveFrom, p.EffectiveTo, p.Notes, database.Now(), id)
	if err != nil {
		return current, fmt.Errorf("update price rule: %w", err)
	}
	return GetRule(ctx, db, id)
}

// DeleteRule removes a rule.
func DeleteRule(ctx context.Context, db *sql.DB, id int) error {
	res, err := db.ExecContext(ctx, "DELETE FROM price_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete price rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("price rule " + strconv.Itoa(id))
	}
	return nil
}

// selectRule picks the rule for tier that is effective on date with the
// largest quantity break not above qty. Ties go to the most recent
// effective_from, then the newest rule.
func selectRule(rules []models.PriceRule, tier string, qty float64, date string) (models.PriceRule, bool) {
	var best models.PriceRule
	found := false
	for _, r := range rules {
		if r.Tier != tier || r.MinQty > qty {
			continue
		}
		if r.EffectiveFrom > date || (r.EffectiveTo != "" && r.EffectiveTo < date) {
			continue
		}
		switch {
		case !found,
			r.MinQty > best.MinQty,
			r.MinQty == best.MinQty && r.EffectiveFrom > best.EffectiveFrom,
			r.MinQty == best.MinQty && r.EffectiveFrom == best.EffectiveFrom && r.ID > best.ID:
			best, found = r, true
		}
	}
	return best, found
}

// Resolve returns the unit price of qty units of product for a customer in
// tier on date. It falls back from the tier to the standard tier and then to
// the product's list price.
func Resolve(ctx context.Context, q database.DBTX, productID, tier string, qty float64, date string) (models.ResolvedPrice, error) {
	if tier == "" {
		tier = StandardTier
	}
	if date == "" {
		date = database.Today()
	}
	if qty <= 0 {
		qty = 1
	}
	out := models.ResolvedPrice{ProductID: productID, Tier: tier, Qty: qty, Date: date}

	var listPrice decimal.Decimal
	err := q.QueryRowContext(ctx, "SELECT list_price FROM products WHERE id = ?", productID).Scan(&listPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return out, apperr.NotFound("product " + productID)
	}
	if err != nil {
		return out, fmt.Errorf("resolve price: %w", err)
	}

	rules, err := ListRules(ctx, q, productID)
	if err != nil {
		return out, err
	}
	if r, ok := selectRule(rules, tier, qty, date); ok {
		out.UnitPrice, out.Source, out.RuleID = r.UnitPrice, SourceTier, &r.ID
		if tier == StandardTier {
			out.Source = SourceStandard
		}
		return out, nil
	}
	if tier != StandardTier {
		if r, ok := selectRule(rules, StandardTier, qty, date); ok {
			out.UnitPrice, out.Source, out.RuleID = r.UnitPrice, SourceStandard, &r.ID
			return out, nil
		}
	}
	out.UnitPrice, out.Source = listPrice, SourceList
	return out, nil
}

// Adjustment types for BulkAdjust.
const (
	AdjustPercentage = "percentage"
	AdjustAbsolute   = "absolute"
)

// BulkAdjustment raises or lowers a set of prices. RuleIDs selects price
// rules; ProductIDs selects product list prices. Both may be given.
type BulkAdjustment struct {
	RuleIDs    []int           `json:"rule_ids"`
	ProductIDs []string        `json:"product_ids"`
	Type       string          `json:"adjustment_type"`
	Value      decimal.Decimal `json:"adjustment_value"`
}

func adjust(price decimal.Decimal, a BulkAdjustment) decimal.Decimal {
	if a.Type == AdjustPercentage {
		return money.ApplyPercent(price, a.Value)
	}
	return money.Round2(price.Add(a.Value))
}

// BulkAdjust applies a in one transaction and returns how many prices
// changed. Any price that would drop to zero or below aborts the whole
// adjustment.
func BulkAdjust(ctx context.Context, db *sql.DB, a BulkAdjustment) (int, error) {
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "adjustment_type", a.Type, []string{AdjustPercentage, AdjustAbsolute})
	validation.RequireField(ve, "adjustment_type", a.Type)
	if len(a.RuleIDs) == 0 && len(a.ProductIDs) == 0 {
		ve.Add("rule_ids", "rule_ids or product_ids required")
	}
	if a.Value.IsZero() {
		ve.Add("adjustment_value", "must be non-zero")
	}
	if err := ve.Err(); err != nil {
		return 0, err
	}

	updated := 0
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		now := database.Now()
		for _, id := range a.RuleIDs {
			var current decimal.Decimal
			err := tx.QueryRowContext(ctx, "SELECT unit_price FROM price_rules WHERE id = ?", id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("price rule " + strconv.Itoa(id))
			}
			if err != nil {
				return err
			}
			next := adjust(current, a)
			if !next.IsPositive() {
				return apperr.New(apperr.ErrInvalid, fmt.Sprintf("price rule %d would drop to %s", id, next.StringFixed(2)))
			}
			if _, err := tx.ExecContext(ctx, "UPDATE price_rules SET unit_price = ?, updated_at = ? WHERE id = ?", next.String(), now, id); err != nil {
				return err
			}
			updated++
		}
		for _, id := range a.ProductIDs {
			var current decimal.Decimal
			err := tx.QueryRowContext(ctx, "SELECT list_price FROM products WHERE id = ?", id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.NotFound("product " + id)
			}
			if err != nil {
				return err
			}
			next := adjust(current, a)
			if !next.IsPositive() {
				return apperr.New(apperr.ErrInvalid, fmt.Sprintf("product %s would drop to %s", id, next.StringFixed(2)))
			}
			if _, err := tx.ExecContext(ctx, "UPDATE products SET list_price = ?, updated_at = ? WHERE id = ?", next.String(), now, id); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
