// Package parties manages the customers and suppliers that documents and
// ledger lines are tagged with, and the statements and aging reports built
// from their sub-ledger.
package parties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/validation"
)

var ErrPartyInUse = apperr.New(apperr.ErrConflict, "party has ledger or document history; deactivate it instead")

// ListFilter narrows ListCustomers and ListSuppliers.
type ListFilter struct {
	Search string
	Status string
	Limit  int
	Offset int
}

func (f ListFilter) where() (string, []any) {
	where := " WHERE 1=1"
	var args []any
	if f.Search != "" {
		where += " AND (id LIKE ? OR name LIKE ? OR contact_name LIKE ? OR email LIKE ?)"
		like := "%" + f.Search + "%"
		args = append(args, like, like, like, like)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	return where, args
}

const customerSelect = `SELECT id, name, contact_name, email, phone, address, tax_number, price_tier, credit_limit,
	payment_terms_days, status, notes, created_at, updated_at FROM customers`

func scanCustomer(s interface{ Scan(...any) error }) (models.Customer, error) {
	var c models.Customer
	err := s.Scan(&c.ID, &c.Name, &c.ContactName, &c.Email, &c.Phone, &c.Address, &c.TaxNumber, &c.PriceTier, &c.CreditLimit,
		&c.PaymentTermsDays, &c.Status, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// ListCustomers returns customers by name with the total match count.
func ListCustomers(ctx context.Context, q database.DBTX, f ListFilter) ([]models.Customer, int, error) {
	where, args := f.where()
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM customers"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}
	query := customerSelect + where + " ORDER BY name"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()
	var items []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	if items == nil {
		items = []models.Customer{}
	}
	return items, total, rows.Err()
}

// GetCustomer returns one customer.
func GetCustomer(ctx context.Context, q database.DBTX, id string) (models.Customer, error) {
	c, err := scanCustomer(q.QueryRowContext(ctx, customerSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, apperr.NotFound("customer " + id)
	}
	return c, err
}

func validateCustomer(c models.Customer) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", c.Name)
	validation.ValidateMaxLength(ve, "name", c.Name, 255)
	validation.ValidateMaxLength(ve, "contact_name", c.ContactName, 255)
	validation.ValidateEmail(ve, "email", c.Email)
	validation.ValidateMaxLength(ve, "phone", c.Phone, 50)
	validation.ValidateMaxLength(ve, "tax_number", c.TaxNumber, 50)
	validation.ValidateMaxLength(ve, "notes", c.Notes, 10000)
	validation.ValidateEnum(ve, "price_tier", c.PriceTier, validation.ValidPriceTiers)
	validation.ValidateEnum(ve, "status", c.Status, validation.ValidPartyStatuses)
	validation.ValidateAmount(ve, "credit_limit", c.CreditLimit)
	validation.ValidateIntRange(ve, "payment_terms_days", c.PaymentTermsDays, 0, 365)
	return ve.Err()
}

// CreateCustomer adds a customer with a new CUS id.
func CreateCustomer(ctx context.Context, db *sql.DB, c models.Customer) (models.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.PriceTier == "" {
		c.PriceTier = "standard"
	}
	if c.Status == "" {
		c.Status = "active"
	}
	if c.PaymentTermsDays == 0 {
		c.PaymentTermsDays = 30
	}
	if err := validateCustomer(c); err != nil {
		return c, err
	}
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		id, err := database.NextID(ctx, tx, "CUS", 4)
		if err != nil {
			return err
		}
		c.ID = id
		now := database.Now()
		_, err = tx.ExecContext(ctx, `INSERT INTO customers (id, name, contact_name, email, phone, address, tax_number, price_tier, credit_limit,
			payment_terms_days, status, notes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.ContactName, c.Email, c.Phone, c.Address, c.TaxNumber, c.PriceTier, c.CreditLimit.String(),
			c.PaymentTermsDays, c.Status, c.Notes, now, now)
		return err
	})
	if err != nil {
		return c, fmt.Errorf("create customer: %w", err)
	}
	return GetCustomer(ctx, db, c.ID)
}

// UpdateCustomer replaces a customer's fields. Blank name, tier and status
// keep their current values.
func UpdateCustomer(ctx context.Context, db *sql.DB, id string, c models.Customer) (models.Customer, error) {
	current, err := GetCustomer(ctx, db, id)
	if err != nil {
		return current, err
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = current.Name
	}
	if c.PriceTier == "" {
		c.PriceTier = current.PriceTier
	}
	if c.Status == "" {
		c.Status = current.Status
	}
	if err := validateCustomer(c); err != nil {
		return current, err
	}
	_, err = db.ExecContext(ctx, `UPDATE customers SET name = ?, contact_name = ?, email = ?, phone = ?, address = ?, tax_number = ?,
		price_tier = ?, credit_limit = ?, payment_terms_days = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(c.Name), c.ContactName, c.Email, c.Phone, c.Address, c.TaxNumber, c.PriceTier, c.CreditLimit.String(),
		c.PaymentTermsDays, c.Status, c.Notes, database.Now(), id)
	if err != nil {
		return current, fmt.Errorf("update customer: %w", err)
	}
	return GetCustomer(ctx, db, id)
}

func partyReferenced(ctx context.Context, q database.DBTX, id, docTable, docColumn string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM transaction_lines WHERE party_id = ?) +
		(SELECT COUNT(*) FROM `+docTable+` WHERE `+docColumn+` = ?) +
		(SELECT COUNT(*) FROM shipments WHERE customer_id = ? OR supplier_id = ?)`, id, id, id, id).Scan(&n)
	return n > 0, err
}

// DeleteCustomer removes a customer with no ledger, invoice or shipment
// history.
func DeleteCustomer(ctx context.Context, db *sql.DB, id string) error {
	if _, err := GetCustomer(ctx, db, id); err != nil {
		return err
	}
	used, err := partyReferenced(ctx, db, id, "sales_invoices", "customer_id")
	if err != nil {
		return fmt.Errorf("check customer references: %w", err)
	}
	if used {
		return ErrPartyInUse
	}
	_, err = db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	return err
}

// CustomerBalance returns what the customer owes on Accounts Receivable.
func CustomerBalance(ctx context.Context, q database.DBTX, id string) (decimal.Decimal, error) {
	if _, err := GetCustomer(ctx, q, id); err != nil {
		return decimal.Zero, err
	}
	return ledger.PartyBalance(ctx, q, ledger.AccountReceivable, id)
}

// CustomerStatement lists the customer's receivable lines between from and
// to with a running balance.
func CustomerStatement(ctx context.Context, q database.DBTX, id, from, to string) (models.Statement, error) {
	c, err := GetCustomer(ctx, q, id)
	if err != nil {
		return models.Statement{}, err
	}
	return statement(ctx, q, ledger.AccountReceivable, c.ID, c.Name, from, to)
}

func statement(ctx context.Context, q database.DBTX, account, partyID, partyName, from, to string) (models.Statement, error) {
	al, err := ledger.AccountLedger(ctx, q, account, from, to, partyID)
	if err != nil {
		return models.Statement{}, err
	}
	return models.Statement{
		PartyID:        partyID,
		PartyName:      partyName,
		AccountCode:    account,
		OpeningBalance: al.OpeningBalance,
		ClosingBalance: al.ClosingBalance,
		Lines:          al.Lines,
	}, nil
}
