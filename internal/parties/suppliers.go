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

const supplierSelect = `SELECT id, name, contact_name, email, phone, address, tax_number, payment_terms_days, status, notes,
	created_at, updated_at FROM suppliers`

func scanSupplier(s interface{ Scan(...any) error }) (models.Supplier, error) {
	var v models.Supplier
	err := s.Scan(&v.ID, &v.Name, &v.ContactName, &v.Email, &v.Phone, &v.Address, &v.TaxNumber, &v.PaymentTermsDays, &v.Status, &v.Notes,
		&v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// ListSuppliers returns suppliers by name with the total match count.
func ListSuppliers(ctx context.Context, q database.DBTX, f ListFilter) ([]models.Supplier, int, error) {
	where, args := f.where()
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM suppliers"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppliers: %w", err)
	}
	query := supplierSelect + where + " ORDER BY name"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()
	var items []models.Supplier
	for rows.Next() {
		v, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	if items == nil {
		items = []models.Supplier{}
	}
	return items, total, rows.Err()
}

// GetSupplier returns one supplier.
func GetSupplier(ctx context.Context, q database.DBTX, id string) (models.Supplier, error) {
	v, err := scanSupplier(q.QueryRowContext(ctx, supplierSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return v, apperr.NotFound("supplier " + id)
	}
	return v, err
}

func validateSupplier(v models.Supplier) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", v.Name)
	validation.ValidateMaxLength(ve, "name", v.Name, 255)
	validation.ValidateMaxLength(ve, "contact_name", v.ContactName, 255)
	validation.ValidateEmail(ve, "email", v.Email)
	validation.ValidateMaxLength(ve, "phone", v.Phone, 50)
	validation.ValidateMaxLength(ve, "tax_number", v.TaxNumber, 50)
	validation.ValidateMaxLength(ve, "notes", v.Notes, 10000)
	validation.ValidateEnum(ve, "status", v.Status, validation.ValidPartyStatuses)
	validation.ValidateIntRange(ve, "payment_terms_days", v.PaymentTermsDays, 0, 365)
	return ve.Err()
}

// CreateSupplier adds a supplier with a new SUP id.
func CreateSupplier(ctx context.Context, db *sql.DB, v models.Supplier) (models.Supplier, error) {
	v.Name = strings.TrimSpace(v.Name)
	if v.Status == "" {
		v.Status = "active"
	}
	if v.PaymentTermsDays == 0 {
		v.PaymentTermsDays = 30
	}
	if err := validateSupplier(v); err != nil {
		return v, err
	}
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		id, err := database.NextID(ctx, tx, "SUP", 4)
		if err != nil {
			return err
		}
		v.ID = id
		now := database.Now()
		_, err = tx.ExecContext(ctx, `INSERT INTO suppliers (id, name, contact_name, email, phone, address, tax_number, payment_terms_days,
			status, notes, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.Name, v.ContactName, v.Email, v.Phone, v.Address, v.TaxNumber, v.PaymentTermsDays, v.Status, v.Notes, now, now)
		return err
	})
	if err != nil {
		return v, fmt.Errorf("create supplier: %w", err)
	}
	return GetSupplier(ctx, db, v.ID)
}

// UpdateSupplier replaces a supplier's fields. Blank name and status keep
// their current values.
func UpdateSupplier(ctx context.Context, db *sql.DB, id string, v models.Supplier) (models.Supplier, error) {
	current, err := GetSupplier(ctx, db, id)
	if err != nil {
		return current, err
	}
	if strings.TrimSpace(v.Name) == "" {
		v.Name = current.Name
	}
	if v.Status == "" {
		v.Status = current.Status
	}
	if err := validateSupplier(v); err != nil {
		return current, err
	}
	_, err = db.ExecContext(ctx, `UPDATE suppliers SET name = ?, contact_name = ?, email = ?, phone = ?, address = ?, tax_number = ?,
		payment_terms_days = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(v.Name), v.ContactName, v.Email, v.Phone, v.Address, v.TaxNumber, v.PaymentTermsDays, v.Status, v.Notes,
		database.Now(), id)
	if err != nil {
		return current, fmt.Errorf("update supplier: %w", err)
	}
	return GetSupplier(ctx, db, id)
}

// DeleteSupplier removes a supplier with no ledger, purchase or shipment
// history.
func DeleteSupplier(ctx context.Context, db *sql.DB, id string) error {
	if _, err := GetSupplier(ctx, db, id); err != nil {
		return err
	}
	used, err := partyReferenced(ctx, db, id, "purchases", "supplier_id")
	if err != nil {
		return fmt.Errorf("check supplier references: %w", err)
	}
	if used {
		return ErrPartyInUse
	}
	_, err = db.ExecContext(ctx, "DELETE FROM suppliers WHERE id = ?", id)
	return err
}

// SupplierBalance returns what is owed to the supplier on Accounts Payable.
func SupplierBalance(ctx context.Context, q database.DBTX, id string) (decimal.Decimal, error) {
	if _, err := GetSupplier(ctx, q, id); err != nil {
		return decimal.Zero, err
	}
	return ledger.PartyBalance(ctx, q, ledger.AccountPayable, id)
}

// SupplierStatement lists the supplier's payable lines between from and to
// with a running balance.
func SupplierStatement(ctx context.Context, q database.DBTX, id, from, to string) (models.Statement, error) {
	v, err := GetSupplier(ctx, q, id)
	if err != nil {
		return models.Statement{}, err
	}
	return statement(ctx, q, ledger.AccountPayable, v.ID, v.Name, from, to)
}
