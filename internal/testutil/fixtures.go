package testutil

import (
	"database/sql"
	"testing"
)

// CreateSupplier inserts a supplier row directly.
func CreateSupplier(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO suppliers (id, name, payment_terms_days) VALUES (?, ?, 30)", id, name); err != nil {
		t.Fatalf("Failed to create supplier: %v", err)
	}
}

// CreateCustomer inserts a customer row directly.
func CreateCustomer(t *testing.T, db *sql.DB, id, name, tier string) {
	t.Helper()
	if _, err := db.Exec("INSERT INTO customers (id, name, price_tier, credit_limit) VALUES (?, ?, ?, '0')", id, name, tier); err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}
}

// CreateProduct inserts a stocked product with the given list price and tax
// rate (percent).
func CreateProduct(t *testing.T, db *sql.DB, id, sku, listPrice, taxRate string, reorderPoint float64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO products (id, sku, name, unit, stocked, list_price, tax_rate, reorder_point)
		VALUES (?, ?, ?, 'kg', 1, ?, ?, ?)`, id, sku, "Product "+sku, listPrice, taxRate, reorderPoint)
	if err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}
}

// SetStock sets the on-hand quantity at location, bypassing movements.
func SetStock(t *testing.T, db *sql.DB, productID, location string, qty float64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO stock_levels (product_id, location, qty) VALUES (?, ?, ?)
		ON CONFLICT(product_id, location) DO UPDATE SET qty = excluded.qty`, productID, location, qty)
	if err != nil {
		t.Fatalf("Failed to set stock: %v", err)
	}
}

// CreateVehicle inserts an available vehicle.
func CreateVehicle(t *testing.T, db *sql.DB, id, registration string, odometer float64) {
	t.Helper()
	_, err := db.Exec("INSERT INTO vehicles (id, registration, make, model, capacity_kg, odometer_km) VALUES (?, ?, 'Volvo', 'FH16', 24000, ?)",
		id, registration, odometer)
	if err != nil {
		t.Fatalf("Failed to create vehicle: %v", err)
	}
}

// CreateDriver inserts an active driver whose licence expires on expiry.
func CreateDriver(t *testing.T, db *sql.DB, id, name, expiry string) {
	t.Helper()
	_, err := db.Exec("INSERT INTO drivers (id, name, licence_number, licence_expiry) VALUES (?, ?, ?, ?)",
		id, name, "LIC-"+id, expiry)
	if err != nil {
		t.Fatalf("Failed to create driver: %v", err)
	}
}
