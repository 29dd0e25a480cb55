// Package fleet runs the mill's trucks: vehicles and drivers, trips,
// fuel and maintenance costs, and the shipments carried on trips.
package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

// SourceModule tags journal entries and stock movements written here.
const SourceModule = "fleet"

const (
	VehicleAvailable   = "available"
	VehicleOnTrip      = "on_trip"
	VehicleMaintenance = "maintenance"
	VehicleRetired     = "retired"
)

var (
	ErrVehicleBusy    = apperr.New(apperr.ErrConflict, "vehicle is not available")
	ErrVehicleInUse   = apperr.New(apperr.ErrConflict, "vehicle has trip or cost history")
	ErrDriverInactive = apperr.New(apperr.ErrConflict, "driver is inactive")
	ErrLicenceExpired = apperr.New(apperr.ErrConflict, "driver licence is not valid on the trip date")
)

const vehicleSelect = "SELECT id, registration, make, model, capacity_kg, status, odometer_km, notes, created_at, updated_at FROM vehicles"

func scanVehicle(s interface{ Scan(...any) error }) (models.Vehicle, error) {
	var v models.Vehicle
	err := s.Scan(&v.ID, &v.Registration, &v.Make, &v.Model, &v.CapacityKg, &v.Status, &v.OdometerKm, &v.Notes, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// ListVehicles returns vehicles by registration, optionally by status.
func ListVehicles(ctx context.Context, q database.DBTX, status string) ([]models.Vehicle, error) {
	query, args := vehicleSelect, []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY registration", args...)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	defer rows.Close()
	items := []models.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func GetVehicle(ctx context.Context, q database.DBTX, id string) (models.Vehicle, error) {
	v, err := scanVehicle(q.QueryRowContext(ctx, vehicleSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return v, apperr.NotFound("vehicle " + id)
	}
	return v, err
}

func validateVehicle(v models.Vehicle) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "registration", v.Registration)
	validation.ValidateMaxLength(ve, "registration", v.Registration, 20)
	validation.ValidateMaxLength(ve, "make", v.Make, 100)
	validation.ValidateMaxLength(ve, "model", v.Model, 100)
	validation.ValidateNonNegativeFloat(ve, "capacity_kg", v.CapacityKg)
	validation.ValidateNonNegativeFloat(ve, "odometer_km", v.OdometerKm)
	validation.ValidateEnum(ve, "status", v.Status, validation.ValidVehicleStatuses)
	return ve.Err()
}

// CreateVehicle registers a vehicle as available.
func CreateVehicle(ctx context.Context, db *sql.DB, v models.Vehicle) (models.Vehicle, error) {
	v.Registration = strings.ToUpper(strings.TrimSpace(v.Registration))
	v.Status = VehicleAvailable
	if err := validateVehicle(v); err != nil {
		return v, err
	}
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		id, err := database.NextID(ctx, tx, "VEH", 4)
		if err != nil {
			return err
		}
		v.ID = id
		now := database.Now()
		_, err = tx.ExecContext(ctx, `INSERT INTO vehicles (id, registration, make, model, capacity_kg, status, odometer_km, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.Registration, v.Make, v.Model, v.CapacityKg, v.Status, v.OdometerKm, v.Notes, now, now)
		if err != nil && strings.Contains(err.Error(), "UNIQUE") {
			return apperr.New(apperr.ErrConflict, "registration "+v.Registration+" already exists")
		}
		return err
	})
	if err != nil {
		return v, err
	}
	return GetVehicle(ctx, db, v.ID)
}

// UpdateVehicle edits a vehicle's details. Status may only be moved between
// available and retired here; trips and maintenance drive the rest. The
// odometer never runs backwards.
func UpdateVehicle(ctx context.Context, db *sql.DB, id string, v models.Vehicle) (models.Vehicle, error) {
	current, err := GetVehicle(ctx, db, id)
	if err != nil {
		return current, err
	}
	v.Registration = strings.ToUpper(strings.TrimSpace(v.Registration))
	if v.Status == "" {
		v.Status = current.Status
	}
	if err := validateVehicle(v); err != nil {
		return current, err
	}
	if v.Status != current.Status {
		ok := (current.Status == VehicleAvailable && v.Status == VehicleRetired) ||
			(current.Status == VehicleRetired && v.Status == VehicleAvailable)
		if !ok {
			return current, apperr.New(apperr.ErrConflict, fmt.Sprintf("cannot change vehicle status from %s to %s", current.Status, v.Status))
		}
	}
	if v.OdometerKm < current.OdometerKm {
		return current, validation.Single("odometer_km", "cannot be lower than the current reading")
	}
	_, err = db.ExecContext(ctx, `UPDATE vehicles SET registration = ?, make = ?, model = ?, capacity_kg = ?, status = ?, odometer_km = ?, notes = ?, updated_at = ?
		WHERE id = ?`, v.Registration, v.Make, v.Model, v.CapacityKg, v.Status, v.OdometerKm, v.Notes, database.Now(), id)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return current, apperr.New(apperr.ErrConflict, "registration "+v.Registration+" already exists")
	}
	if err != nil {
		return current, fmt.Errorf("update vehicle: %w", err)
	}
	return GetVehicle(ctx, db, id)
}

// DeleteVehicle removes a vehicle that never ran a trip or logged a cost.
// Retire it instead once it has history.
func DeleteVehicle(ctx context.Context, db *sql.DB, id string) error {
	if _, err := GetVehicle(ctx, db, id); err != nil {
		return err
	}
	var n int
	err := db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM trips WHERE vehicle_id = ?) +
		(SELECT COUNT(*) FROM fuel_logs WHERE vehicle_id = ?) +
		(SELECT COUNT(*) FROM maintenance_records WHERE vehicle_id = ?)`, id, id, id).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrVehicleInUse
	}
	_, err = db.ExecContext(ctx, "DELETE FROM vehicles WHERE id = ?", id)
	return err
}

func setVehicleStatus(ctx context.Context, q database.DBTX, id, status string) error {
	_, err := q.ExecContext(ctx, "UPDATE vehicles SET status = ?, updated_at = ? WHERE id = ?", status, database.Now(), id)
	return err
}

// Drivers

const driverSelect = "SELECT id, name, licence_number, licence_expiry, phone, status, created_at FROM drivers"

func scanDriver(s interface{ Scan(...any) error }) (models.Driver, error) {
	var d models.Driver
	err := s.Scan(&d.ID, &d.Name, &d.LicenceNumber, &d.LicenceExpiry, &d.Phone, &d.Status, &d.CreatedAt)
	return d, err
}

func ListDrivers(ctx context.Context, q database.DBTX, status string) ([]models.Driver, error) {
	query, args := driverSelect, []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY name", args...)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()
	items := []models.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func GetDriver(ctx context.Context, q database.DBTX, id string) (models.Driver, error) {
	d, err := scanDriver(q.QueryRowContext(ctx, driverSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return d, apperr.NotFound("driver " + id)
	}
	return d, err
}

func validateDriver(d models.Driver) error {
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", d.Name)
	validation.RequireField(ve, "licence_number", d.LicenceNumber)
	validation.ValidateDate(ve, "licence_expiry", d.LicenceExpiry)
	if d.LicenceExpiry == "" {
		ve.Add("licence_expiry", "is required")
	}
	validation.ValidateMaxLength(ve, "name", d.Name, 255)
	validation.ValidateMaxLength(ve, "phone", d.Phone, 50)
	validation.ValidateEnum(ve, "status", d.Status, validation.ValidDriverStatuses)
	return ve.Err()
}

// CreateDriver adds an active driver.
func CreateDriver(ctx context.Context, db *sql.DB, d models.Driver) (models.Driver, error) {
	d.Status = "active"
	if err := validateDriver(d); err != nil {
		return d, err
	}
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		id, err := database.NextID(ctx, tx, "DRV", 4)
		if err != nil {
			return err
		}
		d.ID = id
		_, err = tx.ExecContext(ctx, `INSERT INTO drivers (id, name, licence_number, licence_expiry, phone, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, d.ID, d.Name, d.LicenceNumber, d.LicenceExpiry, d.Phone, d.Status, database.Now())
		if err != nil && strings.Contains(err.Error(), "UNIQUE") {
			return apperr.New(apperr.ErrConflict, "licence number "+d.LicenceNumber+" already exists")
		}
		return err
	})
	if err != nil {
		return d, err
	}
	return GetDriver(ctx, db, d.ID)
}

func UpdateDriver(ctx context.Context, db *sql.DB, id string, d models.Driver) (models.Driver, error) {
	current, err := GetDriver(ctx, db, id)
	if err != nil {
		return current, err
	}
	if d.Status == "" {
		d.Status = current.Status
	}
	if err := validateDriver(d); err != nil {
		return current, err
	}
	_, err = db.ExecContext(ctx, "UPDATE drivers SET name = ?, licence_number = ?, licence_expiry = ?, phone = ?, status = ? WHERE id = ?",
		d.Name, d.LicenceNumber, d.LicenceExpiry, d.Phone, d.Status, id)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return current, apperr.New(apperr.ErrConflict, "licence number "+d.LicenceNumber+" already exists")
	}
	if err != nil {
		return current, fmt.Errorf("update driver: %w", err)
	}
	return GetDriver(ctx, db, id)
}

// ExpiringLicences returns active drivers whose licence expires on or
// before date.
func ExpiringLicences(ctx context.Context, q database.DBTX, date string) ([]models.Driver, error) {
	rows, err := q.QueryContext(ctx, driverSelect+" WHERE status = 'active' AND licence_expiry <= ? ORDER BY licence_expiry", date)
	if err != nil {
		return nil, fmt.Errorf("expiring licences: %w", err)
	}
	defer rows.Close()
	items := []models.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
