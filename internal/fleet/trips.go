package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

const (
	TripPlanned   = "planned"
	TripInTransit = "in_transit"
	TripCompleted = "completed"
	TripCancelled = "cancelled"
)

var ErrTripState = apperr.New(apperr.ErrConflict, "trip is not in a state that allows this")

// TripInput is a trip as planned.
type TripInput struct {
	VehicleID   string  `json:"vehicle_id"`
	DriverID    string  `json:"driver_id"`
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	PlannedDate string  `json:"planned_date"`
	CargoKg     float64 `json:"cargo_kg"`
	Notes       string  `json:"notes"`
}

const tripSelect = `SELECT id, vehicle_id, driver_id, origin, destination, planned_date, status, start_odometer, end_odometer,
	cargo_kg, notes, started_at, completed_at, created_at FROM trips`

func scanTrip(s interface{ Scan(...any) error }) (models.Trip, error) {
	var t models.Trip
	var start, end sql.NullFloat64
	var startedAt, completedAt sql.NullString
	err := s.Scan(&t.ID, &t.VehicleID, &t.DriverID, &t.Origin, &t.Destination, &t.PlannedDate, &t.Status, &start, &end,
		&t.CargoKg, &t.Notes, &startedAt, &completedAt, &t.CreatedAt)
	if start.Valid {
		t.StartOdometer = &start.Float64
	}
	if end.Valid {
		t.EndOdometer = &end.Float64
	}
	t.StartedAt = database.SP(startedAt)
	t.CompletedAt = database.SP(completedAt)
	return t, err
}

// GetTrip returns a trip with the ids of the shipments it carries.
func GetTrip(ctx context.Context, q database.DBTX, id string) (models.Trip, error) {
	t, err := scanTrip(q.QueryRowContext(ctx, tripSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, apperr.NotFound("trip " + id)
	}
	if err != nil {
		return t, fmt.Errorf("get trip: %w", err)
	}
	rows, err := q.QueryContext(ctx, "SELECT id FROM shipments WHERE trip_id = ? ORDER BY id", id)
	if err != nil {
		return t, err
	}
	defer rows.Close()
	t.ShipmentIDs = []string{}
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return t, err
		}
		t.ShipmentIDs = append(t.ShipmentIDs, sid)
	}
	return t, rows.Err()
}

// TripFilter narrows ListTrips.
type TripFilter struct {
	VehicleID string
	DriverID  string
	Status    string
	From      string
	To        string
}

// ListTrips returns trips newest first. ShipmentIDs is not loaded.
func ListTrips(ctx context.Context, q database.DBTX, f TripFilter) ([]models.Trip, error) {
	where := " WHERE 1=1"
	var args []any
	for _, c := range []struct{ col, val string }{
		{"vehicle_id = ?", f.VehicleID},
		{"driver_id = ?", f.DriverID},
		{"status = ?", f.Status},
		{"planned_date >= ?", f.From},
		{"planned_date <= ?", f.To},
	} {
		if c.val != "" {
			where += " AND " + c.col
			args = append(args, c.val)
		}
	}
	rows, err := q.QueryContext(ctx, tripSelect+where+" ORDER BY planned_date DESC, id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()
	items := []models.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// CreateTrip plans a trip. The vehicle must not be retired, the driver must
// be active and the cargo must fit the vehicle.
func CreateTrip(ctx context.Context, db *sql.DB, in TripInput) (models.Trip, error) {
	if in.PlannedDate == "" {
		in.PlannedDate = database.Today()
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "vehicle_id", in.VehicleID)
	validation.RequireField(ve, "driver_id", in.DriverID)
	validation.ValidateDate(ve, "planned_date", in.PlannedDate)
	validation.ValidateNonNegativeFloat(ve, "cargo_kg", in.CargoKg)
	validation.ValidateMaxLength(ve, "origin", in.Origin, 255)
	validation.ValidateMaxLength(ve, "destination", in.Destination, 255)
	if err := ve.Err(); err != nil {
		return models.Trip{}, err
	}

	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		v, err := GetVehicle(ctx, tx, in.VehicleID)
		if err != nil {
			return err
		}
		if v.Status == VehicleRetired {
			return fmt.Errorf("%w: %s is retired", ErrVehicleBusy, v.Registration)
		}
		if v.CapacityKg > 0 && in.CargoKg > v.CapacityKg {
			return validation.Single("cargo_kg", fmt.Sprintf("exceeds vehicle capacity of %g kg", v.CapacityKg))
		}
		d, err := GetDriver(ctx, tx, in.DriverID)
		if err != nil {
			return err
		}
		if d.Status != "active" {
			return ErrDriverInactive
		}
		id, err = database.NextID(ctx, tx, "TRP", 4)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO trips (id, vehicle_id, driver_id, origin, destination, planned_date, status, cargo_kg, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 'planned', ?, ?, ?)`,
			id, in.VehicleID, in.DriverID, in.Origin, in.Destination, in.PlannedDate, in.CargoKg, in.Notes, database.Now())
		return err
	})
	if err != nil {
		return models.Trip{}, err
	}
	return GetTrip(ctx, db, id)
}

// StartTrip puts a planned trip on the road. The vehicle must be available
// and the driver's licence valid on the planned date. The start odometer
// defaults to the vehicle's reading and may not be below it. Pending
// shipments on the trip are dispatched in the same transaction.
func StartTrip(ctx context.Context, db *sql.DB, id string, startOdometer *float64, user string) (models.Trip, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		t, err := GetTrip(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != TripPlanned {
			return fmt.Errorf("%w: trip %s is %s", ErrTripState, id, t.Status)
		}
		v, err := GetVehicle(ctx, tx, t.VehicleID)
		if err != nil {
			return err
		}
		if v.Status != VehicleAvailable {
			return fmt.Errorf("%w: %s is %s", ErrVehicleBusy, v.Registration, v.Status)
		}
		d, err := GetDriver(ctx, tx, t.DriverID)
		if err != nil {
			return err
		}
		if d.Status != "active" {
			return ErrDriverInactive
		}
		if d.LicenceExpiry < t.PlannedDate {
			return fmt.Errorf("%w: %s expires %s", ErrLicenceExpired, d.Name, d.LicenceExpiry)
		}
		start := v.OdometerKm
		if startOdometer != nil {
			if *startOdometer < v.OdometerKm {
				return validation.Single("start_odometer", fmt.Sprintf("cannot be below the vehicle reading of %g km", v.OdometerKm))
			}
			start = *startOdometer
		}
		now := database.Now()
		if _, err := tx.ExecContext(ctx, "UPDATE trips SET status = 'in_transit', start_odometer = ?, started_at = ? WHERE id = ?", start, now, id); err != nil {
			return err
		}
		if err := setVehicleStatus(ctx, tx, v.ID, VehicleOnTrip); err != nil {
			return err
		}
		for _, sid := range t.ShipmentIDs {
			s, err := GetShipment(ctx, tx, sid)
			if err != nil {
				return err
			}
			if s.Status == ShipmentPending {
				if err := dispatch(ctx, tx, s, user); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return models.Trip{}, err
	}
	return GetTrip(ctx, db, id)
}

// CompleteTrip closes an in-transit trip at endOdometer (not below the start
// reading), frees the vehicle, moves its odometer on and marks the trip's
// dispatched shipments delivered.
func CompleteTrip(ctx context.Context, db *sql.DB, id string, endOdometer float64) (models.Trip, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		t, err := GetTrip(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != TripInTransit {
			return fmt.Errorf("%w: trip %s is %s", ErrTripState, id, t.Status)
		}
		if t.StartOdometer != nil && endOdometer < *t.StartOdometer {
			return validation.Single("end_odometer", fmt.Sprintf("cannot be below the start reading of %g km", *t.StartOdometer))
		}
		now := database.Now()
		if _, err := tx.ExecContext(ctx, "UPDATE trips SET status = 'completed', end_odometer = ?, completed_at = ? WHERE id = ?", endOdometer, now, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE vehicles SET status = 'available', odometer_km = MAX(odometer_km, ?), updated_at = ? WHERE id = ?",
			endOdometer, now, t.VehicleID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE shipments SET status = 'delivered', delivered_at = ? WHERE trip_id = ? AND status = 'dispatched'", now, id)
		return err
	})
	if err != nil {
		return models.Trip{}, err
	}
	return GetTrip(ctx, db, id)
}

// CancelTrip cancels a planned trip and unlinks its shipments. Trips already
// on the road must be completed instead.
func CancelTrip(ctx context.Context, db *sql.DB, id string) (models.Trip, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		t, err := GetTrip(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status != TripPlanned {
			return fmt.Errorf("%w: trip %s is %s", ErrTripState, id, t.Status)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE trips SET status = 'cancelled' WHERE id = ?", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE shipments SET trip_id = '' WHERE trip_id = ? AND status = 'pending'", id)
		return err
	})
	if err != nil {
		return models.Trip{}, err
	}
	return GetTrip(ctx, db, id)
}
