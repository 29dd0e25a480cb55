package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/validation"
)

var ErrMaintenanceClosed = apperr.New(apperr.ErrConflict, "maintenance record is already closed")

// FuelInput is a fill-up paid from AccountCode
// (an asset account, default Cash).
type FuelInput struct {
	VehicleID   string          `json:"vehicle_id"`
	LogDate     string          `json:"log_date"`
	Litres      float64         `json:"litres"`
	Cost        decimal.Decimal `json:"cost"`
	OdometerKm  float64         `json:"odometer_km"`
	AccountCode string          `json:"account_code"`
}

// payingAccount checks code names an asset account.
func payingAccount(ctx context.Context, q database.DBTX, code string) error {
	acct, err := ledger.GetAccount(ctx, q, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return validation.Single("account_code", "references non-existent account: "+code)
	}
	if err != nil {
		return err
	}
	if acct.Type != "asset" {
		return validation.Single("account_code", "must be an asset account")
	}
	return nil
}

// LogFuel records a fill-up and books Dr Fuel / Cr the paying account. A
// higher odometer reading moves the vehicle's odometer on.
func LogFuel(ctx context.Context, db *sql.DB, in FuelInput, user string) (models.FuelLog, error) {
	if in.LogDate == "" {
		in.LogDate = database.Today()
	}
	if in.AccountCode == "" {
		in.AccountCode = ledger.AccountCash
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "vehicle_id", in.VehicleID)
	validation.ValidateDate(ve, "log_date", in.LogDate)
	validation.ValidatePositiveFloat(ve, "litres", in.Litres)
	validation.ValidatePositiveAmount(ve, "cost", in.Cost)
	validation.ValidateNonNegativeFloat(ve, "odometer_km", in.OdometerKm)
	if err := ve.Err(); err != nil {
		return models.FuelLog{}, err
	}

	var logID int64
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		v, err := GetVehicle(ctx, tx, in.VehicleID)
		if err != nil {
			return err
		}
		if err := payingAccount(ctx, tx, in.AccountCode); err != nil {
			return err
		}
		memo := fmt.Sprintf("Fuel %s %.1f l", v.Registration, in.Litres)
		jeID, err := ledger.Post(ctx, tx, ledger.Entry{
			Date: in.LogDate, Memo: memo, SourceModule: SourceModule, SourceID: v.ID, PostedBy: user,
			Lines: []ledger.Line{
				ledger.Debit(ledger.AccountFuel, in.Cost, "", memo),
				ledger.Credit(in.AccountCode, in.Cost, "", memo),
			},
		})
		if err != nil {
			return err
		}
		now := database.Now()
		res, err := tx.ExecContext(ctx, `INSERT INTO fuel_logs (vehicle_id, log_date, litres, cost, odometer_km, account_code, journal_entry_id, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, in.LogDate, in.Litres, money.Round2(in.Cost).String(), in.OdometerKm, in.AccountCode, jeID, user, now)
		if err != nil {
			return fmt.Errorf("insert fuel log: %w", err)
		}
		logID, _ = res.LastInsertId()
		if in.OdometerKm > v.OdometerKm {
			_, err = tx.ExecContext(ctx, "UPDATE vehicles SET odometer_km = ?, updated_at = ? WHERE id = ?", in.OdometerKm, now, v.ID)
		}
		return err
	})
	if err != nil {
		return models.FuelLog{}, err
	}
	return getFuelLog(ctx, db, int(logID))
}

const fuelSelect = "SELECT id, vehicle_id, log_date, litres, cost, odometer_km, account_code, journal_entry_id, created_by, created_at FROM fuel_logs"

func scanFuel(s interface{ Scan(...any) error }) (models.FuelLog, error) {
	var f models.FuelLog
	err := s.Scan(&f.ID, &f.VehicleID, &f.LogDate, &f.Litres, &f.Cost, &f.OdometerKm, &f.AccountCode, &f.JournalEntryID, &f.CreatedBy, &f.CreatedAt)
	return f, err
}

func getFuelLog(ctx context.Context, q database.DBTX, id int) (models.FuelLog, error) {
	f, err := scanFuel(q.QueryRowContext(ctx, fuelSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return f, apperr.NotFound(fmt.Sprintf("fuel log %d", id))
	}
	return f, err
}

// ListFuel returns a vehicle's fill-ups, newest first.
func ListFuel(ctx context.Context, q database.DBTX, vehicleID string) ([]models.FuelLog, error) {
	rows, err := q.QueryContext(ctx, fuelSelect+" WHERE vehicle_id = ? ORDER BY log_date DESC, id DESC", vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list fuel: %w", err)
	}
	defer rows.Close()
	items := []models.FuelLog{}
	for rows.Next() {
		f, err := scanFuel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// MaintenanceInput opens a maintenance job.
type MaintenanceInput struct {
	VehicleID   string          `json:"vehicle_id"`
	ServiceDate string          `json:"service_date"`
	Description string          `json:"description"`
	Cost        decimal.Decimal `json:"cost"`
	NextDueKm   float64         `json:"next_due_km"`
	AccountCode string          `json:"account_code"`
}

// OpenMaintenance takes a vehicle off the road for a job. A non-zero cost
// books Dr Vehicle Maintenance / Cr the paying account. Vehicles on a trip
// cannot go into maintenance.
func OpenMaintenance(ctx context.Context, db *sql.DB, in MaintenanceInput, user string) (models.MaintenanceRecord, error) {
	if in.ServiceDate == "" {
		in.ServiceDate = database.Today()
	}
	if in.AccountCode == "" {
		in.AccountCode = ledger.AccountCash
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "vehicle_id", in.VehicleID)
	validation.RequireField(ve, "description", in.Description)
	validation.ValidateDate(ve, "service_date", in.ServiceDate)
	validation.ValidateAmount(ve, "cost", in.Cost)
	validation.ValidateNonNegativeFloat(ve, "next_due_km", in.NextDueKm)
	if err := ve.Err(); err != nil {
		return models.MaintenanceRecord{}, err
	}

	var recID int64
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		v, err := GetVehicle(ctx, tx, in.VehicleID)
		if err != nil {
			return err
		}
		if v.Status == VehicleOnTrip || v.Status == VehicleRetired {
			return fmt.Errorf("%w: %s is %s", ErrVehicleBusy, v.Registration, v.Status)
		}
		jeID := ""
		if in.Cost.IsPositive() {
			if err := payingAccount(ctx, tx, in.AccountCode); err != nil {
				return err
			}
			memo := "Maintenance " + v.Registration + ": " + in.Description
			jeID, err = ledger.Post(ctx, tx, ledger.Entry{
				Date: in.ServiceDate, Memo: memo, SourceModule: SourceModule, SourceID: v.ID, PostedBy: user,
				Lines: []ledger.Line{
					ledger.Debit(ledger.AccountVehicleMaintenance, in.Cost, "", memo),
					ledger.Credit(in.AccountCode, in.Cost, "", memo),
				},
			})
			if err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO maintenance_records (vehicle_id, service_date, description, cost, next_due_km, status, journal_entry_id, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, 'open', ?, ?, ?)`,
			v.ID, in.ServiceDate, in.Description, money.Round2(in.Cost).String(), in.NextDueKm, jeID, user, database.Now())
		if err != nil {
			return fmt.Errorf("insert maintenance record: %w", err)
		}
		recID, _ = res.LastInsertId()
		return setVehicleStatus(ctx, tx, v.ID, VehicleMaintenance)
	})
	if err != nil {
		return models.MaintenanceRecord{}, err
	}
	return getMaintenance(ctx, db, int(recID))
}

// CloseMaintenance finishes a job. The vehicle is available again once no
// other job on it is open.
func CloseMaintenance(ctx context.Context, db *sql.DB, id int) (models.MaintenanceRecord, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		m, err := getMaintenance(ctx, tx, id)
		if err != nil {
			return err
		}
		if m.Status == "closed" {
			return ErrMaintenanceClosed
		}
		if _, err := tx.ExecContext(ctx, "UPDATE maintenance_records SET status = 'closed', closed_at = ? WHERE id = ?", database.Now(), id); err != nil {
			return err
		}
		var open int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM maintenance_records WHERE vehicle_id = ? AND status = 'open'", m.VehicleID).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, "UPDATE vehicles SET status = 'available', updated_at = ? WHERE id = ? AND status = 'maintenance'", database.Now(), m.VehicleID)
		return err
	})
	if err != nil {
		return models.MaintenanceRecord{}, err
	}
	return getMaintenance(ctx, db, id)
}

const maintenanceSelect = `SELECT id, vehicle_id, service_date, description, cost, next_due_km, status, journal_entry_id, created_by, created_at, closed_at
	FROM maintenance_records`

func scanMaintenance(s interface{ Scan(...any) error }) (models.MaintenanceRecord, error) {
	var m models.MaintenanceRecord
	var closedAt sql.NullString
	err := s.Scan(&m.ID, &m.VehicleID, &m.ServiceDate, &m.Description, &m.Cost, &m.NextDueKm, &m.Status, &m.JournalEntryID, &m.CreatedBy, &m.CreatedAt, &closedAt)
	m.ClosedAt = database.SP(closedAt)
	return m, err
}

func getMaintenance(ctx context.Context, q database.DBTX, id int) (models.MaintenanceRecord, error) {
	m, err := scanMaintenance(q.QueryRowContext(ctx, maintenanceSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return m, apperr.NotFound(fmt.Sprintf("maintenance record %d", id))
	}
	return m, err
}

// ListMaintenance returns a vehicle's jobs, newest first.
func ListMaintenance(ctx context.Context, q database.DBTX, vehicleID string) ([]models.MaintenanceRecord, error) {
	rows, err := q.QueryContext(ctx, maintenanceSelect+" WHERE vehicle_id = ? ORDER BY service_date DESC, id DESC", vehicleID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance: %w", err)
	}
	defer rows.Close()
	items := []models.MaintenanceRecord{}
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// CostSummary totals a vehicle's fuel and maintenance between from and to
// (inclusive, blank for open-ended) and spreads them over the distance of
// trips completed in that window.
func CostSummary(ctx context.Context, q database.DBTX, vehicleID, from, to string) (models.VehicleCostSummary, error) {
	out := models.VehicleCostSummary{VehicleID: vehicleID, From: from, To: to,
		FuelCost: decimal.Zero, MaintenanceCost: decimal.Zero, TotalCost: decimal.Zero, CostPerKm: decimal.Zero}
	if _, err := GetVehicle(ctx, q, vehicleID); err != nil {
		return out, err
	}
	if from == "" {
		from = "0000-01-01"
	}
	if to == "" {
		to = "9999-12-31"
	}

	fuel, err := q.QueryContext(ctx, "SELECT litres, cost FROM fuel_logs WHERE vehicle_id = ? AND log_date BETWEEN ? AND ?", vehicleID, from, to)
	if err != nil {
		return out, fmt.Errorf("fuel costs: %w", err)
	}
	for fuel.Next() {
		var litres float64
		var cost decimal.Decimal
		if err := fuel.Scan(&litres, &cost); err != nil {
			fuel.Close()
			return out, err
		}
		out.FuelLitres += litres
		out.FuelCost = out.FuelCost.Add(cost)
	}
	fuel.Close()

	maint, err := q.QueryContext(ctx, "SELECT cost FROM maintenance_records WHERE vehicle_id = ? AND service_date BETWEEN ? AND ?", vehicleID, from, to)
	if err != nil {
		return out, fmt.Errorf("maintenance costs: %w", err)
	}
	for maint.Next() {
		var cost decimal.Decimal
		if err := maint.Scan(&cost); err != nil {
			maint.Close()
			return out, err
		}
		out.MaintenanceCost = out.MaintenanceCost.Add(cost)
	}
	maint.Close()

	err = q.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(end_odometer - start_odometer), 0) FROM trips
		WHERE vehicle_id = ? AND status = 'completed' AND planned_date BETWEEN ? AND ?`, vehicleID, from, to).Scan(&out.Trips, &out.DistanceKm)
	if err != nil {
		return out, fmt.Errorf("trip distance: %w", err)
	}

	out.TotalCost = out.FuelCost.Add(out.MaintenanceCost)
	if out.DistanceKm > 0 {
		out.CostPerKm = money.Round2(out.TotalCost.Div(decimal.NewFromFloat(out.DistanceKm)))
	}
	return out, nil
}
