package fleet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/inventory"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/money"
	"millops/internal/validation"
)

const (
	ShipmentPending    = "pending"
	ShipmentDispatched = "dispatched"
	ShipmentDelivered  = "delivered"
	ShipmentCancelled  = "cancelled"
)

var ErrShipmentState = apperr.New(apperr.ErrConflict, "shipment is not in a state that allows this")

// ShipmentLineInput is one product line of a shipment.
type ShipmentLineInput struct {
	ProductID string  `json:"product_id"`
	Qty       float64 `json:"qty"`
}

// ShipmentInput is a shipment as submitted. Outbound shipments go to a
// customer, inbound ones come from a supplier.
type ShipmentInput struct {
	Direction  string              `json:"direction"`
	CustomerID string              `json:"customer_id"`
	SupplierID string              `json:"supplier_id"`
	TripID     string              `json:"trip_id"`
	Location   string              `json:"location"`
	Notes      string              `json:"notes"`
	Lines      []ShipmentLineInput `json:"lines"`
}

func validateShipment(ctx context.Context, q database.DBTX, in ShipmentInput) error {
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "direction", in.Direction, validation.ValidShipmentDirections)
	switch in.Direction {
	case "outbound":
		validation.RequireField(ve, "customer_id", in.CustomerID)
		if in.CustomerID != "" {
			validation.ValidateForeignKey(ctx, ve, q, "customer_id", "customers", in.CustomerID)
		}
	case "inbound":
		validation.RequireField(ve, "supplier_id", in.SupplierID)
		if in.SupplierID != "" {
			validation.ValidateForeignKey(ctx, ve, q, "supplier_id", "suppliers", in.SupplierID)
		}
	}
	if len(in.Lines) == 0 {
		ve.Add("lines", "at least one line is required")
	}
	for i, l := range in.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		validation.RequireField(ve, field+".product_id", l.ProductID)
		if l.ProductID != "" {
			validation.ValidateForeignKey(ctx, ve, q, field+".product_id", "products", l.ProductID)
		}
		validation.ValidatePositiveFloat(ve, field+".qty", l.Qty)
	}
	validation.ValidateMaxLength(ve, "notes", in.Notes, 10000)
	if err := ve.Err(); err != nil {
		return err
	}
	if in.TripID != "" {
		return checkTripOpen(ctx, q, in.TripID)
	}
	return nil
}

// checkTripOpen allows shipments to be loaded onto planned trips only.
func checkTripOpen(ctx context.Context, q database.DBTX, tripID string) error {
	var status string
	err := q.QueryRowContext(ctx, "SELECT status FROM trips WHERE id = ?", tripID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return validation.Single("trip_id", "references non-existent trip: "+tripID)
	}
	if err != nil {
		return err
	}
	if status != TripPlanned {
		return fmt.Errorf("%w: trip %s is %s", ErrTripState, tripID, status)
	}
	return nil
}

// CreateShipment records a pending shipment.
func CreateShipment(ctx context.Context, db *sql.DB, in ShipmentInput, user string) (models.Shipment, error) {
	if in.Direction == "" {
		in.Direction = "outbound"
	}
	if in.Location == "" {
		in.Location = inventory.DefaultLocation
	}
	var id string
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := validateShipment(ctx, tx, in); err != nil {
			return err
		}
		var err error
		id, err = database.NextID(ctx, tx, "SHP", 4)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO shipments (id, direction, customer_id, supplier_id, trip_id, status, location, notes, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?)`,
			id, in.Direction, in.CustomerID, in.SupplierID, in.TripID, in.Location, in.Notes, user, database.Now())
		if err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}
		for _, l := range in.Lines {
			if _, err := tx.ExecContext(ctx, "INSERT INTO shipment_lines (shipment_id, product_id, qty) VALUES (?, ?, ?)", id, l.ProductID, l.Qty); err != nil {
				return fmt.Errorf("insert shipment line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Shipment{}, err
	}
	return GetShipment(ctx, db, id)
}

const shipmentSelect = `SELECT id, direction, customer_id, supplier_id, trip_id, status, location, notes, created_by, dispatched_at, delivered_at, created_at
	FROM shipments`

func scanShipment(s interface{ Scan(...any) error }) (models.Shipment, error) {
	var sh models.Shipment
	var dispatched, delivered sql.NullString
	err := s.Scan(&sh.ID, &sh.Direction, &sh.CustomerID, &sh.SupplierID, &sh.TripID, &sh.Status, &sh.Location, &sh.Notes, &sh.CreatedBy,
		&dispatched, &delivered, &sh.CreatedAt)
	sh.DispatchedAt = database.SP(dispatched)
	sh.DeliveredAt = database.SP(delivered)
	return sh, err
}

// GetShipment returns a shipment with its lines.
func GetShipment(ctx context.Context, q database.DBTX, id string) (models.Shipment, error) {
	sh, err := scanShipment(q.QueryRowContext(ctx, shipmentSelect+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return sh, apperr.NotFound("shipment " + id)
	}
	if err != nil {
		return sh, fmt.Errorf("get shipment: %w", err)
	}
	rows, err := q.QueryContext(ctx, "SELECT id, shipment_id, product_id, qty FROM shipment_lines WHERE shipment_id = ? ORDER BY id", id)
	if err != nil {
		return sh, err
	}
	defer rows.Close()
	sh.Lines = []models.ShipmentLine{}
	for rows.Next() {
		var l models.ShipmentLine
		if err := rows.Scan(&l.ID, &l.ShipmentID, &l.ProductID, &l.Qty); err != nil {
			return sh, err
		}
		sh.Lines = append(sh.Lines, l)
	}
	return sh, rows.Err()
}

// ShipmentFilter narrows ListShipments.
type ShipmentFilter struct {
	Direction string
	Status    string
	TripID    string
	PartyID   string
}

// ListShipments returns shipment headers newest first.
func ListShipments(ctx context.Context, q database.DBTX, f ShipmentFilter) ([]models.Shipment, error) {
	where := " WHERE 1=1"
	var args []any
	if f.Direction != "" {
		where += " AND direction = ?"
		args = append(args, f.Direction)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.TripID != "" {
		where += " AND trip_id = ?"
		args = append(args, f.TripID)
	}
	if f.PartyID != "" {
		where += " AND (customer_id = ? OR supplier_id = ?)"
		args = append(args, f.PartyID, f.PartyID)
	}
	rows, err := q.QueryContext(ctx, shipmentSelect+where+" ORDER BY created_at DESC, id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	defer rows.Close()
	items := []models.Shipment{}
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, sh)
	}
	return items, rows.Err()
}

// AssignTrip loads a pending shipment onto a planned trip, or takes it off
// when tripID is blank.
func AssignTrip(ctx context.Context, db *sql.DB, id, tripID string) (models.Shipment, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		sh, err := GetShipment(ctx, tx, id)
		if err != nil {
			return err
		}
		if sh.Status != ShipmentPending {
			return fmt.Errorf("%w: shipment %s is %s", ErrShipmentState, id, sh.Status)
		}
		if tripID != "" {
			if err := checkTripOpen(ctx, tx, tripID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, "UPDATE shipments SET trip_id = ? WHERE id = ?", tripID, id)
		return err
	})
	if err != nil {
		return models.Shipment{}, err
	}
	return GetShipment(ctx, db, id)
}

// dispatch marks a pending shipment dispatched. Outbound goods leave stock at
// average cost, which moves from Inventory to Cost of Goods Sold.
func dispatch(ctx context.Context, tx *sql.Tx, sh models.Shipment, user string) error {
	if sh.Direction == "outbound" {
		cost := decimal.Zero
		for _, l := range sh.Lines {
			unit, err := inventory.Issue(ctx, tx, inventory.Movement{
				ProductID: l.ProductID, Location: sh.Location, Qty: l.Qty, Reference: sh.ID, CreatedBy: user,
			})
			if errors.Is(err, inventory.ErrNotStocked) {
				continue
			}
			if err != nil {
				return fmt.Errorf("issue %s: %w", l.ProductID, err)
			}
			cost = cost.Add(money.Round2(unit.Mul(decimal.NewFromFloat(l.Qty))))
		}
		if cost.IsPositive() {
			memo := "Shipment " + sh.ID + " dispatched"
			_, err := ledger.Post(ctx, tx, ledger.Entry{
				Date: database.Today(), Memo: memo, SourceModule: SourceModule, SourceID: sh.ID, PostedBy: user,
				Lines: []ledger.Line{
					ledger.Debit(ledger.AccountCOGS, cost, sh.CustomerID, memo),
					ledger.Credit(ledger.AccountInventory, cost, "", memo),
				},
			})
			if err != nil {
				return err
			}
		}
	}
	_, err := tx.ExecContext(ctx, "UPDATE shipments SET status = 'dispatched', dispatched_at = ? WHERE id = ?", database.Now(), sh.ID)
	return err
}

// DispatchShipment sends a pending shipment on its way.
func DispatchShipment(ctx context.Context, db *sql.DB, id, user string) (models.Shipment, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		sh, err := GetShipment(ctx, tx, id)
		if err != nil {
			return err
		}
		if sh.Status != ShipmentPending {
			return fmt.Errorf("%w: shipment %s is %s", ErrShipmentState, id, sh.Status)
		}
		return dispatch(ctx, tx, sh, user)
	})
	if err != nil {
		return models.Shipment{}, err
	}
	return GetShipment(ctx, db, id)
}

// DeliverShipment marks a dispatched shipment delivered.
func DeliverShipment(ctx context.Context, db *sql.DB, id string) (models.Shipment, error) {
	return moveShipment(ctx, db, id, ShipmentDispatched, ShipmentDelivered)
}

// CancelShipment cancels a shipment that has not left yet and takes it off
// its trip.
func CancelShipment(ctx context.Context, db *sql.DB, id string) (models.Shipment, error) {
	return moveShipment(ctx, db, id, ShipmentPending, ShipmentCancelled)
}

func moveShipment(ctx context.Context, db *sql.DB, id, from, to string) (models.Shipment, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		sh, err := GetShipment(ctx, tx, id)
		if err != nil {
			return err
		}
		if sh.Status != from {
			return fmt.Errorf("%w: shipment %s is %s", ErrShipmentState, id, sh.Status)
		}
		if to == ShipmentDelivered {
			_, err = tx.ExecContext(ctx, "UPDATE shipments SET status = ?, delivered_at = ? WHERE id = ?", to, database.Now(), id)
		} else {
			_, err = tx.ExecContext(ctx, "UPDATE shipments SET status = ?, trip_id = '' WHERE id = ?", to, id)
		}
		return err
	})
	if err != nil {
		return models.Shipment{}, err
	}
	return GetShipment(ctx, db, id)
}
