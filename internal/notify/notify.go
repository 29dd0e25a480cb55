// Package notify turns events and periodic checks into rows in the
// notifications inbox.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/events"
	"millops/internal/inventory"
	"millops/internal/models"
	"millops/internal/purchasing"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Create stores n unless an unread notification of the same type already
// exists for the same record. It reports whether a row was written.
func Create(ctx context.Context, q database.DBTX, n models.Notification) (bool, error) {
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if n.RecordID != "" {
		var dup int
		err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE type = ? AND record_id = ? AND read_at IS NULL",
			n.Type, n.RecordID).Scan(&dup)
		if err != nil {
			return false, fmt.Errorf("check notification: %w", err)
		}
		if dup > 0 {
			return false, nil
		}
	}
	_, err := q.ExecContext(ctx, `INSERT INTO notifications (type, severity, title, message, module, record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, n.Type, n.Severity, n.Title, n.Message, n.Module, n.RecordID, database.Now())
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

// List returns notifications newest first.
func List(ctx context.Context, q database.DBTX, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := "SELECT id, type, severity, title, message, module, record_id, read_at, created_at FROM notifications"
	if unreadOnly {
		query += " WHERE read_at IS NULL"
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	items := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &n.Severity, &n.Title, &n.Message, &n.Module, &n.RecordID, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ReadAt = database.SP(readAt)
		items = append(items, n)
	}
	return items, rows.Err()
}

// MarkRead marks one notification read.
func MarkRead(ctx context.Context, q database.DBTX, id int) error {
	res, err := q.ExecContext(ctx, "UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ?", database.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound(fmt.Sprintf("notification %d", id))
	}
	return nil
}

// MarkAllRead marks every unread notification read and returns how many.
func MarkAllRead(ctx context.Context, q database.DBTX) (int, error) {
	res, err := q.ExecContext(ctx, "UPDATE notifications SET read_at = ? WHERE read_at IS NULL", database.Now())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Handler returns the worker's event handler. Event types without a
// notification are acknowledged and ignored, as are events whose payload
// cannot be decoded. Only database failures are returned for a retry.
func Handler(db *sql.DB, log *zap.Logger) events.Handler {
	return func(ctx context.Context, e events.Event) error {
		n, ok, err := fromEvent(e)
		if err != nil {
			log.Warn("dropping event with bad payload", zap.String("type", e.Type), zap.String("id", e.ID), zap.Error(err))
			return nil
		}
		if !ok {
			return nil
		}
		_, err = Create(ctx, db, n)
		return err
	}
}

func fromEvent(e events.Event) (models.Notification, bool, error) {
	switch e.Type {
	case events.StockLow:
		var p events.StockLowPayload
		if err := e.Decode(&p); err != nil {
			return models.Notification{}, false, err
		}
		return models.Notification{
			Type: e.Type, Severity: SeverityWarning, Module: "inventory", RecordID: p.ProductID,
			Title:   "Low stock: " + p.SKU,
			Message: fmt.Sprintf("%s has %g on hand, reorder point %g", p.Name, p.Qty, p.ReorderPoint),
		}, true, nil
	case events.PurchasePaid, events.InvoicePaid:
		var p events.PaymentPayload
		if err := e.Decode(&p); err != nil {
			return models.Notification{}, false, err
		}
		module, verb := "purchasing", "Payment recorded"
		if e.Type == events.InvoicePaid {
			module, verb = "sales", "Receipt recorded"
		}
		return models.Notification{
			Type: e.Type, Severity: SeverityInfo, Module: module, RecordID: e.ID,
			Title:   verb + " on " + p.DocumentID,
			Message: fmt.Sprintf("%s from %s, document now %s", p.Amount, p.PartyID, p.Status),
		}, true, nil
	case events.ScrapeFinished:
		var p events.ScrapePayload
		if err := e.Decode(&p); err != nil {
			return models.Notification{}, false, err
		}
		if p.Error == "" {
			return models.Notification{}, false, nil
		}
		return models.Notification{
			Type: "scrape.failed", Severity: SeverityCritical, Module: "logistics", RecordID: p.Source,
			Title: "Wheat shipment scrape failed: " + p.Source, Message: p.Error,
		}, true, nil
	}
	return models.Notification{}, false, nil
}

// Scan checks for overdue payables and low stock as of asOf and writes a
// notification for each new finding. Low stock is also published so other
// consumers see it. It returns the number of notifications written.
func Scan(ctx context.Context, db *sql.DB, pub events.Publisher, log *zap.Logger, asOf string) (int, error) {
	written := 0
	overdue, err := purchasing.OverduePayables(ctx, db, asOf)
	if err != nil {
		return 0, err
	}
	for _, p := range overdue {
		ok, err := Create(ctx, db, models.Notification{
			Type: "payable.overdue", Severity: SeverityWarning, Module: "purchasing", RecordID: p.ID,
			Title:   "Overdue payable " + p.ID,
			Message: fmt.Sprintf("%s owed to %s was due %s", p.Outstanding.StringFixed(2), p.SupplierName, p.DueDate),
		})
		if err != nil {
			return written, err
		}
		if ok {
			written++
		}
	}

	low, err := inventory.LowStock(ctx, db)
	if err != nil {
		return written, err
	}
	for _, s := range low {
		payload := events.StockLowPayload{ProductID: s.ProductID, SKU: s.SKU, Name: s.Name, Qty: s.Qty, ReorderPoint: s.ReorderPoint}
		e, err := events.New(events.StockLow, s.ProductID, payload)
		if err != nil {
			return written, err
		}
		n, _, err := fromEvent(e)
		if err != nil {
			return written, err
		}
		ok, err := Create(ctx, db, n)
		if err != nil {
			return written, err
		}
		if ok {
			written++
			events.Emit(ctx, pub, log, events.StockLow, s.ProductID, payload)
		}
	}
	return written, nil
}

// Run calls Scan every interval until ctx is done. Payables only count as
// overdue once they are graceDays past their due date.
func Run(ctx context.Context, db *sql.DB, pub events.Publisher, log *zap.Logger, interval time.Duration, graceDays int) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		asOf := time.Now().UTC().AddDate(0, 0, -graceDays).Format(database.DateLayout)
		if n, err := Scan(ctx, db, pub, log, asOf); err != nil {
			log.Error("notification scan failed", zap.Error(err))
		} else if n > 0 {
			log.Info("notification scan", zap.Int("written", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
