package audit

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"millops/internal/database"
	"millops/internal/logging"
	"millops/internal/models"
	"millops/internal/websocket"
)

// Action constants.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionPost    = "post"
	ActionVoid    = "void"
	ActionReverse = "reverse"
	ActionPayment = "payment"
	ActionExport  = "export"
	ActionImport  = "import"
	ActionLogin   = "login"
	ActionLogout  = "logout"
)

// LogAudit records an audit entry and broadcasts the change to websocket
// clients. Failures are logged, never returned, so auditing cannot fail a
// request that already succeeded.
func LogAudit(ctx context.Context, q database.DBTX, hub *websocket.Hub, username, action, module, recordID, summary string) {
	if username == "" {
		username = "system"
	}
	_, err := q.ExecContext(ctx, "INSERT INTO audit_log (username, action, module, record_id, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		username, action, module, recordID, summary, database.Now())
	if err != nil {
		logging.FromContext(ctx).Warn("audit log write failed",
			zap.String("module", module), zap.String("record_id", recordID), zap.Error(err))
	}
	hub.Broadcast(websocket.Event{
		Type:   module + "." + action,
		ID:     recordID,
		Action: action,
	})
}

// Filter narrows List results.
type Filter struct {
	Module   string
	Username string
	RecordID string
	From     string
	To       string
	Limit    int
}

// List returns audit entries, newest first.
func List(ctx context.Context, db *sql.DB, f Filter) ([]models.AuditEntry, error) {
	query := "SELECT id, username, action, module, record_id, summary, created_at FROM audit_log WHERE 1=1"
	var args []any
	if f.Module != "" {
		query += " AND module = ?"
		args = append(args, f.Module)
	}
	if f.Username != "" {
		query += " AND username = ?"
		args = append(args, f.Username)
	}
	if f.RecordID != "" {
		query += " AND record_id = ?"
		args = append(args, f.RecordID)
	}
	if f.From != "" {
		query += " AND created_at >= ?"
		args = append(args, f.From)
	}
	if f.To != "" {
		query += " AND created_at < date(?, '+1 day')"
		args = append(args, f.To)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var items []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if items == nil {
		items = []models.AuditEntry{}
	}
	return items, rows.Err()
}
