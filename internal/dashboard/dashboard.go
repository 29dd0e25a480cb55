// Package dashboard serves per-user widget layouts and the data behind each
// widget.
package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/fleet"
	"millops/internal/inventory"
	"millops/internal/ledger"
	"millops/internal/models"
	"millops/internal/purchasing"
	"millops/internal/sales"
	"millops/internal/scraper"
	"millops/internal/validation"
)

// Widget types.
const (
	SalesSummary           = "sales_summary"
	PayablesOutstanding    = "payables_outstanding"
	ReceivablesOutstanding = "receivables_outstanding"
	CashPosition           = "cash_position"
	LowStock               = "low_stock"
	FleetStatus            = "fleet_status"
	RecentPurchases        = "recent_purchases"
	WheatShipments         = "wheat_shipments"
	TopCustomers           = "top_customers"
)

// Settings are the per-widget options stored with the layout.
type Settings struct {
	Limit int `json:"limit,omitempty"`
	Days  int `json:"days,omitempty"`
}

func (s Settings) limit(def int) int {
	if s.Limit <= 0 || s.Limit > 100 {
		return def
	}
	return s.Limit
}

// Provider computes one widget's data as of a date.
type Provider func(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error)

var providers = map[string]Provider{
	SalesSummary:           salesSummary,
	PayablesOutstanding:    payablesOutstanding,
	ReceivablesOutstanding: receivablesOutstanding,
	CashPosition:           cashPosition,
	LowStock:               lowStock,
	FleetStatus:            fleetStatus,
	RecentPurchases:        recentPurchases,
	WheatShipments:         wheatShipments,
	TopCustomers:           topCustomers,
}

// Types lists the known widget types in catalog order.
func Types() []string {
	return []string{SalesSummary, ReceivablesOutstanding, PayablesOutstanding, CashPosition, LowStock,
		FleetStatus, RecentPurchases, WheatShipments, TopCustomers}
}

// Known reports whether typ is a widget type.
func Known(typ string) bool {
	_, ok := providers[typ]
	return ok
}

func scanWidgets(rows *sql.Rows) ([]models.DashboardWidget, error) {
	defer rows.Close()
	items := []models.DashboardWidget{}
	for rows.Next() {
		var w models.DashboardWidget
		var enabled int
		var settings string
		if err := rows.Scan(&w.ID, &w.UserID, &w.WidgetType, &w.Position, &enabled, &settings); err != nil {
			return nil, err
		}
		w.Enabled = enabled == 1
		w.Settings = json.RawMessage(settings)
		items = append(items, w)
	}
	return items, rows.Err()
}

func layoutFor(ctx context.Context, q database.DBTX, userID int) ([]models.DashboardWidget, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, user_id, widget_type, position, enabled, settings
		FROM dashboard_widgets WHERE user_id = ? ORDER BY position, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load layout: %w", err)
	}
	return scanWidgets(rows)
}

// GetLayout returns userID's layout. A user without one gets a copy of the
// defaults stored under user 0.
func GetLayout(ctx context.Context, db *sql.DB, userID int) ([]models.DashboardWidget, error) {
	items, err := layoutFor(ctx, db, userID)
	if err != nil || len(items) > 0 || userID == 0 {
		return items, err
	}
	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO dashboard_widgets (user_id, widget_type, position, enabled, settings)
			SELECT ?, widget_type, position, enabled, settings FROM dashboard_widgets WHERE user_id = 0`, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("copy default layout: %w", err)
	}
	return layoutFor(ctx, db, userID)
}

// LayoutUpdate changes one widget's place in a layout.
type LayoutUpdate struct {
	WidgetType string          `json:"widget_type"`
	Position   int             `json:"position"`
	Enabled    bool            `json:"enabled"`
	Settings   json.RawMessage `json:"settings,omitempty"`
}

// UpdateLayout applies updates to userID's layout. Unknown widget types and
// unreadable settings are rejected before anything is written.
func UpdateLayout(ctx context.Context, db *sql.DB, userID int, updates []LayoutUpdate) ([]models.DashboardWidget, error) {
	ve := &validation.ValidationErrors{}
	for i, u := range updates {
		field := fmt.Sprintf("widgets[%d]", i)
		if !Known(u.WidgetType) {
			ve.Add(field+".widget_type", fmt.Sprintf("unknown widget type %q", u.WidgetType))
		}
		if u.Position < 0 {
			ve.Add(field+".position", "must not be negative")
		}
		if len(u.Settings) > 0 {
			var s Settings
			if err := json.Unmarshal(u.Settings, &s); err != nil {
				ve.Add(field+".settings", "must be an object with limit and days")
			}
		}
	}
	if err := ve.Err(); err != nil {
		return nil, err
	}
	if _, err := GetLayout(ctx, db, userID); err != nil {
		return nil, err
	}
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, u := range updates {
			settings := "{}"
			if len(u.Settings) > 0 {
				settings = string(u.Settings)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO dashboard_widgets (user_id, widget_type, position, enabled, settings)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(user_id, widget_type) DO UPDATE SET position = excluded.position, enabled = excluded.enabled,
					settings = CASE WHEN ? THEN excluded.settings ELSE dashboard_widgets.settings END`,
				userID, u.WidgetType, u.Position, boolInt(u.Enabled), settings, boolInt(len(u.Settings) > 0))
			if err != nil {
				return fmt.Errorf("update widget %s: %w", u.WidgetType, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return layoutFor(ctx, db, userID)
}

// SetDefaults rewrites the default layout new users copy: the listed widget
// types are enabled in order and every other type is disabled after them.
// An empty list leaves the defaults alone.
func SetDefaults(ctx context.Context, db *sql.DB, types []string) ([]models.DashboardWidget, error) {
	if len(types) == 0 {
		return layoutFor(ctx, db, 0)
	}
	listed := make(map[string]bool, len(types))
	updates := make([]LayoutUpdate, 0, len(Types()))
	for _, typ := range types {
		if listed[typ] {
			continue
		}
		listed[typ] = true
		updates = append(updates, LayoutUpdate{WidgetType: typ, Position: len(updates), Enabled: true})
	}
	for _, typ := range Types() {
		if !listed[typ] {
			updates = append(updates, LayoutUpdate{WidgetType: typ, Position: len(updates)})
		}
	}
	return UpdateLayout(ctx, db, 0, updates)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WidgetData runs the provider for typ with the given settings.
func WidgetData(ctx context.Context, db *sql.DB, typ, asOf string, raw json.RawMessage) (any, error) {
	p, ok := providers[typ]
	if !ok {
		return nil, apperr.NotFound("widget type " + typ)
	}
	var s Settings
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.New(apperr.ErrInvalid, "bad widget settings: "+err.Error())
		}
	}
	return p(ctx, db, asOf, s)
}

// WidgetResult is one widget in a summary. A provider failure is reported
// in Error so one broken widget does not blank the dashboard.
type WidgetResult struct {
	WidgetType string `json:"widget_type"`
	Position   int    `json:"position"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary computes every enabled widget in userID's layout.
func Summary(ctx context.Context, db *sql.DB, userID int, asOf string) ([]WidgetResult, error) {
	layout, err := GetLayout(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	out := []WidgetResult{}
	for _, w := range layout {
		if !w.Enabled || !Known(w.WidgetType) {
			continue
		}
		res := WidgetResult{WidgetType: w.WidgetType, Position: w.Position}
		data, err := WidgetData(ctx, db, w.WidgetType, asOf, w.Settings)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Data = data
		}
		out = append(out, res)
	}
	return out, nil
}

// Providers

type salesData struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Total     decimal.Decimal `json:"total"`
	Invoices  int             `json:"invoices"`
	PriorFrom string          `json:"prior_from"`
	PriorTo   string          `json:"prior_to"`
	Prior     decimal.Decimal `json:"prior_total"`
}

// salesSummary compares the last Days (default 30) of sales with the
// period before.
func salesSummary(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error) {
	to, err := time.Parse(database.DateLayout, asOf)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalid, "bad as-of date")
	}
	days := s.Days
	if days <= 0 {
		days = 30
	}
	from := to.AddDate(0, 0, -(days - 1))
	priorTo := from.AddDate(0, 0, -1)
	priorFrom := priorTo.AddDate(0, 0, -(days - 1))

	d := salesData{From: from.Format(database.DateLayout), To: asOf,
		PriorFrom: priorFrom.Format(database.DateLayout), PriorTo: priorTo.Format(database.DateLayout)}
	if d.Total, d.Invoices, err = sales.SalesTotal(ctx, db, d.From, d.To); err != nil {
		return nil, err
	}
	if d.Prior, _, err = sales.SalesTotal(ctx, db, d.PriorFrom, d.PriorTo); err != nil {
		return nil, err
	}
	return d, nil
}

type outstandingData struct {
	Balance decimal.Decimal   `json:"balance"`
	Aging   models.AgingRow   `json:"aging"`
	Parties []models.AgingRow `json:"top_parties"`
}

func outstanding(report models.AgingReport, balance decimal.Decimal, limit int) outstandingData {
	parties := append([]models.AgingRow{}, report.Rows...)
	sort.SliceStable(parties, func(i, j int) bool { return parties[i].Total.GreaterThan(parties[j].Total) })
	if len(parties) > limit {
		parties = parties[:limit]
	}
	return outstandingData{Balance: balance, Aging: report.Totals, Parties: parties}
}

func payablesOutstanding(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error) {
	report, err := purchasing.PayablesAging(ctx, db, asOf)
	if err != nil {
		return nil, err
	}
	bal, err := ledger.AccountBalance(ctx, db, ledger.AccountPayable, asOf)
	if err != nil {
		return nil, err
	}
	return outstanding(report, bal, s.limit(5)), nil
}

func receivablesOutstanding(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error) {
	report, err := sales.ReceivablesAging(ctx, db, asOf)
	if err != nil {
		return nil, err
	}
	bal, err := ledger.AccountBalance(ctx, db, ledger.AccountReceivable, asOf)
	if err != nil {
		return nil, err
	}
	return outstanding(report, bal, s.limit(5)), nil
}

type cashData struct {
	Cash  decimal.Decimal `json:"cash"`
	Bank  decimal.Decimal `json:"bank"`
	Total decimal.Decimal `json:"total"`
}

func cashPosition(ctx context.Context, db *sql.DB, asOf string, _ Settings) (any, error) {
	cash, err := ledger.AccountBalance(ctx, db, ledger.AccountCash, asOf)
	if err != nil {
		return nil, err
	}
	bank, err := ledger.AccountBalance(ctx, db, ledger.AccountBank, asOf)
	if err != nil {
		return nil, err
	}
	return cashData{Cash: cash, Bank: bank, Total: cash.Add(bank)}, nil
}

type lowStockData struct {
	Count int                 `json:"count"`
	Items []models.StockLevel `json:"items"`
}

func lowStock(ctx context.Context, db *sql.DB, _ string, s Settings) (any, error) {
	items, err := inventory.LowStock(ctx, db)
	if err != nil {
		return nil, err
	}
	d := lowStockData{Count: len(items), Items: items}
	if n := s.limit(10); len(d.Items) > n {
		d.Items = d.Items[:n]
	}
	return d, nil
}

type fleetData struct {
	Vehicles        map[string]int  `json:"vehicles"`
	TripsInTransit  int             `json:"trips_in_transit"`
	TripsPlanned    int             `json:"trips_planned"`
	ExpiringLicence []models.Driver `json:"expiring_licences"`
}

// fleetStatus counts vehicles by status and lists licences expiring within
// Days (default 30).
func fleetStatus(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error) {
	vehicles, err := fleet.ListVehicles(ctx, db, "")
	if err != nil {
		return nil, err
	}
	d := fleetData{Vehicles: map[string]int{
		fleet.VehicleAvailable: 0, fleet.VehicleOnTrip: 0, fleet.VehicleMaintenance: 0, fleet.VehicleRetired: 0,
	}}
	for _, v := range vehicles {
		d.Vehicles[v.Status]++
	}
	inTransit, err := fleet.ListTrips(ctx, db, fleet.TripFilter{Status: fleet.TripInTransit})
	if err != nil {
		return nil, err
	}
	planned, err := fleet.ListTrips(ctx, db, fleet.TripFilter{Status: fleet.TripPlanned})
	if err != nil {
		return nil, err
	}
	d.TripsInTransit, d.TripsPlanned = len(inTransit), len(planned)

	day, err := time.Parse(database.DateLayout, asOf)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalid, "bad as-of date")
	}
	days := s.Days
	if days <= 0 {
		days = 30
	}
	if d.ExpiringLicence, err = fleet.ExpiringLicences(ctx, db, day.AddDate(0, 0, days).Format(database.DateLayout)); err != nil {
		return nil, err
	}
	return d, nil
}

func recentPurchases(ctx context.Context, db *sql.DB, _ string, s Settings) (any, error) {
	list, _, err := purchasing.ListPurchases(ctx, db, purchasing.Filter{Limit: s.limit(5)})
	return list, err
}

type shipmentsData struct {
	Shipments []models.WheatShipment `json:"shipments"`
	LastRun   *models.ScrapeRun      `json:"last_run"`
}

func wheatShipments(ctx context.Context, db *sql.DB, _ string, s Settings) (any, error) {
	list, err := scraper.ListShipments(ctx, db, scraper.ShipmentFilter{Limit: s.limit(10)})
	if err != nil {
		return nil, err
	}
	runs, err := scraper.ListRuns(ctx, db, 1)
	if err != nil {
		return nil, err
	}
	d := shipmentsData{Shipments: list}
	if len(runs) > 0 {
		d.LastRun = &runs[0]
	}
	return d, nil
}

type customerTotal struct {
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Invoices     int             `json:"invoices"`
	Total        decimal.Decimal `json:"total"`
}

// topCustomers ranks customers by posted net sales over the last Days
// (default 365).
func topCustomers(ctx context.Context, db *sql.DB, asOf string, s Settings) (any, error) {
	to, err := time.Parse(database.DateLayout, asOf)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalid, "bad as-of date")
	}
	days := s.Days
	if days <= 0 {
		days = 365
	}
	from := to.AddDate(0, 0, -(days - 1)).Format(database.DateLayout)

	rows, err := db.QueryContext(ctx, `SELECT i.customer_id, c.name, i.net_total
		FROM sales_invoices i JOIN customers c ON c.id = i.customer_id
		WHERE i.status IN ('posted', 'partially_paid', 'paid') AND i.invoice_date >= ? AND i.invoice_date <= ?`, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("top customers: %w", err)
	}
	defer rows.Close()
	byCustomer := map[string]*customerTotal{}
	for rows.Next() {
		var id, name string
		var net decimal.Decimal
		if err := rows.Scan(&id, &name, &net); err != nil {
			return nil, err
		}
		ct, ok := byCustomer[id]
		if !ok {
			ct = &customerTotal{CustomerID: id, CustomerName: name, Total: decimal.Zero}
			byCustomer[id] = ct
		}
		ct.Invoices++
		ct.Total = ct.Total.Add(net)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]customerTotal, 0, len(byCustomer))
	for _, ct := range byCustomer {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	if n := s.limit(5); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
