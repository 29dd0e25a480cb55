package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

type User struct {
	ID          int     `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	Role        string  `json:"role"`
	Active      bool    `json:"active"`
	LastLogin   *string `json:"last_login"`
	CreatedAt   string  `json:"created_at"`
}

// Parties

type Customer struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	ContactName      string          `json:"contact_name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	Address          string          `json:"address"`
	TaxNumber        string          `json:"tax_number"`
	PriceTier        string          `json:"price_tier"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	PaymentTermsDays int             `json:"payment_terms_days"`
	Status           string          `json:"status"`
	Notes            string          `json:"notes"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

type Supplier struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ContactName      string `json:"contact_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	TaxNumber        string `json:"tax_number"`
	PaymentTermsDays int    `json:"payment_terms_days"`
	Status           string `json:"status"`
	Notes            string `json:"notes"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Ledger

type Account struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ParentCode string `json:"parent_code"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at"`
}

type JournalEntry struct {
	ID           string            `json:"id"`
	EntryDate    string            `json:"entry_date"`
	Memo         string            `json:"memo"`
	SourceModule string            `json:"source_module"`
	SourceID     string            `json:"source_id"`
	PostedBy     string            `json:"posted_by"`
	ReversalOf   *string           `json:"reversal_of"`
	ReversedBy   *string           `json:"reversed_by,omitempty"`
	CreatedAt    string            `json:"created_at"`
	Lines        []TransactionLine `json:"lines"`
}

type TransactionLine struct {
	ID          int             `json:"id"`
	EntryID     string          `json:"entry_id"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	PartyID     string          `json:"party_id"`
	Description string          `json:"description"`
}

// LedgerLine is one row of an account ledger with its running balance.
type LedgerLine struct {
	EntryID     string          `json:"entry_id"`
	EntryDate   string          `json:"entry_date"`
	Memo        string          `json:"memo"`
	Source      string          `json:"source"`
	PartyID     string          `json:"party_id"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

type AccountLedger struct {
	Account        Account         `json:"account"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Lines          []LedgerLine    `json:"lines"`
}

type TrialBalanceRow struct {
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	Type        string          `json:"type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

type TrialBalance struct {
	AsOf        string            `json:"as_of"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

// Catalog, pricing, inventory

type Category struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID *int   `json:"parent_id"`
}

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	CategoryID   *int            `json:"category_id"`
	Unit         string          `json:"unit"`
	Stocked      bool            `json:"stocked"`
	ListPrice    decimal.Decimal `json:"list_price"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	ReorderPoint float64         `json:"reorder_point"`
	ReorderQty   float64         `json:"reorder_qty"`
	Active       bool            `json:"active"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

type PriceRule struct {
	ID            int             `json:"id"`
	ProductID     string          `json:"product_id"`
	Tier          string          `json:"tier"`
	MinQty        float64         `json:"min_qty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	EffectiveFrom string          `json:"effective_from"`
	EffectiveTo   string          `json:"effective_to"`
	Notes         string          `json:"notes"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

type ResolvedPrice struct {
	ProductID string          `json:"product_id"`
	Tier      string          `json:"tier"`
	Qty       float64         `json:"qty"`
	Date      string          `json:"date"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Source    string          `json:"source"`
	RuleID    *int            `json:"rule_id"`
}

type StockLevel struct {
	ProductID    string          `json:"product_id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Location     string          `json:"location"`
	Qty          float64         `json:"qty"`
	ReorderPoint float64         `json:"reorder_point"`
	ReorderQty   float64         `json:"reorder_qty"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	UpdatedAt    string          `json:"updated_at"`
}

type StockMovement struct {
	ID        int             `json:"id"`
	ProductID string          `json:"product_id"`
	Location  string          `json:"location"`
	Type      string          `json:"type"`
	Qty       float64         `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Reference string          `json:"reference"`
	Notes     string          `json:"notes"`
	CreatedBy string          `json:"created_by"`
	CreatedAt string          `json:"created_at"`
}

// Purchasing

// Document statuses shared by purchases and sales invoices.
const (
	StatusDraft         = "draft"
	StatusPosted        = "posted"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusVoid          = "void"
)

type Purchase struct {
	ID             string          `json:"id"`
	SupplierID     string          `json:"supplier_id"`
	SupplierName   string          `json:"supplier_name,omitempty"`
	Reference      string          `json:"reference"`
	PurchaseDate   string          `json:"purchase_date"`
	DueDate        string          `json:"due_date"`
	Status         string          `json:"status"`
	Location       string          `json:"location"`
	Notes          string          `json:"notes"`
	NetTotal       decimal.Decimal `json:"net_total"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	GrossTotal     decimal.Decimal `json:"gross_total"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	JournalEntryID string          `json:"journal_entry_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
	PostedAt       *string         `json:"posted_at"`
	Lines          []PurchaseLine  `json:"lines"`
}

type PurchaseLine struct {
	ID          int             `json:"id"`
	PurchaseID  string          `json:"purchase_id"`
	ProductID   string          `json:"product_id"`
	Description string          `json:"description"`
	Qty         float64         `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	LineNet     decimal.Decimal `json:"line_net"`
	LineTax     decimal.Decimal `json:"line_tax"`
}

type SupplierPayment struct {
	ID             int             `json:"id"`
	PurchaseID     string          `json:"purchase_id"`
	SupplierID     string          `json:"supplier_id"`
	PaymentDate    string          `json:"payment_date"`
	Amount         decimal.Decimal `json:"amount"`
	AccountCode    string          `json:"account_code"`
	Reference      string          `json:"reference"`
	JournalEntryID string          `json:"journal_entry_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

// Sales invoicing

type SalesInvoice struct {
	ID             string             `json:"id"`
	CustomerID     string             `json:"customer_id"`
	CustomerName   string             `json:"customer_name,omitempty"`
	InvoiceDate    string             `json:"invoice_date"`
	DueDate        string             `json:"due_date"`
	Status         string             `json:"status"`
	Location       string             `json:"location"`
	Notes          string             `json:"notes"`
	NetTotal       decimal.Decimal    `json:"net_total"`
	TaxTotal       decimal.Decimal    `json:"tax_total"`
	GrossTotal     decimal.Decimal    `json:"gross_total"`
	AmountPaid     decimal.Decimal    `json:"amount_paid"`
	Outstanding    decimal.Decimal    `json:"outstanding"`
	JournalEntryID string             `json:"journal_entry_id"`
	CreatedBy      string             `json:"created_by"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
	PostedAt       *string            `json:"posted_at"`
	Lines          []SalesInvoiceLine `json:"lines"`
}

type SalesInvoiceLine struct {
	ID          int             `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	ProductID   string          `json:"product_id"`
	Description string          `json:"description"`
	Qty         float64         `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	LineNet     decimal.Decimal `json:"line_net"`
	LineTax     decimal.Decimal `json:"line_tax"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type CustomerReceipt struct {
	ID             int             `json:"id"`
	InvoiceID      string          `json:"invoice_id"`
	CustomerID     string          `json:"customer_id"`
	ReceiptDate    string          `json:"receipt_date"`
	Amount         decimal.Decimal `json:"amount"`
	AccountCode    string          `json:"account_code"`
	Reference      string          `json:"reference"`
	JournalEntryID string          `json:"journal_entry_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

// AgingRow buckets one party's open documents by days past the due date.
type AgingRow struct {
	PartyID   string          `json:"party_id"`
	PartyName string          `json:"party_name"`
	Current   decimal.Decimal `json:"current"`
	Days31_60 decimal.Decimal `json:"days_31_60"`
	Days61_90 decimal.Decimal `json:"days_61_90"`
	Over90    decimal.Decimal `json:"over_90"`
	Total     decimal.Decimal `json:"total"`
}

type AgingReport struct {
	AsOf   string     `json:"as_of"`
	Rows   []AgingRow `json:"rows"`
	Totals AgingRow   `json:"totals"`
}

// Statement is a party's ledger on a control account.
type Statement struct {
	PartyID        string          `json:"party_id"`
	PartyName      string          `json:"party_name"`
	AccountCode    string          `json:"account_code"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Lines          []LedgerLine    `json:"lines"`
}

// Logistics and fleet

type Vehicle struct {
	ID           string  `json:"id"`
	Registration string  `json:"registration"`
	Make         string  `json:"make"`
	Model        string  `json:"model"`
	CapacityKg   float64 `json:"capacity_kg"`
	Status       string  `json:"status"`
	OdometerKm   float64 `json:"odometer_km"`
	Notes        string  `json:"notes"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type Driver struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LicenceNumber string `json:"licence_number"`
	LicenceExpiry string `json:"licence_expiry"`
	Phone         string `json:"phone"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type Trip struct {
	ID            string   `json:"id"`
	VehicleID     string   `json:"vehicle_id"`
	DriverID      string   `json:"driver_id"`
	Origin        string   `json:"origin"`
	Destination   string   `json:"destination"`
	PlannedDate   string   `json:"planned_date"`
	Status        string   `json:"status"`
	StartOdometer *float64 `json:"start_odometer"`
	EndOdometer   *float64 `json:"end_odometer"`
	CargoKg       float64  `json:"cargo_kg"`
	Notes         string   `json:"notes"`
	StartedAt     *string  `json:"started_at"`
	CompletedAt   *string  `json:"completed_at"`
	CreatedAt     string   `json:"created_at"`
	ShipmentIDs   []string `json:"shipment_ids"`
}

type FuelLog struct {
	ID             int             `json:"id"`
	VehicleID      string          `json:"vehicle_id"`
	LogDate        string          `json:"log_date"`
	Litres         float64         `json:"litres"`
	Cost           decimal.Decimal `json:"cost"`
	OdometerKm     float64         `json:"odometer_km"`
	AccountCode    string          `json:"account_code"`
	JournalEntryID string          `json:"journal_entry_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
}

type MaintenanceRecord struct {
	ID             int             `json:"id"`
	VehicleID      string          `json:"vehicle_id"`
	ServiceDate    string          `json:"service_date"`
	Description    string          `json:"description"`
	Cost           decimal.Decimal `json:"cost"`
	NextDueKm      float64         `json:"next_due_km"`
	Status         string          `json:"status"`
	JournalEntryID string          `json:"journal_entry_id"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at"`
	ClosedAt       *string         `json:"closed_at"`
}

type VehicleCostSummary struct {
	VehicleID       string          `json:"vehicle_id"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	FuelCost        decimal.Decimal `json:"fuel_cost"`
	FuelLitres      float64         `json:"fuel_litres"`
	MaintenanceCost decimal.Decimal `json:"maintenance_cost"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	DistanceKm      float64         `json:"distance_km"`
	CostPerKm       decimal.Decimal `json:"cost_per_km"`
	Trips           int             `json:"trips"`
}

type Shipment struct {
	ID           string         `json:"id"`
	Direction    string         `json:"direction"`
	CustomerID   string         `json:"customer_id"`
	SupplierID   string         `json:"supplier_id"`
	TripID       string         `json:"trip_id"`
	Status       string         `json:"status"`
	Location     string         `json:"location"`
	Notes        string         `json:"notes"`
	CreatedBy    string         `json:"created_by"`
	DispatchedAt *string        `json:"dispatched_at"`
	DeliveredAt  *string        `json:"delivered_at"`
	CreatedAt    string         `json:"created_at"`
	Lines        []ShipmentLine `json:"lines"`
}

type ShipmentLine struct {
	ID         int     `json:"id"`
	ShipmentID string  `json:"shipment_id"`
	ProductID  string  `json:"product_id"`
	Qty        float64 `json:"qty"`
}

// Scraped wheat shipments

type WheatShipment struct {
	ID             int     `json:"id"`
	Source         string  `json:"source"`
	Vessel         string  `json:"vessel"`
	Origin         string  `json:"origin"`
	Destination    string  `json:"destination"`
	QuantityTonnes float64 `json:"quantity_tonnes"`
	ShipmentDate   string  `json:"shipment_date"`
	ScrapedAt      string  `json:"scraped_at"`
}

type ScrapeRun struct {
	ID          int     `json:"id"`
	Source      string  `json:"source"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  *string `json:"finished_at"`
	RowsParsed  int     `json:"rows_parsed"`
	RowsSkipped int     `json:"rows_skipped"`
	Error       string  `json:"error"`
}

// Dashboard, notifications, audit

type DashboardWidget struct {
	ID         int             `json:"id"`
	UserID     int             `json:"user_id"`
	WidgetType string          `json:"widget_type"`
	Position   int             `json:"position"`
	Enabled    bool            `json:"enabled"`
	Settings   json.RawMessage `json:"settings"`
}

type Notification struct {
	ID        int     `json:"id"`
	Type      string  `json:"type"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Module    string  `json:"module"`
	RecordID  string  `json:"record_id"`
	ReadAt    *string `json:"read_at"`
	CreatedAt string  `json:"created_at"`
}

type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}
