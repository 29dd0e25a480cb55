package validation

// Enum values. These MUST match the CHECK constraints in the migrations.
var (
	ValidRoles              = []string{"admin", "manager", "clerk", "driver", "readonly"}
	ValidPartyStatuses      = []string{"active", "inactive", "blocked"}
	ValidAccountTypes       = []string{"asset", "liability", "equity", "revenue", "expense"}
	ValidDocumentStatuses   = []string{"draft", "posted", "partially_paid", "paid", "void"}
	ValidMovementTypes      = []string{"receive", "issue", "adjust", "transfer_in", "transfer_out"}
	ValidVehicleStatuses    = []string{"available", "on_trip", "maintenance", "retired"}
	ValidDriverStatuses     = []string{"active", "inactive"}
	ValidTripStatuses       = []string{"planned", "in_transit", "completed", "cancelled"}
	ValidShipmentDirections = []string{"inbound", "outbound"}
	ValidShipmentStatuses   = []string{"pending", "dispatched", "delivered", "cancelled"}
	ValidSeverities         = []string{"info", "warning", "critical"}
	ValidPriceTiers         = []string{"standard", "wholesale", "distributor", "retail"}
	ValidWidgetTypes        = []string{
		"sales_summary", "payables_outstanding", "receivables_outstanding",
		"cash_position", "low_stock", "fleet_status", "recent_purchases",
		"wheat_shipments", "top_customers",
	}
)

// Contains reports whether value is one of allowed.
func Contains(allowed []string, value string) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}
