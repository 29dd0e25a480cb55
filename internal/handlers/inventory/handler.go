// Package inventory serves the product catalog, price rules and stock.
package inventory

import (
	"github.com/shopspring/decimal"

	"millops/internal/handlers/common"
)

// Handler holds dependencies for catalog, pricing and stock handlers.
type Handler struct {
	common.Base
	// DefaultTaxRate applies to new products created without a tax rate.
	DefaultTaxRate decimal.Decimal
}

// maxUpload caps spreadsheet imports.
const maxUpload = 10 << 20
