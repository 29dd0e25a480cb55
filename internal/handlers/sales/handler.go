// Package sales serves customers, sales invoices and receivables.
package sales

import "millops/internal/handlers/common"

// Handler holds dependencies for sales handlers.
type Handler struct {
	common.Base
}
