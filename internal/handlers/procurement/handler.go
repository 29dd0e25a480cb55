// Package procurement serves suppliers, purchases and payables.
package procurement

import "millops/internal/handlers/common"

// Handler holds dependencies for procurement handlers.
type Handler struct {
	common.Base
}
