// Package admin serves authentication, user management, role permissions
// and database backups.
package admin

import (
	"millops/internal/auth"
	"millops/internal/handlers/common"
)

// Handler holds dependencies for admin handlers.
type Handler struct {
	common.Base
	PermCache *auth.PermCache

	BackupDir       string
	BackupRetention int
}
