package admin

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/auth"
	"millops/internal/handlers/common"
	"millops/internal/response"
	"millops/internal/validation"
)

// ListPermissions returns the permissions of ?role=, or of every role.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if role := r.URL.Query().Get("role"); role != "" {
		response.JSON(w, h.PermCache.GetRolePermissions(role))
		return
	}
	out := map[string][]auth.PermissionEntry{}
	for _, role := range validation.ValidRoles {
		out[role] = h.PermCache.GetRolePermissions(role)
	}
	response.JSON(w, out)
}

// ListModules returns the permission modules and actions.
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, map[string][]string{"modules": auth.AllModules, "actions": auth.AllActions})
}

// SetPermissions replaces one role's permissions.
func (h *Handler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	role := common.Param(r, "role")
	var perms []auth.PermissionEntry
	if !common.Decode(w, r, &perms) {
		return
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "role", role, validation.ValidRoles)
	for _, p := range perms {
		validation.ValidateEnum(ve, "module", p.Module, auth.AllModules)
		validation.ValidateEnum(ve, "action", p.Action, auth.AllActions)
	}
	if err := ve.Err(); err != nil {
		response.Fail(w, r, err)
		return
	}
	if err := auth.SetRolePermissions(r.Context(), h.DB, h.PermCache, role, perms); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "admin", role, "Replaced permissions for role "+role)
	response.JSON(w, h.PermCache.GetRolePermissions(role))
}
