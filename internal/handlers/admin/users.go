package admin

import (
	"net/http"

	"millops/internal/audit"
	"millops/internal/auth"
	"millops/internal/handlers/common"
	"millops/internal/response"
)

// ListUsers returns every user.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := auth.ListUsers(r.Context(), h.DB)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, users)
}

// CreateUser adds a user.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in auth.UserInput
	if !common.Decode(w, r, &in) {
		return
	}
	u, err := auth.CreateUser(r.Context(), h.DB, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionCreate, "admin", u.Username, "Created user "+u.Username+" ("+u.Role+")")
	response.Created(w, u)
}

// UpdateUser changes a user's role, name, active flag or password. Admins
// cannot deactivate or demote themselves.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IntParam(w, r, "id")
	if !ok {
		return
	}
	var in auth.UserInput
	if !common.Decode(w, r, &in) {
		return
	}
	if me := common.Identity(r); me.UserID == id {
		if (in.Active != nil && !*in.Active) || (in.Role != "" && in.Role != me.Role) {
			response.Err(w, "cannot deactivate or change the role of your own account", http.StatusConflict)
			return
		}
	}
	u, err := auth.UpdateUser(r.Context(), h.DB, id, in)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "admin", u.Username, "Updated user "+u.Username)
	response.JSON(w, u)
}
