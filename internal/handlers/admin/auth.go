package admin

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"millops/internal/audit"
	"millops/internal/auth"
	"millops/internal/handlers/common"
	"millops/internal/response"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin authenticates a user and sets the session cookie.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !common.Decode(w, r, &req) {
		return
	}
	u, token, expires, err := auth.Login(r.Context(), h.DB, req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		common.Logger(r).Info("login failed", zap.String("username", req.Username))
		response.Err(w, err.Error(), http.StatusUnauthorized)
		return
	case errors.Is(err, auth.ErrAccountLocked), errors.Is(err, auth.ErrAccountDisabled):
		response.Err(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		response.Fail(w, r, err)
		return
	}
	auth.SetSessionCookie(w, token, expires)
	audit.LogAudit(r.Context(), h.DB, nil, u.Username, audit.ActionLogin, "admin", u.Username, "Logged in")
	response.JSON(w, map[string]any{"user": u, "expires_at": expires})
}

// HandleLogout ends the caller's session.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.SessionCookie); err == nil {
		if err := auth.DeleteSession(r.Context(), h.DB, c.Value); err != nil {
			response.Fail(w, r, err)
			return
		}
	}
	auth.ClearSessionCookie(w)
	response.JSON(w, map[string]string{"status": "ok"})
}

// HandleMe returns the caller's user record.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		response.Err(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := auth.GetUser(r.Context(), h.DB, id.UserID)
	if err != nil {
		response.Fail(w, r, err)
		return
	}
	response.JSON(w, u)
}

// ChangePasswordRequest is the body of POST /auth/password.
type ChangePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

// HandleChangePassword changes the caller's password and ends their other
// sessions.
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		response.Err(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req ChangePasswordRequest
	if !common.Decode(w, r, &req) {
		return
	}
	if err := auth.ChangePassword(r.Context(), h.DB, id.UserID, id.Token, req.Current, req.New); err != nil {
		response.Fail(w, r, err)
		return
	}
	h.Audit(r, audit.ActionUpdate, "admin", id.Username, "Changed password")
	response.JSON(w, map[string]string{"status": "ok"})
}
