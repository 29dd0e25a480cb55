package admin_test

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"millops/internal/auth"
	"millops/internal/handlers/admin"
	"millops/internal/handlers/common"
	"millops/internal/testutil"
)

// newRouter mounts the admin handlers. Requests carry the identity set by
// as, standing in for the session middleware.
func newRouter(t *testing.T, db *sql.DB, as *auth.Identity) (http.Handler, *auth.PermCache) {
	t.Helper()
	pc := auth.NewPermCache()
	if err := pc.Refresh(context.Background(), db); err != nil {
		t.Fatalf("Failed to load permissions: %v", err)
	}
	h := &admin.Handler{Base: common.Base{DB: db}, PermCache: pc}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if as != nil {
				req = testutil.WithUser(req, as.UserID, as.Username, as.Role)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/me", h.HandleMe)
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Put("/users/{id}", h.UpdateUser)
	r.Get("/permissions", h.ListPermissions)
	r.Put("/permissions/{role}", h.SetPermissions)
	return r, pc
}
