package admin_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"millops/internal/auth"
	"millops/internal/handlers/admin"
	"millops/internal/models"
	"millops/internal/testutil"
)

func TestLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateTestUser(t, db, "retired", "Password-123!", "clerk", false)
	router, _ := newRouter(t, db, nil)

	tests := []struct {
		name     string
		username string
		password string
		status   int
	}{
		{"valid", "admin", "changeme", http.StatusOK},
		{"wrong password", "admin", "letmein", http.StatusUnauthorized},
		{"unknown user", "ghost", "changeme", http.StatusUnauthorized},
		{"disabled", "retired", "Password-123!", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, testutil.JSONRequest("POST", "/auth/login", admin.LoginRequest{Username: tt.username, Password: tt.password}))
			testutil.AssertStatus(t, w, tt.status)
			var cookie *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == auth.SessionCookie {
					cookie = c
				}
			}
			if (cookie != nil) != (tt.status == http.StatusOK) {
				t.Errorf("Expected session cookie only on success, got %v", cookie)
			}
			if cookie != nil && !cookie.HttpOnly {
				t.Error("Expected HttpOnly session cookie")
			}
		})
	}

	var n int
	db.QueryRow("SELECT COUNT(*) FROM audit_log WHERE action = 'login' AND username = 'admin'").Scan(&n)
	if n != 1 {
		t.Errorf("Expected 1 login audit entry, got %d", n)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router, _ := newRouter(t, db, nil)

	for i := 0; i < auth.MaxFailedLoginAttempts; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, testutil.JSONRequest("POST", "/auth/login", admin.LoginRequest{Username: "admin", Password: "nope"}))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("POST", "/auth/login", admin.LoginRequest{Username: "admin", Password: "changeme"}))
	testutil.AssertStatus(t, w, http.StatusForbidden)
}

func TestLogoutEndsSession(t *testing.T) {
	db := testutil.SetupTestDB(t)
	token := testutil.LoginAdmin(t, db)
	router, _ := newRouter(t, db, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.AuthedRequest("POST", "/auth/logout", nil, token))
	testutil.AssertStatus(t, w, http.StatusOK)

	if _, _, err := auth.LookupSession(t.Context(), db, token); err == nil {
		t.Error("Expected session to be gone after logout")
	}
}

func TestMe(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router, _ := newRouter(t, db, &auth.Identity{UserID: 1, Username: "admin", Role: "admin"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/auth/me", nil))
	testutil.AssertStatus(t, w, http.StatusOK)
	var u models.User
	testutil.DecodeEnvelope(t, w, &u)
	if u.Username != "admin" || u.Role != "admin" {
		t.Errorf("Expected admin user, got %+v", u)
	}

	anon, _ := newRouter(t, db, nil)
	w = httptest.NewRecorder()
	anon.ServeHTTP(w, httptest.NewRequest("GET", "/auth/me", nil))
	testutil.AssertStatus(t, w, http.StatusUnauthorized)
}
