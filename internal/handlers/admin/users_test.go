package admin_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"millops/internal/auth"
	"millops/internal/models"
	"millops/internal/testutil"
)

func TestCreateAndUpdateUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router, _ := newRouter(t, db, &auth.Identity{UserID: 1, Username: "admin", Role: "admin"})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("POST", "/users", auth.UserInput{Username: "sam", Role: "driver", Password: "Password-123!"}))
	testutil.AssertStatus(t, w, http.StatusCreated)
	var u models.User
	testutil.DecodeEnvelope(t, w, &u)

	tests := []struct {
		name   string
		in     auth.UserInput
		status int
	}{
		{"duplicate", auth.UserInput{Username: "sam", Password: "Password-123!"}, http.StatusConflict},
		{"weak password", auth.UserInput{Username: "kim", Password: "short"}, http.StatusBadRequest},
		{"bad role", auth.UserInput{Username: "kim", Role: "owner", Password: "Password-123!"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, testutil.JSONRequest("POST", "/users", tt.in))
			testutil.AssertStatus(t, w, tt.status)
		})
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", fmt.Sprintf("/users/%d", u.ID), auth.UserInput{Role: "manager"}))
	testutil.AssertStatus(t, w, http.StatusOK)
	testutil.DecodeEnvelope(t, w, &u)
	if u.Role != "manager" {
		t.Errorf("Expected manager, got %s", u.Role)
	}

	off := false
	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/users/1", auth.UserInput{Active: &off}))
	testutil.AssertStatus(t, w, http.StatusConflict)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/users/1", auth.UserInput{Role: "clerk"}))
	testutil.AssertStatus(t, w, http.StatusConflict)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/users/abc", auth.UserInput{}))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}

func TestSetPermissions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	router, pc := newRouter(t, db, &auth.Identity{UserID: 1, Username: "admin", Role: "admin"})

	perms := []auth.PermissionEntry{
		{Module: auth.ModuleFleet, Action: auth.PermActionView},
		{Module: auth.ModuleShipments, Action: auth.PermActionEdit},
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/permissions/driver", perms))
	testutil.AssertStatus(t, w, http.StatusOK)
	if !pc.HasPermission("driver", auth.ModuleShipments, auth.PermActionEdit) {
		t.Error("Expected driver to edit shipments")
	}
	if pc.HasPermission("driver", auth.ModuleLedger, auth.PermActionView) {
		t.Error("Expected driver to lose ledger access")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/permissions/driver", []auth.PermissionEntry{{Module: "payroll", Action: auth.PermActionView}}))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, testutil.JSONRequest("PUT", "/permissions/owner", perms))
	testutil.AssertStatus(t, w, http.StatusBadRequest)
}
