package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"millops/internal/apperr"
	"millops/internal/auth"
	"millops/internal/database"
	"millops/internal/testutil"
)

func TestLoginSuccess(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	u, token, expires, err := auth.Login(ctx, db, "admin", "changeme")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Username != "admin" || u.Role != auth.RoleAdmin {
		t.Errorf("Unexpected user %+v", u)
	}
	if token == "" || time.Until(expires) < 23*time.Hour {
		t.Errorf("Expected 24h session, got token=%q expires=%v", token, expires)
	}

	id, _, err := auth.LookupSession(ctx, db, token)
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if id.UserID != u.ID || !id.Active {
		t.Errorf("Unexpected identity %+v", id)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := testutil.SetupTestDB(t)
	_, _, _, err := auth.Login(context.Background(), db, "admin", "nope")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	_, _, _, err = auth.Login(context.Background(), db, "ghost", "nope")
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	for i := 0; i < auth.MaxFailedLoginAttempts; i++ {
		auth.Login(ctx, db, "admin", "wrong-password")
	}
	_, _, _, err := auth.Login(ctx, db, "admin", "changeme")
	if !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("Expected ErrAccountLocked, got %v", err)
	}

	// expire the lock
	past := time.Now().UTC().Add(-time.Minute).Format(database.TimeLayout)
	db.Exec("UPDATE users SET locked_until = ? WHERE username = 'admin'", past)
	if _, _, _, err := auth.Login(ctx, db, "admin", "changeme"); err != nil {
		t.Errorf("Expected login after lock expiry, got %v", err)
	}
	var attempts int
	db.QueryRow("SELECT failed_login_attempts FROM users WHERE username = 'admin'").Scan(&attempts)
	if attempts != 0 {
		t.Errorf("Expected attempts reset, got %d", attempts)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CreateTestUser(t, db, "former", "Password-123!", "clerk", false)
	_, _, _, err := auth.Login(context.Background(), db, "former", "Password-123!")
	if !errors.Is(err, auth.ErrAccountDisabled) {
		t.Errorf("Expected ErrAccountDisabled, got %v", err)
	}
}

func TestSessionInactivityTimeout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	token := testutil.LoginAdmin(t, db)
	stale := time.Now().UTC().Add(-31 * time.Minute).Format(database.TimeLayout)
	db.Exec("UPDATE sessions SET last_activity = ? WHERE token = ?", stale, token)

	_, _, err := auth.LookupSession(context.Background(), db, token)
	if !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("Expected ErrSessionExpired, got %v", err)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM sessions WHERE token = ?", token).Scan(&count)
	if count != 0 {
		t.Error("Expected idle session to be deleted")
	}
}

func TestSessionUnknownToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	if _, _, err := auth.LookupSession(context.Background(), db, "missing"); !errors.Is(err, auth.ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestCreateAndUpdateUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	u, err := auth.CreateUser(ctx, db, auth.UserInput{Username: "maria", DisplayName: "Maria", Role: "clerk", Password: "Grain-Silo-42"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !u.Active || u.Role != "clerk" {
		t.Errorf("Unexpected user %+v", u)
	}

	if _, err := auth.CreateUser(ctx, db, auth.UserInput{Username: "maria", Password: "Grain-Silo-42"}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected conflict for duplicate username, got %v", err)
	}
	if _, err := auth.CreateUser(ctx, db, auth.UserInput{Username: "weak", Password: "short"}); err == nil {
		t.Error("Expected weak password to be rejected")
	}
	if _, err := auth.CreateUser(ctx, db, auth.UserInput{Username: "boss", Role: "owner", Password: "Grain-Silo-42"}); err == nil {
		t.Error("Expected unknown role to be rejected")
	}

	token := testutil.CreateTestSession(t, db, u.ID)
	inactive := false
	u, err = auth.UpdateUser(ctx, db, u.ID, auth.UserInput{Role: "manager", Active: &inactive})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if u.Role != "manager" || u.Active || u.DisplayName != "Maria" {
		t.Errorf("Unexpected updated user %+v", u)
	}
	if _, _, err := auth.LookupSession(ctx, db, token); err == nil {
		t.Error("Expected sessions of deactivated user to be removed")
	}
}

func TestChangePassword(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	uid := testutil.CreateTestUser(t, db, "lee", "Password-123!", "clerk", true)
	keep := testutil.CreateTestSession(t, db, uid)
	other := testutil.CreateTestSession(t, db, uid)

	if err := auth.ChangePassword(ctx, db, uid, keep, "wrong", "Another-Pass-9"); !errors.Is(err, auth.ErrWrongPassword) {
		t.Errorf("Expected ErrWrongPassword, got %v", err)
	}
	if err := auth.ChangePassword(ctx, db, uid, keep, "Password-123!", "Fleet-Manager-1"); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("Expected a password containing the username to be rejected, got %v", err)
	}
	if err := auth.ChangePassword(ctx, db, uid, keep, "Password-123!", "Another-Pass-9"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, _, err := auth.LookupSession(ctx, db, other); err == nil {
		t.Error("Expected other sessions to be dropped")
	}
	if _, _, err := auth.LookupSession(ctx, db, keep); err != nil {
		t.Errorf("Expected current session kept, got %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	created, err := auth.EnsureAdmin(context.Background(), db, "root", "Password-123!")
	if err != nil || created {
		t.Errorf("Expected no admin created when users exist, got %v %v", created, err)
	}
}
