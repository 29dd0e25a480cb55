package auth

import (
	"context"
	"database/sql"
	"time"

	"millops/internal/database"
)

const (
	MaxFailedLoginAttempts = 10
	AccountLockoutDuration = 15 * time.Minute
)

// IncrementFailedLoginAttempts increments the failed login counter and locks
// the account once the limit is reached.
func IncrementFailedLoginAttempts(ctx context.Context, db *sql.DB, username string) error {
	lockUntil := time.Now().UTC().Add(AccountLockoutDuration).Format(database.TimeLayout)
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= ? THEN ?
		        ELSE locked_until
		    END
		WHERE username = ?`, MaxFailedLoginAttempts, lockUntil, username)
	return err
}

// ResetFailedLoginAttempts resets the failed login counter after successful login.
func ResetFailedLoginAttempts(ctx context.Context, db *sql.DB, username string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL
		WHERE username = ?`, username)
	return err
}

// IsAccountLocked checks if an account is currently locked. An expired lock
// is cleared on the way out.
func IsAccountLocked(ctx context.Context, db *sql.DB, username string) (bool, error) {
	var lockedUntil sql.NullString
	err := db.QueryRowContext(ctx, "SELECT locked_until FROM users WHERE username = ?", username).Scan(&lockedUntil)
	if err != nil {
		return false, err
	}
	if !lockedUntil.Valid || lockedUntil.String == "" {
		return false, nil
	}

	var lockTime time.Time
	var parseErr error
	for _, format := range []string{database.TimeLayout, time.RFC3339, time.RFC3339Nano} {
		lockTime, parseErr = time.Parse(format, lockedUntil.String)
		if parseErr == nil {
			break
		}
	}
	if parseErr != nil {
		return false, nil
	}

	if time.Now().UTC().Before(lockTime) {
		return true, nil
	}
	return false, ResetFailedLoginAttempts(ctx, db, username)
}
