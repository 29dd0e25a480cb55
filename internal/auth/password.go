package auth

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"millops/internal/apperr"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account temporarily locked due to too many failed login attempts")
	ErrAccountDisabled    = errors.New("account deactivated")
	ErrWrongPassword      = apperr.New(apperr.ErrInvalid, "current password is incorrect")
)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ChangePassword verifies the current password and stores the new one. All
// of the user's other sessions are dropped.
func ChangePassword(ctx context.Context, db *sql.DB, userID int, keepToken, current, next string) error {
	var hash, username string
	err := db.QueryRowContext(ctx, "SELECT password_hash, username FROM users WHERE id = ?", userID).Scan(&hash, &username)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("user")
	}
	if err != nil {
		return err
	}
	if !CheckPassword(hash, current) {
		return ErrWrongPassword
	}
	if err := ValidatePasswordStrength(next, username); err != nil {
		return apperr.New(apperr.ErrInvalid, err.Error())
	}
	newHash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", newHash, userID); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ? AND token != ?", userID, keepToken)
	return err
}
