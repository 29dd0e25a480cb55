package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

// Login verifies credentials, applying the failed-attempt lockout, and opens
// a session.
func Login(ctx context.Context, db *sql.DB, username, password string) (models.User, string, time.Time, error) {
	locked, err := IsAccountLocked(ctx, db, username)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, "", time.Time{}, err
	}
	if locked {
		return models.User{}, "", time.Time{}, ErrAccountLocked
	}

	var hash string
	u, err := scanUser(db.QueryRowContext(ctx, userSelect+" WHERE username = ?", username), &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, "", time.Time{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", time.Time{}, err
	}

	if !CheckPassword(hash, password) {
		IncrementFailedLoginAttempts(ctx, db, username)
		return models.User{}, "", time.Time{}, ErrInvalidCredentials
	}
	if !u.Active {
		return models.User{}, "", time.Time{}, ErrAccountDisabled
	}

	if err := ResetFailedLoginAttempts(ctx, db, username); err != nil {
		return models.User{}, "", time.Time{}, err
	}
	PurgeExpiredSessions(ctx, db)

	token, expires, err := CreateSession(ctx, db, u.ID)
	if err != nil {
		return models.User{}, "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	now := database.Now()
	db.ExecContext(ctx, "UPDATE users SET last_login = ? WHERE id = ?", now, u.ID)
	u.LastLogin = &now
	return u, token, expires, nil
}

const userSelect = "SELECT id, username, display_name, role, active, last_login, created_at, password_hash FROM users"

func scanUser(row interface{ Scan(...any) error }, hash *string) (models.User, error) {
	var u models.User
	var active int
	var lastLogin sql.NullString
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role, &active, &lastLogin, &u.CreatedAt, hash)
	u.Active = active == 1
	u.LastLogin = database.SP(lastLogin)
	return u, err
}

// GetUser returns a user by id.
func GetUser(ctx context.Context, db *sql.DB, id int) (models.User, error) {
	var hash string
	u, err := scanUser(db.QueryRowContext(ctx, userSelect+" WHERE id = ?", id), &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return u, apperr.NotFound(fmt.Sprintf("user %d", id))
	}
	return u, err
}

// ListUsers returns every user ordered by username.
func ListUsers(ctx context.Context, db *sql.DB) ([]models.User, error) {
	rows, err := db.QueryContext(ctx, userSelect+" ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []models.User{}
	for rows.Next() {
		var hash string
		u, err := scanUser(rows, &hash)
		if err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// UserInput is the body accepted by CreateUser and UpdateUser.
type UserInput struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
	Active      *bool  `json:"active"`
}

// CreateUser validates in and inserts a new user.
func CreateUser(ctx context.Context, db *sql.DB, in UserInput) (models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Role == "" {
		in.Role = RoleClerk
	}
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "username", in.Username)
	validation.ValidateMaxLength(ve, "username", in.Username, 64)
	validation.ValidateEnum(ve, "role", in.Role, validation.ValidRoles)
	if err := ValidatePasswordStrength(in.Password, in.Username); err != nil {
		ve.Add("password", err.Error())
	}
	if ve.HasErrors() {
		return models.User{}, ve
	}

	var exists int
	db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", in.Username).Scan(&exists)
	if exists > 0 {
		return models.User{}, apperr.New(apperr.ErrConflict, "username already exists")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	active := 1
	if in.Active != nil && !*in.Active {
		active = 0
	}
	res, err := db.ExecContext(ctx, "INSERT INTO users (username, password_hash, display_name, role, active, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		in.Username, hash, in.DisplayName, in.Role, active, database.Now())
	if err != nil {
		return models.User{}, err
	}
	id, _ := res.LastInsertId()
	return GetUser(ctx, db, int(id))
}

// UpdateUser changes display name, role, active flag and, when given, the
// password. Deactivating a user drops their sessions.
func UpdateUser(ctx context.Context, db *sql.DB, id int, in UserInput) (models.User, error) {
	current, err := GetUser(ctx, db, id)
	if err != nil {
		return current, err
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "role", in.Role, validation.ValidRoles)
	if in.Password != "" {
		if err := ValidatePasswordStrength(in.Password, current.Username); err != nil {
			ve.Add("password", err.Error())
		}
	}
	if ve.HasErrors() {
		return current, ve
	}

	if in.DisplayName == "" {
		in.DisplayName = current.DisplayName
	}
	if in.Role == "" {
		in.Role = current.Role
	}
	active := current.Active
	if in.Active != nil {
		active = *in.Active
	}
	activeInt := 0
	if active {
		activeInt = 1
	}

	if _, err := db.ExecContext(ctx, "UPDATE users SET display_name = ?, role = ?, active = ? WHERE id = ?",
		in.DisplayName, in.Role, activeInt, id); err != nil {
		return current, err
	}
	if in.Password != "" {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return current, err
		}
		if _, err := db.ExecContext(ctx, "UPDATE users SET password_hash = ?, failed_login_attempts = 0, locked_until = NULL WHERE id = ?", hash, id); err != nil {
			return current, err
		}
	}
	if !active {
		db.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", id)
	}
	return GetUser(ctx, db, id)
}

// EnsureAdmin creates the bootstrap admin user when no users exist.
func EnsureAdmin(ctx context.Context, db *sql.DB, username, password string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	_, err = db.ExecContext(ctx, "INSERT INTO users (username, password_hash, display_name, role, created_at) VALUES (?, ?, 'Administrator', 'admin', ?)",
		username, hash, database.Now())
	return err == nil, err
}
