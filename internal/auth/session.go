package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"millops/internal/database"
)

const (
	// SessionCookie is the name of the session cookie.
	SessionCookie = "millops_session"

	SessionTTL        = 24 * time.Hour
	InactivityTimeout = 30 * time.Minute
)

var (
	ErrNoSession      = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired due to inactivity")
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID   int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"-"`
	Token    string `json:"-"`
}

type identityKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Username returns the caller's username, or "system" when unauthenticated.
func Username(r *http.Request) string {
	if id, ok := FromContext(r.Context()); ok && id.Username != "" {
		return id.Username
	}
	return "system"
}

// CreateSession stores a new session for userID and returns its token and
// expiry.
func CreateSession(ctx context.Context, db *sql.DB, userID int) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(SessionTTL)
	token := uuid.NewString()
	_, err := db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, created_at, expires_at, last_activity) VALUES (?, ?, ?, ?, ?)",
		token, userID, now.Format(database.TimeLayout), expires.Format(database.TimeLayout), now.Format(database.TimeLayout))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// LookupSession resolves token to its user. Sessions idle for longer than
// InactivityTimeout are deleted and reported as ErrSessionExpired. A valid
// session has its expiry slid forward and the new expiry returned.
func LookupSession(ctx context.Context, db *sql.DB, token string) (Identity, time.Time, error) {
	now := time.Now().UTC()
	var id Identity
	var active int
	var lastActivity string
	err := db.QueryRowContext(ctx, `SELECT s.user_id, u.username, u.role, u.active, COALESCE(s.last_activity, s.created_at)
		FROM sessions s JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?`, token, now.Format(database.TimeLayout)).
		Scan(&id.UserID, &id.Username, &id.Role, &active, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, time.Time{}, ErrNoSession
	}
	if err != nil {
		return Identity{}, time.Time{}, err
	}
	id.Active = active == 1
	id.Token = token

	if last, err := time.Parse(database.TimeLayout, lastActivity); err == nil && now.Sub(last) > InactivityTimeout {
		db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
		return Identity{}, time.Time{}, ErrSessionExpired
	}

	expires := now.Add(SessionTTL)
	if _, err := db.ExecContext(ctx, "UPDATE sessions SET expires_at = ?, last_activity = ? WHERE token = ?",
		expires.Format(database.TimeLayout), now.Format(database.TimeLayout), token); err != nil {
		return Identity{}, time.Time{}, err
	}
	return id, expires, nil
}

// DeleteSession removes a session.
func DeleteSession(ctx context.Context, db *sql.DB, token string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// PurgeExpiredSessions removes sessions past their expiry.
func PurgeExpiredSessions(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", database.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetSessionCookie writes the session cookie.
func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
