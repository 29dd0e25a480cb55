// Package database opens the SQLite store and holds the small helpers shared
// by every package that talks to it.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the layout used for every DATETIME column.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is the layout used for every date-only column.
const DateLayout = "2006-01-02"

// DBTX is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the SQLite database at path with WAL, immediate transactions, a
// busy timeout and foreign keys enabled. An in-memory path is pinned to a single connection
// so every query sees the same database.
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		// BEGIN IMMEDIATE takes the write lock up front, so a transaction
		// that reads before writing waits on busy_timeout instead of
		// failing with SQLITE_BUSY when it upgrades.
		dsn += "&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if memory {
		db.SetMaxOpenConns(1)
	} else {
		// SQLite handles one writer plus readers under WAL
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// NextID allocates the next sequential identifier for prefix in the current
// year, e.g. PUR-2026-0007. The counter lives in id_sequences so it is safe
// to call inside a transaction.
func NextID(ctx context.Context, q DBTX, prefix string, digits int) (string, error) {
	year := time.Now().Format("2006")
	key := prefix + "-" + year
	var n int
	err := q.QueryRowContext(ctx, `INSERT INTO id_sequences (prefix, next_num) VALUES (?, 1)
		ON CONFLICT(prefix) DO UPDATE SET next_num = next_num + 1
		RETURNING next_num`, key).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next id for %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%0*d", key, digits, n), nil
}

// Now returns the current UTC time formatted for a DATETIME column.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// Today returns the current date formatted for a date column.
func Today() string {
	return time.Now().Format(DateLayout)
}

// SP converts a sql.NullString to a *string.
func SP(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

// NS converts a *string to a sql.NullString.
func NS(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Placeholders returns n comma-separated "?" markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
