package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"millops/internal/apperr"
	"millops/internal/config"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

// GetAccount returns one account by code.
func GetAccount(ctx context.Context, q database.DBTX, code string) (models.Account, error) {
	var a models.Account
	var active int
	err := q.QueryRowContext(ctx, "SELECT code, name, type, parent_code, active, created_at FROM accounts WHERE code = ?", code).
		Scan(&a.Code, &a.Name, &a.Type, &a.ParentCode, &active, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, apperr.NotFound("account " + code)
	}
	if err != nil {
		return a, fmt.Errorf("get account %s: %w", code, err)
	}
	a.Active = active == 1
	return a, nil
}

// ListAccounts returns the chart of accounts ordered by code.
func ListAccounts(ctx context.Context, q database.DBTX, includeInactive bool) ([]models.Account, error) {
	query := "SELECT code, name, type, parent_code, active, created_at FROM accounts"
	if !includeInactive {
		query += " WHERE active = 1"
	}
	rows, err := q.QueryContext(ctx, query+" ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var items []models.Account
	for rows.Next() {
		var a models.Account
		var active int
		if err := rows.Scan(&a.Code, &a.Name, &a.Type, &a.ParentCode, &active, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Active = active == 1
		items = append(items, a)
	}
	if items == nil {
		items = []models.Account{}
	}
	return items, rows.Err()
}

// AccountInput is the writable part of an account.
type AccountInput struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	ParentCode string `json:"parent_code"`
	Active     *bool  `json:"active"`
}

func (in AccountInput) validate(ctx context.Context, q database.DBTX, creating bool) error {
	ve := &validation.ValidationErrors{}
	if creating {
		validation.RequireField(ve, "code", in.Code)
		validation.ValidateAccountCode(ve, "code", in.Code)
		validation.RequireField(ve, "type", in.Type)
		validation.ValidateEnum(ve, "type", in.Type, validation.ValidAccountTypes)
	}
	validation.RequireField(ve, "name", in.Name)
	validation.ValidateMaxLength(ve, "name", in.Name, 200)
	if in.ParentCode != "" {
		if in.ParentCode == in.Code {
			ve.Add("parent_code", "cannot be the account itself")
		} else {
			validation.ValidateForeignKey(ctx, ve, q, "parent_code", "accounts", in.ParentCode)
		}
	}
	return ve.Err()
}

// CreateAccount adds an account to the chart.
func CreateAccount(ctx context.Context, db *sql.DB, in AccountInput) (models.Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.validate(ctx, db, true); err != nil {
		return models.Account{}, err
	}
	active := 1
	if in.Active != nil && !*in.Active {
		active = 0
	}
	_, err := db.ExecContext(ctx, "INSERT INTO accounts (code, name, type, parent_code, active, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		in.Code, in.Name, in.Type, in.ParentCode, active, database.Now())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return models.Account{}, apperr.New(apperr.ErrConflict, "account "+in.Code+" already exists")
		}
		return models.Account{}, fmt.Errorf("create account: %w", err)
	}
	return GetAccount(ctx, db, in.Code)
}

// UpdateAccount renames, re-parents or (de)activates an account. The code
// and type are fixed once lines may reference them, and an account can only
// be deactivated while its balance is zero.
func UpdateAccount(ctx context.Context, db *sql.DB, code string, in AccountInput) (models.Account, error) {
	current, err := GetAccount(ctx, db, code)
	if err != nil {
		return current, err
	}
	in.Code = code
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		in.Name = current.Name
	}
	if err := in.validate(ctx, db, false); err != nil {
		return current, err
	}

	active := current.Active
	if in.Active != nil {
		active = *in.Active
	}
	if current.Active && !active {
		bal, err := AccountBalance(ctx, db, code, "")
		if err != nil {
			return current, err
		}
		if !bal.IsZero() {
			return current, fmt.Errorf("%w: %s", ErrAccountInUse, bal.StringFixed(2))
		}
	}

	activeInt := 0
	if active {
		activeInt = 1
	}
	_, err = db.ExecContext(ctx, "UPDATE accounts SET name = ?, parent_code = ?, active = ? WHERE code = ?",
		in.Name, in.ParentCode, activeInt, code)
	if err != nil {
		return current, fmt.Errorf("update account: %w", err)
	}
	return GetAccount(ctx, db, code)
}

// SeedAccounts inserts any configured accounts that do not exist yet and
// returns how many were added. Existing accounts are left untouched.
func SeedAccounts(ctx context.Context, db *sql.DB, seeds []config.AccountSeed) (int, error) {
	added := 0
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, s := range seeds {
			if !validation.Contains(validation.ValidAccountTypes, s.Type) {
				return apperr.New(apperr.ErrInvalid, fmt.Sprintf("account %s: unknown type %q", s.Code, s.Type))
			}
			res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO accounts (code, name, type, parent_code, active, created_at) VALUES (?, ?, ?, '', 1, ?)",
				s.Code, s.Name, s.Type, database.Now())
			if err != nil {
				return fmt.Errorf("seed account %s: %w", s.Code, err)
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return nil
	})
	return added, err
}
