package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"millops/internal/apperr"
	"millops/internal/database"
	"millops/internal/models"
	"millops/internal/validation"
)

// ListCategories returns every category by name.
func ListCategories(ctx context.Context, q database.DBTX) ([]models.Category, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, parent_id FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	var items []models.Category
	for rows.Next() {
		var c models.Category
		var parent sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &parent); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := int(parent.Int64)
			c.ParentID = &p
		}
		items = append(items, c)
	}
	if items == nil {
		items = []models.Category{}
	}
	return items, rows.Err()
}

// CategoryNames maps category ids to names.
func CategoryNames(ctx context.Context, q database.DBTX) (map[int]string, error) {
	cats, err := ListCategories(ctx, q)
	if err != nil {
		return nil, err
	}
	m := make(map[int]string, len(cats))
	for _, c := range cats {
		m[c.ID] = c.Name
	}
	return m, nil
}

// CreateCategory adds a category.
func CreateCategory(ctx context.Context, db *sql.DB, c models.Category) (models.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "name", c.Name)
	validation.ValidateMaxLength(ve, "name", c.Name, 100)
	if c.ParentID != nil {
		validation.ValidateForeignKey(ctx, ve, db, "parent_id", "categories", *c.ParentID)
	}
	if err := ve.Err(); err != nil {
		return c, err
	}
	res, err := db.ExecContext(ctx, "INSERT INTO categories (name, parent_id) VALUES (?, ?)", c.Name, c.ParentID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return c, apperr.New(apperr.ErrConflict, "category "+c.Name+" already exists")
		}
		return c, fmt.Errorf("create category: %w", err)
	}
	id, _ := res.LastInsertId()
	c.ID = int(id)
	return c, nil
}

// DeleteCategory removes a category; its products become uncategorised.
func DeleteCategory(ctx context.Context, db *sql.DB, id int) error {
	res, err := db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("category " + strconv.Itoa(id))
	}
	return nil
}

func ensureCategory(ctx context.Context, q database.DBTX, name string) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, "SELECT id FROM categories WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := q.ExecContext(ctx, "INSERT INTO categories (name) VALUES (?)", name)
	if err != nil {
		return 0, fmt.Errorf("create category %s: %w", name, err)
	}
	n, _ := res.LastInsertId()
	return int(n), nil
}
