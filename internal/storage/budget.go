package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/budgetrag/internal/models"
)

// CreateCategory inserts c and sets its ID.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, c *models.Category) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_categories (name, description, parent_category_id) VALUES (?, ?, ?)`,
		c.Name, c.Description, c.ParentCategoryID,
	)
	if err != nil {
		return fmt.Errorf("create category %q: %w", c.Name, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// ListCategories returns all categories ordered by name.
func (s *SQLiteStorage) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, parent_category_id FROM budget_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Category
	for rows.Next() {
		var c models.Category
		var parent sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &parent); err != nil {
			return nil, err
		}
		if parent.Valid {
			c.ParentCategoryID = &parent.Int64
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CategoryNames returns the names of all categories ordered by name.
func (s *SQLiteStorage) CategoryNames(ctx context.Context) ([]string, error) {
	cats, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = c.Name
	}
	return names, nil
}

// CreateLineItem inserts item at version 1 and sets its ID. CategoryID is
// resolved from Category when unset.
func (s *SQLiteStorage) CreateLineItem(ctx context.Context, item *models.BudgetLineItem) error {
	if item.CategoryID == 0 {
		err := s.db.QueryRowContext(ctx,
			`SELECT id, name FROM budget_categories WHERE name = ?`, item.Category,
		).Scan(&item.CategoryID, &item.Category)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("category %q: %w", item.Category, ErrNotFound)
		}
		if err != nil {
			return err
		}
	}
	item.Version = 1
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_line_items (category_id, name, amount, period, fiscal_year, notes, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.CategoryID, item.Name, item.Amount, item.Period, item.FiscalYear, item.Notes, item.Version,
	)
	if err != nil {
		return fmt.Errorf("create line item %q: %w", item.Name, err)
	}
	item.ID, err = res.LastInsertId()
	return err
}

const lineItemSelect = `SELECT li.id, li.category_id, c.name, li.name, li.amount, li.period, li.fiscal_year, li.notes, li.version
	FROM budget_line_items li JOIN budget_categories c ON c.id = li.category_id`

func scanLineItem(row rowScanner) (*models.BudgetLineItem, error) {
	var li models.BudgetLineItem
	if err := row.Scan(&li.ID, &li.CategoryID, &li.Category, &li.Name, &li.Amount,
		&li.Period, &li.FiscalYear, &li.Notes, &li.Version); err != nil {
		return nil, err
	}
	return &li, nil
}

func (s *SQLiteStorage) queryLineItems(ctx context.Context, q querier, query string, args ...any) ([]*models.BudgetLineItem, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BudgetLineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetLineItem returns a line item with its current amount and version.
func (s *SQLiteStorage) GetLineItem(ctx context.Context, id int64) (*models.BudgetLineItem, error) {
	return getLineItem(ctx, s.db, id)
}

func getLineItem(ctx context.Context, q querier, id int64) (*models.BudgetLineItem, error) {
	li, err := scanLineItem(q.QueryRowContext(ctx, lineItemSelect+` WHERE li.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("line item %d: %w", id, ErrNotFound)
	}
	return li, err
}

// ListLineItems returns line items, optionally restricted to one category.
func (s *SQLiteStorage) ListLineItems(ctx context.Context, category string) ([]*models.BudgetLineItem, error) {
	if category == "" {
		return s.queryLineItems(ctx, s.db, lineItemSelect+` ORDER BY c.name, li.name`)
	}
	return s.queryLineItems(ctx, s.db, lineItemSelect+` WHERE c.name = ? ORDER BY li.name`, category)
}

// FindLineItems returns the line items of category, or the one named name
// when name is non-empty. Matching ignores case and surrounding space.
func (s *SQLiteStorage) FindLineItems(ctx context.Context, category, name string) ([]*models.BudgetLineItem, error) {
	category = strings.TrimSpace(category)
	name = strings.TrimSpace(name)
	if name == "" {
		return s.queryLineItems(ctx, s.db, lineItemSelect+` WHERE c.name = ? ORDER BY li.name`, category)
	}
	return s.queryLineItems(ctx, s.db, lineItemSelect+` WHERE c.name = ? AND li.name = ? ORDER BY li.name`, category, name)
}
