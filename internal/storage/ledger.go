package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/budgetrag/internal/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertModification(ctx context.Context, e execer, rec *models.ModificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := e.ExecContext(ctx,
		`INSERT INTO budget_modifications
			(id, line_item_id, category, line_item, action, previous_amount, new_amount,
			 user_id, justification, request_text, outcome, reason, modification_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.LineItemID, rec.Category, rec.LineItem, string(rec.Action), rec.PreviousAmount, rec.NewAmount,
		rec.Actor, rec.Justification, rec.RequestText, string(rec.Outcome), rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append modification: %w", err)
	}
	return nil
}

// AppendModification writes one ledger entry outside any budget update.
// Used for rejected requests.
func (s *SQLiteStorage) AppendModification(ctx context.Context, rec *models.ModificationRecord) error {
	return insertModification(ctx, s.db, rec)
}

// ApplyModification sets the amount of a line item if its version still
// equals expectedVersion, bumps the version, and appends rec, all in one
// transaction. It returns ErrVersionConflict when the version moved and
// nothing is written.
func (s *SQLiteStorage) ApplyModification(ctx context.Context, itemID, expectedVersion int64, newAmount float64, rec *models.ModificationRecord) (*models.BudgetLineItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE budget_line_items SET amount = ?, version = version + 1 WHERE id = ? AND version = ?`,
		newAmount, itemID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("update line item %d: %w", itemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := getLineItem(ctx, tx, itemID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("line item %d at version %d: %w", itemID, expectedVersion, ErrVersionConflict)
	}

	if err := insertModification(ctx, tx, rec); err != nil {
		return nil, err
	}
	updated, err := getLineItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListModifications returns ledger entries, newest first.
func (s *SQLiteStorage) ListModifications(ctx context.Context, filter ModificationFilter) ([]*models.ModificationRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, line_item_id, category, line_item, action, previous_amount, new_amount,
			user_id, justification, request_text, outcome, reason, modification_date
		FROM budget_modifications`
	args := []any{}
	if filter.LineItemID != nil {
		query += ` WHERE line_item_id = ?`
		args = append(args, *filter.LineItemID)
	}
	query += ` ORDER BY modification_date DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ModificationRecord
	for rows.Next() {
		var rec models.ModificationRecord
		var lineItemID sql.NullInt64
		var prev, next sql.NullFloat64
		var action, outcome string
		if err := rows.Scan(&rec.ID, &lineItemID, &rec.Category, &rec.LineItem, &action, &prev, &next,
			&rec.Actor, &rec.Justification, &rec.RequestText, &outcome, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Action = models.ModificationAction(action)
		rec.Outcome = models.Outcome(outcome)
		if lineItemID.Valid {
			rec.LineItemID = &lineItemID.Int64
		}
		if prev.Valid {
			rec.PreviousAmount = &prev.Float64
		}
		if next.Valid {
			rec.NewAmount = &next.Float64
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
