// Package storage persists the document registry, the budget tables and the
// append-only modification ledger in SQLite.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/budgetrag/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a line item changed since it was read.
	ErrVersionConflict = errors.New("line item version changed")
)

// Storage is the full set of persistence operations.
type Storage interface {
	// Document registry
	UpsertDocument(ctx context.Context, doc *models.SourceDocument) error
	GetDocument(ctx context.Context, id string) (*models.SourceDocument, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.SourceDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	DocumentStats(ctx context.Context) (*DocumentStats, error)

	// Budget
	CreateCategory(ctx context.Context, c *models.Category) error
	ListCategories(ctx context.Context) ([]*models.Category, error)
	CategoryNames(ctx context.Context) ([]string, error)
	CreateLineItem(ctx context.Context, item *models.BudgetLineItem) error
	GetLineItem(ctx context.Context, id int64) (*models.BudgetLineItem, error)
	ListLineItems(ctx context.Context, category string) ([]*models.BudgetLineItem, error)
	FindLineItems(ctx context.Context, category, name string) ([]*models.BudgetLineItem, error)

	// Ledger
	ApplyModification(ctx context.Context, itemID, expectedVersion int64, newAmount float64, rec *models.ModificationRecord) (*models.BudgetLineItem, error)
	AppendModification(ctx context.Context, rec *models.ModificationRecord) error
	ListModifications(ctx context.Context, filter ModificationFilter) ([]*models.ModificationRecord, error)

	Seed(ctx context.Context) (bool, error)
	Close() error
}

// DocumentStats summarizes the registry.
type DocumentStats struct {
	Documents int64 `json:"documents"`
	Chunks    int64 `json:"chunks"`
	Fallbacks int64 `json:"fallback_chunks"`
}

// ModificationFilter narrows ListModifications. A zero Limit means 100.
type ModificationFilter struct {
	LineItemID *int64
	Limit      int
}

var _ Storage = (*SQLiteStorage)(nil)
