package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/budgetrag/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "data", "financial.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorage_Documents(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	doc := &models.SourceDocument{
		ID: "src-1", Path: "/data/q3.pdf", Name: "q3.pdf", Format: "pdf",
		ContentHash: "abc", SizeBytes: 1200, ChunkCount: 3, FallbackCount: 1,
	}
	require.NoError(t, s.UpsertDocument(ctx, doc))
	assert.False(t, doc.IngestedAt.IsZero())

	got, err := s.GetDocument(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Generation())
	assert.Equal(t, 3, got.ChunkCount)

	doc.ContentHash = "def"
	doc.ChunkCount = 5
	doc.FallbackCount = 0
	require.NoError(t, s.UpsertDocument(ctx, doc))
	got, err = s.GetDocument(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "def", got.ContentHash)

	require.NoError(t, s.UpsertDocument(ctx, &models.SourceDocument{ID: "src-2", Path: "/data/a.txt", Name: "a.txt", Format: "txt", ContentHash: "x", ChunkCount: 1}))

	list, err := s.ListDocuments(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/data/a.txt", list[0].Path, "ordered by path")

	stats, err := s.DocumentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &DocumentStats{Documents: 2, Chunks: 6, Fallbacks: 0}, stats)

	require.NoError(t, s.DeleteDocument(ctx, "src-1"))
	_, err = s.GetDocument(ctx, "src-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_Seed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	seeded, err := s.Seed(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = s.Seed(ctx)
	require.NoError(t, err)
	assert.False(t, seeded, "second seed is a no-op")

	names, err := s.CategoryNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Marketing", "Operations", "R&D"}, names)

	items, err := s.FindLineItems(ctx, "marketing", "social media advertising")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 12000.0, items[0].Amount)
	assert.Equal(t, int64(2), items[0].Version)
	assert.Equal(t, "Marketing", items[0].Category)

	all, err := s.FindLineItems(ctx, "Operations", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	history, err := s.ListModifications(ctx, ModificationFilter{LineItemID: &items[0].ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OutcomeApplied, history[0].Outcome)
	assert.Equal(t, 10000.0, *history[0].PreviousAmount)
	assert.Equal(t, "admin", history[0].Actor)
}

func TestSQLiteStorage_ApplyModification(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCategory(ctx, &models.Category{Name: "Marketing"}))
	item := &models.BudgetLineItem{Category: "Marketing", Name: "Campaigns", Amount: 40000}
	require.NoError(t, s.CreateLineItem(ctx, item))
	require.Equal(t, int64(1), item.Version)

	prev, next := 40000.0, 44000.0
	rec := &models.ModificationRecord{
		LineItemID: &item.ID, Category: "Marketing", LineItem: "Campaigns",
		Action: models.ActionIncrease, PreviousAmount: &prev, NewAmount: &next,
		Actor: "alice", Outcome: models.OutcomeApplied,
	}
	updated, err := s.ApplyModification(ctx, item.ID, 1, next, rec)
	require.NoError(t, err)
	assert.Equal(t, 44000.0, updated.Amount)
	assert.Equal(t, int64(2), updated.Version)
	assert.NotEmpty(t, rec.ID)

	// Stale version: nothing written.
	stale := &models.ModificationRecord{LineItemID: &item.ID, Category: "Marketing", Action: models.ActionSet, Actor: "bob", Outcome: models.OutcomeApplied}
	_, err = s.ApplyModification(ctx, item.ID, 1, 1, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := s.GetLineItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 44000.0, got.Amount)

	history, err := s.ListModifications(ctx, ModificationFilter{})
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = s.ApplyModification(ctx, 999, 1, 1, stale)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStorage_LedgerIsAppendOnly(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec := &models.ModificationRecord{Category: "Travel", Action: models.ActionIncrease, Actor: "x",
		Outcome: models.OutcomeRejected, Reason: "missing-entity"}
	require.NoError(t, s.AppendModification(ctx, rec))

	_, err := s.db.ExecContext(ctx, `UPDATE budget_modifications SET reason = 'edited'`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM budget_modifications`)
	assert.Error(t, err)

	history, err := s.ListModifications(ctx, ModificationFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Nil(t, history[0].LineItemID)
	assert.Equal(t, "missing-entity", history[0].Reason)
}

func TestSQLiteStorage_ConcurrentApplySerializesByVersion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCategory(ctx, &models.Category{Name: "Ops"}))
	item := &models.BudgetLineItem{Category: "Ops", Name: "Rent", Amount: 100}
	require.NoError(t, s.CreateLineItem(ctx, item))

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := float64(200 + i)
			_, err := s.ApplyModification(ctx, item.ID, 1, amount, &models.ModificationRecord{
				LineItemID: &item.ID, Category: "Ops", Action: models.ActionSet, NewAmount: &amount,
				Actor: "w", Outcome: models.OutcomeApplied,
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, ErrVersionConflict)
	}
	assert.Equal(t, 1, applied, "exactly one writer wins version 1")

	got, err := s.GetLineItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLiteStorage_ListLineItems(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_, err := s.Seed(ctx)
	require.NoError(t, err)

	all, err := s.ListLineItems(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	rnd, err := s.ListLineItems(ctx, "R&D")
	require.NoError(t, err)
	require.Len(t, rnd, 1)
	assert.Equal(t, "Software Development", rnd[0].Name)

	err = s.CreateLineItem(ctx, &models.BudgetLineItem{Category: "Nope", Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
