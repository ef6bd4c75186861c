package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
)

type seedItem struct {
	category string
	name     string
	amount   float64
	notes    string
}

var seedCategories = []models.Category{
	{Name: "Marketing", Description: "Marketing and advertising expenses"},
	{Name: "Operations", Description: "Operational expenses"},
	{Name: "R&D", Description: "Research and development expenses"},
}

var seedItems = []seedItem{
	{"Marketing", "Social Media Advertising", 10000, "Facebook, Twitter, LinkedIn"},
	{"Marketing", "Content Production", 5000, "Blog posts, videos, infographics"},
	{"Operations", "Office Rent", 8000, "Main office"},
	{"Operations", "Utilities", 2000, "Electricity, water, internet"},
	{"R&D", "Software Development", 15000, "Salaries and tools"},
}

// Seed loads sample categories and monthly line items for fiscal year 2025,
// plus one applied modification. It does nothing and returns false if any
// category already exists.
func (s *SQLiteStorage) Seed(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM budget_categories`).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	for i := range seedCategories {
		c := seedCategories[i]
		if err := s.CreateCategory(ctx, &c); err != nil {
			return false, err
		}
	}

	var social *models.BudgetLineItem
	for _, si := range seedItems {
		item := &models.BudgetLineItem{
			Category:   si.category,
			Name:       si.name,
			Amount:     si.amount,
			Period:     "monthly",
			FiscalYear: 2025,
			Notes:      si.notes,
		}
		if err := s.CreateLineItem(ctx, item); err != nil {
			return false, err
		}
		if si.name == "Social Media Advertising" {
			social = item
		}
	}

	prev, next := social.Amount, 12000.0
	_, err := s.ApplyModification(ctx, social.ID, social.Version, next, &models.ModificationRecord{
		LineItemID:     &social.ID,
		Category:       social.Category,
		LineItem:       social.Name,
		Action:         models.ActionIncrease,
		PreviousAmount: &prev,
		NewAmount:      &next,
		Actor:          "admin",
		Justification:  "Increased allocation due to Q1 campaign",
		Outcome:        models.OutcomeApplied,
	})
	if err != nil {
		return false, fmt.Errorf("seed modification: %w", err)
	}
	return true, nil
}
