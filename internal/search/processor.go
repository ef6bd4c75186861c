package search

import (
	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/models"
)

// ProcessQuery trims and validates q, then fills TopK, ScoreThreshold and
// Budget from the defaults. A blank query fails with *models.InvalidQueryError
// before anything is embedded.
func ProcessQuery(q *models.RetrievalQuery, defaults config.RetrievalConfig) error {
	if err := q.Validate(defaults.TopK, defaults.ThresholdOrDefault()); err != nil {
		return err
	}
	if q.Budget == 0 {
		q.Budget = defaults.ContextBudget
	}
	return nil
}
