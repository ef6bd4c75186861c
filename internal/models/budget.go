package models

import "time"

// ModificationAction is the verb of a budget change request.
type ModificationAction string

const (
	ActionIncrease ModificationAction = "increase"
	ActionDecrease ModificationAction = "decrease"
	ActionSet      ModificationAction = "set"
)

// Valid reports whether a is one of the known actions.
func (a ModificationAction) Valid() bool {
	switch a {
	case ActionIncrease, ActionDecrease, ActionSet:
		return true
	}
	return false
}

// ModificationIntent is the structured form of a change request, prior to validation.
// Exactly one of Amount and Percent is set.
type ModificationIntent struct {
	Action        ModificationAction `json:"action"`
	Category      string             `json:"category"`
	LineItem      *string            `json:"line_item"`
	Amount        *float64           `json:"amount"`
	Percent       *float64           `json:"percent"`
	Justification string             `json:"justification"`
}

// Category is a budget category owned by the relational store.
type Category struct {
	ID               int64  `json:"id" db:"id"`
	Name             string `json:"name" db:"name"`
	Description      string `json:"description,omitempty" db:"description"`
	ParentCategoryID *int64 `json:"parent_category_id,omitempty" db:"parent_category_id"`
}

// BudgetLineItem carries Version for optimistic concurrency.
type BudgetLineItem struct {
	ID         int64   `json:"id" db:"id"`
	CategoryID int64   `json:"category_id" db:"category_id"`
	Category   string  `json:"category" db:"category"`
	Name       string  `json:"name" db:"name"`
	Amount     float64 `json:"amount" db:"amount"`
	Period     string  `json:"period,omitempty" db:"period"`
	FiscalYear int     `json:"fiscal_year,omitempty" db:"fiscal_year"`
	Notes      string  `json:"notes,omitempty" db:"notes"`
	Version    int64   `json:"version" db:"version"`
}

// Outcome of a modification request.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
)

// ModificationRecord is an append-only audit entry. LineItemID is nil when the
// request never resolved to a line item.
type ModificationRecord struct {
	ID             string             `json:"id" db:"id"`
	LineItemID     *int64             `json:"line_item_id,omitempty" db:"line_item_id"`
	Category       string             `json:"category" db:"category"`
	LineItem       string             `json:"line_item,omitempty" db:"line_item"`
	Action         ModificationAction `json:"action" db:"action"`
	PreviousAmount *float64           `json:"previous_amount,omitempty" db:"previous_amount"`
	NewAmount      *float64           `json:"new_amount,omitempty" db:"new_amount"`
	Actor          string             `json:"actor" db:"user_id"`
	Justification  string             `json:"justification" db:"justification"`
	RequestText    string             `json:"request_text,omitempty" db:"request_text"`
	Outcome        Outcome            `json:"outcome" db:"outcome"`
	Reason         string             `json:"reason,omitempty" db:"reason"`
	CreatedAt      time.Time          `json:"created_at" db:"modification_date"`
}
