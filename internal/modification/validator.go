// Package modification parses, validates and applies budget change requests
// and records every outcome in the audit ledger.
package modification

import (
	"fmt"
	"math"

	"github.com/hyperjump/budgetrag/internal/config"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/pkg/utils"
)

// Policy holds the business limits a modification must respect.
type Policy struct {
	// MaxPercentChange is the largest change, in percent of the current
	// amount, allowed without elevated approval.
	MaxPercentChange float64
	// JustificationThreshold is the absolute change in dollars above which a
	// justification is required.
	JustificationThreshold float64
}

// PolicyFromConfig converts the configured limits.
func PolicyFromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		MaxPercentChange:       cfg.MaxPercentChange,
		JustificationThreshold: cfg.JustificationThreshold,
	}
}

// Checks carries the per-request inputs of validation.
type Checks struct {
	ElevatedApproval bool
	// ExpectedVersion pins the line item version the request was computed
	// against. Nil skips the stale-version rule.
	ExpectedVersion *int64
}

// Decision is the validator's verdict.
type Decision struct {
	Accepted       bool       `json:"accepted"`
	Reason         ReasonCode `json:"reason,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	PreviousAmount float64    `json:"previous_amount"`
	Delta          float64    `json:"delta"`
	NewAmount      float64    `json:"new_amount"`
}

// Err returns a *ValidationRejected for a rejected decision and nil otherwise.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &ValidationRejected{Reason: d.Reason, Detail: d.Detail}
}

func reject(d Decision, reason ReasonCode, format string, args ...any) Decision {
	d.Accepted = false
	d.Reason = reason
	d.Detail = fmt.Sprintf(format, args...)
	return d
}

// Validate applies the business rules, in order, to intent against the
// current line item state. It has no side effects. A nil item means the
// category or line item does not exist.
func Validate(intent *models.ModificationIntent, item *models.BudgetLineItem, policy Policy, checks Checks) Decision {
	var d Decision
	if intent == nil || item == nil {
		target := "the requested line item"
		if intent != nil {
			target = describeTarget(intent)
		}
		return reject(d, ReasonMissingEntity, "%s does not exist", target)
	}

	current := item.Amount
	d.PreviousAmount = current
	d.NewAmount = roundCents(newAmount(intent, current))
	d.Delta = roundCents(d.NewAmount - current)

	if d.NewAmount < 0 {
		return reject(d, ReasonNegativeResult, "%s would drop to %s", item.Name, utils.FormatAmount(d.NewAmount))
	}

	if !checks.ElevatedApproval && exceedsPercent(d.Delta, current, policy.MaxPercentChange) {
		return reject(d, ReasonExceedsPercentLimit,
			"a change of %s on %s exceeds the %.0f%% limit without elevated approval",
			utils.FormatAmount(math.Abs(d.Delta)), utils.FormatAmount(current), policy.MaxPercentChange)
	}

	if intent.Justification == "" && math.Abs(d.Delta) > policy.JustificationThreshold {
		return reject(d, ReasonMissingJustification,
			"changes above %s need a justification", utils.FormatAmount(policy.JustificationThreshold))
	}

	if checks.ExpectedVersion != nil && *checks.ExpectedVersion != item.Version {
		return reject(d, ReasonStaleVersion,
			"%s changed since the request was prepared (version %d, now %d)",
			item.Name, *checks.ExpectedVersion, item.Version)
	}

	d.Accepted = true
	return d
}

// newAmount computes the requested amount. A percent with "set" means that
// percent of the current amount.
func newAmount(intent *models.ModificationIntent, current float64) float64 {
	var change float64
	if intent.Percent != nil {
		change = current * *intent.Percent / 100
	} else if intent.Amount != nil {
		change = *intent.Amount
	}
	switch intent.Action {
	case models.ActionIncrease:
		return current + change
	case models.ActionDecrease:
		return current - change
	default:
		return change
	}
}

func exceedsPercent(delta, current, limit float64) bool {
	if delta == 0 {
		return false
	}
	if current == 0 {
		return true
	}
	return math.Abs(delta)/math.Abs(current)*100 > limit+1e-9
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func describeTarget(intent *models.ModificationIntent) string {
	if intent.LineItem != nil {
		return fmt.Sprintf("line item %q in %q", *intent.LineItem, intent.Category)
	}
	return fmt.Sprintf("category %q", intent.Category)
}
