package modification

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/hyperjump/budgetrag/internal/storage"
	"go.uber.org/zap"
)

// Store is the relational side of a modification. *storage.SQLiteStorage satisfies it.
type Store interface {
	FindLineItems(ctx context.Context, category, name string) ([]*models.BudgetLineItem, error)
	ApplyModification(ctx context.Context, itemID, expectedVersion int64, newAmount float64, rec *models.ModificationRecord) (*models.BudgetLineItem, error)
	AppendModification(ctx context.Context, rec *models.ModificationRecord) error
}

// IntentParser turns text into an intent. *Parser satisfies it.
type IntentParser interface {
	Parse(ctx context.Context, text string) (*models.ModificationIntent, error)
}

// Request is one modification submission. Either Intent or Text must be set;
// Text is parsed only when Intent is nil.
type Request struct {
	Intent           *models.ModificationIntent `json:"intent,omitempty"`
	Text             string                     `json:"text,omitempty"`
	Actor            string                     `json:"actor"`
	ElevatedApproval bool                       `json:"elevated_approval,omitempty"`
	ExpectedVersion  *int64                     `json:"expected_version,omitempty"`
}

// Result describes what Submit did.
type Result struct {
	Intent   *models.ModificationIntent `json:"intent"`
	Decision Decision                   `json:"decision"`
	Record   *models.ModificationRecord `json:"record,omitempty"`
	LineItem *models.BudgetLineItem     `json:"line_item,omitempty"`
	Attempts int                        `json:"attempts"`
}

// Service validates and applies modifications with optimistic concurrency.
type Service struct {
	store      Store
	parser     IntentParser
	policy     Policy
	maxRetries int
	logger     *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIntentParser enables free-text requests.
func WithIntentParser(p IntentParser) ServiceOption {
	return func(s *Service) { s.parser = p }
}

// WithMaxConflictRetries sets how many times a request is rebased after a version conflict.
func WithMaxConflictRetries(n int) ServiceOption {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// NewService creates a modification service.
func NewService(store Store, policy Policy, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		policy:     policy,
		maxRetries: 3,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Parse turns free text into an intent without applying it.
func (s *Service) Parse(ctx context.Context, text string) (*models.ModificationIntent, error) {
	if s.parser == nil {
		return nil, errors.New("no intent parser configured")
	}
	return s.parser.Parse(ctx, text)
}

// Submit validates and applies req. A malformed intent fails with an
// *IntentParseError before anything is read or written. Every validated
// outcome writes exactly one ledger record. A version conflict re-reads and re-validates the line
// item up to the configured retry count. On rejection both the result and a
// *ValidationRejected are returned; after too many conflicts the error
// matches ErrConflictRetryExhausted.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	intent := req.Intent
	if intent == nil {
		var err error
		if intent, err = s.Parse(ctx, req.Text); err != nil {
			return nil, err
		}
	}
	if err := ValidateIntent(intent); err != nil {
		return nil, err
	}
	res := &Result{Intent: intent}

	var lastItem *models.BudgetLineItem
	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		res.Attempts = attempt
		item, detail, err := s.resolve(ctx, intent)
		if err != nil {
			return nil, err
		}
		lastItem = item

		dec := Validate(intent, item, s.policy, Checks{
			ElevatedApproval: req.ElevatedApproval,
			ExpectedVersion:  req.ExpectedVersion,
		})
		if detail != "" && !dec.Accepted && dec.Reason == ReasonMissingEntity {
			dec.Detail = detail
		}
		res.Decision = dec
		rec := newRecord(intent, item, req, dec)

		if !dec.Accepted {
			rec.Outcome = models.OutcomeRejected
			rec.Reason = string(dec.Reason)
			if err := s.store.AppendModification(ctx, rec); err != nil {
				return nil, err
			}
			res.Record = rec
			res.LineItem = item
			s.logger.Info("modification rejected",
				zap.String("category", intent.Category),
				zap.String("reason", string(dec.Reason)),
				zap.String("actor", req.Actor))
			return res, dec.Err()
		}

		rec.Outcome = models.OutcomeApplied
		updated, err := s.store.ApplyModification(ctx, item.ID, item.Version, dec.NewAmount, rec)
		if errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("line item changed concurrently, rebasing",
				zap.Int64("line_item_id", item.ID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Record = rec
		res.LineItem = updated
		s.logger.Info("modification applied",
			zap.Int64("line_item_id", updated.ID),
			zap.Float64("previous_amount", dec.PreviousAmount),
			zap.Float64("new_amount", dec.NewAmount),
			zap.String("actor", req.Actor))
		return res, nil
	}

	conflict := &ConflictError{LineItemID: lastItem.ID, Attempts: res.Attempts}
	rec := newRecord(intent, lastItem, req, res.Decision)
	rec.Outcome = models.OutcomeRejected
	rec.Reason = string(ReasonConflictExhausted)
	if err := s.store.AppendModification(ctx, rec); err != nil {
		return nil, err
	}
	res.Record = rec
	res.Decision.Accepted = false
	res.Decision.Reason = ReasonConflictExhausted
	res.Decision.Detail = conflict.UserMessage()
	s.logger.Warn("modification gave up after conflicts",
		zap.Int64("line_item_id", lastItem.ID),
		zap.Int("attempts", res.Attempts))
	return res, conflict
}

// resolve finds the line item an intent targets. A category with several
// line items needs the intent to name one. When no unique item matches it
// returns nil and a human-readable detail.
func (s *Service) resolve(ctx context.Context, intent *models.ModificationIntent) (*models.BudgetLineItem, string, error) {
	name := ""
	if intent.LineItem != nil {
		name = *intent.LineItem
	}
	items, err := s.store.FindLineItems(ctx, intent.Category, name)
	if err != nil {
		return nil, "", fmt.Errorf("find line items: %w", err)
	}
	switch {
	case len(items) == 1:
		return items[0], "", nil
	case len(items) == 0:
		return nil, "", nil
	default:
		return nil, fmt.Sprintf("category %q has %d line items, name the one to change", intent.Category, len(items)), nil
	}
}

func newRecord(intent *models.ModificationIntent, item *models.BudgetLineItem, req Request, dec Decision) *models.ModificationRecord {
	rec := &models.ModificationRecord{
		Category:      intent.Category,
		Action:        intent.Action,
		Actor:         req.Actor,
		Justification: intent.Justification,
		RequestText:   req.Text,
	}
	if intent.LineItem != nil {
		rec.LineItem = *intent.LineItem
	}
	if item != nil {
		id := item.ID
		prev, next := dec.PreviousAmount, dec.NewAmount
		rec.LineItemID = &id
		rec.LineItem = item.Name
		rec.Category = item.Category
		rec.PreviousAmount = &prev
		rec.NewAmount = &next
	}
	return rec
}
