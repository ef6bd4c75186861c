package modification

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hyperjump/budgetrag/internal/models"
)

// stripFences removes a surrounding markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseIntentJSON decodes the intent wire format. Unknown fields are
// ignored. When categories is non-empty the category must match one of them
// (case-insensitively) and is replaced by the catalog spelling.
func ParseIntentJSON(raw string, categories []string) (*models.ModificationIntent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(raw)), &fields); err != nil {
		return nil, &IntentParseError{Field: "body", Reason: "not a JSON object", Err: err}
	}

	intent := &models.ModificationIntent{}

	action, err := stringField(fields, "action")
	if err != nil {
		return nil, err
	}
	intent.Action = models.ModificationAction(strings.ToLower(action))
	if intent.Action == "" {
		return nil, &IntentParseError{Field: "action", Reason: "missing"}
	}
	if !intent.Action.Valid() {
		return nil, &IntentParseError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}

	if intent.Category, err = stringField(fields, "category"); err != nil {
		return nil, err
	}
	if intent.Category == "" {
		return nil, &IntentParseError{Field: "category", Reason: "missing"}
	}
	if len(categories) > 0 {
		name, ok := matchCategory(intent.Category, categories)
		if !ok {
			return nil, &IntentParseError{Field: "category", Reason: fmt.Sprintf("unknown category %q", intent.Category)}
		}
		intent.Category = name
	}

	lineItem, err := stringField(fields, "line_item")
	if err != nil {
		return nil, err
	}
	if lineItem != "" {
		intent.LineItem = &lineItem
	}

	if intent.Amount, err = numberField(fields, "amount"); err != nil {
		return nil, err
	}
	if intent.Percent, err = numberField(fields, "percent"); err != nil {
		return nil, err
	}
	if intent.Justification, err = stringField(fields, "justification"); err != nil {
		return nil, err
	}
	if err := ValidateIntent(intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ValidateIntent checks the shape of an intent however it was built: a known
// action, a category, and exactly one of amount or percent, non-negative and
// finite. The returned error is an *IntentParseError naming the field.
func ValidateIntent(intent *models.ModificationIntent) error {
	if intent == nil {
		return &IntentParseError{Field: "intent", Reason: "missing"}
	}
	if intent.Action == "" {
		return &IntentParseError{Field: "action", Reason: "missing"}
	}
	if !intent.Action.Valid() {
		return &IntentParseError{Field: "action", Reason: fmt.Sprintf("unknown action %q", intent.Action)}
	}
	if strings.TrimSpace(intent.Category) == "" {
		return &IntentParseError{Field: "category", Reason: "missing"}
	}
	switch {
	case intent.Amount == nil && intent.Percent == nil:
		return &IntentParseError{Field: "amount", Reason: "either amount or percent is required"}
	case intent.Amount != nil && intent.Percent != nil:
		return &IntentParseError{Field: "percent", Reason: "amount and percent are mutually exclusive"}
	}
	for field, v := range map[string]*float64{"amount": intent.Amount, "percent": intent.Percent} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return &IntentParseError{Field: field, Reason: "must be a finite number"}
		}
		if *v < 0 {
			return &IntentParseError{Field: field, Reason: "must not be negative"}
		}
	}
	return nil
}

func matchCategory(name string, categories []string) (string, bool) {
	for _, c := range categories {
		if strings.EqualFold(strings.TrimSpace(name), c) {
			return c, true
		}
	}
	return "", false
}

// stringField returns the trimmed string value of key; null and absent read as "".
func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &IntentParseError{Field: key, Reason: "must be a string", Err: err}
	}
	return strings.TrimSpace(s), nil
}

// numberField returns the value of key as a non-negative number. Numeric
// strings such as "$5,000" or "10%" are accepted.
func numberField(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, &IntentParseError{Field: key, Reason: "must be a number", Err: err}
		}
		s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
		if s == "" {
			return nil, nil
		}
		if v, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, &IntentParseError{Field: key, Reason: "must be a number", Err: err}
		}
	}
	if v < 0 {
		return nil, &IntentParseError{Field: key, Reason: "must not be negative"}
	}
	return &v, nil
}
