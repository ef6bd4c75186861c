package models

import "strings"

// RetrievalQuery is a free-form query against the ingested corpus.
type RetrievalQuery struct {
	Query          string            `json:"query"`
	TopK           int               `json:"top_k,omitempty"`
	ScoreThreshold *float64          `json:"score_threshold,omitempty"`
	Budget         int               `json:"budget,omitempty"` // max context characters; 0 means unlimited
	Filters        map[string]string `json:"filters,omitempty"`
}

// InvalidQueryError reports a retrieval query that cannot be run.
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string { return "invalid query: " + e.Reason }

// Kind implements KindedError.
func (e *InvalidQueryError) Kind() ErrorKind { return KindInvalidQuery }

// UserMessage implements KindedError.
func (e *InvalidQueryError) UserMessage() string { return e.Reason }

// Validate trims the query text, rejects blank queries and fills defaults for
// TopK and ScoreThreshold. Errors are *InvalidQueryError.
func (q *RetrievalQuery) Validate(defaultTopK int, defaultThreshold float64) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return &InvalidQueryError{Reason: "query cannot be empty"}
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > 100 {
		q.TopK = 100
	}
	if q.ScoreThreshold == nil {
		th := defaultThreshold
		q.ScoreThreshold = &th
	}
	if q.Budget < 0 {
		return &InvalidQueryError{Reason: "budget cannot be negative"}
	}
	return nil
}
