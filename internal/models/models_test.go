package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetrievalQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *RetrievalQuery
		wantErr bool
		topK    int
	}{
		{"empty query", &RetrievalQuery{Query: ""}, true, 0},
		{"whitespace query", &RetrievalQuery{Query: " \t\n "}, true, 0},
		{"sets default top_k", &RetrievalQuery{Query: "x"}, false, 3},
		{"keeps top_k", &RetrievalQuery{Query: "x", TopK: 7}, false, 7},
		{"caps top_k at 100", &RetrievalQuery{Query: "x", TopK: 500}, false, 100},
		{"negative budget", &RetrievalQuery{Query: "x", Budget: -1}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(3, 0.7)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.query.TopK != tt.topK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.topK)
			}
			if tt.query.ScoreThreshold == nil || *tt.query.ScoreThreshold != 0.7 {
				t.Error("expected default threshold 0.7")
			}
		})
	}
}

func TestRetrievalQuery_ExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	q := &RetrievalQuery{Query: "x", ScoreThreshold: &zero}
	if err := q.Validate(3, 0.7); err != nil {
		t.Fatal(err)
	}
	if *q.ScoreThreshold != 0 {
		t.Errorf("explicit zero threshold overwritten: %v", *q.ScoreThreshold)
	}
}

func TestModificationAction_Valid(t *testing.T) {
	for _, a := range []ModificationAction{ActionIncrease, ActionDecrease, ActionSet} {
		if !a.Valid() {
			t.Errorf("%q should be valid", a)
		}
	}
	if ModificationAction("double").Valid() {
		t.Error("unknown action should be invalid")
	}
}

type kinded struct{}

func (kinded) Error() string { return "secret detail" }
func (kinded) Kind() ErrorKind { return KindParse }
func (kinded) UserMessage() string { return "could not read file" }

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("ingest: %w", kinded{})
	if KindOf(wrapped) != KindParse {
		t.Errorf("KindOf = %q", KindOf(wrapped))
	}
	if UserMessage(wrapped) != "could not read file" {
		t.Errorf("UserMessage = %q", UserMessage(wrapped))
	}
	plain := errors.New("boom")
	if KindOf(plain) != KindInternal || UserMessage(plain) != "internal error" {
		t.Error("plain errors must map to internal")
	}
}
