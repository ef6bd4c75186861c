package indexer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperjump/budgetrag/internal/models"
)

// State is the ingestion state of one watched file.
type State string

const (
	StatePending    State = "pending"
	StateParsing    State = "parsing"
	StateChunking   State = "chunking"
	StateEmbedding  State = "embedding"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateError      State = "error"
	StateDead       State = "dead"
)

// ErrInvalidTransition is returned for a state change the pipeline never makes.
var ErrInvalidTransition = errors.New("invalid state transition")

// forward lists the only non-failure transitions.
var forward = map[State]State{
	StatePending:    StateParsing,
	StateParsing:    StateChunking,
	StateChunking:   StateEmbedding,
	StateEmbedding:  StateCommitting,
	StateCommitting: StateDone,
}

// ItemStatus is a snapshot of one file's progress.
type ItemStatus struct {
	Path        string           `json:"path"`
	SourceID    string           `json:"source_id"`
	ContentHash string           `json:"content_hash,omitempty"`
	State       State            `json:"state"`
	FailedStep  State            `json:"failed_step,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   models.ErrorKind `json:"error_kind,omitempty"`
	Attempts    int              `json:"attempts"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Tracker records the state machine of every file the pipeline has seen.
// It is safe for concurrent use.
type Tracker struct {
	maxRetries int
	items      map[string]*ItemStatus
	mu         sync.Mutex
}

// NewTracker creates a tracker. A file that fails maxRetries times without a
// content change becomes dead.
func NewTracker(maxRetries int) *Tracker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Tracker{maxRetries: maxRetries, items: make(map[string]*ItemStatus)}
}

// Begin registers an attempt to process path at contentHash and moves it to
// pending. It returns false when the file is dead at the same hash; a changed
// hash revives a dead file with a fresh retry budget.
func (t *Tracker) Begin(path, sourceID, contentHash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[path]
	if !ok {
		it = &ItemStatus{Path: path, SourceID: sourceID}
		t.items[path] = it
	}
	if it.State == StateDead && it.ContentHash == contentHash {
		return false
	}
	if it.ContentHash != contentHash {
		it.Attempts = 0
	}
	it.SourceID = sourceID
	it.ContentHash = contentHash
	it.State = StatePending
	it.FailedStep = ""
	it.Error = ""
	it.ErrorKind = ""
	it.UpdatedAt = time.Now()
	return true
}

// Advance moves path to the next state. Only the forward chain
// pending → parsing → chunking → embedding → committing → done is allowed.
func (t *Tracker) Advance(path string, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[path]
	if !ok {
		return fmt.Errorf("%w: %s is not tracked", ErrInvalidTransition, path)
	}
	if forward[it.State] != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.State, to)
	}
	it.State = to
	if to == StateDone {
		it.Attempts = 0
	}
	it.UpdatedAt = time.Now()
	return nil
}

// Fail records a failure at the current step. Permanent failures and failures
// that exhaust the retry budget make the item dead; others leave it in error
// for the next scan. It returns the resulting state.
func (t *Tracker) Fail(path string, err error, permanent bool) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	it, ok := t.items[path]
	if !ok {
		it = &ItemStatus{Path: path, State: StatePending}
		t.items[path] = it
	}
	it.FailedStep = it.State
	if it.State == StateError || it.State == StateDead {
		it.FailedStep = StatePending
	}
	it.Error = err.Error()
	it.ErrorKind = models.KindOf(err)
	it.Attempts++
	if permanent || it.Attempts >= t.maxRetries {
		it.State = StateDead
	} else {
		it.State = StateError
	}
	it.UpdatedAt = time.Now()
	return it.State
}

// Reset returns an in-flight item to pending without counting an attempt.
// Used when work is abandoned on shutdown.
func (t *Tracker) Reset(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if it, ok := t.items[path]; ok && it.State != StateDone && it.State != StateDead {
		it.State = StatePending
		it.UpdatedAt = time.Now()
	}
}

// MarkDone records an unchanged file as done without running the pipeline.
func (t *Tracker) MarkDone(path, sourceID, contentHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[path] = &ItemStatus{
		Path:        path,
		SourceID:    sourceID,
		ContentHash: contentHash,
		State:       StateDone,
		UpdatedAt:   time.Now(),
	}
}

// Remove forgets path.
func (t *Tracker) Remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, path)
}

// Get returns a copy of the status of path.
func (t *Tracker) Get(path string) (ItemStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[path]
	if !ok {
		return ItemStatus{}, false
	}
	return *it, true
}

// List returns every tracked item ordered by path.
func (t *Tracker) List() []ItemStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ItemStatus, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Counts returns the number of items in each state.
func (t *Tracker) Counts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[State]int)
	for _, it := range t.items {
		counts[it.State]++
	}
	return counts
}
