package indexer

import (
	"errors"
	"testing"

	"github.com/hyperjump/budgetrag/internal/extract"
	"github.com/hyperjump/budgetrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func advanceAll(t *testing.T, tr *Tracker, path string, states ...State) {
	t.Helper()
	for _, s := range states {
		require.NoError(t, tr.Advance(path, s))
	}
}

func TestTracker_HappyPath(t *testing.T) {
	tr := NewTracker(3)
	require.True(t, tr.Begin("/a.txt", "src-a", "h1"))
	advanceAll(t, tr, "/a.txt", StateParsing, StateChunking, StateEmbedding, StateCommitting, StateDone)

	st, ok := tr.Get("/a.txt")
	require.True(t, ok)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, "h1", st.ContentHash)
	assert.Zero(t, st.Attempts)
}

func TestTracker_RejectsSkippedSteps(t *testing.T) {
	tr := NewTracker(3)
	tr.Begin("/a.txt", "src-a", "h1")
	assert.ErrorIs(t, tr.Advance("/a.txt", StateEmbedding), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Advance("/missing.txt", StateParsing), ErrInvalidTransition)

	advanceAll(t, tr, "/a.txt", StateParsing)
	assert.ErrorIs(t, tr.Advance("/a.txt", StatePending), ErrInvalidTransition)
}

func TestTracker_RetriesThenDead(t *testing.T) {
	tr := NewTracker(2)
	transient := errors.New("store down")

	require.True(t, tr.Begin("/a.txt", "src-a", "h1"))
	advanceAll(t, tr, "/a.txt", StateParsing, StateChunking, StateEmbedding, StateCommitting)
	assert.Equal(t, StateError, tr.Fail("/a.txt", transient, false))

	st, _ := tr.Get("/a.txt")
	assert.Equal(t, StateCommitting, st.FailedStep)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, "store down", st.Error)

	require.True(t, tr.Begin("/a.txt", "src-a", "h1"))
	assert.Equal(t, StateDead, tr.Fail("/a.txt", transient, false))
	assert.False(t, tr.Begin("/a.txt", "src-a", "h1"), "dead item is not retried at the same hash")

	require.True(t, tr.Begin("/a.txt", "src-a", "h2"), "changed content revives a dead item")
	st, _ = tr.Get("/a.txt")
	assert.Equal(t, StatePending, st.State)
	assert.Zero(t, st.Attempts)
}

func TestTracker_PermanentFailureIsDead(t *testing.T) {
	tr := NewTracker(5)
	tr.Begin("/a.docx", "src-a", "h1")
	advanceAll(t, tr, "/a.docx", StateParsing)

	err := &extract.ParseError{Format: extract.FormatDOCX, Reason: "not a zip archive"}
	assert.Equal(t, StateDead, tr.Fail("/a.docx", err, true))
	st, _ := tr.Get("/a.docx")
	assert.Equal(t, StateParsing, st.FailedStep)
	assert.Equal(t, models.KindParse, st.ErrorKind)
}

func TestTracker_ResetAndCounts(t *testing.T) {
	tr := NewTracker(3)
	tr.Begin("/b.txt", "src-b", "h1")
	advanceAll(t, tr, "/b.txt", StateParsing, StateChunking)
	tr.Reset("/b.txt")
	st, _ := tr.Get("/b.txt")
	assert.Equal(t, StatePending, st.State)
	assert.Zero(t, st.Attempts)

	tr.MarkDone("/a.txt", "src-a", "h9")
	counts := tr.Counts()
	assert.Equal(t, 1, counts[StatePending])
	assert.Equal(t, 1, counts[StateDone])

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, "/a.txt", list[0].Path)

	tr.Remove("/a.txt")
	_, ok := tr.Get("/a.txt")
	assert.False(t, ok)
}
