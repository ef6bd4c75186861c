package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_Memory(t *testing.T) {
	s, err := NewStore("memory", "", 3, nil)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
	assert.Equal(t, 3, s.Dimensions())
}

func TestNewStore_DefaultIsBadger(t *testing.T) {
	s, err := NewStore("", t.TempDir(), 3, nil)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*BadgerStore)
	assert.True(t, ok)
}

func TestNewStore_Unknown(t *testing.T) {
	_, err := NewStore("faiss", "", 3, nil)
	assert.Error(t, err)
}
