package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, debug := range []bool{true, false} {
		logger, err := NewLogger(debug)
		require.NoError(t, err)
		require.NotNil(t, logger)
		_ = logger.Sync()
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		logger, err := NewLoggerWithLevel(level)
		require.NoError(t, err, level)
		require.NotNil(t, logger)
	}
	_, err := NewLoggerWithLevel("loud")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hello...", Truncate("hello world", 5))
	assert.Equal(t, "x", Truncate("x", 0))
	assert.Equal(t, "äö...", Truncate("äöü", 2))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$44,000.00", FormatAmount(44000))
	assert.Equal(t, "$0.00", FormatAmount(0))
	assert.Equal(t, "$1,234,567.89", FormatAmount(1234567.89))
	assert.Equal(t, "-$12.50", FormatAmount(-12.5))
	assert.Equal(t, "$999.00", FormatAmount(999))
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	assert.InDelta(t, 5.0, NormalizeL2(v), 1e-9)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.Equal(t, 0.0, NormalizeL2(zero))
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite([]float32{0.1, -2}))
	assert.True(t, Finite(nil))
	assert.False(t, Finite([]float32{1, float32(math.Inf(1))}))
	assert.False(t, Finite([]float32{float32(math.NaN())}))
}
