package timeframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormatRoundTrip(t *testing.T) {
	for _, tf := range All() {
		parsed, err := Parse(Format(tf))
		require.NoError(t, err)
		assert.Equal(t, tf, parsed)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse("7m")
	assert.ErrorContains(t, err, "invalid timeframe")
}

func TestToMinutes(t *testing.T) {
	m, err := ToMinutes(Hour1)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), m)
}

func TestMaxOfSingleton(t *testing.T) {
	tf, err := MaxOf([]Timeframe{Minute5})
	require.NoError(t, err)
	assert.Equal(t, Minute5, tf)
}

func TestMaxOfPicksLargestMinuteCount(t *testing.T) {
	tf, err := MaxOf([]Timeframe{Minute5, Hour1, Minute15})
	require.NoError(t, err)
	assert.Equal(t, Hour1, tf)
}

func TestMaxOfCombinesAcrossCalls(t *testing.T) {
	left, err := MaxOf([]Timeframe{Minute5, Minute15})
	require.NoError(t, err)
	right, err := MaxOf([]Timeframe{left, Hour1})
	require.NoError(t, err)
	assert.Equal(t, Hour1, right)
}
