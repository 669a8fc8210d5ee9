package dynarray

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndAt(t *testing.T) {
	a := New(2, 0)
	require.NoError(t, a.Append([]float64{1, 2}))
	require.NoError(t, a.Append([]float64{3, 4}))
	require.NoError(t, a.Append([]float64{5, 6}))

	row, err := a.At(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, row)

	row, err = a.At(-1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, row)

	last, err := a.Last()
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, last)

	_, err = a.At(99)
	assert.ErrorContains(t, err, "out of range")
}

func TestAppendRejectsWrongWidth(t *testing.T) {
	a := New(2, 0)
	err := a.Append([]float64{1, 2, 3})
	assert.ErrorContains(t, err, "invalid shape")
}

func TestSliceHalfOpenWithNegativeBounds(t *testing.T) {
	a := New(1, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Append([]float64{float64(i)}))
	}
	rows, err := a.Slice(1, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}}, rows)

	rows, err = a.Slice(-2, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3}, {4}}, rows)
}

func TestDropAtModuloRuleFiresOnSingleAppends(t *testing.T) {
	a := New(1, 4) // drop half (2 rows) whenever size is a multiple of 4
	for i := 1; i <= 4; i++ {
		require.NoError(t, a.Append([]float64{float64(i)}))
	}
	// size was 4 (a multiple of 4): oldest 2 rows dropped, 2 remain.
	assert.Equal(t, 2, a.Size())
	last, err := a.Last()
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, last)
}

func TestDropAtModuloRuleFiresInsideAppendMultiple(t *testing.T) {
	// This is the exact divergence flagged by the original source: a batched
	// append of 4 rows must trigger the same drop a single-row loop would.
	a := New(1, 4)
	rows := [][]float64{{1}, {2}, {3}, {4}}
	require.NoError(t, a.AppendMultiple(rows))
	assert.Equal(t, 2, a.Size())
}

func TestDeleteAtShiftsRowsUp(t *testing.T) {
	a := New(1, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Append([]float64{float64(i)}))
	}
	require.NoError(t, a.DeleteAt(0))
	assert.Equal(t, 2, a.Size())
	row, _ := a.At(0)
	assert.Equal(t, []float64{1}, row)
}

func TestFlushResetsToEmpty(t *testing.T) {
	a := New(1, 0)
	require.NoError(t, a.Append([]float64{1}))
	a.Flush()
	assert.Equal(t, 0, a.Size())
	_, err := a.Last()
	assert.Error(t, err)
}

func TestFindFilterSum(t *testing.T) {
	a := New(2, 0)
	require.NoError(t, a.Append([]float64{1, 10}))
	require.NoError(t, a.Append([]float64{2, 20}))
	require.NoError(t, a.Append([]float64{1, 30}))

	assert.Equal(t, 0, a.Find(0, 1))
	assert.Len(t, a.Filter(0, 1), 2)
	assert.Equal(t, 60.0, a.Sum(1))
}
