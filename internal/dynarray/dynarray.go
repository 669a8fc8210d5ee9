// Package dynarray implements an append-only, amortized-growth row buffer
// used as the storage backbone for candles, order books and trade buckets.
//
// Rows are fixed-width []float64; growth is geometric (factor 1.5); an
// optional drop-at policy halves retention once the logical size becomes a
// multiple of the configured threshold, bounding memory on unbounded
// streams without ever losing the newest data.
package dynarray

import (
	"math"

	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

const growthFactor = 1.5

// Array is a single-writer, multi-reader-safe-on-snapshot row buffer.
// It is not safe for concurrent mutation; callers serialize writes the way
// every other engine repository does (single engine goroutine).
type Array struct {
	cols     int
	data     [][]float64
	index    int // -1 means empty; otherwise points at the last valid row
	dropAt   int // 0 disables auto-drop
}

// New creates an Array with the given column width and an optional drop-at
// threshold (0 disables it).
func New(cols int, dropAt int) *Array {
	return &Array{cols: cols, index: -1, dropAt: dropAt}
}

// Size returns the number of logical rows currently stored.
func (a *Array) Size() int {
	return a.index + 1
}

// Cols returns the fixed row width.
func (a *Array) Cols() int { return a.cols }

func (a *Array) grow() {
	needed := a.index + 1
	if needed <= len(a.data) {
		return
	}
	newCap := len(a.data)
	if newCap == 0 {
		newCap = 1
	}
	for newCap < needed {
		newCap = int(math.Ceil(float64(newCap) * growthFactor))
	}
	grown := make([][]float64, newCap)
	copy(grown, a.data)
	for i := len(a.data); i < newCap; i++ {
		grown[i] = make([]float64, a.cols)
	}
	a.data = grown
}

// Append adds a single row, growing the backing store as needed and then
// applying the drop-at-half policy if the new logical size is a multiple
// of dropAt.
func (a *Array) Append(row []float64) error {
	if len(row) != a.cols {
		return errors.Wrapf(ctxerr.ErrInvalidShape, "dynarray: row width %d != %d", len(row), a.cols)
	}
	a.index++
	a.grow()
	copy(a.data[a.index], row)
	a.maybeDrop()
	return nil
}

// AppendMultiple appends every row in order. The drop-at check runs after
// each row (not once at the end), so batched and single appends can never
// disagree on when the threshold fires — see DESIGN.md's resolution of the
// "modulo vs equality" open question.
func (a *Array) AppendMultiple(rows [][]float64) error {
	for _, r := range rows {
		if err := a.Append(r); err != nil {
			return err
		}
	}
	return nil
}

// maybeDrop halves retention (drops the oldest dropAt/2 rows) whenever the
// logical size is a positive multiple of dropAt. The modulo rule, not an
// exact-equality check, so it still fires correctly after AppendMultiple.
func (a *Array) maybeDrop() {
	if a.dropAt <= 0 {
		return
	}
	size := a.Size()
	if size == 0 || size%a.dropAt != 0 {
		return
	}
	toDrop := a.dropAt / 2
	if toDrop <= 0 {
		return
	}
	a.shift(toDrop)
}

// shift removes the oldest n rows, compacting the remainder to the front.
func (a *Array) shift(n int) {
	if n <= 0 {
		return
	}
	size := a.Size()
	if n > size {
		n = size
	}
	copy(a.data, a.data[n:a.index+1])
	for i := a.index - n + 1; i <= a.index; i++ {
		a.data[i] = make([]float64, a.cols)
	}
	a.index -= n
}

// resolve converts a possibly-negative index into an absolute row index,
// where -1 means the last row.
func (a *Array) resolve(i int) (int, error) {
	if i < 0 {
		i = a.Size() + i
	}
	if a.index < 0 || i < 0 || i > a.index {
		return 0, errors.Wrapf(ctxerr.ErrOutOfRange, "dynarray: index %d out of range (size=%d)", i, a.Size())
	}
	return i, nil
}

// At returns a copy of the row at i (negative indices count from the end).
func (a *Array) At(i int) ([]float64, error) {
	idx, err := a.resolve(i)
	if err != nil {
		return nil, err
	}
	out := make([]float64, a.cols)
	copy(out, a.data[idx])
	return out, nil
}

// Last returns the most recently appended row.
func (a *Array) Last() ([]float64, error) {
	return a.At(-1)
}

// Past returns the row `past` steps behind the last one (Past(0) == Last()).
func (a *Array) Past(past int) ([]float64, error) {
	if past < 0 {
		return nil, errors.Wrap(ctxerr.ErrOutOfRange, "dynarray: negative past index")
	}
	if a.index < past {
		return nil, errors.Wrapf(ctxerr.ErrOutOfRange, "dynarray: past %d exceeds size %d", past, a.Size())
	}
	return a.At(a.index - past)
}

// Slice returns a half-open [start,stop) view (copied rows). stop==0 means
// "to the end"; negative bounds count from the end, matching the original
// DynamicArray::slice semantics.
func (a *Array) Slice(start, stop int) ([][]float64, error) {
	size := a.Size()
	if start < 0 {
		start = size + start
	}
	if stop == 0 {
		stop = size
	} else if stop < 0 {
		stop = size + stop
	}
	if start < 0 {
		start = 0
	}
	if stop > size {
		stop = size
	}
	if start >= stop {
		return nil, nil
	}
	out := make([][]float64, 0, stop-start)
	for i := start; i < stop; i++ {
		row := make([]float64, a.cols)
		copy(row, a.data[i])
		out = append(out, row)
	}
	return out, nil
}

// DeleteAt removes the row at logical index i, shifting later rows up by
// one and shrinking the logical size.
func (a *Array) DeleteAt(i int) error {
	idx, err := a.resolve(i)
	if err != nil {
		return err
	}
	for k := idx; k < a.index; k++ {
		copy(a.data[k], a.data[k+1])
	}
	a.data[a.index] = make([]float64, a.cols)
	a.index--
	return nil
}

// Flush resets the array to empty, releasing stored rows.
func (a *Array) Flush() {
	a.data = nil
	a.index = -1
}

// Find returns the index of the first row whose value at `col` equals
// `value`, or -1 if not found.
func (a *Array) Find(col int, value float64) int {
	for i := 0; i <= a.index; i++ {
		if a.data[i][col] == value {
			return i
		}
	}
	return -1
}

// Filter returns copies of every row whose value at `col` equals `value`.
func (a *Array) Filter(col int, value float64) [][]float64 {
	var out [][]float64
	for i := 0; i <= a.index; i++ {
		if a.data[i][col] == value {
			row := make([]float64, a.cols)
			copy(row, a.data[i])
			out = append(out, row)
		}
	}
	return out
}

// Sum totals the values in column `col` across all stored rows.
func (a *Array) Sum(col int) float64 {
	var total float64
	for i := 0; i <= a.index; i++ {
		total += a.data[i][col]
	}
	return total
}

// Capacity returns the number of rows currently backing the array
// (pre-allocated, possibly larger than Size).
func (a *Array) Capacity() int { return len(a.data) }
