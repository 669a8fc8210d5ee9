// Package candle implements the per-(exchange,symbol,timeframe) candle
// store: a 1-minute ring plus one ring per configured higher timeframe,
// with live-mode continuation-candle synthesis and backtest bulk loading.
//
// Grounded on original_source/src/Candle.cpp and the teacher's Candle
// field naming (chidi150c-coinbase/strategy.go).
package candle

import (
	"math"

	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/dynarray"
	"github.com/lumenquant/ctengine/internal/metrics"
	"github.com/lumenquant/ctengine/internal/timeframe"
)

const cols = 6 // ts_ms, open, close, high, low, volume
const overwriteScanDepth = 20

// Candle is the fixed 6-tuple from spec.md §3.
type Candle struct {
	TimestampMs int64
	Open        float64
	Close       float64
	High        float64
	Low         float64
	Volume      float64
}

func (c Candle) row() []float64 {
	return []float64{float64(c.TimestampMs), c.Open, c.Close, c.High, c.Low, c.Volume}
}

func rowToCandle(row []float64) Candle {
	return Candle{
		TimestampMs: int64(row[0]),
		Open:        row[1],
		Close:       row[2],
		High:        row[3],
		Low:         row[4],
		Volume:      row[5],
	}
}

type pairKey struct {
	exchange string
	symbol   string
}

type pairState struct {
	oneMinute   *dynarray.Array
	higher      map[timeframe.Timeframe]*dynarray.Array
	initialized bool
}

// PriceUpdater is implemented by whatever owns current-price bookkeeping
// (the position repository) so the candle store can update mark prices
// without importing the position package.
type PriceUpdater interface {
	UpdateCurrentPrice(exchange, symbol string, price float64)
}

// State is the session-owned candle repository, replacing the original's
// per-pair CandlesState singleton.
type State struct {
	pairs           map[pairKey]*pairState
	higherTFs       []timeframe.Timeframe
	windowMinutes   int
	liveMode        bool
	prices          PriceUpdater
}

// Option configures a new State.
type Option func(*State)

// WithHigherTimeframes configures which timeframes get generated from 1m.
func WithHigherTimeframes(tfs ...timeframe.Timeframe) Option {
	return func(s *State) { s.higherTFs = tfs }
}

// WithWindowMinutes sets the retention window (minutes) higher-timeframe
// rings are sized against (ring size = window/tf + 1, per spec.md §4.5).
func WithWindowMinutes(minutes int) Option {
	return func(s *State) { s.windowMinutes = minutes }
}

// WithLiveMode marks the store as live (enables with_skip gating and
// continuation-candle synthesis); false means backtest/paper.
func WithLiveMode(live bool) Option {
	return func(s *State) { s.liveMode = live }
}

// WithPriceUpdater wires a current-price sink (usually the position
// repository) that AddCandle notifies on every in-the-past-or-now candle.
func WithPriceUpdater(p PriceUpdater) Option {
	return func(s *State) { s.prices = p }
}

// New creates an empty candle repository.
func New(opts ...Option) *State {
	s := &State{
		pairs:         make(map[pairKey]*pairState),
		windowMinutes: 1440,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

const oneMinuteRingCapacity = 10000

func (s *State) get(exchange, symbol string) *pairState {
	k := pairKey{exchange, symbol}
	p, ok := s.pairs[k]
	if !ok {
		p = &pairState{
			oneMinute: dynarray.New(cols, oneMinuteRingCapacity),
			higher:    make(map[timeframe.Timeframe]*dynarray.Array),
		}
		for _, tf := range s.higherTFs {
			mins, err := timeframe.ToMinutes(tf)
			if err != nil {
				continue
			}
			size := s.windowMinutes/int(mins) + 1
			if size < 2 {
				size = 2
			}
			p.higher[tf] = dynarray.New(cols, size)
		}
		s.pairs[k] = p
	}
	return p
}

func ringFor(p *pairState, tf timeframe.Timeframe) *dynarray.Array {
	if tf == timeframe.Minute1 {
		return p.oneMinute
	}
	return p.higher[tf]
}

// AddCandleOptions controls AddCandle's optional side effects.
type AddCandleOptions struct {
	WithExecution bool // invoke the simulation hook (wired externally; see internal/simulate)
	WithGeneration bool
	WithSkip      bool
}

// ExecutionHook is called after a candle is stored when WithExecution is
// set and the store is in paper/backtest mode — the simulation driver
// registers itself here rather than candle importing simulate.
type ExecutionHook func(exchange, symbol string, tf timeframe.Timeframe, c Candle)

// AddCandle implements the five-step algorithm from spec.md §4.5.
func (s *State) AddCandle(exchange, symbol string, tf timeframe.Timeframe, c Candle, opts AddCandleOptions, now int64, execHook ExecutionHook, genHook func(exchange, symbol string)) error {
	if c.TimestampMs == 0 {
		return errors.Wrap(ctxerr.ErrInvalidShape, "candle: timestamp_ms must be nonzero")
	}

	p := s.get(exchange, symbol)
	ring := ringFor(p, tf)
	if ring == nil {
		return errors.Wrapf(ctxerr.ErrInvalidTimeframe, "candle: timeframe %s not configured", tf)
	}

	if s.liveMode && !p.initialized && opts.WithSkip {
		return nil
	}

	if c.TimestampMs <= now && p.initialized && s.prices != nil {
		s.prices.UpdateCurrentPrice(exchange, symbol, c.Close)
	}

	if err := s.upsert(ring, c); err != nil {
		return err
	}
	p.initialized = true
	metrics.CandlesIngested.WithLabelValues(exchange, symbol, string(tf)).Inc()

	if opts.WithExecution && !s.liveMode && execHook != nil {
		execHook(exchange, symbol, tf, c)
	}
	if opts.WithGeneration && tf == timeframe.Minute1 && genHook != nil {
		genHook(exchange, symbol)
	}
	return nil
}

// upsert implements the append/overwrite/scan-back/drop rule of spec.md
// §4.5 step 4.
func (s *State) upsert(ring *dynarray.Array, c Candle) error {
	last, err := ring.Last()
	if err != nil {
		return ring.Append(c.row())
	}
	lastTs := int64(last[0])
	switch {
	case c.TimestampMs > lastTs:
		return ring.Append(c.row())
	case c.TimestampMs == lastTs:
		if err := ring.DeleteAt(-1); err != nil {
			return err
		}
		return ring.Append(c.row())
	default:
		size := ring.Size()
		depth := overwriteScanDepth
		if depth > size {
			depth = size
		}
		for i := 0; i < depth; i++ {
			idx := -1 - i
			row, err := ring.At(idx)
			if err != nil {
				break
			}
			if int64(row[0]) == c.TimestampMs {
				// overwrite in place: rewrite the whole ring window is
				// wasteful; DynamicArray has no direct "set at index", so
				// we delete+reinsert is not order-preserving — instead
				// mutate via a targeted rebuild of the scanned tail.
				return s.overwriteAt(ring, idx, c)
			}
		}
		return nil // older than scan window: drop, per spec.md §4.5 step 4
	}
}

func (s *State) overwriteAt(ring *dynarray.Array, idxFromEnd int, c Candle) error {
	tail, err := ring.Slice(idxFromEnd, 0)
	if err != nil {
		return err
	}
	for range tail {
		if err := ring.DeleteAt(-1); err != nil {
			return err
		}
	}
	if err := ring.Append(c.row()); err != nil {
		return err
	}
	for _, row := range tail[1:] {
		if err := ring.Append(row); err != nil {
			return err
		}
	}
	return nil
}

// GenerateHigherTimeframes reduces the 1-minute ring into each configured
// higher timeframe, per spec.md §4.5's reduction rule. Forming candles are
// overwritten on every call.
func (s *State) GenerateHigherTimeframes(exchange, symbol string) error {
	p := s.get(exchange, symbol)
	for tf, ring := range p.higher {
		mins, err := timeframe.ToMinutes(tf)
		if err != nil {
			continue
		}
		if err := s.generateOne(p.oneMinute, ring, int(mins)); err != nil {
			return err
		}
	}
	return nil
}

// generateOne recomputes the currently-forming higher-timeframe candle by
// aggregating every stored 1-minute row that falls within the period-aligned
// window containing the newest 1-minute candle, then upserting it — so the
// forming candle is always overwritten in place until the period rolls over
// and a new one begins (spec.md §4.5's "forming candles are allowed and
// overwritten on each new 1m").
func (s *State) generateOne(oneMin, higher *dynarray.Array, periodMinutes int) error {
	last, err := oneMin.Last()
	if err != nil {
		return nil
	}
	periodMs := int64(periodMinutes) * 60000
	lastTs := int64(last[0])
	periodStart := lastTs - (lastTs % periodMs)

	all, err := oneMin.Slice(0, 0)
	if err != nil {
		return err
	}
	start := len(all)
	for i := len(all) - 1; i >= 0; i-- {
		if int64(all[i][0]) < periodStart {
			break
		}
		start = i
	}
	window := all[start:]
	if len(window) == 0 {
		return nil
	}
	reduced := reduceWindow(window)
	reduced.TimestampMs = periodStart
	return s.upsert(higher, reduced)
}

func reduceWindow(rows [][]float64) Candle {
	first := rowToCandle(rows[0])
	last := rowToCandle(rows[len(rows)-1])
	high := first.High
	low := first.Low
	var vol float64
	for _, r := range rows {
		c := rowToCandle(r)
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		vol += c.Volume
	}
	return Candle{
		TimestampMs: first.TimestampMs,
		Open:        first.Open,
		Close:       last.Close,
		High:        high,
		Low:         low,
		Volume:      vol,
	}
}

// AddCandleFromTrade implements spec.md §4.5's live-only trade-driven patch:
// if the forming candle is older than one period, first inject an empty
// continuation candle, then patch close/high/low/volume.
func (s *State) AddCandleFromTrade(exchange, symbol string, price, volume float64, nowMs int64, periodMs int64) error {
	p := s.get(exchange, symbol)
	ring := p.oneMinute
	last, err := ring.Last()
	if err != nil {
		return ring.Append((Candle{TimestampMs: nowMs, Open: price, Close: price, High: price, Low: price, Volume: volume}).row())
	}
	prev := rowToCandle(last)
	if nowMs-prev.TimestampMs >= periodMs {
		cont := Candle{
			TimestampMs: prev.TimestampMs + periodMs,
			Open:        prev.Close,
			Close:       prev.Close,
			High:        prev.Close,
			Low:         prev.Close,
			Volume:      0,
		}
		if err := ring.Append(cont.row()); err != nil {
			return err
		}
		prev = cont
	}
	patched := prev
	patched.Close = price
	patched.High = math.Max(patched.High, price)
	patched.Low = math.Min(patched.Low, price)
	patched.Volume += volume
	if err := ring.DeleteAt(-1); err != nil {
		return err
	}
	return ring.Append(patched.row())
}

// AddMultiple1m bulk-loads 1-minute rows for backtest/optimize, splicing
// an overlapping tail rather than appending duplicates.
func (s *State) AddMultiple1m(exchange, symbol string, rows []Candle) error {
	p := s.get(exchange, symbol)
	ring := p.oneMinute
	if ring.Size() == 0 {
		for _, r := range rows {
			if err := ring.Append(r.row()); err != nil {
				return err
			}
		}
		return nil
	}
	oldest, _ := ring.At(0)
	if len(rows) == 0 {
		return nil
	}
	if rows[0].TimestampMs < int64(oldest[0]) {
		return errors.Wrap(ctxerr.ErrCandlesNotFound, "candle: AddMultiple1m incoming rows older than stored history")
	}
	for _, r := range rows {
		if err := s.upsert(ring, r); err != nil {
			return err
		}
	}
	return nil
}

// Last returns the most recent candle for (exchange,symbol,tf).
func (s *State) Last(exchange, symbol string, tf timeframe.Timeframe) (Candle, bool) {
	p := s.get(exchange, symbol)
	ring := ringFor(p, tf)
	if ring == nil {
		return Candle{}, false
	}
	row, err := ring.Last()
	if err != nil {
		return Candle{}, false
	}
	return rowToCandle(row), true
}

// All returns every stored candle for (exchange,symbol,tf), oldest first.
func (s *State) All(exchange, symbol string, tf timeframe.Timeframe) []Candle {
	p := s.get(exchange, symbol)
	ring := ringFor(p, tf)
	if ring == nil {
		return nil
	}
	rows, _ := ring.Slice(0, 0)
	out := make([]Candle, len(rows))
	for i, r := range rows {
		out[i] = rowToCandle(r)
	}
	return out
}
