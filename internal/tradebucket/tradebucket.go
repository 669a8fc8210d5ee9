// Package tradebucket aggregates raw trades into 1-second summary buckets
// per (exchange,symbol), grounded on original_source/include/Trade.hpp and
// src/Trade.cpp (ct::trade::TradesState).
package tradebucket

import (
	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/dynarray"
)

// Side marks the aggressor side of a raw trade.
type Side int

const (
	SideSell Side = 0
	SideBuy  Side = 1
)

// RawTrade is one incoming trade tick.
type RawTrade struct {
	TimestampMs int64
	Price       float64
	Qty         float64
	Side        Side
}

// Bucket is a collapsed summary of at most one real-time second of trades.
type Bucket struct {
	TimestampMs int64
	AvgPrice    float64
	BuyQty      float64
	SellQty     float64
	BuyCount    int
	SellCount   int
}

const ringCapacity = 120
const bucketCols = 6 // ts, avgPrice, buyQty, sellQty, buyCount, sellCount

type key struct {
	exchange string
	symbol   string
}

type pair struct {
	ring    *dynarray.Array
	scratch []RawTrade
}

// State is the session-owned repository of trade-bucket state.
type State struct {
	pairs map[key]*pair
}

// New creates an empty trade-bucket repository.
func New() *State {
	return &State{pairs: make(map[key]*pair)}
}

func (s *State) get(exchange, symbol string) *pair {
	k := key{exchange, symbol}
	p, ok := s.pairs[k]
	if !ok {
		p = &pair{ring: dynarray.New(bucketCols, ringCapacity)}
		s.pairs[k] = p
	}
	return p
}

// AddTrade appends a raw trade to the scratch buffer. Once the incoming
// trade is ≥1000ms after the scratch's first row, the existing scratch is
// collapsed into a bucket and flushed before the new trade starts a fresh
// scratch window.
func (s *State) AddTrade(exchange, symbol string, t RawTrade) error {
	p := s.get(exchange, symbol)

	if len(p.scratch) > 0 && t.TimestampMs-p.scratch[0].TimestampMs >= 1000 {
		if err := p.collapse(); err != nil {
			p.scratch = append(p.scratch, t)
			return err
		}
	}
	p.scratch = append(p.scratch, t)
	return nil
}

func (p *pair) collapse() error {
	if len(p.scratch) == 0 {
		return nil
	}
	var sumPQ, sumQ, buyQty, sellQty float64
	var buyCount, sellCount int
	for _, t := range p.scratch {
		sumPQ += t.Price * t.Qty
		sumQ += t.Qty
		if t.Side == SideBuy {
			buyQty += t.Qty
			buyCount++
		} else {
			sellQty += t.Qty
			sellCount++
		}
	}
	if sumQ == 0 {
		// spec.md §4.4: DivideByZero skips the bucket and is returned to
		// the caller; it is not fatal.
		p.scratch = nil
		return errors.Wrap(ctxerr.ErrDivideByZero, "tradebucket: zero aggregate qty, bucket skipped")
	}
	bucket := []float64{
		float64(p.scratch[0].TimestampMs),
		sumPQ / sumQ,
		buyQty,
		sellQty,
		float64(buyCount),
		float64(sellCount),
	}
	p.scratch = nil
	return p.ring.Append(bucket)
}

func rowToBucket(row []float64) Bucket {
	return Bucket{
		TimestampMs: int64(row[0]),
		AvgPrice:    row[1],
		BuyQty:      row[2],
		SellQty:     row[3],
		BuyCount:    int(row[4]),
		SellCount:   int(row[5]),
	}
}

// Buckets returns every stored bucket for the pair, oldest first.
func (s *State) Buckets(exchange, symbol string) []Bucket {
	p, ok := s.pairs[key{exchange, symbol}]
	if !ok {
		return nil
	}
	rows, _ := p.ring.Slice(0, 0)
	out := make([]Bucket, len(rows))
	for i, r := range rows {
		out[i] = rowToBucket(r)
	}
	return out
}

// CurrentBucket returns the most recently collapsed bucket.
func (s *State) CurrentBucket(exchange, symbol string) (Bucket, bool) {
	p, ok := s.pairs[key{exchange, symbol}]
	if !ok {
		return Bucket{}, false
	}
	row, err := p.ring.Last()
	if err != nil {
		return Bucket{}, false
	}
	return rowToBucket(row), true
}
