// Package orderbook maintains per-(exchange,symbol) trimmed ask/bid ladders
// and a time-bucketed history of formatted snapshots.
//
// Grounded on original_source/include/Orderbook.hpp and src/Orderbook.cpp
// (ct::orderbook::OrderbooksState): R=50 levels per side, a price-grid
// trimming pass on every raw update, and a ring of formatted snapshots
// written at most once per 1000ms of wall time.
package orderbook

import (
	"math"
	"sort"
	"time"

	"github.com/lumenquant/ctengine/internal/dynarray"
)

// Levels is the number of price levels kept per side, padded with NaN.
const Levels = 50

const ringCapacity = 60
const snapshotCols = Levels * 4 // [askPrice, askQty] * Levels then [bidPrice, bidQty] * Levels

// Level is one (price, qty) rung of a ladder.
type Level struct {
	Price float64
	Qty   float64
}

// Snapshot is a fully formatted, NaN-padded order-book view.
type Snapshot struct {
	Asks [Levels]Level // ascending
	Bids [Levels]Level // descending
}

type key struct {
	exchange string
	symbol   string
}

type pair struct {
	ring         *dynarray.Array
	lastWriteAt  time.Time
	lastAsks     []Level
	lastBids     []Level
}

// State is the session-owned repository of order-book state for every
// (exchange,symbol) pair, replacing the original's OrderbooksState
// singleton (spec.md §9: singleton → session-scoped service handle).
type State struct {
	pairs map[key]*pair
}

// New creates an empty order-book repository.
func New() *State {
	return &State{pairs: make(map[key]*pair)}
}

func (s *State) get(exchange, symbol string) *pair {
	k := key{exchange, symbol}
	p, ok := s.pairs[k]
	if !ok {
		p = &pair{ring: dynarray.New(snapshotCols, ringCapacity)}
		s.pairs[k] = p
	}
	return p
}

// gridUnit returns the rounding unit for a ladder whose best (first) price
// is `price`, per spec.md §4.3's table.
func gridUnit(price float64) float64 {
	switch {
	case price < 0.1:
		return 1e-5
	case price < 1:
		return 1e-4
	case price < 10:
		return 1e-3
	case price < 100:
		return 1e-2
	case price < 1000:
		return 1e-1
	case price < 10000:
		return 1
	default:
		return 10
	}
}

// trimPrice rounds a price to the next grid point, rounding up for asks and
// down for bids.
func trimPrice(price float64, ascending bool, unit float64) float64 {
	if unit <= 0 {
		return price
	}
	if ascending {
		return math.Ceil(price/unit) * unit
	}
	return math.Floor(price/unit) * unit
}

// trim collapses raw levels onto the price grid, summing quantities at
// collapsed levels, and returns at most limitLen levels sorted by the given
// direction (ascending for asks, descending for bids).
func trim(levels []Level, ascending bool, limitLen int) []Level {
	if len(levels) == 0 {
		return nil
	}
	unit := gridUnit(levels[0].Price)
	bucket := make(map[float64]float64, len(levels))
	order := make([]float64, 0, len(levels))
	for _, lv := range levels {
		p := trimPrice(lv.Price, ascending, unit)
		if _, seen := bucket[p]; !seen {
			order = append(order, p)
		}
		bucket[p] += lv.Qty
	}
	sort.Slice(order, func(i, j int) bool {
		if ascending {
			return order[i] < order[j]
		}
		return order[i] > order[j]
	})
	if len(order) > limitLen {
		order = order[:limitLen]
	}
	out := make([]Level, len(order))
	for i, p := range order {
		out[i] = Level{Price: p, Qty: bucket[p]}
	}
	return out
}

func fixLen(levels []Level, target int) [Levels]Level {
	var out [Levels]Level
	for i := range out {
		out[i] = Level{Price: math.NaN(), Qty: math.NaN()}
	}
	for i := 0; i < target && i < len(levels); i++ {
		out[i] = levels[i]
	}
	return out
}

// AddOrderbook ingests a raw update, trims both sides to the price grid,
// and — at most once per 1000ms of wall time — writes a formatted snapshot
// into the ring.
func (s *State) AddOrderbook(exchange, symbol string, asks, bids []Level, now time.Time) {
	p := s.get(exchange, symbol)

	trimmedAsks := trim(asks, true, Levels)
	trimmedBids := trim(bids, false, Levels)
	p.lastAsks = trimmedAsks
	p.lastBids = trimmedBids

	if !p.lastWriteAt.IsZero() && now.Sub(p.lastWriteAt) < time.Second {
		return
	}
	p.lastWriteAt = now

	askArr := fixLen(trimmedAsks, Levels)
	bidArr := fixLen(trimmedBids, Levels)
	row := make([]float64, snapshotCols)
	for i := 0; i < Levels; i++ {
		row[i*2] = askArr[i].Price
		row[i*2+1] = askArr[i].Qty
		row[Levels*2+i*2] = bidArr[i].Price
		row[Levels*2+i*2+1] = bidArr[i].Qty
	}
	_ = p.ring.Append(row)
}

func rowToSnapshot(row []float64) Snapshot {
	var snap Snapshot
	for i := 0; i < Levels; i++ {
		snap.Asks[i] = Level{Price: row[i*2], Qty: row[i*2+1]}
		snap.Bids[i] = Level{Price: row[Levels*2+i*2], Qty: row[Levels*2+i*2+1]}
	}
	return snap
}

// CurrentOrderbook returns the most recently written formatted snapshot.
func (s *State) CurrentOrderbook(exchange, symbol string) (Snapshot, bool) {
	p, ok := s.pairs[key{exchange, symbol}]
	if !ok {
		return Snapshot{}, false
	}
	row, err := p.ring.Last()
	if err != nil {
		return Snapshot{}, false
	}
	return rowToSnapshot(row), true
}

// BestAsk returns the lowest ask level of the current snapshot.
func (s *State) BestAsk(exchange, symbol string) (Level, bool) {
	snap, ok := s.CurrentOrderbook(exchange, symbol)
	if !ok {
		return Level{}, false
	}
	return snap.Asks[0], true
}

// BestBid returns the highest bid level of the current snapshot.
func (s *State) BestBid(exchange, symbol string) (Level, bool) {
	snap, ok := s.CurrentOrderbook(exchange, symbol)
	if !ok {
		return Level{}, false
	}
	return snap.Bids[0], true
}

// History returns every stored snapshot, oldest first.
func (s *State) History(exchange, symbol string) []Snapshot {
	p, ok := s.pairs[key{exchange, symbol}]
	if !ok {
		return nil
	}
	rows, _ := p.Slice()
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = rowToSnapshot(r)
	}
	return out
}

func (p *pair) Slice() ([][]float64, error) {
	return p.ring.Slice(0, 0)
}
