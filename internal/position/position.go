// Package position implements per-(exchange,symbol) position accounting:
// open/increase/reduce/close, PnL/ROI, and futures liquidation pricing.
//
// Grounded on original_source/include/Position.hpp and src/Position.cpp
// (ct::position::Position). The original's std::any attribute-bag
// constructor is replaced by a typed Builder (spec.md §9 design note).
package position

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// Type classifies a position's directional state.
type Type string

const (
	TypeLong  Type = "LONG"
	TypeShort Type = "SHORT"
	TypeClose Type = "CLOSE"
)

// LeverageMode mirrors the owning exchange's margin mode for futures.
type LeverageMode string

const (
	LeverageCross    LeverageMode = "CROSS"
	LeverageIsolated LeverageMode = "ISOLATED"
)

// operation selects how updateQty folds a delta into the stored qty.
type operation int

const (
	opSet operation = iota
	opAdd
	opSubtract
)

// Owner is the narrow view of the owning exchange a Position needs: its
// kind (spot vs futures), fee rate, and leverage/margin-mode resolution.
// Implemented by *exchange.Account so this package never imports exchange.
type Owner interface {
	IsFutures() bool
	FeeRate() float64
	Leverage() float64
	LeverageMode() (LeverageMode, bool)
	ChargeFee(amount float64)
	AddRealizedPnl(amount float64)
	IncreaseAssetTempReducedAmount(asset string, amount float64)
}

// Position is one (exchange,symbol) position's full accounting state.
type Position struct {
	ID           string
	ExchangeName string
	Symbol       string
	BaseAsset    string

	EntryPrice   *float64
	ExitPrice    *float64
	CurrentPrice *float64

	Qty         float64
	PreviousQty float64

	OpenedAt *time.Time
	ClosedAt *time.Time

	MarkPrice              *float64
	FundingRate            *float64
	NextFundingTimestampMs *int64
	LiquidationPrice       *float64

	owner Owner
}

// Builder constructs a Position from typed fields, replacing the
// original's std::any attribute bag.
type Builder struct {
	ID           string
	ExchangeName string
	Symbol       string
	BaseAsset    string
	EntryPrice   *float64
	ExitPrice    *float64
	CurrentPrice *float64
	Qty          float64
	PreviousQty  float64
}

// Build constructs a Position bound to owner, the exchange whose balances
// and fee/leverage configuration govern it.
func (b Builder) Build(owner Owner) *Position {
	id := b.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Position{
		ID:           id,
		ExchangeName: b.ExchangeName,
		Symbol:       b.Symbol,
		BaseAsset:    b.BaseAsset,
		EntryPrice:   b.EntryPrice,
		ExitPrice:    b.ExitPrice,
		CurrentPrice: b.CurrentPrice,
		Qty:          b.Qty,
		PreviousQty:  b.PreviousQty,
		owner:        owner,
	}
}

const minQty = 0.0 // backtest mode has no exchange-reported minimum lot size

// IsLong reports whether qty is positive (beyond the minimum lot).
func (p *Position) IsLong() bool { return p.Qty > minQty }

// IsShort reports whether qty is negative (beyond the minimum lot).
func (p *Position) IsShort() bool { return p.Qty < -math.Abs(minQty) }

// PositionType derives LONG/SHORT/CLOSE from the current qty.
func (p *Position) PositionType() Type {
	switch {
	case p.IsLong():
		return TypeLong
	case p.IsShort():
		return TypeShort
	default:
		return TypeClose
	}
}

// IsOpen reports the position is long or short.
func (p *Position) IsOpen() bool { return p.PositionType() != TypeClose }

// IsClose reports the position is flat.
func (p *Position) IsClose() bool { return p.PositionType() == TypeClose }

// Value is the position's notional value in quote currency.
func (p *Position) Value() float64 {
	if p.IsClose() {
		return 0
	}
	if p.CurrentPrice == nil {
		return math.NaN()
	}
	return math.Abs(*p.CurrentPrice * p.Qty)
}

// Leverage resolves the owning exchange's configured leverage; 1 for spot.
func (p *Position) Leverage() float64 {
	if !p.owner.IsFutures() {
		return 1.0
	}
	return p.owner.Leverage()
}

// TotalCost is entry notional divided by leverage (the margin committed).
func (p *Position) TotalCost() float64 {
	if p.IsClose() {
		return math.NaN()
	}
	entry := 0.0
	if p.EntryPrice != nil {
		entry = *p.EntryPrice
	}
	base := entry * math.Abs(p.Qty)
	if p.owner.IsFutures() {
		return base / p.Leverage()
	}
	return base
}

// EntryMargin is an alias for TotalCost, matching the original's naming.
func (p *Position) EntryMargin() float64 { return p.TotalCost() }

// Pnl is the position's unrealized profit/loss in quote currency.
func (p *Position) Pnl() float64 {
	if math.Abs(p.Qty) < minQty {
		return 0
	}
	if p.EntryPrice == nil {
		return 0
	}
	v := p.Value()
	if v == 0 || math.IsNaN(v) {
		return 0
	}
	diff := v - math.Abs(*p.EntryPrice*p.Qty)
	if p.PositionType() == TypeShort {
		return -diff
	}
	return diff
}

// Roi is PnL expressed as a percentage of the committed margin.
func (p *Position) Roi() float64 {
	pnl := p.Pnl()
	if pnl == 0 {
		return 0
	}
	return pnl / p.TotalCost() * 100
}

func (p *Position) initialMarginRate() float64 { return 1.0 / p.Leverage() }

// BankruptcyPrice is the price at which margin is fully consumed.
func (p *Position) BankruptcyPrice() float64 {
	entry := 0.0
	if p.EntryPrice != nil {
		entry = *p.EntryPrice
	}
	switch p.PositionType() {
	case TypeLong:
		return entry * (1 - p.initialMarginRate())
	case TypeShort:
		return entry * (1 + p.initialMarginRate())
	default:
		return math.NaN()
	}
}

// Liquidation computes the isolated-margin liquidation price. It returns
// (0, false) for spot, cross margin, or a closed position — matching the
// original's NaN sentinel without leaking NaN into callers.
func (p *Position) Liquidation() (float64, bool) {
	if p.IsClose() {
		return 0, false
	}
	mode, ok := p.owner.LeverageMode()
	if !ok || mode == LeverageCross {
		return 0, false
	}
	if mode != LeverageIsolated {
		return 0, false
	}
	entry := 0.0
	if p.EntryPrice != nil {
		entry = *p.EntryPrice
	}
	switch p.PositionType() {
	case TypeLong:
		return entry * (1 - p.initialMarginRate() + 0.004), true
	case TypeShort:
		return entry * (1 + p.initialMarginRate() - 0.004), true
	default:
		return 0, false
	}
}

func estimatePNL(qty, entryPrice, exitPrice float64, t Type) float64 {
	diff := (exitPrice - entryPrice) * qty
	if t == TypeShort {
		return -diff
	}
	return diff
}

func estimateAveragePrice(newQty, newPrice, oldQty, oldPrice float64) float64 {
	totalQty := math.Abs(oldQty) + newQty
	if totalQty == 0 {
		return newPrice
	}
	return (math.Abs(oldQty)*oldPrice + newQty*newPrice) / totalQty
}

// updateQty folds a qty delta into the stored qty, applying spot fee
// semantics (fee only deducted on SET/ADD, i.e. buys) or futures
// pass-through semantics, per the original's updateQty.
func (p *Position) updateQty(qty float64, op operation) {
	p.PreviousQty = p.Qty
	if p.owner.IsFutures() {
		switch op {
		case opSet:
			p.Qty = qty
		case opAdd:
			p.Qty += qty
		case opSubtract:
			p.Qty -= qty
		}
		return
	}
	switch op {
	case opSet:
		p.Qty = qty * (1 - p.owner.FeeRate())
	case opAdd:
		p.Qty += qty * (1 - p.owner.FeeRate())
	case opSubtract:
		// Spot sell fees are settled against the quote-currency balance,
		// not deducted from qty here.
		p.Qty -= qty
	}
}

// Open establishes a new position at qty and price.
func (p *Position) Open(qty, price float64) error {
	if p.IsOpen() {
		return ctxerr.ErrOpenPositionError
	}
	p.EntryPrice = &price
	p.ExitPrice = nil
	p.updateQty(qty, opSet)
	now := time.Now().UTC()
	p.OpenedAt = &now
	return nil
}

// Increase adds to an already-open position, recomputing the average
// entry price.
func (p *Position) Increase(qty, price float64) error {
	if !p.IsOpen() {
		return ctxerr.ErrEmptyPosition
	}
	qty = math.Abs(qty)
	entry := 0.0
	if p.EntryPrice != nil {
		entry = *p.EntryPrice
	}
	avg := estimateAveragePrice(qty, price, p.Qty, entry)
	p.EntryPrice = &avg

	switch p.PositionType() {
	case TypeLong:
		p.updateQty(qty, opAdd)
	case TypeShort:
		p.updateQty(qty, opSubtract)
	}
	return nil
}

// Reduce shrinks an open position without closing it, realizing PnL on
// the reduced portion for futures positions.
func (p *Position) Reduce(qty, price float64) error {
	if !p.IsOpen() {
		return ctxerr.ErrEmptyPosition
	}
	qty = math.Abs(qty)
	entry := 0.0
	if p.EntryPrice != nil {
		entry = *p.EntryPrice
	}
	profit := estimatePNL(qty, entry, price, p.PositionType())

	if p.owner.IsFutures() {
		p.owner.AddRealizedPnl(profit)
		p.owner.IncreaseAssetTempReducedAmount(p.BaseAsset, math.Abs(qty*price))
	}

	switch p.PositionType() {
	case TypeLong:
		p.updateQty(qty, opSubtract)
	case TypeShort:
		p.updateQty(qty, opAdd)
	}
	return nil
}

// Close flattens the position at closePrice, realizing final PnL for
// futures positions.
func (p *Position) Close(closePrice float64) error {
	if p.IsClose() {
		return ctxerr.ErrEmptyPosition
	}
	p.ExitPrice = &closePrice
	now := time.Now().UTC()
	p.ClosedAt = &now

	if p.owner.IsFutures() {
		closeQty := math.Abs(p.Qty)
		entry := 0.0
		if p.EntryPrice != nil {
			entry = *p.EntryPrice
		}
		profit := estimatePNL(closeQty, entry, closePrice, p.PositionType())
		p.owner.AddRealizedPnl(profit)
		p.owner.IncreaseAssetTempReducedAmount(p.BaseAsset, math.Abs(closeQty*closePrice))
	}

	p.updateQty(0, opSet)
	p.EntryPrice = nil
	return nil
}

// OnExecutedOrder applies a filled order's qty/price/reduce-only flag to
// the position (backtest/simulation semantics; the live-trading stream
// path is OnUpdateFromStream).
func (p *Position) OnExecutedOrder(qty, price float64, reduceOnly bool) error {
	if p.owner.IsFutures() {
		p.owner.ChargeFee(math.Abs(qty) * price)
	}

	switch {
	case p.Qty == 0:
		return p.Open(qty, price)
	case p.Qty+qty == 0:
		return p.Close(price)
	case p.Qty*qty > 0:
		if reduceOnly {
			return nil
		}
		return p.Increase(qty, price)
	case p.Qty*qty < 0:
		if math.Abs(qty) > math.Abs(p.Qty) {
			if reduceOnly {
				return p.Close(price)
			}
			diffQty := p.Qty + qty
			if err := p.Close(price); err != nil {
				return err
			}
			return p.Open(diffQty, price)
		}
		return p.Reduce(qty, price)
	}
	return nil
}

// OnUpdateFromStream reconciles position state from a live account-stream
// push: entry price/liquidation for futures, qty tracking and
// open/close transition detection for both.
func (p *Position) OnUpdateFromStream(qty float64, entryPrice, liquidationPrice *float64) {
	beforeQty := math.Abs(p.Qty)
	afterQty := math.Abs(qty)

	if p.owner.IsFutures() {
		p.EntryPrice = entryPrice
		p.LiquidationPrice = liquidationPrice
	} else if afterQty > minQty && p.EntryPrice == nil {
		p.EntryPrice = p.CurrentPrice
	}

	if p.Qty != qty {
		p.PreviousQty = p.Qty
		p.Qty = qty
	}

	opening := beforeQty <= minQty && afterQty > minQty
	closing := beforeQty > minQty && afterQty <= minQty

	now := time.Now().UTC()
	switch {
	case opening:
		p.OpenedAt = &now
	case closing:
		p.ClosedAt = &now
	}
}
