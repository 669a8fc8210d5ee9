// Package arbitrage computes triangular-cycle profit across three order
// books and plans (without placing) the trade sequence that realizes it.
//
// Grounded on original_source/arbitrage/main.cpp (ArbitrageBot,
// NobitexClient) — the REST/WS venue client is generalized from the
// original's single hardcoded exchange to any venue satisfied by the
// BookSource interface, and the 0.35%-per-leg fee constant becomes a
// configurable parameter per spec.md §9's resolution of that open question.
package arbitrage

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// Level is one price/quantity rung of an order book side.
type Level struct {
	Price float64
	Qty   float64
}

// OrderBook is the minimal book shape getBestTurnOver needs.
type OrderBook struct {
	Bids []Level // best first
	Asks []Level // best first
}

// TurnOver is the result of walking one side of a book to absorb `amount`.
type TurnOver struct {
	ReceiveAmount float64 // quote received when selling `amount` of base into Bids
	PayAmount     float64 // base bought when spending `amount` of quote into Asks
}

// BestTurnOver walks bids to sell `amount` and asks to buy with `amount`,
// matching the original's getBestTurnOver(orderbook, amount) walk.
func BestTurnOver(book OrderBook, amount float64) TurnOver {
	sellAmount := amount
	var receiveAmount float64
	for _, bid := range book.Bids {
		if sellAmount <= 0 {
			break
		}
		if sellAmount <= bid.Qty {
			receiveAmount += sellAmount * bid.Price
			sellAmount = 0
			break
		}
		receiveAmount += bid.Qty * bid.Price
		sellAmount -= bid.Qty
	}

	buyAmount := amount
	var payAmount float64
	for _, ask := range book.Asks {
		if buyAmount <= 0 {
			break
		}
		if ask.Price <= 0 {
			payAmount = math.NaN()
			break
		}
		notional := ask.Price * ask.Qty
		if buyAmount <= notional {
			payAmount += buyAmount / ask.Price
			buyAmount = 0
			break
		}
		payAmount += ask.Qty
		buyAmount -= notional
	}

	return TurnOver{ReceiveAmount: receiveAmount, PayAmount: payAmount}
}

// BookSource fetches a venue's order book for a symbol pair, backed either
// by a cached websocket push or a REST fallback.
type BookSource interface {
	OrderBook(ctx context.Context, symbol string) (OrderBook, error)
}

// Config is one arbitrage run's trading-symbol triangle and sizing.
type Config struct {
	SymbolA      string
	SymbolB      string
	SymbolC      string
	TradeAmountA float64
	// FeePerLeg is the fraction of notional lost to fees on each of the
	// three legs (e.g. 0.0035 for 0.35%). Configurable per spec.md §9,
	// rather than the original's hardcoded 0.9965 multiplier.
	FeePerLeg float64
}

func (c Config) feeMultiplier() float64 { return 1 - c.FeePerLeg }

// ProfitResult is the computed forward/reverse cycle profit, as a fraction
// of TradeAmountA (not a percentage — callers multiply by 100 to display).
type ProfitResult struct {
	ForwardProfit float64
	ReverseProfit float64
}

// Best returns whichever of Forward/Reverse is larger, and which path.
func (r ProfitResult) Best() (profit float64, forward bool) {
	if r.ForwardProfit >= r.ReverseProfit {
		return r.ForwardProfit, true
	}
	return r.ReverseProfit, false
}

// CalculateProfit computes both cycle directions (A→B→C→A and A→C→B→A)
// given the three pairwise order books, matching the original's
// calculateArbitrageProfit.
func CalculateProfit(cfg Config, bookAB, bookBC, bookAC OrderBook) ProfitResult {
	fee := cfg.feeMultiplier()

	// Forward: A -> B -> C -> A
	b := BestTurnOver(bookAB, cfg.TradeAmountA).ReceiveAmount * fee
	c := BestTurnOver(bookBC, b).ReceiveAmount * fee
	a := BestTurnOver(bookAC, c).PayAmount * fee
	forwardProfit := (a - cfg.TradeAmountA) / cfg.TradeAmountA

	// Reverse: A -> C -> B -> A
	c2 := BestTurnOver(bookAC, cfg.TradeAmountA).ReceiveAmount * fee
	b2 := BestTurnOver(bookBC, c2).PayAmount * fee
	a2 := BestTurnOver(bookAB, b2).PayAmount * fee
	reverseProfit := (a2 - cfg.TradeAmountA) / cfg.TradeAmountA

	return ProfitResult{ForwardProfit: forwardProfit, ReverseProfit: reverseProfit}
}

// Leg is one executed trade in a cycle, for logging/auditing.
type Leg struct {
	Base, Quote string
	Side        string // "buy" or "sell"
	Amount      float64
}

// Plan returns the three legs needed to execute the better of the two
// cycle directions, without placing any orders — callers submit them
// through their own order/broker plumbing and feed realized fill amounts
// back in for the next leg's sizing.
func Plan(cfg Config, result ProfitResult) []Leg {
	_, forward := result.Best()
	if forward {
		return []Leg{
			{Base: cfg.SymbolA, Quote: cfg.SymbolB, Side: "sell", Amount: cfg.TradeAmountA},
			{Base: cfg.SymbolB, Quote: cfg.SymbolC, Side: "sell", Amount: 0}, // sized from leg 1's fill
			{Base: cfg.SymbolA, Quote: cfg.SymbolC, Side: "buy", Amount: 0}, // sized from leg 2's fill
		}
	}
	return []Leg{
		{Base: cfg.SymbolA, Quote: cfg.SymbolC, Side: "sell", Amount: cfg.TradeAmountA},
		{Base: cfg.SymbolB, Quote: cfg.SymbolC, Side: "buy", Amount: 0},
		{Base: cfg.SymbolA, Quote: cfg.SymbolB, Side: "buy", Amount: 0},
	}
}

// Validate checks a Config for the preconditions the original's
// validateConfig enforced (non-empty symbols, positive trade amount).
func (c Config) Validate() error {
	if c.SymbolA == "" || c.SymbolB == "" || c.SymbolC == "" {
		return errors.Wrap(ctxerr.ErrInvalidArgument, "arbitrage: all three symbols must be specified")
	}
	if c.TradeAmountA <= 0 {
		return errors.Wrap(ctxerr.ErrInvalidArgument, "arbitrage: trade amount must be positive")
	}
	return nil
}
