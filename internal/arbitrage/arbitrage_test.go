package arbitrage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestTurnOverSellWalksBidsUntilAbsorbed(t *testing.T) {
	book := OrderBook{
		Bids: []Level{{Price: 100, Qty: 1}, {Price: 99, Qty: 5}},
	}
	out := BestTurnOver(book, 2)
	// sells 1 @100, then 1 more @99
	assert.InDelta(t, 100+99, out.ReceiveAmount, 1e-9)
}

func TestBestTurnOverSellExhaustsBookLeavesRemainder(t *testing.T) {
	book := OrderBook{
		Bids: []Level{{Price: 100, Qty: 1}},
	}
	out := BestTurnOver(book, 5)
	// only 1 unit absorbed, no partial fallback beyond book depth
	assert.InDelta(t, 100, out.ReceiveAmount, 1e-9)
}

func TestBestTurnOverBuyWalksAsksByNotional(t *testing.T) {
	book := OrderBook{
		Asks: []Level{{Price: 10, Qty: 2}, {Price: 20, Qty: 10}},
	}
	// first level absorbs 20 quote units fully (2 base @10), remaining 10
	// quote buys 0.5 base @20
	out := BestTurnOver(book, 30)
	assert.InDelta(t, 2+0.5, out.PayAmount, 1e-9)
}

func TestBestTurnOverBuyWithZeroPriceYieldsNaN(t *testing.T) {
	book := OrderBook{
		Asks: []Level{{Price: 0, Qty: 5}},
	}
	out := BestTurnOver(book, 1)
	assert.True(t, math.IsNaN(out.PayAmount))
}

func TestBestTurnOverEmptyBookYieldsZero(t *testing.T) {
	out := BestTurnOver(OrderBook{}, 10)
	assert.Equal(t, 0.0, out.ReceiveAmount)
	assert.Equal(t, 0.0, out.PayAmount)
}

func flatBook(price float64, depth float64) OrderBook {
	return OrderBook{
		Bids: []Level{{Price: price, Qty: depth}},
		Asks: []Level{{Price: price, Qty: depth}},
	}
}

func TestCalculateProfitBreaksEvenWithoutFeesOnFlatBooks(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10, FeePerLeg: 0}
	// A/B = 1, B/C = 1, A/C = 1 -> round trip is a no-op either direction
	result := CalculateProfit(cfg, flatBook(1, 1000), flatBook(1, 1000), flatBook(1, 1000))
	assert.InDelta(t, 0, result.ForwardProfit, 1e-9)
	assert.InDelta(t, 0, result.ReverseProfit, 1e-9)
}

func TestCalculateProfitFeesMakeFlatBooksLosing(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10, FeePerLeg: 0.0035}
	result := CalculateProfit(cfg, flatBook(1, 1000), flatBook(1, 1000), flatBook(1, 1000))
	assert.Less(t, result.ForwardProfit, 0.0)
	assert.Less(t, result.ReverseProfit, 0.0)
}

func TestCalculateProfitFavorsCheaperCrossRate(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10, FeePerLeg: 0}
	// Selling A for B at 2, B for C at 2, but buying A with C costs only 1 per
	// unit of A (i.e. A/C ask price of 1) -- the forward cycle should profit.
	bookAB := flatBook(2, 1000)
	bookBC := flatBook(2, 1000)
	bookAC := flatBook(1, 1000)
	result := CalculateProfit(cfg, bookAB, bookBC, bookAC)
	assert.Greater(t, result.ForwardProfit, 0.0)
}

func TestProfitResultBestPicksLargerAndReportsDirection(t *testing.T) {
	r := ProfitResult{ForwardProfit: 0.01, ReverseProfit: -0.02}
	profit, forward := r.Best()
	assert.InDelta(t, 0.01, profit, 1e-9)
	assert.True(t, forward)

	r2 := ProfitResult{ForwardProfit: -0.02, ReverseProfit: 0.03}
	profit2, forward2 := r2.Best()
	assert.InDelta(t, 0.03, profit2, 1e-9)
	assert.False(t, forward2)
}

func TestPlanReturnsForwardLegsWhenForwardWins(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10}
	legs := Plan(cfg, ProfitResult{ForwardProfit: 0.02, ReverseProfit: -0.01})
	require.Len(t, legs, 3)
	assert.Equal(t, "sell", legs[0].Side)
	assert.Equal(t, cfg.SymbolA, legs[0].Base)
	assert.Equal(t, cfg.SymbolB, legs[0].Quote)
	assert.Equal(t, cfg.TradeAmountA, legs[0].Amount)
}

func TestPlanReturnsReverseLegsWhenReverseWins(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10}
	legs := Plan(cfg, ProfitResult{ForwardProfit: -0.01, ReverseProfit: 0.02})
	require.Len(t, legs, 3)
	assert.Equal(t, "sell", legs[0].Side)
	assert.Equal(t, cfg.SymbolC, legs[0].Quote)
}

func TestConfigValidateRejectsMissingSymbol(t *testing.T) {
	cfg := Config{SymbolA: "", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsNonPositiveAmount(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 0}
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Config{SymbolA: "DOGE", SymbolB: "USDT", SymbolC: "IRT", TradeAmountA: 10, FeePerLeg: 0.0035}
	assert.NoError(t, cfg.Validate())
}
