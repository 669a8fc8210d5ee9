package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenquant/ctengine/internal/order"
	"github.com/lumenquant/ctengine/internal/position"
)

func TestSpotAccountFeeRateAndLeverage(t *testing.T) {
	a := New("binance", KindSpot, 0.001)
	assert.Equal(t, 0.001, a.FeeRate())
	assert.False(t, a.IsFutures())
	_, ok := a.LeverageMode()
	assert.False(t, ok)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	a := New("binance", KindSpot, 0)
	a.SetBalance("USDT", 10)
	err := a.Withdraw("USDT", 20)
	assert.ErrorContains(t, err, "insufficient balance")
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	a := New("binance", KindSpot, 0)
	a.Deposit("USDT", 100)
	require.NoError(t, a.Withdraw("USDT", 40))
	assert.InDelta(t, 60, a.Balance("USDT"), 1e-9)
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	a := New("binance", KindSpot, 0)
	a.SetBalance("USDT", 100)

	a.Begin()
	a.Deposit("USDT", 50)
	assert.InDelta(t, 150, a.Balance("USDT"), 1e-9)

	require.NoError(t, a.Rollback())
	assert.InDelta(t, 100, a.Balance("USDT"), 1e-9)
}

func TestRollbackWithoutBeginErrors(t *testing.T) {
	a := New("binance", KindSpot, 0)
	err := a.Rollback()
	assert.Error(t, err)
}

func TestGetAvailableMarginRejectsSpot(t *testing.T) {
	a := New("binance", KindSpot, 0)
	_, err := a.GetAvailableMargin("BTC", "USDT")
	assert.Error(t, err)
}

func TestGetAvailableMarginNetsExistingPositionValue(t *testing.T) {
	a := New("binance", KindFutures, 0.001)
	a.SetLeverage(10, position.LeverageIsolated)
	a.SetBalance("USDT", 1000)

	p := position.Builder{ExchangeName: "binance", Symbol: "BTC-USDT"}.Build(a)
	price := 100.0
	p.CurrentPrice = &price
	require.NoError(t, p.Open(2, 100))
	a.RegisterPosition("BTC", "USDT", p)

	margin, err := a.GetAvailableMargin("BTC", "USDT")
	require.NoError(t, err)
	// wallet=1000, committed=total_cost-pnl=(100*2/10)-0=20, no open orders.
	assert.InDelta(t, 980, margin, 1e-6)
}

func TestIncreaseAssetTempReducedAmountLowersAvailableMargin(t *testing.T) {
	a := New("binance", KindFutures, 0)
	a.SetLeverage(1, position.LeverageIsolated)
	a.SetBalance("USDT", 100)
	a.IncreaseAssetTempReducedAmount("USDT", 40)

	margin, err := a.GetAvailableMargin("BTC", "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 60, margin, 1e-9)
}

func TestSpotBuyThenSellScenario(t *testing.T) {
	a := New("binance", KindSpot, 0.001)
	a.SetBalance("USDT", 10000)

	buy := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeMarket, 0.1, nil, false)
	require.NoError(t, a.OnOrderSubmission(buy, 100))
	assert.InDelta(t, 9990, a.Balance("USDT"), 1e-9)

	require.NoError(t, a.OnOrderExecution(buy, 100))
	assert.InDelta(t, 0.0999, a.Balance("BTC"), 1e-9)

	sell := order.New("binance", "BTC-USDT", order.SideSell, order.TypeMarket, 0.0999, nil, false)
	require.NoError(t, a.OnOrderSubmission(sell, 200))
	require.NoError(t, a.OnOrderExecution(sell, 200))

	assert.InDelta(t, 10009.96002, a.Balance("USDT"), 1e-6)
	assert.InDelta(t, 0, a.Balance("BTC"), 1e-9)
}

func TestFuturesOpenCloseScenario(t *testing.T) {
	a := New("binance", KindFutures, 0.0004)
	a.SetLeverage(10, position.LeverageIsolated)
	a.SetBalance("USDT", 1000)
	a.SetSettlementAsset("USDT")

	p := position.Builder{ExchangeName: "binance", Symbol: "BTC-USDT", BaseAsset: "BTC"}.Build(a)
	a.RegisterPosition("BTC", "USDT", p)

	open := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeMarket, 1, nil, false)
	require.NoError(t, a.OnOrderSubmission(open, 100))
	require.NoError(t, a.OnOrderExecution(open, 100))
	require.NoError(t, p.OnExecutedOrder(1, 100, false))
	assert.InDelta(t, 999.96, a.Balance("USDT"), 1e-9)

	close_ := order.New("binance", "BTC-USDT", order.SideSell, order.TypeMarket, 1, nil, true)
	require.NoError(t, a.OnOrderSubmission(close_, 110))
	require.NoError(t, a.OnOrderExecution(close_, 110))
	require.NoError(t, p.OnExecutedOrder(-1, 110, true))

	assert.InDelta(t, 1009.916, a.Balance("USDT"), 1e-9)
}
