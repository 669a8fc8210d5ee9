package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenquant/ctengine/internal/order"
)

type fakePrices struct{ price float64 }

func (f fakePrices) CurrentPrice(exchange, symbol string) (float64, bool) { return f.price, true }

type fakePositions struct {
	qty float64
	ok  bool
}

func (f fakePositions) OpenQty(exchange, symbol string) (float64, bool) { return f.qty, f.ok }

type fakeAccount struct {
	err error
}

func (f fakeAccount) OnOrderSubmission(exchange string, o order.Order, refPrice float64) error {
	return f.err
}

func TestBuyAtMarketEnqueuesInSandbox(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{}, fakeAccount{}, true)

	o, err := b.BuyAtMarket("BTC-USDT", 1)
	require.NoError(t, err)
	assert.Equal(t, order.TypeMarket, o.Type)
	assert.Equal(t, order.SideBuy, o.Side)
	assert.Len(t, repo.Active("binance", "BTC-USDT"), 1)
}

func TestBuyAtClassifiesLimitBelowMarket(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{}, fakeAccount{}, false)

	o, err := b.BuyAt("BTC-USDT", 1, 90)
	require.NoError(t, err)
	assert.Equal(t, order.TypeLimit, o.Type)
}

func TestBuyAtClassifiesStopAboveMarket(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{}, fakeAccount{}, false)

	o, err := b.BuyAt("BTC-USDT", 1, 110)
	require.NoError(t, err)
	assert.Equal(t, order.TypeStop, o.Type)
}

func TestSellAtClassifiesLimitAboveMarket(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{}, fakeAccount{}, false)

	o, err := b.SellAt("BTC-USDT", 1, 110)
	require.NoError(t, err)
	assert.Equal(t, order.TypeLimit, o.Type)
}

func TestSubmitRejectedByAccountIsNotAdded(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{}, fakeAccount{err: assert.AnError}, false)

	_, err := b.BuyAtMarket("BTC-USDT", 1)
	assert.Error(t, err)
	assert.Empty(t, repo.Active("binance", "BTC-USDT"))
}

func TestReducePositionAtFailsWithoutOpenPosition(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{ok: false}, fakeAccount{}, false)

	_, err := b.ReducePositionAt("BTC-USDT", 1, 100)
	assert.ErrorContains(t, err, "not allowed")
}

func TestReducePositionAtSellsForLongPosition(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: 2, ok: true}, fakeAccount{}, false)

	o, err := b.ReducePositionAt("BTC-USDT", 1, 105)
	require.NoError(t, err)
	assert.Equal(t, order.SideSell, o.Side)
	assert.Equal(t, order.TypeLimit, o.Type)
	assert.True(t, o.ReduceOnly)
}

func TestReducePositionAtStopsForLongPosition(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: 2, ok: true}, fakeAccount{}, false)

	o, err := b.ReducePositionAt("BTC-USDT", 1, 95)
	require.NoError(t, err)
	assert.Equal(t, order.SideSell, o.Side)
	assert.Equal(t, order.TypeStop, o.Type)
	assert.True(t, o.ReduceOnly)
}

func TestReducePositionAtChoosesMarketWithinTolerance(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: 2, ok: true}, fakeAccount{}, true)

	o, err := b.ReducePositionAt("BTC-USDT", 1, 100.005)
	require.NoError(t, err)
	assert.Equal(t, order.TypeMarket, o.Type)
	assert.True(t, o.ReduceOnly)
	assert.Nil(t, o.Price)
}

func TestStartProfitAtBuysBackForShortPosition(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: -2, ok: true}, fakeAccount{}, false)

	o, err := b.StartProfitAt("BTC-USDT", 1, 90)
	require.NoError(t, err)
	assert.Equal(t, order.SideBuy, o.Side)
	assert.Equal(t, order.TypeStop, o.Type)
	assert.False(t, o.ReduceOnly)
}

func TestStartProfitAtSellsForwardForLongPosition(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: 2, ok: true}, fakeAccount{}, false)

	o, err := b.StartProfitAt("BTC-USDT", 1, 110)
	require.NoError(t, err)
	assert.Equal(t, order.SideSell, o.Side)
	assert.Equal(t, order.TypeStop, o.Type)
	assert.False(t, o.ReduceOnly)
}

func TestStartProfitAtRejectsWrongSidePrice(t *testing.T) {
	repo := order.NewRepository()
	b := New("binance", repo, fakePrices{price: 100}, fakePositions{qty: -2, ok: true}, fakeAccount{}, false)

	_, err := b.StartProfitAt("BTC-USDT", 1, 110)
	assert.ErrorContains(t, err, "not allowed")
}
