package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/order"
)

type fakePositions struct {
	fills []struct {
		exchange, symbol      string
		qty, price            float64
		reduceOnly            bool
	}
	failOn int // index of call to fail, -1 disables
}

func (f *fakePositions) ApplyFill(exchange, symbol string, qty, price float64, reduceOnly bool) error {
	idx := len(f.fills)
	f.fills = append(f.fills, struct {
		exchange, symbol string
		qty, price       float64
		reduceOnly       bool
	}{exchange, symbol, qty, price, reduceOnly})
	if f.failOn == idx {
		return assertError{}
	}
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "forced failure" }

func TestStepDrainsPendingMarketOrderAtOpen(t *testing.T) {
	repo := order.NewRepository()
	pos := &fakePositions{failOn: -1}
	sim := New("binance", repo, pos, nil)

	o := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeMarket, 1, nil, false)
	repo.Add(o, true)

	c := candle.Candle{TimestampMs: 0, Open: 100, Close: 105, High: 106, Low: 99}
	fills, err := sim.Step("BTC-USDT", c)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 100.0, fills[0].Price)
	assert.Len(t, pos.fills, 1)
	assert.Equal(t, 1.0, pos.fills[0].qty)
}

func TestStepFillsLimitBuyOnLowTouch(t *testing.T) {
	repo := order.NewRepository()
	pos := &fakePositions{failOn: -1}
	sim := New("binance", repo, pos, nil)

	price := 95.0
	o := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeLimit, 1, &price, false)
	repo.Add(o, false)

	c := candle.Candle{TimestampMs: 0, Open: 100, Close: 98, High: 101, Low: 94}
	fills, err := sim.Step("BTC-USDT", c)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 95.0, fills[0].Price)

	after := repo.Get("binance", "BTC-USDT")[0]
	assert.Equal(t, order.StatusExecuted, after.Status)
}

func TestStepSkipsLimitBuyWhenLowNotTouched(t *testing.T) {
	repo := order.NewRepository()
	pos := &fakePositions{failOn: -1}
	sim := New("binance", repo, pos, nil)

	price := 80.0
	o := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeLimit, 1, &price, false)
	repo.Add(o, false)

	c := candle.Candle{TimestampMs: 0, Open: 100, Close: 98, High: 101, Low: 94}
	fills, err := sim.Step("BTC-USDT", c)
	require.NoError(t, err)
	assert.Len(t, fills, 0)
}

func TestCancelStaleMarksCanceled(t *testing.T) {
	repo := order.NewRepository()
	pos := &fakePositions{failOn: -1}
	sim := New("binance", repo, pos, nil)

	price := 80.0
	o := order.New("binance", "BTC-USDT", order.SideBuy, order.TypeLimit, 1, &price, false)
	repo.Add(o, false)

	require.NoError(t, sim.CancelStale("BTC-USDT", []string{o.ID}))
	assert.Len(t, repo.Active("binance", "BTC-USDT"), 0)
}

func TestCancelStaleErrorsOnUnknownID(t *testing.T) {
	repo := order.NewRepository()
	pos := &fakePositions{failOn: -1}
	sim := New("binance", repo, pos, nil)

	err := sim.CancelStale("BTC-USDT", []string{"nonexistent"})
	assert.Error(t, err)
}
