package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenquant/ctengine/internal/exchange"
	"github.com/lumenquant/ctengine/internal/order"
)

func TestApplySerializesMutations(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	done := make(chan struct{})
	e.Apply(func(e *Engine) {
		e.SetNow(42)
		close(done)
	})
	<-done
	assert.Equal(t, int64(42), e.Now())
}

func TestSetExchangeAPIKeyIsWriteOnce(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	require.NoError(t, e.SetExchangeAPIKey("key-1"))
	assert.Error(t, e.SetExchangeAPIKey("key-2"))
}

func TestPositionIsCreatedLazilyBoundToSpotAccount(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	p := e.Position("binance", "BTC-USDT")
	require.NoError(t, p.Open(1, 100))
	assert.Equal(t, 1.0, p.Leverage())
}

func TestOpenQtyReflectsOpenPosition(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	_, ok := e.OpenQty("binance", "BTC-USDT")
	assert.False(t, ok)

	p := e.Position("binance", "BTC-USDT")
	require.NoError(t, p.Open(2, 100))

	qty, ok := e.OpenQty("binance", "BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, 2.0, qty)
}

func TestApplyFillOpensPositionThroughOrderPath(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	require.NoError(t, e.ApplyFill("binance", "BTC-USDT", 1, 100, false))
	side, ok := e.OpenSide("binance", "BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, order.SideBuy, side)
}

func TestSaveStateAndLoadStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	e := New("session-1", WithStateFile(path))
	e.SetNow(1000)
	e.RecordDailyBalance(500)
	require.NoError(t, e.SaveState())
	e.Close()

	e2 := New("session-2", WithStateFile(path))
	defer e2.Close()
	require.NoError(t, e2.LoadState())
	assert.Equal(t, int64(1000), e2.Now())
	assert.Equal(t, []float64{500}, e2.DailyBalance())
}

func TestExchangeIsCreatedOnce(t *testing.T) {
	e := New("session-1")
	defer e.Close()

	a1 := e.Exchange("binance", exchange.KindFutures, 0.001)
	a2 := e.Exchange("binance", exchange.KindSpot, 0.999)
	assert.Same(t, a1, a2, "second call returns the same account, ignoring new kind/fee")
}
