package tradebucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTradeCollapsesAfter1000ms(t *testing.T) {
	s := New()
	require.NoError(t, s.AddTrade("binance", "BTC-USDT", RawTrade{TimestampMs: 0, Price: 100, Qty: 1, Side: SideBuy}))
	require.NoError(t, s.AddTrade("binance", "BTC-USDT", RawTrade{TimestampMs: 500, Price: 102, Qty: 1, Side: SideSell}))
	_, ok := s.CurrentBucket("binance", "BTC-USDT")
	assert.False(t, ok, "no bucket collapsed yet")

	require.NoError(t, s.AddTrade("binance", "BTC-USDT", RawTrade{TimestampMs: 1000, Price: 104, Qty: 2, Side: SideBuy}))
	bucket, ok := s.CurrentBucket("binance", "BTC-USDT")
	require.True(t, ok)
	assert.Equal(t, int64(0), bucket.TimestampMs)
	assert.InDelta(t, 101.0, bucket.AvgPrice, 1e-9) // (100*1+102*1)/2
	assert.Equal(t, 1.0, bucket.BuyQty)
	assert.Equal(t, 1.0, bucket.SellQty)
	assert.Equal(t, 1, bucket.BuyCount)
	assert.Equal(t, 1, bucket.SellCount)
}

func TestZeroQtyBucketSkipped(t *testing.T) {
	s := New()
	require.NoError(t, s.AddTrade("binance", "BTC-USDT", RawTrade{TimestampMs: 0, Price: 100, Qty: 0, Side: SideBuy}))
	err := s.AddTrade("binance", "BTC-USDT", RawTrade{TimestampMs: 1000, Price: 100, Qty: 1, Side: SideBuy})
	assert.ErrorContains(t, err, "divide by zero")
}
