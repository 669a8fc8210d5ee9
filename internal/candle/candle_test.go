package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenquant/ctengine/internal/timeframe"
)

func addOneMinute(t *testing.T, s *State, c Candle) {
	t.Helper()
	err := s.AddCandle("binance", "BTC-USDT", timeframe.Minute1, c, AddCandleOptions{WithGeneration: true}, c.TimestampMs,
		nil, s.GenerateHigherTimeframesHookAdapter())
	require.NoError(t, err)
}

// GenerateHigherTimeframesHookAdapter is test-only glue binding genHook to
// GenerateHigherTimeframes without the simulate package's involvement.
func (s *State) GenerateHigherTimeframesHookAdapter() func(exchange, symbol string) {
	return func(exchange, symbol string) {
		_ = s.GenerateHigherTimeframes(exchange, symbol)
	}
}

func TestHigherTimeframeAggregationMatchesScenario(t *testing.T) {
	// spec.md §8 scenario 3, shifted by one 5m period (300000 ms) because
	// AddCandle rejects a zero timestamp.
	s := New(WithHigherTimeframes(timeframe.Minute5), WithWindowMinutes(60))
	rows := []Candle{
		{TimestampMs: 300000, Open: 1, Close: 2, High: 3, Low: 0.5, Volume: 1},
		{TimestampMs: 360000, Open: 2, Close: 3, High: 4, Low: 1, Volume: 2},
		{TimestampMs: 420000, Open: 3, Close: 2, High: 3, Low: 1, Volume: 1},
		{TimestampMs: 480000, Open: 2, Close: 4, High: 5, Low: 2, Volume: 3},
		{TimestampMs: 540000, Open: 4, Close: 5, High: 6, Low: 3, Volume: 2},
	}
	for _, c := range rows {
		addOneMinute(t, s, c)
	}
	got, ok := s.Last("binance", "BTC-USDT", timeframe.Minute5)
	require.True(t, ok)
	assert.Equal(t, Candle{TimestampMs: 300000, Open: 1, Close: 5, High: 6, Low: 0.5, Volume: 9}, got)
}

func TestAddCandleRejectsZeroTimestamp(t *testing.T) {
	s := New()
	err := s.AddCandle("binance", "BTC-USDT", timeframe.Minute1, Candle{}, AddCandleOptions{}, 0, nil, nil)
	assert.ErrorContains(t, err, "invalid shape")
}

func TestAddCandleOverwriteIsIdempotent(t *testing.T) {
	s := New()
	c := Candle{TimestampMs: 60000, Open: 1, Close: 2, High: 3, Low: 0.5, Volume: 1}
	require.NoError(t, s.AddCandle("b", "s", timeframe.Minute1, c, AddCandleOptions{}, 0, nil, nil))
	require.NoError(t, s.AddCandle("b", "s", timeframe.Minute1, c, AddCandleOptions{}, 0, nil, nil))
	assert.Len(t, s.All("b", "s", timeframe.Minute1), 1)
}

func TestAddMultiple1mRejectsOlderThanOldest(t *testing.T) {
	s := New()
	require.NoError(t, s.AddMultiple1m("b", "s", []Candle{{TimestampMs: 60000, Open: 1, Close: 1, High: 1, Low: 1}}))
	err := s.AddMultiple1m("b", "s", []Candle{{TimestampMs: 0, Open: 1, Close: 1, High: 1, Low: 1}})
	assert.ErrorContains(t, err, "candles not found")
}
