package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVenue(t *testing.T, mux *http.ServeMux) *RESTVenue {
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewRESTVenue(RESTVenueConfig{
		Name:          "testvenue",
		BaseURL:       srv.URL,
		APIKey:        "key",
		APISecret:     "secret",
		PriceEndpoint: func(symbol string) string { return "/price/" + symbol },
		CandleEndpoint: func(symbol string, limit int) string {
			return "/candles/" + symbol
		},
		BalanceEndpoint: func(asset string) string { return "/balance/" + asset },
		OrderEndpoint:   "/order",
	})
}

func TestRESTVenueCurrentPriceParsesResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price/BTC-USDT", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"price": "50000.5"})
	})
	v := newTestVenue(t, mux)

	price, err := v.CurrentPrice(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, 50000.5, price)
}

func TestRESTVenueCurrentPriceErrorsOnServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price/BTC-USDT", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	v := newTestVenue(t, mux)

	_, err := v.CurrentPrice(context.Background(), "BTC-USDT")
	assert.Error(t, err)
}

func TestRESTVenueAvailableBalanceSendsSignatureHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/balance/USDT", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Signature"))
		json.NewEncoder(w).Encode(map[string]string{"available": "123.45"})
	})
	v := newTestVenue(t, mux)

	bal, err := v.AvailableBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 123.45, bal)
}

func TestRESTVenuePlaceMarketOrderReturnsFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "buy", body["side"])
		json.NewEncoder(w).Encode(map[string]any{"order_id": "abc123", "filled_base": 1.5, "avg_price": 100.0})
	})
	v := newTestVenue(t, mux)

	placed, err := v.PlaceMarketOrder(context.Background(), "BTC-USDT", OrderSideBuy, 150)
	require.NoError(t, err)
	assert.Equal(t, "abc123", placed.ExchangeOrderID)
	assert.Equal(t, 1.5, placed.FilledBase)
}

func TestRESTVenuePlaceMarketOrderErrorsOnRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	v := newTestVenue(t, mux)

	_, err := v.PlaceMarketOrder(context.Background(), "BTC-USDT", OrderSideSell, 10)
	assert.Error(t, err)
}

func TestRESTVenueImplementsLiveVenue(t *testing.T) {
	var _ LiveVenue = (*RESTVenue)(nil)
	var _ LiveVenue = (*BinanceVenue)(nil)
}
