package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// RESTVenue is a generic HMAC-signed REST venue adapter, generalizing the
// teacher's broker_coinbase.go and broker_hitbtc.go (both hand-rolled
// net/http calls against a venue-specific signing scheme) into a single
// resty-backed client configurable per venue, per SPEC_FULL.md §11's
// decision to keep Coinbase/HitBTC on resty rather than adopt a
// venue-specific SDK neither the teacher nor the rest of the pack uses.
type RESTVenue struct {
	name      string
	http      *resty.Client
	apiKey    string
	apiSecret string

	priceEndpoint   func(symbol string) string
	candleEndpoint  func(symbol string, limit int) string
	balanceEndpoint func(asset string) string
	orderEndpoint   string
}

// RESTVenueConfig names the per-venue endpoint shape; each live venue
// (Coinbase, HitBTC, ...) supplies its own path builders since the
// teacher's two adapters disagree on URL layout but share the same HMAC
// request-signing shape.
type RESTVenueConfig struct {
	Name            string
	BaseURL         string
	APIKey          string
	APISecret       string
	PriceEndpoint   func(symbol string) string
	CandleEndpoint  func(symbol string, limit int) string
	BalanceEndpoint func(asset string) string
	OrderEndpoint   string
}

// NewRESTVenue builds a venue client from cfg.
func NewRESTVenue(cfg RESTVenueConfig) *RESTVenue {
	return &RESTVenue{
		name:            cfg.Name,
		http:            resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(10 * time.Second),
		apiKey:          cfg.APIKey,
		apiSecret:       cfg.APISecret,
		priceEndpoint:   cfg.PriceEndpoint,
		candleEndpoint:  cfg.CandleEndpoint,
		balanceEndpoint: cfg.BalanceEndpoint,
		orderEndpoint:   cfg.OrderEndpoint,
	}
}

func (v *RESTVenue) Name() string { return v.name }

// sign implements the HMAC-SHA256 request signature common to both the
// teacher's Coinbase JWT-minting path and its HitBTC bridge auth header,
// collapsed here to the simpler shared-secret HMAC scheme.
func (v *RESTVenue) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(v.apiSecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *RESTVenue) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Price string `json:"price"`
	}
	resp, err := v.http.R().SetContext(ctx).SetResult(&out).Get(v.priceEndpoint(symbol))
	if err != nil {
		return 0, errors.Wrapf(err, "exchange: %s price lookup for %s", v.name, symbol)
	}
	if resp.IsError() {
		return 0, errors.Wrapf(ctxerr.ErrExchangeError, "exchange: %s price request returned %s", v.name, resp.Status())
	}
	return strconv.ParseFloat(out.Price, 64)
}

func (v *RESTVenue) RecentCandles(ctx context.Context, symbol string, limit int) ([]candle.Candle, error) {
	var out []struct {
		TimestampMs int64   `json:"t"`
		Open        float64 `json:"o"`
		High        float64 `json:"h"`
		Low         float64 `json:"l"`
		Close       float64 `json:"c"`
		Volume      float64 `json:"v"`
	}
	resp, err := v.http.R().SetContext(ctx).SetResult(&out).Get(v.candleEndpoint(symbol, limit))
	if err != nil {
		return nil, errors.Wrapf(err, "exchange: %s candles for %s", v.name, symbol)
	}
	if resp.IsError() {
		return nil, errors.Wrapf(ctxerr.ErrExchangeError, "exchange: %s candle request returned %s", v.name, resp.Status())
	}
	candles := make([]candle.Candle, 0, len(out))
	for _, row := range out {
		candles = append(candles, candle.Candle{
			TimestampMs: row.TimestampMs,
			Open:        row.Open,
			High:        row.High,
			Low:         row.Low,
			Close:       row.Close,
			Volume:      row.Volume,
		})
	}
	return candles, nil
}

func (v *RESTVenue) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	var out struct {
		Available string `json:"available"`
	}
	resp, err := v.http.R().SetContext(ctx).
		SetHeader("X-Signature", v.sign(asset)).
		SetHeader("X-API-Key", v.apiKey).
		SetResult(&out).
		Get(v.balanceEndpoint(asset))
	if err != nil {
		return 0, errors.Wrapf(err, "exchange: %s balance lookup for %s", v.name, asset)
	}
	if resp.IsError() {
		return 0, errors.Wrapf(ctxerr.ErrExchangeError, "exchange: %s balance request returned %s", v.name, resp.Status())
	}
	return strconv.ParseFloat(out.Available, 64)
}

func (v *RESTVenue) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (PlacedOrder, error) {
	sideStr := "buy"
	if side == OrderSideSell {
		sideStr = "sell"
	}
	body := map[string]any{
		"symbol": symbol,
		"side":   sideStr,
		"type":   "market",
		"amount": quoteAmount,
	}
	var out struct {
		OrderID    string  `json:"order_id"`
		FilledBase float64 `json:"filled_base"`
		AvgPrice   float64 `json:"avg_price"`
	}
	resp, err := v.http.R().SetContext(ctx).
		SetHeader("X-API-Key", v.apiKey).
		SetHeader("X-Signature", v.sign(symbol+sideStr)).
		SetBody(body).
		SetResult(&out).
		Post(v.orderEndpoint)
	if err != nil {
		return PlacedOrder{}, errors.Wrapf(err, "exchange: %s order placement for %s", v.name, symbol)
	}
	if resp.IsError() {
		return PlacedOrder{}, errors.Wrapf(ctxerr.ErrExchangeRejectedOrder, "exchange: %s order request returned %s", v.name, resp.Status())
	}
	return PlacedOrder{ExchangeOrderID: out.OrderID, FilledBase: out.FilledBase, AvgPrice: out.AvgPrice}, nil
}
