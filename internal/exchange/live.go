package exchange

import (
	"context"
	"strconv"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// LiveVenue is the minimal surface a connected exchange session needs to
// feed prices into the engine and to place real orders, generalizing the
// method set common to the teacher's broker_binance.go, binance_broker.go,
// broker_coinbase.go and broker_hitbtc.go (GetNowPrice, GetRecentCandles,
// GetAvailableBase/Quote, PlaceMarketQuote) into one interface every venue
// adapter satisfies. TLS/websocket transport details are each adapter's
// own concern, per spec.md §1's "external collaborators, interfaces only"
// framing — the engine only ever talks to this interface.
type LiveVenue interface {
	Name() string
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	RecentCandles(ctx context.Context, symbol string, limit int) ([]candle.Candle, error)
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (PlacedOrder, error)
}

// OrderSide mirrors the teacher's OrderSide enum used across every broker
// adapter.
type OrderSide int

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

// PlacedOrder is the venue's confirmation of a submitted market order.
type PlacedOrder struct {
	ExchangeOrderID string
	FilledBase      float64
	AvgPrice        float64
	CommissionQuote float64
}

// BinanceVenue wraps adshao/go-binance/v2's client, replacing the
// teacher's hand-rolled HMAC-signed REST calls in binance_broker.go and
// broker_binance.go with the pack's own typed client.
type BinanceVenue struct {
	client *binance.Client
}

// NewBinanceVenue builds a venue client authenticated with apiKey/secret.
// useTestnet targets Binance's spot testnet instead of production.
func NewBinanceVenue(apiKey, secret string, useTestnet bool) *BinanceVenue {
	binance.UseTestnet = useTestnet
	return &BinanceVenue{client: binance.NewClient(apiKey, secret)}
}

func (v *BinanceVenue) Name() string { return "binance" }

func (v *BinanceVenue) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "exchange: binance price lookup for %s", symbol)
	}
	if len(prices) == 0 {
		return 0, errors.Wrapf(ctxerr.ErrSymbolNotFound, "exchange: binance returned no price for %s", symbol)
	}
	return parsePriceString(prices[0].Price)
}

func (v *BinanceVenue) RecentCandles(ctx context.Context, symbol string, limit int) ([]candle.Candle, error) {
	klines, err := v.client.NewKlinesService().Symbol(symbol).Interval("1m").Limit(limit).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "exchange: binance klines for %s", symbol)
	}
	out := make([]candle.Candle, 0, len(klines))
	for _, k := range klines {
		o, errO := parsePriceString(k.Open)
		h, errH := parsePriceString(k.High)
		l, errL := parsePriceString(k.Low)
		c, errC := parsePriceString(k.Close)
		vol, errV := parsePriceString(k.Volume)
		if errO != nil || errH != nil || errL != nil || errC != nil || errV != nil {
			continue
		}
		out = append(out, candle.Candle{
			TimestampMs: k.OpenTime,
			Open:        o,
			High:        h,
			Low:         l,
			Close:       c,
			Volume:      vol,
		})
	}
	return out, nil
}

func (v *BinanceVenue) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	account, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "exchange: binance account lookup")
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parsePriceString(b.Free)
		}
	}
	return 0, errors.Wrapf(ctxerr.ErrSymbolNotFound, "exchange: binance has no %s balance entry", asset)
}

func (v *BinanceVenue) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quoteAmount float64) (PlacedOrder, error) {
	amount := strconv.FormatFloat(quoteAmount, 'f', -1, 64)
	svc := v.client.NewCreateOrderService().Symbol(symbol).Type(binance.OrderTypeMarket)
	if side == OrderSideBuy {
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(amount)
	} else {
		svc = svc.Side(binance.SideTypeSell).QuoteOrderQty(amount)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return PlacedOrder{}, errors.Wrapf(ctxerr.ErrExchangeRejectedOrder, "exchange: binance order rejected: %v", err)
	}

	var filledBase, quoteSpent float64
	for _, fill := range resp.Fills {
		qty, _ := parsePriceString(fill.Quantity)
		price, _ := parsePriceString(fill.Price)
		filledBase += qty
		quoteSpent += qty * price
	}
	avgPrice := 0.0
	if filledBase > 0 {
		avgPrice = quoteSpent / filledBase
	}

	return PlacedOrder{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		FilledBase:      filledBase,
		AvgPrice:        avgPrice,
	}, nil
}

func parsePriceString(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "exchange: parsing venue-reported value %q", s)
	}
	return f, nil
}
