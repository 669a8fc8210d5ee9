// Package broker is the strategy-facing execution surface: a thin façade
// over the order repository that turns trading intents (buy/sell at
// market, at a price, reduce, take-profit) into correctly-typed orders and
// admits them against an exchange account's balance/margin.
//
// Grounded on the teacher's broker.go Broker interface shape (one method
// per trading intent); MARKET/LIMIT/STOP classification by price distance
// from the current price is this port's generalization of that shape to
// the order-book-aware kernel. Admission against an exchange account is
// grounded on original_source/src/Exchange.cpp's submitOrder path
// (spec.md §4.8) — out of scope in the teacher, whose paper broker never
// validated balances before placing an order.
package broker

import (
	"math"

	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/metrics"
	"github.com/lumenquant/ctengine/internal/order"
)

// PriceSource reports the current reference price for a symbol, used to
// classify a requested order price as MARKET, LIMIT, or STOP.
type PriceSource interface {
	CurrentPrice(exchange, symbol string) (float64, bool)
}

// PositionQuery is the narrow position-repository view the broker needs to
// validate reduce-only requests without importing the position package.
type PositionQuery interface {
	OpenQty(exchange, symbol string) (float64, bool)
}

// ExchangeAccount is the narrow account view the broker needs to admit an
// order against balance/margin before it is accepted, per spec.md §4.8.
type ExchangeAccount interface {
	OnOrderSubmission(exchange string, o order.Order, refPrice float64) error
}

// nearPriceTolerance is the spec.md §8 boundary width ("price exactly at
// current_price ± 0.01%") within which a reduce/take-profit request is
// treated as a MARKET order rather than a resting LIMIT/STOP.
const nearPriceTolerance = 0.0001

func withinTolerance(price, current float64) bool {
	if current == 0 {
		return price == 0
	}
	return math.Abs(price-current)/current <= nearPriceTolerance
}

// Broker places orders on behalf of a strategy for one exchange.
type Broker struct {
	exchangeName string
	orders       *order.Repository
	prices       PriceSource
	positions    PositionQuery
	accounts     ExchangeAccount
	enqueue      bool // true in sandbox/backtest: orders queue for immediate fill
}

// New creates a Broker bound to one exchange's order repository and account.
func New(exchangeName string, orders *order.Repository, prices PriceSource, positions PositionQuery, accounts ExchangeAccount, sandbox bool) *Broker {
	return &Broker{exchangeName: exchangeName, orders: orders, prices: prices, positions: positions, accounts: accounts, enqueue: sandbox}
}

func (b *Broker) submit(symbol string, side order.Side, typ order.Type, qty float64, price *float64, reduceOnly bool) (order.Order, error) {
	o := order.New(b.exchangeName, symbol, side, typ, qty, price, reduceOnly)

	refPrice := 0.0
	if price != nil {
		refPrice = *price
	} else if current, ok := b.prices.CurrentPrice(b.exchangeName, symbol); ok {
		refPrice = current
	}

	if b.accounts != nil {
		if err := b.accounts.OnOrderSubmission(b.exchangeName, o, refPrice); err != nil {
			metrics.OrdersRejected.WithLabelValues(b.exchangeName, symbol, string(side)).Inc()
			return order.Order{}, err
		}
	}

	b.orders.Add(o, b.enqueue && typ == order.TypeMarket)
	metrics.OrdersPlaced.WithLabelValues(b.exchangeName, symbol, string(side)).Inc()
	return o, nil
}

// BuyAtMarket submits an immediate-execution buy for qty units.
func (b *Broker) BuyAtMarket(symbol string, qty float64) (order.Order, error) {
	return b.submit(symbol, order.SideBuy, order.TypeMarket, qty, nil, false)
}

// SellAtMarket submits an immediate-execution sell for qty units.
func (b *Broker) SellAtMarket(symbol string, qty float64) (order.Order, error) {
	return b.submit(symbol, order.SideSell, order.TypeMarket, qty, nil, false)
}

// classify picks LIMIT when price rests on the passive side of the current
// price (at or below it for a buy, at or above it for a sell), STOP when
// price would trigger only once the market moves past it.
func (b *Broker) classify(symbol string, side order.Side, price float64) (order.Type, error) {
	current, ok := b.prices.CurrentPrice(b.exchangeName, symbol)
	if !ok {
		return "", errors.Wrap(ctxerr.ErrSymbolNotFound, "broker: no current price to classify order")
	}
	switch side {
	case order.SideBuy:
		if price <= current {
			return order.TypeLimit, nil
		}
		return order.TypeStop, nil
	default: // SideSell
		if price >= current {
			return order.TypeLimit, nil
		}
		return order.TypeStop, nil
	}
}

// BuyAt submits a buy for qty units at price, classified as LIMIT (resting
// below market) or STOP (triggering above market).
func (b *Broker) BuyAt(symbol string, qty, price float64) (order.Order, error) {
	typ, err := b.classify(symbol, order.SideBuy, price)
	if err != nil {
		return order.Order{}, err
	}
	return b.submit(symbol, order.SideBuy, typ, qty, &price, false)
}

// SellAt submits a sell for qty units at price, classified as LIMIT
// (resting above market) or STOP (triggering below market).
func (b *Broker) SellAt(symbol string, qty, price float64) (order.Order, error) {
	typ, err := b.classify(symbol, order.SideSell, price)
	if err != nil {
		return order.Order{}, err
	}
	return b.submit(symbol, order.SideSell, typ, qty, &price, false)
}

// ReducePositionAt submits a reduce-only order at price that shrinks (but
// never flips) the currently open position. Per spec.md §8, a price within
// 0.01% of the current price routes as MARKET; a price on the favorable
// side of current routes as LIMIT; a price on the adverse side routes as
// STOP; a price that fits none of those returns ErrOrderNotAllowed.
func (b *Broker) ReducePositionAt(symbol string, qty, price float64) (order.Order, error) {
	openQty, ok := b.positions.OpenQty(b.exchangeName, symbol)
	if !ok || openQty == 0 {
		return order.Order{}, errors.Wrap(ctxerr.ErrOrderNotAllowed, "broker: no open position to reduce")
	}
	side := order.SideSell
	if openQty < 0 {
		side = order.SideBuy
	}

	current, ok := b.prices.CurrentPrice(b.exchangeName, symbol)
	if !ok {
		return order.Order{}, errors.Wrap(ctxerr.ErrSymbolNotFound, "broker: no current price to classify order")
	}

	if withinTolerance(price, current) {
		return b.submit(symbol, side, order.TypeMarket, qty, nil, true)
	}

	switch side {
	case order.SideSell:
		if price > current {
			return b.submit(symbol, side, order.TypeLimit, qty, &price, true)
		}
		if price < current {
			return b.submit(symbol, side, order.TypeStop, qty, &price, true)
		}
	case order.SideBuy:
		if price < current {
			return b.submit(symbol, side, order.TypeLimit, qty, &price, true)
		}
		if price > current {
			return b.submit(symbol, side, order.TypeStop, qty, &price, true)
		}
	}
	return order.Order{}, errors.Wrap(ctxerr.ErrOrderNotAllowed, "broker: price does not fit any reduce-order classification")
}

// StartProfitAt submits a take-profit order: a non-reduce-only STOP armed
// on the side opposite the open position, per spec.md §4.9. The
// trigger must sit on the profitable side of the current price (above for
// a long's sell-to-close, below for a short's buy-to-close); any other
// price returns ErrOrderNotAllowed.
func (b *Broker) StartProfitAt(symbol string, qty, price float64) (order.Order, error) {
	openQty, ok := b.positions.OpenQty(b.exchangeName, symbol)
	if !ok || openQty == 0 {
		return order.Order{}, errors.Wrap(ctxerr.ErrOrderNotAllowed, "broker: no open position to take profit on")
	}
	side := order.SideSell
	if openQty < 0 {
		side = order.SideBuy
	}

	current, ok := b.prices.CurrentPrice(b.exchangeName, symbol)
	if !ok {
		return order.Order{}, errors.Wrap(ctxerr.ErrSymbolNotFound, "broker: no current price to classify order")
	}

	switch side {
	case order.SideSell:
		if price <= current {
			return order.Order{}, errors.Wrap(ctxerr.ErrOrderNotAllowed, "broker: take-profit sell price must exceed current price")
		}
	case order.SideBuy:
		if price >= current {
			return order.Order{}, errors.Wrap(ctxerr.ErrOrderNotAllowed, "broker: take-profit buy price must be below current price")
		}
	}

	return b.submit(symbol, side, order.TypeStop, qty, &price, false)
}
