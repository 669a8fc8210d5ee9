// Package simulate implements the backtest/sandbox tick: for each new
// candle, drain pending market orders, then scan active limit/stop orders
// against the candle's high/low range for fills, applying each fill to its
// position.
//
// Grounded on the teacher's step.go tick structure (a single synchronized
// per-candle entry point: drain pending, scan exits, then evaluate new
// entries) generalized from its ML-signal-specific open logic to the
// kernel's generic order-matching algorithm; the pending-market drain is
// grounded on original_source/src/Exchange.cpp's Sandbox::marketOrder
// addOrderToExecute queue.
package simulate

import (
	"github.com/pkg/errors"

	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/metrics"
	"github.com/lumenquant/ctengine/internal/order"
)

// PositionExecutor is the narrow position-repository view simulate needs:
// apply a fill to whichever position owns (exchange,symbol).
type PositionExecutor interface {
	ApplyFill(exchange, symbol string, qty, price float64, reduceOnly bool) error
}

// ExchangeExecutor is the narrow account view simulate needs to settle
// balances on execution and refund reservations on cancellation, per
// spec.md §4.8.
type ExchangeExecutor interface {
	OnOrderExecution(exchange string, o order.Order, price float64) error
	OnOrderCancellation(exchange string, o order.Order) error
}

// Fill records one matched order for the caller's bookkeeping/logging.
type Fill struct {
	Order order.Order
	Price float64
}

// Simulator drains and matches orders against candle data for one exchange.
type Simulator struct {
	exchangeName string
	orders       *order.Repository
	positions    PositionExecutor
	exchanges    ExchangeExecutor
}

// New creates a Simulator bound to one exchange's order repository and account.
func New(exchangeName string, orders *order.Repository, positions PositionExecutor, exchanges ExchangeExecutor) *Simulator {
	return &Simulator{exchangeName: exchangeName, orders: orders, positions: positions, exchanges: exchanges}
}

// signedQty returns the order's qty signed by side: positive for buys,
// negative for sells, matching the position package's signed-qty convention.
func signedQty(o order.Order) float64 {
	qty := o.Qty
	if qty < 0 {
		qty = -qty
	}
	if o.Side == order.SideSell {
		return -qty
	}
	return qty
}

// marketFillPrice picks the execution price for a market order: the
// candle's open, the price at which the order is assumed to have crossed
// the book instantly on tick start.
func marketFillPrice(c candle.Candle) float64 { return c.Open }

// matches reports whether a LIMIT/STOP order's price was crossed by the
// candle's high/low range.
func matches(o order.Order, c candle.Candle) bool {
	if o.Price == nil {
		return false
	}
	price := *o.Price
	switch o.Type {
	case order.TypeLimit:
		switch o.Side {
		case order.SideBuy:
			return c.Low <= price
		default:
			return c.High >= price
		}
	case order.TypeStop:
		switch o.Side {
		case order.SideBuy:
			return c.High >= price
		default:
			return c.Low <= price
		}
	default:
		return false
	}
}

// Step runs one tick: drains queued sandbox market orders (filled at the
// candle's open), then scans every remaining active order for a limit/stop
// touch within the candle's range, applying each fill to its position in
// order of submission.
func (s *Simulator) Step(symbol string, c candle.Candle) ([]Fill, error) {
	var fills []Fill
	var drainErr error

	s.orders.ExecutePendingMarketOrders(func(o order.Order) {
		if drainErr != nil {
			return
		}
		price := marketFillPrice(c)
		if err := s.apply(o, price); err != nil {
			drainErr = err
			return
		}
		fills = append(fills, Fill{Order: o, Price: price})
	})
	if drainErr != nil {
		return fills, drainErr
	}

	active := append([]order.Order(nil), s.orders.Active(s.exchangeName, symbol)...)
	for _, o := range active {
		if o.Type == order.TypeMarket {
			continue // already handled by the pending-market drain
		}
		if !matches(o, c) {
			continue
		}
		if err := s.apply(o, *o.Price); err != nil {
			return fills, err
		}
		fills = append(fills, Fill{Order: o, Price: *o.Price})
	}
	return fills, nil
}

func (s *Simulator) apply(o order.Order, price float64) error {
	if s.exchanges != nil {
		if err := s.exchanges.OnOrderExecution(s.exchangeName, o, price); err != nil {
			return errors.Wrapf(err, "simulate: settling execution for order %s", o.ID)
		}
	}
	if err := s.positions.ApplyFill(o.ExchangeName, o.Symbol, signedQty(o), price, o.ReduceOnly); err != nil {
		return errors.Wrapf(err, "simulate: applying fill for order %s", o.ID)
	}
	s.orders.UpdateStatus(o.ExchangeName, o.Symbol, o.ID, order.StatusExecuted)
	metrics.OrdersFilled.WithLabelValues(o.ExchangeName, o.Symbol, string(o.Side)).Inc()
	return nil
}

// CancelStale cancels every active order for (exchange,symbol) whose id is
// listed in staleIDs, refunding each through OnOrderCancellation. Which
// orders are stale is decided by the caller — kept as a thin helper since
// the kernel's staleness policy (spec.md §4.9) is a strategy-level concern,
// not simulate's to decide on its own. A listed id that is not an active
// order yields ErrExchangeOrderNotFound.
func (s *Simulator) CancelStale(symbol string, staleIDs []string) error {
	stale := make(map[string]bool, len(staleIDs))
	for _, id := range staleIDs {
		stale[id] = true
	}
	found := make(map[string]bool, len(staleIDs))
	active := append([]order.Order(nil), s.orders.Active(s.exchangeName, symbol)...)
	for _, o := range active {
		if stale[o.ID] {
			if s.exchanges != nil {
				if err := s.exchanges.OnOrderCancellation(s.exchangeName, o); err != nil {
					return errors.Wrapf(err, "simulate: refunding canceled order %s", o.ID)
				}
			}
			s.orders.UpdateStatus(s.exchangeName, symbol, o.ID, order.StatusCanceled)
			metrics.OrdersCanceled.WithLabelValues(s.exchangeName, symbol).Inc()
			found[o.ID] = true
		}
	}
	for _, id := range staleIDs {
		if !found[id] {
			return errors.Wrapf(ctxerr.ErrExchangeOrderNotFound, "simulate: cancel target %s not found", id)
		}
	}
	return nil
}
