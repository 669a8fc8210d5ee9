// Package order implements the per-(exchange,symbol) order repository:
// storage, lifecycle queries, and the sandbox's pending-market-order queue.
//
// Grounded on original_source/include/Order.hpp and src/Order.cpp
// (ct::order::OrderRepository).
package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the order's direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is the order's execution style.
type Type string

const (
	TypeMarket Type = "MARKET"
	TypeLimit  Type = "LIMIT"
	TypeStop   Type = "STOP"
)

// Status is the order's lifecycle state.
type Status string

const (
	StatusQueued          Status = "QUEUED"
	StatusActive          Status = "ACTIVE"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusExecuted        Status = "EXECUTED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

var terminal = map[Status]bool{
	StatusExecuted: true,
	StatusCanceled: true,
	StatusRejected: true,
}

// Order is the engine's order record.
type Order struct {
	ID           string
	ExchangeID   *string
	TradeID      string
	SessionID    string
	Symbol       string
	ExchangeName string
	Side         Side
	Type         Type
	ReduceOnly   bool
	Qty          float64 // signed: positive=buy, negative=sell
	FilledQty    float64
	Price        *float64 // nil for MARKET
	Status       Status
	CreatedAt    time.Time
	ExecutedAt   *time.Time
	CanceledAt   *time.Time
}

// New builds a queued order with a fresh id.
func New(exchangeName, symbol string, side Side, typ Type, qty float64, price *float64, reduceOnly bool) Order {
	if side == SideSell && qty > 0 {
		qty = -qty
	}
	return Order{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		ExchangeName: exchangeName,
		Side:         side,
		Type:         typ,
		ReduceOnly:   reduceOnly,
		Qty:          qty,
		Price:        price,
		Status:       StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
}

// IsActive reports whether the order has not yet reached a terminal state.
func (o Order) IsActive() bool { return !terminal[o.Status] }

// IsCanceled reports the CANCELED terminal state specifically.
func (o Order) IsCanceled() bool { return o.Status == StatusCanceled }

type key struct {
	exchange string
	symbol   string
}

// Repository is the session-owned order store, replacing the original's
// OrderRepository singleton.
type Repository struct {
	all       map[key][]Order
	active    map[key][]Order
	toExecute []Order
}

// NewRepository creates an empty order repository.
func NewRepository() *Repository {
	return &Repository{all: make(map[key][]Order), active: make(map[key][]Order)}
}

func makeKey(exchange, symbol string) key { return key{exchange, symbol} }

// Reset clears every stored order (used for testing).
func (r *Repository) Reset() {
	r.all = make(map[key][]Order)
	r.active = make(map[key][]Order)
	r.toExecute = nil
}

// ResetTrade wipes the store for one (exchange,symbol) pair, used after a
// closed trade to start the next one with a clean order history.
func (r *Repository) ResetTrade(exchange, symbol string) {
	k := makeKey(exchange, symbol)
	delete(r.all, k)
	delete(r.active, k)
}

// Add stores a new order in both the all-orders and active-orders lists.
// If the order is a sandbox market order, it's also queued for execution
// on the next tick (the to_execute queue).
func (r *Repository) Add(o Order, enqueueForExecution bool) {
	k := makeKey(o.ExchangeName, o.Symbol)
	r.all[k] = append(r.all[k], o)
	r.active[k] = append(r.active[k], o)
	if enqueueForExecution {
		r.toExecute = append(r.toExecute, o)
	}
}

// Remove deletes an order (by ID) from both lists.
func (r *Repository) Remove(o Order) {
	k := makeKey(o.ExchangeName, o.Symbol)
	r.all[k] = removeByID(r.all[k], o.ID)
	r.active[k] = removeByID(r.active[k], o.ID)
}

func removeByID(orders []Order, id string) []Order {
	out := orders[:0]
	for _, o := range orders {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}

// UpdateStatus transitions an order's status in place across both lists.
// Transitioning to a terminal status removes it from the active list only.
func (r *Repository) UpdateStatus(exchangeName, symbol, id string, status Status) {
	k := makeKey(exchangeName, symbol)
	for i := range r.all[k] {
		if r.all[k][i].ID == id {
			r.all[k][i].Status = status
		}
	}
	if terminal[status] {
		r.active[k] = removeByID(r.active[k], id)
		return
	}
	for i := range r.active[k] {
		if r.active[k][i].ID == id {
			r.active[k][i].Status = status
		}
	}
}

// ExecutePendingMarketOrders drains the sandbox's to_execute queue, invoking
// execute for each queued order.
func (r *Repository) ExecutePendingMarketOrders(execute func(Order)) {
	if len(r.toExecute) == 0 {
		return
	}
	for _, o := range r.toExecute {
		execute(o)
	}
	r.toExecute = nil
}

// Get returns every order (terminal or not) for (exchange,symbol).
func (r *Repository) Get(exchange, symbol string) []Order {
	return r.all[makeKey(exchange, symbol)]
}

// Active returns every non-terminal order for (exchange,symbol).
func (r *Repository) Active(exchange, symbol string) []Order {
	return r.active[makeKey(exchange, symbol)]
}

// AllForExchange returns every order across every symbol on one exchange.
func (r *Repository) AllForExchange(exchange string) []Order {
	var out []Order
	for k, orders := range r.all {
		if k.exchange == exchange {
			out = append(out, orders...)
		}
	}
	return out
}

// CountActiveAll counts active orders across every (exchange,symbol) pair.
func (r *Repository) CountActiveAll() int {
	n := 0
	for _, orders := range r.active {
		for _, o := range orders {
			if o.IsActive() {
				n++
			}
		}
	}
	return n
}

// CountActive counts active orders for one (exchange,symbol) pair.
func (r *Repository) CountActive(exchange, symbol string) int {
	n := 0
	for _, o := range r.Active(exchange, symbol) {
		if o.IsActive() {
			n++
		}
	}
	return n
}

// Count returns the total number of orders (terminal or not) stored for
// (exchange,symbol).
func (r *Repository) Count(exchange, symbol string) int {
	return len(r.Get(exchange, symbol))
}

// ByID looks up an order. With useExchangeId true, it matches the
// exchange-assigned id exactly. Otherwise it preserves the original's
// quirk (spec.md §9 open question): a reverse (newest-to-oldest) scan for
// a client id that merely *contains* `id` as a substring, not an exact or
// prefix match.
func (r *Repository) ByID(exchange, symbol, id string, useExchangeId bool) (Order, bool) {
	k := makeKey(exchange, symbol)
	orders := r.all[k]

	if useExchangeId {
		for _, o := range orders {
			if o.ExchangeID != nil && *o.ExchangeID == id {
				return o, true
			}
		}
		return Order{}, false
	}

	if id == "" {
		return Order{}, false
	}
	for i := len(orders) - 1; i >= 0; i-- {
		if strings.Contains(orders[i].ID, id) {
			return orders[i], true
		}
	}
	return Order{}, false
}

// PositionSideLookup resolves the side an open position would need to be
// reduced by, so EntryOrders/ExitOrders can classify orders without this
// package depending on the position package directly.
type PositionSideLookup interface {
	// OpenSide returns (side, true) if a position is open for
	// (exchange,symbol), where side is the side that *opened* it (the
	// position's own directional side, BUY for long, SELL for short).
	OpenSide(exchange, symbol string) (Side, bool)
}

// EntryOrders returns active, non-canceled orders on the same side as the
// open position (orders that would increase it). When no position is open
// it returns every stored order for the pair, terminal ones included.
func (r *Repository) EntryOrders(exchange, symbol string, positions PositionSideLookup) []Order {
	side, open := positions.OpenSide(exchange, symbol)
	if !open {
		return r.Get(exchange, symbol)
	}
	var out []Order
	for _, o := range r.Active(exchange, symbol) {
		if o.Side == side && !o.IsCanceled() {
			out = append(out, o)
		}
	}
	return out
}

// ExitOrders returns every stored non-canceled order (executed ones
// included) on the opposite side of the open position (orders that would
// reduce or close it), or nil when no position is open.
func (r *Repository) ExitOrders(exchange, symbol string, positions PositionSideLookup) []Order {
	all := r.Get(exchange, symbol)
	if len(all) == 0 {
		return nil
	}
	side, open := positions.OpenSide(exchange, symbol)
	if !open {
		return nil
	}
	var out []Order
	for _, o := range all {
		if o.Side != side && !o.IsCanceled() {
			out = append(out, o)
		}
	}
	return out
}

// ActiveExitOrders is ExitOrders restricted to still-active orders.
func (r *Repository) ActiveExitOrders(exchange, symbol string, positions PositionSideLookup) []Order {
	active := r.Active(exchange, symbol)
	if len(active) == 0 {
		return nil
	}
	side, open := positions.OpenSide(exchange, symbol)
	if !open {
		return nil
	}
	var out []Order
	for _, o := range active {
		if o.Side != side && !o.IsCanceled() {
			out = append(out, o)
		}
	}
	return out
}
