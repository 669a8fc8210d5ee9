// Package engine owns the session: the shared kernel clock, the state-apply
// channel that serializes every mutation across the order/position/
// exchange/candle/orderbook/tradebucket repositories, and atomic-file
// persistence of a session snapshot.
//
// Grounded on the teacher's trader.go Trader struct: its
// stateApplyCh chan func(*Trader) single-writer goroutine (generalized
// here from position-only state to every repository an Engine owns), its
// NewTrader fail-fast state-mount check, and its saveState/loadState
// temp-file-then-rename persistence idiom. Session-record fields
// (session id, daily balance history, open-trade/PnL/liquidation
// counters, write-once API key ids) come from
// original_source/include/App.hpp + src/App.cpp (ct::AppState).
package engine

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lumenquant/ctengine/internal/broker"
	"github.com/lumenquant/ctengine/internal/candle"
	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/exchange"
	"github.com/lumenquant/ctengine/internal/order"
	"github.com/lumenquant/ctengine/internal/orderbook"
	"github.com/lumenquant/ctengine/internal/position"
	"github.com/lumenquant/ctengine/internal/timeframe"
	"github.com/lumenquant/ctengine/internal/tradebucket"
)

// Snapshot is the durable session record written to the state file: the
// fields from the original's AppState plus the session id, persisted with
// an atomic temp-file-then-rename write, matching the teacher's
// saveStateFrom.
type Snapshot struct {
	SessionID        string    `json:"session_id"`
	NowMs            int64     `json:"now_ms"`
	StartingTimeMs   *int64    `json:"starting_time_ms,omitempty"`
	EndingTimeMs     *int64    `json:"ending_time_ms,omitempty"`
	DailyBalance     []float64 `json:"daily_balance"`
	TotalOpenTrades  int       `json:"total_open_trades"`
	TotalOpenPnl     float64   `json:"total_open_pnl"`
	TotalLiquidations int      `json:"total_liquidations"`
}

// Engine is the session-owned collection of every repository, serialized
// through a single apply channel so concurrent producers (websocket feeds,
// the simulation driver, strategy callbacks) never race on shared state.
type Engine struct {
	mu sync.RWMutex

	sessionID string
	nowMs     int64

	startingTimeMs *int64
	endingTimeMs   *int64

	dailyBalance      []float64
	totalOpenTrades   int
	totalOpenPnl      float64
	totalLiquidations int

	exchangeAPIKeyID        string
	notificationsAPIKeyID   string

	candles     *candle.State
	orderbooks  *orderbook.State
	tradebucket *tradebucket.State
	orders      *order.Repository
	positions   map[positionKey]*position.Position
	exchanges   map[string]*exchange.Account
	brokers     map[string]*broker.Broker

	stateFile    string
	persistState bool

	applyCh chan func(*Engine)
	done    chan struct{}

	log zerolog.Logger
}

type positionKey struct {
	exchange string
	symbol   string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithStateFile enables atomic-file persistence at path.
func WithStateFile(path string) Option {
	return func(e *Engine) {
		e.stateFile = path
		e.persistState = true
	}
}

// WithLogger overrides the default logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New constructs an Engine for sessionID and starts its apply-channel
// worker goroutine. Call Close to stop it.
func New(sessionID string, opts ...Option) *Engine {
	e := &Engine{
		sessionID:   sessionID,
		candles:     candle.New(),
		orderbooks:  orderbook.New(),
		tradebucket: tradebucket.New(),
		orders:      order.NewRepository(),
		positions:   make(map[positionKey]*position.Position),
		exchanges:   make(map[string]*exchange.Account),
		brokers:     make(map[string]*broker.Broker),
		applyCh:     make(chan func(*Engine), 128),
		done:        make(chan struct{}),
		log:         zerolog.New(os.Stderr).With().Timestamp().Str("session_id", sessionID).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// NewTrader's fail-fast state-mount check: if persistence is
	// requested, verify the directory is writable now rather than
	// discovering it on the first failed save.
	if e.persistState {
		if err := e.checkStateMount(); err != nil {
			e.log.Fatal().Err(err).Msg("engine: state file directory is not writable")
		}
	}

	go e.run()
	return e
}

func (e *Engine) checkStateMount() error {
	probe := e.stateFile + ".mountcheck"
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return errors.Wrap(err, "engine: state mount check failed")
	}
	return os.Remove(probe)
}

func (e *Engine) run() {
	for fn := range e.applyCh {
		fn(e)
	}
	close(e.done)
}

// Apply serializes fn through the engine's single-writer goroutine,
// generalizing the teacher's stateApplyCh from Trader-only state to every
// repository an Engine owns.
func (e *Engine) Apply(fn func(*Engine)) {
	e.applyCh <- fn
}

// Close stops accepting new Apply calls and waits for the worker to drain.
func (e *Engine) Close() {
	close(e.applyCh)
	<-e.done
}

// SetExchangeAPIKey sets the exchange credential id once; a second call
// errors, mirroring AppState::setExchangeApiKey's "already set" guard.
func (e *Engine) SetExchangeAPIKey(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exchangeAPIKeyID != "" {
		return errors.Wrap(ctxerr.ErrInvalidArgument, "engine: exchange api key already set")
	}
	e.exchangeAPIKeyID = id
	return nil
}

// SetNotificationsAPIKey sets the notifications credential id once.
func (e *Engine) SetNotificationsAPIKey(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notificationsAPIKeyID != "" {
		return errors.Wrap(ctxerr.ErrInvalidArgument, "engine: notifications api key already set")
	}
	e.notificationsAPIKeyID = id
	return nil
}

// Now returns the engine's current logical clock in epoch milliseconds.
func (e *Engine) Now() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nowMs
}

// SetNow advances the engine's logical clock (backtest driver) or records
// the latest observed server time (live mode).
func (e *Engine) SetNow(nowMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowMs = nowMs
}

// RecordDailyBalance appends to the daily balance history used for
// drawdown/equity-curve reporting.
func (e *Engine) RecordDailyBalance(balance float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyBalance = append(e.dailyBalance, balance)
}

// DailyBalance returns a copy of the recorded balance history.
func (e *Engine) DailyBalance() []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]float64, len(e.dailyBalance))
	copy(out, e.dailyBalance)
	return out
}

// SetOpenTradeMetrics updates the session's open-trade summary counters.
func (e *Engine) SetOpenTradeMetrics(totalOpenTrades int, totalOpenPnl float64, totalLiquidations int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalOpenTrades = totalOpenTrades
	e.totalOpenPnl = totalOpenPnl
	e.totalLiquidations = totalLiquidations
}

// Exchange returns (creating if absent) the named exchange account.
func (e *Engine) Exchange(name string, kind exchange.Kind, feeRate float64) *exchange.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.exchanges[name]
	if !ok {
		acc = exchange.New(name, kind, feeRate)
		e.exchanges[name] = acc
	}
	return acc
}

// Position returns (creating if absent) the position for (exchange,symbol),
// bound to that exchange's account for fee/leverage resolution.
func (e *Engine) Position(exchangeName, symbol string) *position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := positionKey{exchangeName, symbol}
	p, ok := e.positions[k]
	if !ok {
		acc, known := e.exchanges[exchangeName]
		if !known {
			acc = exchange.New(exchangeName, exchange.KindSpot, 0)
			e.exchanges[exchangeName] = acc
		}
		p = position.Builder{ExchangeName: exchangeName, Symbol: symbol}.Build(acc)
		e.positions[k] = p
	}
	return p
}

// OpenSide implements order.PositionSideLookup.
func (e *Engine) OpenSide(exchangeName, symbol string) (order.Side, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[positionKey{exchangeName, symbol}]
	if !ok || !p.IsOpen() {
		return "", false
	}
	if p.IsLong() {
		return order.SideBuy, true
	}
	return order.SideSell, true
}

// OpenQty implements broker.PositionQuery.
func (e *Engine) OpenQty(exchangeName, symbol string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[positionKey{exchangeName, symbol}]
	if !ok || !p.IsOpen() {
		return 0, false
	}
	return p.Qty, true
}

// ApplyFill implements simulate.PositionExecutor.
func (e *Engine) ApplyFill(exchangeName, symbol string, qty, price float64, reduceOnly bool) error {
	p := e.Position(exchangeName, symbol)
	return p.OnExecutedOrder(qty, price, reduceOnly)
}

// OnOrderSubmission implements broker.ExchangeAccount, delegating admission
// to the order's exchange account (created as a zero-fee spot account if
// this is the first order seen for exchangeName, matching Position's
// bootstrap pattern).
func (e *Engine) OnOrderSubmission(exchangeName string, o order.Order, refPrice float64) error {
	acc := e.Exchange(exchangeName, exchange.KindSpot, 0)
	return acc.OnOrderSubmission(o, refPrice)
}

// OnOrderExecution implements simulate.ExchangeExecutor, delegating
// settlement to the order's exchange account.
func (e *Engine) OnOrderExecution(exchangeName string, o order.Order, price float64) error {
	acc := e.Exchange(exchangeName, exchange.KindSpot, 0)
	return acc.OnOrderExecution(o, price)
}

// OnOrderCancellation implements simulate.ExchangeExecutor, delegating the
// cancellation refund to the order's exchange account.
func (e *Engine) OnOrderCancellation(exchangeName string, o order.Order) error {
	acc := e.Exchange(exchangeName, exchange.KindSpot, 0)
	return acc.OnOrderCancellation(o)
}

// CurrentPrice implements broker.PriceSource from the most recent 1-minute
// candle close.
func (e *Engine) CurrentPrice(exchangeName, symbol string) (float64, bool) {
	c, ok := e.candles.Last(exchangeName, symbol, timeframe.Minute1)
	if !ok {
		return 0, false
	}
	return c.Close, true
}

// Orders returns the engine's shared order repository.
func (e *Engine) Orders() *order.Repository { return e.orders }

// Candles returns the engine's shared candle state.
func (e *Engine) Candles() *candle.State { return e.candles }

// Orderbooks returns the engine's shared orderbook state.
func (e *Engine) Orderbooks() *orderbook.State { return e.orderbooks }

// TradeBuckets returns the engine's shared trade-bucket state.
func (e *Engine) TradeBuckets() *tradebucket.State { return e.tradebucket }

// Broker returns (creating if absent) the broker façade for exchangeName.
func (e *Engine) Broker(exchangeName string, sandbox bool) *broker.Broker {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.brokers[exchangeName]
	if !ok {
		b = broker.New(exchangeName, e.orders, e, e, e, sandbox)
		e.brokers[exchangeName] = b
	}
	return b
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:         e.sessionID,
		NowMs:             e.nowMs,
		StartingTimeMs:    e.startingTimeMs,
		EndingTimeMs:      e.endingTimeMs,
		DailyBalance:      append([]float64(nil), e.dailyBalance...),
		TotalOpenTrades:   e.totalOpenTrades,
		TotalOpenPnl:      e.totalOpenPnl,
		TotalLiquidations: e.totalLiquidations,
	}
}

// SaveState builds a snapshot under a read lock, then writes it without
// holding any locks, matching the teacher's saveState.
func (e *Engine) SaveState() error {
	if !e.persistState {
		return nil
	}
	e.mu.RLock()
	snap := e.snapshotLocked()
	e.mu.RUnlock()
	return e.saveSnapshot(snap)
}

func (e *Engine) saveSnapshot(snap Snapshot) error {
	bs, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		return errors.Wrap(err, "engine: marshaling state snapshot")
	}
	tmp := e.stateFile + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return errors.Wrap(err, "engine: writing temp state file")
	}
	return errors.Wrap(os.Rename(tmp, e.stateFile), "engine: renaming temp state file")
}

// LoadState restores a previously-saved snapshot into the engine.
func (e *Engine) LoadState() error {
	if !e.persistState {
		return errors.Wrap(ctxerr.ErrInvalidConfig, "engine: state persistence not configured")
	}
	bs, err := os.ReadFile(e.stateFile)
	if err != nil {
		return errors.Wrap(err, "engine: reading state file")
	}
	var snap Snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return errors.Wrap(err, "engine: unmarshaling state file")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowMs = snap.NowMs
	e.startingTimeMs = snap.StartingTimeMs
	e.endingTimeMs = snap.EndingTimeMs
	e.dailyBalance = snap.DailyBalance
	e.totalOpenTrades = snap.TotalOpenTrades
	e.totalOpenPnl = snap.TotalOpenPnl
	e.totalLiquidations = snap.TotalLiquidations
	return nil
}

// SessionID returns the engine's session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// Log returns the engine's structured logger.
func (e *Engine) Log() *zerolog.Logger { return &e.log }

// elapsed reports how long the session has been running (now_ms minus
// starting_time), or 0 when no starting time is set.
func (e *Engine) elapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.startingTimeMs == nil {
		return 0
	}
	return time.Duration(e.nowMs-*e.startingTimeMs) * time.Millisecond
}
