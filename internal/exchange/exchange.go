// Package exchange implements per-exchange balance, margin, and fee
// bookkeeping shared by spot, futures, and sandbox accounts.
//
// Grounded on original_source/include/Exchange.hpp and src/Exchange.cpp
// (ct::exchange::Exchange / SpotExchange / FuturesExchange / Sandbox). Per
// spec.md §9's design note, the C++ inheritance hierarchy collapses into a
// single tagged Account type rather than three Go structs behind an
// interface — the balance/margin state lives in one place, and callers that
// need futures-only behavior check IsFutures() rather than type-switching.
package exchange

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lumenquant/ctengine/internal/ctxerr"
	"github.com/lumenquant/ctengine/internal/order"
	"github.com/lumenquant/ctengine/internal/position"
)

// Kind tags which accounting rules an Account follows.
type Kind int

const (
	KindSpot Kind = iota
	KindFutures
	KindSandbox
)

// asset tracks one currency's ledger: free balance plus a temporary
// reduction applied while an order is in flight (mirrors the original's
// increaseAssetTempReducedAmount bookkeeping).
type asset struct {
	balance     decimal.Decimal
	tempReduced decimal.Decimal
}

// spotSellSum tracks a symbol's outstanding sell qty by order type, used
// to admit a new sell order against the base asset's balance per
// spec.md §4.8 ("stop_sell_sum"/"limit_sell_sum").
type spotSellSum struct {
	limit decimal.Decimal
	stop  decimal.Decimal
}

// orderRow is one resting order's (qty, price) in a futures open-order
// matrix, per spec.md §3's "matrices of open orders (qty, price) for
// buy/sell".
type orderRow struct {
	id    string
	qty   float64
	price float64
}

// openOrderBook is the per-(side) open-order matrix of one base asset,
// used by futures margin accounting.
type openOrderBook struct {
	buy  []orderRow
	sell []orderRow
}

func cloneRows(rows []orderRow) []orderRow {
	return append([]orderRow(nil), rows...)
}

func removeOrderRow(rows []orderRow, id string) []orderRow {
	out := rows[:0]
	for _, r := range rows {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

func sumNotional(rows []orderRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(decimal.NewFromFloat(math.Abs(r.qty * r.price)))
	}
	return total
}

// splitSymbol breaks a "BASE-QUOTE" trading pair into its two assets,
// matching the convention used by RegisterPosition/GetAvailableMargin.
func splitSymbol(symbol string) (base, quote string) {
	if i := strings.IndexByte(symbol, '-'); i >= 0 {
		return symbol[:i], symbol[i+1:]
	}
	return symbol, ""
}

// Account is one exchange's balance/margin/fee state for the session.
// A Spot account only ever uses assets; a Futures account additionally
// tracks leverage, leverage mode, and realized PnL.
type Account struct {
	Name string
	Kind Kind

	feeRate decimal.Decimal

	assets map[string]*asset

	leverage     float64
	leverageMode position.LeverageMode
	realizedPnl  decimal.Decimal

	// settlementAsset is the currency ChargeFee/AddRealizedPnl post
	// against directly, so a futures account's balance reflects realized
	// PnL and fees rather than requiring callers to add a side ledger.
	settlementAsset string

	// positions resolves "<asset>-<settlement>" to the live position, used
	// by GetAvailableMargin. Wired by the owning session (internal/engine)
	// rather than imported directly, since position lookup is keyed by the
	// whole session's position repository, not just this account.
	positions map[string]*position.Position

	// spotSellSums tracks outstanding sell qty per symbol, keyed by order
	// type, for spot sell-order admission.
	spotSellSums map[string]*spotSellSum

	// reservedQuote tracks the exact quote-currency amount debited for a
	// still-open spot buy order, keyed by order id, so cancellation can
	// refund precisely what submission reserved.
	reservedQuote map[string]decimal.Decimal

	// futuresOpenOrders is the per-base-asset open-order matrix used by
	// futures margin accounting.
	futuresOpenOrders map[string]*openOrderBook

	// rollback captures a pre-mutation snapshot for Rollback.
	rollback *accountSnapshot
}

// New creates an account with the given fee rate (e.g. 0.001 for 10bps).
func New(name string, kind Kind, feeRate float64) *Account {
	return &Account{
		Name:              name,
		Kind:              kind,
		feeRate:           decimal.NewFromFloat(feeRate),
		assets:            make(map[string]*asset),
		leverageMode:      position.LeverageCross,
		positions:         make(map[string]*position.Position),
		spotSellSums:      make(map[string]*spotSellSum),
		reservedQuote:     make(map[string]decimal.Decimal),
		futuresOpenOrders: make(map[string]*openOrderBook),
	}
}

// IsFutures reports whether this account follows futures accounting rules.
func (a *Account) IsFutures() bool { return a.Kind == KindFutures }

// IsSandbox reports whether this account is a paper/sandbox account.
func (a *Account) IsSandbox() bool { return a.Kind == KindSandbox }

// FeeRate returns the account's configured taker/maker fee rate.
func (a *Account) FeeRate() float64 {
	f, _ := a.feeRate.Float64()
	return f
}

// Leverage returns the account's configured leverage (futures only).
func (a *Account) Leverage() float64 { return a.leverage }

// SetLeverage configures the account's leverage, used by futures accounts.
func (a *Account) SetLeverage(leverage float64, mode position.LeverageMode) {
	a.leverage = leverage
	a.leverageMode = mode
}

// LeverageMode returns the account's margin mode. Spot accounts have none.
func (a *Account) LeverageMode() (position.LeverageMode, bool) {
	if !a.IsFutures() {
		return "", false
	}
	return a.leverageMode, true
}

// SetSettlementAsset configures which asset a futures account's realized
// PnL and fees (ChargeFee/AddRealizedPnl) post against.
func (a *Account) SetSettlementAsset(assetSymbol string) { a.settlementAsset = assetSymbol }

// RegisterPosition makes a position resolvable by GetAvailableMargin under
// "<asset>-<settlement>".
func (a *Account) RegisterPosition(assetSymbol, settlementAsset string, p *position.Position) {
	a.positions[assetSymbol+"-"+settlementAsset] = p
}

func (a *Account) getAsset(symbol string) *asset {
	as, ok := a.assets[symbol]
	if !ok {
		as = &asset{}
		a.assets[symbol] = as
	}
	return as
}

func (a *Account) spotSums(symbol string) *spotSellSum {
	s, ok := a.spotSellSums[symbol]
	if !ok {
		s = &spotSellSum{}
		a.spotSellSums[symbol] = s
	}
	return s
}

func (a *Account) futuresBook(baseAsset string) *openOrderBook {
	b, ok := a.futuresOpenOrders[baseAsset]
	if !ok {
		b = &openOrderBook{}
		a.futuresOpenOrders[baseAsset] = b
	}
	return b
}

// SetBalance sets an asset's free balance directly (used to seed test
// fixtures and to apply exchange balance-stream pushes).
func (a *Account) SetBalance(symbol string, amount float64) {
	a.getAsset(symbol).balance = decimal.NewFromFloat(amount)
}

// Balance returns an asset's free balance.
func (a *Account) Balance(symbol string) float64 {
	f, _ := a.getAsset(symbol).balance.Float64()
	return f
}

// ChargeFee deducts notional*feeRate from realized PnL and, for a futures
// account with a configured settlement asset, from that asset's balance —
// used by Position.OnExecutedOrder for the backtest/simulation fee path.
func (a *Account) ChargeFee(notional float64) {
	fee := decimal.NewFromFloat(notional).Mul(a.feeRate)
	a.realizedPnl = a.realizedPnl.Sub(fee)
	if a.settlementAsset != "" {
		as := a.getAsset(a.settlementAsset)
		as.balance = as.balance.Sub(fee)
	}
}

// AddRealizedPnl folds a realized profit/loss amount into the account's
// ledger and, if a settlement asset is configured, into its balance.
func (a *Account) AddRealizedPnl(amount float64) {
	amt := decimal.NewFromFloat(amount)
	a.realizedPnl = a.realizedPnl.Add(amt)
	if a.settlementAsset != "" {
		as := a.getAsset(a.settlementAsset)
		as.balance = as.balance.Add(amt)
	}
}

// RealizedPnl returns the account's cumulative realized PnL.
func (a *Account) RealizedPnl() float64 {
	f, _ := a.realizedPnl.Float64()
	return f
}

// IncreaseAssetTempReducedAmount marks `amount` of `symbol` as committed to
// an in-flight order, so GetAvailableMargin doesn't double-spend it.
func (a *Account) IncreaseAssetTempReducedAmount(symbol string, amount float64) {
	as := a.getAsset(symbol)
	as.tempReduced = as.tempReduced.Add(decimal.NewFromFloat(amount))
}

// ResetTempReducedAmount clears an asset's temp-reduced marker, called once
// an order's fill (or cancel) has been reconciled into the free balance.
func (a *Account) ResetTempReducedAmount(symbol string) {
	a.getAsset(symbol).tempReduced = decimal.Zero
}

// GetAvailableMargin implements spec.md §4.8's futures formula:
// wallet_balance − Σ over open positions (total_cost − pnl) − Σ over open
// orders max(buy_notional, sell_notional)/leverage.
//
// The original (FuturesExchange::getAvailableMargin) builds a throwaway
// Position(BINANCE_SPOT, "") to read getCurrentPrice() — always null,
// always contributing zero — a bug confirmed in src/Exchange.cpp. This
// implementation instead resolves the real registered position for
// "<asset>-<settlement>" per spec.md §9, so an existing position's
// committed margin is correctly netted out of available margin, and it
// additionally reserves capital for resting open orders, which the
// original's placeholder bug dropped entirely.
func (a *Account) GetAvailableMargin(assetSymbol, settlementAsset string) (float64, error) {
	if !a.IsFutures() {
		return 0, errors.Wrap(ctxerr.ErrNotSupported, "exchange: margin only applies to futures accounts")
	}
	as := a.getAsset(settlementAsset)
	wallet := as.balance.Sub(as.tempReduced)

	committed := decimal.Zero
	if p, ok := a.positions[assetSymbol+"-"+settlementAsset]; ok && p.IsOpen() {
		committed = decimal.NewFromFloat(p.TotalCost() - p.Pnl())
	}

	reserved := decimal.Zero
	if book, ok := a.futuresOpenOrders[assetSymbol]; ok && a.leverage > 0 {
		buyNotional := sumNotional(book.buy)
		sellNotional := sumNotional(book.sell)
		maxNotional := buyNotional
		if sellNotional.GreaterThan(maxNotional) {
			maxNotional = sellNotional
		}
		reserved = maxNotional.Div(decimal.NewFromFloat(a.leverage))
	}

	available := wallet.Sub(committed).Sub(reserved)
	f, _ := available.Float64()
	if f < 0 {
		return 0, errors.Wrap(ctxerr.ErrInsufficientMargin, "exchange: available margin is negative")
	}
	return f, nil
}

// accountSnapshot captures every piece of mutable admission state for
// Rollback, per spec.md §4.8's "capture the affected balances and sums
// before mutation; restore on any thrown error".
type accountSnapshot struct {
	assets        map[string]asset
	spotSellSums  map[string]spotSellSum
	futuresBooks  map[string]openOrderBook
	reservedQuote map[string]decimal.Decimal
	realizedPnl   decimal.Decimal
}

func (a *Account) snapshot() accountSnapshot {
	assets := make(map[string]asset, len(a.assets))
	for k, v := range a.assets {
		assets[k] = *v
	}
	sums := make(map[string]spotSellSum, len(a.spotSellSums))
	for k, v := range a.spotSellSums {
		sums[k] = *v
	}
	books := make(map[string]openOrderBook, len(a.futuresOpenOrders))
	for k, v := range a.futuresOpenOrders {
		books[k] = openOrderBook{buy: cloneRows(v.buy), sell: cloneRows(v.sell)}
	}
	reserved := make(map[string]decimal.Decimal, len(a.reservedQuote))
	for k, v := range a.reservedQuote {
		reserved[k] = v
	}
	return accountSnapshot{assets: assets, spotSellSums: sums, futuresBooks: books, reservedQuote: reserved, realizedPnl: a.realizedPnl}
}

// Begin starts a transactional balance mutation: a snapshot is kept so a
// failed order submission can Rollback cleanly, mirroring the original's
// exchange-level transactional guarantees around order placement.
func (a *Account) Begin() {
	snap := a.snapshot()
	a.rollback = &snap
}

// Commit discards the rollback snapshot, finalizing the mutation.
func (a *Account) Commit() {
	a.rollback = nil
}

// Rollback restores every asset, sell sum, and open-order row to its state
// as of the last Begin.
func (a *Account) Rollback() error {
	if a.rollback == nil {
		return errors.Wrap(ctxerr.ErrInvalidArgument, "exchange: rollback called without a matching Begin")
	}
	assets := make(map[string]*asset, len(a.rollback.assets))
	for symbol, snap := range a.rollback.assets {
		s := snap
		assets[symbol] = &s
	}
	a.assets = assets

	sums := make(map[string]*spotSellSum, len(a.rollback.spotSellSums))
	for symbol, snap := range a.rollback.spotSellSums {
		s := snap
		sums[symbol] = &s
	}
	a.spotSellSums = sums

	books := make(map[string]*openOrderBook, len(a.rollback.futuresBooks))
	for asset, snap := range a.rollback.futuresBooks {
		books[asset] = &openOrderBook{buy: cloneRows(snap.buy), sell: cloneRows(snap.sell)}
	}
	a.futuresOpenOrders = books

	reserved := make(map[string]decimal.Decimal, len(a.rollback.reservedQuote))
	for id, v := range a.rollback.reservedQuote {
		reserved[id] = v
	}
	a.reservedQuote = reserved

	a.realizedPnl = a.rollback.realizedPnl
	a.rollback = nil
	return nil
}

// Withdraw deducts amount from an asset's free balance, failing with
// ErrInsufficientBalance if the asset doesn't have enough.
func (a *Account) Withdraw(symbol string, amount float64) error {
	as := a.getAsset(symbol)
	amt := decimal.NewFromFloat(amount)
	if as.balance.LessThan(amt) {
		return errors.Wrapf(ctxerr.ErrInsufficientBalance, "exchange: %s balance %s below requested %s", symbol, as.balance.String(), amt.String())
	}
	as.balance = as.balance.Sub(amt)
	return nil
}

// Deposit credits amount to an asset's free balance.
func (a *Account) Deposit(symbol string, amount float64) {
	a.getAsset(symbol).balance = a.getAsset(symbol).balance.Add(decimal.NewFromFloat(amount))
}

// OnOrderSubmission implements spec.md §4.8's admission rules: for spot,
// reserving the sell side's base-asset capacity (or debiting the buy
// side's quote-asset cost); for futures, rejecting with
// ErrInsufficientMargin if the order's effective size exceeds available
// margin, then reserving non-reduce-only orders in the open-order matrix.
// refPrice prices MARKET orders, which carry no Order.Price.
func (a *Account) OnOrderSubmission(o order.Order, refPrice float64) error {
	price := refPrice
	if o.Price != nil {
		price = *o.Price
	}
	a.Begin()
	var err error
	if a.IsFutures() {
		err = a.onFuturesSubmission(o, price)
	} else {
		err = a.onSpotSubmission(o, price)
	}
	if err != nil {
		a.Rollback()
		return err
	}
	a.Commit()
	return nil
}

func (a *Account) onSpotSubmission(o order.Order, price float64) error {
	base, quote := splitSymbol(o.Symbol)
	qty := math.Abs(o.Qty)

	if o.Side == order.SideSell {
		sums := a.spotSums(o.Symbol)
		var load decimal.Decimal
		switch o.Type {
		case order.TypeLimit:
			sums.limit = sums.limit.Add(decimal.NewFromFloat(qty))
			load = sums.limit
		case order.TypeStop:
			sums.stop = sums.stop.Add(decimal.NewFromFloat(qty))
			load = sums.stop
		default: // MARKET
			load = decimal.NewFromFloat(qty).Add(sums.limit)
		}
		baseBalance := a.getAsset(base).balance
		if load.GreaterThan(baseBalance) {
			return errors.Wrapf(ctxerr.ErrInsufficientBalance, "exchange: sell load %s exceeds %s balance %s", load.String(), base, baseBalance.String())
		}
		return nil
	}

	cost := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	as := a.getAsset(quote)
	if as.balance.LessThan(cost) {
		return errors.Wrapf(ctxerr.ErrInsufficientBalance, "exchange: buy cost %s exceeds %s balance %s", cost.String(), quote, as.balance.String())
	}
	as.balance = as.balance.Sub(cost)
	a.reservedQuote[o.ID] = cost
	return nil
}

func (a *Account) onFuturesSubmission(o order.Order, price float64) error {
	base, quote := splitSymbol(o.Symbol)
	qty := math.Abs(o.Qty)
	effectiveSize := math.Abs(qty * price)
	if a.leverage > 0 {
		effectiveSize /= a.leverage
	}

	available, err := a.GetAvailableMargin(base, quote)
	if err != nil {
		return err
	}
	if effectiveSize > available {
		return errors.Wrapf(ctxerr.ErrInsufficientMargin, "exchange: effective size %.8f exceeds available margin %.8f", effectiveSize, available)
	}

	if !o.ReduceOnly {
		book := a.futuresBook(base)
		row := orderRow{id: o.ID, qty: qty, price: price}
		if o.Side == order.SideBuy {
			book.buy = append(book.buy, row)
		} else {
			book.sell = append(book.sell, row)
		}
	}
	return nil
}

// OnOrderExecution implements spec.md §4.8's settlement rules: for spot,
// crediting/debiting the base and quote assets by the fill; for futures,
// removing the order's row from the open-order matrix (fees/PnL are
// settled through ChargeFee/AddRealizedPnl, invoked by
// Position.OnExecutedOrder).
func (a *Account) OnOrderExecution(o order.Order, price float64) error {
	a.Begin()
	if a.IsFutures() {
		a.removeFuturesRow(o)
	} else {
		a.onSpotExecution(o, price)
	}
	a.Commit()
	return nil
}

func (a *Account) onSpotExecution(o order.Order, price float64) {
	base, quote := splitSymbol(o.Symbol)
	qty := math.Abs(o.Qty)

	if o.Side == order.SideSell {
		credit := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price)).Mul(decimal.NewFromInt(1).Sub(a.feeRate))
		a.getAsset(quote).balance = a.getAsset(quote).balance.Add(credit)
		a.getAsset(base).balance = a.getAsset(base).balance.Sub(decimal.NewFromFloat(qty))

		sums := a.spotSums(o.Symbol)
		switch o.Type {
		case order.TypeLimit:
			sums.limit = sums.limit.Sub(decimal.NewFromFloat(qty))
		case order.TypeStop:
			sums.stop = sums.stop.Sub(decimal.NewFromFloat(qty))
		}
		return
	}

	credit := decimal.NewFromFloat(qty).Mul(decimal.NewFromInt(1).Sub(a.feeRate))
	a.getAsset(base).balance = a.getAsset(base).balance.Add(credit)
	delete(a.reservedQuote, o.ID)
}

func (a *Account) removeFuturesRow(o order.Order) {
	if o.ReduceOnly {
		return
	}
	base, _ := splitSymbol(o.Symbol)
	book, ok := a.futuresOpenOrders[base]
	if !ok {
		return
	}
	if o.Side == order.SideBuy {
		book.buy = removeOrderRow(book.buy, o.ID)
	} else {
		book.sell = removeOrderRow(book.sell, o.ID)
	}
}

// OnOrderCancellation implements spec.md §4.8's refund rules: for spot
// buys, refunding the full reserved quote amount; for spot sells,
// decrementing the sell-sum the order contributed; for futures,
// removing the order's row from the open-order matrix.
func (a *Account) OnOrderCancellation(o order.Order) error {
	a.Begin()
	if a.IsFutures() {
		a.removeFuturesRow(o)
	} else {
		a.onSpotCancellation(o)
	}
	a.Commit()
	return nil
}

func (a *Account) onSpotCancellation(o order.Order) {
	_, quote := splitSymbol(o.Symbol)
	qty := math.Abs(o.Qty)

	if o.Side == order.SideBuy {
		refund, ok := a.reservedQuote[o.ID]
		if ok {
			delete(a.reservedQuote, o.ID)
		} else {
			price := 0.0
			if o.Price != nil {
				price = *o.Price
			}
			refund = decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
		}
		a.getAsset(quote).balance = a.getAsset(quote).balance.Add(refund)
		return
	}

	sums := a.spotSums(o.Symbol)
	switch o.Type {
	case order.TypeLimit:
		sums.limit = sums.limit.Sub(decimal.NewFromFloat(qty))
	case order.TypeStop:
		sums.stop = sums.stop.Sub(decimal.NewFromFloat(qty))
	}
}
