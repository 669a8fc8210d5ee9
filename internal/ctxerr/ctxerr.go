// Package ctxerr defines the engine-wide error taxonomy. Kinds are sentinel
// values, not types: callers compare with errors.Is and add call-site
// context with github.com/pkg/errors.Wrap.
package ctxerr

import "errors"

// Configuration
var (
	ErrInvalidConfig         = errors.New("invalid config")
	ErrInvalidTimeframe      = errors.New("invalid timeframe")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrInvalidExchangeAPIKey = errors.New("invalid exchange api keys")
)

// Routing
var (
	ErrRouteNotFound  = errors.New("route not found")
	ErrInvalidRoutes  = errors.New("invalid routes")
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Position/order preconditions
var (
	ErrEmptyPosition     = errors.New("empty position")
	ErrOpenPositionError = errors.New("position already open")
	ErrOrderNotAllowed   = errors.New("order not allowed")
	ErrConflictingRules  = errors.New("conflicting rules")
)

// Balance/margin
var (
	ErrNegativeBalance     = errors.New("negative balance")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientMargin  = errors.New("insufficient margin")
)

// Exchange runtime
var (
	ErrExchangeInMaintenance = errors.New("exchange in maintenance")
	ErrExchangeNotResponding = errors.New("exchange not responding")
	ErrExchangeRejectedOrder = errors.New("exchange rejected order")
	ErrExchangeOrderNotFound = errors.New("exchange order not found")
	ErrExchangeError         = errors.New("exchange error")
)

// Data
var (
	ErrCandleNotFoundInDatabase = errors.New("candle not found in database")
	ErrCandleNotFoundInExchange = errors.New("candle not found in exchange")
	ErrCandlesNotFound          = errors.New("candles not found")
	ErrInvalidShape             = errors.New("invalid shape")
)

// Lifecycle
var (
	ErrTermination      = errors.New("termination")
	ErrNotSupported     = errors.New("not supported")
	ErrOutOfRange       = errors.New("out of range")
	ErrDivideByZero     = errors.New("divide by zero")
	ErrInvalidArgument  = errors.New("invalid argument")
)
