package arbitrage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lumenquant/ctengine/internal/ctxerr"
)

// RESTClient is a resty-backed venue client, grounded on the original's
// NobitexClient (manual Beast HTTP + TLS plumbing collapses into resty's
// client, which the rest of the retrieved pack reaches for uniformly).
type RESTClient struct {
	http        *resty.Client
	accessToken string
}

// NewRESTClient builds a client against baseURL, authenticated with token.
func NewRESTClient(baseURL, token string) (*RESTClient, error) {
	if token == "" {
		return nil, errors.Wrap(ctxerr.ErrInvalidConfig, "arbitrage: access token cannot be empty")
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "ctengine-arbitrage/1.0").
		SetHeader("Authorization", "Token "+token).
		SetTimeout(10 * time.Second)
	return &RESTClient{http: c, accessToken: token}, nil
}

type orderbookResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func parseLevels(raw [][2]string) ([]Level, error) {
	levels := make([]Level, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, errors.Wrap(err, "arbitrage: parsing order book price")
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, errors.Wrap(err, "arbitrage: parsing order book qty")
		}
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	return levels, nil
}

// OrderBook fetches symbol's order book over REST, implementing BookSource.
func (c *RESTClient) OrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	var out orderbookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v3/orderbook/" + symbol)
	if err != nil {
		return OrderBook{}, errors.Wrapf(err, "arbitrage: fetching order book for %s", symbol)
	}
	if resp.IsError() {
		return OrderBook{}, errors.Wrapf(ctxerr.ErrExchangeError, "arbitrage: order book request for %s returned %s", symbol, resp.Status())
	}
	bids, err := parseLevels(out.Bids)
	if err != nil {
		return OrderBook{}, err
	}
	asks, err := parseLevels(out.Asks)
	if err != nil {
		return OrderBook{}, err
	}
	return OrderBook{Bids: bids, Asks: asks}, nil
}

// WalletBalance returns the free balance of currency.
func (c *RESTClient) WalletBalance(ctx context.Context, currency string) (float64, error) {
	var out struct {
		Status  string `json:"status"`
		Balance string `json:"balance"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"currency": strings.ToLower(currency)}).
		SetResult(&out).
		Post("/users/wallets/balance")
	if err != nil {
		return 0, errors.Wrapf(err, "arbitrage: fetching %s balance", currency)
	}
	if resp.IsError() || out.Status != "ok" {
		return 0, errors.Wrapf(ctxerr.ErrExchangeError, "arbitrage: balance request for %s returned %s", currency, resp.Status())
	}
	v, err := strconv.ParseFloat(out.Balance, 64)
	if err != nil {
		return 0, errors.Wrap(err, "arbitrage: parsing balance value")
	}
	return v, nil
}

// PlaceMarketOrder submits a market order, returning the exchange's raw
// status string for the caller to check against "ok".
func (c *RESTClient) PlaceMarketOrder(ctx context.Context, base, quote, side string, amount float64) (string, error) {
	if amount <= 0 {
		return "", errors.Wrap(ctxerr.ErrInvalidArgument, "arbitrage: order amount must be positive")
	}
	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"type":        side,
			"srcCurrency": strings.ToLower(base),
			"dstCurrency": strings.ToLower(quote),
			"amount":      amount,
			"execution":   "limit",
		}).
		SetResult(&out).
		Post("/market/orders/add")
	if err != nil {
		return "", errors.Wrapf(err, "arbitrage: placing %s %s/%s order", side, base, quote)
	}
	if resp.IsError() {
		return "", errors.Wrapf(ctxerr.ErrExchangeRejectedOrder, "arbitrage: order request returned %s", resp.Status())
	}
	return out.Status, nil
}

// CachedBookSource wraps a websocket push feed, falling back to REST when a
// symbol hasn't been pushed yet — matching the original's getBestTurnOver
// "check cache, else REST" precedence.
type CachedBookSource struct {
	mu       sync.RWMutex
	cache    map[string]OrderBook
	fallback BookSource
}

// NewCachedBookSource wraps fallback with an empty push cache.
func NewCachedBookSource(fallback BookSource) *CachedBookSource {
	return &CachedBookSource{cache: make(map[string]OrderBook), fallback: fallback}
}

// Update records a freshly-pushed order book for symbol.
func (c *CachedBookSource) Update(symbol string, book OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[symbol] = book
}

// OrderBook implements BookSource, preferring the push cache.
func (c *CachedBookSource) OrderBook(ctx context.Context, symbol string) (OrderBook, error) {
	c.mu.RLock()
	book, ok := c.cache[symbol]
	c.mu.RUnlock()
	if ok {
		return book, nil
	}
	return c.fallback.OrderBook(ctx, symbol)
}

// WSClient subscribes to push order-book updates over a websocket,
// grounded on original_source/arbitrage/websocket_client.hpp's
// connect/subscribe/push wire protocol (a Centrifugo-style envelope:
// {"connect":{}, "id":N} to open, {"subscribe":{"channel":"public:
// orderbook-<symbol>"}, "id":N} per symbol, and inbound
// {"push":{"channel":...,"pub":{"data": "<json-string>"}}} frames).
type WSClient struct {
	url  string
	conn *websocket.Conn
	log  zerolog.Logger

	mu          sync.Mutex
	nextID      int
	subscribed  []string
	onOrderbook func(symbol string, book OrderBook)
}

// NewWSClient creates a client targeting url (e.g.
// wss://wss.nobitex.ir/connection/websocket).
func NewWSClient(url string, log zerolog.Logger) *WSClient {
	return &WSClient{url: url, log: log, nextID: 1}
}

// OnOrderbook registers the callback invoked for each orderbook push.
func (w *WSClient) OnOrderbook(fn func(symbol string, book OrderBook)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOrderbook = fn
}

// Connect dials the websocket and sends the initial connect envelope, with
// jpillora/backoff-governed retries replacing the original's fixed
// 2-second reconnect sleep.
func (w *WSClient) Connect(ctx context.Context) error {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
		if err == nil {
			w.mu.Lock()
			w.conn = conn
			w.mu.Unlock()
			return w.send(map[string]any{"connect": map[string]any{}, "id": w.allocID()})
		}
		lastErr = err
		w.log.Warn().Err(err).Int("attempt", attempt+1).Msg("arbitrage: websocket connect failed, retrying")
		time.Sleep(b.Duration())
	}
	return errors.Wrap(lastErr, "arbitrage: websocket connect failed after retries")
}

func (w *WSClient) allocID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	return id
}

func (w *WSClient) send(msg map[string]any) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return errors.Wrap(ctxerr.ErrExchangeNotResponding, "arbitrage: websocket not connected")
	}
	return conn.WriteJSON(msg)
}

// SubscribeOrderbook subscribes to push updates for symbol's order book.
func (w *WSClient) SubscribeOrderbook(symbol string) error {
	id := w.allocID()
	w.mu.Lock()
	w.subscribed = append(w.subscribed, symbol)
	w.mu.Unlock()
	return w.send(map[string]any{
		"subscribe": map[string]string{"channel": "public:orderbook-" + symbol},
		"id":        id,
	})
}

// Run reads frames until ctx is canceled or the connection closes,
// dispatching orderbook pushes to the registered callback.
func (w *WSClient) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return errors.Wrap(ctxerr.ErrExchangeNotResponding, "arbitrage: websocket not connected")
		}
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return errors.Wrap(err, "arbitrage: websocket read failed")
		}
		symbol, book, ok := frame.orderbook()
		if !ok {
			continue
		}
		w.mu.Lock()
		cb := w.onOrderbook
		w.mu.Unlock()
		if cb != nil {
			cb(symbol, book)
		}
	}
}

// Close terminates the underlying connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

type pushFrame struct {
	Push struct {
		Channel string `json:"channel"`
		Pub     struct {
			Data string `json:"data"`
		} `json:"pub"`
	} `json:"push"`
}

const orderbookChannelPrefix = "public:orderbook-"

func (f pushFrame) orderbook() (string, OrderBook, bool) {
	if !strings.HasPrefix(f.Push.Channel, orderbookChannelPrefix) {
		return "", OrderBook{}, false
	}
	symbol := strings.TrimPrefix(f.Push.Channel, orderbookChannelPrefix)
	var data orderbookResponse
	if err := json.Unmarshal([]byte(f.Push.Pub.Data), &data); err != nil {
		return "", OrderBook{}, false
	}
	bids, err := parseLevels(data.Bids)
	if err != nil {
		return "", OrderBook{}, false
	}
	asks, err := parseLevels(data.Asks)
	if err != nil {
		return "", OrderBook{}, false
	}
	return symbol, OrderBook{Bids: bids, Asks: asks}, true
}
