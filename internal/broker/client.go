// Package broker is the REST and streaming client for the trading API. The
// Client implements every gateway interface the engine consumes: historical
// candles, quotes and depth, order placement and position queries.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// Per-account request caps enforced by the API. Order endpoints are capped
// harder than data endpoints.
const (
	dataRateLimit   = 3
	orderRateLimit  = 10
	rateLimitWindow = time.Second
)

// Config carries the API endpoint and session credentials.
type Config struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration

	// Limiter, when set, throttles requests under the account-wide caps so
	// concurrent strategy loops share the quota. Nil disables throttling.
	Limiter domain.RateLimiter
}

// Client talks to the broker's REST API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	token      string
	httpClient *http.Client
	limiter    domain.RateLimiter
}

var _ domain.Gateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		token:      cfg.AccessToken,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
	}
}

func (c *Client) throttle(ctx context.Context, key string, limit int) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx, key, limit, rateLimitWindow)
}

// apiEnvelope is the common response wrapper.
type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// exchangeFor maps a trading symbol to its exchange segment. Index symbols
// carry a space ("NIFTY 50"); contracts do not.
func exchangeFor(symbol string) string {
	if strings.Contains(symbol, " ") {
		return "NSE"
	}
	return "NFO"
}

func qualify(symbol string) string {
	return exchangeFor(symbol) + ":" + symbol
}

// Candles returns historical candles for an instrument token, oldest first.
func (c *Client) Candles(ctx context.Context, instrumentToken int64, interval string, lookbackDays int) ([]domain.Candle, error) {
	now := time.Now()
	q := url.Values{
		"from": {now.AddDate(0, 0, -lookbackDays).Format("2006-01-02 15:04:05")},
		"to":   {now.Format("2006-01-02 15:04:05")},
	}
	path := fmt.Sprintf("/instruments/historical/%d/%s", instrumentToken, interval)
	data, err := c.get(ctx, path, q)
	if err != nil {
		return nil, fmt.Errorf("broker: candles %d: %w", instrumentToken, err)
	}

	var payload struct {
		Candles [][]json.RawMessage `json:"candles"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("broker: decode candles: %w", err)
	}
	out := make([]domain.Candle, 0, len(payload.Candles))
	for _, row := range payload.Candles {
		if len(row) < 6 {
			return nil, fmt.Errorf("broker: short candle row (%d fields)", len(row))
		}
		var ts string
		var o, h, l, cl float64
		var vol int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("broker: candle timestamp: %w", err)
		}
		for i, dst := range []*float64{&o, &h, &l, &cl} {
			if err := json.Unmarshal(row[i+1], dst); err != nil {
				return nil, fmt.Errorf("broker: candle field %d: %w", i+1, err)
			}
		}
		if err := json.Unmarshal(row[5], &vol); err != nil {
			return nil, fmt.Errorf("broker: candle volume: %w", err)
		}
		t, err := time.Parse("2006-01-02T15:04:05-0700", ts)
		if err != nil {
			return nil, fmt.Errorf("broker: candle timestamp %q: %w", ts, err)
		}
		out = append(out, domain.Candle{Timestamp: t, Open: o, High: h, Low: l, Close: cl, Volume: vol})
	}
	return out, nil
}

// Quote returns the last traded price for a symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (float64, error) {
	key := qualify(symbol)
	data, err := c.get(ctx, "/quote/ltp", url.Values{"i": {key}})
	if err != nil {
		return 0, fmt.Errorf("broker: ltp %s: %w", symbol, err)
	}
	var payload map[string]struct {
		LastPrice float64 `json:"last_price"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, fmt.Errorf("broker: decode ltp: %w", err)
	}
	q, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("broker: %s: %w", symbol, domain.ErrNoQuote)
	}
	return q.LastPrice, nil
}

// Depth returns the best bid and ask for a symbol. Either side may be zero
// when the book is empty.
func (c *Client) Depth(ctx context.Context, symbol string) (domain.Depth, error) {
	key := qualify(symbol)
	data, err := c.get(ctx, "/quote", url.Values{"i": {key}})
	if err != nil {
		return domain.Depth{}, fmt.Errorf("broker: quote %s: %w", symbol, err)
	}
	type level struct {
		Price float64 `json:"price"`
	}
	var payload map[string]struct {
		Depth struct {
			Buy  []level `json:"buy"`
			Sell []level `json:"sell"`
		} `json:"depth"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.Depth{}, fmt.Errorf("broker: decode quote: %w", err)
	}
	q, ok := payload[key]
	if !ok {
		return domain.Depth{}, fmt.Errorf("broker: %s: %w", symbol, domain.ErrNoQuote)
	}
	var d domain.Depth
	if len(q.Depth.Buy) > 0 {
		d.BestBid = q.Depth.Buy[0].Price
	}
	if len(q.Depth.Sell) > 0 {
		d.BestAsk = q.Depth.Sell[0].Price
	}
	return d, nil
}

// PositionQty returns the broker-side average price and absolute net quantity
// for a symbol. Unknown symbols report zero without error.
func (c *Client) PositionQty(ctx context.Context, symbol string) (float64, int, error) {
	data, err := c.get(ctx, "/portfolio/positions", nil)
	if err != nil {
		return 0, 0, fmt.Errorf("broker: positions: %w", err)
	}
	var payload struct {
		Net []struct {
			TradingSymbol string  `json:"tradingsymbol"`
			Quantity      int     `json:"quantity"`
			AveragePrice  float64 `json:"average_price"`
		} `json:"net"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, 0, fmt.Errorf("broker: decode positions: %w", err)
	}
	for _, p := range payload.Net {
		if p.TradingSymbol == symbol {
			qty := p.Quantity
			if qty < 0 {
				qty = -qty
			}
			return p.AveragePrice, qty, nil
		}
	}
	return 0, 0, nil
}

// SubmitOrder places a regular order and returns the broker order ID. Price
// is ignored for market orders.
func (c *Client) SubmitOrder(ctx context.Context, symbol string, qty int, tx domain.Transaction, kind domain.OrderKind, price float64) (string, error) {
	form := url.Values{
		"exchange":         {exchangeFor(symbol)},
		"tradingsymbol":    {symbol},
		"transaction_type": {string(tx)},
		"quantity":         {strconv.Itoa(qty)},
		"product":          {"NRML"},
		"order_type":       {string(kind)},
		"validity":         {"DAY"},
	}
	if kind == domain.OrderKindLimit {
		form.Set("price", fmt.Sprintf("%.2f", price))
	}
	data, err := c.send(ctx, http.MethodPost, "/orders/regular", form)
	if err != nil {
		return "", fmt.Errorf("broker: submit %s %s: %w", tx, symbol, err)
	}
	var payload struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("broker: decode order id: %w", err)
	}
	return payload.OrderID, nil
}

// AmendOrder replaces the limit price of an open order.
func (c *Client) AmendOrder(ctx context.Context, orderID string, price float64) error {
	form := url.Values{
		"order_type": {string(domain.OrderKindLimit)},
		"price":      {fmt.Sprintf("%.2f", price)},
	}
	if _, err := c.send(ctx, http.MethodPut, "/orders/regular/"+orderID, form); err != nil {
		return fmt.Errorf("broker: amend %s: %w", orderID, err)
	}
	return nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := c.send(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil); err != nil {
		return fmt.Errorf("broker: cancel %s: %w", orderID, err)
	}
	return nil
}

// OrderFills returns the execution history of an order.
func (c *Client) OrderFills(ctx context.Context, orderID string) ([]domain.OrderFill, error) {
	data, err := c.get(ctx, "/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: order %s: %w", orderID, err)
	}
	var payload []struct {
		OrderID           string  `json:"order_id"`
		Status            string  `json:"status"`
		FilledQuantity    int     `json:"filled_quantity"`
		AveragePrice      float64 `json:"average_price"`
		ExchangeTimestamp string  `json:"exchange_timestamp"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("broker: decode order history: %w", err)
	}
	out := make([]domain.OrderFill, 0, len(payload))
	for _, e := range payload {
		f := domain.OrderFill{
			OrderID:  e.OrderID,
			Qty:      e.FilledQuantity,
			AvgPrice: e.AveragePrice,
			Status:   e.Status,
		}
		if e.ExchangeTimestamp != "" {
			if t, err := time.Parse("2006-01-02 15:04:05", e.ExchangeTimestamp); err == nil {
				f.FilledAt = t
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// Instruments streams the daily instrument dump CSV. The caller owns the
// reader and must close it.
func (c *Client) Instruments(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/instruments", nil)
	if err != nil {
		return nil, fmt.Errorf("broker: instruments request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: instruments: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("broker: instruments: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.token)
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	if err := c.throttle(ctx, "broker:data", dataRateLimit); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) send(ctx context.Context, method, path string, form url.Values) (json.RawMessage, error) {
	if err := c.throttle(ctx, "broker:orders", orderRateLimit); err != nil {
		return nil, err
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, env.Message)
	}
	return env.Data, nil
}
