package broker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// TokenResolver maps a feed token back to its trading symbol.
type TokenResolver interface {
	Symbol(token int64) (string, bool)
}

// Ticker subscribes to the broker's binary tick stream in LTP mode and writes
// every price into the quote cache. It reconnects with backoff on disconnect.
type Ticker struct {
	wsURL       string
	apiKey      string
	accessToken string
	tokens      []int64
	resolver    TokenResolver
	cache       domain.QuoteCache
	logger      *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewTicker(wsURL, apiKey, accessToken string, tokens []int64, resolver TokenResolver, cache domain.QuoteCache, logger *slog.Logger) *Ticker {
	return &Ticker{
		wsURL:       wsURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		tokens:      tokens,
		resolver:    resolver,
		cache:       cache,
		logger:      logger.With(slog.String("component", "ticker")),
		done:        make(chan struct{}),
	}
}

// Run connects and pumps ticks until ctx is cancelled or Close is called.
func (t *Ticker) Run(ctx context.Context) error {
	if len(t.tokens) == 0 {
		t.logger.Info("no tokens to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		default:
		}
		err := t.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("tick stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (t *Ticker) runConnection(ctx context.Context) error {
	u, err := url.Parse(t.wsURL)
	if err != nil {
		return fmt.Errorf("broker: ticker url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", t.apiKey)
	q.Set("access_token", t.accessToken)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("broker: ticker dial: %w", err)
	}
	defer conn.Close()

	if err := t.subscribe(conn); err != nil {
		return err
	}
	t.logger.Info("tick stream subscribed", slog.Int("tokens", len(t.tokens)))

	// unblock ReadMessage when the context dies
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-t.done:
		case <-stop:
			return
		}
		conn.Close()
	}()

	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("broker: ticker read: %w", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.handleBinary(ctx, payload)
	}
}

func (t *Ticker) subscribe(conn *websocket.Conn) error {
	msg := struct {
		Action string  `json:"a"`
		Value  []int64 `json:"v"`
	}{Action: "subscribe", Value: t.tokens}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: ticker subscribe: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("broker: ticker subscribe: %w", err)
	}
	return nil
}

// handleBinary decodes an LTP-mode frame: a 2-byte packet count, then per
// packet a 2-byte length and the packet body holding the instrument token and
// the last price in paise, both big-endian int32.
func (t *Ticker) handleBinary(ctx context.Context, payload []byte) {
	if len(payload) < 2 {
		return
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	off := 2
	now := time.Now()
	for i := 0; i < count; i++ {
		if off+2 > len(payload) {
			return
		}
		size := int(binary.BigEndian.Uint16(payload[off : off+2]))
		off += 2
		if off+size > len(payload) || size < 8 {
			return
		}
		token := int64(binary.BigEndian.Uint32(payload[off : off+4]))
		paise := binary.BigEndian.Uint32(payload[off+4 : off+8])
		off += size

		symbol, ok := t.resolver.Symbol(token)
		if !ok {
			continue
		}
		price := float64(paise) / 100
		if err := t.cache.SetQuote(ctx, symbol, price, now); err != nil {
			t.logger.Warn("quote cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
}

// Close stops the ticker.
func (t *Ticker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}
