package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// quoteTTL bounds how long a tick survives without updates. Quotes from a
// previous session must not leak into the next one.
const quoteTTL = 12 * time.Hour

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// last traded price is stored at "quote:{symbol}" with fields "ltp" and "ts"
// (Unix nanosecond timestamp).
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest traded price and tick timestamp for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := quoteKey(symbol)
	fields := map[string]interface{}{
		"ltp": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest traded price and tick timestamp for a symbol.
// It returns domain.ErrNoQuote when no tick has been cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNoQuote
	}

	ltpStr, ok := vals["ltp"]
	if !ok {
		return 0, time.Time{}, domain.ErrNoQuote
	}
	ltp, err := strconv.ParseFloat(ltpStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNoQuote
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", symbol, err)
	}

	return ltp, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
