// Package domain defines the core types of the trading engine and the
// interfaces through which it consumes external collaborators (broker
// gateway, stores, caches, notification channel). It has no dependencies
// beyond the standard library so every other package can import it.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV bar of the spot series, aligned to the session start.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Trend direction derived from a candle series.
const (
	TrendFlat  = 0
	TrendLong  = 1
	TrendShort = -1
)

// SignalRow annotates one candle with the generator output. At most one of
// Buy/Sell is true per row.
type SignalRow struct {
	Candle
	Trend int
	Buy   bool
	Sell  bool
}

// Signaled reports whether the row carries an actionable signal.
func (r SignalRow) Signaled() bool {
	return r.Buy || r.Sell
}

// ParseInterval normalizes a candle interval string ("30minute", "30min",
// "30m", "1h", "60") to a duration in whole minutes.
func ParseInterval(s string) (time.Duration, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	cut := func(suffixes ...string) (string, bool) {
		for _, suf := range suffixes {
			if strings.HasSuffix(raw, suf) {
				return strings.TrimSuffix(raw, suf), true
			}
		}
		return raw, false
	}

	if v, ok := cut("hours", "hour", "h"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("domain: invalid interval %q", s)
		}
		return time.Duration(n) * time.Hour, nil
	}
	v, _ := cut("minutes", "minute", "mins", "min", "m")
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("domain: invalid interval %q", s)
	}
	return time.Duration(n) * time.Minute, nil
}
