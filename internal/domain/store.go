package domain

import (
	"context"
	"time"
)

// PositionKey identifies the single open-position slot of one strategy loop.
// All store operations on open positions are scoped by it, which is what
// makes concurrent loops safe without cross-loop locking.
type PositionKey struct {
	UserID       int64
	Key          string
	Interval     string
	ExpiryPolicy ExpiryPolicy
	Strategy     string
}

// PositionStore persists the open position of each strategy loop. A position
// row exists if and only if the owning engine considers itself non-flat.
type PositionStore interface {
	Save(ctx context.Context, pos Position) error
	Load(ctx context.Context, key PositionKey) (Position, error)
	Delete(ctx context.Context, key PositionKey) error
}

// TradeStore persists completed trades. Append-only.
type TradeStore interface {
	Insert(ctx context.Context, trade CompletedTrade) error
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]CompletedTrade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConfigStore provides the per-(user, key) strategy configurations.
type ConfigStore interface {
	List(ctx context.Context, userID int64) (map[string]StrategyConfig, error)
	Get(ctx context.Context, userID int64, key string) (StrategyConfig, error)
	Upsert(ctx context.Context, cfg StrategyConfig) error
}

// QuoteCache holds the most recent LTP per trading symbol, fed by the tick
// stream and read by the engine's poll loop before falling back to the
// broker REST quote.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetQuote(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager serializes strategy loops across processes. Acquire returns an
// unlock function, or ErrLockHeld when another process owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles outbound broker calls across processes. Wait blocks
// until a slot is available for the key or the context is cancelled.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
