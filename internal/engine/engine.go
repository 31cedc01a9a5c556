// Package engine runs the position lifecycle for one (user, strategy key)
// pair: it consumes signal rows at candle boundaries, polls quotes in
// between, and drives the contract selector and order executor through
// entry, flip, target-exit, rollover and intraday close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
	"github.com/Hdkhatri/niftyflow/internal/market"
	"github.com/Hdkhatri/niftyflow/internal/selector"
	"github.com/Hdkhatri/niftyflow/internal/signal"
)

const (
	// a short option is bought back once its premium decays to this
	// fraction of the entry premium
	targetFraction = 0.6

	// minimum history before the generators are trusted
	minCandles = 30

	// cached ticks older than this fall through to the REST quote
	quoteTTL = 15 * time.Second

	marketRecheck = 5 * time.Minute
	openLookahead = time.Hour
)

// ContractSelector is the slice of the selector the engine drives.
type ContractSelector interface {
	OptimalContract(ctx context.Context, name string, spot float64, side domain.Side, policy domain.ExpiryPolicy, target float64) (selector.Pick, error)
	HedgeContract(ctx context.Context, primary domain.OptionContract, hedge domain.HedgeType, spot, target float64) (selector.Pick, error)
	NextExpiryContract(ctx context.Context, name string, spot float64, side domain.Side, lastExpiry time.Time, target float64) (selector.Pick, error)
}

// OrderExecutor fills one leg.
type OrderExecutor interface {
	Execute(ctx context.Context, symbol string, qty int, tx domain.Transaction) (domain.Fill, error)
}

// Notifier mirrors state transitions to a human. Failures are logged and
// swallowed.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RetryPolicy fixes the loop's backoff behavior so it can be tested without
// real sleeps.
type RetryPolicy struct {
	// Transient delays the next iteration after a recoverable external
	// failure (quotes, candles, orders).
	Transient time.Duration
	// Fatal delays the full session restart after an unrecoverable one.
	Fatal time.Duration
}

// DefaultRetryPolicy matches production cadence.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Transient: 60 * time.Second, Fatal: 10 * time.Second}
}

// Params fixes the identity and instrument context of one engine loop.
type Params struct {
	UserID       int64
	Key          string
	Underlying   string // option chain name, e.g. NIFTY
	SpotSymbol   string // index quote symbol, e.g. "NIFTY 50"
	SpotToken    int64  // index token for the candle API
	LotSize      int
	LookbackDays int
}

// Engine is the state machine for a single strategy loop. It is not safe for
// concurrent use; the scheduler runs one goroutine per Engine.
type Engine struct {
	p         Params
	gw        domain.Gateway
	sel       ContractSelector
	exec      OrderExecutor
	positions domain.PositionStore
	trades    domain.TradeStore
	configs   domain.ConfigStore
	ticks     domain.QuoteCache // optional
	notifier  Notifier          // optional
	clock     *market.Clock
	logger    *slog.Logger
	retry     RetryPolicy

	sleep     func(ctx context.Context, d time.Duration) error
	pollDelay func() time.Duration
	newID     func() string

	pos        domain.Position
	hasPos     bool
	targetDone bool
	haltOpens  bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Gateway   domain.Gateway
	Selector  ContractSelector
	Executor  OrderExecutor
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Configs   domain.ConfigStore
	Ticks     domain.QuoteCache
	Notifier  Notifier
	Clock     *market.Clock
	Logger    *slog.Logger
}

func New(p Params, d Deps, retry RetryPolicy, newID func() string) *Engine {
	return &Engine{
		p:         p,
		gw:        d.Gateway,
		sel:       d.Selector,
		exec:      d.Executor,
		positions: d.Positions,
		trades:    d.Trades,
		configs:   d.Configs,
		ticks:     d.Ticks,
		notifier:  d.Notifier,
		clock:     d.Clock,
		logger: d.Logger.With(
			slog.String("component", "engine"),
			slog.Int64("user_id", p.UserID),
			slog.String("key", p.Key),
		),
		retry: retry,
		sleep: sleepCtx,
		pollDelay: func() time.Duration {
			return 7*time.Second + time.Duration(rand.Int63n(int64(8*time.Second)))
		},
		newID: newID,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// fatalError marks failures that invalidate in-memory state; the session is
// restarted from a fresh reload rather than continued.
type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

func isFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Run drives sessions until a terminal condition or cancellation. A fatal
// session error restarts from the top (fresh config, position reload and
// broker reconciliation) after the fatal backoff.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started")
	defer e.logger.Info("engine stopped")
	for {
		err := e.session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Error("session failed, restarting", slog.String("error", err.Error()))
		e.notify(ctx, "alert", "loop restarting", err.Error())
		if serr := e.sleep(ctx, e.retry.Fatal); serr != nil {
			return serr
		}
	}
}

// session is one reload-to-terminal pass. A nil return is terminal; any
// error restarts the session.
func (e *Engine) session(ctx context.Context) error {
	cfg, err := e.configs.Get(ctx, e.p.UserID, e.p.Key)
	if err != nil {
		return fmt.Errorf("engine: load config: %w", err)
	}
	if err := e.reload(ctx, cfg); err != nil {
		return fmt.Errorf("engine: reload position: %w", err)
	}

	mode := "paper"
	if cfg.RealTrade {
		mode = "live"
	}
	if e.hasPos {
		e.notify(ctx, "alert", "loop resumed", fmt.Sprintf("%s %s x%d @ %.2f (%s)",
			e.pos.Signal, e.pos.Symbol, e.pos.Qty, e.pos.EntryPrice, mode))
	} else {
		e.notify(ctx, "alert", "loop started", mode)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// fresh config snapshot every iteration so operators can flip
		// flags live
		cfg, err = e.configs.Get(ctx, e.p.UserID, e.p.Key)
		if err != nil {
			e.logger.Warn("config refresh failed", slog.String("error", err.Error()))
			if serr := e.sleep(ctx, e.retry.Transient); serr != nil {
				return serr
			}
			continue
		}
		if !e.hasPos && (!cfg.NewTrades || e.haltOpens) {
			e.logger.Info("flat with entries disabled, loop done")
			return nil
		}
		if !e.clock.IsOpen() {
			if e.clock.OpensWithin(openLookahead) {
				if serr := e.sleep(ctx, marketRecheck); serr != nil {
					return serr
				}
				continue
			}
			e.logger.Info("market shut beyond lookahead, loop done")
			return nil
		}

		if err := e.step(ctx, cfg); err != nil {
			if isFatal(err) {
				return err
			}
			e.logger.Warn("iteration failed", slog.String("error", err.Error()))
			e.notify(ctx, "alert", "iteration failed", err.Error())
			if serr := e.sleep(ctx, e.retry.Transient); serr != nil {
				return serr
			}
		}
	}
}

// step is one candle-boundary iteration: evaluate signals, act, then poll
// quotes until the next boundary. Signal processing always completes before
// the poll loop starts.
func (e *Engine) step(ctx context.Context, cfg domain.StrategyConfig) error {
	// past the cutoff no candle may open a fresh position, even on a loop
	// that is currently flat
	if cfg.Intraday && e.clock.PastIntradayCutoff() {
		e.haltOpens = true
	}

	candles, err := e.gw.Candles(ctx, e.p.SpotToken, cfg.Interval, e.p.LookbackDays)
	if err != nil {
		return fmt.Errorf("spot candles: %w", err)
	}
	if len(candles) < minCandles {
		e.logger.Warn("insufficient candle history", slog.Int("got", len(candles)))
	} else {
		rows, err := signal.Generate(candles, cfg.Strategy, signal.Params{})
		if err != nil {
			return fatal(fmt.Errorf("generate signals: %w", err))
		}
		if row, ok := signal.Latest(rows); ok {
			if err := e.onSignal(ctx, cfg, row); err != nil {
				return err
			}
		}
	}

	next, err := e.clock.NextCandleTime(cfg.Interval)
	if err != nil {
		return fatal(fmt.Errorf("candle boundary: %w", err))
	}
	return e.monitor(ctx, cfg, next)
}

// reload restores a persisted position and reconciles it against the broker.
// A broker holding smaller than the stored quantity means the position was
// closed out-of-band; the stale row is dropped instead of trusted.
func (e *Engine) reload(ctx context.Context, cfg domain.StrategyConfig) error {
	key := e.positionKey(cfg)
	pos, err := e.positions.Load(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		e.hasPos = false
		return nil
	}
	if err != nil {
		return err
	}
	if pos.RealTrade {
		_, qty, err := e.gw.PositionQty(ctx, pos.Symbol)
		if err != nil {
			return err
		}
		if qty < pos.Qty {
			e.logger.Warn("broker holds fewer contracts than stored, dropping stale position",
				slog.String("symbol", pos.Symbol),
				slog.Int("stored_qty", pos.Qty),
				slog.Int("broker_qty", qty))
			e.notify(ctx, "alert", "stale position dropped", pos.Symbol)
			return e.positions.Delete(ctx, key)
		}
	}
	e.pos = pos
	e.hasPos = true
	e.targetDone = false
	e.logger.Info("position restored",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Signal)),
		slog.Float64("entry", pos.EntryPrice))
	return nil
}

func (e *Engine) positionKey(cfg domain.StrategyConfig) domain.PositionKey {
	return domain.PositionKey{
		UserID:       e.p.UserID,
		Key:          e.p.Key,
		Interval:     cfg.Interval,
		ExpiryPolicy: cfg.ExpiryPolicy,
		Strategy:     cfg.Strategy,
	}
}

// quote reads the tick cache first and falls back to the REST quote when the
// cache misses or the tick is stale.
func (e *Engine) quote(ctx context.Context, symbol string) (float64, error) {
	if e.ticks != nil {
		if p, ts, err := e.ticks.GetQuote(ctx, symbol); err == nil && p > 0 && time.Since(ts) <= quoteTTL {
			return p, nil
		}
	}
	return e.gw.Quote(ctx, symbol)
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}
