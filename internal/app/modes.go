package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Hdkhatri/niftyflow/internal/broker"
	"github.com/Hdkhatri/niftyflow/internal/domain"
	"github.com/Hdkhatri/niftyflow/internal/engine"
	"github.com/Hdkhatri/niftyflow/internal/executor"
	"github.com/Hdkhatri/niftyflow/internal/instruments"
	"github.com/Hdkhatri/niftyflow/internal/market"
	"github.com/Hdkhatri/niftyflow/internal/scheduler"
	"github.com/Hdkhatri/niftyflow/internal/selector"
)

// universeResolver adapts the instrument universe to the ticker's token
// lookup.
type universeResolver struct {
	u *instruments.Universe
}

func (r universeResolver) Symbol(token int64) (string, bool) {
	inst, ok := r.u.ByToken(token)
	if !ok {
		return "", false
	}
	return inst.Symbol, true
}

// TradeMode runs the strategy loops and the tick stream until the context is
// cancelled.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ArchiveMode runs a single archive pass and exits. Intended for cron.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	n, err := deps.Archiver.Archive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass complete", slog.Int64("trades", n))
	return nil
}

// FullMode runs the strategy loops together with the periodic archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startTrading(ctx, g, deps); err != nil {
		return err
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
		})
	}

	return g.Wait()
}

// startTrading registers the scheduler and tick stream goroutines on g.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	engCfg := a.cfg.Engine

	spot, ok := deps.Universe.BySymbol(engCfg.SpotSymbol)
	if !ok {
		return fmt.Errorf("app: spot symbol %q not in instrument dump", engCfg.SpotSymbol)
	}
	lotSize, err := deps.Universe.LotSize(engCfg.Underlying)
	if err != nil {
		return fmt.Errorf("app: lot size for %s: %w", engCfg.Underlying, err)
	}

	sel := selector.New(deps.Universe, deps.Broker, a.logger)
	exec := executor.New(deps.Broker, a.logger)
	clock := market.NewClock()

	build := func(userID int64, cfg domain.StrategyConfig) scheduler.Runner {
		return engine.New(
			engine.Params{
				UserID:       userID,
				Key:          cfg.Key,
				Underlying:   engCfg.Underlying,
				SpotSymbol:   engCfg.SpotSymbol,
				SpotToken:    spot.Token,
				LotSize:      lotSize,
				LookbackDays: engCfg.LookbackDays,
			},
			engine.Deps{
				Gateway:   deps.Broker,
				Selector:  sel,
				Executor:  exec,
				Positions: deps.Positions,
				Trades:    deps.Trades,
				Configs:   deps.Configs,
				Ticks:     deps.Ticks,
				Notifier:  deps.Notifier,
				Clock:     clock,
				Logger:    a.logger,
			},
			engine.DefaultRetryPolicy(),
			uuid.NewString,
		)
	}

	sched := scheduler.New(engCfg.Users, deps.Configs, deps.Locks, build, a.logger)
	sched.SetLockTTL(engCfg.LockTTL.Duration)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// Spot ticks feed the quote cache; option quotes fall back to REST.
	if a.cfg.Broker.WsURL != "" {
		ticker := broker.NewTicker(
			a.cfg.Broker.WsURL,
			a.cfg.Broker.ApiKey,
			a.cfg.Broker.AccessToken,
			[]int64{spot.Token},
			universeResolver{u: deps.Universe},
			deps.Ticks,
			a.logger,
		)
		g.Go(func() error {
			defer ticker.Close()
			return ticker.Run(ctx)
		})
	}

	return nil
}
