package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// monitor is the nested quote-poll loop that runs between candle boundaries.
// It watches the open position for the target-hit and intraday-close
// conditions; quote failures are best-effort and skipped, not retried.
func (e *Engine) monitor(ctx context.Context, cfg domain.StrategyConfig, until time.Time) error {
	for {
		if !e.clock.Now().Before(until) {
			return nil
		}
		if err := e.sleep(ctx, e.pollDelay()); err != nil {
			return err
		}

		if cfg.Intraday && e.clock.PastIntradayCutoff() {
			e.haltOpens = true
			if !e.hasPos {
				return nil
			}
			e.logger.Info("intraday cutoff reached, squaring off",
				slog.String("symbol", e.pos.Symbol))
			if _, err := e.closePosition(ctx, cfg, domain.ReasonSignal, false); err != nil {
				return err
			}
			continue
		}
		if !e.hasPos {
			continue
		}

		ltp, err := e.quote(ctx, e.pos.Symbol)
		if err != nil {
			e.logger.Warn("poll quote failed",
				slog.String("symbol", e.pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		if !e.targetDone && ltp <= targetFraction*e.pos.EntryPrice {
			// one-shot per open position
			e.targetDone = true
			e.logger.Info("target hit",
				slog.String("symbol", e.pos.Symbol),
				slog.Float64("entry", e.pos.EntryPrice),
				slog.Float64("ltp", ltp))
			if err := e.targetExit(ctx, cfg); err != nil {
				// a failed exit leaves the position open; re-arm so
				// the next poll can try again
				if !isFatal(err) {
					e.targetDone = false
				}
				return err
			}
		}
	}
}
