package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
	"github.com/Hdkhatri/niftyflow/internal/selector"
)

// onSignal applies a signal row to the current state. One function handles
// both directions: entry when flat, flip when the signal opposes the open
// side. Closing is never suppressed; only opening is gated by NewTrades.
func (e *Engine) onSignal(ctx context.Context, cfg domain.StrategyConfig, row domain.SignalRow) error {
	var want domain.Side
	switch {
	case row.Buy:
		want = domain.SideBuy
	case row.Sell:
		want = domain.SideSell
	default:
		return nil
	}

	if e.hasPos && e.pos.Signal == want {
		return nil
	}
	if e.hasPos {
		if _, err := e.closePosition(ctx, cfg, domain.ReasonSignal, false); err != nil {
			return err
		}
	}
	if !cfg.NewTrades || e.haltOpens {
		e.logger.Info("entry suppressed",
			slog.String("side", string(want)),
			slog.Bool("new_trades", cfg.NewTrades))
		return nil
	}
	return e.openPosition(ctx, cfg, want, domain.ReasonSignal, row.Close)
}

// openPosition selects the primary contract for a fresh entry and enters.
// No contract in range is a skipped cycle, not an error.
func (e *Engine) openPosition(ctx context.Context, cfg domain.StrategyConfig, side domain.Side, reason string, spot float64) error {
	pick, err := e.sel.OptimalContract(ctx, e.p.Underlying, spot, side, cfg.ExpiryPolicy, cfg.TargetPremium)
	if err != nil {
		if errors.Is(err, domain.ErrNoContract) {
			e.logger.Warn("no contract in range", slog.String("error", err.Error()))
			e.notify(ctx, "alert", "no contract in range", err.Error())
			return nil
		}
		return fmt.Errorf("select contract: %w", err)
	}
	return e.enter(ctx, cfg, side, reason, spot, pick, nil)
}

// enter sells the primary leg, arranges the hedge leg and persists the new
// position. A non-nil carried hedge is inherited from the previous position
// instead of being traded again.
func (e *Engine) enter(ctx context.Context, cfg domain.StrategyConfig, side domain.Side, reason string, spot float64, pick selector.Pick, carried *domain.HedgeLeg) error {
	qty := cfg.Lots * e.p.LotSize
	fill := e.fill(ctx, cfg, pick.Contract.Symbol, qty, domain.TransactionSell, pick.Premium)
	now := time.Now()

	pos := domain.Position{
		ID:           e.newID(),
		UserID:       e.p.UserID,
		Key:          e.p.Key,
		Signal:       side,
		SpotEntry:    spot,
		Symbol:       pick.Contract.Symbol,
		Strike:       pick.Contract.Strike,
		Expiry:       pick.Contract.Expiry,
		EntryPrice:   fill.AvgPrice,
		EntryTime:    now,
		Qty:          fill.Qty,
		Interval:     cfg.Interval,
		RealTrade:    cfg.RealTrade,
		EntryReason:  reason,
		ExpiryPolicy: cfg.ExpiryPolicy,
		Strategy:     cfg.Strategy,
	}

	switch {
	case carried != nil && carried.Active():
		pos.Hedge = *carried
	case cfg.HedgeType != domain.HedgeNone:
		hp, err := e.sel.HedgeContract(ctx, pick.Contract, cfg.HedgeType, spot, cfg.TargetPremium)
		if err != nil {
			e.logger.Warn("hedge unavailable, entering unhedged", slog.String("error", err.Error()))
			e.notify(ctx, "alert", "hedge unavailable", pick.Contract.Symbol)
		} else {
			hfill := e.fill(ctx, cfg, hp.Contract.Symbol, qty, domain.TransactionBuy, hp.Premium)
			pos.Hedge = domain.HedgeLeg{
				Symbol:     hp.Contract.Symbol,
				Strike:     hp.Contract.Strike,
				EntryPrice: hfill.AvgPrice,
				Qty:        hfill.Qty,
				EntryTime:  now,
			}
		}
	}

	if err := e.positions.Save(ctx, pos); err != nil {
		return fatal(fmt.Errorf("save position: %w", err))
	}
	e.pos = pos
	e.hasPos = true
	e.targetDone = false

	e.logger.Info("position opened",
		slog.String("side", string(side)),
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry", pos.EntryPrice),
		slog.Int("qty", pos.Qty),
		slog.String("reason", reason))
	e.notify(ctx, "entry", fmt.Sprintf("%s %s", side, pos.Symbol),
		fmt.Sprintf("sold %d @ %.2f (%s, spot %.1f)", pos.Qty, pos.EntryPrice, reason, spot))
	return nil
}

// closePosition buys back the primary leg, unwinds the hedge unless it is
// being carried into a rollover, records the completed trade and clears the
// open-position row.
func (e *Engine) closePosition(ctx context.Context, cfg domain.StrategyConfig, reason string, keepHedge bool) (domain.CompletedTrade, error) {
	ltp, err := e.quote(ctx, e.pos.Symbol)
	if err != nil {
		return domain.CompletedTrade{}, fmt.Errorf("exit quote %s: %w", e.pos.Symbol, err)
	}
	fill := e.fill(ctx, cfg, e.pos.Symbol, e.pos.Qty, domain.TransactionBuy, ltp)
	now := time.Now()

	trade := domain.CompletedTrade{
		Position:   e.pos,
		ExitPrice:  fill.AvgPrice,
		ExitTime:   now,
		ExitReason: reason,
		PnL:        e.pos.EntryPrice - fill.AvgPrice,
	}
	if spot, err := e.quote(ctx, e.p.SpotSymbol); err == nil {
		trade.SpotExit = spot
	}

	hedgeQty := 0
	if e.pos.Hedge.Active() && !keepHedge {
		hltp, qerr := e.quote(ctx, e.pos.Hedge.Symbol)
		if qerr != nil {
			e.logger.Warn("hedge exit quote unavailable",
				slog.String("symbol", e.pos.Hedge.Symbol),
				slog.String("error", qerr.Error()))
			hltp = 0
		}
		hfill := e.fill(ctx, cfg, e.pos.Hedge.Symbol, e.pos.Hedge.Qty, domain.TransactionSell, hltp)
		trade.HedgeExitPrice = hfill.AvgPrice
		trade.HedgeExitTime = now
		// exit minus entry; zero when no usable exit price exists
		if hfill.AvgPrice > 0 {
			trade.HedgePnL = hfill.AvgPrice - e.pos.Hedge.EntryPrice
			hedgeQty = e.pos.Hedge.Qty
		}
	}
	trade.TotalPnL = trade.PnL*float64(e.pos.Qty) + trade.HedgePnL*float64(hedgeQty)

	if err := e.trades.Insert(ctx, trade); err != nil {
		return domain.CompletedTrade{}, fatal(fmt.Errorf("record trade: %w", err))
	}
	if err := e.positions.Delete(ctx, e.positionKey(cfg)); err != nil {
		return domain.CompletedTrade{}, fatal(fmt.Errorf("clear position: %w", err))
	}
	e.hasPos = false
	e.targetDone = false

	e.logger.Info("position closed",
		slog.String("symbol", trade.Symbol),
		slog.Float64("exit", trade.ExitPrice),
		slog.Float64("total_pnl", trade.TotalPnL),
		slog.String("reason", reason))
	e.notify(ctx, "exit", fmt.Sprintf("closed %s", trade.Symbol),
		fmt.Sprintf("bought back %d @ %.2f, pnl %.2f (%s)", trade.Qty, trade.ExitPrice, trade.TotalPnL, reason))
	return trade, nil
}

// targetExit handles a target-hit: close the position and, when entries are
// allowed, immediately re-enter the same side in the next expiry. The hedge
// leg is carried across the rollover under the SEMI policy as long as the
// new expiry matches; otherwise it is unwound with the primary and reopened.
func (e *Engine) targetExit(ctx context.Context, cfg domain.StrategyConfig) error {
	oldExpiry := e.pos.Expiry
	oldHedge := e.pos.Hedge
	side := e.pos.Signal

	if !cfg.NewTrades || e.haltOpens {
		_, err := e.closePosition(ctx, cfg, domain.ReasonTargetHit, false)
		return err
	}

	spot, err := e.quote(ctx, e.p.SpotSymbol)
	if err != nil {
		return fmt.Errorf("spot quote: %w", err)
	}
	pick, err := e.sel.NextExpiryContract(ctx, e.p.Underlying, spot, side, oldExpiry, cfg.TargetPremium)
	if err != nil {
		if errors.Is(err, domain.ErrNoContract) {
			e.logger.Warn("no rollover contract, staying flat", slog.String("error", err.Error()))
			e.notify(ctx, "alert", "no rollover contract", e.pos.Symbol)
			_, cerr := e.closePosition(ctx, cfg, domain.ReasonTargetHit, false)
			return cerr
		}
		return fmt.Errorf("select rollover: %w", err)
	}

	keepHedge := oldHedge.Active() &&
		cfg.HedgeType != domain.HedgeNone &&
		cfg.HedgeRollover == domain.RolloverSemi &&
		pick.Contract.Expiry.Equal(oldExpiry)

	if _, err := e.closePosition(ctx, cfg, domain.ReasonTargetHit, keepHedge); err != nil {
		return err
	}

	var carried *domain.HedgeLeg
	if keepHedge {
		carried = &oldHedge
	}
	return e.enter(ctx, cfg, side, domain.ReasonRollover, spot, pick, carried)
}

// fill wraps the executor with the simulation and degraded-fill policies: a
// paper trade books at the reference quote, and a degraded live fill
// substitutes the quote and the requested quantity.
func (e *Engine) fill(ctx context.Context, cfg domain.StrategyConfig, symbol string, qty int, tx domain.Transaction, refQuote float64) domain.Fill {
	if !cfg.RealTrade {
		return domain.Fill{AvgPrice: refQuote, Qty: qty}
	}
	f, err := e.exec.Execute(ctx, symbol, qty, tx)
	if err != nil || f.Degraded() {
		if err != nil {
			e.logger.Warn("execution failed, using degraded fill",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		} else {
			e.logger.Warn("degraded fill, substituting quote",
				slog.String("symbol", symbol),
				slog.Int("filled", f.Qty))
		}
		price := f.AvgPrice
		if price <= 0 {
			price = refQuote
		}
		n := f.Qty
		if n <= 0 {
			n = qty
		}
		return domain.Fill{OrderID: f.OrderID, AvgPrice: price, Qty: n}
	}
	return f
}
