// Package executor fills option orders through a bounded aggressive-limit
// protocol: chase the touch with an amended limit order for a few seconds,
// then sweep whatever is left with a single market order.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

const (
	tick = 0.05

	defaultWindow = 5 * time.Second
	defaultPoll   = 300 * time.Millisecond
)

// gateway is the slice of the broker the executor needs.
type gateway interface {
	domain.QuoteService
	domain.OrderGateway
}

// Executor chases fills against a broker gateway. The clock and sleeper are
// injectable so the limit window can be driven deterministically in tests.
type Executor struct {
	gw     gateway
	logger *slog.Logger

	window time.Duration
	poll   time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(gw gateway, logger *slog.Logger) *Executor {
	return &Executor{
		gw:     gw,
		logger: logger.With(slog.String("component", "executor")),
		window: defaultWindow,
		poll:   defaultPoll,
		now:    time.Now,
		sleep:  sleepCtx,
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

// Execute fills qty of symbol in the given direction and reports the volume-
// weighted result. Partial and zero fills are not errors; the returned fill
// carries whatever quantity was obtained. An error means the broker rejected
// an operation outright.
func (e *Executor) Execute(ctx context.Context, symbol string, qty int, tx domain.Transaction) (domain.Fill, error) {
	if qty <= 0 {
		return domain.Fill{}, fmt.Errorf("executor: bad quantity %d for %s", qty, symbol)
	}

	orderID, filled, avg, err := e.limitPhase(ctx, symbol, qty, tx)
	if err != nil {
		return domain.Fill{}, err
	}
	if filled >= qty {
		e.logger.Info("filled at limit",
			slog.String("symbol", symbol),
			slog.Int("qty", filled),
			slog.Float64("avg_price", avg))
		return domain.Fill{OrderID: orderID, AvgPrice: avg, Qty: filled}, nil
	}

	// sweep the remainder at market
	if err := e.gw.CancelOrder(ctx, orderID); err != nil {
		e.logger.Warn("cancel residual limit failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()))
	}
	marketID, err := e.gw.SubmitOrder(ctx, symbol, qty-filled, tx, domain.OrderKindMarket, 0)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executor: market fallback %s: %w", symbol, err)
	}
	mFilled, mAvg, err := e.fills(ctx, marketID)
	if err != nil {
		return domain.Fill{}, err
	}
	total := filled + mFilled
	var totalAvg float64
	if total > 0 {
		totalAvg = (avg*float64(filled) + mAvg*float64(mFilled)) / float64(total)
	}
	e.logger.Info("filled via market fallback",
		slog.String("symbol", symbol),
		slog.Int("limit_qty", filled),
		slog.Int("market_qty", mFilled),
		slog.Float64("avg_price", totalAvg))
	return domain.Fill{OrderID: marketID, AvgPrice: totalAvg, Qty: total}, nil
}

// limitPhase places one limit order through the touch and amends it toward
// the moving touch until the window closes or the order fills.
func (e *Executor) limitPhase(ctx context.Context, symbol string, qty int, tx domain.Transaction) (orderID string, filled int, avg float64, err error) {
	price, err := e.aggressivePrice(ctx, symbol, tx)
	if err != nil {
		return "", 0, 0, err
	}
	orderID, err = e.gw.SubmitOrder(ctx, symbol, qty, tx, domain.OrderKindLimit, price)
	if err != nil {
		return "", 0, 0, fmt.Errorf("executor: submit limit %s: %w", symbol, err)
	}
	e.logger.Debug("limit placed",
		slog.String("symbol", symbol),
		slog.String("order_id", orderID),
		slog.Float64("price", price))

	deadline := e.now().Add(e.window)
	for {
		filled, avg, err = e.fills(ctx, orderID)
		if err != nil {
			return orderID, 0, 0, err
		}
		if filled >= qty || !e.now().Before(deadline) {
			return orderID, filled, avg, nil
		}
		if err := e.sleep(ctx, e.poll); err != nil {
			return orderID, filled, avg, nil
		}
		next, perr := e.aggressivePrice(ctx, symbol, tx)
		if perr != nil || next == price {
			continue
		}
		if aerr := e.gw.AmendOrder(ctx, orderID, next); aerr == nil {
			price = next
		}
	}
}

// aggressivePrice is one tick through the best opposite-side quote, falling
// back to the last traded price when the book is empty.
func (e *Executor) aggressivePrice(ctx context.Context, symbol string, tx domain.Transaction) (float64, error) {
	depth, err := e.gw.Depth(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("executor: depth %s: %w", symbol, err)
	}
	touch := depth.BestBid
	if tx == domain.TransactionBuy {
		touch = depth.BestAsk
	}
	if touch == 0 {
		ltp, err := e.gw.Quote(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("executor: quote %s: %w", symbol, err)
		}
		touch = ltp
	}
	if tx == domain.TransactionBuy {
		return touch + tick, nil
	}
	return touch - tick, nil
}

// fills aggregates an order's completed slices.
func (e *Executor) fills(ctx context.Context, orderID string) (int, float64, error) {
	slices, err := e.gw.OrderFills(ctx, orderID)
	if err != nil {
		return 0, 0, fmt.Errorf("executor: order fills %s: %w", orderID, err)
	}
	qty := 0
	notional := 0.0
	for _, f := range slices {
		if !f.Complete() {
			continue
		}
		qty += f.Qty
		notional += f.AvgPrice * float64(f.Qty)
	}
	if qty == 0 {
		return 0, 0, nil
	}
	return qty, notional / float64(qty), nil
}
