package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdkhatri/niftyflow/internal/domain"
	"github.com/Hdkhatri/niftyflow/internal/market"
	"github.com/Hdkhatri/niftyflow/internal/selector"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type memPositions struct {
	m       map[domain.PositionKey]domain.Position
	deletes int
}

func newMemPositions() *memPositions {
	return &memPositions{m: make(map[domain.PositionKey]domain.Position)}
}

func (s *memPositions) Save(_ context.Context, pos domain.Position) error {
	s.m[domain.PositionKey{
		UserID: pos.UserID, Key: pos.Key, Interval: pos.Interval,
		ExpiryPolicy: pos.ExpiryPolicy, Strategy: pos.Strategy,
	}] = pos
	return nil
}

func (s *memPositions) Load(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	pos, ok := s.m[key]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) Delete(_ context.Context, key domain.PositionKey) error {
	delete(s.m, key)
	s.deletes++
	return nil
}

type memTrades struct {
	trades []domain.CompletedTrade
}

func (s *memTrades) Insert(_ context.Context, trade domain.CompletedTrade) error {
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memTrades) ListBefore(context.Context, time.Time, int) ([]domain.CompletedTrade, error) {
	return nil, nil
}

func (s *memTrades) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memConfigs struct {
	cfg domain.StrategyConfig
}

func (s *memConfigs) Get(context.Context, int64, string) (domain.StrategyConfig, error) {
	return s.cfg, nil
}

func (s *memConfigs) List(context.Context, int64) (map[string]domain.StrategyConfig, error) {
	return map[string]domain.StrategyConfig{s.cfg.Key: s.cfg}, nil
}

func (s *memConfigs) Upsert(context.Context, domain.StrategyConfig) error { return nil }

// scriptGateway pops scripted quotes per symbol, holding the last value once
// the script runs out.
type scriptGateway struct {
	quotes    map[string][]float64
	holdings  map[string]int
	candleSet []domain.Candle
}

func (g *scriptGateway) Quote(_ context.Context, symbol string) (float64, error) {
	seq, ok := g.quotes[symbol]
	if !ok || len(seq) == 0 {
		return 0, domain.ErrNoQuote
	}
	v := seq[0]
	if len(seq) > 1 {
		g.quotes[symbol] = seq[1:]
	}
	return v, nil
}

func (g *scriptGateway) Depth(context.Context, string) (domain.Depth, error) {
	return domain.Depth{}, nil
}

func (g *scriptGateway) Candles(context.Context, int64, string, int) ([]domain.Candle, error) {
	return g.candleSet, nil
}

func (g *scriptGateway) PositionQty(_ context.Context, symbol string) (float64, int, error) {
	return 0, g.holdings[symbol], nil
}

func (g *scriptGateway) SubmitOrder(context.Context, string, int, domain.Transaction, domain.OrderKind, float64) (string, error) {
	return "", fmt.Errorf("not scripted")
}

func (g *scriptGateway) AmendOrder(context.Context, string, float64) error { return nil }
func (g *scriptGateway) CancelOrder(context.Context, string) error         { return nil }
func (g *scriptGateway) OrderFills(context.Context, string) ([]domain.OrderFill, error) {
	return nil, nil
}

type fakeSelector struct {
	optimal     selector.Pick
	optimalErr  error
	hedge       selector.Pick
	hedgeErr    error
	next        selector.Pick
	nextErr     error
	nextCalls   int
	hedgeCalls  int
	optimalCall int
}

func (f *fakeSelector) OptimalContract(context.Context, string, float64, domain.Side, domain.ExpiryPolicy, float64) (selector.Pick, error) {
	f.optimalCall++
	return f.optimal, f.optimalErr
}

func (f *fakeSelector) HedgeContract(context.Context, domain.OptionContract, domain.HedgeType, float64, float64) (selector.Pick, error) {
	f.hedgeCalls++
	return f.hedge, f.hedgeErr
}

func (f *fakeSelector) NextExpiryContract(context.Context, string, float64, domain.Side, time.Time, float64) (selector.Pick, error) {
	f.nextCalls++
	return f.next, f.nextErr
}

type fakeExec struct {
	fill  domain.Fill
	err   error
	calls int
}

func (f *fakeExec) Execute(context.Context, string, int, domain.Transaction) (domain.Fill, error) {
	f.calls++
	return f.fill, f.err
}

// ---------------------------------------------------------------------------
// harness
// ---------------------------------------------------------------------------

type harness struct {
	eng       *Engine
	gw        *scriptGateway
	sel       *fakeSelector
	exec      *fakeExec
	positions *memPositions
	trades    *memTrades
	configs   *memConfigs
	now       time.Time
}

func istTime(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 4, hh, mm, ss, 0, market.IST)
}

func baseConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		UserID:        7,
		Key:           "nifty-30m",
		Strategy:      "EMA_CROSS",
		Interval:      "30minute",
		Lots:          1,
		TargetPremium: 100,
		NewTrades:     true,
		ExpiryPolicy:  domain.ExpiryNextWeek,
		HedgeType:     domain.HedgeNone,
		HedgeRollover: domain.RolloverSemi,
	}
}

func pick(symbol string, strike int, premium float64) selector.Pick {
	return selector.Pick{
		Contract: domain.OptionContract{
			Symbol: symbol,
			Name:   "NIFTY",
			Strike: strike,
			Type:   domain.OptionTypePE,
			Expiry: time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local),
		},
		Premium: premium,
	}
}

func newHarness(t *testing.T, cfg domain.StrategyConfig) *harness {
	t.Helper()
	h := &harness{
		gw:        &scriptGateway{quotes: map[string][]float64{}, holdings: map[string]int{}},
		sel:       &fakeSelector{},
		exec:      &fakeExec{},
		positions: newMemPositions(),
		trades:    &memTrades{},
		configs:   &memConfigs{cfg: cfg},
		now:       istTime(11, 0, 0),
	}
	ids := 0
	h.eng = New(
		Params{
			UserID:     cfg.UserID,
			Key:        cfg.Key,
			Underlying: "NIFTY",
			SpotSymbol: "NIFTY 50",
			SpotToken:  256265,
			LotSize:    75,
		},
		Deps{
			Gateway:   h.gw,
			Selector:  h.sel,
			Executor:  h.exec,
			Positions: h.positions,
			Trades:    h.trades,
			Configs:   h.configs,
			Clock:     &market.Clock{Now: func() time.Time { return h.now }},
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		RetryPolicy{Transient: time.Minute, Fatal: 10 * time.Second},
		func() string { ids++; return fmt.Sprintf("id-%d", ids) },
	)
	h.eng.sleep = func(_ context.Context, d time.Duration) error {
		h.now = h.now.Add(d)
		return nil
	}
	h.eng.pollDelay = func() time.Duration { return 10 * time.Second }
	return h
}

func (h *harness) openSim(t *testing.T, cfg domain.StrategyConfig, side domain.Side) {
	t.Helper()
	h.sel.optimal = pick("NIFTY2631024500PE", 24500, 95)
	row := domain.SignalRow{Trend: domain.TrendLong, Buy: side == domain.SideBuy, Sell: side == domain.SideSell}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))
	require.True(t, h.eng.hasPos)
}

// ---------------------------------------------------------------------------
// transitions
// ---------------------------------------------------------------------------

func TestSignalOpensWhenFlat(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.openSim(t, cfg, domain.SideBuy)

	pos := h.eng.pos
	assert.Equal(t, domain.SideBuy, pos.Signal)
	assert.Equal(t, "NIFTY2631024500PE", pos.Symbol)
	assert.Equal(t, 95.0, pos.EntryPrice, "paper entry books at the selected premium")
	assert.Equal(t, 75, pos.Qty)
	assert.Equal(t, domain.ReasonSignal, pos.EntryReason)
	assert.False(t, pos.Hedge.Active())
	assert.Len(t, h.positions.m, 1, "position persisted")
	assert.Zero(t, h.exec.calls, "paper trades never reach the executor")
}

func TestSignalOpensHedgedPosition(t *testing.T) {
	cfg := baseConfig()
	cfg.HedgeType = domain.HedgeStrike100
	h := newHarness(t, cfg)
	h.sel.hedge = pick("NIFTY2631024400PE", 24400, 60)
	h.openSim(t, cfg, domain.SideBuy)

	hedge := h.eng.pos.Hedge
	require.True(t, hedge.Active())
	assert.Equal(t, "NIFTY2631024400PE", hedge.Symbol)
	assert.Equal(t, 60.0, hedge.EntryPrice)
	assert.Equal(t, 75, hedge.Qty)
	assert.Equal(t, 1, h.sel.hedgeCalls)
}

func TestRepeatSignalIsIdempotent(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.openSim(t, cfg, domain.SideBuy)
	id := h.eng.pos.ID

	row := domain.SignalRow{Buy: true}
	row.Close = 24800
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))
	assert.Equal(t, id, h.eng.pos.ID, "same-side signal does not reopen")
	assert.Empty(t, h.trades.trades)
}

func TestOpposingSignalFlipsPosition(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.openSim(t, cfg, domain.SideBuy)
	h.gw.quotes["NIFTY2631024500PE"] = []float64{70}
	h.gw.quotes["NIFTY 50"] = []float64{24600}

	h.sel.optimal = pick("NIFTY2631024800CE", 24800, 105)
	row := domain.SignalRow{Trend: domain.TrendShort, Sell: true}
	row.Close = 24600
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))

	require.Len(t, h.trades.trades, 1)
	trade := h.trades.trades[0]
	assert.Equal(t, domain.ReasonSignal, trade.ExitReason)
	assert.Equal(t, 70.0, trade.ExitPrice)
	assert.InDelta(t, 25.0, trade.PnL, 1e-9, "short premium pnl is entry minus exit")
	assert.InDelta(t, 25.0*75, trade.TotalPnL, 1e-9)
	assert.Equal(t, 24600.0, trade.SpotExit)

	require.True(t, h.eng.hasPos)
	assert.Equal(t, domain.SideSell, h.eng.pos.Signal)
	assert.Equal(t, "NIFTY2631024800CE", h.eng.pos.Symbol)
}

func TestFlipWithEntriesDisabledOnlyCloses(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.openSim(t, cfg, domain.SideBuy)
	h.gw.quotes["NIFTY2631024500PE"] = []float64{70}

	cfg.NewTrades = false
	row := domain.SignalRow{Sell: true}
	row.Close = 24600
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))

	assert.Len(t, h.trades.trades, 1, "closing is never suppressed")
	assert.False(t, h.eng.hasPos, "opening is gated off")
}

func TestEntrySuppressedWhenDisabled(t *testing.T) {
	cfg := baseConfig()
	cfg.NewTrades = false
	h := newHarness(t, cfg)

	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))
	assert.False(t, h.eng.hasPos)
	assert.Zero(t, h.sel.optimalCall)
}

func TestNoContractSkipsCycle(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.sel.optimalErr = domain.ErrNoContract

	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row), "no candidate is a skipped cycle, not an error")
	assert.False(t, h.eng.hasPos)
}

func TestDegradedLiveFillSubstitutesQuoteAndLots(t *testing.T) {
	cfg := baseConfig()
	cfg.RealTrade = true
	h := newHarness(t, cfg)
	h.exec.err = fmt.Errorf("gateway timeout")
	h.openSim(t, cfg, domain.SideBuy)

	assert.Equal(t, 1, h.exec.calls)
	assert.Equal(t, 95.0, h.eng.pos.EntryPrice, "degraded fill books at the reference quote")
	assert.Equal(t, 75, h.eng.pos.Qty, "degraded fill assumes the configured quantity")
}

// ---------------------------------------------------------------------------
// monitor
// ---------------------------------------------------------------------------

func TestTargetHitFiresOnceAndRollsOver(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.sel.optimal = pick("NIFTY2631024500PE", 24500, 50)
	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))
	require.Equal(t, 50.0, h.eng.pos.EntryPrice)

	// threshold is 30; the poll sequence crosses it on the third tick
	h.gw.quotes["NIFTY2631024500PE"] = []float64{48, 32, 29}
	h.gw.quotes["NIFTY 50"] = []float64{24900}
	h.gw.quotes["NIFTY2631724600PE"] = []float64{110}
	h.sel.next = selector.Pick{
		Contract: domain.OptionContract{
			Symbol: "NIFTY2631724600PE", Name: "NIFTY", Strike: 24600,
			Type:   domain.OptionTypePE,
			Expiry: time.Date(2026, 3, 17, 0, 0, 0, 0, time.Local),
		},
		Premium: 98,
	}

	until := h.now.Add(45 * time.Second)
	require.NoError(t, h.eng.monitor(context.Background(), cfg, until))

	require.Len(t, h.trades.trades, 1, "one-shot flag allows a single target exit")
	trade := h.trades.trades[0]
	assert.Equal(t, domain.ReasonTargetHit, trade.ExitReason)
	assert.Equal(t, 29.0, trade.ExitPrice)
	assert.Equal(t, 1, h.sel.nextCalls)

	require.True(t, h.eng.hasPos, "re-entry follows the target exit")
	assert.Equal(t, "NIFTY2631724600PE", h.eng.pos.Symbol)
	assert.Equal(t, domain.ReasonRollover, h.eng.pos.EntryReason)
	assert.Equal(t, domain.SideBuy, h.eng.pos.Signal, "rollover keeps the side")
	assert.False(t, h.eng.targetDone, "flag rearms for the new position")
}

func TestTargetHitWithoutReentryWhenDisabled(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.sel.optimal = pick("NIFTY2631024500PE", 24500, 50)
	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))

	cfg.NewTrades = false
	h.gw.quotes["NIFTY2631024500PE"] = []float64{25}
	h.gw.quotes["NIFTY 50"] = []float64{24900}

	require.NoError(t, h.eng.monitor(context.Background(), cfg, h.now.Add(15*time.Second)))

	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, domain.ReasonTargetHit, h.trades.trades[0].ExitReason)
	assert.False(t, h.eng.hasPos)
	assert.Zero(t, h.sel.nextCalls)
}

func TestIntradayCutoffSquaresOff(t *testing.T) {
	cfg := baseConfig()
	cfg.Intraday = true
	h := newHarness(t, cfg)
	h.openSim(t, cfg, domain.SideBuy)
	h.gw.quotes["NIFTY2631024500PE"] = []float64{80}

	h.now = istTime(15, 16, 0)
	require.NoError(t, h.eng.monitor(context.Background(), cfg, h.now.Add(15*time.Second)))

	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, domain.ReasonSignal, h.trades.trades[0].ExitReason)
	assert.False(t, h.eng.hasPos)
	assert.True(t, h.eng.haltOpens, "no further entries today")
}

func TestIntradayCutoffBlocksFreshEntriesWhenFlat(t *testing.T) {
	cfg := baseConfig()
	cfg.Intraday = true
	h := newHarness(t, cfg)

	h.now = istTime(15, 16, 0)
	require.NoError(t, h.eng.monitor(context.Background(), cfg, h.now.Add(15*time.Minute)))
	assert.True(t, h.eng.haltOpens, "cutoff arms even with no open position")

	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))
	assert.False(t, h.eng.hasPos, "no entry opens after the cutoff")
	assert.Zero(t, h.sel.optimalCall)
}

func TestStepArmsCutoffBeforeSignals(t *testing.T) {
	cfg := baseConfig()
	cfg.Intraday = true
	h := newHarness(t, cfg)
	h.now = istTime(15, 16, 0)

	require.NoError(t, h.eng.step(context.Background(), cfg))
	assert.True(t, h.eng.haltOpens, "boundary at the cutoff cannot open a position")
}

func TestTargetHitRearmsAfterFailedExit(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	h.sel.optimal = pick("NIFTY2631024500PE", 24500, 50)
	row := domain.SignalRow{Buy: true}
	row.Close = 24750
	require.NoError(t, h.eng.onSignal(context.Background(), cfg, row))

	// premium is through the target but the spot quote is down, so the
	// rollover exit fails and the position stays open
	h.gw.quotes["NIFTY2631024500PE"] = []float64{25}
	err := h.eng.monitor(context.Background(), cfg, h.now.Add(15*time.Second))
	require.Error(t, err)
	require.True(t, h.eng.hasPos)
	assert.False(t, h.eng.targetDone, "failed exit must not disarm the target")

	// quote recovers; the next poll pass closes and rolls over
	h.gw.quotes["NIFTY 50"] = []float64{24900}
	h.gw.quotes["NIFTY2631724600PE"] = []float64{110}
	h.sel.next = selector.Pick{
		Contract: domain.OptionContract{
			Symbol: "NIFTY2631724600PE", Name: "NIFTY", Strike: 24600,
			Type:   domain.OptionTypePE,
			Expiry: time.Date(2026, 3, 17, 0, 0, 0, 0, time.Local),
		},
		Premium: 98,
	}
	require.NoError(t, h.eng.monitor(context.Background(), cfg, h.now.Add(15*time.Second)))

	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, domain.ReasonTargetHit, h.trades.trades[0].ExitReason)
	require.True(t, h.eng.hasPos)
	assert.Equal(t, "NIFTY2631724600PE", h.eng.pos.Symbol)
}

// ---------------------------------------------------------------------------
// startup reconciliation
// ---------------------------------------------------------------------------

func TestReloadRestoresPosition(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	stored := domain.Position{
		ID: "id-9", UserID: cfg.UserID, Key: cfg.Key, Signal: domain.SideBuy,
		Symbol: "NIFTY2631024500PE", Strike: 24500, EntryPrice: 95, Qty: 75,
		Interval: cfg.Interval, RealTrade: true,
		ExpiryPolicy: cfg.ExpiryPolicy, Strategy: cfg.Strategy,
	}
	require.NoError(t, h.positions.Save(context.Background(), stored))
	h.gw.holdings["NIFTY2631024500PE"] = 75

	require.NoError(t, h.eng.reload(context.Background(), cfg))
	require.True(t, h.eng.hasPos)
	assert.Equal(t, stored.ID, h.eng.pos.ID)
	assert.Equal(t, stored.EntryPrice, h.eng.pos.EntryPrice, "persisted fields reload verbatim")
}

func TestReloadDropsPositionBrokerDoesNotHold(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	stored := domain.Position{
		ID: "id-9", UserID: cfg.UserID, Key: cfg.Key, Signal: domain.SideBuy,
		Symbol: "NIFTY2631024500PE", EntryPrice: 95, Qty: 75,
		Interval: cfg.Interval, RealTrade: true,
		ExpiryPolicy: cfg.ExpiryPolicy, Strategy: cfg.Strategy,
	}
	require.NoError(t, h.positions.Save(context.Background(), stored))
	h.gw.holdings["NIFTY2631024500PE"] = 30

	require.NoError(t, h.eng.reload(context.Background(), cfg))
	assert.False(t, h.eng.hasPos, "broker shows fewer contracts, stored row is stale")
	assert.Empty(t, h.positions.m)
}

func TestReloadSkipsReconciliationForPaperTrades(t *testing.T) {
	cfg := baseConfig()
	h := newHarness(t, cfg)
	stored := domain.Position{
		ID: "id-9", UserID: cfg.UserID, Key: cfg.Key, Signal: domain.SideBuy,
		Symbol: "NIFTY2631024500PE", EntryPrice: 95, Qty: 75,
		Interval: cfg.Interval, RealTrade: false,
		ExpiryPolicy: cfg.ExpiryPolicy, Strategy: cfg.Strategy,
	}
	require.NoError(t, h.positions.Save(context.Background(), stored))

	require.NoError(t, h.eng.reload(context.Background(), cfg))
	assert.True(t, h.eng.hasPos, "paper positions never exist at the broker")
}
