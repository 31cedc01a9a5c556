package executor

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
)

type placedOrder struct {
	ID     string
	Symbol string
	Qty    int
	Tx     domain.Transaction
	Kind   domain.OrderKind
	Price  float64
}

type fakeGateway struct {
	depth  domain.Depth
	ltp    float64
	orders []placedOrder
	amends map[string][]float64
	cancel []string
	fills  map[string][]domain.OrderFill
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		amends: make(map[string][]float64),
		fills:  make(map[string][]domain.OrderFill),
	}
}

func (g *fakeGateway) Quote(context.Context, string) (float64, error) {
	if g.ltp == 0 {
		return 0, domain.ErrNoQuote
	}
	return g.ltp, nil
}

func (g *fakeGateway) Depth(context.Context, string) (domain.Depth, error) {
	return g.depth, nil
}

func (g *fakeGateway) SubmitOrder(_ context.Context, symbol string, qty int, tx domain.Transaction, kind domain.OrderKind, price float64) (string, error) {
	id := fmt.Sprintf("ord-%d", len(g.orders)+1)
	g.orders = append(g.orders, placedOrder{ID: id, Symbol: symbol, Qty: qty, Tx: tx, Kind: kind, Price: price})
	return id, nil
}

func (g *fakeGateway) AmendOrder(_ context.Context, orderID string, price float64) error {
	g.amends[orderID] = append(g.amends[orderID], price)
	return nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, orderID string) error {
	g.cancel = append(g.cancel, orderID)
	return nil
}

func (g *fakeGateway) OrderFills(_ context.Context, orderID string) ([]domain.OrderFill, error) {
	return g.fills[orderID], nil
}

func (g *fakeGateway) marketOrders() []placedOrder {
	var out []placedOrder
	for _, o := range g.orders {
		if o.Kind == domain.OrderKindMarket {
			out = append(out, o)
		}
	}
	return out
}

// newTestExecutor wires a deterministic clock: every sleep advances it by
// step, so the limit window elapses without real waiting.
func newTestExecutor(gw *fakeGateway, window, step time.Duration) *Executor {
	e := New(gw, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	e.window = window
	e.now = func() time.Time { return now }
	e.sleep = func(context.Context, time.Duration) error {
		now = now.Add(step)
		return nil
	}
	return e
}

func TestExecuteFillsAtLimit(t *testing.T) {
	gw := newFakeGateway()
	gw.depth = domain.Depth{BestBid: 100.0, BestAsk: 100.4}
	gw.fills["ord-1"] = []domain.OrderFill{
		{OrderID: "ord-1", Qty: 75, AvgPrice: 99.95, Status: "COMPLETE"},
	}
	e := newTestExecutor(gw, 5*time.Second, time.Second)

	fill, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionSell)
	require.NoError(t, err)
	assert.Equal(t, 75, fill.Qty)
	assert.Equal(t, 99.95, fill.AvgPrice)
	assert.False(t, fill.Degraded())

	require.Len(t, gw.orders, 1)
	assert.Equal(t, domain.OrderKindLimit, gw.orders[0].Kind)
	assert.InDelta(t, 99.95, gw.orders[0].Price, 1e-9, "sell improves one tick under the best bid")
	assert.Empty(t, gw.cancel)
	assert.Empty(t, gw.marketOrders())
}

func TestExecuteBuyPricesThroughAsk(t *testing.T) {
	gw := newFakeGateway()
	gw.depth = domain.Depth{BestBid: 100.0, BestAsk: 100.4}
	gw.fills["ord-1"] = []domain.OrderFill{
		{OrderID: "ord-1", Qty: 75, AvgPrice: 100.45, Status: "COMPLETE"},
	}
	e := newTestExecutor(gw, 5*time.Second, time.Second)

	_, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionBuy)
	require.NoError(t, err)
	assert.InDelta(t, 100.45, gw.orders[0].Price, 1e-9, "buy improves one tick over the best ask")
}

func TestExecuteFallsBackToMarketForRemainder(t *testing.T) {
	gw := newFakeGateway()
	gw.depth = domain.Depth{BestBid: 100.0, BestAsk: 100.4}
	// limit leg fills 30 of 75 and then sits
	gw.fills["ord-1"] = []domain.OrderFill{
		{OrderID: "ord-1", Qty: 30, AvgPrice: 99.95, Status: "COMPLETE"},
	}
	gw.fills["ord-2"] = []domain.OrderFill{
		{OrderID: "ord-2", Qty: 45, AvgPrice: 99.50, Status: "COMPLETE"},
	}
	e := newTestExecutor(gw, time.Second, 600*time.Millisecond)

	fill, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionSell)
	require.NoError(t, err)
	assert.Equal(t, 75, fill.Qty)
	assert.InDelta(t, (30*99.95+45*99.50)/75, fill.AvgPrice, 1e-9)

	markets := gw.marketOrders()
	require.Len(t, markets, 1, "exactly one market order sweeps the remainder")
	assert.Equal(t, 45, markets[0].Qty)
	assert.Equal(t, []string{"ord-1"}, gw.cancel)
}

func TestExecuteZeroFillIsNotAnError(t *testing.T) {
	gw := newFakeGateway()
	gw.depth = domain.Depth{BestBid: 100.0, BestAsk: 100.4}
	// neither leg ever fills
	e := newTestExecutor(gw, time.Second, 600*time.Millisecond)

	fill, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionSell)
	require.NoError(t, err)
	assert.Equal(t, 0, fill.Qty)
	assert.True(t, fill.Degraded())

	markets := gw.marketOrders()
	require.Len(t, markets, 1)
	assert.Equal(t, 75, markets[0].Qty, "untouched quantity goes to market whole")
}

func TestExecuteAmendsWhenTouchMoves(t *testing.T) {
	gw := newFakeGateway()
	gw.depth = domain.Depth{BestBid: 100.0, BestAsk: 100.4}
	e := newTestExecutor(gw, time.Second, 400*time.Millisecond)
	// move the touch after the first poll cycle
	calls := 0
	baseSleep := e.sleep
	e.sleep = func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 1 {
			gw.depth.BestBid = 101.0
		}
		return baseSleep(ctx, d)
	}

	_, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionSell)
	require.NoError(t, err)
	require.NotEmpty(t, gw.amends["ord-1"])
	assert.InDelta(t, 100.95, gw.amends["ord-1"][0], 1e-9)
}

func TestExecuteEmptyBookFallsBackToLTP(t *testing.T) {
	gw := newFakeGateway()
	gw.ltp = 102.0
	gw.fills["ord-1"] = []domain.OrderFill{
		{OrderID: "ord-1", Qty: 75, AvgPrice: 101.95, Status: "COMPLETE"},
	}
	e := newTestExecutor(gw, 5*time.Second, time.Second)

	_, err := e.Execute(context.Background(), "NIFTY2631024500PE", 75, domain.TransactionSell)
	require.NoError(t, err)
	assert.InDelta(t, 101.95, gw.orders[0].Price, 1e-9)
}

func TestExecuteRejectsBadQuantity(t *testing.T) {
	e := newTestExecutor(newFakeGateway(), time.Second, time.Second)
	_, err := e.Execute(context.Background(), "X", 0, domain.TransactionSell)
	assert.Error(t, err)
}
