package domain

import (
	"context"
	"time"
)

// OrderKind distinguishes limit from market orders at the gateway.
type OrderKind string

const (
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindMarket OrderKind = "MARKET"
)

// Transaction is the option-leg transaction type sent to the broker.
type Transaction string

const (
	TransactionBuy  Transaction = "BUY"
	TransactionSell Transaction = "SELL"
)

// OrderFill is one completed slice of an order as reported by the broker.
type OrderFill struct {
	OrderID  string
	Qty      int
	AvgPrice float64
	Status   string
	FilledAt time.Time
}

// Complete reports whether this slice was executed.
func (f OrderFill) Complete() bool {
	return f.Status == "COMPLETE"
}

// Depth is the best bid/ask of a contract's order book.
type Depth struct {
	BestBid float64
	BestAsk float64
}

// CandleSource returns historical spot candles.
type CandleSource interface {
	Candles(ctx context.Context, instrumentToken int64, interval string, lookbackDays int) ([]Candle, error)
}

// QuoteService returns last traded prices and order-book depth. Quote returns
// ErrNoQuote when the broker has no price for the symbol.
type QuoteService interface {
	Quote(ctx context.Context, symbol string) (float64, error)
	Depth(ctx context.Context, symbol string) (Depth, error)
}

// HoldingsService reports the broker-side net position for reconciliation.
type HoldingsService interface {
	// PositionQty returns the average price and absolute net quantity the
	// broker holds for symbol. A missing symbol returns (0, 0, nil).
	PositionQty(ctx context.Context, symbol string) (avgPrice float64, qty int, err error)
}

// OrderGateway exposes the broker order primitives used by the executor.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, symbol string, qty int, tx Transaction, kind OrderKind, price float64) (orderID string, err error)
	AmendOrder(ctx context.Context, orderID string, price float64) error
	CancelOrder(ctx context.Context, orderID string) error
	OrderFills(ctx context.Context, orderID string) ([]OrderFill, error)
}

// Gateway bundles every broker capability the engine consumes.
type Gateway interface {
	CandleSource
	QuoteService
	HoldingsService
	OrderGateway
}
