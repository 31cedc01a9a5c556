package domain

import "time"

// Side is the direction of the spot signal that opened a position. The
// engine sells premium, so a BUY signal sells a put and a SELL signal sells
// a call; Side names the signal, not the option transaction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the reversed side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Entry and exit reasons recorded on positions and completed trades.
const (
	ReasonSignal      = "SIGNAL_GENERATED"
	ReasonRollover    = "ROLLOVER"
	ReasonManualEntry = "MANUAL_ENTRY"
	ReasonTargetHit   = "TARGET_HIT"
	ReasonManualExit  = "MANUAL_EXIT"
)

// HedgeLeg is the protective long leg of a hedged position. Zero value means
// no hedge (HedgeNone configurations).
type HedgeLeg struct {
	Symbol     string
	Strike     int
	EntryPrice float64
	Qty        int
	EntryTime  time.Time
}

// Active reports whether the hedge leg is populated.
func (h HedgeLeg) Active() bool {
	return h.Symbol != ""
}

// Position is the single open position of one (user, strategy key) pair. It
// is persisted on every state transition and reloaded verbatim on restart.
type Position struct {
	ID           string // UUID assigned at entry
	UserID       int64
	Key          string
	Signal       Side
	SpotEntry    float64
	Symbol       string
	Strike       int
	Expiry       time.Time
	EntryPrice   float64 // average fill of the short primary leg
	EntryTime    time.Time
	Qty          int
	Interval     string
	RealTrade    bool
	EntryReason  string
	ExpiryPolicy ExpiryPolicy
	Strategy     string
	Hedge        HedgeLeg
}

// CompletedTrade is an immutable record of a closed position. Rows are
// append-only and never mutated after insertion.
type CompletedTrade struct {
	Position
	SpotExit       float64
	ExitPrice      float64 // average fill of the closing buy-back
	ExitTime       time.Time
	ExitReason     string
	PnL            float64 // per-unit primary leg: entry - exit
	HedgeExitPrice float64
	HedgeExitTime  time.Time
	HedgePnL       float64 // per-unit hedge leg: exit - entry
	TotalPnL       float64
}

// StrategyConfig is the per-(user, key) runtime configuration. It lives in
// the config store and is re-read at the top of every engine iteration so
// operators can change behavior while a loop is running.
type StrategyConfig struct {
	UserID        int64
	Key           string
	Strategy      string // EMA_CROSS | HEIKIN_ASHI | BAND_BREAKOUT
	Interval      string
	Lots          int
	TargetPremium float64
	Intraday      bool
	NewTrades     bool
	RealTrade     bool
	ExpiryPolicy  ExpiryPolicy
	HedgeType     HedgeType
	HedgeRollover HedgeRollover
	UpdatedAt     time.Time
}

// Fill is the outcome of one order execution. A zero AvgPrice or Qty marks a
// degraded fill: the broker gave no usable answer and the caller must fall
// back to the last quote and the configured quantity.
type Fill struct {
	OrderID  string
	AvgPrice float64
	Qty      int
}

// Degraded reports whether the fill carries no usable average price.
func (f Fill) Degraded() bool {
	return f.AvgPrice <= 0 || f.Qty <= 0
}
