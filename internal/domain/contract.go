package domain

import "time"

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionTypeCE OptionType = "CE"
	OptionTypePE OptionType = "PE"
)

// OptionContract is one tradable row of the instrument universe.
type OptionContract struct {
	Symbol  string // exchange trading symbol, e.g. NIFTY24O0124800PE
	Name    string // underlying name, e.g. NIFTY
	Segment string // e.g. NFO-OPT
	Strike  int
	Type    OptionType
	Expiry  time.Time
	LotSize int
}

// ExpiryPolicy selects which weekly (or monthly) expiry the contract search
// targets. Each policy resolves to a target expiry date which is then widened
// to its enclosing Monday-Sunday week.
type ExpiryPolicy string

const (
	ExpiryCurrentWeek ExpiryPolicy = "CURRENT_WEEK"
	ExpiryNextWeek    ExpiryPolicy = "NEXT_WEEK"
	ExpiryWeekAfter   ExpiryPolicy = "NEXT_TO_NEXT_WEEK"
	ExpiryMonthEnd    ExpiryPolicy = "MONTH_END"
)

// Valid reports whether p is a known expiry policy.
func (p ExpiryPolicy) Valid() bool {
	switch p {
	case ExpiryCurrentWeek, ExpiryNextWeek, ExpiryWeekAfter, ExpiryMonthEnd:
		return true
	}
	return false
}

// HedgeType selects how (and whether) the protective hedge leg is chosen.
type HedgeType string

const (
	// HedgeNone strips all hedge-leg logic; only the primary leg trades.
	HedgeNone HedgeType = "NO_HEDGE"
	// HedgeStrike100 / HedgeStrike200 buy the hedge a fixed strike distance
	// further out of the money than the primary leg.
	HedgeStrike100 HedgeType = "STRIKE_100"
	HedgeStrike200 HedgeType = "STRIKE_200"
	// HedgePremium searches for the hedge by its own target premium, the
	// same walk used for the primary leg.
	HedgePremium HedgeType = "PREMIUM"
)

// StrikeOffset returns the hedge strike distance for offset-style hedges.
func (h HedgeType) StrikeOffset() int {
	if h == HedgeStrike200 {
		return 200
	}
	return 100
}

// HedgeRollover controls what happens to the hedge leg when the primary leg
// re-enters after a target exit.
type HedgeRollover string

const (
	// RolloverSemi rolls the hedge only when the new primary expiry differs
	// from the previous one.
	RolloverSemi HedgeRollover = "SEMI"
	// RolloverFull always closes and re-opens the hedge on re-entry.
	RolloverFull HedgeRollover = "FULL"
)
