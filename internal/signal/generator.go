// Package signal derives trend and entry signals from a spot candle series.
// Three interchangeable generators are provided; all are deterministic pure
// functions of the input series.
package signal

import (
	"fmt"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// Strategy names accepted by Generate.
const (
	StrategyEMACross     = "EMA_CROSS"
	StrategyHeikinAshi   = "HEIKIN_ASHI"
	StrategyBandBreakout = "BAND_BREAKOUT"
)

// Params tunes the generators. Zero fields fall back to the defaults each
// generator documents.
type Params struct {
	FastSpan   int // EMA_CROSS fast span, default 8
	SlowSpan   int // EMA_CROSS slow span, default 20
	SMALength  int // HEIKIN_ASHI moving-average length, default 50
	BandPeriod int // BAND_BREAKOUT EMA period, default 20
}

// Generate annotates candles with trend/buy/sell columns using the named
// strategy. The input series must be ordered by timestamp.
func Generate(candles []domain.Candle, strategy string, p Params) ([]domain.SignalRow, error) {
	switch strategy {
	case StrategyEMACross:
		return EMACross(candles, p.FastSpan, p.SlowSpan), nil
	case StrategyHeikinAshi:
		return HeikinAshiReversal(candles, p.SMALength), nil
	case StrategyBandBreakout:
		return BandBreakout(candles, p.BandPeriod), nil
	default:
		return nil, fmt.Errorf("signal: unknown strategy %q", strategy)
	}
}

// Latest picks the row whose signal the engine should act on. The most
// recent candle wins; if it carries no signal the previous one is checked,
// covering the race where a poll lands just after a boundary. When neither
// signals, the latest row is returned so the caller still sees trend/close.
func Latest(rows []domain.SignalRow) (domain.SignalRow, bool) {
	n := len(rows)
	if n == 0 {
		return domain.SignalRow{}, false
	}
	if rows[n-1].Signaled() {
		return rows[n-1], true
	}
	if n >= 2 && rows[n-2].Signaled() {
		return rows[n-2], true
	}
	return rows[n-1], false
}

// emaSeries computes an exponential moving average over values with
// alpha = 2/(span+1), seeded at the first value.
func emaSeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
