package signal

import "github.com/Hdkhatri/niftyflow/internal/domain"

// EMACross is a dual-EMA trend follower. The trend flips when the fast EMA
// crosses the slow one. A buy fires on the first candle where the trend is
// long and both the current and previous closes sit above both EMAs; a sell
// mirrors that below. Fired flags ensure at most one signal per trend leg
// and reset when the trend flips.
func EMACross(candles []domain.Candle, fastSpan, slowSpan int) []domain.SignalRow {
	if fastSpan <= 0 {
		fastSpan = 8
	}
	if slowSpan <= 0 {
		slowSpan = 20
	}
	rows := make([]domain.SignalRow, len(candles))
	if len(candles) == 0 {
		return rows
	}
	cl := closes(candles)
	fast := emaSeries(cl, fastSpan)
	slow := emaSeries(cl, slowSpan)

	trend := domain.TrendFlat
	buyFired, sellFired := false, false
	for i := range candles {
		rows[i].Candle = candles[i]

		prev := trend
		if fast[i] > slow[i] {
			trend = domain.TrendLong
		} else if fast[i] < slow[i] {
			trend = domain.TrendShort
		}
		if trend != prev {
			buyFired, sellFired = false, false
		}
		rows[i].Trend = trend

		if i == 0 {
			continue
		}
		above := cl[i] > fast[i] && cl[i] > slow[i] &&
			cl[i-1] > fast[i-1] && cl[i-1] > slow[i-1]
		below := cl[i] < fast[i] && cl[i] < slow[i] &&
			cl[i-1] < fast[i-1] && cl[i-1] < slow[i-1]

		if trend == domain.TrendLong && above && !buyFired {
			rows[i].Buy = true
			buyFired = true
		} else if trend == domain.TrendShort && below && !sellFired {
			rows[i].Sell = true
			sellFired = true
		}
	}
	return rows
}
