package signal

import "github.com/Hdkhatri/niftyflow/internal/domain"

// BandBreakout tracks an EMA band built from candle highs and lows. Two
// consecutive closes above the upper band raise a buy, two below the lower
// band a sell. A signal only fires on the candle where the condition first
// becomes true, so a close riding the band produces one entry, not a stream.
func BandBreakout(candles []domain.Candle, period int) []domain.SignalRow {
	if period <= 0 {
		period = 20
	}
	rows := make([]domain.SignalRow, len(candles))
	if len(candles) == 0 {
		return rows
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
	}
	upper := emaSeries(highs, period)
	lower := emaSeries(lows, period)

	trend := domain.TrendFlat
	prevRawBuy, prevRawSell := false, false
	for i := range candles {
		rows[i].Candle = candles[i]

		rawBuy, rawSell := false, false
		if i >= 1 {
			rawBuy = candles[i].Close > upper[i] && candles[i-1].Close > upper[i-1]
			rawSell = candles[i].Close < lower[i] && candles[i-1].Close < lower[i-1]
		}
		if rawBuy && !prevRawBuy {
			rows[i].Buy = true
			trend = domain.TrendLong
		} else if rawSell && !prevRawSell {
			rows[i].Sell = true
			trend = domain.TrendShort
		}
		prevRawBuy, prevRawSell = rawBuy, rawSell
		rows[i].Trend = trend
	}
	return rows
}
