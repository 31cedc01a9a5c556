package signal

import (
	"math"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// haBar is a heikin-ashi transformed candle.
type haBar struct {
	open, high, low, close float64
}

// heikinAshi converts raw candles to heikin-ashi bars. The synthetic open of
// the first bar is the raw open; each subsequent open is the midpoint of the
// previous bar's open and close.
func heikinAshi(candles []domain.Candle) []haBar {
	bars := make([]haBar, len(candles))
	for i, c := range candles {
		bars[i].close = (c.Open + c.High + c.Low + c.Close) / 4
		if i == 0 {
			bars[i].open = c.Open
		} else {
			bars[i].open = (bars[i-1].open + bars[i-1].close) / 2
		}
		bars[i].high = math.Max(c.High, math.Max(bars[i].open, bars[i].close))
		bars[i].low = math.Min(c.Low, math.Min(bars[i].open, bars[i].close))
	}
	return bars
}

// HeikinAshiReversal finds inside bars on the heikin-ashi series and arms
// their range extremes as trigger levels. An inside bar is one fully engulfed
// by its predecessor; its predecessor's high becomes the buy level and low
// the sell level, both carried forward until the next inside bar replaces
// them. A buy fires when the HA close crosses up through the armed buy level,
// a sell when it crosses down through the sell level. smaLength is accepted
// for tuning parity but the reversal logic does not consume it.
func HeikinAshiReversal(candles []domain.Candle, smaLength int) []domain.SignalRow {
	_ = smaLength
	rows := make([]domain.SignalRow, len(candles))
	if len(candles) == 0 {
		return rows
	}
	bars := heikinAshi(candles)

	var buyAt, sellAt float64
	armed := false
	var prevBuyAt, prevSellAt float64
	prevArmed := false

	trend := domain.TrendFlat
	for i := range bars {
		rows[i].Candle = candles[i]

		prevArmed, prevBuyAt, prevSellAt = armed, buyAt, sellAt
		if i > 0 && bars[i-1].high > bars[i].high && bars[i-1].low < bars[i].low {
			buyAt, sellAt = bars[i-1].high, bars[i-1].low
			armed = true
		}

		if i > 0 && armed && prevArmed {
			crossUp := bars[i].close > buyAt && bars[i-1].close <= prevBuyAt
			crossDown := bars[i].close < sellAt && bars[i-1].close >= prevSellAt
			if crossUp {
				rows[i].Buy = true
				trend = domain.TrendLong
			} else if crossDown {
				rows[i].Sell = true
				trend = domain.TrendShort
			}
		}
		rows[i].Trend = trend
	}
	return rows
}
