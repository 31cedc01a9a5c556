package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

func candle(i int, o, h, l, c float64) domain.Candle {
	return domain.Candle{
		Timestamp: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC).Add(time.Duration(i) * 30 * time.Minute),
		Open:      o, High: h, Low: l, Close: c,
		Volume: 1000,
	}
}

// rising builds n candles with closes stepping up by `step` from start.
func rising(n int, start, step float64) []domain.Candle {
	out := make([]domain.Candle, n)
	v := start
	for i := range out {
		out[i] = candle(i, v-step/2, v+1, v-1, v)
		v += step
	}
	return out
}

func TestGenerateDispatch(t *testing.T) {
	candles := rising(5, 100, 1)

	for _, name := range []string{StrategyEMACross, StrategyHeikinAshi, StrategyBandBreakout} {
		rows, err := Generate(candles, name, Params{})
		require.NoError(t, err, name)
		require.Len(t, rows, 5, name)
	}

	_, err := Generate(candles, "MOMO", Params{})
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestEMACrossFiresOncePerLeg(t *testing.T) {
	candles := rising(30, 100, 10)
	rows := EMACross(candles, 8, 20)

	buys := 0
	for i, r := range rows {
		if r.Buy {
			buys++
			assert.Equal(t, domain.TrendLong, r.Trend, "buy row %d must be in a long trend", i)
		}
		assert.False(t, r.Buy && r.Sell, "row %d carries both signals", i)
		assert.False(t, r.Sell, "monotone rise must not sell at %d", i)
	}
	require.Equal(t, 1, buys, "one buy per trend leg")
	assert.True(t, rows[2].Buy, "buy needs two closes above both averages")
}

func TestEMACrossRefiresAfterTrendFlip(t *testing.T) {
	var candles []domain.Candle
	candles = append(candles, rising(15, 100, 10)...)
	// sharp reversal drags the fast average under the slow one
	v := candles[len(candles)-1].Close
	for i := 0; i < 15; i++ {
		v -= 20
		candles = append(candles, candle(len(candles), v+10, v+11, v-1, v))
	}
	// and a second rally
	for i := 0; i < 25; i++ {
		v += 20
		candles = append(candles, candle(len(candles), v-10, v+1, v-11, v))
	}
	rows := EMACross(candles, 8, 20)

	buys, sells := 0, 0
	for _, r := range rows {
		if r.Buy {
			buys++
		}
		if r.Sell {
			sells++
		}
	}
	assert.Equal(t, 2, buys, "fired flag resets on each flip")
	assert.Equal(t, 1, sells)
	assert.Equal(t, domain.TrendLong, rows[len(rows)-1].Trend)
}

func TestHeikinAshiSyntheticOpenRecurrence(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 100, 110, 90, 105),
		candle(1, 100, 105, 95, 100),
		candle(2, 104, 118, 103, 116),
	}
	bars := heikinAshi(candles)

	require.Len(t, bars, 3)
	assert.Equal(t, 100.0, bars[0].open, "first synthetic open is the raw open")
	assert.InDelta(t, 101.25, bars[0].close, 1e-9)
	assert.InDelta(t, (bars[0].open+bars[0].close)/2, bars[1].open, 1e-9)
	assert.InDelta(t, (bars[1].open+bars[1].close)/2, bars[2].open, 1e-9)
	assert.Equal(t, 110.0, bars[0].high, "high includes the synthetic open")
	assert.Equal(t, 90.0, bars[0].low)
}

func TestHeikinAshiInsideBarBreakout(t *testing.T) {
	candles := []domain.Candle{
		candle(0, 100, 110, 90, 105), // mother bar, HA high 110 / low 90
		candle(1, 100, 105, 95, 100), // inside bar arms 110 buy / 90 sell
		candle(2, 104, 118, 103, 116), // HA close 110.25 crosses the buy level
	}
	rows := HeikinAshiReversal(candles, 50)

	assert.False(t, rows[0].Signaled())
	assert.False(t, rows[1].Signaled(), "arming candle must not also fire")
	assert.True(t, rows[2].Buy)
	assert.Equal(t, domain.TrendLong, rows[2].Trend)
	assert.Equal(t, domain.TrendFlat, rows[1].Trend)
}

func TestHeikinAshiNoSignalWithoutArmedLevel(t *testing.T) {
	rows := HeikinAshiReversal(rising(10, 100, 15), 50)
	for i, r := range rows {
		assert.False(t, r.Signaled(), "row %d fired with no inside bar in the series", i)
	}
}

func TestBandBreakoutDeduplicates(t *testing.T) {
	rows := BandBreakout(rising(20, 100, 10), 20)

	buys := 0
	for i, r := range rows {
		if r.Buy {
			buys++
			assert.Equal(t, 2, i, "breakout confirms on the second close above the band")
		}
		assert.False(t, r.Sell)
	}
	assert.Equal(t, 1, buys, "a close riding the band fires once")
	assert.Equal(t, domain.TrendLong, rows[len(rows)-1].Trend, "trend persists after the breakout")
}

func TestBandBreakoutDown(t *testing.T) {
	candles := rising(20, 300, -10)
	for i := range candles {
		candles[i].High = candles[i].Close + 1
		candles[i].Low = candles[i].Close - 1
	}
	rows := BandBreakout(candles, 20)

	sells := 0
	for _, r := range rows {
		if r.Sell {
			sells++
		}
		assert.False(t, r.Buy)
	}
	assert.Equal(t, 1, sells)
	assert.Equal(t, domain.TrendShort, rows[len(rows)-1].Trend)
}

func TestLatestPrefersLastCandle(t *testing.T) {
	rows := []domain.SignalRow{
		{Trend: domain.TrendLong},
		{Trend: domain.TrendLong, Buy: true},
		{Trend: domain.TrendLong, Buy: true},
	}
	got, ok := Latest(rows)
	require.True(t, ok)
	assert.True(t, got.Buy)

	rows[2].Buy = false
	got, ok = Latest(rows)
	require.True(t, ok, "second-to-last signal still counts")
	assert.True(t, got.Buy)

	rows[1].Buy = false
	got, ok = Latest(rows)
	assert.False(t, ok)
	assert.Equal(t, domain.TrendLong, got.Trend, "trend is reported even without a signal")

	_, ok = Latest(nil)
	assert.False(t, ok)
}
