// Package market knows the NSE trading calendar: session bounds, candle
// boundaries and the intraday square-off cutoff. All decisions are made in
// exchange time regardless of the host zone.
package market

import (
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// IST is the exchange zone. A fixed offset avoids a tzdata dependency; the
// exchange has no daylight saving.
var IST = time.FixedZone("IST", 5*3600+30*60)

const (
	openHour, openMin, openSec = 9, 15, 10
	closeHour, closeMin        = 15, 30
	cutoffHour, cutoffMin      = 15, 15

	// candles open on the exchange boundary; polling starts a few seconds
	// later so the feed has the completed bar
	candleBaseSec  = 5
	candlePollSkew = 5 * time.Second
)

// Clock answers session questions against an injectable time source.
type Clock struct {
	Now func() time.Time
}

// NewClock returns a Clock on the system time.
func NewClock() *Clock {
	return &Clock{Now: time.Now}
}

func (c *Clock) now() time.Time {
	return c.Now().In(IST)
}

// IsOpen reports whether the session is live: weekdays between 09:15:10 and
// 15:30:00 exchange time.
func (c *Clock) IsOpen() bool {
	t := c.now()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), openHour, openMin, openSec, 0, IST)
	close := time.Date(t.Year(), t.Month(), t.Day(), closeHour, closeMin, 0, 0, IST)
	return !t.Before(open) && !t.After(close)
}

// OpensWithin reports whether the session is shut now but will open inside d.
// It lets a loop idle across the pre-open window instead of exiting.
func (c *Clock) OpensWithin(d time.Duration) bool {
	if c.IsOpen() {
		return false
	}
	t := c.now()
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), openHour, openMin, openSec, 0, IST)
	return t.Before(open) && open.Sub(t) <= d
}

// PastIntradayCutoff reports whether intraday positions must be squared off,
// 15:15 exchange time onward.
func (c *Clock) PastIntradayCutoff() bool {
	t := c.now()
	cutoff := time.Date(t.Year(), t.Month(), t.Day(), cutoffHour, cutoffMin, 0, 0, IST)
	return !t.Before(cutoff)
}

// NextCandleTime returns the next moment a fresh candle of the given interval
// is expected. Boundaries step from 09:15:05 in interval multiples, shifted
// by a small poll skew, and never past the session close.
func (c *Clock) NextCandleTime(interval string) (time.Time, error) {
	step, err := domain.ParseInterval(interval)
	if err != nil {
		return time.Time{}, err
	}
	t := c.now()
	base := time.Date(t.Year(), t.Month(), t.Day(), openHour, openMin, candleBaseSec, 0, IST)
	next := base
	for !next.After(t) {
		next = next.Add(step)
	}
	next = next.Add(candlePollSkew)
	last := time.Date(t.Year(), t.Month(), t.Day(), closeHour, closeMin, 0, 0, IST)
	if next.After(last) {
		next = last
	}
	return next, nil
}
