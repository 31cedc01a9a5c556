package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(t time.Time) *Clock {
	return &Clock{Now: func() time.Time { return t }}
}

func ist(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, IST)
}

func TestIsOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid session", ist(2026, 3, 4, 11, 0, 0), true},
		{"exact open", ist(2026, 3, 4, 9, 15, 10), true},
		{"nine seconds early", ist(2026, 3, 4, 9, 15, 9), false},
		{"exact close", ist(2026, 3, 4, 15, 30, 0), true},
		{"after close", ist(2026, 3, 4, 15, 30, 1), false},
		{"saturday", ist(2026, 3, 7, 11, 0, 0), false},
		{"sunday", ist(2026, 3, 8, 11, 0, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fixed(tc.at).IsOpen())
		})
	}
}

func TestOpensWithin(t *testing.T) {
	assert.True(t, fixed(ist(2026, 3, 4, 8, 30, 0)).OpensWithin(time.Hour))
	assert.False(t, fixed(ist(2026, 3, 4, 8, 0, 0)).OpensWithin(time.Hour))
	assert.False(t, fixed(ist(2026, 3, 4, 11, 0, 0)).OpensWithin(time.Hour), "already open")
	assert.False(t, fixed(ist(2026, 3, 8, 8, 30, 0)).OpensWithin(time.Hour), "weekend")
	assert.False(t, fixed(ist(2026, 3, 4, 16, 0, 0)).OpensWithin(time.Hour), "session done for the day")
}

func TestPastIntradayCutoff(t *testing.T) {
	assert.False(t, fixed(ist(2026, 3, 4, 15, 14, 59)).PastIntradayCutoff())
	assert.True(t, fixed(ist(2026, 3, 4, 15, 15, 0)).PastIntradayCutoff())
	assert.True(t, fixed(ist(2026, 3, 4, 15, 45, 0)).PastIntradayCutoff())
}

func TestNextCandleTime(t *testing.T) {
	c := fixed(ist(2026, 3, 4, 9, 20, 0))
	next, err := c.NextCandleTime("30minute")
	require.NoError(t, err)
	assert.Equal(t, ist(2026, 3, 4, 9, 45, 10), next, "first boundary after open plus skew")

	c = fixed(ist(2026, 3, 4, 9, 45, 11))
	next, err = c.NextCandleTime("30minute")
	require.NoError(t, err)
	assert.Equal(t, ist(2026, 3, 4, 10, 15, 10), next)

	c = fixed(ist(2026, 3, 4, 15, 20, 0))
	next, err = c.NextCandleTime("30minute")
	require.NoError(t, err)
	assert.Equal(t, ist(2026, 3, 4, 15, 30, 0), next, "boundaries cap at session close")

	_, err = c.NextCandleTime("fortnight")
	assert.Error(t, err)
}
