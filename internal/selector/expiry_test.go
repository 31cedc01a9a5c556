package selector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestTargetExpiry(t *testing.T) {
	// 2026-03-04 is a Wednesday; the next Tuesday is 2026-03-10
	now := day(2026, 3, 4).Add(11 * time.Hour)

	cases := []struct {
		policy domain.ExpiryPolicy
		want   time.Time
	}{
		{domain.ExpiryCurrentWeek, day(2026, 3, 10)},
		{domain.ExpiryNextWeek, day(2026, 3, 17)},
		{domain.ExpiryWeekAfter, day(2026, 3, 24)},
		{domain.ExpiryMonthEnd, day(2026, 3, 31)},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			got, err := TargetExpiry(now, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := TargetExpiry(now, domain.ExpiryPolicy("FOREVER"))
	assert.Error(t, err)
}

func TestTargetExpiryMonthEndRollsAfterMidMonth(t *testing.T) {
	got, err := TargetExpiry(day(2026, 3, 20), domain.ExpiryMonthEnd)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 4, 28), got, "past the 15th the month-end target moves to next month")

	got, err = TargetExpiry(day(2026, 3, 15), domain.ExpiryMonthEnd)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 3, 31), got, "the 15th itself still targets the current month")
}

func TestTargetExpiryOnExpiryDay(t *testing.T) {
	got, err := TargetExpiry(day(2026, 3, 3).Add(10*time.Hour), domain.ExpiryCurrentWeek)
	require.NoError(t, err)
	assert.Equal(t, day(2026, 3, 3), got, "expiry day itself still targets today's contract")
}

func TestTargetExpiryNeverPrecedesToday(t *testing.T) {
	// walk a full week so every weekday anchors forward
	for d := 2; d <= 8; d++ {
		now := day(2026, 3, d)
		got, err := TargetExpiry(now, domain.ExpiryCurrentWeek)
		require.NoError(t, err)
		assert.False(t, got.Before(now), "current-week expiry %s precedes %s", got, now)
	}
}

func TestWindow(t *testing.T) {
	from, to := Window(day(2026, 3, 3))
	assert.Equal(t, day(2026, 3, 2), from)
	assert.Equal(t, day(2026, 3, 8), to)

	from, to = Window(day(2026, 3, 8))
	assert.Equal(t, day(2026, 3, 2), from, "a sunday expiry widens back to its monday")
	assert.Equal(t, day(2026, 3, 8), to)
}
