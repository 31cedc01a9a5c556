package selector

import (
	"fmt"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// weekly index options expire on Tuesday
const expiryWeekday = time.Weekday(2)

// TargetExpiry resolves an expiry policy to its nominal expiry date relative
// to now. Weekly policies anchor on the next Tuesday on or after today, so
// the current-week target never points at an already-expired contract;
// MONTH_END takes the last Tuesday of the month, rolling to next month once
// the 15th has passed.
func TargetExpiry(now time.Time, policy domain.ExpiryPolicy) (time.Time, error) {
	day := midnight(now)
	switch policy {
	case domain.ExpiryCurrentWeek:
		return nextTuesday(day), nil
	case domain.ExpiryNextWeek:
		return nextTuesday(day).AddDate(0, 0, 7), nil
	case domain.ExpiryWeekAfter:
		return nextTuesday(day).AddDate(0, 0, 14), nil
	case domain.ExpiryMonthEnd:
		ref := day
		if day.Day() > 15 {
			ref = time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, day.Location())
		}
		return lastTuesday(ref), nil
	}
	return time.Time{}, fmt.Errorf("selector: unknown expiry policy %q", policy)
}

// Window widens a nominal expiry date to its enclosing Monday-Sunday week,
// absorbing holiday-shifted listings that land a day or two off the nominal
// weekday.
func Window(target time.Time) (from, to time.Time) {
	t := midnight(target)
	from = t.AddDate(0, 0, -mondayOffset(t))
	to = from.AddDate(0, 0, 6)
	return from, to
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// mondayOffset is days since Monday, 0..6.
func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// nextTuesday is the first Tuesday on or after day.
func nextTuesday(day time.Time) time.Time {
	return day.AddDate(0, 0, (int(expiryWeekday)-int(day.Weekday())+7)%7)
}

func lastTuesday(ref time.Time) time.Time {
	last := time.Date(ref.Year(), ref.Month()+1, 1, 0, 0, 0, 0, ref.Location()).AddDate(0, 0, -1)
	for last.Weekday() != expiryWeekday {
		last = last.AddDate(0, 0, -1)
	}
	return last
}
