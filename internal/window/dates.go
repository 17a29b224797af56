package window

import (
	"time"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
)

const day = 24 * time.Hour

// Snap moves t down to the start of the composite period that contains it.
func Snap(freq registry.Frequency, t time.Time) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch freq {
	case registry.FreqHourly:
		return t.Truncate(time.Hour)
	case registry.FreqThreeHourly:
		return time.Date(y, m, d, t.Hour()/3*3, 0, 0, 0, time.UTC)
	case registry.FreqEightDaily:
		doy := (t.YearDay()-1)/8*8 + 1
		return time.Date(y, time.January, doy, 0, 0, 0, 0, time.UTC)
	case registry.FreqMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case registry.FreqYearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the start of the composite period after the one starting at t.
// The 8-day grid restarts every January 1st, so the last composite of a year
// is shorter.
func Next(freq registry.Frequency, t time.Time) time.Time {
	switch freq {
	case registry.FreqHourly:
		return t.Add(time.Hour)
	case registry.FreqThreeHourly:
		return t.Add(3 * time.Hour)
	case registry.FreqWeekly:
		return t.AddDate(0, 0, 7)
	case registry.FreqEightDaily:
		n := t.AddDate(0, 0, 8)
		if n.Year() != t.Year() {
			return time.Date(n.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		return n
	case registry.FreqMonthly:
		return t.AddDate(0, 1, 0)
	case registry.FreqYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Dates returns the composite start dates for [start, end], both calendar
// days. The first composite, after snapping start to the frequency grid, is
// included whenever it is not after end. Every later composite is included
// only if it finishes by the end of the end day. start after end yields an
// empty sequence. A static product yields exactly start.
func Dates(freq registry.Frequency, start, end time.Time) []time.Time {
	start, end = start.UTC(), end.UTC()
	if start.After(end) {
		return nil
	}
	if freq == registry.FreqStatic {
		return []time.Time{start}
	}

	ey, em, ed := end.Date()
	limit := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC).Add(day)

	first := Snap(freq, start)
	if first.After(end) {
		return nil
	}
	dates := []time.Time{first}
	for d := Next(freq, first); !Next(freq, d).After(limit); d = Next(freq, d) {
		dates = append(dates, d)
	}
	return dates
}
