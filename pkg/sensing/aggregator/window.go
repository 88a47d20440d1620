package aggregator

import (
	"time"
)

// Window is the part of one local calendar day a summary covers. Day is the local
// midnight that identifies the summary, End may be earlier than the next midnight.
type Window struct {
	Day   time.Time
	Start time.Time
	End   time.Time
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayWindow covers the full local day containing date.
func DayWindow(date time.Time, loc *time.Location) Window {
	start := dayStart(date, loc)
	return Window{Day: start, Start: start, End: start.AddDate(0, 0, 1)}
}

// ParseDay parses YYYY-MM-DD in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", value, loc)
}

// IncrementalWindows returns one window per local day touched by [now-lookback, now].
// Each day is recomputed from its midnight and the current day stops at now.
func IncrementalWindows(now time.Time, lookback time.Duration, loc *time.Location) []Window {
	now = now.In(loc)
	first := dayStart(now.Add(-lookback), loc)
	last := dayStart(now, loc)

	var windows []Window
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		end := day.AddDate(0, 0, 1)
		if end.After(now) {
			end = now
		}
		windows = append(windows, Window{Day: day, Start: day, End: end})
	}
	return windows
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
