package types

import (
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date layout used for billing dates and keys
const DateLayout = "2006-01-02"

// Interval is a calendar interval. Months are applied before days.
type Interval struct {
	Months int
	Days   int
}

// IsZero reports whether the interval would not move a date
func (i Interval) IsZero() bool {
	return i.Months == 0 && i.Days == 0
}

// Date returns midnight of the given calendar day in the process location
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

// TruncateToDate drops the clock part, keeping the calendar day as seen in t's own location
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

// ParseDate parses a calendar date.
// YYYY-MM-DD is parsed as a local calendar date, never as UTC midnight, so a
// date never shifts by one day depending on the process timezone. Timestamps
// (RFC3339 or epoch milliseconds as HubSpot sends them) keep the calendar day
// they carry. Returns false when raw is empty or not a date.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if t, err := time.ParseInLocation(DateLayout, raw, time.Local); err == nil {
		return t, true
	}

	// HubSpot date properties come back as epoch milliseconds at UTC midnight
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && len(raw) >= 10 {
		return TruncateToDate(time.UnixMilli(ms).UTC()), true
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006/01/02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return TruncateToDate(t), true
		}
	}

	return time.Time{}, false
}

// FormatDateISO formats t as YYYY-MM-DD
func FormatDateISO(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatDatePtr formats an optional date, empty when nil
func FormatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatDateISO(*t)
}

// AddInterval adds months first and then days.
// When the target month is shorter than the source day-of-month the result is
// clamped to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddInterval(t time.Time, interval Interval) time.Time {
	result := t
	if interval.Months != 0 {
		result = addMonthsClamped(result, interval.Months)
	}
	if interval.Days != 0 {
		result = result.AddDate(0, 0, interval.Days)
	}
	return result
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	// day 1 never overflows, clamp afterwards
	first := time.Date(y, m+time.Month(months), 1, h, min, sec, t.Nanosecond(), t.Location())
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > lastDay {
		d = lastDay
	}

	return time.Date(first.Year(), first.Month(), d, h, min, sec, t.Nanosecond(), t.Location())
}
