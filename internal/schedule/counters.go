package schedule

import (
	"time"

	"github.com/flexprice/billsync/internal/types"
)

// Counters summarize a schedule relative to one "today"
type Counters struct {
	Total     int
	Emitted   int
	Remaining int
	Next      *time.Time
	Last      *time.Time
}

// ComputeCounters counts dates strictly before today as emitted and dates on or
// after today as remaining. Next is the first remaining date, Last the latest emitted one.
func ComputeCounters(dates []time.Time, today time.Time) Counters {
	today = types.TruncateToDate(today)

	sorted := make([]time.Time, len(dates))
	copy(sorted, dates)
	sorted = sortUnique(sorted)

	c := Counters{Total: len(sorted)}
	for i := range sorted {
		d := sorted[i]
		if d.Before(today) {
			c.Emitted++
			c.Last = &d
			continue
		}
		c.Remaining++
		if c.Next == nil {
			c.Next = &d
		}
	}
	return c.Normalize(today)
}

// Normalize enforces that a billing date in the past is never reported as upcoming:
// a next date before today becomes the last date and next is cleared.
func (c Counters) Normalize(today time.Time) Counters {
	today = types.TruncateToDate(today)
	if c.Next != nil && c.Next.Before(today) {
		if c.Last == nil || c.Next.After(*c.Last) {
			next := *c.Next
			c.Last = &next
		}
		c.Next = nil
	}
	return c
}

// Merge folds the counters of several lines into a contract level summary:
// the earliest next date and the latest last date.
func Merge(today time.Time, counters ...Counters) Counters {
	var out Counters
	for _, c := range counters {
		out.Total += c.Total
		out.Emitted += c.Emitted
		out.Remaining += c.Remaining
		if c.Next != nil && (out.Next == nil || c.Next.Before(*out.Next)) {
			next := *c.Next
			out.Next = &next
		}
		if c.Last != nil && (out.Last == nil || c.Last.After(*out.Last)) {
			last := *c.Last
			out.Last = &last
		}
	}
	return out.Normalize(today)
}
