package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// BillingFrequency is the normalized recurring billing frequency of a line item
type BillingFrequency string

const (
	FrequencyNone       BillingFrequency = ""
	FrequencyWeekly     BillingFrequency = "weekly"
	FrequencyBiweekly   BillingFrequency = "biweekly"
	FrequencyMonthly    BillingFrequency = "monthly"
	FrequencyQuarterly  BillingFrequency = "quarterly"
	FrequencySemiannual BillingFrequency = "semiannual"
	FrequencyAnnual     BillingFrequency = "annual"
	FrequencyIrregular  BillingFrequency = "irregular"
)

var frequencyIntervals = map[BillingFrequency]Interval{
	FrequencyWeekly:     {Days: 7},
	FrequencyBiweekly:   {Days: 14},
	FrequencyMonthly:    {Months: 1},
	FrequencyQuarterly:  {Months: 3},
	FrequencySemiannual: {Months: 6},
	FrequencyAnnual:     {Months: 12},
}

// spellings used by HubSpot's native field and by the legacy custom field
var frequencyAliases = map[string]BillingFrequency{
	"weekly":          FrequencyWeekly,
	"biweekly":        FrequencyBiweekly,
	"bi_weekly":       FrequencyBiweekly,
	"every_two_weeks": FrequencyBiweekly,
	"monthly":         FrequencyMonthly,
	"quarterly":       FrequencyQuarterly,
	"semiannual":      FrequencySemiannual,
	"semi_annual":     FrequencySemiannual,
	"semiannually":    FrequencySemiannual,
	"per_six_months":  FrequencySemiannual,
	"annual":          FrequencyAnnual,
	"annually":        FrequencyAnnual,
	"yearly":          FrequencyAnnual,
	"irregular":       FrequencyIrregular,
}

var perNYears = map[string]int{
	"per_two_years":   2,
	"per_three_years": 3,
	"per_four_years":  4,
	"per_five_years":  5,
}

var multiYearPattern = regexp.MustCompile(`^(?:multi_year_|every_)?(\d+)(?:_years)?$`)

// MultiYearFrequency returns the frequency for a contract billed every n years
func MultiYearFrequency(years int) BillingFrequency {
	return BillingFrequency(fmt.Sprintf("multi_year_%d", years))
}

// ParseFrequency normalizes a raw frequency value.
// Unknown or empty values return FrequencyNone, which means one-time billing.
func ParseFrequency(raw string) BillingFrequency {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	if normalized == "" {
		return FrequencyNone
	}

	if f, ok := frequencyAliases[normalized]; ok {
		return f
	}
	if n, ok := perNYears[normalized]; ok {
		return MultiYearFrequency(n)
	}
	if strings.HasPrefix(normalized, "multi_year_") || strings.HasSuffix(normalized, "_years") {
		if m := multiYearPattern.FindStringSubmatch(normalized); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return MultiYearFrequency(n)
			}
		}
	}
	return FrequencyNone
}

// Interval returns the calendar interval between two billing dates.
// The boolean is false for one-time and irregular schedules.
func (f BillingFrequency) Interval() (Interval, bool) {
	if i, ok := frequencyIntervals[f]; ok {
		return i, true
	}
	if years, ok := f.years(); ok {
		return Interval{Months: 12 * years}, true
	}
	return Interval{}, false
}

// IsRecurring reports whether the frequency generates dates
func (f BillingFrequency) IsRecurring() bool {
	_, ok := f.Interval()
	return ok
}

func (f BillingFrequency) years() (int, bool) {
	s := string(f)
	if !strings.HasPrefix(s, "multi_year_") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "multi_year_"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (f BillingFrequency) String() string {
	if f == FrequencyNone {
		return "one_time"
	}
	return string(f)
}
