// Package schedule turns a line item's recurring billing configuration into
// an ordered list of billing dates and the counters derived from it.
package schedule

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/types"
)

// StartSource tells where a resolved start date came from
type StartSource string

const (
	StartFromField    StartSource = "field"
	StartFromDelay    StartSource = "delay"
	StartFromManual   StartSource = "manual"
	StartDefaultedNow StartSource = "defaulted_today"
	StartMissing      StartSource = "missing"
)

const (
	defaultMaxOccurs = 48
	defaultMaxSlots  = 24
)

// RawLine is the schedule relevant configuration of a line item as read from the CRM.
// Values are raw property strings; empty means unset.
type RawLine struct {
	Irregular        string
	Frequency        string
	LegacyFrequency  string
	StartDates       []string
	StartDelayDays   string
	StartDelayMonths string
	FixedOccurrences string
	ManualDates      []string
}

// Config is the resolved schedule configuration of a line
type Config struct {
	IsIrregular    bool
	Frequency      types.BillingFrequency
	Interval       types.Interval
	HasInterval    bool
	StartDate      time.Time
	StartSource    StartSource
	MaxOccurrences int
	FixedTerm      bool
}

// Schedule is a resolved config with its materialized dates and counters for one "today"
type Schedule struct {
	Config   Config
	Dates    []time.Time
	Counters Counters
}

// Calculator builds schedules. The two ceilings are configuration: open-ended
// real billing and forecasting use different values.
type Calculator struct {
	maxOccurrences int
	maxManualSlots int
}

// NewCalculator creates a calculator. Non-positive values fall back to 48 occurrences and 24 manual slots.
func NewCalculator(maxOccurrences, maxManualSlots int) *Calculator {
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurs
	}
	if maxManualSlots <= 0 {
		maxManualSlots = defaultMaxSlots
	}
	return &Calculator{
		maxOccurrences: maxOccurrences,
		maxManualSlots: maxManualSlots,
	}
}

// MaxOccurrences returns the ceiling applied to open-ended schedules
func (c *Calculator) MaxOccurrences() int {
	return c.maxOccurrences
}

// Build resolves the configuration, materializes the dates and computes the counters
func (c *Calculator) Build(line RawLine, today time.Time) Schedule {
	today = types.TruncateToDate(today)
	cfg := c.Resolve(line, today)
	dates := c.Dates(cfg, line.ManualDates)
	return Schedule{
		Config:   cfg,
		Dates:    dates,
		Counters: ComputeCounters(dates, today),
	}
}

// Resolve turns raw properties into a schedule configuration. It never fails:
// malformed values fall back to the documented defaults.
func (c *Calculator) Resolve(line RawLine, today time.Time) Config {
	today = types.TruncateToDate(today)

	cfg := Config{
		MaxOccurrences: c.maxOccurrences,
	}

	cfg.Frequency = types.ParseFrequency(firstNonEmpty(line.Frequency, line.LegacyFrequency))
	cfg.IsIrregular = types.ParseBool(line.Irregular) || cfg.Frequency == types.FrequencyIrregular
	if cfg.IsIrregular {
		cfg.Frequency = types.FrequencyIrregular
	} else {
		cfg.Interval, cfg.HasInterval = cfg.Frequency.Interval()
	}

	if n, ok := parsePositiveInt(line.FixedOccurrences); ok {
		cfg.MaxOccurrences = n
		cfg.FixedTerm = true
	}

	for _, raw := range line.StartDates {
		if d, ok := types.ParseDate(raw); ok {
			cfg.StartDate = d
			cfg.StartSource = StartFromField
			break
		}
	}

	if cfg.StartSource == "" && cfg.IsIrregular {
		// the anchor of an irregular schedule is the earliest date the user entered
		if manual := c.manualDates(line.ManualDates); len(manual) > 0 {
			cfg.StartDate = manual[0]
			cfg.StartSource = StartFromManual
		} else {
			cfg.StartSource = StartMissing
		}
		return cfg
	}

	if cfg.StartSource == "" {
		days, daysOK := parseNonNegativeInt(line.StartDelayDays)
		months, monthsOK := parseNonNegativeInt(line.StartDelayMonths)
		if (daysOK && days > 0) || (monthsOK && months > 0) {
			cfg.StartDate = types.AddInterval(today, types.Interval{Months: months, Days: days})
			cfg.StartSource = StartFromDelay
		}
	}

	if cfg.StartSource == "" {
		cfg.StartDate = today
		cfg.StartSource = StartDefaultedNow
	}

	return cfg
}

// Dates materializes the billing dates of a resolved configuration.
// Irregular schedules are never generated: they are the start date plus the manually entered dates.
func (c *Calculator) Dates(cfg Config, manual []string) []time.Time {
	if cfg.IsIrregular {
		dates := c.manualDates(manual)
		if cfg.StartSource == StartFromField {
			dates = append(dates, cfg.StartDate)
		}
		return sortUnique(dates)
	}

	if cfg.StartDate.IsZero() {
		return nil
	}

	if !cfg.HasInterval || cfg.Interval.IsZero() {
		return []time.Time{cfg.StartDate}
	}

	dates := make([]time.Time, 0, cfg.MaxOccurrences)
	current := cfg.StartDate
	dates = append(dates, current)
	for len(dates) < cfg.MaxOccurrences {
		next := types.AddInterval(current, cfg.Interval)
		if !next.After(current) {
			break
		}
		dates = append(dates, next)
		current = next
	}
	return dates
}

func (c *Calculator) manualDates(raw []string) []time.Time {
	dates := make([]time.Time, 0, len(raw))
	for i, r := range raw {
		if i >= c.maxManualSlots {
			break
		}
		if d, ok := types.ParseDate(r); ok {
			dates = append(dates, d)
		}
	}
	return sortUnique(dates)
}

// Window returns the dates d with from <= d <= to
func Window(dates []time.Time, from, to time.Time) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// OnOrAfter returns the dates d with d >= from
func OnOrAfter(dates []time.Time, from time.Time) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if !d.Before(from) {
			out = append(out, d)
		}
	}
	return out
}

func sortUnique(dates []time.Time) []time.Time {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	out := dates[:0]
	for i, d := range dates {
		if i > 0 && d.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// HubSpot number properties may come back as "12" or "12.0"
func parseNumber(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

func parsePositiveInt(raw string) (int, bool) {
	n, ok := parseNumber(raw)
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseNonNegativeInt(raw string) (int, bool) {
	n, ok := parseNumber(raw)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}
