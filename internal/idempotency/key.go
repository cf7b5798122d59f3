// Package idempotency builds and parses the keys that tie a billing event to
// exactly one (deal, line, period) triple.
package idempotency

import (
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/types"
)

const (
	partSeparator = "::"
	lineMarker    = "LIK:"

	// canonical: <dealId>::LIK:<lineKey>::<ymd>
	canonicalSeparator = partSeparator + lineMarker
	// older tickets and invoices carry one of these instead
	legacyLineSeparator = "::LI:"
	legacyPipeSeparator = "|LIK|"
)

// Parse failure reasons
const (
	ReasonEmpty         = "empty"
	ReasonNoSeparator   = "no_separator"
	ReasonMissingDeal   = "missing_deal_id"
	ReasonMissingLine   = "missing_line_key"
	ReasonMissingDate   = "missing_date"
	ReasonInvalidDate   = "invalid_date"
	ReasonAmbiguousPart = "ambiguous_part"
)

// KeyBuildError is returned when a key cannot be built from its parts.
// Callers must block the action that needed the key.
type KeyBuildError struct {
	Field  string
	Value  string
	Reason string
}

func (e *KeyBuildError) Error() string {
	return fmt.Sprintf("idempotency key: %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParsedKey is the result of ParseKey. When OK is false every other field
// except Reason must be ignored.
type ParsedKey struct {
	OK        bool
	DealID    string
	LineKey   string
	YMD       string
	Canonical string
	Legacy    bool
	Reason    string
}

// BuildKey returns the canonical key of a billing event
func BuildKey(dealID, lineKey, ymd string) (string, error) {
	dealID = strings.TrimSpace(dealID)
	lineKey = strings.TrimSpace(lineKey)
	ymd = strings.TrimSpace(ymd)

	if err := checkPart("deal_id", dealID); err != nil {
		return "", err
	}
	if err := checkPart("line_key", lineKey); err != nil {
		return "", err
	}
	if err := checkPart("date", ymd); err != nil {
		return "", err
	}
	if !isYMD(ymd) {
		return "", &KeyBuildError{Field: "date", Value: ymd, Reason: "not a valid YYYY-MM-DD date"}
	}

	return dealID + canonicalSeparator + lineKey + partSeparator + ymd, nil
}

// BuildKeyForDate is BuildKey with the period given as a date
func BuildKeyForDate(dealID, lineKey string, date time.Time) (string, error) {
	if date.IsZero() {
		return "", &KeyBuildError{Field: "date", Reason: "empty"}
	}
	return BuildKey(dealID, lineKey, types.FormatDateISO(date))
}

func checkPart(field, value string) error {
	if value == "" {
		return &KeyBuildError{Field: field, Value: value, Reason: "empty"}
	}
	if strings.Contains(value, partSeparator) || strings.Contains(value, legacyPipeSeparator) {
		return &KeyBuildError{Field: field, Value: value, Reason: "contains a key separator"}
	}
	return nil
}

func isYMD(raw string) bool {
	if len(raw) != len(types.DateLayout) {
		return false
	}
	_, err := time.Parse(types.DateLayout, raw)
	return err == nil
}

// ParseKey decodes a stored key. It accepts the canonical form and the legacy
// "::LI:" and "|LIK|" forms; anything else is rejected.
func ParseKey(raw string) ParsedKey {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedKey{Reason: ReasonEmpty}
	}

	var (
		dealID, rest string
		legacy       bool
	)
	switch {
	case strings.Contains(raw, canonicalSeparator):
		dealID, rest, _ = strings.Cut(raw, canonicalSeparator)
	case strings.Contains(raw, legacyLineSeparator):
		dealID, rest, _ = strings.Cut(raw, legacyLineSeparator)
		legacy = true
	case strings.Contains(raw, legacyPipeSeparator):
		// <dealId>|LIK|<lineKey>|<ymd>
		dealID, rest, _ = strings.Cut(raw, legacyPipeSeparator)
		idx := strings.LastIndex(rest, "|")
		if idx < 0 {
			return ParsedKey{Reason: ReasonMissingDate}
		}
		rest = rest[:idx] + partSeparator + rest[idx+1:]
		legacy = true
	default:
		return ParsedKey{Reason: ReasonNoSeparator}
	}

	idx := strings.LastIndex(rest, partSeparator)
	if idx < 0 {
		return ParsedKey{Reason: ReasonMissingDate}
	}
	lineKey, ymd := rest[:idx], rest[idx+len(partSeparator):]

	switch {
	case dealID == "":
		return ParsedKey{Reason: ReasonMissingDeal}
	case lineKey == "":
		return ParsedKey{Reason: ReasonMissingLine}
	case ymd == "":
		return ParsedKey{Reason: ReasonMissingDate}
	case strings.Contains(dealID, partSeparator) || strings.Contains(lineKey, partSeparator):
		return ParsedKey{Reason: ReasonAmbiguousPart}
	case !isYMD(ymd):
		return ParsedKey{Reason: ReasonInvalidDate}
	}

	canonical, err := BuildKey(dealID, lineKey, ymd)
	if err != nil {
		return ParsedKey{Reason: ReasonAmbiguousPart}
	}

	return ParsedKey{
		OK:        true,
		DealID:    dealID,
		LineKey:   lineKey,
		YMD:       ymd,
		Canonical: canonical,
		Legacy:    legacy,
	}
}

// KeyMatchesContext reports whether a stored key belongs to the given deal and
// line. An unparsable key never matches.
func KeyMatchesContext(raw, dealID, lineKey string) bool {
	p := ParseKey(raw)
	if !p.OK {
		return false
	}
	return p.DealID == strings.TrimSpace(dealID) && p.LineKey == strings.TrimSpace(lineKey)
}

// Canonicalize returns the canonical form of a stored key, or "" when the key is unparsable
func Canonicalize(raw string) string {
	p := ParseKey(raw)
	if !p.OK {
		return ""
	}
	return p.Canonical
}
