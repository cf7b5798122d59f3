package idempotency

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// LineOwner is the (deal, line item) pair embedded in a line identity key
type LineOwner struct {
	DealID     string
	LineItemID string
}

// GenerateLineKey issues a new line identity key: <dealId>-<lineItemId>-<ULID>
func GenerateLineKey(dealID, lineItemID string) string {
	return dealID + "-" + lineItemID + "-" + ulid.Make().String()
}

// ParseLineOwner extracts the owner embedded in a line identity key.
// Keys that were entered by hand or issued before owners were embedded return false.
func ParseLineOwner(key string) (LineOwner, bool) {
	key = strings.TrimSpace(key)
	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return LineOwner{}, false
	}
	if !isNumericID(parts[0]) || !isNumericID(parts[1]) {
		return LineOwner{}, false
	}
	if _, err := ulid.ParseStrict(parts[2]); err != nil {
		return LineOwner{}, false
	}
	return LineOwner{DealID: parts[0], LineItemID: parts[1]}, true
}

// LineKeyOwnedBy reports whether key is an owner-embedding key issued for the given
// deal and line item. ownerKnown is false for keys without an embedded owner.
func LineKeyOwnedBy(key, dealID, lineItemID string) (owned bool, ownerKnown bool) {
	owner, ok := ParseLineOwner(key)
	if !ok {
		return false, false
	}
	return owner.DealID == dealID && owner.LineItemID == lineItemID, true
}

// HubSpot record ids are numeric
func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
