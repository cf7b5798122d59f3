package types

import (
	"strconv"
	"strings"
)

// ParseBool reads a CRM checkbox or boolean property. Anything unrecognized is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "1", "on":
		return true
	}
	return false
}

// FormatBool renders a boolean the way the CRM stores it
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}
