package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportableDetails(t *testing.T) {
	inner := NewError("search failed").
		WithReportableDetails(map[string]any{"operation": "search tickets", "attempt": 1}).
		Mark(ErrRateLimited)
	outer := WithError(inner).
		WithReportableDetails(map[string]any{"attempt": 3}).
		Mark(ErrHTTPClient)

	details := ReportableDetails(outer)
	assert.Equal(t, "search tickets", details["operation"])
	assert.Equal(t, float64(3), details["attempt"])
	assert.True(t, IsRateLimited(outer))
}

func TestReportableDetails_None(t *testing.T) {
	err := NewError("plain").Mark(ErrInternal)
	assert.Empty(t, ReportableDetails(err))
}
