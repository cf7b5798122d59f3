package errors

import (
	"strings"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

const detailsPrefix = "__json__:"

// ErrorBuilder chains hints and details onto an error. It is not an error
// itself; Mark ends the chain.
type ErrorBuilder struct {
	err error
}

// NewError starts a new error builder chain
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

// NewErrorf starts a new error builder chain with a formatted message
func NewErrorf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: errors.Newf(format, args...)}
}

// WithError starts a builder chain with an existing error
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// WithMessage adds context to the error
// this is for the internal error messages
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithHint adds context to the error
// this is for the operator facing messages written back to CRM records
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

// WithHintf is a helper for WithHint that allows for formatting
func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails attaches details that survive redaction, such as the
// CRM operation and status code. Values must not carry record contents.
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	marshaled, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(details)
	if err != nil {
		return b
	}
	b.err = errors.WithSafeDetails(b.err, detailsPrefix+"%s", errors.Safe(string(marshaled)))
	return b
}

// Mark marks the error with a sentinel error
// should be the last call in the chain
func (b *ErrorBuilder) Mark(reference error) error {
	b.err = errors.Mark(b.err, reference)
	return b.err
}

// ReportableDetails merges every detail set attached along the chain. The
// outermost value wins on a repeated key.
func ReportableDetails(err error) map[string]any {
	out := make(map[string]any)
	payloads := errors.GetAllSafeDetails(err)
	for i := len(payloads) - 1; i >= 0; i-- {
		for _, detail := range payloads[i].SafeDetails {
			raw, ok := strings.CutPrefix(detail, detailsPrefix)
			if !ok {
				continue
			}
			var details map[string]any
			if jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &details) != nil {
				continue
			}
			for k, v := range details {
				out[k] = v
			}
		}
	}
	return out
}
