package service

import (
	"context"
	"strings"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/idempotency"
)

// GuardReason explains why an invoice reference was rejected
type GuardReason string

const (
	GuardReasonNone              GuardReason = ""
	GuardReasonNoInvoiceID       GuardReason = "no_invoice_id"
	GuardReasonInheritedMismatch GuardReason = "invoice_id_inherited_or_mismatch"
	GuardReasonNotFound          GuardReason = "invoice_not_found"
	GuardReasonValidationError   GuardReason = "validation_error"
)

// GuardResult is the outcome of validating a line's invoice reference
type GuardResult struct {
	Valid       bool        `json:"valid"`
	Reason      GuardReason `json:"reason,omitempty"`
	ExpectedKey string      `json:"expected_key,omitempty"`
	FoundKey    string      `json:"found_key,omitempty"`
}

// ShouldClear reports whether the line's invoice fields must be cleared.
// A validation error leaves them in place; the period simply counts as not invoiced.
func (r GuardResult) ShouldClear() bool {
	return r.Reason == GuardReasonInheritedMismatch || r.Reason == GuardReasonNotFound
}

// InvoiceGuardService decides whether an invoice reference stored on a line really
// belongs to that line, so cloned deals do not inherit the source's invoices.
type InvoiceGuardService interface {
	Validate(ctx context.Context, dealID, lineKey, invoiceID, periodYMD string) GuardResult
}

type invoiceGuardService struct {
	ServiceParams
}

func NewInvoiceGuardService(params ServiceParams) InvoiceGuardService {
	return &invoiceGuardService{
		ServiceParams: params,
	}
}

// Validate fails closed: anything other than an exact key match is invalid
func (s *invoiceGuardService) Validate(ctx context.Context, dealID, lineKey, invoiceID, periodYMD string) GuardResult {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return GuardResult{Reason: GuardReasonNoInvoiceID}
	}

	expected, err := idempotency.BuildKey(dealID, lineKey, periodYMD)
	if err != nil {
		s.Logger.Warnw("cannot build expected invoice key",
			"deal_id", dealID,
			"line_key", lineKey,
			"invoice_id", invoiceID,
			"error", err)
		return GuardResult{Reason: GuardReasonValidationError}
	}

	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return GuardResult{Reason: GuardReasonNotFound, ExpectedKey: expected}
		}
		s.Logger.Warnw("failed to read invoice",
			"deal_id", dealID,
			"invoice_id", invoiceID,
			"error", err)
		return GuardResult{Reason: GuardReasonValidationError, ExpectedKey: expected}
	}

	found := idempotency.Canonicalize(inv.Key)
	if found == "" || found != expected {
		return GuardResult{
			Reason:      GuardReasonInheritedMismatch,
			ExpectedKey: expected,
			FoundKey:    inv.Key,
		}
	}

	return GuardResult{Valid: true, ExpectedKey: expected, FoundKey: found}
}
