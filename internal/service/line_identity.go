package service

import (
	"context"

	"github.com/flexprice/billsync/internal/domain/lineitem"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/idempotency"
)

// IdentityAction is what happened to a line's identity key
type IdentityAction string

const (
	IdentityKept    IdentityAction = "kept"
	IdentityIssued  IdentityAction = "issued"
	IdentityRekeyed IdentityAction = "rekeyed"
)

// IdentityResult describes the identity of a line after EnsureKey
type IdentityResult struct {
	Action      IdentityAction `json:"action"`
	Key         string         `json:"key"`
	PreviousKey string         `json:"previous_key,omitempty"`
}

// LineIdentityService issues and checks line identity keys. A key embeds the deal
// and line item it was issued for, so a line copied by a deal clone is detected
// and re-keyed instead of sharing billing history with its source.
type LineIdentityService interface {
	EnsureKey(ctx context.Context, line *lineitem.LineItem, dryRun bool) (IdentityResult, error)
}

type lineIdentityService struct {
	ServiceParams
}

func NewLineIdentityService(params ServiceParams) LineIdentityService {
	return &lineIdentityService{
		ServiceParams: params,
	}
}

// EnsureKey settles the identity of the line and updates it in place. When the key
// cannot be persisted the line is left unchanged and an error is returned.
func (s *lineIdentityService) EnsureKey(ctx context.Context, line *lineitem.LineItem, dryRun bool) (IdentityResult, error) {
	if line.Key != "" {
		owned, ownerKnown := idempotency.LineKeyOwnedBy(line.Key, line.DealID, line.ID)
		if !ownerKnown || owned {
			return IdentityResult{Action: IdentityKept, Key: line.Key}, nil
		}
	}

	result := IdentityResult{
		Action:      IdentityIssued,
		Key:         idempotency.GenerateLineKey(line.DealID, line.ID),
		PreviousKey: line.Key,
	}
	patch := lineitem.Patch{lineitem.PropertyKey: result.Key}

	if line.Key != "" {
		// copied from another deal: the invoice reference belongs to the source
		result.Action = IdentityRekeyed
		patch.ClearInvoice()
	}

	if !dryRun {
		if err := s.LineItemRepo.Update(ctx, line.ID, patch); err != nil {
			return IdentityResult{}, ierr.WithError(err).
				WithHintf("could not store line identity key on line item %s", line.ID).
				Mark(ierr.ErrInternal)
		}
	}

	s.Logger.Infow("line identity key assigned",
		"deal_id", line.DealID,
		"line_item_id", line.ID,
		"action", result.Action,
		"key", result.Key,
		"previous_key", result.PreviousKey,
		"dry_run", dryRun)

	line.Key = result.Key
	if result.Action == IdentityRekeyed {
		line.InvoiceID = ""
		line.InvoicePeriod = ""
	}
	return result, nil
}
