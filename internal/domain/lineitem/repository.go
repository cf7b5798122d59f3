package lineitem

import (
	"context"
)

// Repository defines the CRM operations on line items
type Repository interface {
	// ListByDeal returns the line items associated with a deal
	ListByDeal(ctx context.Context, dealID string) ([]*LineItem, error)

	// Update applies a partial update to one line item
	Update(ctx context.Context, id string, patch Patch) error
}
