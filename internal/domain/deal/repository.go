package deal

import (
	"context"
)

// Repository defines the CRM operations on deals
type Repository interface {
	// Get retrieves a deal by ID
	Get(ctx context.Context, id string) (*Deal, error)

	// ListIDs returns the ids of every deal in the given pipeline that has billing enabled
	ListIDs(ctx context.Context, pipeline string) ([]string, error)

	// UpdateSummary writes the contract level billing summary
	UpdateSummary(ctx context.Context, id string, summary Summary) error
}
