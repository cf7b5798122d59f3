package ticket

import (
	"context"
)

// Repository defines the CRM operations on tickets
type Repository interface {
	// ListByDeal returns every ticket of a deal, billing and forecast alike
	ListByDeal(ctx context.Context, dealID string) ([]*Ticket, error)

	// Create creates tickets associated with their deal and returns them with ids.
	// On a partial failure the created tickets are returned together with the error.
	Create(ctx context.Context, tickets []*Ticket) ([]*Ticket, error)

	// Update applies partial updates
	Update(ctx context.Context, updates []Update) error

	// Archive archives tickets by id
	Archive(ctx context.Context, ids []string) error
}
