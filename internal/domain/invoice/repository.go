package invoice

import (
	"context"
)

// Repository defines the CRM operations on invoices
type Repository interface {
	// Get retrieves an invoice by ID. A missing invoice is an ierr.ErrNotFound error.
	Get(ctx context.Context, id string) (*Invoice, error)
}
