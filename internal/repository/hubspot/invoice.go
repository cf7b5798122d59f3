package hubspot

import (
	"context"
	"strings"

	domainInvoice "github.com/flexprice/billsync/internal/domain/invoice"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
)

type invoiceRepository struct {
	client hubspot.HubSpotClient
	log    *logger.Logger
}

func NewInvoiceRepository(client hubspot.HubSpotClient, log *logger.Logger) domainInvoice.Repository {
	return &invoiceRepository{
		client: client,
		log:    log,
	}
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*domainInvoice.Invoice, error) {
	obj, err := r.client.GetObject(ctx, hubspot.ObjectTypeInvoice, id, []string{domainInvoice.PropertyKey})
	if err != nil {
		return nil, err
	}
	return &domainInvoice.Invoice{
		ID:  obj.ID,
		Key: strings.TrimSpace(obj.Get(domainInvoice.PropertyKey)),
	}, nil
}
