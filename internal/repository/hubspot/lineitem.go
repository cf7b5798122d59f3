package hubspot

import (
	"context"
	"sort"

	domainLineItem "github.com/flexprice/billsync/internal/domain/lineitem"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
)

type lineItemRepository struct {
	client hubspot.HubSpotClient
	log    *logger.Logger
}

func NewLineItemRepository(client hubspot.HubSpotClient, log *logger.Logger) domainLineItem.Repository {
	return &lineItemRepository{
		client: client,
		log:    log,
	}
}

func (r *lineItemRepository) ListByDeal(ctx context.Context, dealID string) ([]*domainLineItem.LineItem, error) {
	ids, err := r.client.ListAssociations(ctx, hubspot.ObjectTypeDeal, dealID, hubspot.ObjectTypeLineItem)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	objs, err := r.client.BatchRead(ctx, hubspot.ObjectTypeLineItem, ids, domainLineItem.Properties)
	if err != nil {
		return nil, err
	}

	items := make([]*domainLineItem.LineItem, 0, len(objs))
	for _, o := range objs {
		items = append(items, domainLineItem.FromProperties(o.ID, dealID, o.Properties))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	r.log.Debugw("listed deal line items", "deal_id", dealID, "count", len(items))
	return items, nil
}

func (r *lineItemRepository) Update(ctx context.Context, id string, patch domainLineItem.Patch) error {
	if len(patch) == 0 {
		return nil
	}
	return r.client.UpdateObject(ctx, hubspot.ObjectTypeLineItem, id, patch)
}
