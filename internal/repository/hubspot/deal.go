package hubspot

import (
	"context"

	domainDeal "github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/types"
	"github.com/samber/lo"
)

type dealRepository struct {
	client hubspot.HubSpotClient
	log    *logger.Logger
}

func NewDealRepository(client hubspot.HubSpotClient, log *logger.Logger) domainDeal.Repository {
	return &dealRepository{
		client: client,
		log:    log,
	}
}

func (r *dealRepository) Get(ctx context.Context, id string) (*domainDeal.Deal, error) {
	r.log.Debugw("getting deal", "deal_id", id)

	obj, err := r.client.GetObject(ctx, hubspot.ObjectTypeDeal, id, domainDeal.Properties)
	if err != nil {
		return nil, err
	}
	return domainDeal.FromProperties(obj.ID, obj.Properties), nil
}

func (r *dealRepository) ListIDs(ctx context.Context, pipeline string) ([]string, error) {
	filters := []hubspot.Filter{
		{PropertyName: domainDeal.PropertyActive, Operator: hubspot.OperatorEQ, Value: types.FormatBool(true)},
	}
	if pipeline != "" {
		filters = append(filters, hubspot.Filter{PropertyName: domainDeal.PropertyPipeline, Operator: hubspot.OperatorEQ, Value: pipeline})
	}

	objs, err := r.client.SearchAll(ctx, hubspot.ObjectTypeDeal, hubspot.SearchRequest{
		FilterGroups: []hubspot.FilterGroup{{Filters: filters}},
		Sorts:        []hubspot.Sort{{PropertyName: "hs_object_id", Direction: "ASCENDING"}},
		Properties:   []string{domainDeal.PropertyPipeline},
	})
	if err != nil {
		return nil, err
	}

	ids := lo.Uniq(lo.Map(objs, func(o hubspot.Object, _ int) string { return o.ID }))
	r.log.Debugw("listed billable deals", "pipeline", pipeline, "count", len(ids))
	return ids, nil
}

func (r *dealRepository) UpdateSummary(ctx context.Context, id string, summary domainDeal.Summary) error {
	r.log.Debugw("updating deal billing summary",
		"deal_id", id,
		"next_date", types.FormatDatePtr(summary.NextDate),
		"last_date", types.FormatDatePtr(summary.LastDate))

	return r.client.UpdateObject(ctx, hubspot.ObjectTypeDeal, id, summary.ToProperties())
}
