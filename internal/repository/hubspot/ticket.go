package hubspot

import (
	"context"
	"sort"

	domainTicket "github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/samber/lo"
)

type ticketRepository struct {
	client hubspot.HubSpotClient
	log    *logger.Logger
}

func NewTicketRepository(client hubspot.HubSpotClient, log *logger.Logger) domainTicket.Repository {
	return &ticketRepository{
		client: client,
		log:    log,
	}
}

// ListByDeal merges tickets stamped with the deal id and tickets only associated
// with the deal. The latter covers tickets created before the stamp existed.
func (r *ticketRepository) ListByDeal(ctx context.Context, dealID string) ([]*domainTicket.Ticket, error) {
	stamped, err := r.client.SearchAll(ctx, hubspot.ObjectTypeTicket, hubspot.SearchRequest{
		FilterGroups: []hubspot.FilterGroup{{Filters: []hubspot.Filter{
			{PropertyName: domainTicket.PropertyDealID, Operator: hubspot.OperatorEQ, Value: dealID},
		}}},
		Properties: domainTicket.Properties,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]hubspot.Object, len(stamped))
	for _, o := range stamped {
		byID[o.ID] = o
	}

	associated, err := r.client.ListAssociations(ctx, hubspot.ObjectTypeDeal, dealID, hubspot.ObjectTypeTicket)
	if err != nil {
		return nil, err
	}
	missing := lo.Filter(associated, func(id string, _ int) bool {
		_, ok := byID[id]
		return !ok
	})
	if len(missing) > 0 {
		objs, err := r.client.BatchRead(ctx, hubspot.ObjectTypeTicket, missing, domainTicket.Properties)
		if err != nil {
			return nil, err
		}
		for _, o := range objs {
			byID[o.ID] = o
		}
	}

	tickets := make([]*domainTicket.Ticket, 0, len(byID))
	for _, o := range byID {
		t := domainTicket.FromProperties(o.ID, o.Properties)
		if t.DealID == "" {
			t.DealID = dealID
		}
		tickets = append(tickets, t)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })

	r.log.Debugw("listed deal tickets",
		"deal_id", dealID,
		"count", len(tickets),
		"associated_only", len(missing))
	return tickets, nil
}

func (r *ticketRepository) Create(ctx context.Context, tickets []*domainTicket.Ticket) ([]*domainTicket.Ticket, error) {
	inputs := make([]hubspot.CreateInput, 0, len(tickets))
	for _, t := range tickets {
		inputs = append(inputs, hubspot.CreateInput{
			Properties: t.ToProperties(),
			Associations: []hubspot.AssociationInput{{
				To: hubspot.ObjectID{ID: t.DealID},
				Types: []hubspot.AssociationSpec{{
					AssociationCategory: hubspot.AssociationCategoryHubSpotDefined,
					AssociationTypeID:   hubspot.AssociationTypeTicketToDeal,
				}},
			}},
		})
	}

	objs, err := r.client.BatchCreate(ctx, hubspot.ObjectTypeTicket, inputs)
	created := make([]*domainTicket.Ticket, 0, len(objs))
	for _, o := range objs {
		created = append(created, domainTicket.FromProperties(o.ID, o.Properties))
	}
	return created, err
}

func (r *ticketRepository) Update(ctx context.Context, updates []domainTicket.Update) error {
	inputs := lo.Map(updates, func(u domainTicket.Update, _ int) hubspot.UpdateInput {
		return hubspot.UpdateInput{ID: u.ID, Properties: u.Properties}
	})
	_, err := r.client.BatchUpdate(ctx, hubspot.ObjectTypeTicket, inputs)
	return err
}

func (r *ticketRepository) Archive(ctx context.Context, ids []string) error {
	return r.client.BatchArchive(ctx, hubspot.ObjectTypeTicket, ids)
}
