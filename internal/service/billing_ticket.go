package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/idempotency"
	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/types"
)

// ReconcileInput is what both ticket reconcilers need to know about a deal
type ReconcileInput struct {
	Deal    *deal.Deal
	Lines   []*LinePlan
	Tickets []*ticket.Ticket
	Today   time.Time
	DryRun  bool
}

// BillingTicketService keeps the billing tickets of a deal in line with the
// billing events falling inside the horizon
type BillingTicketService interface {
	Reconcile(ctx context.Context, in ReconcileInput) *ReconcileResult
}

type billingTicketService struct {
	ServiceParams
}

func NewBillingTicketService(params ServiceParams) BillingTicketService {
	return &billingTicketService{
		ServiceParams: params,
	}
}

type desiredTicket struct {
	plan  *LinePlan
	date  time.Time
	stage string
}

func (s *billingTicketService) Reconcile(ctx context.Context, in ReconcileInput) *ReconcileResult {
	ops, result := s.plan(in)
	executor := &ticketExecutor{
		repo:   s.TicketRepo,
		logger: s.Logger.With("deal_id", in.Deal.ID, "reconciler", "billing"),
	}
	executor.execute(ctx, ops, result, in.DryRun)
	return result
}

func (s *billingTicketService) plan(in ReconcileInput) ([]Operation, *ReconcileResult) {
	result := newReconcileResult()
	today := types.TruncateToDate(in.Today)
	horizonEnd := today.AddDate(0, 0, s.Config.Billing.HorizonDays)

	stages := s.Config.Billing.Stages
	entryStages := stringSet(stages.Manual, stages.Automatic)
	forecastStages := forecastStageSet(s.Config.Forecast)

	// tickets sitting in a forecast stage belong to the forecast reconciler
	idx := indexTickets(in.Tickets, func(t *ticket.Ticket) bool {
		_, forecast := forecastStages[t.Stage]
		return !forecast
	})
	result.skip(len(idx.unkeyable))

	scope := newLineScope(in.Lines)
	halted := in.Deal.IsHalted()

	desired := make(map[string]desiredTicket)
	for _, p := range in.Lines {
		if !p.Keyed() || p.Excluded || halted || p.Line.Paused {
			continue
		}
		stage := stages.Manual
		if in.Deal.AutoInvoice || p.Line.AutoInvoice {
			stage = stages.Automatic
		}
		for _, d := range schedule.Window(p.Billing.Dates, today, horizonEnd) {
			key, err := idempotency.BuildKeyForDate(in.Deal.ID, p.Line.Key, d)
			if err != nil {
				result.fail(p.Line.ID, "", OperationCreate, err)
				continue
			}
			if key == p.InvoicedKey {
				result.skip(1)
				continue
			}
			desired[key] = desiredTicket{plan: p, date: d, stage: stage}
		}
	}

	desiredKeys := make([]string, 0, len(desired))
	for key := range desired {
		desiredKeys = append(desiredKeys, key)
	}
	sort.Strings(desiredKeys)

	var ops []Operation
	isEntry := func(it *indexedTicket) bool {
		_, ok := entryStages[it.Stage]
		return ok
	}

	for _, key := range desiredKeys {
		want := desired[key]
		group := idx.byKey[key]
		if len(group) == 0 {
			ops = append(ops, s.createOp(in.Deal, want, key))
			continue
		}

		keep := group[0]
		if isEntry(keep) {
			if props := keep.drift(want.date, want.stage); len(props) > 0 {
				ops = append(ops, updateOp(keep, want.plan.Line.ID, props, ReasonDrift))
			}
		} else {
			result.skip(1)
		}
		ops = append(ops, duplicateDeletes(group[1:], want.plan.Line.ID, isEntry, result)...)
	}

	for _, key := range idx.keys {
		if _, ok := desired[key]; ok {
			continue
		}
		for i, it := range idx.byKey[key] {
			if !isEntry(it) {
				result.skip(1)
				continue
			}
			if it.parsed.DealID != in.Deal.ID {
				s.Logger.Warnw("ticket key belongs to another deal, leaving it untouched",
					"deal_id", in.Deal.ID,
					"ticket_id", it.ID,
					"key", it.key)
				result.skip(1)
				continue
			}

			plan, held := scope.owner(it)
			switch {
			case plan == nil && held:
				result.skip(1)
			case plan == nil:
				ops = append(ops, deleteOp(it, it.LineItemID, ReasonOrphan))
			case key == plan.InvoicedKey:
				result.skip(1)
			case (halted || plan.Line.Paused) && !it.ticketDate().Before(today):
				ops = append(ops, deleteOp(it, plan.Line.ID, ReasonPaused))
			case i > 0:
				ops = append(ops, deleteOp(it, plan.Line.ID, ReasonDuplicate))
			}
		}
	}

	return ops, result
}

func (s *billingTicketService) createOp(d *deal.Deal, want desiredTicket, key string) Operation {
	line := want.plan.Line
	ymd := types.FormatDateISO(want.date)
	t := &ticket.Ticket{
		Key:        key,
		Date:       want.date,
		Pipeline:   s.Config.HubSpot.TicketPipeline,
		Stage:      want.stage,
		DealID:     d.ID,
		LineItemID: line.ID,
		LineKey:    line.Key,
		Amount:     line.Amount(),
		Subject:    ticketSubject(d, line.Name, ymd),
	}
	return Operation{
		Type:       OperationCreate,
		Key:        key,
		LineItemID: line.ID,
		Date:       ymd,
		Stage:      want.stage,
		Reason:     ReasonMissing,
		Ticket:     t,
	}
}

func ticketSubject(d *deal.Deal, lineName, ymd string) string {
	name := d.Name
	if name == "" {
		name = "Deal " + d.ID
	}
	if lineName == "" {
		return fmt.Sprintf("%s - %s", name, ymd)
	}
	return fmt.Sprintf("%s - %s - %s", name, lineName, ymd)
}

func updateOp(it *indexedTicket, lineItemID string, props map[string]string, reason string) Operation {
	op := Operation{
		Type:       OperationUpdate,
		Key:        it.key,
		TicketID:   it.ID,
		LineItemID: lineItemID,
		Date:       it.parsed.YMD,
		Stage:      it.Stage,
		Reason:     reason,
		Properties: props,
	}
	if stage, ok := props[ticket.PropertyStage]; ok {
		op.Stage = stage
	}
	return op
}

func deleteOp(it *indexedTicket, lineItemID, reason string) Operation {
	return Operation{
		Type:       OperationDelete,
		Key:        it.key,
		TicketID:   it.ID,
		LineItemID: lineItemID,
		Date:       it.parsed.YMD,
		Stage:      it.Stage,
		Reason:     reason,
	}
}

// duplicateDeletes removes the mutable extras of a key; the lowest id is kept
func duplicateDeletes(extras []*indexedTicket, lineItemID string, mutable func(*indexedTicket) bool, result *ReconcileResult) []Operation {
	var ops []Operation
	for _, it := range extras {
		if !mutable(it) {
			result.skip(1)
			continue
		}
		ops = append(ops, deleteOp(it, lineItemID, ReasonDuplicate))
	}
	return ops
}
