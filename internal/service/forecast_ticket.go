package service

import (
	"context"
	"sort"

	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/idempotency"
	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/types"
)

// ForecastTicketService maintains the forecast tickets of a deal: one ticket per
// future billing event, in a stage that depends on how far the deal has progressed.
// It never touches a ticket outside the forecast stages.
type ForecastTicketService interface {
	Reconcile(ctx context.Context, in ReconcileInput) *ReconcileResult
}

type forecastTicketService struct {
	ServiceParams
}

func NewForecastTicketService(params ServiceParams) ForecastTicketService {
	return &forecastTicketService{
		ServiceParams: params,
	}
}

// forecastStageSet returns every stage configured for forecasting
func forecastStageSet(cfg config.ForecastConfig) map[string]struct{} {
	var stages []string
	for _, s := range cfg.Stages {
		stages = append(stages, s.Manual, s.Automatic)
	}
	return stringSet(stages...)
}

// forecastStages resolves the stage pair for a deal stage. ok is false when the
// deal stage is not mapped to a bucket.
func forecastStages(cfg config.ForecastConfig, dealStage string) (config.ForecastStages, bool) {
	bucket, ok := cfg.DealStageBuckets[dealStage]
	if !ok || bucket == "" {
		return config.ForecastStages{}, false
	}
	stages, ok := cfg.Stages[bucket]
	return stages, ok
}

func (s *forecastTicketService) Reconcile(ctx context.Context, in ReconcileInput) *ReconcileResult {
	if !s.Config.Forecast.Enabled {
		return newReconcileResult()
	}
	ops, result := s.plan(in)
	executor := &ticketExecutor{
		repo:   s.TicketRepo,
		logger: s.Logger.With("deal_id", in.Deal.ID, "reconciler", "forecast"),
	}
	executor.execute(ctx, ops, result, in.DryRun)
	return result
}

func (s *forecastTicketService) plan(in ReconcileInput) ([]Operation, *ReconcileResult) {
	result := newReconcileResult()
	stageSet := forecastStageSet(s.Config.Forecast)

	isForecast := func(t *ticket.Ticket) bool {
		_, ok := stageSet[t.Stage]
		return ok
	}
	owned := indexTickets(in.Tickets, isForecast)
	protected := indexTickets(in.Tickets, func(t *ticket.Ticket) bool { return !isForecast(t) })
	result.skip(len(owned.unkeyable))

	desired := s.desired(in, result)

	desiredKeys := make([]string, 0, len(desired))
	for key := range desired {
		desiredKeys = append(desiredKeys, key)
	}
	sort.Strings(desiredKeys)

	all := func(*indexedTicket) bool { return true }
	var ops []Operation

	for _, key := range desiredKeys {
		want := desired[key]
		group := owned.byKey[key]

		// a billing ticket already holds the slot
		if _, taken := protected.byKey[key]; taken {
			result.skip(1)
			for _, it := range group {
				ops = append(ops, deleteOp(it, want.plan.Line.ID, ReasonProtected))
			}
			continue
		}

		if len(group) == 0 {
			ops = append(ops, s.createOp(in.Deal, want, key))
			continue
		}
		if props := group[0].drift(want.date, want.stage); len(props) > 0 {
			ops = append(ops, updateOp(group[0], want.plan.Line.ID, props, ReasonDrift))
		}
		ops = append(ops, duplicateDeletes(group[1:], want.plan.Line.ID, all, result)...)
	}

	scope := newLineScope(in.Lines)
	for _, key := range owned.keys {
		if _, ok := desired[key]; ok {
			continue
		}
		for _, it := range owned.byKey[key] {
			if it.parsed.DealID != in.Deal.ID {
				result.skip(1)
				continue
			}
			plan, held := scope.owner(it)
			if plan == nil && held {
				result.skip(1)
				continue
			}
			lineItemID := it.LineItemID
			if plan != nil {
				lineItemID = plan.Line.ID
			}
			reason := ReasonUndesired
			if _, taken := protected.byKey[key]; taken {
				reason = ReasonProtected
			}
			ops = append(ops, deleteOp(it, lineItemID, reason))
		}
	}

	return ops, result
}

// desired returns the forecast events of the deal keyed by idempotency key.
// Unmapped deal stages, halted deals and paused lines forecast nothing.
func (s *forecastTicketService) desired(in ReconcileInput, result *ReconcileResult) map[string]desiredTicket {
	desired := make(map[string]desiredTicket)
	stages, ok := forecastStages(s.Config.Forecast, in.Deal.Stage)
	if !ok || in.Deal.IsHalted() {
		return desired
	}

	from := types.TruncateToDate(in.Today)
	for _, p := range in.Lines {
		if !p.Keyed() || p.Excluded || p.Line.Paused {
			continue
		}
		stage := stages.Manual
		if in.Deal.AutoInvoice || p.Line.AutoInvoice {
			stage = stages.Automatic
		}
		if stage == "" {
			continue
		}
		for _, d := range schedule.OnOrAfter(p.Forecast.Dates, from) {
			key, err := idempotency.BuildKeyForDate(in.Deal.ID, p.Line.Key, d)
			if err != nil {
				result.fail(p.Line.ID, "", OperationCreate, err)
				continue
			}
			if key == p.InvoicedKey {
				continue
			}
			desired[key] = desiredTicket{plan: p, date: d, stage: stage}
		}
	}
	return desired
}

func (s *forecastTicketService) createOp(d *deal.Deal, want desiredTicket, key string) Operation {
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
		Subject:    "Forecast: " + ticketSubject(d, line.Name, ymd),
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
