package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/lineitem"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/sentry"
	"github.com/flexprice/billsync/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/panics"
)

// Operator facing notices written to billing_error
const (
	noticeStartDefaulted = "start date missing; schedule computed from today"
)

// SyncOptions controls one sync run
type SyncOptions struct {
	// DryRun computes and reports the plan without writing anything
	DryRun bool
	// Today overrides the current date, mostly for backfills and tests
	Today time.Time
	// RunID correlates the log lines of one run; generated when empty
	RunID string
}

// LineSyncResult is the outcome of one line of a deal
type LineSyncResult struct {
	LineItemID  string               `json:"line_item_id"`
	Name        string               `json:"name,omitempty"`
	LineKey     string               `json:"line_key,omitempty"`
	Identity    IdentityAction       `json:"identity,omitempty"`
	Frequency   string               `json:"frequency"`
	StartSource schedule.StartSource `json:"start_source"`
	StartDate   string               `json:"start_date,omitempty"`
	Total       int                  `json:"total"`
	Emitted     int                  `json:"emitted"`
	Remaining   int                  `json:"remaining"`
	NextDate    string               `json:"next_date,omitempty"`
	LastDate    string               `json:"last_date,omitempty"`
	Guard       *GuardResult         `json:"guard,omitempty"`
	Excluded    bool                 `json:"excluded,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
}

// DealSyncResult is the outcome of syncing one deal
type DealSyncResult struct {
	RunID            string           `json:"run_id"`
	DealID           string           `json:"deal_id"`
	DryRun           bool             `json:"dry_run"`
	Today            string           `json:"today"`
	BillingSkipped   bool             `json:"billing_skipped,omitempty"`
	Lines            []LineSyncResult `json:"lines"`
	Billing          *ReconcileResult `json:"billing,omitempty"`
	Forecast         *ReconcileResult `json:"forecast,omitempty"`
	NextDate         string           `json:"next_date,omitempty"`
	LastDate         string           `json:"last_date,omitempty"`
	FrequencySummary string           `json:"frequency_summary,omitempty"`
	Errors           []string         `json:"errors,omitempty"`
}

// HasErrors reports whether any line or write of the deal failed
func (r *DealSyncResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// DealFailure is a deal the batch could not sync
type DealFailure struct {
	DealID string `json:"deal_id"`
	Error  string `json:"error"`
}

// BatchSummary is the outcome of a SyncAll run
type BatchSummary struct {
	RunID      string        `json:"run_id"`
	DryRun     bool          `json:"dry_run"`
	Today      string        `json:"today"`
	Deals      int           `json:"deals"`
	Succeeded  int           `json:"succeeded"`
	WithErrors int           `json:"with_errors"`
	Failed     int           `json:"failed"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Deleted    int           `json:"deleted"`
	Failures   []DealFailure `json:"failures,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (b *BatchSummary) add(r *DealSyncResult) {
	for _, rr := range []*ReconcileResult{r.Billing, r.Forecast} {
		if rr == nil {
			continue
		}
		b.Created += rr.Created
		b.Updated += rr.Updated
		b.Deleted += rr.Deleted
	}
}

// ContractSyncService runs the whole pipeline for deals: line identity, schedule,
// invoice guard, billing and forecast tickets, and the write-back of counters.
type ContractSyncService interface {
	// SyncDeal syncs one deal. Line level failures are reported in the result;
	// an error means the deal could not be processed at all.
	SyncDeal(ctx context.Context, dealID string, opts SyncOptions) (*DealSyncResult, error)

	// SyncAll syncs every eligible deal. A failing deal never aborts the batch.
	SyncAll(ctx context.Context, opts SyncOptions) (*BatchSummary, error)
}

type contractSyncService struct {
	ServiceParams
	identity  LineIdentityService
	schedules LineScheduleService
	guard     InvoiceGuardService
	billing   BillingTicketService
	forecast  ForecastTicketService
}

func NewContractSyncService(params ServiceParams) ContractSyncService {
	return &contractSyncService{
		ServiceParams: params,
		identity:      NewLineIdentityService(params),
		schedules:     NewLineScheduleService(params),
		guard:         NewInvoiceGuardService(params),
		billing:       NewBillingTicketService(params),
		forecast:      NewForecastTicketService(params),
	}
}

func (s *contractSyncService) normalize(opts SyncOptions) SyncOptions {
	if opts.Today.IsZero() {
		opts.Today = time.Now().UTC()
	}
	opts.Today = types.TruncateToDate(opts.Today)
	if opts.RunID == "" {
		opts.RunID = types.GenerateRunID()
	}
	return opts
}

func (s *contractSyncService) SyncDeal(ctx context.Context, dealID string, opts SyncOptions) (*DealSyncResult, error) {
	opts = s.normalize(opts)
	ctx = types.SetRunID(ctx, opts.RunID)
	started := time.Now()
	log := s.Logger.With("run_id", opts.RunID, "deal_id", dealID)

	span, ctx := s.Sentry.StartDealSpan(ctx, dealID)
	defer sentry.Finish(span)

	result, err := s.syncDeal(ctx, dealID, opts, log)
	s.Metrics.RecordDeal(err != nil, time.Since(started))
	if err != nil {
		log.Errorw("deal sync failed", "error", err)
		return nil, err
	}

	s.recordTicketMetrics(result, opts.DryRun)
	log.Infow("deal synced",
		"dry_run", opts.DryRun,
		"lines", len(result.Lines),
		"billing_skipped", result.BillingSkipped,
		"errors", len(result.Errors),
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

func (s *contractSyncService) syncDeal(ctx context.Context, dealID string, opts SyncOptions, log *logger.Logger) (*DealSyncResult, error) {
	d, err := s.DealRepo.Get(ctx, dealID)
	if err != nil {
		mark := ierr.ErrInternal
		if ierr.IsNotFound(err) {
			mark = ierr.ErrNotFound
		}
		return nil, ierr.WithError(err).
			WithHintf("could not load deal %s", dealID).
			Mark(mark)
	}

	lines, err := s.LineItemRepo.ListByDeal(ctx, d.ID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("could not load line items of deal %s", d.ID).
			Mark(ierr.ErrInternal)
	}

	result := &DealSyncResult{
		RunID:  opts.RunID,
		DealID: d.ID,
		DryRun: opts.DryRun,
		Today:  types.FormatDateISO(opts.Today),
		Lines:  make([]LineSyncResult, 0, len(lines)),
	}

	plans := make([]*LinePlan, 0, len(lines))
	for _, line := range lines {
		if line.DealID == "" {
			line.DealID = d.ID
		}
		plan, lr := s.prepareLine(ctx, d, line, opts, log)
		plans = append(plans, plan)
		result.Lines = append(result.Lines, lr)
	}

	tickets, err := s.TicketRepo.ListByDeal(ctx, d.ID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("could not load tickets of deal %s", d.ID).
			Mark(ierr.ErrInternal)
	}

	in := ReconcileInput{
		Deal:    d,
		Lines:   plans,
		Tickets: tickets,
		Today:   opts.Today,
		DryRun:  opts.DryRun,
	}
	// a halted deal still runs so its future tickets are removed even when billing is off
	if d.Active || d.IsHalted() {
		result.Billing = s.billing.Reconcile(ctx, in)
		in.Tickets = result.Billing.Apply(tickets)
	} else {
		result.BillingSkipped = true
		log.Infow("billing not active on deal, skipping billing tickets")
	}
	result.Forecast = s.forecast.Reconcile(ctx, in)

	for _, rr := range []*ReconcileResult{result.Billing, result.Forecast} {
		byLine := rr.ErrorsByLine()
		for i := range result.Lines {
			result.Lines[i].Errors = append(result.Lines[i].Errors, byLine[result.Lines[i].LineItemID]...)
		}
		result.Errors = append(result.Errors, byLine[""]...)
	}

	now := time.Now().UTC()
	for i, plan := range plans {
		lr := &result.Lines[i]
		if !opts.DryRun {
			patch := lineitem.CounterPatch(plan.Billing.Counters, strings.Join(lr.Errors, "; "), now)
			if err := s.LineItemRepo.Update(ctx, plan.Line.ID, patch); err != nil {
				log.Errorw("failed to write line counters", "line_item_id", plan.Line.ID, "error", err)
				lr.Errors = append(lr.Errors, errorMessage(err))
			}
		}
		for _, msg := range lr.Errors {
			if msg == noticeStartDefaulted {
				continue
			}
			result.Errors = append(result.Errors, fmt.Sprintf("line %s: %s", lr.LineItemID, msg))
		}
	}

	summary := s.summarize(plans, opts.Today)
	summary.Error = strings.Join(result.Errors, "; ")
	summary.SyncedAt = now
	result.NextDate = types.FormatDatePtr(summary.NextDate)
	result.LastDate = types.FormatDatePtr(summary.LastDate)
	result.FrequencySummary = summary.FrequencySummary

	if opts.DryRun {
		log.Debugw("dry run plan", "result", result)
		return result, nil
	}
	if err := s.DealRepo.UpdateSummary(ctx, d.ID, summary); err != nil {
		log.Errorw("failed to write deal summary", "error", err)
		result.Errors = append(result.Errors, errorMessage(err))
	}
	return result, nil
}

// prepareLine settles identity and start configuration, validates the invoice
// reference and builds the schedules of one line. Failures are recorded on the
// line result and never stop the other lines.
func (s *contractSyncService) prepareLine(ctx context.Context, d *deal.Deal, line *lineitem.LineItem, opts SyncOptions, log *logger.Logger) (*LinePlan, LineSyncResult) {
	log = log.With("line_item_id", line.ID)
	plan := &LinePlan{Line: line}
	lr := LineSyncResult{LineItemID: line.ID, Name: line.Name}

	identity, err := s.identity.EnsureKey(ctx, line, opts.DryRun)
	if err != nil {
		log.Errorw("failed to settle line identity", "error", err)
		lr.Errors = append(lr.Errors, errorMessage(err))
		plan.Excluded = true
		plan.ExcludeReason = "identity"
	}
	lr.Identity = identity.Action
	lr.LineKey = line.Key

	if resolved, err := s.schedules.ResolveStartDelay(ctx, line, opts.Today, opts.DryRun); err != nil {
		log.Errorw("failed to resolve start delay", "error", err)
		lr.Errors = append(lr.Errors, errorMessage(err))
		if !resolved && !plan.Excluded {
			// the delay is still on the line and would move the start with today on every run
			plan.Excluded = true
			plan.ExcludeReason = "start_delay"
		}
	}
	if _, err := s.schedules.AnchorIrregular(ctx, line, opts.DryRun); err != nil {
		log.Errorw("failed to anchor irregular line", "error", err)
		lr.Errors = append(lr.Errors, errorMessage(err))
	}

	if line.InvoiceID != "" && !plan.Excluded {
		guard := s.guard.Validate(ctx, d.ID, line.Key, line.InvoiceID, line.InvoicePeriod)
		lr.Guard = &guard
		switch {
		case guard.Valid:
			plan.InvoicedKey = guard.ExpectedKey
		case guard.ShouldClear():
			log.Warnw("invoice reference does not belong to line, clearing it",
				"invoice_id", line.InvoiceID,
				"reason", guard.Reason,
				"expected_key", guard.ExpectedKey,
				"found_key", guard.FoundKey)
			if err := s.clearInvoice(ctx, line, opts.DryRun); err != nil {
				lr.Errors = append(lr.Errors, errorMessage(err))
			}
		default:
			log.Warnw("invoice reference could not be validated, treating period as not invoiced",
				"invoice_id", line.InvoiceID,
				"reason", guard.Reason)
		}
	}

	plan.Billing, plan.Forecast = s.schedules.Build(line, opts.Today)
	cfg := plan.Billing.Config
	if cfg.StartSource == schedule.StartDefaultedNow {
		// a start date that moves with today would emit a new ticket every day
		log.Warnw("line has no start date, schedule computed from today")
		lr.Errors = append(lr.Errors, noticeStartDefaulted)
		plan.Excluded = true
		plan.ExcludeReason = "start_defaulted"
	}

	c := plan.Billing.Counters
	lr.Frequency = cfg.Frequency.String()
	lr.StartSource = cfg.StartSource
	if !cfg.StartDate.IsZero() {
		lr.StartDate = types.FormatDateISO(cfg.StartDate)
	}
	lr.Total = c.Total
	lr.Emitted = c.Emitted
	lr.Remaining = c.Remaining
	lr.NextDate = types.FormatDatePtr(c.Next)
	lr.LastDate = types.FormatDatePtr(c.Last)
	lr.Excluded = plan.Excluded
	return plan, lr
}

func (s *contractSyncService) clearInvoice(ctx context.Context, line *lineitem.LineItem, dryRun bool) error {
	if !dryRun {
		if err := s.LineItemRepo.Update(ctx, line.ID, lineitem.Patch{}.ClearInvoice()); err != nil {
			return ierr.WithError(err).
				WithHint("could not clear the inherited invoice reference").
				Mark(ierr.ErrInternal)
		}
	}
	line.InvoiceID = ""
	line.InvoicePeriod = ""
	return nil
}

// summarize folds the line counters into the deal summary. Lines whose start
// date is unknown do not contribute dates.
func (s *contractSyncService) summarize(plans []*LinePlan, today time.Time) deal.Summary {
	var counters []schedule.Counters
	var frequencies []string
	for _, p := range plans {
		frequencies = append(frequencies, p.Billing.Config.Frequency.String())
		if p.Billing.Config.StartSource == schedule.StartDefaultedNow {
			continue
		}
		counters = append(counters, p.Billing.Counters)
	}
	merged := schedule.Merge(today, counters...)

	frequencies = lo.Uniq(frequencies)
	sort.Strings(frequencies)
	return deal.Summary{
		NextDate:         merged.Next,
		LastDate:         merged.Last,
		FrequencySummary: strings.Join(frequencies, ", "),
	}
}

func (s *contractSyncService) recordTicketMetrics(r *DealSyncResult, dryRun bool) {
	for name, rr := range map[string]*ReconcileResult{"billing": r.Billing, "forecast": r.Forecast} {
		if rr == nil {
			continue
		}
		s.Metrics.RecordTicketOps(name, string(OperationCreate), dryRun, rr.Created)
		s.Metrics.RecordTicketOps(name, string(OperationUpdate), dryRun, rr.Updated)
		s.Metrics.RecordTicketOps(name, string(OperationDelete), dryRun, rr.Deleted)
	}
}

func (s *contractSyncService) SyncAll(ctx context.Context, opts SyncOptions) (*BatchSummary, error) {
	opts = s.normalize(opts)
	started := time.Now()
	log := s.Logger.With("run_id", opts.RunID)

	span, ctx := s.Sentry.StartTransaction(ctx, "billsync.sync_all")
	defer sentry.Finish(span)

	// the property schema may have changed since the last run
	if s.Schema != nil {
		s.Schema.InvalidateSchema()
	}

	ids, err := s.DealRepo.ListIDs(ctx, s.Config.HubSpot.DealPipeline)
	if err != nil {
		s.Metrics.RecordRun("all", true, time.Since(started))
		return nil, ierr.WithError(err).
			WithHint("could not list deals to sync").
			Mark(ierr.ErrInternal)
	}

	summary := &BatchSummary{
		RunID:  opts.RunID,
		DryRun: opts.DryRun,
		Today:  types.FormatDateISO(opts.Today),
		Deals:  len(ids),
	}
	log.Infow("starting batch sync", "deals", len(ids), "dry_run", opts.DryRun, "today", summary.Today)

	for _, id := range ids {
		if ctx.Err() != nil {
			log.Warnw("batch sync interrupted", "remaining", summary.Deals-summary.Succeeded-summary.Failed)
			break
		}

		res, err := s.syncDealSafely(ctx, id, opts)
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, DealFailure{DealID: id, Error: err.Error()})
			s.Sentry.CaptureDealFailure(opts.RunID, id, err)
			continue
		}
		summary.Succeeded++
		if res.HasErrors() {
			summary.WithErrors++
		}
		summary.add(res)
	}

	summary.Duration = time.Since(started)
	s.Metrics.RecordRun("all", summary.Failed > 0, summary.Duration)
	log.Infow("batch sync finished",
		"deals", summary.Deals,
		"succeeded", summary.Succeeded,
		"with_errors", summary.WithErrors,
		"failed", summary.Failed,
		"created", summary.Created,
		"updated", summary.Updated,
		"deleted", summary.Deleted,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, ctx.Err()
}

// syncDealSafely turns a panic in one deal into an error for that deal
func (s *contractSyncService) syncDealSafely(ctx context.Context, dealID string, opts SyncOptions) (res *DealSyncResult, err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		res, err = s.SyncDeal(ctx, dealID, opts)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		s.Logger.Errorw("panic while syncing deal",
			"run_id", opts.RunID,
			"deal_id", dealID,
			"panic", recovered.Value,
			"stack", string(recovered.Stack))
		return nil, ierr.WithError(recovered.AsError()).
			WithHintf("unexpected failure while syncing deal %s", dealID).
			Mark(ierr.ErrSystem)
	}
	return res, err
}
