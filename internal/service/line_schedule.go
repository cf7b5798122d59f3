package service

import (
	"context"
	"time"

	"github.com/flexprice/billsync/internal/domain/lineitem"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/types"
)

// LineScheduleService materializes line schedules and normalizes the start
// configuration stored on the line
type LineScheduleService interface {
	// ResolveStartDelay turns a start delay into a concrete start date. It returns
	// true when the line was changed.
	ResolveStartDelay(ctx context.Context, line *lineitem.LineItem, today time.Time, dryRun bool) (bool, error)

	// AnchorIrregular stores the earliest manual date as the start date of an
	// irregular line without one. It returns true when the line was changed.
	AnchorIrregular(ctx context.Context, line *lineitem.LineItem, dryRun bool) (bool, error)

	// Build returns the billing and forecast schedules of the line
	Build(line *lineitem.LineItem, today time.Time) (billing schedule.Schedule, forecast schedule.Schedule)
}

type lineScheduleService struct {
	ServiceParams
	billing  *schedule.Calculator
	forecast *schedule.Calculator
}

func NewLineScheduleService(params ServiceParams) LineScheduleService {
	return &lineScheduleService{
		ServiceParams: params,
		billing:       schedule.NewCalculator(params.Config.Billing.MaxOccurrences, params.Config.Billing.MaxManualSlots),
		forecast:      schedule.NewCalculator(params.Config.Forecast.MaxOccurrences, params.Config.Billing.MaxManualSlots),
	}
}

func (s *lineScheduleService) Build(line *lineitem.LineItem, today time.Time) (schedule.Schedule, schedule.Schedule) {
	raw := line.RawSchedule()
	return s.billing.Build(raw, today), s.forecast.Build(raw, today)
}

// ResolveStartDelay writes in two steps: the delay fields are cleared first and,
// after the cooldown, the start date is set. The CRM recomputes the start date
// from the delay fields while they are present.
func (s *lineScheduleService) ResolveStartDelay(ctx context.Context, line *lineitem.LineItem, today time.Time, dryRun bool) (bool, error) {
	cfg := s.billing.Resolve(line.RawSchedule(), today)
	if cfg.IsIrregular || cfg.StartSource != schedule.StartFromDelay {
		return false, nil
	}
	start := types.FormatDateISO(cfg.StartDate)

	log := s.Logger.With("deal_id", line.DealID, "line_item_id", line.ID)
	log.Infow("resolving start delay",
		"delay_days", line.StartDelayDays,
		"delay_months", line.StartDelayMonths,
		"start_date", start,
		"dry_run", dryRun)

	if !dryRun {
		clearDelay := lineitem.Patch{
			lineitem.PropertyStartDelayDays:   "",
			lineitem.PropertyStartDelayMonths: "",
		}
		if err := s.LineItemRepo.Update(ctx, line.ID, clearDelay); err != nil {
			return false, ierr.WithError(err).
				WithHint("could not clear the start delay").
				Mark(ierr.ErrInternal)
		}
	}
	line.StartDelayDays = ""
	line.StartDelayMonths = ""
	// from here on the start date only lives in memory until the second write lands
	line.StartDate = start

	if dryRun {
		return true, nil
	}

	if err := s.sleep(ctx, s.Config.Billing.Cooldown); err != nil {
		return true, ierr.WithError(err).
			WithHintf("start delay cleared but start date %s not stored", start).
			Mark(ierr.ErrInternal)
	}
	if err := s.LineItemRepo.Update(ctx, line.ID, lineitem.Patch{lineitem.PropertyStartDate: start}); err != nil {
		return true, ierr.WithError(err).
			WithHintf("start delay cleared but start date %s not stored", start).
			Mark(ierr.ErrInternal)
	}
	return true, nil
}

func (s *lineScheduleService) AnchorIrregular(ctx context.Context, line *lineitem.LineItem, dryRun bool) (bool, error) {
	cfg := s.billing.Resolve(line.RawSchedule(), time.Now())
	if !cfg.IsIrregular || cfg.StartSource != schedule.StartFromManual {
		return false, nil
	}
	start := types.FormatDateISO(cfg.StartDate)

	if !dryRun {
		if err := s.LineItemRepo.Update(ctx, line.ID, lineitem.Patch{lineitem.PropertyStartDate: start}); err != nil {
			return false, ierr.WithError(err).
				WithHint("could not store the first irregular billing date as start date").
				Mark(ierr.ErrInternal)
		}
	}
	s.Logger.Debugw("irregular line anchored to earliest billing date",
		"deal_id", line.DealID,
		"line_item_id", line.ID,
		"start_date", start,
		"dry_run", dryRun)

	line.StartDate = start
	return true, nil
}
