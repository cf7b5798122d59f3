package scheduler

import (
	"context"
	"time"

	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/service"
	"github.com/robfig/cron/v3"
)

const defaultCronExpr = "0 */6 * * *"

// Locker keeps scheduled and manual batch runs from overlapping
type Locker interface {
	TryLock() (string, bool, error)
	Release(token string) error
}

// Scheduler runs the batch sync on a cron schedule
type Scheduler struct {
	cron        *cron.Cron
	expr        string
	syncService service.ContractSyncService
	locker      Locker
	logger      *logger.Logger
}

func New(
	cfg *config.Configuration,
	syncService service.ContractSyncService,
	locker Locker,
	logger *logger.Logger,
) (*Scheduler, error) {
	expr := cfg.Scheduler.Cron
	if expr == "" {
		expr = defaultCronExpr
	}

	loc := time.UTC
	if cfg.Scheduler.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Unknown scheduler timezone %q", cfg.Scheduler.Timezone).
				Mark(ierr.ErrValidation)
		}
	}

	s := &Scheduler{
		cron:        cron.New(cron.WithLocation(loc)),
		expr:        expr,
		syncService: syncService,
		locker:      locker,
		logger:      logger,
	}

	if _, err := s.cron.AddFunc(expr, s.tick); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid scheduler cron expression %q", expr).
			Mark(ierr.ErrValidation)
	}

	return s, nil
}

func (s *Scheduler) tick() {
	if _, _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Errorw("scheduled sync failed", "error", err)
	}
}

// RunOnce runs one batch under the run lock. ran is false when another run
// holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (summary *service.BatchSummary, ran bool, err error) {
	token, ok, err := s.locker.TryLock()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.Warnw("previous sync still running, skipping scheduled run")
		return nil, false, nil
	}
	defer func() {
		if releaseErr := s.locker.Release(token); releaseErr != nil {
			s.logger.Errorw("failed to release run lock", "error", releaseErr)
		}
	}()

	summary, err = s.syncService.SyncAll(ctx, service.SyncOptions{})
	if err != nil {
		return nil, true, err
	}

	s.logger.Infow("scheduled sync completed",
		"run_id", summary.RunID,
		"deals", summary.Deals,
		"failed", summary.Failed,
		"duration_ms", summary.Duration.Milliseconds())
	return summary, true, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infow("scheduler started", "cron", s.expr)
}

// Stop stops the schedule and waits for a running batch to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
