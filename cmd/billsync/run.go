package main

import (
	"context"
	"fmt"
	"time"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/lock"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/service"
	"github.com/flexprice/billsync/internal/types"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var runFlags struct {
	dealID string
	all    bool
	dryRun bool
	today  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync one deal or every active deal once",
	Example: `  billsync run --deal 12345
  billsync run --deal 12345 --dry-run --today 2026-03-01
  billsync run --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := service.SyncOptions{DryRun: runFlags.dryRun}
		if runFlags.today != "" {
			today, ok := types.ParseDate(runFlags.today)
			if !ok {
				return fmt.Errorf("invalid --today %q, expected YYYY-MM-DD", runFlags.today)
			}
			opts.Today = today
		}

		var (
			syncService service.ContractSyncService
			locker      *lock.FileLocker
			log         *logger.Logger
		)
		app := fx.New(
			coreOptions(),
			fx.Populate(&syncService, &locker, &log),
		)
		if err := app.Err(); err != nil {
			return err
		}

		startCtx, cancel := context.WithTimeout(cmd.Context(), fx.DefaultTimeout)
		defer cancel()
		if err := app.Start(startCtx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = app.Stop(stopCtx)
		}()

		if runFlags.all {
			return runAll(cmd.Context(), syncService, locker, log, opts)
		}
		return runDeal(cmd.Context(), syncService, runFlags.dealID, opts)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.dealID, "deal", "", "HubSpot deal id to sync")
	runCmd.Flags().BoolVar(&runFlags.all, "all", false, "sync every active deal of the configured pipeline")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "compute and print the plan without writing to the CRM")
	runCmd.Flags().StringVar(&runFlags.today, "today", "", "override today (YYYY-MM-DD)")
	runCmd.MarkFlagsMutuallyExclusive("deal", "all")
	runCmd.MarkFlagsOneRequired("deal", "all")
}

func runDeal(ctx context.Context, syncService service.ContractSyncService, dealID string, opts service.SyncOptions) error {
	result, err := syncService.SyncDeal(ctx, dealID, opts)
	if err != nil {
		return err
	}

	pp.Println(result)
	if len(result.Errors) > 0 {
		return fmt.Errorf("deal %s synced with %d errors", dealID, len(result.Errors))
	}
	return nil
}

func runAll(ctx context.Context, syncService service.ContractSyncService, locker *lock.FileLocker, log *logger.Logger, opts service.SyncOptions) error {
	token, ok, err := locker.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return ierr.NewError("run lock held").
			WithHint("Another batch sync is running").
			Mark(ierr.ErrAlreadyExists)
	}
	defer func() {
		if err := locker.Release(token); err != nil {
			log.Errorw("failed to release run lock", "error", err)
		}
	}()

	summary, err := syncService.SyncAll(ctx, opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		pp.Println(summary)
	}
	log.Infow("batch sync completed",
		"run_id", summary.RunID,
		"deals", summary.Deals,
		"succeeded", summary.Succeeded,
		"with_errors", summary.WithErrors,
		"failed", summary.Failed,
		"created", summary.Created,
		"updated", summary.Updated,
		"deleted", summary.Deleted,
		"duration_ms", summary.Duration.Milliseconds())

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d deals failed", summary.Failed, summary.Deals)
	}
	return nil
}
