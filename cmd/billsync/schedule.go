package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Sync every active deal on the configured cron schedule and serve the webhook",
	Long: `Runs a batch sync on scheduler.cron (default every six hours) in
scheduler.timezone. Runs never overlap: a run that finds the lock held is
skipped. The HTTP server of "serve" runs alongside.`,
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(coreOptions(), httpOptions(), scheduleOptions()).Run()
	},
}
