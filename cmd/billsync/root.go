package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "billsync",
	Short: "Billing schedule and ticket reconciliation for HubSpot deals",
	Long: `billsync computes the billing schedule of every line item of a HubSpot
deal and keeps the billing and forecast tickets in line with it.

  billsync run --deal 12345   # sync one deal
  billsync run --all          # sync every active deal
  billsync schedule           # cron loop plus webhook server
  billsync serve              # webhook server only`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd, scheduleCmd)
}
