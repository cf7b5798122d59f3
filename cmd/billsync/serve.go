package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HubSpot webhook, manual sync API, health and metrics",
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(coreOptions(), httpOptions()).Run()
	},
}
