package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "A crash-safe automated trading session runtime",
	Long: `Sessiond runs automated trading sessions with consistent money state.

It provides:
  - A portfolio ledger with atomic cash and position accounting
  - A pre-trade risk gate with daily loss, drawdown and notional limits
  - Durable order idempotency across restarts
  - Asynchronous checkpointing with crash recovery
  - Broker position reconciliation with drift alerts
  - Prometheus metrics and a websocket event feed

Complete documentation is available at https://github.com/rustyeddy/sessiond`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
