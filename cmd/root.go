// Package cmd provides the shoptalk CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ask: one-shot question from the command line
//   - version: version and configuration summary
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shoptalk",
	Short: "Shoptalk - conversational assistant for your store",
	Long: `Shoptalk answers questions about a store's catalog, orders and
policies. Structured questions hit the commerce database, open-ended ones
run semantic search over the document store, and the model grounds its
answer in whatever was retrieved.

Run "shoptalk serve" to start the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}
