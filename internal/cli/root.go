// Package cli holds the reconciler's command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command of the reconciler binary.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Ticket mint reconciler",
		Long: `Issues signed mint authorizations and reconciles confirmed ledger
mint events against stored tickets, undoing them when the ledger reorganizes.

Configuration is read from the environment and from a .env file in the
working directory.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewCompensateCommand())
	cmd.AddCommand(NewIssueCommand())
	cmd.AddCommand(NewBindCommand())
	cmd.AddCommand(NewGrantCommand())

	return cmd
}
