package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
)

// NewGrantCommand creates the grant command.
func NewGrantCommand() *cobra.Command {
	var grantee, entityType, entityValue string
	var rights []string

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant rights on an entity",
		Long: `Grant rights on an entity.

Examples:
  reconciler grant --grantee 0x0f.. --type event --value 3f2a.. --rights owner`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.gate.Grant(cmd.Context(), grantee, entityType, entityValue, rights...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %v on %s %s to %s\n", rights, entityType, entityValue, grantee)
			return nil
		},
	}

	cmd.Flags().StringVar(&grantee, "grantee", "", "grantee address (required)")
	cmd.Flags().StringVar(&entityType, "type", "", "entity type (required)")
	cmd.Flags().StringVar(&entityValue, "value", "", "entity value (required)")
	cmd.Flags().StringSliceVar(&rights, "rights", nil, "rights to grant (required)")
	for _, f := range []string{"grantee", "type", "value", "rights"} {
		_ = cmd.MarkFlagRequired(f)
	}

	return cmd
}
