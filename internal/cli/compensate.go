package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	queue_publisher "github.com/iliyamo/ticket-mint-reconciler/internal/service"
)

// CompensateOptions holds flags for the compensate command.
type CompensateOptions struct {
	BlockHash string
	TxHash    string
	LogIndex  uint64
}

// NewCompensateCommand creates the compensate command, which replays the
// compensation journaled for one ledger log as if a reorg notice had been
// received for it.
func NewCompensateCommand() *cobra.Command {
	opts := &CompensateOptions{}

	cmd := &cobra.Command{
		Use:   "compensate",
		Short: "Undo the mint applied for a ledger log",
		Long: `Undo the mint applied for a ledger log.

The compensation is read from the Redis journal; without Redis there is
nothing to replay.

Examples:
  reconciler compensate --block 0xb1.. --tx 0xc1.. --log 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			defer a.Close()
			pub := queue_publisher.NewPublisher(a.cfg.RabbitURL)
			defer pub.Close()
			d, err := a.driver(pub)
			if err != nil {
				return err
			}
			p := model.Provenance{BlockHash: opts.BlockHash, TxHash: opts.TxHash, LogIndex: opts.LogIndex}
			if err := d.HandleReorg(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compensated %s\n", p.Key())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.BlockHash, "block", "", "block hash (required)")
	cmd.Flags().StringVar(&opts.TxHash, "tx", "", "transaction hash (required)")
	cmd.Flags().Uint64Var(&opts.LogIndex, "log", 0, "log index within the transaction")
	_ = cmd.MarkFlagRequired("block")
	_ = cmd.MarkFlagRequired("tx")

	return cmd
}
