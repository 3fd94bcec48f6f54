package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
	"github.com/iliyamo/ticket-mint-reconciler/internal/issuer"
	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
)

// IssueOptions holds flags for the issue command.
type IssueOptions struct {
	Grantee    string
	Categories []string
	Currency   string
	Value      string
	Fee        string
	Window     time.Duration
	Readable   bool
}

// NewIssueCommand creates the issue command.
func NewIssueCommand() *cobra.Command {
	opts := &IssueOptions{}

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue signed mint authorizations",
		Long: `Issue one signed mint authorization per category and print them as JSON.

Examples:
  reconciler issue --grantee 0x0f.. --category 3f2a.. --currency T721Token --value 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			defer a.Close()
			iss, err := a.issuer()
			if err != nil {
				return err
			}
			price := model.Price{Currency: opts.Currency, Value: opts.Value, Fee: opts.Fee}
			req := issuer.IssueRequest{
				ExpirationWindow:  opts.Window,
				Grantee:           opts.Grantee,
				ReadableSignature: opts.Readable,
			}
			for _, id := range opts.Categories {
				req.Requests = append(req.Requests, issuer.CategoryRequest{CategoryID: id, Price: price})
			}
			out, err := iss.Issue(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&opts.Grantee, "grantee", "", "address allowed to mint (required)")
	cmd.Flags().StringSliceVar(&opts.Categories, "category", nil, "category id, repeatable (required)")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "price currency symbol (required)")
	cmd.Flags().StringVar(&opts.Value, "value", "0", "price in the currency's smallest unit")
	cmd.Flags().StringVar(&opts.Fee, "fee", "0", "fee in the currency's smallest unit")
	cmd.Flags().DurationVar(&opts.Window, "window", 15*time.Minute, "validity window")
	cmd.Flags().BoolVar(&opts.Readable, "readable", false, "request a human readable signature")
	_ = cmd.MarkFlagRequired("grantee")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("currency")

	return cmd
}

// NewBindCommand creates the bind command.
func NewBindCommand() *cobra.Command {
	var ticketID, authorizationID string

	cmd := &cobra.Command{
		Use:   "bind",
		Short: "Bind a pending ticket to its mint authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(config.Load())
			if err != nil {
				return err
			}
			defer a.Close()
			iss, err := a.issuer()
			if err != nil {
				return err
			}
			if err := iss.Bind(cmd.Context(), ticketID, authorizationID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ticket %s bound to %s\n", ticketID, authorizationID)
			return nil
		},
	}

	cmd.Flags().StringVar(&ticketID, "ticket", "", "ticket id (required)")
	cmd.Flags().StringVar(&authorizationID, "authorization", "", "authorization id (required)")
	_ = cmd.MarkFlagRequired("ticket")
	_ = cmd.MarkFlagRequired("authorization")

	return cmd
}
