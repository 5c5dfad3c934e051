package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/mediator"
)

// gatewayClient is the part of *protocol.Client the action commands use.
type gatewayClient interface {
	Enqueue(ctx context.Context, req action.NewActionRequest) (string, error)
	WaitOutcome(ctx context.Context, id string) (mediator.Outcome, error)
	Decide(ctx context.Context, id string, approved bool) error
	Cancel(ctx context.Context, id string) error
	Snapshot(ctx context.Context) (action.Snapshot, error)
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a wallet action for operator approval",
	Long: `Submit queues a wallet action and, unless --no-wait is given, blocks
until the operator approves or rejects it and the wallet has executed it.

Actions without --amount are authorization-only: approving them runs no
transfer. Details are shown to the operator verbatim, in order.

Examples:
  walletgate submit --title "Tip creator" --amount 5 --recipient 0xabc
  walletgate submit --title "Sign in" --detail Site=example.org --no-wait`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var (
	submitTitle       string
	submitDescription string
	submitAmount      string
	submitToken       string
	submitRecipient   string
	submitDetails     []string
	submitNoWait      bool
)

func init() {
	submitCmd.Flags().StringVar(&submitTitle, "title", "", "short title shown to the operator (required)")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "longer description")
	submitCmd.Flags().StringVar(&submitAmount, "amount", "", "decimal amount to transfer")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "token symbol (default from mediator.default_token)")
	submitCmd.Flags().StringVar(&submitRecipient, "recipient", "", "transfer recipient address")
	submitCmd.Flags().StringArrayVar(&submitDetails, "detail", nil, "label=value row shown to the operator (repeatable)")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "print the action id and return without waiting")
	_ = submitCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	details, err := parseDetails(submitDetails)
	if err != nil {
		return err
	}
	req := action.NewActionRequest{
		Title:       submitTitle,
		Description: submitDescription,
		Details:     details,
		Amount:      submitAmount,
		TokenSymbol: submitToken,
		Recipient:   submitRecipient,
	}

	return withClient(cmd, func(ctx context.Context, c gatewayClient) error {
		return submit(ctx, cmd.OutOrStdout(), c, req, !submitNoWait)
	})
}

// submit enqueues req and, when wait is set, reports its outcome. A
// rejected or failed action is returned as an error.
func submit(ctx context.Context, out io.Writer, c gatewayClient, req action.NewActionRequest, wait bool) error {
	id, err := c.Enqueue(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit: %w", err)
	}
	if !wait {
		fmt.Fprintln(out, id)
		return nil
	}

	fmt.Fprintf(out, "Queued %s, waiting for the operator...\n", id)
	o, err := c.WaitOutcome(ctx, id)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", id, err)
	}
	printOutcome(out, o)

	switch o.Status {
	case action.StatusApproved:
		return nil
	case action.StatusFailed:
		return fmt.Errorf("action %s: %w", id, o.Err())
	default:
		return fmt.Errorf("action %s was %s", id, o.Status)
	}
}

func printOutcome(out io.Writer, o mediator.Outcome) {
	fmt.Fprintf(out, "Status: %s\n", o.Status)
	if o.Reason != "" {
		fmt.Fprintf(out, "Reason: %s\n", o.Reason)
	}
	if r := o.Receipt; r != nil {
		fmt.Fprintf(out, "Tx:     %s\n", r.TxHash)
		if r.Amount != "" {
			fmt.Fprintf(out, "Amount: %s %s\n", r.Amount, r.TokenSymbol)
		}
	}
}

// parseDetails turns label=value flags into ordered detail rows.
func parseDetails(raw []string) ([]action.Detail, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	details := make([]action.Detail, 0, len(raw))
	for _, kv := range raw {
		label, value, ok := strings.Cut(kv, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid --detail %q: expected label=value", kv)
		}
		details = append(details, action.Detail{Label: label, Value: value})
	}
	return details, nil
}
