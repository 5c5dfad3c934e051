package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/walletgate/internal/action"
)

var decideCmd = &cobra.Command{
	Use:   "decide <id> approve|reject",
	Short: "Approve or reject the action awaiting the operator",
	Long: `Decide records the operator's decision on the action currently awaiting
a decision. Repeating a decision while the action is processing is a no-op.

Approval is refused while the balance gate reports the action as not ready
or the balance as insufficient. --force sends the approval anyway; the
wallet re-checks the balance when it executes the transfer.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"approve", "reject"},
	RunE:      runDecide,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Withdraw a queued action",
	Long: `Cancel rejects an action on behalf of its originator. Actions that are
already processing cannot be cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

var decideForce bool

func init() {
	decideCmd.Flags().BoolVar(&decideForce, "force", false, "Approve even if the balance gate blocks the action")

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	approved, err := parseVerdict(args[1])
	if err != nil {
		return err
	}
	return withClient(cmd, func(ctx context.Context, c gatewayClient) error {
		return decide(ctx, cmd.OutOrStdout(), c, args[0], approved, decideForce)
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c gatewayClient) error {
		return cancelAction(ctx, cmd.OutOrStdout(), c, args[0])
	})
}

// withClient dials the mediator process for the duration of fn.
func withClient(cmd *cobra.Command, fn func(context.Context, gatewayClient) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := dial(cmd.Context(), cfg, clientLogger(cmd.ErrOrStderr()), SurfaceCLI)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(cmd.Context(), conn.client)
}

func decide(ctx context.Context, out io.Writer, c gatewayClient, id string, approved, force bool) error {
	if approved && !force {
		snap, err := c.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to check balance gate: %w", err)
		}
		if reason, blocked := gateBlocks(snap.Gate, id); blocked {
			return fmt.Errorf("refusing to approve %s: %s (use --force to override)", id, reason)
		}
	}
	if err := c.Decide(ctx, id, approved); err != nil {
		return fmt.Errorf("failed to decide %s: %w", id, err)
	}
	verb := "Rejected"
	if approved {
		verb = "Approved"
	}
	fmt.Fprintf(out, "%s %s\n", verb, id)
	return nil
}

// gateBlocks reports whether the gate result forbids approving id. A gate
// result for another action says nothing about id.
func gateBlocks(g *action.GateStatus, id string) (string, bool) {
	if g == nil || g.ActionID != id {
		return "", false
	}
	switch {
	case g.Insufficient:
		return fmt.Sprintf("insufficient balance (%s)", g.Balance), true
	case !g.Ready:
		return g.Reason, true
	default:
		return "", false
	}
}

func cancelAction(ctx context.Context, out io.Writer, c gatewayClient, id string) error {
	if err := c.Cancel(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel %s: %w", id, err)
	}
	fmt.Fprintf(out, "Cancelled %s\n", id)
	return nil
}

func parseVerdict(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "approve", "approved", "yes", "y":
		return true, nil
	case "reject", "rejected", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid decision %q: expected approve or reject", s)
	}
}
