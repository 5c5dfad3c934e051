package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/walletgate/internal/action"
	"github.com/Iron-Ham/walletgate/internal/tui"
)

// Output formats for `walletgate queue`.
const (
	formatTable = "table"
	formatPlain = "plain"
	formatJSON  = "json"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the pending action queue",
	Long: `Queue prints a one-shot snapshot of the pending actions in FIFO order,
with the balance gate result for the head.

The default format is a table on a terminal and tab-separated lines
otherwise.`,
	Args: cobra.NoArgs,
	RunE: runQueue,
}

var queueFormat string

func init() {
	queueCmd.Flags().StringVarP(&queueFormat, "output", "o", "", "output format: table, plain or json")
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	format := queueFormat
	if format == "" {
		format = formatPlain
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = formatTable
		}
	}
	return withClient(cmd, func(ctx context.Context, c gatewayClient) error {
		return showQueue(ctx, cmd.OutOrStdout(), c, format)
	})
}

func showQueue(ctx context.Context, out io.Writer, c gatewayClient, format string) error {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch queue: %w", err)
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case formatPlain:
		for _, a := range snap.Queue {
			fmt.Fprintf(out, "%s\t%d\t%s\t%s\t%s\t%s\n", a.ID, a.Position, a.Status, amountOf(a), a.TokenSymbol, a.Title)
		}
		return nil
	case formatTable:
		fmt.Fprintln(out, renderQueueTable(snap))
		return nil
	default:
		return fmt.Errorf("unknown output format %q: expected table, plain or json", format)
	}
}

func renderQueueTable(snap action.Snapshot) string {
	if len(snap.Queue) == 0 {
		return tui.Muted.Render(fmt.Sprintf("No pending actions (version %d)", snap.Version))
	}

	statuses := make([]action.Status, len(snap.Queue))
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(tui.BorderColor)).
		Headers("#", "ID", "STATUS", "AMOUNT", "TITLE")
	for i, a := range snap.Queue {
		statuses[i] = a.Status
		t.Row(fmt.Sprint(a.Position), a.ID, string(a.Status), amountOf(a)+" "+a.TokenSymbol, a.Title)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		cell := lipgloss.NewStyle().Padding(0, 1)
		switch {
		case row == table.HeaderRow:
			return cell.Bold(true).Foreground(tui.PrimaryColor)
		case col == 2 && row >= 0 && row < len(statuses):
			return cell.Foreground(tui.StatusColor(string(statuses[row])))
		}
		return cell
	})

	s := t.String()
	if g := snap.Gate; g != nil {
		s += "\n" + gateSummary(*g)
	}
	return s
}

func gateSummary(g action.GateStatus) string {
	switch {
	case g.Insufficient:
		return tui.Error.Render(fmt.Sprintf("Head %s: insufficient balance (%s)", g.ActionID, g.Balance))
	case !g.Ready:
		return tui.Error.Render(fmt.Sprintf("Head %s: %s", g.ActionID, g.Reason))
	case !g.Verified:
		return tui.Warning.Render(fmt.Sprintf("Head %s: balance unverified", g.ActionID))
	default:
		return tui.Success.Render(fmt.Sprintf("Head %s: balance OK (%s)", g.ActionID, g.Balance))
	}
}

func amountOf(a action.WalletAction) string {
	if !a.HasAmount() {
		return "-"
	}
	return a.Amount
}
