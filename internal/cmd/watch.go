package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/walletgate/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the operator console",
	Long: `Watch opens the operator console against a running 'walletgate serve'.
The action awaiting a decision is shown with its details and balance
check; press y to approve, n to reject.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("watch requires a terminal; use 'walletgate queue' instead")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx, cfg, clientLogger(cmd.ErrOrStderr()), tui.SurfaceConsole)
	if err != nil {
		return err
	}
	defer conn.Close()

	source, err := tui.NewRemoteSource(ctx, conn.client)
	if err != nil {
		return fmt.Errorf("failed to watch queue: %w", err)
	}
	if err := tui.Run(ctx, source); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}
