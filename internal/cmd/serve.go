package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/Iron-Ham/walletgate/internal/balance"
	"github.com/Iron-Ham/walletgate/internal/broker"
	"github.com/Iron-Ham/walletgate/internal/config"
	"github.com/Iron-Ham/walletgate/internal/event"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/mediator"
	"github.com/Iron-Ham/walletgate/internal/notify"
	"github.com/Iron-Ham/walletgate/internal/ownerlock"
	"github.com/Iron-Ham/walletgate/internal/protocol"
	"github.com/Iron-Ham/walletgate/internal/tui"
	"github.com/Iron-Ham/walletgate/internal/wallet"
)

const shutdownTimeout = 30 * time.Second

var errNoCustody = errors.New("no custody service configured: pass --dev-wallet to use the in-memory development wallet")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Own the action queue and serve requests",
	Long: `Serve takes ownership of the data directory, starts the mediator and
answers enqueue, decision and snapshot requests on the configured broker.

With --dev-wallet the custody service is an in-memory wallet seeded from
the devwallet config section. Send SIGUSR1 to toggle its lock state.

With --console the operator console runs in this terminal.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveDevWallet bool
	serveConsole   bool
)

func init() {
	serveCmd.Flags().BoolVar(&serveDevWallet, "dev-wallet", false, "use the in-memory development wallet")
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "run the operator console in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if !serveDevWallet {
		return errNoCustody
	}
	if serveConsole && !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("--console requires a terminal")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dataDir := cfg.Paths.ResolveDataDir()
	lock := ownerlock.New(dataDir)
	if err := lock.TryAcquire(); err != nil {
		return fmt.Errorf("cannot serve %s: %w", dataDir, err)
	}
	defer func() { _ = lock.Release() }()

	logger, err := serverLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Broker.Backend == broker.BackendMemory && !serveConsole {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: the memory broker is not reachable from other processes")
	}
	b, err := openServerBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	gw, err := newGateway(cfg, b, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.close(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	watchGateConfig(gw.gate, logger)

	if !serveConsole {
		fmt.Fprintf(cmd.OutOrStdout(), "walletgate serving on the %s broker\n", cfg.Broker.Backend)
		fmt.Fprintf(cmd.OutOrStdout(), "  data dir: %s\n", dataDir)
		fmt.Fprintf(cmd.OutOrStdout(), "  wallet:   %s (pid %d)\n", gw.wallet.Address(), os.Getpid())
	}
	return gw.run(ctx, serveConsole)
}

// openServerBroker opens the broker and, for the file backend, clears
// topic logs left by a previous owner of the data directory.
func openServerBroker(ctx context.Context, cfg *config.Config, logger *logging.Logger) (broker.Broker, error) {
	b, err := broker.Open(ctx, brokerSettings(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker: %w", err)
	}
	if fb, ok := b.(*broker.File); ok {
		if err := fb.Purge(); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to reset broker topics: %w", err)
		}
	}
	return b, nil
}

// gateway is a wired mediator process: wallet, mediator, notification
// channel and protocol server on one broker.
type gateway struct {
	cfg     *config.Config
	logger  *logging.Logger
	bus     *event.Bus
	wallet  *wallet.DevWallet
	gate    *balance.Gate
	med     *mediator.Mediator
	channel *notify.Channel
	server  *protocol.Server
	busSubs []string
}

func newGateway(cfg *config.Config, b broker.Broker, logger *logging.Logger) (*gateway, error) {
	bus := event.NewBus(event.WithLogger(logger))
	w, err := newDevWallet(cfg.DevWallet, bus)
	if err != nil {
		return nil, err
	}

	gate := balance.NewGate(cfg.Gate.BlockUnverified)
	med, err := mediator.New(w, w, bus, mediatorConfig(cfg),
		mediator.WithLogger(logger),
		mediator.WithGate(gate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mediator: %w", err)
	}

	ch := notify.New()
	g := &gateway{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		wallet:  w,
		gate:    gate,
		med:     med,
		channel: ch,
	}
	g.busSubs = append(g.busSubs, ch.Attach(bus), event.LogEvents(bus, logger))
	g.server = protocol.NewServer(med, b,
		protocol.WithServerLogger(logger),
		protocol.WithChannel(ch),
		protocol.WithWorkers(cfg.Broker.Workers),
	)
	return g, nil
}

func newDevWallet(cfg config.DevWalletConfig, bus *event.Bus) (*wallet.DevWallet, error) {
	opts := []wallet.DevOption{wallet.WithBus(bus), wallet.WithLatency(cfg.Latency())}
	if cfg.Unlocked {
		opts = append(opts, wallet.Unlocked())
	}
	for token, raw := range cfg.Balances {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("devwallet.balances.%s: %w", token, err)
		}
		opts = append(opts, wallet.WithBalance(token, amount))
	}
	return wallet.NewDevWallet(cfg.Address, opts...), nil
}

func mediatorConfig(cfg *config.Config) mediator.Config {
	return mediator.Config{
		DefaultToken:         cfg.Mediator.DefaultToken,
		ExecutionTimeout:     cfg.Mediator.ExecutionTimeout(),
		OutcomeRetention:     cfg.Mediator.OutcomeRetention(),
		OutcomeRetentionSize: cfg.Mediator.OutcomeRetentionSize,
		InvalidateOnLock:     cfg.Mediator.InvalidateOnLock,
	}
}

// run serves until ctx ends or, with console, until the operator quits.
func (g *gateway) run(ctx context.Context, console bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return g.server.Run(ctx)
	})
	grp.Go(func() error {
		g.toggleLockOnSignal(ctx)
		return nil
	})
	if console {
		source := tui.NewLocalSource(ctx, g.med, g.channel, g.cfg.Notify.Buffer)
		grp.Go(func() error {
			defer cancel()
			return tui.Run(ctx, source)
		})
	}
	return grp.Wait()
}

// toggleLockOnSignal locks or unlocks the dev wallet on each SIGUSR1.
func (g *gateway) toggleLockOnSignal(ctx context.Context) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			g.toggleLock()
		}
	}
}

func (g *gateway) toggleLock() {
	if g.wallet.IsUnlocked() {
		g.wallet.Lock()
		g.logger.Info("dev wallet locked")
		return
	}
	g.wallet.Unlock()
	g.logger.Info("dev wallet unlocked")
}

// close detaches the notification channel and waits for in-flight
// custody calls.
func (g *gateway) close() error {
	for _, id := range g.busSubs {
		g.bus.Unsubscribe(id)
	}
	g.channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.med.Close(ctx)
}

// watchGateConfig reloads gate.block_unverified when the config file changes.
func watchGateConfig(gate *balance.Gate, logger *logging.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(reloadGate(gate, logger))
	viper.WatchConfig()
}

func reloadGate(gate *balance.Gate, logger *logging.Logger) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		block := viper.GetBool("gate.block_unverified")
		if block == gate.BlockUnverified() {
			return
		}
		gate.SetBlockUnverified(block)
		logger.Info("gate reloaded", "file", e.Name, "block_unverified", block)
	}
}
