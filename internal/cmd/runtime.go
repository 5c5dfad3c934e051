package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/walletgate/internal/broker"
	"github.com/Iron-Ham/walletgate/internal/config"
	"github.com/Iron-Ham/walletgate/internal/logging"
	"github.com/Iron-Ham/walletgate/internal/protocol"
)

// SurfaceCLI is recorded on decisions made with `walletgate decide`.
const SurfaceCLI = "cli"

// brokerDirName is the file-broker topic directory inside the data dir.
const brokerDirName = "broker"

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// brokerSettings maps the broker section of cfg onto broker.Open settings.
func brokerSettings(cfg *config.Config) broker.Settings {
	return broker.Settings{
		Backend:       cfg.Broker.Backend,
		Prefix:        cfg.Broker.ChannelPrefix,
		Dir:           filepath.Join(cfg.Paths.ResolveDataDir(), brokerDirName),
		PollInterval:  cfg.Broker.PollInterval(),
		MaxLogSize:    cfg.Broker.MaxLogSize(),
		RedisAddr:     cfg.Broker.Redis.Addr,
		RedisPassword: cfg.Broker.Redis.Password,
		RedisDB:       cfg.Broker.Redis.DB,
	}
}

// serverLogger builds the mediator process logger. File logging is used
// whenever it is enabled; otherwise output is discarded.
func serverLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	dir := cfg.Logging.ResolveDir(cfg.Paths.ResolveDataDir())
	return logging.NewLogger(dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// clientLogger returns a stderr logger when --verbose is set.
func clientLogger(stderr io.Writer) *logging.Logger {
	if viper.GetBool("verbose") {
		return logging.NewWriterLogger(stderr, logging.LevelDebug).WithSurface(SurfaceCLI)
	}
	return logging.NopLogger()
}

// connection is a protocol client and the broker it owns.
type connection struct {
	client *protocol.Client
	broker broker.Broker
}

func (c *connection) Close() {
	_ = c.client.Close()
	_ = c.broker.Close()
}

// dial connects to the mediator process named by cfg. surface is recorded
// on every decision made through the connection.
func dial(ctx context.Context, cfg *config.Config, logger *logging.Logger, surface string) (*connection, error) {
	if cfg.Broker.Backend == broker.BackendMemory {
		return nil, fmt.Errorf("broker backend %q is only reachable from inside 'walletgate serve'; use file or redis", broker.BackendMemory)
	}
	b, err := broker.Open(ctx, brokerSettings(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open broker: %w", err)
	}
	client, err := protocol.NewClient(ctx, b,
		protocol.WithClientLogger(logger),
		protocol.WithRequestTimeout(cfg.Broker.RequestTimeout()),
		protocol.WithSurface(surface),
	)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &connection{client: client, broker: b}, nil
}
