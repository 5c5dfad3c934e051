package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete walletgate configuration
type Config struct {
	Mediator  MediatorConfig  `mapstructure:"mediator" yaml:"mediator"`
	Gate      GateConfig      `mapstructure:"gate" yaml:"gate"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	DevWallet DevWalletConfig `mapstructure:"devwallet" yaml:"devwallet"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
}

// MediatorConfig controls the approval queue
type MediatorConfig struct {
	// DefaultToken is assigned to actions that name no token (default: "PLUS")
	DefaultToken string `mapstructure:"default_token" yaml:"default_token"`
	// ExecutionTimeoutSeconds bounds each custody call (default: 60)
	ExecutionTimeoutSeconds int `mapstructure:"execution_timeout_seconds" yaml:"execution_timeout_seconds"`
	// OutcomeRetentionMinutes is how long resolved outcomes stay queryable (default: 10)
	OutcomeRetentionMinutes int `mapstructure:"outcome_retention_minutes" yaml:"outcome_retention_minutes"`
	// OutcomeRetentionSize caps the number of retained outcomes (default: 1024)
	OutcomeRetentionSize int `mapstructure:"outcome_retention_size" yaml:"outcome_retention_size"`
	// InvalidateOnLock fails every active action when the wallet locks (default: true)
	InvalidateOnLock bool `mapstructure:"invalidate_on_lock" yaml:"invalidate_on_lock"`
}

// GateConfig controls the balance gate
type GateConfig struct {
	// BlockUnverified refuses approval while the balance is unknown (default: false).
	// Reloaded live by `walletgate serve` when the config file changes.
	BlockUnverified bool `mapstructure:"block_unverified" yaml:"block_unverified"`
}

// NotifyConfig controls snapshot fan-out to presentation surfaces
type NotifyConfig struct {
	// Buffer is the number of pending snapshots held per subscriber (default: 16)
	Buffer int `mapstructure:"buffer" yaml:"buffer"`
}

// BrokerConfig selects the cross-process transport
type BrokerConfig struct {
	// Backend is one of: memory, file, redis (default: file)
	Backend string `mapstructure:"backend" yaml:"backend"`
	// ChannelPrefix is prepended to every topic name (default: "walletgate.")
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
	// PollIntervalMs is how often the file backend checks for messages (default: 100)
	PollIntervalMs int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	// MaxLogSizeKB is the size at which an idle file backend topic log is
	// truncated; 0 disables truncation (default: 4096)
	MaxLogSizeKB int `mapstructure:"max_log_size_kb" yaml:"max_log_size_kb"`
	// Workers bounds concurrently handled requests in the server (default: 8)
	Workers int `mapstructure:"workers" yaml:"workers"`
	// RequestTimeoutSeconds bounds each client request (default: 10)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	// Redis holds connection settings for the redis backend
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// DevWalletConfig configures the in-memory wallet used by `serve --dev-wallet`
type DevWalletConfig struct {
	// Address is the wallet address reported to the operator
	Address string `mapstructure:"address" yaml:"address"`
	// Unlocked starts the wallet unlocked (default: true)
	Unlocked bool `mapstructure:"unlocked" yaml:"unlocked"`
	// Balances maps token symbol to a decimal balance, e.g. PLUS: "100"
	Balances map[string]string `mapstructure:"balances" yaml:"balances"`
	// LatencyMs delays every transfer (default: 0)
	LatencyMs int `mapstructure:"latency_ms" yaml:"latency_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is active (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where walletgate.log is written. Empty means paths.data_dir.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// PathsConfig controls where state lives
type PathsConfig struct {
	// DataDir holds the owner lock, file-broker topics and logs.
	// Empty means $XDG_STATE_HOME/walletgate or ~/.local/state/walletgate.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// ResolveDataDir returns the data directory with ~ expanded.
func (p *PathsConfig) ResolveDataDir() string {
	if p.DataDir == "" {
		return DefaultDataDir()
	}
	return expandHome(p.DataDir)
}

// ResolveDir returns the log directory, falling back to dataDir.
func (l *LoggingConfig) ResolveDir(dataDir string) string {
	if l.Dir == "" {
		return dataDir
	}
	return expandHome(l.Dir)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Mediator: MediatorConfig{
			DefaultToken:            "PLUS",
			ExecutionTimeoutSeconds: 60,
			OutcomeRetentionMinutes: 10,
			OutcomeRetentionSize:    1024,
			InvalidateOnLock:        true,
		},
		Gate: GateConfig{
			BlockUnverified: false,
		},
		Notify: NotifyConfig{
			Buffer: 16,
		},
		Broker: BrokerConfig{
			Backend:               "file",
			ChannelPrefix:         "walletgate.",
			PollIntervalMs:        100,
			MaxLogSizeKB:          4096,
			Workers:               8,
			RequestTimeoutSeconds: 10,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		DevWallet: DevWalletConfig{
			Address:  "0x000000000000000000000000000000000000dev0",
			Unlocked: true,
			Balances: map[string]string{"PLUS": "100"},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{
			DataDir: "", // Empty means use DefaultDataDir()
		},
	}
}

// ExecutionTimeout returns the custody call deadline as a time.Duration
func (c *MediatorConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSeconds) * time.Second
}

// OutcomeRetention returns the outcome retention window as a time.Duration
func (c *MediatorConfig) OutcomeRetention() time.Duration {
	return time.Duration(c.OutcomeRetentionMinutes) * time.Minute
}

// PollInterval returns the file backend poll interval as a time.Duration
func (c *BrokerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// MaxLogSize returns the topic log truncation threshold in bytes
func (c *BrokerConfig) MaxLogSize() int64 {
	return int64(c.MaxLogSizeKB) << 10
}

// RequestTimeout returns the client request timeout as a time.Duration
func (c *BrokerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Latency returns the dev wallet transfer delay as a time.Duration
func (c *DevWalletConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Mediator defaults
	viper.SetDefault("mediator.default_token", defaults.Mediator.DefaultToken)
	viper.SetDefault("mediator.execution_timeout_seconds", defaults.Mediator.ExecutionTimeoutSeconds)
	viper.SetDefault("mediator.outcome_retention_minutes", defaults.Mediator.OutcomeRetentionMinutes)
	viper.SetDefault("mediator.outcome_retention_size", defaults.Mediator.OutcomeRetentionSize)
	viper.SetDefault("mediator.invalidate_on_lock", defaults.Mediator.InvalidateOnLock)

	// Gate defaults
	viper.SetDefault("gate.block_unverified", defaults.Gate.BlockUnverified)

	// Notify defaults
	viper.SetDefault("notify.buffer", defaults.Notify.Buffer)

	// Broker defaults
	viper.SetDefault("broker.backend", defaults.Broker.Backend)
	viper.SetDefault("broker.channel_prefix", defaults.Broker.ChannelPrefix)
	viper.SetDefault("broker.poll_interval_ms", defaults.Broker.PollIntervalMs)
	viper.SetDefault("broker.max_log_size_kb", defaults.Broker.MaxLogSizeKB)
	viper.SetDefault("broker.workers", defaults.Broker.Workers)
	viper.SetDefault("broker.request_timeout_seconds", defaults.Broker.RequestTimeoutSeconds)
	viper.SetDefault("broker.redis.addr", defaults.Broker.Redis.Addr)
	viper.SetDefault("broker.redis.password", defaults.Broker.Redis.Password)
	viper.SetDefault("broker.redis.db", defaults.Broker.Redis.DB)

	// Dev wallet defaults
	viper.SetDefault("devwallet.address", defaults.DevWallet.Address)
	viper.SetDefault("devwallet.unlocked", defaults.DevWallet.Unlocked)
	viper.SetDefault("devwallet.balances", defaults.DevWallet.Balances)
	viper.SetDefault("devwallet.latency_ms", defaults.DevWallet.LatencyMs)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "walletgate")
	}
	// Fall back to ~/.config/walletgate
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletgate"
	}
	return filepath.Join(home, ".config", "walletgate")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultDataDir returns the state directory used when paths.data_dir is unset
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "walletgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletgate"
	}
	return filepath.Join(home, ".local", "state", "walletgate")
}

// ValidBackends returns the list of valid broker backends
func ValidBackends() []string {
	return []string{"memory", "file", "redis"}
}
