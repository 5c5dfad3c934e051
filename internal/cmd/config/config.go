// Package config provides CLI commands for managing walletgate configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/walletgate/internal/config"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify walletgate configuration",
	Long: `View or modify walletgate configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  walletgate config set gate.block_unverified true
  walletgate config set broker.backend redis
  walletgate config set devwallet.balances.PLUS 250

Valid keys:
  mediator.default_token             - Token for actions that name none
  mediator.execution_timeout_seconds - Custody call timeout
  mediator.outcome_retention_minutes - How long outcomes stay queryable
  mediator.invalidate_on_lock        - Fail active actions when the wallet locks
  gate.block_unverified              - Refuse approval while the balance is unknown
                                       (reloaded live by 'walletgate serve')
  notify.buffer                      - Snapshots buffered per console
  broker.backend                     - Transport: memory, file, redis
  broker.channel_prefix              - Prefix for broker topics
  broker.poll_interval_ms            - File broker poll interval
  broker.max_log_size_kb             - File broker topic log truncation size (0 = never)
  broker.workers                     - Concurrent requests handled by serve
  broker.request_timeout_seconds     - Client request timeout
  broker.redis.addr                  - Redis address (host:port)
  broker.redis.db                    - Redis database number
  devwallet.address                  - Dev wallet address
  devwallet.unlocked                 - Start the dev wallet unlocked
  devwallet.latency_ms               - Simulated transfer latency
  devwallet.balances.<TOKEN>         - Dev wallet balance for a token
  logging.enabled                    - Write walletgate.log
  logging.level                      - debug, info, warn, error
  paths.data_dir                     - Lock, broker topics and logs`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at $XDG_CONFIG_HOME/walletgate/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE:  runConfigEdit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
}

// Register adds the config command to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}
	fmt.Fprintf(out, "# Data dir: %s\n", cfg.Paths.ResolveDataDir())
	return writeYAML(out, cfg)
}

func writeYAML(w io.Writer, cfg *appconfig.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// settableKeys maps each key accepted by 'config set' to its value kind.
var settableKeys = map[string]string{
	"mediator.default_token":             "token",
	"mediator.execution_timeout_seconds": "int",
	"mediator.outcome_retention_minutes": "int",
	"mediator.outcome_retention_size":    "int",
	"mediator.invalidate_on_lock":        "bool",
	"gate.block_unverified":              "bool",
	"notify.buffer":                      "int",
	"broker.backend":                     "backend",
	"broker.channel_prefix":              "string",
	"broker.poll_interval_ms":            "int",
	"broker.max_log_size_kb":             "int",
	"broker.workers":                     "int",
	"broker.request_timeout_seconds":     "int",
	"broker.redis.addr":                  "string",
	"broker.redis.password":              "string",
	"broker.redis.db":                    "int",
	"devwallet.address":                  "string",
	"devwallet.unlocked":                 "bool",
	"devwallet.latency_ms":               "int",
	"logging.enabled":                    "bool",
	"logging.level":                      "level",
	"logging.dir":                        "string",
	"logging.max_size_mb":                "int",
	"logging.max_backups":                "int",
	"paths.data_dir":                     "string",
}

// parseSetting validates value for key and converts it to its typed form.
func parseSetting(key, value string) (any, error) {
	keyType, ok := settableKeys[key]
	if !ok && strings.HasPrefix(key, "devwallet.balances.") && len(key) > len("devwallet.balances.") {
		keyType = "balance"
	} else if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'walletgate config set --help' to see valid keys", key)
	}

	switch keyType {
	case "backend":
		if !slices.Contains(appconfig.ValidBackends(), value) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidBackends(), ", "))
		}
		return value, nil
	case "level":
		level := strings.ToLower(value)
		if !slices.Contains(appconfig.ValidLogLevels(), level) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
		}
		return level, nil
	case "token":
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("invalid value for %s: must not be empty", key)
		}
		return strings.ToUpper(value), nil
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return intVal, nil
	case "balance":
		if _, err := decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a decimal amount", key)
		}
		return value, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseSetting(key, args[1])
	if err != nil {
		return err
	}

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set(key, typedValue)
	if _, err := appconfig.Load(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const configHeader = `# walletgate configuration
#
# Environment variables override every key: WALLETGATE_<SECTION>_<KEY>,
# e.g. WALLETGATE_BROKER_BACKEND=redis.
#
# gate.block_unverified is reloaded live by a running 'walletgate serve'.

`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'walletgate config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var b strings.Builder
	b.WriteString(configHeader)
	if err := writeYAML(&b, appconfig.Default()); err != nil {
		return err
	}
	if err := os.WriteFile(configFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. $HOME/.config/walletgate/config.yaml")
	fmt.Fprintln(out, "  3. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: WALLETGATE_* (e.g., WALLETGATE_GATE_BLOCK_UNVERIFIED)")
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	editor, err := findEditor()
	if err != nil {
		return err
	}

	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

func findEditor() (string, error) {
	for _, env := range []string{"EDITOR", "VISUAL"} {
		if e := os.Getenv(env); e != "" {
			return e, nil
		}
	}
	for _, e := range []string{"vim", "nano", "vi"} {
		if _, err := execLookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found. Set $EDITOR environment variable")
}
