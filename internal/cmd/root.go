package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdconfig "github.com/Iron-Ham/walletgate/internal/cmd/config"
	"github.com/Iron-Ham/walletgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "walletgate",
	Short: "Transaction-approval mediator for a custodial wallet",
	Long: `Walletgate queues wallet actions requested by programs and shows them
to a human operator one at a time. Nothing is signed until the operator
approves, and nothing is approved that the balance cannot cover.

Run 'walletgate serve' to own the queue, then submit and decide actions
from any other process on the same host (or across hosts with the redis
broker).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/walletgate/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log client activity to stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	cmdconfig.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/walletgate")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WALLETGATE")
	// e.g., WALLETGATE_BROKER_BACKEND for broker.backend
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
