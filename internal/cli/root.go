// Package cli provides the command-line interface for the companion
// client. Grounded on the teacher's internal/cli (cobra root command +
// viper config-file search order, persistent --config/--log-level/
// --log-format flags).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meshcore-companion",
	Short: "A companion client for MeshCore-protocol radios",
	Long: `meshcore-companion pairs with a MeshCore-protocol mesh radio over
BLE or serial, keeps a local contact/message/session store in sync with
the device, and forwards notable events to configurable sinks (stdout,
file, webhook, Apprise, MQTT).`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.config/meshcore-companion/config.yml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.config/meshcore-companion")
		viper.AddConfigPath("/etc/meshcore-companion")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("MESHCORE_COMPANION")
	viper.AutomaticEnv()

	// Read config file if it exists (errors are intentionally ignored)
	_ = viper.ReadInConfig()
}

// GetConfigFile returns the config file being used.
func GetConfigFile() string {
	return viper.ConfigFileUsed()
}
