package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Global flag values.
var (
	flagConfigFile string

	// cfg holds the merged flags, environment and config file. Set by
	// PersistentPreRunE so all subcommands can use it.
	cfg *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:     "sheetsync",
	Short:   "sheetsync mirrors agent-streamed sheets locally",
	Version: version,
	Long: `sheetsync connects to an agent server over WebSocket, applies the row,
cell and tool call events it streams to local tables, and uploads files for
extraction.

Settings are read from flags, then SHEETSYNC_* environment variables, then
config.yaml in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		v, err := loadConfig(cmd, flagConfigFile)
		if err != nil {
			return err
		}
		cfg = v
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "config file (default: ./config.yaml)")
	addClientFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(submitCmd)
}

// addClientFlags registers the connection settings. Each one can also be set
// as SHEETSYNC_<NAME> or as <name> in config.yaml.
func addClientFlags(flags *pflag.FlagSet) {
	flags.String(cfgKeyEndpoint, "", "agent endpoint, absolute ws(s):// URL or path resolved against --origin")
	flags.String(cfgKeyOrigin, "", "page origin used to resolve a relative endpoint")
	flags.String(cfgKeyClientID, "", "client id (default: random UUID)")
	flags.String(cfgKeyTransport, defaultTransport, "WebSocket transport: gorilla or gws")
	flags.Duration(cfgKeyReconnectDelay, defaultReconnectDelay, "delay between reconnection attempts")
	flags.Duration(cfgKeyHeartbeat, 0, "ping interval, 0 disables heartbeats")
	flags.String(cfgKeyLogLevel, defaultLogLevel, "log level: debug, info, warn, error")
}
