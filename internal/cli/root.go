package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shakewatch",
	Short: "shakewatch - shake gesture detection for accelerometer streams",
	Long: `shakewatch turns 3-axis accelerometer streams into discrete shake events.

It runs the detector over recorded traces, simulates phone motion from
repeatable scenarios, accepts sample batches from real devices over HTTP,
and broadcasts detected shakes over WebSocket, SSE, UDP and MQTT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadGlobals(cmd)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalOpts.ConfigPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&globalOpts.LogLevel, "log-level", globalOpts.LogLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&globalOpts.LogFormat, "log-format", globalOpts.LogFormat, "Log format: text|json")
	pf.BoolVar(&globalOpts.NoColor, "no-color", false, "Disable colored log output")

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(receiverCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
