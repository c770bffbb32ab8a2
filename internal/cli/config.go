package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/config"
	"github.com/synheart/shakewatch/internal/logging"
	"github.com/synheart/shakewatch/internal/shake"
)

// GlobalOptions are shared flags that apply across commands.
type GlobalOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	NoColor    bool
}

var globalOpts = GlobalOptions{
	LogLevel:  "info",
	LogFormat: "text",
}

// appConfig and appLog are resolved once per invocation in PersistentPreRunE
var (
	appConfig = config.Default()
	appLog    = logging.Discard()
)

// loadGlobals reads the config file and builds the logger. Flags given on the
// command line win over file values.
func loadGlobals(cmd *cobra.Command) error {
	cfg, err := config.Load(globalOpts.ConfigPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = globalOpts.LogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = globalOpts.LogFormat
	}

	log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format, globalOpts.NoColor)
	if err != nil {
		return err
	}

	appConfig = cfg
	appLog = log
	slog.SetDefault(log)
	return nil
}

// detectorFlags override the detector section of the config
type detectorFlags struct {
	minForce       float64
	minChanges     uint32
	maxPause       int64
	maxDuration    int64
	resetOnOverrun bool
}

func addDetectorFlags(cmd *cobra.Command, f *detectorFlags) {
	def := shake.DefaultConfig()
	cmd.Flags().Float64Var(&f.minForce, "min-force", def.MinForce, "Minimum magnitude jump that counts as a movement")
	cmd.Flags().Uint32Var(&f.minChanges, "min-changes", def.MinDirectionChanges, "Movements needed to fire")
	cmd.Flags().Int64Var(&f.maxPause, "max-pause", def.MaxPause, "Longest gap between movements (ms)")
	cmd.Flags().Int64Var(&f.maxDuration, "max-duration", def.MaxDuration, "Longest gesture from first to last movement (ms)")
	cmd.Flags().BoolVar(&f.resetOnOverrun, "reset-on-overrun", def.ResetOnOverrun, "Abandon a window once it exceeds --max-duration")
}

// resolve applies the flags the user set on top of the loaded config
func (f *detectorFlags) resolve(cmd *cobra.Command) (shake.Config, error) {
	cfg := appConfig.Detector
	flags := cmd.Flags()
	if flags.Changed("min-force") {
		cfg.MinForce = f.minForce
	}
	if flags.Changed("min-changes") {
		cfg.MinDirectionChanges = f.minChanges
	}
	if flags.Changed("max-pause") {
		cfg.MaxPause = f.maxPause
	}
	if flags.Changed("max-duration") {
		cfg.MaxDuration = f.maxDuration
	}
	if flags.Changed("reset-on-overrun") {
		cfg.ResetOnOverrun = f.resetOnOverrun
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("detector: %w", err)
	}
	return cfg, nil
}
