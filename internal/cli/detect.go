package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/receiver"
	"github.com/synheart/shakewatch/internal/recorder"
)

var (
	detectIn       string
	detectFormat   string
	detectDetector detectorFlags
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run the shake detector over a recorded trace",
	Long: `Reads an NDJSON accelerometer trace ({"source","t","x","y","z"} per line),
runs every source through its own detector and prints the shakes found.

Examples:
  shakewatch detect --in session.ndjson
  shakewatch detect --in session.ndjson --format ndjson --min-force 12`,
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringVar(&detectIn, "in", "", "Trace file to scan (required)")
	detectCmd.Flags().StringVar(&detectFormat, "format", "text", "Output format: text|json|ndjson")
	addDetectorFlags(detectCmd, &detectDetector)
	detectCmd.MarkFlagRequired("in")
}

func runDetect(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(detectFormat))
	if format != "text" && format != "json" && format != "ndjson" {
		return fmt.Errorf("invalid --format %q (expected: text|json|ndjson)", detectFormat)
	}

	detCfg, err := detectDetector.resolve(cmd)
	if err != nil {
		return err
	}

	rep := recorder.NewReplayer(detectIn, 0, false)
	if _, err := rep.CountSamples(); err != nil {
		return fmt.Errorf("failed to read trace: %w", err)
	}

	drv, err := driver.New(detCfg, models.Session{RunID: detectIn}, appLog)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var writeErr error
	write := eventPrinter(out, format)
	drv.Subscribe(func(e models.ShakeEvent) {
		if err := write(&e); err != nil && writeErr == nil {
			writeErr = err
		}
	})

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	samples := make(chan models.Sample, 256)
	replayErr := make(chan error, 1)
	go func() {
		defer close(samples)
		replayErr <- rep.Replay(ctx, samples)
	}()

	if err := drv.Run(ctx, samples, nil); err != nil {
		return err
	}
	if err := <-replayErr; err != nil && err != context.Canceled {
		return fmt.Errorf("failed to read trace: %w", err)
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write event: %w", writeErr)
	}

	stats := drv.Stats()
	appLog.Info("detection complete",
		"file", detectIn,
		"samples", stats.Samples,
		"rejected", stats.Rejected,
		"sources", stats.Sources,
		"shakes", stats.Shakes)
	return nil
}

// eventPrinter renders events as one text line each, or through the receiver's
// JSON writers
func eventPrinter(out io.Writer, format string) func(*models.ShakeEvent) error {
	if format == "json" || format == "ndjson" {
		return receiver.NewStdoutWriter(out, format).Write
	}
	return func(e *models.ShakeEvent) error {
		_, err := fmt.Fprintf(out, "shake  source=%s  at=%dms  first=%dms  duration=%dms  changes=%d\n",
			e.Source, e.Shake.AtMs, e.Shake.FirstChangeMs, e.DurationMs(), e.Shake.Changes)
		return err
	}
}
