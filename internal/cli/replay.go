package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/recorder"
)

var (
	replayIn        string
	replaySpeed     float64
	replayLoop      bool
	replayDetector  detectorFlags
	replayTransport transportFlags
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded trace through the detector",
	Long: `Replays samples from a previously recorded NDJSON trace with their original
timing, detects shakes and broadcasts them like sim start does.

Examples:
  shakewatch sim replay --in shake.ndjson
  shakewatch sim replay --in walk.ndjson --speed 4 --loop
  shakewatch sim replay --in shake.ndjson --speed 0 --min-force 12`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayIn, "in", "", "Input file to replay (required)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays as fast as possible)")
	replayCmd.Flags().BoolVar(&replayLoop, "loop", false, "Loop playback continuously")
	addDetectorFlags(replayCmd, &replayDetector)
	addTransportFlags(replayCmd, &replayTransport)
	replayCmd.MarkFlagRequired("in")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replaySpeed < 0 {
		return fmt.Errorf("--speed must not be negative")
	}

	rep := recorder.NewReplayer(replayIn, replaySpeed, replayLoop)

	count, err := rep.CountSamples()
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}
	first, err := rep.FirstSample()
	if err != nil {
		return fmt.Errorf("failed to read first sample: %w", err)
	}
	span, err := rep.Span()
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}

	detCfg, err := replayDetector.resolve(cmd)
	if err != nil {
		return err
	}
	drv, err := driver.New(detCfg, models.Session{RunID: replayIn}, appLog)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	events := make(chan models.ShakeEvent, 100)
	tc, mc := replayTransport.resolve(cmd)
	sinks, err := startSinks(ctx, events, tc, mc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replay session started\n\n")
	fmt.Fprintf(out, "File:         %s\n", replayIn)
	fmt.Fprintf(out, "Samples:      %d\n", count)
	fmt.Fprintf(out, "Span:         %s\n", span)
	fmt.Fprintf(out, "First source: %s\n", first.Source)
	if replaySpeed == 0 {
		fmt.Fprintf(out, "Speed:        unpaced\n")
	} else {
		fmt.Fprintf(out, "Speed:        %.1fx\n", replaySpeed)
	}
	fmt.Fprintf(out, "Loop:         %v\n", replayLoop)
	sinks.printAddresses(out)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	samples := make(chan models.Sample, 100)
	driverErr := make(chan error, 1)
	go func() {
		defer close(events)
		driverErr <- drv.Run(ctx, samples, events)
	}()

	replayErr := rep.Replay(ctx, samples)
	close(samples)

	if err := <-driverErr; err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("detector stopped", "error", err)
	}
	if err := sinks.Close(); err != nil {
		appLog.Warn("failed to close sinks", "error", err)
	}

	stats := drv.Stats()
	appLog.Info("replay stopped",
		"samples", stats.Samples,
		"rejected", stats.Rejected,
		"shakes", stats.Shakes,
		"dropped", sinks.dispatcher.GetDroppedCount())

	if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
		return fmt.Errorf("replay error: %w", replayErr)
	}
	return nil
}
