package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/generator"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/recorder"
	"github.com/synheart/shakewatch/internal/scenario"
)

var (
	recordScenario string
	recordDuration string
	recordOut      string
	recordSeed     int64
	recordSource   string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Write a simulated accelerometer trace to a file",
	Long: `Generates a scenario on its virtual sample clock, as fast as possible, and
writes every sample to an NDJSON trace that detect and replay can read.

Examples:
  shakewatch sim record --scenario shake --duration 20s --out shake.ndjson
  shakewatch sim record --scenario walk --duration 1m --seed 7 --out walk.ndjson`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordScenario, "scenario", "shake", "Scenario to run")
	recordCmd.Flags().StringVar(&recordDuration, "duration", "30s", "Length of the trace on the sample clock")
	recordCmd.Flags().StringVar(&recordOut, "out", "", "Output file (required)")
	recordCmd.Flags().Int64Var(&recordSeed, "seed", time.Now().UnixNano(), "Random seed")
	recordCmd.Flags().StringVar(&recordSource, "source", "mock-phone-01", "Source ID stamped on samples")
	recordCmd.Flags().StringVar(&scenarioDir, "scenario-dir", "", "Directory with extra scenario YAML files")
	recordCmd.MarkFlagRequired("out")
}

func runRecord(cmd *cobra.Command, args []string) error {
	if _, unlimited := scenario.ParseDuration(recordDuration); unlimited {
		return fmt.Errorf("--duration must be finite to record a trace")
	}

	scen, err := loadScenario(recordScenario, recordDuration)
	if err != nil {
		return err
	}

	gen, err := generator.NewGenerator(scenario.NewEngine(scen), generator.Config{
		Seed:     recordSeed,
		SourceID: recordSource,
	})
	if err != nil {
		return err
	}

	rec, err := recorder.NewRecorder(recordOut)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	defer rec.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recording %s (%s, seed %d) to %s\n", scen.Name, scen.Duration, recordSeed, recordOut)

	samples := make(chan models.Sample, 256)
	engineDone := make(chan struct{})
	go func() {
		defer close(samples)
		defer close(engineDone)
		for {
			s, ok := nextSample(gen)
			if !ok {
				return
			}
			select {
			case samples <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	count := 0
	progress := func() {
		count++
		if count%5000 == 0 {
			appLog.Debug("recording", "samples", count)
		}
	}

	recErr := rec.RecordFromChannel(ctx, samples, progress)
	cancel()
	<-engineDone
	if recErr != nil && !errors.Is(recErr, context.Canceled) {
		return fmt.Errorf("recording error: %w", recErr)
	}

	fmt.Fprintf(out, "Recorded %d samples to %s\n", count, recordOut)
	return nil
}

// nextSample returns the next sample until the scenario completes
func nextSample(gen *generator.Generator) (models.Sample, bool) {
	trace := gen.Trace(1)
	if len(trace) == 0 {
		return models.Sample{}, false
	}
	return trace[0], true
}
