package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/driver"
	"github.com/synheart/shakewatch/internal/generator"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/recorder"
	"github.com/synheart/shakewatch/internal/scenario"
)

var (
	startScenario  string
	startDuration  string
	startSeed      int64
	startSource    string
	startOut       string
	startDetector  detectorFlags
	startTransport transportFlags
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Simulate a phone, detect shakes and broadcast them",
	Long: `Generates accelerometer samples from a scenario in real time, runs them
through the shake detector and broadcasts every detected shake over WebSocket,
SSE, UDP and (optionally) MQTT.

Examples:
  shakewatch sim start --scenario shake
  shakewatch sim start --scenario pocket --duration 30s --out pocket.ndjson
  shakewatch sim start --scenario shake --mqtt-broker localhost:1883`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startScenario, "scenario", "shake", "Scenario to run")
	startCmd.Flags().StringVar(&startDuration, "duration", "", "Override the scenario duration (e.g., 30s, 5m)")
	startCmd.Flags().Int64Var(&startSeed, "seed", time.Now().UnixNano(), "Random seed for deterministic output")
	startCmd.Flags().StringVar(&startSource, "source", "mock-phone-01", "Source ID stamped on samples and events")
	startCmd.Flags().StringVar(&startOut, "out", "", "Also record the raw samples to this NDJSON file")
	startCmd.Flags().StringVar(&scenarioDir, "scenario-dir", "", "Directory with extra scenario YAML files")
	addDetectorFlags(startCmd, &startDetector)
	addTransportFlags(startCmd, &startTransport)
}

func runStart(cmd *cobra.Command, args []string) error {
	scen, err := loadScenario(startScenario, startDuration)
	if err != nil {
		return err
	}

	detCfg, err := startDetector.resolve(cmd)
	if err != nil {
		return err
	}

	gen, err := generator.NewGenerator(scenario.NewEngine(scen), generator.Config{
		Seed:     startSeed,
		SourceID: startSource,
	})
	if err != nil {
		return err
	}

	session := models.Session{RunID: gen.RunID(), Scenario: scen.Name, Seed: startSeed}
	drv, err := driver.New(detCfg, session, appLog)
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	if startOut != "" {
		rec, err = recorder.NewRecorder(startOut)
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		defer rec.Close()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	events := make(chan models.ShakeEvent, 100)
	tc, mc := startTransport.resolve(cmd)
	sinks, err := startSinks(ctx, events, tc, mc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Shake simulator started\n\n")
	fmt.Fprintf(out, "Scenario:     %s\n", scen.Name)
	fmt.Fprintf(out, "Source:       %s\n", gen.Source())
	fmt.Fprintf(out, "Rate:         %s (jitter %.0f%%)\n", scen.Rate, scen.Jitter*100)
	fmt.Fprintf(out, "Seed:         %d\n", startSeed)
	if rec != nil {
		fmt.Fprintf(out, "Recording:    %s\n", startOut)
	}
	sinks.printAddresses(out)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	generated := make(chan models.Sample, 100)
	var detected <-chan models.Sample = generated
	if rec != nil {
		detected = teeToRecorder(ctx, generated, rec)
	}

	driverErr := make(chan error, 1)
	go func() {
		defer close(events)
		driverErr <- drv.Run(ctx, detected, events)
	}()

	ticker := time.NewTicker(gen.Interval())
	defer ticker.Stop()
	genErr := gen.Generate(ctx, ticker, generated)
	close(generated)

	if err := <-driverErr; err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("detector stopped", "error", err)
	}
	if err := sinks.Close(); err != nil {
		appLog.Warn("failed to close sinks", "error", err)
	}

	stats := drv.Stats()
	appLog.Info("simulation stopped", "samples", stats.Samples, "shakes", stats.Shakes)

	if genErr != nil && !errors.Is(genErr, context.Canceled) {
		return fmt.Errorf("generator error: %w", genErr)
	}
	return nil
}

// teeToRecorder writes every sample to rec and passes it on
func teeToRecorder(ctx context.Context, in <-chan models.Sample, rec *recorder.Recorder) <-chan models.Sample {
	out := make(chan models.Sample, cap(in))
	go func() {
		defer close(out)
		for s := range in {
			if err := rec.Record(s); err != nil {
				appLog.Warn("failed to record sample", "t", s.T, "error", err)
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
