package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/config"
	"github.com/synheart/shakewatch/internal/generator"
	"github.com/synheart/shakewatch/internal/models"
	"github.com/synheart/shakewatch/internal/receiver"
	"github.com/synheart/shakewatch/internal/scenario"
)

var (
	pushURL       string
	pushToken     string
	pushGzip      bool
	pushBatchSize int
	pushScenario  string
	pushDuration  string
	pushSeed      int64
	pushSource    string
	pushPlatform  string
	pushRealtime  bool
	pushRetries   int
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload a simulated feed to a receiver",
	Long: `Generates a scenario and uploads it to a running receiver in batches, the
way a phone app would. Prints the shakes the receiver reports back.

Examples:
  shakewatch sim push --token sw_abc123
  shakewatch sim push --url http://192.168.1.20:8790 --scenario pocket --gzip
  shakewatch sim push --scenario shake --duration 1m --realtime`,
	RunE: runPush,
}

func init() {
	def := config.Default().Receiver
	pushCmd.Flags().StringVar(&pushURL, "url", fmt.Sprintf("http://127.0.0.1:%d", def.Port), "Receiver base URL")
	pushCmd.Flags().StringVar(&pushToken, "token", "", "Bearer token printed by the receiver")
	pushCmd.Flags().BoolVar(&pushGzip, "gzip", false, "Compress batches with gzip")
	pushCmd.Flags().IntVar(&pushBatchSize, "batch-size", 50, "Samples per batch")
	pushCmd.Flags().StringVar(&pushScenario, "scenario", "shake", "Scenario to run")
	pushCmd.Flags().StringVar(&pushDuration, "duration", "20s", "Length of the feed on the sample clock")
	pushCmd.Flags().Int64Var(&pushSeed, "seed", time.Now().UnixNano(), "Random seed")
	pushCmd.Flags().StringVar(&pushSource, "source", "mock-phone-01", "Source ID of the simulated phone")
	pushCmd.Flags().StringVar(&pushPlatform, "platform", "android", "Device platform reported in each batch")
	pushCmd.Flags().BoolVar(&pushRealtime, "realtime", false, "Send each batch when its last sample would have been taken")
	pushCmd.Flags().IntVar(&pushRetries, "retries", 3, "Attempts per batch when the receiver throttles")
	pushCmd.Flags().StringVar(&scenarioDir, "scenario-dir", "", "Directory with extra scenario YAML files")
}

func runPush(cmd *cobra.Command, args []string) error {
	if _, unlimited := scenario.ParseDuration(pushDuration); unlimited {
		return fmt.Errorf("--duration must be finite to push a feed")
	}
	if pushRetries < 1 {
		return fmt.Errorf("--retries must be at least 1")
	}

	scen, err := loadScenario(pushScenario, pushDuration)
	if err != nil {
		return err
	}

	gen, err := generator.NewGenerator(scenario.NewEngine(scen), generator.Config{
		Seed:     pushSeed,
		SourceID: pushSource,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	client := receiver.NewClient(pushURL, pushToken, pushGzip)
	batcher := generator.NewBatcher(gen.Source(), pushPlatform, pushBatchSize)
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Pushing %s (%s, seed %d) to %s%s\n\n", scen.Name, scen.Duration, pushSeed, pushURL, receiver.SamplesPath)

	started := time.Now()
	var batches, shakes int
	send := func(batch *models.SampleBatch) error {
		if pushRealtime {
			last := batch.Samples[len(batch.Samples)-1].T
			wait := time.Until(started.Add(time.Duration(last) * time.Millisecond))
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		receipt, err := client.PushWithRetry(ctx, batch, pushRetries)
		if err != nil {
			return fmt.Errorf("batch %s: %w", batch.BatchID, err)
		}
		batches++
		shakes += len(receipt.Shakes)
		printReceipt(out, receipt)
		return nil
	}

	for {
		s, ok := nextSample(gen)
		if !ok {
			break
		}
		if batch, full := batcher.Add(s); full {
			if err := send(batch); err != nil {
				return err
			}
		}
	}
	if batch := batcher.Flush(); batch != nil {
		if err := send(batch); err != nil {
			return err
		}
	}

	appLog.Info("push complete", "batches", batches, "shakes", shakes, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

func printReceipt(out io.Writer, r models.BatchReceipt) {
	dup := ""
	if r.Duplicate {
		dup = " (duplicate)"
	}
	fmt.Fprintf(out, "batch %s  samples=%d  range=%s%s\n", r.BatchID, r.SampleCount, r.Range, dup)
	for _, e := range r.Shakes {
		fmt.Fprintf(out, "  shake  at=%dms  duration=%dms  changes=%d\n", e.Shake.AtMs, e.DurationMs(), e.Shake.Changes)
	}
}
