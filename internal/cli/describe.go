package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/synheart/shakewatch/internal/scenario"
)

var describeCmd = &cobra.Command{
	Use:   "describe <scenario>",
	Short: "Describe a scenario in detail",
	Long: `Shows detailed information about a scenario: sample rate, phases and the
motion of each phase. The bar compares each phase's peak-to-peak swing with the
configured min force; a full bar means the swing alone can open a shake window.`,
	Args: cobra.ExactArgs(1),
	RunE: runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	scen, err := registry.Get(args[0])
	if err != nil {
		return fmt.Errorf("scenario not found: %w", err)
	}

	out := cmd.OutOrStdout()
	minForce := appConfig.Detector.MinForce

	fmt.Fprintf(out, "Scenario:    %s\n", scen.Name)
	fmt.Fprintf(out, "Description: %s\n", scen.Description)
	fmt.Fprintf(out, "Duration:    %s\n", scen.Duration)
	fmt.Fprintf(out, "Rate:        %s (jitter %.0f%%)\n\n", scen.Rate, scen.Jitter*100)

	fmt.Fprintln(out, "Base motion:")
	printMotion(out, resolveMotion(scen, nil), minForce, "  ")

	if len(scen.Phases) > 0 {
		fmt.Fprintln(out, "\nPhases:")
		for i := range scen.Phases {
			phase := scen.Phases[i]
			fmt.Fprintf(out, "  %d. %s (duration: %s)\n", i+1, phase.Name, phase.Duration)
			if phase.Motion != nil {
				printMotion(out, resolveMotion(scen, &phase), minForce, "     ")
			}
		}
	}

	fmt.Fprintln(out)
	return nil
}

// resolveMotion merges a phase's motion over the scenario defaults; a nil
// phase gives the defaults alone
func resolveMotion(scen *scenario.Scenario, phase *scenario.Phase) scenario.Motion {
	single := *scen
	single.Phases = nil
	if phase != nil {
		single.Phases = []scenario.Phase{*phase}
	}
	return single.MotionAt(0)
}

func printMotion(out io.Writer, m scenario.Motion, minForce float64, indent string) {
	fmt.Fprintf(out, "%sGravity: %v  Noise: %.2f\n", indent, m.Gravity, m.Noise)
	if m.Shake == nil {
		fmt.Fprintf(out, "%sShake:   none\n", indent)
		return
	}

	swing := 2 * m.Shake.Amplitude
	ratio := 1.0
	if minForce > 0 {
		ratio = swing / minForce
	}
	fmt.Fprintf(out, "%sShake:   axis=%s amplitude=%.1f frequency=%.1fHz\n",
		indent, m.Shake.Axis, m.Shake.Amplitude, m.Shake.Frequency)
	fmt.Fprintf(out, "%sSwing:   %s %.1f / %.1f\n", indent, renderBar(ratio, 20), swing, minForce)
}
