package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var listScenariosCmd = &cobra.Command{
	Use:   "list-scenarios",
	Short: "List available scenarios",
	Long:  `Lists the built-in scenarios, plus any found in the scenario directory, with their descriptions.`,
	RunE:  runListScenarios,
}

func runListScenarios(cmd *cobra.Command, args []string) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	scenarios := registry.ListWithDescriptions()
	if len(scenarios) == 0 {
		fmt.Fprintln(out, "No scenarios found")
		return nil
	}

	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Available scenarios:")
	fmt.Fprintln(out)
	for _, name := range names {
		fmt.Fprintf(out, "  %-20s %s\n", name, scenarios[name])
	}
	fmt.Fprintln(out)

	return nil
}
