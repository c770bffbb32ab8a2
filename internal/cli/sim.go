package cli

import (
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulated accelerometer feeds",
	Long:  `Commands for generating, recording, replaying and pushing simulated accelerometer data.`,
}

func init() {
	simCmd.AddCommand(startCmd)
	simCmd.AddCommand(recordCmd)
	simCmd.AddCommand(replayCmd)
	simCmd.AddCommand(pushCmd)
	simCmd.AddCommand(listScenariosCmd)
	simCmd.AddCommand(describeCmd)
}
