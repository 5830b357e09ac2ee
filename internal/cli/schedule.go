package cli

import (
	"github.com/spf13/cobra"

	"validator-watch/internal/app"
)

var (
	scheduleNetwork string
	scheduleJSON    bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <vote-account>",
	Short: "Print the leader slot groups and predicted check times of a validator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := networkFlag(scheduleNetwork)
		if err != nil {
			return err
		}
		return getApp().Schedule(cmd.Context(), app.ScheduleOptions{
			Network:     network,
			VoteAddress: args[0],
			JSON:        scheduleJSON,
		})
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleNetwork, "network", "mainnet", "Network of the validator")
	scheduleCmd.Flags().BoolVar(&scheduleJSON, "json", false, "Print the plan as JSON")
}
