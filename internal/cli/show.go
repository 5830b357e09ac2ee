package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"validator-watch/internal/app"
)

var (
	showLimit   int
	showNetwork string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display tracked validators and recent notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit: showLimit,
		}
		if showNetwork != "" {
			network, err := networkFlag(showNetwork)
			if err != nil {
				return err
			}
			opts.Network = network
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of notifications to display")
	showCmd.Flags().StringVar(&showNetwork, "network", "", "Only show one network (mainnet or testnet)")
}
