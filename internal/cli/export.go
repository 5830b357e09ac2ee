package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"validator-watch/internal/app"
	"validator-watch/internal/storage"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportPDA       bool
)

var exportCmd = &cobra.Command{
	Use:   "export <vote-account>",
	Short: "Export a validator's balance history as CSV and/or PNG chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			VoteAddress: args[0],
			Kind:        storage.BalanceIdentity,
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			MaxPoints:   exportMaxPoints,
		}
		if exportPDA {
			opts.Kind = storage.BalancePDA
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().BoolVar(&exportPDA, "pda", false, "Export the DoubleZero deposit account instead of the identity account")
}
