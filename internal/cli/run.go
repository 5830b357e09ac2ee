package cli

import (
	"github.com/spf13/cobra"
)

var (
	runStatusAddr string
	runNoStatus   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runStatusAddr != "" {
			a.Config.Status.ListenAddr = runStatusAddr
		}
		if runNoStatus {
			a.Config.Status.Enabled = false
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "", "Override the status server listen address")
	runCmd.Flags().BoolVar(&runNoStatus, "no-status", false, "Disable the status server")
}
