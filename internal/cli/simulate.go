package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"validator-watch/internal/alerting"
	"validator-watch/internal/app"
)

var (
	simulateSignal     string
	simulateNetwork    string
	simulateSubscriber string
	simulateSlots      string
	simulateBalance    float64
	simulateThreshold  float64
	simulateLow        bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert <vote-account>",
	Short: "模拟一次验证人告警并通过已配置通道发送",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		network, err := networkFlag(simulateNetwork)
		if err != nil {
			return err
		}
		slots, err := parseSlots(simulateSlots)
		if err != nil {
			return err
		}
		signal := alerting.Signal(simulateSignal)
		if (signal == alerting.SignalBalance || signal == alerting.SignalPDABalance) && simulateThreshold <= 0 {
			return errors.New("--threshold 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Signal:       signal,
			Network:      network,
			VoteAddress:  args[0],
			SubscriberID: simulateSubscriber,
			Slots:        slots,
			Balance:      decimal.NewFromFloat(simulateBalance),
			Threshold:    decimal.NewFromFloat(simulateThreshold),
			Low:          simulateLow,
		})
	},
}

func parseSlots(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	slots := make([]uint64, 0, len(parts))
	for _, p := range parts {
		slot, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --slots entry %q: %w", p, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSignal, "signal", string(alerting.SignalDelinquent), "Signal to simulate (skipSlots, delinquent, resolved, balance, pdaBalance, voteCredit)")
	simulateCmd.Flags().StringVar(&simulateNetwork, "network", "mainnet", "Network of the validator")
	simulateCmd.Flags().StringVar(&simulateSubscriber, "subscriber", "", "Only notify this subscriber")
	simulateCmd.Flags().StringVar(&simulateSlots, "slots", "", "Comma separated skipped slots")
	simulateCmd.Flags().Float64Var(&simulateBalance, "balance", 0, "余额 (SOL)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "阈值 (SOL)")
	simulateCmd.Flags().BoolVar(&simulateLow, "low", true, "Report the low state instead of the recovery")
}
