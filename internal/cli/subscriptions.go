package cli

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"validator-watch/internal/app"
	"validator-watch/internal/storage"
)

var (
	subNetwork    string
	subSubscriber string
	subKind       string

	thresholdBalance float64
	thresholdPDA     float64

	chDiscord bool
	chSMS     bool
	chEmail   bool
	chCall    bool

	contactEmail         string
	contactEmailVerified bool
	contactPhone         string
	contactPhoneVerified bool
)

func trackOptions(vote string) (app.TrackOptions, error) {
	network, err := networkFlag(subNetwork)
	if err != nil {
		return app.TrackOptions{}, err
	}
	return app.TrackOptions{
		Network:      network,
		VoteAddress:  vote,
		SubscriberID: subSubscriber,
		Kind:         storage.SubscriberKind(subKind),
	}, nil
}

var trackCmd = &cobra.Command{
	Use:   "track <vote-account>",
	Short: "Subscribe a user to a validator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := trackOptions(args[0])
		if err != nil {
			return err
		}
		return getApp().Track(cmd.Context(), opts)
	},
}

var untrackCmd = &cobra.Command{
	Use:   "untrack <vote-account>",
	Short: "Unsubscribe a user from a validator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := trackOptions(args[0])
		if err != nil {
			return err
		}
		return getApp().Untrack(cmd.Context(), opts)
	},
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Set a subscriber's balance thresholds in SOL",
	RunE: func(cmd *cobra.Command, args []string) error {
		var balance, pda *decimal.Decimal
		if cmd.Flags().Changed("balance") {
			v := decimal.NewFromFloat(thresholdBalance)
			balance = &v
		}
		if cmd.Flags().Changed("pda") {
			v := decimal.NewFromFloat(thresholdPDA)
			pda = &v
		}
		return getApp().SetThresholds(cmd.Context(), subSubscriber, balance, pda)
	},
}

var channelsCmd = &cobra.Command{
	Use:   "channels <vote-account>",
	Short: "Choose the channels a discord subscriber is notified on for a validator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := trackOptions(args[0])
		if err != nil {
			return err
		}
		return getApp().SetChannels(cmd.Context(), opts, storage.Channels{
			DiscordDM: chDiscord,
			SMS:       chSMS,
			Email:     chEmail,
			Call:      chCall,
		})
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Store a subscriber's email and phone number",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetContact(cmd.Context(), app.ContactOptions{
			SubscriberID:  subSubscriber,
			Email:         contactEmail,
			EmailVerified: contactEmailVerified,
			Phone:         contactPhone,
			PhoneVerified: contactPhoneVerified,
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{trackCmd, untrackCmd, thresholdsCmd, channelsCmd, contactCmd} {
		c.Flags().StringVar(&subSubscriber, "subscriber", "", "Subscriber id (discord user id or telegram chat id)")
		_ = c.MarkFlagRequired("subscriber")
	}
	for _, c := range []*cobra.Command{trackCmd, untrackCmd, channelsCmd} {
		c.Flags().StringVar(&subNetwork, "network", "mainnet", "Network of the validator")
	}
	trackCmd.Flags().StringVar(&subKind, "kind", string(storage.KindDiscord), "Subscriber platform (discord or telegram)")

	thresholdsCmd.Flags().Float64Var(&thresholdBalance, "balance", 0, "Identity balance threshold in SOL [0.1, 100]")
	thresholdsCmd.Flags().Float64Var(&thresholdPDA, "pda", 0, "Deposit account threshold in SOL [0.05, 100]")

	channelsCmd.Flags().BoolVar(&chDiscord, "discord", true, "Discord direct messages")
	channelsCmd.Flags().BoolVar(&chSMS, "sms", false, "SMS (needs a verified phone)")
	channelsCmd.Flags().BoolVar(&chEmail, "email", false, "Email (needs a verified address)")
	channelsCmd.Flags().BoolVar(&chCall, "call", false, "Voice call on delinquency (needs a verified phone)")

	contactCmd.Flags().StringVar(&contactEmail, "email", "", "Email address")
	contactCmd.Flags().BoolVar(&contactEmailVerified, "email-verified", false, "Mark the email address as verified")
	contactCmd.Flags().StringVar(&contactPhone, "phone", "", "Phone number in E.164 form")
	contactCmd.Flags().BoolVar(&contactPhoneVerified, "phone-verified", false, "Mark the phone number as verified")
}
