package alerting

import (
	"fmt"

	"github.com/rs/zerolog"

	"validator-watch/internal/config"
)

// BuildSenders constructs a sender for every enabled channel.
func BuildSenders(cfg config.AlertingConfig, logger zerolog.Logger) (map[Channel]Sender, error) {
	senders := make(map[Channel]Sender)
	timeout := cfg.SendTimeout

	if cfg.Discord.Enabled {
		senders[ChannelDiscordDM] = NewDiscordSender(cfg.Discord.BotToken, cfg.Discord.APIBase, timeout, logger)
	}
	if cfg.Telegram.Enabled {
		senders[ChannelTelegram] = NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.APIBase, timeout, logger)
	}
	if cfg.Twilio.Enabled {
		client := NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, cfg.Twilio.APIBase, timeout)
		senders[ChannelSMS] = NewSMSSender(client, logger)
		senders[ChannelCall] = NewCallSender(client, cfg.Twilio.CallTwiMLURL, logger)
	}
	if cfg.Email.Enabled {
		email, err := NewEmailSender(EmailOptions{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
			TLS:      cfg.Email.TLS,
			Timeout:  timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("email sender: %w", err)
		}
		senders[ChannelEmail] = email
	}
	return senders, nil
}
