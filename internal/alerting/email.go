package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// EmailOptions configures SMTP delivery.
type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      string
	Timeout  time.Duration
}

// EmailSender delivers plain-text mail over SMTP.
type EmailSender struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmailSender validates opts and returns a sender. Connections are dialled per message.
func NewEmailSender(opts EmailOptions, logger zerolog.Logger) (*EmailSender, error) {
	if opts.Host == "" || opts.From == "" {
		return nil, fmt.Errorf("email host and from are required")
	}
	if _, err := clientOptions(opts); err != nil {
		return nil, err
	}
	return &EmailSender{opts: opts, logger: logger.With().Str("component", "alert_email").Logger()}, nil
}

// Send mails msg to the address.
func (s *EmailSender) Send(ctx context.Context, to string, msg Message) error {
	m, err := buildMail(s.opts, to, msg)
	if err != nil {
		return err
	}

	opts, err := clientOptions(s.opts)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.opts.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	s.logger.Debug().Str("to", to).Msg("告警已发送 (Email)")
	return nil
}

func buildMail(opts EmailOptions, to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if opts.FromName != "" {
		if err := m.FromFormat(opts.FromName, opts.From); err != nil {
			return nil, fmt.Errorf("set from: %w", err)
		}
	} else if err := m.From(opts.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func clientOptions(opts EmailOptions) ([]mail.Option, error) {
	var out []mail.Option
	switch strings.ToLower(opts.TLS) {
	case "", "starttls":
		out = append(out, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "tls":
		out = append(out, mail.WithSSLPort(false))
	case "none":
		out = append(out, mail.WithTLSPolicy(mail.NoTLS))
	default:
		return nil, fmt.Errorf("unknown email tls mode %q", opts.TLS)
	}
	// an explicit port must come after the TLS policy, which resets it
	if opts.Port > 0 {
		out = append(out, mail.WithPort(opts.Port))
	}
	if opts.Timeout > 0 {
		out = append(out, mail.WithTimeout(opts.Timeout))
	}
	if opts.Username != "" {
		out = append(out,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password),
		)
	}
	return out, nil
}

var _ Sender = (*EmailSender)(nil)
