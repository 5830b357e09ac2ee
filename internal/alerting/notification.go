package alerting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"validator-watch/internal/debounce"
	"validator-watch/internal/solana"
)

// Signal is the kind of condition a notification reports.
type Signal string

const (
	SignalSkipSlots  Signal = "skipSlots"
	SignalDelinquent Signal = "delinquent"
	SignalResolved   Signal = "resolved"
	SignalBalance    Signal = "balance"
	SignalPDABalance Signal = "pdaBalance"
	SignalVoteCredit Signal = "voteCredit"
)

// Signals lists every signal kind.
var Signals = []Signal{SignalSkipSlots, SignalDelinquent, SignalResolved, SignalBalance, SignalPDABalance, SignalVoteCredit}

// SignalForTransition maps a status transition to its signal.
func SignalForTransition(t debounce.Transition) (Signal, bool) {
	switch t {
	case debounce.TransitionDelinquent:
		return SignalDelinquent, true
	case debounce.TransitionResolved:
		return SignalResolved, true
	default:
		return "", false
	}
}

// Channel is an outbound delivery medium.
type Channel string

const (
	ChannelDiscordDM Channel = "discordDM"
	ChannelTelegram  Channel = "telegram"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelCall      Channel = "call"
	ChannelWhatsApp  Channel = "whatsapp"
)

// AllChannels lists every channel kind.
var AllChannels = []Channel{ChannelDiscordDM, ChannelTelegram, ChannelEmail, ChannelSMS, ChannelCall, ChannelWhatsApp}

// Payload carries display data and signal-specific fields.
type Payload struct {
	VoteAddress string
	Name        string
	Network     solana.Network
	ExplorerURL string
	At          time.Time

	SkippedSlots []uint64

	Status debounce.Status

	BalanceSOL   decimal.Decimal
	Threshold    decimal.Decimal
	IsLowBalance bool
	PDAAddress   string

	HasLowCredit bool
}

// NewPayload fills the common display fields.
func NewPayload(network solana.Network, voteAddress, name string) Payload {
	return Payload{
		VoteAddress: voteAddress,
		Name:        name,
		Network:     network,
		ExplorerURL: solana.ExplorerURL(network, voteAddress),
		At:          time.Now().UTC(),
	}
}

// Notification is one transition to fan out, with its recipients grouped by platform.
type Notification struct {
	Signal   Signal
	Payload  Payload
	Discord  []string
	Telegram []string
}

// Recipients counts the addressed subscribers.
func (n Notification) Recipients() int { return len(n.Discord) + len(n.Telegram) }

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Sender delivers a rendered message to one address of its channel.
type Sender interface {
	Send(ctx context.Context, to string, msg Message) error
}
