package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"validator-watch/internal/debounce"
	"validator-watch/internal/solana"
)

// SubscriberKind is the chat platform a subscriber registered from.
type SubscriberKind string

const (
	KindDiscord  SubscriberKind = "discord"
	KindTelegram SubscriberKind = "telegram"
)

// TrackedValidator is a validator with at least one subscriber.
type TrackedValidator struct {
	Network             solana.Network
	VoteAddress         string
	DiscordSubscribers  []string
	TelegramSubscribers []string
	LastStatus          debounce.Status
	BalanceFlags        debounce.Flags
	PDABalanceFlags     debounce.Flags
	LastVoteLow         bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Subscribers returns every subscriber id across both platforms.
func (v TrackedValidator) Subscribers() []string {
	out := make([]string, 0, len(v.DiscordSubscribers)+len(v.TelegramSubscribers))
	out = append(out, v.DiscordSubscribers...)
	return append(out, v.TelegramSubscribers...)
}

// Subscriber holds per-user contact details and thresholds. A zero threshold
// is unset and follows the configured default.
type Subscriber struct {
	ID               string
	Kind             SubscriberKind
	Email            string
	EmailVerified    bool
	Phone            string
	PhoneVerified    bool
	BalanceThreshold decimal.Decimal
	PDAThreshold     decimal.Decimal
	CreatedAt        time.Time
}

// HasEmail reports whether a verified email is on file.
func (s Subscriber) HasEmail() bool { return s.Email != "" && s.EmailVerified }

// HasPhone reports whether a verified phone number is on file.
func (s Subscriber) HasPhone() bool { return s.Phone != "" && s.PhoneVerified }

// Channels are the per-validator notification switches of a subscriber.
type Channels struct {
	DiscordDM bool
	SMS       bool
	Email     bool
	Call      bool
	WhatsApp  bool
}

// DefaultChannels applies when a subscriber has no record for a validator.
func DefaultChannels() Channels { return Channels{DiscordDM: true} }

// BalanceKind separates identity and deposit account samples.
type BalanceKind string

const (
	BalanceIdentity BalanceKind = "identity"
	BalancePDA      BalanceKind = "pda"
)

// BalanceSample is one observed account balance.
type BalanceSample struct {
	Network     solana.Network
	VoteAddress string
	Kind        BalanceKind
	Address     string
	BalanceSOL  decimal.Decimal
	SampledAt   time.Time
}

// Delivery statuses.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// NotificationRecord captures a single delivery attempt.
type NotificationRecord struct {
	ID           uuid.UUID
	Signal       string
	Channel      string
	SubscriberID string
	Network      solana.Network
	VoteAddress  string
	Status       string
	Error        *string
	CreatedAt    time.Time
}
