package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// TrackOptions identify one subscription.
type TrackOptions struct {
	Network      solana.Network
	VoteAddress  string
	SubscriberID string
	Kind         storage.SubscriberKind
}

func (o TrackOptions) validate() error {
	if _, err := solana.ParsePublicKey(o.VoteAddress); err != nil {
		return fmt.Errorf("invalid vote account: %w", err)
	}
	if o.SubscriberID == "" {
		return fmt.Errorf("a subscriber id is required")
	}
	return nil
}

// Track subscribes a user to a validator. The running service picks the
// change up on its next subscription poll.
func (a *App) Track(ctx context.Context, opts TrackOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	switch opts.Kind {
	case storage.KindDiscord, storage.KindTelegram:
	default:
		return fmt.Errorf("subscriber kind must be %q or %q", storage.KindDiscord, storage.KindTelegram)
	}

	store, closeStore, err := a.requireStore(ctx, "track")
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Subscribe(ctx, opts.Network, opts.VoteAddress, storage.Subscriber{ID: opts.SubscriberID, Kind: opts.Kind}); err != nil {
		return err
	}
	a.Logger.Info().
		Str("network", string(opts.Network)).
		Str("vote_address", opts.VoteAddress).
		Str("subscriber", opts.SubscriberID).
		Msg("subscription added")
	return nil
}

// Untrack removes a subscription.
func (a *App) Untrack(ctx context.Context, opts TrackOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "untrack")
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.Unsubscribe(ctx, opts.Network, opts.VoteAddress, opts.SubscriberID)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("network", string(opts.Network)).
		Str("vote_address", opts.VoteAddress).
		Str("subscriber", opts.SubscriberID).
		Bool("validator_removed", removed).
		Msg("subscription removed")
	return nil
}

// SetThresholds updates whichever thresholds are non-nil.
func (a *App) SetThresholds(ctx context.Context, subscriberID string, balance, pda *decimal.Decimal) error {
	if balance == nil && pda == nil {
		return fmt.Errorf("nothing to update; pass --balance and/or --pda")
	}

	store, closeStore, err := a.requireStore(ctx, "set thresholds")
	if err != nil {
		return err
	}
	defer closeStore()

	return store.SetThresholds(ctx, subscriberID, balance, pda)
}

// SetChannels replaces a subscriber's channel switches for one validator.
func (a *App) SetChannels(ctx context.Context, opts TrackOptions, channels storage.Channels) error {
	if err := opts.validate(); err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "set channels")
	if err != nil {
		return err
	}
	defer closeStore()

	return store.SetChannels(ctx, opts.SubscriberID, opts.Network, opts.VoteAddress, channels)
}

// ContactOptions are a subscriber's contact details.
type ContactOptions struct {
	SubscriberID  string
	Email         string
	EmailVerified bool
	Phone         string
	PhoneVerified bool
}

// SetContact stores contact details used by the email, sms and call channels.
func (a *App) SetContact(ctx context.Context, opts ContactOptions) error {
	if opts.SubscriberID == "" {
		return fmt.Errorf("a subscriber id is required")
	}

	store, closeStore, err := a.requireStore(ctx, "set contact")
	if err != nil {
		return err
	}
	defer closeStore()

	return store.SetContact(ctx, opts.SubscriberID, opts.Email, opts.EmailVerified, opts.Phone, opts.PhoneVerified)
}
