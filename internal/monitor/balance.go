package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// BalanceReader reads account balances.
type BalanceReader interface {
	AccountBalance(ctx context.Context, address string) (uint64, error)
}

// BalanceStore covers what a balance tracker reads and writes.
type BalanceStore interface {
	TrackedLister
	GetSubscribers(ctx context.Context, ids []string) (map[string]storage.Subscriber, error)
	MergeBalanceFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error
	MergePDAFlags(ctx context.Context, network solana.Network, voteAddress string, updates debounce.Flags) error
	InsertBalanceSample(ctx context.Context, sample storage.BalanceSample) error
}

// AddressResolver picks the account to watch for a validator. ok is false when
// the validator has no such account.
type AddressResolver func(ctx context.Context, info directory.Info) (address string, ok bool, err error)

// IdentityAddress watches the validator's identity account.
func IdentityAddress(_ context.Context, info directory.Info) (string, bool, error) {
	return info.IdentityID, info.IdentityID != "", nil
}

// BalanceOptions configure a tracker.
type BalanceOptions struct {
	Kind             storage.BalanceKind
	Network          solana.Network
	DefaultThreshold decimal.Decimal
	Resolve          AddressResolver
	Now              func() time.Time
}

// BalanceTracker compares one account balance per validator against every
// subscriber's threshold and notifies on crossings.
type BalanceTracker struct {
	opts     BalanceOptions
	reader   BalanceReader
	store    BalanceStore
	dir      directory.Lookup
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// NewBalanceTracker wires a tracker. The PDA kind needs a resolver; the identity kind defaults to IdentityAddress.
func NewBalanceTracker(opts BalanceOptions, reader BalanceReader, store BalanceStore, dir directory.Lookup, notifier alerting.Notifier, logger zerolog.Logger) *BalanceTracker {
	if opts.Kind == "" {
		opts.Kind = storage.BalanceIdentity
	}
	if opts.Network == "" {
		opts.Network = solana.Mainnet
	}
	if opts.Resolve == nil {
		opts.Resolve = IdentityAddress
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BalanceTracker{
		opts:     opts,
		reader:   reader,
		store:    store,
		dir:      dir,
		notifier: notifier,
		logger:   logger.With().Str("component", "balance_"+string(opts.Kind)).Logger(),
	}
}

func (t *BalanceTracker) signal() alerting.Signal {
	if t.opts.Kind == storage.BalancePDA {
		return alerting.SignalPDABalance
	}
	return alerting.SignalBalance
}

// Check samples every tracked validator once. A failing validator is logged and skipped.
func (t *BalanceTracker) Check(ctx context.Context, _ time.Time) error {
	tracked, err := t.store.ListTracked(ctx, t.opts.Network)
	if err != nil {
		return fmt.Errorf("list tracked: %w", err)
	}
	if len(tracked) == 0 {
		t.logger.Debug().Msg("no validators tracked")
		return nil
	}

	notified := 0
	for _, v := range tracked {
		n, err := t.checkOne(ctx, v)
		if err != nil {
			t.logger.Warn().Err(err).
				Str("network", string(t.opts.Network)).
				Str("vote_address", v.VoteAddress).
				Msg("balance check failed")
			continue
		}
		notified += n
	}
	t.logger.Info().Int("validators", len(tracked)).Int("notifications", notified).Msg("balance check completed")
	return nil
}

func (t *BalanceTracker) checkOne(ctx context.Context, v storage.TrackedValidator) (int, error) {
	info, ok := t.dir.Find(t.opts.Network, v.VoteAddress)
	if !ok {
		return 0, fmt.Errorf("validator missing from directory")
	}
	address, ok, err := t.opts.Resolve(ctx, info)
	if err != nil {
		return 0, fmt.Errorf("resolve account: %w", err)
	}
	if !ok {
		return 0, nil
	}

	lamports, err := t.reader.AccountBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("balance of %s: %w", address, err)
	}
	balance := solana.LamportsToSOL(lamports)
	t.recordSample(ctx, v, address, balance)

	subscribers, err := t.subscribers(ctx, v)
	if err != nil {
		return 0, err
	}
	flags := v.BalanceFlags
	if t.opts.Kind == storage.BalancePDA {
		flags = v.PDABalanceFlags
	}

	batch := debounce.EvaluateThresholds(balance, subscribers, flags)
	if batch.Empty() {
		t.logger.Debug().Str("vote_address", v.VoteAddress).Str("balance", balance.StringFixed(4)).Msg("no balance transitions")
		return 0, nil
	}

	discord := toSet(v.DiscordSubscribers)
	telegram := toSet(v.TelegramSubscribers)
	for _, group := range batch.Groups {
		payload := alerting.NewPayload(t.opts.Network, v.VoteAddress, info.Name)
		payload.BalanceSOL = balance
		payload.Threshold = group.Threshold
		payload.IsLowBalance = group.Low
		if t.opts.Kind == storage.BalancePDA {
			payload.PDAAddress = address
		}
		note := alerting.Notification{Signal: t.signal(), Payload: payload}
		for _, id := range group.Subscribers {
			if _, ok := discord[id]; ok {
				note.Discord = append(note.Discord, id)
			}
			if _, ok := telegram[id]; ok {
				note.Telegram = append(note.Telegram, id)
			}
		}
		if err := t.notifier.Notify(ctx, note); err != nil {
			t.logger.Warn().Err(err).Str("vote_address", v.VoteAddress).Msg("balance notification incomplete")
		}
	}

	if err := t.mergeFlags(ctx, v.VoteAddress, batch.Updates); err != nil {
		return len(batch.Updates), fmt.Errorf("persist flags: %w", err)
	}
	return len(batch.Updates), nil
}

func (t *BalanceTracker) mergeFlags(ctx context.Context, vote string, updates debounce.Flags) error {
	if t.opts.Kind == storage.BalancePDA {
		return t.store.MergePDAFlags(ctx, t.opts.Network, vote, updates)
	}
	return t.store.MergeBalanceFlags(ctx, t.opts.Network, vote, updates)
}

// subscribers resolves each subscriber's threshold, falling back to the default.
func (t *BalanceTracker) subscribers(ctx context.Context, v storage.TrackedValidator) ([]debounce.Subscriber, error) {
	ids := v.Subscribers()
	known, err := t.store.GetSubscribers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	out := make([]debounce.Subscriber, 0, len(ids))
	for _, id := range ids {
		threshold := t.opts.DefaultThreshold
		if sub, ok := known[id]; ok {
			custom := sub.BalanceThreshold
			if t.opts.Kind == storage.BalancePDA {
				custom = sub.PDAThreshold
			}
			if custom.IsPositive() {
				threshold = custom
			}
		}
		out = append(out, debounce.Subscriber{ID: id, Threshold: threshold})
	}
	return out, nil
}

func (t *BalanceTracker) recordSample(ctx context.Context, v storage.TrackedValidator, address string, balance decimal.Decimal) {
	err := t.store.InsertBalanceSample(ctx, storage.BalanceSample{
		Network:     t.opts.Network,
		VoteAddress: v.VoteAddress,
		Kind:        t.opts.Kind,
		Address:     address,
		BalanceSOL:  balance,
		SampledAt:   t.opts.Now().UTC(),
	})
	if err != nil {
		t.logger.Warn().Err(err).Str("vote_address", v.VoteAddress).Msg("record balance sample failed")
	}
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
