package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/events"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// TrackedLister lists the persisted tracked set of a network.
type TrackedLister interface {
	ListTracked(ctx context.Context, network solana.Network) ([]storage.TrackedValidator, error)
}

// SubscriptionPoller diffs the persisted tracked set against the scheduled one.
type SubscriptionPoller struct {
	store    TrackedLister
	pub      Publisher
	networks []solana.Network
	logger   zerolog.Logger

	mu    sync.Mutex
	known map[solana.Network]map[string]struct{}
}

// NewSubscriptionPoller watches the given networks.
func NewSubscriptionPoller(store TrackedLister, pub Publisher, networks []solana.Network, logger zerolog.Logger) *SubscriptionPoller {
	return &SubscriptionPoller{
		store:    store,
		pub:      pub,
		networks: networks,
		logger:   logger.With().Str("component", "subscription_poller").Logger(),
		known:    make(map[solana.Network]map[string]struct{}),
	}
}

// Seed rebuilds the scheduled set from storage without publishing anything.
func (p *SubscriptionPoller) Seed(ctx context.Context) error {
	for _, network := range p.networks {
		set, err := p.load(ctx, network)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.known[network] = set
		p.mu.Unlock()
		p.logger.Info().Str("network", string(network)).Int("validators", len(set)).Msg("tracked set loaded")
	}
	return nil
}

// Poll publishes one subscription-changed event per added or removed validator.
func (p *SubscriptionPoller) Poll(ctx context.Context, _ time.Time) error {
	for _, network := range p.networks {
		set, err := p.load(ctx, network)
		if err != nil {
			return err
		}

		p.mu.Lock()
		prev := p.known[network]
		added, removed := diffSets(prev, set)
		p.known[network] = set
		p.mu.Unlock()

		for _, vote := range added {
			p.logger.Info().Str("network", string(network)).Str("vote_address", vote).Msg("validator added")
			if err := p.pub.Publish(ctx, events.Subscription(network, vote, events.Added)); err != nil {
				return fmt.Errorf("publish added: %w", err)
			}
		}
		for _, vote := range removed {
			p.logger.Info().Str("network", string(network)).Str("vote_address", vote).Msg("validator removed")
			if err := p.pub.Publish(ctx, events.Subscription(network, vote, events.Removed)); err != nil {
				return fmt.Errorf("publish removed: %w", err)
			}
		}
	}
	return nil
}

func (p *SubscriptionPoller) load(ctx context.Context, network solana.Network) (map[string]struct{}, error) {
	tracked, err := p.store.ListTracked(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("list %s tracked: %w", network, err)
	}
	set := make(map[string]struct{}, len(tracked))
	for _, v := range tracked {
		set[v.VoteAddress] = struct{}{}
	}
	return set, nil
}

func diffSets(prev, next map[string]struct{}) (added, removed []string) {
	for v := range next {
		if _, ok := prev[v]; !ok {
			added = append(added, v)
		}
	}
	for v := range prev {
		if _, ok := next[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
