// Package monitor holds the periodic jobs that watch tracked validators and
// feed the event bus.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/events"
	"validator-watch/internal/solana"
)

// Publisher accepts bus events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// EpochReader reads a network's epoch.
type EpochReader interface {
	EpochInfo(ctx context.Context) (solana.EpochInfo, error)
}

// EpochPoller publishes one epoch-changed event whenever any network rolls over.
type EpochPoller struct {
	readers map[solana.Network]EpochReader
	pub     Publisher
	logger  zerolog.Logger

	mu     sync.RWMutex
	epochs map[solana.Network]uint64
}

// NewEpochPoller watches every network in readers.
func NewEpochPoller(readers map[solana.Network]EpochReader, pub Publisher, logger zerolog.Logger) *EpochPoller {
	return &EpochPoller{
		readers: readers,
		pub:     pub,
		logger:  logger.With().Str("component", "epoch_poller").Logger(),
		epochs:  make(map[solana.Network]uint64),
	}
}

// Epoch returns the last observed epoch of network.
func (p *EpochPoller) Epoch(network solana.Network) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.epochs[network]
	return e, ok
}

// Poll reads every network independently. A network's first successful read only
// seeds its state; a failed read keeps the stored epoch and does not hold back the others.
func (p *EpochPoller) Poll(ctx context.Context, _ time.Time) error {
	current := make(map[solana.Network]uint64, len(p.readers))
	var errs []error
	for _, network := range solana.Networks {
		reader, ok := p.readers[network]
		if !ok {
			continue
		}
		info, err := reader.EpochInfo(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Str("network", string(network)).Msg("epoch read failed")
			errs = append(errs, fmt.Errorf("read %s epoch: %w", network, err))
			continue
		}
		current[network] = info.Epoch
	}

	changed := false
	p.mu.Lock()
	for network, epoch := range current {
		prev, seen := p.epochs[network]
		p.epochs[network] = epoch
		switch {
		case !seen:
			p.logger.Info().Str("network", string(network)).Uint64("epoch", epoch).Msg("epoch seeded")
		case prev != epoch:
			p.logger.Info().Str("network", string(network)).Uint64("epoch", epoch).Msg("epoch changed")
			changed = true
		}
	}
	p.mu.Unlock()

	if changed {
		if err := p.pub.Publish(ctx, events.EpochChange()); err != nil {
			errs = append(errs, fmt.Errorf("publish epoch change: %w", err))
		}
	}
	return errors.Join(errs...)
}
