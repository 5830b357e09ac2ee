package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

// VoteAccountReader reads the cluster's vote accounts.
type VoteAccountReader interface {
	VoteAccounts(ctx context.Context) (solana.VoteAccounts, error)
}

// StatusStore reads tracked validators and persists their status.
type StatusStore interface {
	TrackedLister
	SetStatus(ctx context.Context, network solana.Network, voteAddress string, status debounce.Status) error
}

// DelinquencyMonitor notifies when a tracked validator stops or resumes voting.
type DelinquencyMonitor struct {
	readers  map[solana.Network]VoteAccountReader
	store    StatusStore
	dir      directory.Lookup
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// NewDelinquencyMonitor wires the monitor.
func NewDelinquencyMonitor(readers map[solana.Network]VoteAccountReader, store StatusStore, dir directory.Lookup, notifier alerting.Notifier, logger zerolog.Logger) *DelinquencyMonitor {
	return &DelinquencyMonitor{
		readers:  readers,
		store:    store,
		dir:      dir,
		notifier: notifier,
		logger:   logger.With().Str("component", "delinquency").Logger(),
	}
}

// Check samples every network once.
func (m *DelinquencyMonitor) Check(ctx context.Context, _ time.Time) error {
	var errs []error
	for _, network := range solana.Networks {
		reader, ok := m.readers[network]
		if !ok {
			continue
		}
		if err := m.checkNetwork(ctx, network, reader); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", network, err))
		}
	}
	return errors.Join(errs...)
}

func (m *DelinquencyMonitor) checkNetwork(ctx context.Context, network solana.Network, reader VoteAccountReader) error {
	accounts, err := reader.VoteAccounts(ctx)
	if err != nil {
		return fmt.Errorf("vote accounts: %w", err)
	}
	tracked, err := m.store.ListTracked(ctx, network)
	if err != nil {
		return fmt.Errorf("list tracked: %w", err)
	}

	for _, v := range tracked {
		found, current := accounts.Lookup(v.VoteAddress)
		if !found {
			m.logger.Debug().Str("network", string(network)).Str("vote_address", v.VoteAddress).Msg("vote account not listed, skip")
			continue
		}
		status := debounce.StatusDelinquent
		if current {
			status = debounce.StatusCurrent
		}

		decision := debounce.DecideStatus(v.LastStatus, status)
		if signal, ok := alerting.SignalForTransition(decision.Transition); ok {
			m.notify(ctx, network, v, signal, status)
		}
		if !decision.Record {
			continue
		}
		if err := m.store.SetStatus(ctx, network, v.VoteAddress, status); err != nil {
			m.logger.Error().Err(err).
				Str("network", string(network)).
				Str("vote_address", v.VoteAddress).
				Msg("persist status failed")
		}
	}
	return nil
}

func (m *DelinquencyMonitor) notify(ctx context.Context, network solana.Network, v storage.TrackedValidator, signal alerting.Signal, status debounce.Status) {
	name := ""
	if info, ok := m.dir.Find(network, v.VoteAddress); ok {
		name = info.Name
	}
	payload := alerting.NewPayload(network, v.VoteAddress, name)
	payload.Status = status

	m.logger.Info().
		Str("network", string(network)).
		Str("vote_address", v.VoteAddress).
		Str("status", string(status)).
		Msg("validator status changed")

	err := m.notifier.Notify(ctx, alerting.Notification{
		Signal:   signal,
		Payload:  payload,
		Discord:  v.DiscordSubscribers,
		Telegram: v.TelegramSubscribers,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("vote_address", v.VoteAddress).Msg("status notification incomplete")
	}
}
