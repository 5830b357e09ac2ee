package votecredit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
	"validator-watch/internal/workpool"
)

// Source yields bucket numbers and credit columns.
type Source interface {
	MaxBucket(ctx context.Context, voteAddress string, epoch uint64) (int, error)
	Credits(ctx context.Context, voteAddress string, epoch uint64, bucket int) ([]float64, error)
}

// EpochReader reports the network's current epoch.
type EpochReader interface {
	EpochInfo(ctx context.Context) (solana.EpochInfo, error)
}

// Store reads tracked validators and persists the vote-credit flag.
type Store interface {
	ListTracked(ctx context.Context, network solana.Network) ([]storage.TrackedValidator, error)
	SetVoteLow(ctx context.Context, network solana.Network, voteAddress string, low bool) error
}

// SamplerOptions tune one sampling pass.
type SamplerOptions struct {
	Network     solana.Network
	Window      int
	Floor       float64
	Concurrency int
	TaskTimeout time.Duration
}

// Sampler decides, for every tracked validator, whether its recent vote credits are low.
type Sampler struct {
	opts     SamplerOptions
	source   Source
	epochs   EpochReader
	store    Store
	dir      directory.Lookup
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// Outcome summarises one validator's sample.
type Outcome struct {
	VoteAddress string
	Samples     int
	Determined  bool
	Low         bool
	Changed     bool
}

// NewSampler wires a sampler.
func NewSampler(opts SamplerOptions, source Source, epochs EpochReader, store Store, dir directory.Lookup, notifier alerting.Notifier, logger zerolog.Logger) *Sampler {
	if opts.Network == "" {
		opts.Network = solana.Mainnet
	}
	if opts.Window <= 0 {
		opts.Window = 200
	}
	if opts.Floor <= 0 {
		opts.Floor = 16
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 30
	}
	return &Sampler{
		opts:     opts,
		source:   source,
		epochs:   epochs,
		store:    store,
		dir:      dir,
		notifier: notifier,
		logger:   logger.With().Str("component", "vote_credit").Logger(),
	}
}

// Sample runs one pass. Per-validator failures are logged and never abort the pass.
func (s *Sampler) Sample(ctx context.Context, _ time.Time) error {
	_, err := s.Run(ctx)
	return err
}

// Run runs one pass and returns the per-validator outcomes of the validators that were read.
func (s *Sampler) Run(ctx context.Context) ([]Outcome, error) {
	tracked, err := s.store.ListTracked(ctx, s.opts.Network)
	if err != nil {
		return nil, fmt.Errorf("list tracked: %w", err)
	}
	if len(tracked) == 0 {
		s.logger.Debug().Msg("no validators tracked, skip vote credit pass")
		return nil, nil
	}

	info, err := s.epochs.EpochInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("epoch info: %w", err)
	}
	bucket, err := s.source.MaxBucket(ctx, tracked[0].VoteAddress, info.Epoch)
	if err != nil {
		return nil, fmt.Errorf("resolve bucket for epoch %d: %w", info.Epoch, err)
	}

	tasks := make([]workpool.Task[Outcome], len(tracked))
	for i, v := range tracked {
		tasks[i] = func(ctx context.Context) (Outcome, error) {
			return s.sampleOne(ctx, v, info.Epoch, bucket)
		}
	}
	results := workpool.Run(ctx, workpool.Options{Limit: s.opts.Concurrency, TaskTimeout: s.opts.TaskTimeout}, tasks)

	outcomes := make([]Outcome, 0, len(results))
	changed := 0
	for i, r := range results {
		if r.Err != nil {
			s.logger.Warn().Err(r.Err).
				Str("network", string(s.opts.Network)).
				Str("vote_address", tracked[i].VoteAddress).
				Msg("vote credit sample failed")
			continue
		}
		if r.Value.Changed {
			changed++
		}
		outcomes = append(outcomes, r.Value)
	}

	s.logger.Info().
		Uint64("epoch", info.Epoch).
		Int("bucket", bucket).
		Int("validators", len(tracked)).
		Int("sampled", len(outcomes)).
		Int("changed", changed).
		Msg("vote credit pass finished")
	return outcomes, nil
}

func (s *Sampler) sampleOne(ctx context.Context, v storage.TrackedValidator, epoch uint64, bucket int) (Outcome, error) {
	out := Outcome{VoteAddress: v.VoteAddress}

	credits, err := s.source.Credits(ctx, v.VoteAddress, epoch, bucket)
	if err != nil {
		return out, err
	}
	out.Samples = len(credits)

	low, ok := debounce.LowCredit(credits, s.opts.Window, s.opts.Floor)
	if !ok {
		return out, nil
	}
	out.Determined = true
	out.Low = low
	if !debounce.DecideFlag(v.LastVoteLow, low) {
		return out, nil
	}
	out.Changed = true

	name := ""
	if info, found := s.dir.Find(s.opts.Network, v.VoteAddress); found {
		name = info.Name
	}
	payload := alerting.NewPayload(s.opts.Network, v.VoteAddress, name)
	payload.HasLowCredit = low
	note := alerting.Notification{
		Signal:   alerting.SignalVoteCredit,
		Payload:  payload,
		Discord:  v.DiscordSubscribers,
		Telegram: v.TelegramSubscribers,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Warn().Err(err).Str("vote_address", v.VoteAddress).Msg("vote credit notification incomplete")
	}

	if err := s.store.SetVoteLow(ctx, s.opts.Network, v.VoteAddress, low); err != nil {
		return out, fmt.Errorf("persist vote status: %w", err)
	}
	return out, nil
}
