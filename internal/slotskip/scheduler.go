package slotskip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"validator-watch/internal/alerting"
	"validator-watch/internal/config"
	"validator-watch/internal/directory"
	"validator-watch/internal/events"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
	"validator-watch/internal/timerqueue"
)

// Check outcomes reported to Options.OnCheck.
const (
	OutcomeProduced = "produced"
	OutcomeSkipped  = "skipped"
	OutcomeRearmed  = "rearmed"
	OutcomeDropped  = "dropped"
	OutcomeStale    = "stale"
	OutcomeError    = "error"
)

// DefaultNotificationBuffer is the margin added after a group's last slot before it is checked.
const DefaultNotificationBuffer = 5 * time.Second

// Options tune prediction and checking.
type Options struct {
	SlotDuration       time.Duration
	NotificationBuffer time.Duration
	GroupSize          int
	// MaxRechecks caps re-estimates of one group; zero means unbounded.
	MaxRechecks      int
	MinRearmDelay    time.Duration
	CheckConcurrency int64
	OnCheck          func(network solana.Network, outcome string)
	Now              func() time.Time
}

// OptionsFromConfig maps the slotskip config section.
func OptionsFromConfig(cfg config.SlotSkipConfig) Options {
	return Options{
		SlotDuration:       cfg.SlotDuration,
		NotificationBuffer: cfg.NotificationBuffer,
		GroupSize:          cfg.GroupSize,
		MaxRechecks:        cfg.MaxRechecks,
		MinRearmDelay:      cfg.MinRearmDelay,
		CheckConcurrency:   cfg.CheckConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.SlotDuration <= 0 {
		o.SlotDuration = 400 * time.Millisecond
	}
	if o.NotificationBuffer <= 0 {
		o.NotificationBuffer = DefaultNotificationBuffer
	}
	if o.GroupSize <= 0 {
		o.GroupSize = 4
	}
	if o.MinRearmDelay <= 0 {
		o.MinRearmDelay = o.SlotDuration
	}
	if o.CheckConcurrency <= 0 {
		o.CheckConcurrency = 8
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Tracked reads the persisted tracked set.
type Tracked interface {
	ListTracked(ctx context.Context, network solana.Network) ([]storage.TrackedValidator, error)
	GetTracked(ctx context.Context, network solana.Network, voteAddress string) (storage.TrackedValidator, error)
}

type entityKey struct {
	network solana.Network
	vote    string
}

type generation struct {
	network uint64
	entity  uint64
}

// Scheduler arms one deferred check per leader-slot group of every tracked validator.
type Scheduler struct {
	opts     Options
	rpcs     map[solana.Network]solana.RPC
	store    Tracked
	dir      directory.Lookup
	queue    *timerqueue.Queue
	notifier alerting.Notifier
	sem      *semaphore.Weighted
	logger   zerolog.Logger

	// mu serialises reschedules so cancel-then-arm never interleaves.
	mu sync.Mutex

	genMu     sync.Mutex
	netGen    map[solana.Network]uint64
	entityGen map[entityKey]uint64
}

// New builds a scheduler. Networks without an RPC client are never scheduled.
func New(opts Options, rpcs map[solana.Network]solana.RPC, store Tracked, dir directory.Lookup, queue *timerqueue.Queue, notifier alerting.Notifier, logger zerolog.Logger) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		opts:      opts,
		rpcs:      rpcs,
		store:     store,
		dir:       dir,
		queue:     queue,
		notifier:  notifier,
		sem:       semaphore.NewWeighted(opts.CheckConcurrency),
		logger:    logger.With().Str("component", "slot_scheduler").Logger(),
		netGen:    make(map[solana.Network]uint64),
		entityGen: make(map[entityKey]uint64),
	}
}

// Register subscribes the scheduler to the reset events.
func (s *Scheduler) Register(bus *events.Bus) {
	bus.Subscribe(events.EpochChanged, s.HandleEpochChanged)
	bus.Subscribe(events.SubscriptionChanged, s.HandleSubscriptionChanged)
}

// HandleEpochChanged rebuilds every network's timers from scratch.
func (s *Scheduler) HandleEpochChanged(ctx context.Context, _ events.Event) error {
	return s.RescheduleAll(ctx)
}

// HandleSubscriptionChanged arms or clears one validator's timers.
func (s *Scheduler) HandleSubscriptionChanged(ctx context.Context, ev events.Event) error {
	switch ev.Action {
	case events.Added:
		return s.ScheduleValidator(ctx, ev.Network, ev.VoteAddress)
	case events.Removed:
		s.CancelValidator(ev.Network, ev.VoteAddress)
		return nil
	default:
		return fmt.Errorf("unknown subscription action %q", ev.Action)
	}
}

// RescheduleAll reschedules every network with an RPC client.
func (s *Scheduler) RescheduleAll(ctx context.Context) error {
	var errs []error
	for _, network := range solana.Networks {
		if _, ok := s.rpcs[network]; !ok {
			continue
		}
		if err := s.RescheduleNetwork(ctx, network); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", network, err))
		}
	}
	return errors.Join(errs...)
}

// RescheduleNetwork clears the network's timers and arms fresh ones for every tracked validator.
func (s *Scheduler) RescheduleNetwork(ctx context.Context, network solana.Network) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.genMu.Lock()
	s.netGen[network]++
	cleared := s.queue.CancelNetwork(network)
	s.genMu.Unlock()

	tracked, err := s.store.ListTracked(ctx, network)
	if err != nil {
		return fmt.Errorf("list tracked: %w", err)
	}
	votes := make([]string, 0, len(tracked))
	for _, v := range tracked {
		votes = append(votes, v.VoteAddress)
	}

	armed, err := s.scheduleLocked(ctx, network, votes)
	s.logger.Info().
		Str("network", string(network)).
		Int("validators", len(votes)).
		Int("cleared", cleared).
		Int("armed", armed).
		Msg("skip checks rescheduled")
	return err
}

// ScheduleValidator clears and re-arms one validator's timers.
func (s *Scheduler) ScheduleValidator(ctx context.Context, network solana.Network, voteAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelEntity(network, voteAddress)
	armed, err := s.scheduleLocked(ctx, network, []string{voteAddress})
	if err == nil {
		s.logger.Info().
			Str("network", string(network)).
			Str("vote_address", voteAddress).
			Int("armed", armed).
			Msg("skip checks scheduled")
	}
	return err
}

// CancelValidator drops every pending check of one validator. It is idempotent.
func (s *Scheduler) CancelValidator(network solana.Network, voteAddress string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cancelEntity(network, voteAddress)
	s.logger.Info().
		Str("network", string(network)).
		Str("vote_address", voteAddress).
		Int("cleared", n).
		Msg("skip checks cleared")
	return n
}

func (s *Scheduler) cancelEntity(network solana.Network, voteAddress string) int {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.entityGen[entityKey{network, voteAddress}]++
	return s.queue.CancelEntity(network, voteAddress)
}

// Plan computes the current plan of one validator without arming anything.
func (s *Scheduler) Plan(ctx context.Context, network solana.Network, voteAddress string) (Plan, error) {
	info, ok := s.dir.Find(network, voteAddress)
	if !ok {
		return Plan{}, fmt.Errorf("validator %s not found in %s directory", voteAddress, network)
	}
	snap, err := s.snapshot(ctx, network)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(snap, voteAddress, info.IdentityID, s.opts, s.opts.Now()), nil
}

func (s *Scheduler) scheduleLocked(ctx context.Context, network solana.Network, votes []string) (int, error) {
	if len(votes) == 0 {
		return 0, nil
	}
	snap, err := s.snapshot(ctx, network)
	if err != nil {
		return 0, err
	}

	now := s.opts.Now()
	armed := 0
	for _, vote := range votes {
		info, ok := s.dir.Find(network, vote)
		if !ok {
			s.logger.Warn().
				Str("network", string(network)).
				Str("vote_address", vote).
				Msg("validator missing from directory, skip")
			continue
		}
		plan := BuildPlan(snap, vote, info.IdentityID, s.opts, now)
		gen := s.generation(network, vote)
		for _, g := range plan.Groups {
			if s.arm(network, vote, g.Slots, gen, 0, g.CheckAt.Sub(now)) {
				armed++
			}
		}
	}
	return armed, nil
}

func (s *Scheduler) snapshot(ctx context.Context, network solana.Network) (Snapshot, error) {
	rpc, ok := s.rpcs[network]
	if !ok {
		return Snapshot{}, fmt.Errorf("no rpc client for %s", network)
	}
	slot, err := rpc.CurrentSlot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("current slot: %w", err)
	}
	epoch, err := rpc.EpochInfo(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("epoch info: %w", err)
	}
	schedule, err := rpc.LeaderSchedule(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("leader schedule: %w", err)
	}
	return Snapshot{
		Network:     network,
		CurrentSlot: slot,
		BaseTime:    s.baseTime(ctx, rpc, slot),
		Epoch:       epoch,
		Schedule:    schedule,
	}, nil
}

// baseTime prefers the chain's timestamp of slot and falls back to the local clock.
func (s *Scheduler) baseTime(ctx context.Context, rpc solana.RPC, slot uint64) time.Time {
	t, err := rpc.BlockTime(ctx, slot)
	if err != nil {
		if !errors.Is(err, solana.ErrBlockTimeUnavailable) {
			s.logger.Debug().Err(err).Uint64("slot", slot).Msg("block time lookup failed, using local clock")
		}
		return s.opts.Now()
	}
	return t
}

func (s *Scheduler) generation(network solana.Network, vote string) generation {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return generation{network: s.netGen[network], entity: s.entityGen[entityKey{network, vote}]}
}

func (s *Scheduler) currentLocked(network solana.Network, vote string, gen generation) bool {
	return s.netGen[network] == gen.network && s.entityGen[entityKey{network, vote}] == gen.entity
}

func timerKey(network solana.Network, vote string, group []uint64) timerqueue.Key {
	return timerqueue.Key{Network: network, Entity: vote, ID: strconv.FormatUint(group[0], 10)}
}

// arm schedules the check of group unless the generation moved on or the group is already pending.
func (s *Scheduler) arm(network solana.Network, vote string, group []uint64, gen generation, attempt int, delay time.Duration) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if !s.currentLocked(network, vote, gen) {
		return false
	}
	return s.queue.Schedule(timerKey(network, vote, group), delay, func(ctx context.Context) {
		s.check(ctx, network, vote, group, gen, attempt)
	})
}

func (s *Scheduler) report(network solana.Network, outcome string) {
	if s.opts.OnCheck != nil {
		s.opts.OnCheck(network, outcome)
	}
}

// check runs when a group's predicted confirmation time arrives.
func (s *Scheduler) check(ctx context.Context, network solana.Network, vote string, group []uint64, gen generation, attempt int) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.genMu.Lock()
	fresh := s.currentLocked(network, vote, gen)
	s.genMu.Unlock()
	if !fresh {
		s.report(network, OutcomeStale)
		return
	}

	logger := s.logger.With().
		Str("network", string(network)).
		Str("vote_address", vote).
		Uint64("first_slot", group[0]).
		Logger()

	rpc := s.rpcs[network]
	target := group[len(group)-1]

	slot, err := rpc.CurrentSlot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("current slot lookup failed")
		s.report(network, OutcomeError)
		s.rearm(ctx, logger, network, vote, group, gen, attempt, 0)
		return
	}
	if slot < target {
		s.rearm(ctx, logger, network, vote, group, gen, attempt, slot)
		return
	}

	confirmed, err := rpc.BlockRange(ctx, group[0], target)
	if err != nil {
		logger.Warn().Err(err).Msg("block range lookup failed")
		s.report(network, OutcomeError)
		s.rearm(ctx, logger, network, vote, group, gen, attempt, 0)
		return
	}

	skipped := SkippedSlots(group, confirmed)
	if len(skipped) == 0 {
		s.report(network, OutcomeProduced)
		return
	}
	s.report(network, OutcomeSkipped)
	logger.Info().Interface("skipped", skipped).Msg("leader slots skipped")

	tracked, err := s.store.GetTracked(ctx, network, vote)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("load subscribers failed")
		return
	}

	name := ""
	if info, ok := s.dir.Find(network, vote); ok {
		name = info.Name
	}
	payload := alerting.NewPayload(network, vote, name)
	payload.SkippedSlots = skipped
	note := alerting.Notification{
		Signal:   alerting.SignalSkipSlots,
		Payload:  payload,
		Discord:  tracked.DiscordSubscribers,
		Telegram: tracked.TelegramSubscribers,
	}
	s.genMu.Lock()
	fresh = s.currentLocked(network, vote, gen)
	s.genMu.Unlock()
	if !fresh {
		logger.Debug().Msg("checks reset while in flight, notification dropped")
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		logger.Warn().Err(err).Msg("skip slot notification incomplete")
	}
}

// rearm re-estimates the group's check time from baseSlot. A zero baseSlot means the
// chain could not be read and the check is retried after the notification buffer.
func (s *Scheduler) rearm(ctx context.Context, logger zerolog.Logger, network solana.Network, vote string, group []uint64, gen generation, attempt int, baseSlot uint64) {
	attempt++
	if s.opts.MaxRechecks > 0 && attempt > s.opts.MaxRechecks {
		logger.Warn().Int("attempts", attempt-1).Msg("recheck limit reached, group dropped")
		s.report(network, OutcomeDropped)
		return
	}

	delay := s.opts.NotificationBuffer
	if baseSlot > 0 {
		at := PredictCheckTime(baseSlot, s.baseTime(ctx, s.rpcs[network], baseSlot), group[len(group)-1], s.opts.SlotDuration, s.opts.NotificationBuffer)
		delay = at.Sub(s.opts.Now())
	}
	if delay < s.opts.MinRearmDelay {
		delay = s.opts.MinRearmDelay
	}

	if s.arm(network, vote, group, gen, attempt, delay) {
		s.report(network, OutcomeRearmed)
		logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("target slot not confirmed yet, re-armed")
	}
}
