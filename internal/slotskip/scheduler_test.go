package slotskip

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/alerting"
	"validator-watch/internal/directory"
	"validator-watch/internal/events"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
	"validator-watch/internal/timerqueue"
)

type fakeRPC struct {
	mu        sync.Mutex
	slot      uint64
	blocks    []uint64
	blockTime time.Time
	epoch     solana.EpochInfo
	schedule  solana.LeaderSchedule
	ranges    [][2]uint64
	onRange   func()
}

func (f *fakeRPC) CurrentSlot(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot, nil
}

func (f *fakeRPC) BlockRange(_ context.Context, from, to uint64) ([]uint64, error) {
	if f.onRange != nil {
		f.onRange()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []uint64
	for _, b := range f.blocks {
		if b >= from && b <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeRPC) BlockTime(context.Context, uint64) (time.Time, error) {
	if f.blockTime.IsZero() {
		return time.Time{}, solana.ErrBlockTimeUnavailable
	}
	return f.blockTime, nil
}

func (f *fakeRPC) EpochInfo(context.Context) (solana.EpochInfo, error) { return f.epoch, nil }

func (f *fakeRPC) LeaderSchedule(context.Context) (solana.LeaderSchedule, error) {
	return f.schedule, nil
}

func (f *fakeRPC) VoteAccounts(context.Context) (solana.VoteAccounts, error) {
	return solana.VoteAccounts{}, nil
}

func (f *fakeRPC) AccountBalance(context.Context, string) (uint64, error) { return 0, nil }

type fakeTracked struct {
	byNetwork map[solana.Network][]storage.TrackedValidator
}

func (f *fakeTracked) ListTracked(_ context.Context, network solana.Network) ([]storage.TrackedValidator, error) {
	return f.byNetwork[network], nil
}

func (f *fakeTracked) GetTracked(_ context.Context, network solana.Network, vote string) (storage.TrackedValidator, error) {
	for _, v := range f.byNetwork[network] {
		if v.VoteAddress == vote {
			return v, nil
		}
	}
	return storage.TrackedValidator{}, storage.ErrNotFound
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, n)
	return nil
}

type fixture struct {
	now      time.Time
	rpc      *fakeRPC
	store    *fakeTracked
	queue    *timerqueue.Queue
	notifier *captureNotifier
	outcomes []string
	sched    *Scheduler
}

func newFixture(t *testing.T, maxRechecks int) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.rpc = &fakeRPC{
		slot:  1000,
		epoch: solana.EpochInfo{AbsoluteSlot: 1000, SlotIndex: 0, Epoch: 10},
		// vote-a leads 1100-1107, vote-b leads 1200-1203
		schedule: solana.LeaderSchedule{
			"id-a": {100, 101, 102, 103, 104, 105, 106, 107},
			"id-b": {200, 201, 202, 203},
		},
	}
	f.store = &fakeTracked{byNetwork: map[solana.Network][]storage.TrackedValidator{
		solana.Mainnet: {
			{Network: solana.Mainnet, VoteAddress: "vote-a", DiscordSubscribers: []string{"d1"}, TelegramSubscribers: []string{"t1"}},
			{Network: solana.Mainnet, VoteAddress: "vote-b", DiscordSubscribers: []string{"d2"}},
		},
	}}
	dir := directory.NewStatic(
		directory.Info{VoteID: "vote-a", IdentityID: "id-a", Name: "Alpha", Network: solana.Mainnet},
		directory.Info{VoteID: "vote-b", IdentityID: "id-b", Network: solana.Mainnet},
	)
	f.queue = timerqueue.New(timerqueue.Options{Now: clock}, zerolog.Nop())
	f.notifier = &captureNotifier{}

	var mu sync.Mutex
	opts := Options{
		MaxRechecks: maxRechecks,
		Now:         clock,
		OnCheck: func(_ solana.Network, outcome string) {
			mu.Lock()
			f.outcomes = append(f.outcomes, outcome)
			mu.Unlock()
		},
	}
	f.sched = New(opts, map[solana.Network]solana.RPC{solana.Mainnet: f.rpc}, f.store, dir, f.queue, f.notifier, zerolog.Nop())
	return f
}

func TestRescheduleArmsOneTimerPerGroup(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.sched.RescheduleNetwork(ctx, solana.Mainnet))
	assert.Equal(t, 3, f.queue.Len())

	require.NoError(t, f.sched.HandleEpochChanged(ctx, events.EpochChange()))
	require.NoError(t, f.sched.HandleEpochChanged(ctx, events.EpochChange()))
	assert.Equal(t, 3, f.queue.Len())

	entries := f.queue.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "1100", entries[0].Key.ID)
	assert.Equal(t, f.now.Add(103*400*time.Millisecond+5*time.Second), entries[0].At)
	assert.Equal(t, "1104", entries[1].Key.ID)
	assert.Equal(t, "vote-b", entries[2].Key.Entity)
}

func TestScheduleValidatorReplacesOnlyItsTimers(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.sched.RescheduleNetwork(ctx, solana.Mainnet))

	require.NoError(t, f.sched.ScheduleValidator(ctx, solana.Mainnet, "vote-b"))
	require.NoError(t, f.sched.ScheduleValidator(ctx, solana.Mainnet, "vote-b"))
	assert.Equal(t, 3, f.queue.Len())
	assert.Equal(t, map[solana.Network]int{solana.Mainnet: 3}, f.queue.Counts())
}

func TestCancelValidatorIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.sched.RescheduleNetwork(ctx, solana.Mainnet))

	assert.Equal(t, 2, f.sched.CancelValidator(solana.Mainnet, "vote-a"))
	assert.Equal(t, 0, f.sched.CancelValidator(solana.Mainnet, "vote-a"))
	assert.Equal(t, 1, f.queue.Len())
}

func TestSubscriptionEvents(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	require.NoError(t, f.sched.HandleSubscriptionChanged(ctx, events.Subscription(solana.Mainnet, "vote-a", events.Added)))
	assert.Equal(t, 2, f.queue.Len())

	require.NoError(t, f.sched.HandleSubscriptionChanged(ctx, events.Subscription(solana.Mainnet, "vote-a", events.Removed)))
	assert.Equal(t, 0, f.queue.Len())
}

func TestUnknownValidatorIsSkipped(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.sched.ScheduleValidator(context.Background(), solana.Mainnet, "vote-unknown"))
	assert.Equal(t, 0, f.queue.Len())
}

func TestCheckNotifiesSkippedSlots(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1110
	f.rpc.blocks = []uint64{1100, 1102, 1103}

	group := []uint64{1100, 1101, 1102, 1103}
	f.sched.check(context.Background(), solana.Mainnet, "vote-a", group, f.sched.generation(solana.Mainnet, "vote-a"), 0)

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, alerting.SignalSkipSlots, note.Signal)
	assert.Equal(t, []uint64{1101}, note.Payload.SkippedSlots)
	assert.Equal(t, "Alpha", note.Payload.Name)
	assert.Equal(t, []string{"d1"}, note.Discord)
	assert.Equal(t, []string{"t1"}, note.Telegram)
	assert.Equal(t, [][2]uint64{{1100, 1103}}, f.rpc.ranges)
	assert.Equal(t, []string{OutcomeSkipped}, f.outcomes)
}

func TestCheckProducedGroupIsQuiet(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1110
	f.rpc.blocks = []uint64{1100, 1101, 1102, 1103}

	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101, 1102, 1103}, f.sched.generation(solana.Mainnet, "vote-a"), 0)
	assert.Empty(t, f.notifier.notes)
	assert.Equal(t, []string{OutcomeProduced}, f.outcomes)
}

func TestCheckRearmsUntilConfirmed(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1090
	f.rpc.blockTime = f.now

	group := []uint64{1100, 1101, 1102, 1103}
	f.sched.check(context.Background(), solana.Mainnet, "vote-a", group, f.sched.generation(solana.Mainnet, "vote-a"), 0)

	assert.Empty(t, f.notifier.notes)
	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "1100", entries[0].Key.ID)
	assert.Equal(t, f.now.Add(13*400*time.Millisecond+5*time.Second), entries[0].At)
	assert.Equal(t, []string{OutcomeRearmed}, f.outcomes)
}

func TestRearmNeverFiresInThePast(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1102
	// the chain clock lags far behind: the estimate lands in the past
	f.rpc.blockTime = f.now.Add(-time.Minute)

	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101, 1102, 1103}, f.sched.generation(solana.Mainnet, "vote-a"), 0)
	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, f.now.Add(400*time.Millisecond), entries[0].At)
}

func TestCheckDropsAfterMaxRechecks(t *testing.T) {
	f := newFixture(t, 2)
	f.rpc.slot = 1090
	gen := f.sched.generation(solana.Mainnet, "vote-a")

	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101, 1102, 1103}, gen, 2)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, []string{OutcomeDropped}, f.outcomes)
}

func TestStaleCheckDoesNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1090
	gen := f.sched.generation(solana.Mainnet, "vote-a")
	f.sched.CancelValidator(solana.Mainnet, "vote-a")

	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101, 1102, 1103}, gen, 0)
	assert.Equal(t, 0, f.queue.Len())
	assert.Empty(t, f.notifier.notes)
	assert.Equal(t, []string{OutcomeStale}, f.outcomes)
}

func TestCheckResetDuringLookupDoesNotNotify(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1110
	f.rpc.blocks = []uint64{1100}
	f.rpc.onRange = func() {
		f.sched.CancelValidator(solana.Mainnet, "vote-a")
	}

	gen := f.sched.generation(solana.Mainnet, "vote-a")
	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101, 1102, 1103}, gen, 0)
	assert.Empty(t, f.notifier.notes)
	assert.Equal(t, 0, f.queue.Len())
}

func TestCheckForUntrackedValidatorIsSilent(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1300
	f.store.byNetwork[solana.Mainnet] = nil

	f.sched.check(context.Background(), solana.Mainnet, "vote-a", []uint64{1100, 1101}, f.sched.generation(solana.Mainnet, "vote-a"), 0)
	assert.Empty(t, f.notifier.notes)
}

func TestQueuedCheckFires(t *testing.T) {
	f := newFixture(t, 0)
	f.rpc.slot = 1300
	f.rpc.blocks = []uint64{1200, 1201, 1203}
	f.store.byNetwork[solana.Mainnet] = f.store.byNetwork[solana.Mainnet][1:]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.queue.Run(ctx) }()

	require.True(t, f.sched.arm(solana.Mainnet, "vote-b", []uint64{1200, 1201, 1202, 1203}, f.sched.generation(solana.Mainnet, "vote-b"), 0, 0))
	require.Eventually(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.notes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.notifier.mu.Lock()
	assert.Equal(t, []uint64{1202}, f.notifier.notes[0].Payload.SkippedSlots)
	f.notifier.mu.Unlock()

	cancel()
	<-done
}
