package timerqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/solana"
)

func key(network solana.Network, entity, id string) Key {
	return Key{Network: network, Entity: entity, ID: id}
}

func startQueue(t *testing.T) (*Queue, context.CancelFunc) {
	t.Helper()
	q := New(Options{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q, cancel
}

func TestScheduleRejectsDoubleArm(t *testing.T) {
	q := New(Options{}, zerolog.Nop())
	k := key(solana.Mainnet, "vote", "100")

	assert.True(t, q.Schedule(k, time.Hour, func(context.Context) {}))
	assert.False(t, q.Schedule(k, time.Minute, func(context.Context) {}))
	assert.Equal(t, 1, q.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	q := New(Options{}, zerolog.Nop())
	k := key(solana.Mainnet, "vote", "100")
	q.Schedule(k, time.Hour, func(context.Context) {})

	assert.True(t, q.Cancel(k))
	assert.False(t, q.Cancel(k))
	assert.False(t, q.Cancel(key(solana.Testnet, "nope", "1")))
	assert.Zero(t, q.Len())
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	q, _ := startQueue(t)
	k := key(solana.Mainnet, "vote", "1")

	var runs atomic.Int32
	fired := make(chan struct{})
	q.Schedule(k, 0, func(context.Context) {
		runs.Add(1)
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.False(t, q.Cancel(k))
	assert.False(t, q.Cancel(k))
	assert.Equal(t, int32(1), runs.Load())
}

func TestBulkCancellation(t *testing.T) {
	q := New(Options{}, zerolog.Nop())
	noop := func(context.Context) {}
	q.Schedule(key(solana.Mainnet, "a", "1"), time.Hour, noop)
	q.Schedule(key(solana.Mainnet, "a", "2"), time.Hour, noop)
	q.Schedule(key(solana.Mainnet, "b", "1"), time.Hour, noop)
	q.Schedule(key(solana.Testnet, "a", "1"), time.Hour, noop)

	assert.Equal(t, map[solana.Network]int{solana.Mainnet: 3, solana.Testnet: 1}, q.Counts())

	assert.Equal(t, 2, q.CancelEntity(solana.Mainnet, "a"))
	assert.Equal(t, 0, q.CancelEntity(solana.Mainnet, "a"))
	assert.True(t, q.Pending(key(solana.Testnet, "a", "1")))

	assert.Equal(t, 1, q.CancelNetwork(solana.Mainnet))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, map[solana.Network]int{solana.Testnet: 1}, q.Counts())
}

func TestRunFiresInDeadlineOrder(t *testing.T) {
	q, _ := startQueue(t)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	record := func(id string) Func {
		wg.Add(1)
		return func(context.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			wg.Done()
		}
	}

	q.Schedule(key(solana.Mainnet, "v", "late"), 60*time.Millisecond, record("late"))
	q.Schedule(key(solana.Mainnet, "v", "early"), 10*time.Millisecond, record("early"))

	waitGroup(t, &wg)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Zero(t, q.Len())
}

func TestTaskCanRearmItself(t *testing.T) {
	q, _ := startQueue(t)
	k := key(solana.Mainnet, "v", "g")

	var runs atomic.Int32
	done := make(chan struct{})
	var fn Func
	fn = func(context.Context) {
		if runs.Add(1) < 3 {
			assert.True(t, q.Schedule(k, time.Millisecond, fn))
			return
		}
		close(done)
	}
	q.Schedule(k, 0, fn)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("re-armed task did not finish")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestCancelledTaskNeverRuns(t *testing.T) {
	q, _ := startQueue(t)
	k := key(solana.Mainnet, "v", "g")

	var ran atomic.Bool
	q.Schedule(k, 20*time.Millisecond, func(context.Context) { ran.Store(true) })
	q.Cancel(k)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestEntriesSortedByDeadline(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := New(Options{Now: func() time.Time { return base }}, zerolog.Nop())
	noop := func(context.Context) {}
	q.Schedule(key(solana.Mainnet, "v", "2"), 2*time.Second, noop)
	q.Schedule(key(solana.Mainnet, "v", "1"), time.Second, noop)

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].Key.ID)
	assert.Equal(t, base.Add(time.Second), entries[0].At)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tasks")
	}
}
