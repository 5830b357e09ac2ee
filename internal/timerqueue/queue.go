// Package timerqueue keeps deferred tasks in a deadline heap and runs each one
// once its deadline passes.
//
// Every task is addressed by a Key that is also indexed by network and by
// entity, so both targeted and bulk cancellation cost O(log n) per task.
// A task leaves every index before it runs, which lets it re-arm itself under
// the same key.
package timerqueue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/solana"
)

// Key identifies a pending task.
type Key struct {
	Network solana.Network `json:"network"`
	Entity  string         `json:"entity"`
	ID      string         `json:"id"`
}

// Func is the deferred work.
type Func func(ctx context.Context)

// Entry describes a pending task.
type Entry struct {
	Key Key       `json:"key"`
	At  time.Time `json:"at"`
}

// Options tune a queue.
type Options struct {
	// Now overrides the clock used for deadlines.
	Now func() time.Time
}

type entityKey struct {
	network solana.Network
	entity  string
}

type item struct {
	key   Key
	at    time.Time
	fn    Func
	index int
}

// Queue is safe for concurrent use.
type Queue struct {
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	items     itemHeap
	byKey     map[Key]*item
	byNetwork map[solana.Network]map[Key]*item
	byEntity  map[entityKey]map[Key]*item

	wake    chan struct{}
	running sync.WaitGroup
}

// New constructs an empty queue.
func New(opts Options, logger zerolog.Logger) *Queue {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		logger:    logger.With().Str("component", "timer_queue").Logger(),
		now:       now,
		byKey:     make(map[Key]*item),
		byNetwork: make(map[solana.Network]map[Key]*item),
		byEntity:  make(map[entityKey]map[Key]*item),
		wake:      make(chan struct{}, 1),
	}
}

// Schedule arms fn to run after delay. It returns false and leaves the queue
// untouched when key is already pending. Negative delays run immediately.
func (q *Queue) Schedule(key Key, delay time.Duration, fn Func) bool {
	if delay < 0 {
		delay = 0
	}
	return q.ScheduleAt(key, q.now().Add(delay), fn)
}

// ScheduleAt arms fn to run at the given time.
func (q *Queue) ScheduleAt(key Key, at time.Time, fn Func) bool {
	q.mu.Lock()
	if _, exists := q.byKey[key]; exists {
		q.mu.Unlock()
		return false
	}

	it := &item{key: key, at: at, fn: fn}
	heap.Push(&q.items, it)
	q.index(it)
	first := q.items[0] == it
	q.mu.Unlock()

	if first {
		q.signal()
	}
	return true
}

// Cancel drops a pending task. Cancelling an unknown, fired or already
// cancelled key is a no-op.
func (q *Queue) Cancel(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	q.remove(it)
	return true
}

// CancelNetwork drops every pending task of a network.
func (q *Queue) CancelNetwork(network solana.Network) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.byNetwork[network] {
		q.remove(it)
		n++
	}
	return n
}

// CancelEntity drops every pending task of one entity on a network.
func (q *Queue) CancelEntity(network solana.Network, entity string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.byEntity[entityKey{network, entity}] {
		q.remove(it)
		n++
	}
	return n
}

// Pending reports whether key is armed.
func (q *Queue) Pending(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byKey[key]
	return ok
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Counts returns pending tasks per network.
func (q *Queue) Counts() map[solana.Network]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[solana.Network]int, len(q.byNetwork))
	for network, set := range q.byNetwork {
		out[network] = len(set)
	}
	return out
}

// Entries lists pending tasks ordered by deadline.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, Entry{Key: it.key, At: it.at})
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Run fires due tasks until ctx is cancelled, then waits for running tasks.
// Each task runs on its own goroutine.
func (q *Queue) Run(ctx context.Context) error {
	defer q.running.Wait()

	for {
		due, wait, armed := q.popDue()
		for _, it := range due {
			q.running.Add(1)
			go q.fire(ctx, it)
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if armed {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-q.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (q *Queue) popDue() (due []*item, wait time.Duration, armed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		it := heap.Pop(&q.items).(*item)
		q.unindex(it)
		due = append(due, it)
	}
	if len(q.items) == 0 {
		return due, 0, false
	}
	return due, q.items[0].at.Sub(now), true
}

func (q *Queue) fire(ctx context.Context, it *item) {
	defer q.running.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().
				Interface("panic", r).
				Str("network", string(it.key.Network)).
				Str("entity", it.key.Entity).
				Str("id", it.key.ID).
				Msg("deferred task panicked")
		}
	}()
	it.fn(ctx)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) remove(it *item) {
	heap.Remove(&q.items, it.index)
	q.unindex(it)
}

func (q *Queue) index(it *item) {
	q.byKey[it.key] = it

	net := q.byNetwork[it.key.Network]
	if net == nil {
		net = make(map[Key]*item)
		q.byNetwork[it.key.Network] = net
	}
	net[it.key] = it

	ek := entityKey{it.key.Network, it.key.Entity}
	ent := q.byEntity[ek]
	if ent == nil {
		ent = make(map[Key]*item)
		q.byEntity[ek] = ent
	}
	ent[it.key] = it
}

func (q *Queue) unindex(it *item) {
	delete(q.byKey, it.key)

	if net := q.byNetwork[it.key.Network]; net != nil {
		delete(net, it.key)
		if len(net) == 0 {
			delete(q.byNetwork, it.key.Network)
		}
	}

	ek := entityKey{it.key.Network, it.key.Entity}
	if ent := q.byEntity[ek]; ent != nil {
		delete(ent, it.key)
		if len(ent) == 0 {
			delete(q.byEntity, ek)
		}
	}
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
