package monitor

import (
	"context"
	"errors"
	"sync"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/events"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
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

// memStore is an in-memory stand-in for the validator and subscriber tables.
type memStore struct {
	mu          sync.Mutex
	tracked     map[solana.Network][]storage.TrackedValidator
	subscribers map[string]storage.Subscriber
	samples     []storage.BalanceSample
	statusSets  int
}

func newMemStore() *memStore {
	return &memStore{
		tracked:     make(map[solana.Network][]storage.TrackedValidator),
		subscribers: make(map[string]storage.Subscriber),
	}
}

func (m *memStore) ListTracked(_ context.Context, network solana.Network) ([]storage.TrackedValidator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.TrackedValidator, len(m.tracked[network]))
	copy(out, m.tracked[network])
	return out, nil
}

func (m *memStore) find(network solana.Network, vote string) (*storage.TrackedValidator, error) {
	for i := range m.tracked[network] {
		if m.tracked[network][i].VoteAddress == vote {
			return &m.tracked[network][i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) SetStatus(_ context.Context, network solana.Network, vote string, status debounce.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.find(network, vote)
	if err != nil {
		return err
	}
	v.LastStatus = status
	m.statusSets++
	return nil
}

func merge(dst *debounce.Flags, updates debounce.Flags) {
	if *dst == nil {
		*dst = debounce.Flags{}
	}
	for k, val := range updates {
		(*dst)[k] = val
	}
}

func (m *memStore) MergeBalanceFlags(_ context.Context, network solana.Network, vote string, updates debounce.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.find(network, vote)
	if err != nil {
		return err
	}
	merge(&v.BalanceFlags, updates)
	return nil
}

func (m *memStore) MergePDAFlags(_ context.Context, network solana.Network, vote string, updates debounce.Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.find(network, vote)
	if err != nil {
		return err
	}
	merge(&v.PDABalanceFlags, updates)
	return nil
}

func (m *memStore) GetSubscribers(_ context.Context, ids []string) (map[string]storage.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]storage.Subscriber)
	for _, id := range ids {
		if s, ok := m.subscribers[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *memStore) InsertBalanceSample(_ context.Context, sample storage.BalanceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	return nil
}

type fakeChain struct {
	mu       sync.Mutex
	epoch    uint64
	err      error
	accounts solana.VoteAccounts
	balances map[string]uint64
}

func (f *fakeChain) EpochInfo(context.Context) (solana.EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return solana.EpochInfo{}, f.err
	}
	return solana.EpochInfo{Epoch: f.epoch}, nil
}

func (f *fakeChain) VoteAccounts(context.Context) (solana.VoteAccounts, error) {
	return f.accounts, f.err
}

func (f *fakeChain) AccountBalance(_ context.Context, address string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.balances[address]
	if !ok {
		return 0, errors.New("account not found")
	}
	return b, nil
}
