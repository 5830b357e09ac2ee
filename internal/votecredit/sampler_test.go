package votecredit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/alerting"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

type fakeSource struct {
	mu         sync.Mutex
	bucketFrom []string
	credits    map[string][]float64
	failing    map[string]bool
}

func (f *fakeSource) MaxBucket(_ context.Context, vote string, epoch uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketFrom = append(f.bucketFrom, vote)
	return 7, nil
}

func (f *fakeSource) Credits(_ context.Context, vote string, epoch uint64, bucket int) ([]float64, error) {
	if f.failing[vote] {
		return nil, errors.New("page timeout")
	}
	return f.credits[vote], nil
}

type fixedEpoch uint64

func (e fixedEpoch) EpochInfo(context.Context) (solana.EpochInfo, error) {
	return solana.EpochInfo{Epoch: uint64(e)}, nil
}

type memStore struct {
	mu      sync.Mutex
	tracked []storage.TrackedValidator
	writes  map[string]bool
}

func (m *memStore) ListTracked(context.Context, solana.Network) ([]storage.TrackedValidator, error) {
	return m.tracked, nil
}

func (m *memStore) SetVoteLow(_ context.Context, _ solana.Network, vote string, low bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[vote] = low
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

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSamplerTransitions(t *testing.T) {
	oneHigh := repeat(8, 200)
	oneHigh[150] = 16

	source := &fakeSource{
		credits: map[string][]float64{
			"low":       append(repeat(16, 50), repeat(15, 200)...),
			"still-low": repeat(1, 200),
			"recovered": oneHigh,
			"short":     repeat(1, 199),
		},
		failing: map[string]bool{"broken": true},
	}
	store := &memStore{
		writes: map[string]bool{},
		tracked: []storage.TrackedValidator{
			{VoteAddress: "low", DiscordSubscribers: []string{"d1"}},
			{VoteAddress: "still-low", LastVoteLow: true},
			{VoteAddress: "recovered", LastVoteLow: true, TelegramSubscribers: []string{"t1"}},
			{VoteAddress: "short", LastVoteLow: true},
			{VoteAddress: "broken"},
		},
	}
	notifier := &captureNotifier{}
	dir := directory.NewStatic(directory.Info{VoteID: "low", Name: "Low Validator", Network: solana.Mainnet})

	s := NewSampler(SamplerOptions{Concurrency: 3}, source, fixedEpoch(812), store, dir, notifier, zerolog.Nop())
	outcomes, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"low"}, source.bucketFrom)
	assert.Len(t, outcomes, 4)
	assert.Equal(t, map[string]bool{"low": true, "recovered": false}, store.writes)

	require.Len(t, notifier.notes, 2)
	byVote := map[string]alerting.Notification{}
	for _, n := range notifier.notes {
		assert.Equal(t, alerting.SignalVoteCredit, n.Signal)
		byVote[n.Payload.VoteAddress] = n
	}
	assert.True(t, byVote["low"].Payload.HasLowCredit)
	assert.Equal(t, "Low Validator", byVote["low"].Payload.Name)
	assert.Equal(t, []string{"d1"}, byVote["low"].Discord)
	assert.False(t, byVote["recovered"].Payload.HasLowCredit)
	assert.Equal(t, []string{"t1"}, byVote["recovered"].Telegram)

	for _, o := range outcomes {
		if o.VoteAddress == "short" {
			assert.False(t, o.Determined)
			assert.Equal(t, 199, o.Samples)
		}
	}
}

func TestSamplerNoValidators(t *testing.T) {
	source := &fakeSource{}
	s := NewSampler(SamplerOptions{}, source, fixedEpoch(1), &memStore{writes: map[string]bool{}}, directory.NewStatic(), &captureNotifier{}, zerolog.Nop())
	outcomes, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Empty(t, source.bucketFrom)
}
