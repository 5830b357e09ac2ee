package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

const sol = 1_000_000_000

func newBalanceFixture() (*memStore, *fakeChain, *directory.Directory) {
	store := newMemStore()
	store.tracked[solana.Mainnet] = []storage.TrackedValidator{{
		Network:             solana.Mainnet,
		VoteAddress:         "vote-1",
		DiscordSubscribers:  []string{"d-default", "d-high"},
		TelegramSubscribers: []string{"t-default"},
	}}
	store.subscribers["d-high"] = storage.Subscriber{ID: "d-high", BalanceThreshold: decimal.NewFromInt(5), PDAThreshold: decimal.NewFromInt(1)}
	chain := &fakeChain{balances: map[string]uint64{"identity-1": 4 * sol}}
	dir := directory.NewStatic(directory.Info{VoteID: "vote-1", IdentityID: "identity-1", Name: "One", Network: solana.Mainnet})
	return store, chain, dir
}

func TestBalanceTrackerUnsetThresholdFollowsDefault(t *testing.T) {
	store, chain, dir := newBalanceFixture()
	// a freshly tracked subscriber has no stored thresholds
	store.subscribers["d-default"] = storage.Subscriber{ID: "d-default", Kind: storage.KindDiscord}
	notifier := &captureNotifier{}
	tracker := NewBalanceTracker(BalanceOptions{DefaultThreshold: decimal.NewFromInt(5)}, chain, store, dir, notifier, zerolog.Nop())

	require.NoError(t, tracker.Check(context.Background(), time.Now()))
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.True(t, note.Payload.IsLowBalance)
	assert.True(t, note.Payload.Threshold.Equal(decimal.NewFromInt(5)))
	assert.ElementsMatch(t, []string{"d-default", "d-high"}, note.Discord)
	assert.Equal(t, []string{"t-default"}, note.Telegram)
}

func TestBalanceTrackerSequence(t *testing.T) {
	store, chain, dir := newBalanceFixture()
	notifier := &captureNotifier{}
	tracker := NewBalanceTracker(BalanceOptions{DefaultThreshold: decimal.NewFromInt(3)}, chain, store, dir, notifier, zerolog.Nop())
	ctx := context.Background()

	// 4 SOL: only the subscriber with a 5 SOL threshold is low
	require.NoError(t, tracker.Check(ctx, time.Now()))
	require.Len(t, notifier.notes, 1)
	first := notifier.notes[0]
	assert.Equal(t, alerting.SignalBalance, first.Signal)
	assert.True(t, first.Payload.IsLowBalance)
	assert.True(t, first.Payload.Threshold.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, []string{"d-high"}, first.Discord)
	assert.Empty(t, first.Telegram)

	// unchanged balance: nothing new
	require.NoError(t, tracker.Check(ctx, time.Now()))
	assert.Len(t, notifier.notes, 1)

	// 2.5 SOL: default subscribers cross their 3 SOL threshold
	chain.balances["identity-1"] = 2_500_000_000
	require.NoError(t, tracker.Check(ctx, time.Now()))
	require.Len(t, notifier.notes, 2)
	second := notifier.notes[1]
	assert.True(t, second.Payload.IsLowBalance)
	assert.True(t, second.Payload.Threshold.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, []string{"d-default"}, second.Discord)
	assert.Equal(t, []string{"t-default"}, second.Telegram)
	assert.Equal(t, "2.5", second.Payload.BalanceSOL.String())

	// 6 SOL: everyone restored; one restore notification per threshold
	chain.balances["identity-1"] = 6 * sol
	require.NoError(t, tracker.Check(ctx, time.Now()))
	require.Len(t, notifier.notes, 4)
	for _, n := range notifier.notes[2:] {
		assert.False(t, n.Payload.IsLowBalance)
	}
	assert.True(t, notifier.notes[2].Payload.Threshold.Equal(decimal.NewFromInt(3)))
	assert.True(t, notifier.notes[3].Payload.Threshold.Equal(decimal.NewFromInt(5)))

	tracked, _ := store.ListTracked(ctx, solana.Mainnet)
	assert.Equal(t, debounce.Flags{"d-default": false, "d-high": false, "t-default": false}, tracked[0].BalanceFlags)
	assert.Len(t, store.samples, 4)
	assert.Equal(t, storage.BalanceIdentity, store.samples[0].Kind)
	assert.Equal(t, "identity-1", store.samples[0].Address)
}

func TestBalanceTrackerSkipsFailingValidator(t *testing.T) {
	store, chain, dir := newBalanceFixture()
	store.tracked[solana.Mainnet] = append([]storage.TrackedValidator{{VoteAddress: "not-in-directory"}}, store.tracked[solana.Mainnet]...)
	notifier := &captureNotifier{}
	tracker := NewBalanceTracker(BalanceOptions{DefaultThreshold: decimal.NewFromInt(3)}, chain, store, dir, notifier, zerolog.Nop())

	require.NoError(t, tracker.Check(context.Background(), time.Now()))
	assert.Len(t, notifier.notes, 1)
}

type stubDZ map[string]bool

func (s stubDZ) IsDoubleZero(_ context.Context, identity string) (bool, error) {
	v, ok := s[identity]
	if !ok {
		return false, errors.New("validators.app unavailable")
	}
	return v, nil
}

const (
	dzProgram = "dzrevZC94tBLwuHw1dyynZxaXTWyp7yocsinyEVPtt4"
	dzSeed    = "solana_validator_deposit"
	identityA = "11111111111111111111111111111111"
	identityB = "SysvarC1ock11111111111111111111111111111111"
	identityC = "Vote111111111111111111111111111111111111111"
)

func TestDepositAddressIsStableAndOffCurve(t *testing.T) {
	program := solana.MustPublicKey(dzProgram)
	a1, err := DepositAddress(program, dzSeed, identityA)
	require.NoError(t, err)
	a2, err := DepositAddress(program, dzSeed, identityA)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	b, err := DepositAddress(program, dzSeed, identityB)
	require.NoError(t, err)
	assert.NotEqual(t, a1, b)

	pk, err := solana.ParsePublicKey(a1)
	require.NoError(t, err)
	assert.False(t, solana.IsOnCurve(pk))

	_, err = DepositAddress(program, dzSeed, "not-base58-0OIl")
	assert.Error(t, err)
}

func TestPDATrackerContinuesPastFailedLookup(t *testing.T) {
	program := solana.MustPublicKey(dzProgram)
	pdaB, err := DepositAddress(program, dzSeed, identityB)
	require.NoError(t, err)

	store := newMemStore()
	store.tracked[solana.Mainnet] = []storage.TrackedValidator{
		{VoteAddress: "vote-a", DiscordSubscribers: []string{"d1"}},
		{VoteAddress: "vote-b", DiscordSubscribers: []string{"d2"}},
		{VoteAddress: "vote-c", DiscordSubscribers: []string{"d3"}},
	}
	dir := directory.NewStatic(
		directory.Info{VoteID: "vote-a", IdentityID: identityA, Network: solana.Mainnet},
		directory.Info{VoteID: "vote-b", IdentityID: identityB, Network: solana.Mainnet},
		directory.Info{VoteID: "vote-c", IdentityID: identityC, Network: solana.Mainnet},
	)
	chain := &fakeChain{balances: map[string]uint64{pdaB: 100_000_000}}
	notifier := &captureNotifier{}
	checker := stubDZ{identityB: true, identityC: false}

	tracker := NewBalanceTracker(BalanceOptions{
		Kind:             storage.BalancePDA,
		DefaultThreshold: decimal.RequireFromString("0.5"),
		Resolve:          PDAResolver(checker, program, dzSeed),
	}, chain, store, dir, notifier, zerolog.Nop())

	require.NoError(t, tracker.Check(context.Background(), time.Now()))
	require.Len(t, notifier.notes, 1)
	n := notifier.notes[0]
	assert.Equal(t, alerting.SignalPDABalance, n.Signal)
	assert.Equal(t, pdaB, n.Payload.PDAAddress)
	assert.Equal(t, []string{"d2"}, n.Discord)
	assert.True(t, n.Payload.IsLowBalance)

	tracked, _ := store.ListTracked(context.Background(), solana.Mainnet)
	assert.Equal(t, debounce.Flags{"d2": true}, tracked[1].PDABalanceFlags)
	assert.Empty(t, tracked[1].BalanceFlags)
}

func TestDZClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Token"))
		switch r.URL.Path {
		case "/api/v1/validators/mainnet/dz-node.json":
			_ = json.NewEncoder(w).Encode(map[string]any{"is_dz": true, "name": "x"})
		case "/api/v1/validators/mainnet/plain-node.json":
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "y"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewDZClient(srv.URL, "secret", time.Second, zerolog.Nop())
	ok, err := c.IsDoubleZero(context.Background(), "dz-node")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsDoubleZero(context.Background(), "plain-node")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.IsDoubleZero(context.Background(), "missing")
	assert.Error(t, err)
}
