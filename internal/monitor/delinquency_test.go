package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

func voteAccounts(current, delinquent []string) solana.VoteAccounts {
	var va solana.VoteAccounts
	for _, v := range current {
		va.Current = append(va.Current, solana.VoteAccount{VotePubkey: v})
	}
	for _, v := range delinquent {
		va.Delinquent = append(va.Delinquent, solana.VoteAccount{VotePubkey: v})
	}
	return va
}

func TestDelinquencyTransitions(t *testing.T) {
	store := newMemStore()
	store.tracked[solana.Mainnet] = []storage.TrackedValidator{
		{VoteAddress: "fresh", DiscordSubscribers: []string{"d0"}},
		{VoteAddress: "falling", LastStatus: debounce.StatusCurrent, DiscordSubscribers: []string{"d1"}},
		{VoteAddress: "back", LastStatus: debounce.StatusDelinquent, TelegramSubscribers: []string{"t1"}},
		{VoteAddress: "steady", LastStatus: debounce.StatusCurrent},
		{VoteAddress: "gone", LastStatus: debounce.StatusCurrent},
	}
	chain := &fakeChain{accounts: voteAccounts([]string{"fresh", "back", "steady"}, []string{"falling"})}
	notifier := &captureNotifier{}
	dir := directory.NewStatic(directory.Info{VoteID: "falling", Name: "Falling", Network: solana.Mainnet})

	m := NewDelinquencyMonitor(map[solana.Network]VoteAccountReader{solana.Mainnet: chain}, store, dir, notifier, zerolog.Nop())
	require.NoError(t, m.Check(context.Background(), time.Now()))

	require.Len(t, notifier.notes, 2)
	assert.Equal(t, alerting.SignalDelinquent, notifier.notes[0].Signal)
	assert.Equal(t, "Falling", notifier.notes[0].Payload.Name)
	assert.Equal(t, debounce.StatusDelinquent, notifier.notes[0].Payload.Status)
	assert.Equal(t, []string{"d1"}, notifier.notes[0].Discord)
	assert.Equal(t, alerting.SignalResolved, notifier.notes[1].Signal)
	assert.Equal(t, []string{"t1"}, notifier.notes[1].Telegram)

	assert.Equal(t, 3, store.statusSets)
	tracked, _ := store.ListTracked(context.Background(), solana.Mainnet)
	assert.Equal(t, debounce.StatusCurrent, tracked[0].LastStatus)
	assert.Equal(t, debounce.StatusCurrent, tracked[4].LastStatus)

	require.NoError(t, m.Check(context.Background(), time.Now()))
	assert.Len(t, notifier.notes, 2)
	assert.Equal(t, 3, store.statusSets)
}
