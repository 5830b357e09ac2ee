package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/solana"
)

func TestRefreshLoadsBothNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, listPath, r.URL.Path)
		network := r.URL.Query().Get("network")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"voteId": network + "-vote", "validatorId": network + "-id", "name": "Node " + network},
			},
		})
	}))
	defer srv.Close()

	dir := New(Options{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, dir.Refresh(context.Background()))

	info, ok := dir.Find(solana.Mainnet, "mainnet-vote")
	require.True(t, ok)
	assert.Equal(t, "mainnet-id", info.IdentityID)
	assert.Equal(t, solana.Mainnet, info.Network)

	_, ok = dir.Find(solana.Mainnet, "testnet-vote")
	assert.False(t, ok)
	assert.Equal(t, 1, dir.Size(solana.Testnet))
}

func TestRefreshKeepsPreviousListOnFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"voteId": "v", "validatorId": "i"}},
		})
	}))
	defer srv.Close()

	dir := New(Options{BaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, dir.Refresh(context.Background()))
	assert.Error(t, dir.Refresh(context.Background()))

	_, ok := dir.Find(solana.Mainnet, "v")
	assert.True(t, ok)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "abc", Info{VoteID: "abc"}.DisplayName())
	assert.Equal(t, "Named", Info{VoteID: "abc", Name: "Named"}.DisplayName())
}
