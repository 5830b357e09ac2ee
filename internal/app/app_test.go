package app

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"validator-watch/internal/alerting"
	"validator-watch/internal/debounce"
	"validator-watch/internal/slotskip"
	"validator-watch/internal/solana"
	"validator-watch/internal/storage"
)

func balanceSamples(n int) []storage.BalanceSample {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.BalanceSample, n)
	for i := range out {
		out[i] = storage.BalanceSample{
			Network:     solana.Mainnet,
			VoteAddress: "vote1",
			Kind:        storage.BalanceIdentity,
			Address:     "id1",
			BalanceSOL:  decimal.NewFromInt(int64(i)),
			SampledAt:   start.Add(time.Duration(i) * 10 * time.Minute),
		}
	}
	return out
}

func TestDownsampleSamples(t *testing.T) {
	samples := balanceSamples(10)
	assert.Len(t, downsampleSamples(samples, 0), 10)
	assert.Len(t, downsampleSamples(samples, 20), 10)

	out := downsampleSamples(samples, 4)
	require.Len(t, out, 4)
	assert.True(t, out[0].BalanceSOL.Equal(decimal.Zero))
	assert.True(t, out[3].BalanceSOL.Equal(decimal.NewFromInt(9)))

	last := downsampleSamples(samples, 1)
	require.Len(t, last, 1)
	assert.True(t, last[0].BalanceSOL.Equal(decimal.NewFromInt(9)))
}

func TestWriteSamplesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "balance.csv")
	require.NoError(t, writeSamplesCSV(path, balanceSamples(3)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "balance_sol", rows[0][5])
	assert.Equal(t, []string{"2026-01-01T00:10:00Z", "mainnet", "vote1", "identity", "id1", "1"}, rows[2])
}

func TestWriteTracked(t *testing.T) {
	var buf bytes.Buffer
	writeTracked(&buf, nil)
	assert.Contains(t, buf.String(), "no tracked validators")

	buf.Reset()
	writeTracked(&buf, []storage.TrackedValidator{{
		Network:            solana.Mainnet,
		VoteAddress:        "vote1",
		DiscordSubscribers: []string{"u2", "u1"},
		LastStatus:         debounce.StatusDelinquent,
		BalanceFlags:       debounce.Flags{"u2": true, "u1": true, "u3": false},
	}})
	out := buf.String()
	assert.Contains(t, out, "delinquent")
	assert.Contains(t, out, "u1,u2")
}

func TestLowFlags(t *testing.T) {
	assert.Equal(t, "-", lowFlags(nil))
	assert.Equal(t, "-", lowFlags(debounce.Flags{"a": false}))
	assert.Equal(t, "a,b", lowFlags(debounce.Flags{"b": true, "a": true}))
}

func TestWritePlan(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	writePlan(&buf, slotskip.Plan{
		Network:     solana.Testnet,
		VoteAddress: "vote1",
		Identity:    "id1",
		Epoch:       700,
		Assigned:    8,
		Elapsed:     1,
		Groups:      []slotskip.PlannedGroup{{Slots: []uint64{104, 105, 106, 107}, CheckAt: at}},
	})
	out := buf.String()
	assert.Contains(t, out, "epoch: 700")
	assert.Contains(t, out, "104,105,106,107")
	assert.Contains(t, out, "2026-01-01T12:00:00Z")

	buf.Reset()
	writePlan(&buf, slotskip.Plan{Network: solana.Mainnet})
	assert.Contains(t, buf.String(), "no upcoming leader slots")
}

func TestKnownSignal(t *testing.T) {
	assert.True(t, knownSignal(alerting.SignalPDABalance))
	assert.False(t, knownSignal("reboot"))
}
