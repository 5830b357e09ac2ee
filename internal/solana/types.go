package solana

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Network tags a cluster.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Networks lists every supported cluster in a stable order.
var Networks = []Network{Mainnet, Testnet}

// ParseNetwork validates a network label.
func ParseNetwork(v string) (Network, error) {
	switch Network(v) {
	case Mainnet, Testnet:
		return Network(v), nil
	default:
		return "", fmt.Errorf("unknown network %q", v)
	}
}

// EpochInfo mirrors the getEpochInfo response.
type EpochInfo struct {
	AbsoluteSlot uint64 `json:"absoluteSlot"`
	BlockHeight  uint64 `json:"blockHeight"`
	Epoch        uint64 `json:"epoch"`
	SlotIndex    uint64 `json:"slotIndex"`
	SlotsInEpoch uint64 `json:"slotsInEpoch"`
}

// FirstSlot is the absolute slot the current epoch started at.
func (e EpochInfo) FirstSlot() uint64 {
	return e.AbsoluteSlot - e.SlotIndex
}

// LeaderSchedule maps a leader identity to its epoch-relative slot offsets.
type LeaderSchedule map[string][]uint64

// VoteAccount is a single entry of getVoteAccounts.
type VoteAccount struct {
	VotePubkey     string `json:"votePubkey"`
	NodePubkey     string `json:"nodePubkey"`
	ActivatedStake uint64 `json:"activatedStake"`
	Commission     uint8  `json:"commission"`
	LastVote       uint64 `json:"lastVote"`
	RootSlot       uint64 `json:"rootSlot"`
}

// VoteAccounts splits vote accounts into current and delinquent sets.
type VoteAccounts struct {
	Current    []VoteAccount `json:"current"`
	Delinquent []VoteAccount `json:"delinquent"`
}

// Lookup reports whether votePubkey is known and whether it is current.
func (v VoteAccounts) Lookup(votePubkey string) (found, current bool) {
	for _, acc := range v.Current {
		if acc.VotePubkey == votePubkey {
			return true, true
		}
	}
	for _, acc := range v.Delinquent {
		if acc.VotePubkey == votePubkey {
			return true, false
		}
	}
	return false, false
}

// RPC is the chain capability consumed by the scheduler and samplers.
type RPC interface {
	CurrentSlot(ctx context.Context) (uint64, error)
	BlockRange(ctx context.Context, from, to uint64) ([]uint64, error)
	BlockTime(ctx context.Context, slot uint64) (time.Time, error)
	EpochInfo(ctx context.Context) (EpochInfo, error)
	LeaderSchedule(ctx context.Context) (LeaderSchedule, error)
	VoteAccounts(ctx context.Context) (VoteAccounts, error)
	AccountBalance(ctx context.Context, address string) (uint64, error)
}

const lamportsExp = -9

// LamportsToSOL converts a raw lamport amount into SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), lamportsExp)
}

// ExplorerURL links an account on solscan for the given network.
func ExplorerURL(network Network, address string) string {
	url := "https://solscan.io/account/" + address
	if network == Testnet {
		url += "?cluster=testnet"
	}
	return url
}
