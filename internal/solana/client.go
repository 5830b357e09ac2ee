package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const commitmentConfirmed = "confirmed"

var (
	// ErrBlockTimeUnavailable is returned when the node has no timestamp for a slot.
	ErrBlockTimeUnavailable = errors.New("solana: block time unavailable")
	// ErrNotConfigured indicates a missing RPC endpoint.
	ErrNotConfigured = errors.New("solana: rpc url not configured")
)

// CallObserver is notified after every RPC round trip.
type CallObserver func(network Network, method string, elapsed time.Duration, err error)

// ClientOptions parameterise a JSON-RPC client for one cluster.
type ClientOptions struct {
	Network           Network
	RPCURL            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Observer          CallObserver
}

// Client talks to a Solana JSON-RPC node.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	limiter *rate.Limiter

	client    *rpc.Client
	clientMux sync.Mutex
}

// NewClient builds a lazily dialled RPC client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "solana_rpc").Str("network", string(opts.Network)).Logger(),
		limiter: rate.NewLimiter(limit, burst),
	}
}

type commitmentConfig struct {
	Commitment string `json:"commitment"`
}

type balanceResponse struct {
	Value uint64 `json:"value"`
}

// CurrentSlot returns the latest confirmed slot.
func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, &slot, "getSlot", commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return 0, err
	}
	return slot, nil
}

// BlockRange lists confirmed blocks in [from, to].
func (c *Client) BlockRange(ctx context.Context, from, to uint64) ([]uint64, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d..%d", from, to)
	}
	var blocks []uint64
	if err := c.call(ctx, &blocks, "getBlocks", from, to, commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return nil, err
	}
	return blocks, nil
}

// BlockTime returns the estimated production time of slot.
func (c *Client) BlockTime(ctx context.Context, slot uint64) (time.Time, error) {
	var ts *int64
	if err := c.call(ctx, &ts, "getBlockTime", slot); err != nil {
		return time.Time{}, err
	}
	if ts == nil {
		return time.Time{}, fmt.Errorf("slot %d: %w", slot, ErrBlockTimeUnavailable)
	}
	return time.Unix(*ts, 0).UTC(), nil
}

// EpochInfo returns the current epoch position.
func (c *Client) EpochInfo(ctx context.Context) (EpochInfo, error) {
	var info EpochInfo
	if err := c.call(ctx, &info, "getEpochInfo", commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return EpochInfo{}, err
	}
	return info, nil
}

// LeaderSchedule returns the schedule of the current epoch.
func (c *Client) LeaderSchedule(ctx context.Context) (LeaderSchedule, error) {
	var schedule LeaderSchedule
	if err := c.call(ctx, &schedule, "getLeaderSchedule", nil, commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, errors.New("leader schedule unavailable")
	}
	return schedule, nil
}

// VoteAccounts returns current and delinquent vote accounts.
func (c *Client) VoteAccounts(ctx context.Context) (VoteAccounts, error) {
	var accounts VoteAccounts
	if err := c.call(ctx, &accounts, "getVoteAccounts", commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return VoteAccounts{}, err
	}
	return accounts, nil
}

// AccountBalance returns the lamport balance of address.
func (c *Client) AccountBalance(ctx context.Context, address string) (uint64, error) {
	if _, err := ParsePublicKey(address); err != nil {
		return 0, err
	}
	var resp balanceResponse
	if err := c.call(ctx, &resp, "getBalance", address, commitmentConfig{Commitment: commitmentConfirmed}); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	err = client.CallContext(ctx, result, method, args...)
	if c.opts.Observer != nil {
		c.opts.Observer(c.opts.Network, method, time.Since(started), err)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Msg("rpc call failed")
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *Client) getClient(ctx context.Context) (*rpc.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if c.opts.RPCURL == "" {
		return nil, ErrNotConfigured
	}

	client, err := rpc.DialOptions(ctx, c.opts.RPCURL, rpc.WithHTTPClient(&http.Client{Timeout: c.opts.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w", c.opts.Network, err)
	}
	c.client = client
	return client, nil
}

var _ RPC = (*Client)(nil)
