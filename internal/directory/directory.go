package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"validator-watch/internal/solana"
)

const listPath = "/validators/list"

// Info describes a validator as published by the directory API.
type Info struct {
	VoteID      string         `json:"voteId"`
	IdentityID  string         `json:"validatorId"`
	Name        string         `json:"name"`
	IconURL     string         `json:"iconUrl"`
	NodeVersion string         `json:"nodeVersion"`
	TotalStake  float64        `json:"totalStake"`
	Network     solana.Network `json:"-"`
}

// DisplayName falls back to the vote address when the validator is unnamed.
func (i Info) DisplayName() string {
	if strings.TrimSpace(i.Name) != "" {
		return i.Name
	}
	return i.VoteID
}

// Lookup resolves validators by vote address.
type Lookup interface {
	Find(network solana.Network, voteID string) (Info, bool)
}

// Options parameterise the directory loader.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Directory caches the validator list of every network.
type Directory struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter

	mu     sync.RWMutex
	byVote map[solana.Network]map[string]Info
}

// New constructs an empty directory; call Refresh to populate it.
func New(opts Options, logger zerolog.Logger) *Directory {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.thevalidators.io"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Directory{
		opts:    opts,
		logger:  logger.With().Str("component", "directory").Logger(),
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		byVote:  make(map[solana.Network]map[string]Info),
	}
}

// NewStatic builds a directory from fixed entries, used by tests and dry runs.
func NewStatic(entries ...Info) *Directory {
	d := New(Options{}, zerolog.Nop())
	for _, e := range entries {
		if d.byVote[e.Network] == nil {
			d.byVote[e.Network] = make(map[string]Info)
		}
		d.byVote[e.Network][e.VoteID] = e
	}
	return d
}

// Find returns the directory entry for voteID.
func (d *Directory) Find(network solana.Network, voteID string) (Info, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.byVote[network][voteID]
	return info, ok
}

// Size reports how many validators are cached for network.
func (d *Directory) Size(network solana.Network) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byVote[network])
}

// Refresh reloads every network. A network that fails keeps its previous list.
func (d *Directory) Refresh(ctx context.Context) error {
	var firstErr error
	for _, network := range solana.Networks {
		list, err := d.fetch(ctx, network)
		if err != nil {
			d.logger.Error().Err(err).Str("network", string(network)).Msg("validator list refresh failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		index := make(map[string]Info, len(list))
		for _, info := range list {
			info.Network = network
			index[info.VoteID] = info
		}

		d.mu.Lock()
		d.byVote[network] = index
		d.mu.Unlock()

		d.logger.Info().Str("network", string(network)).Int("validators", len(index)).Msg("validator list loaded")
	}
	return firstErr
}

type listResponse struct {
	Data []Info `json:"data"`
}

func (d *Directory) fetch(ctx context.Context, network solana.Network) ([]Info, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("network", string(network))
	params.Set("select", "voteId,validatorId,totalStake,iconUrl,name,nodeVersion,details,network")
	endpoint := d.opts.BaseURL + listPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s validator list: %w", network, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("directory api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload listResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s validator list: %w", network, err)
	}
	return payload.Data, nil
}

var _ Lookup = (*Directory)(nil)
