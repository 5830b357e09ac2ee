package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"validator-watch/internal/directory"
	"validator-watch/internal/solana"
)

// DZChecker reports whether a validator identity is connected to DoubleZero.
type DZChecker interface {
	IsDoubleZero(ctx context.Context, identity string) (bool, error)
}

// DZClient queries the validators.app API.
type DZClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewDZClient builds a client. token is sent as the API Token header when set.
func NewDZClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *DZClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.validators.app"
	}
	return &DZClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "dz_client").Logger(),
	}
}

// IsDoubleZero reads the is_dz flag of a mainnet identity.
func (c *DZClient) IsDoubleZero(ctx context.Context, identity string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/validators/mainnet/%s.json", c.baseURL, url.PathEscape(identity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create dz request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch dz status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("dz api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		IsDZ bool `json:"is_dz"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("decode dz status: %w", err)
	}
	return payload.IsDZ, nil
}

// DepositAddress derives the DoubleZero deposit PDA of an identity.
func DepositAddress(programID solana.PublicKey, seed, identity string) (string, error) {
	key, err := solana.ParsePublicKey(identity)
	if err != nil {
		return "", fmt.Errorf("parse identity: %w", err)
	}
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte(seed), key.Bytes()}, programID)
	if err != nil {
		return "", err
	}
	return pda.String(), nil
}

// PDAResolver resolves the deposit PDA of DoubleZero validators only.
func PDAResolver(checker DZChecker, programID solana.PublicKey, seed string) AddressResolver {
	return func(ctx context.Context, info directory.Info) (string, bool, error) {
		dz, err := checker.IsDoubleZero(ctx, info.IdentityID)
		if err != nil {
			return "", false, err
		}
		if !dz {
			return "", false, nil
		}
		address, err := DepositAddress(programID, seed, info.IdentityID)
		if err != nil {
			return "", false, err
		}
		return address, true, nil
	}
}
