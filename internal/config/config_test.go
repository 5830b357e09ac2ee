package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
solana:
  mainnet:
    rpc_url: https://mainnet.example
  testnet:
    rpc_url: https://testnet.example
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 400*time.Millisecond, cfg.SlotSkip.SlotDuration)
	assert.Equal(t, 5*time.Second, cfg.SlotSkip.NotificationBuffer)
	assert.Equal(t, 4, cfg.SlotSkip.GroupSize)
	assert.Equal(t, 0, cfg.SlotSkip.MaxRechecks)
	assert.Equal(t, 30, cfg.Monitor.MaxConcurrency)
	assert.Equal(t, 200, cfg.VoteCredit.Window)
	assert.Equal(t, 16.0, cfg.VoteCredit.Floor)
	assert.Equal(t, 3.0, cfg.Thresholds.BalanceDefault)
	assert.Equal(t, 0.5, cfg.Thresholds.PDADefault)
	assert.Equal(t, 10*time.Second, cfg.Monitor.DelinquencyInterval)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.PDAInterval)
	assert.Equal(t, "https://mainnet.example", cfg.Solana.Mainnet.RPCURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VALIDATORWATCH_SLOTSKIP_GROUP_SIZE", "8")
	t.Setenv("VALIDATORWATCH_SOLANA_TESTNET_RPC_URL", "https://override.example")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.SlotSkip.GroupSize)
	assert.Equal(t, "https://override.example", cfg.Solana.Testnet.RPCURL)
}

func TestLoadRequiresRPC(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  name: x\n"))
	assert.ErrorContains(t, err, "solana.mainnet.rpc_url")
}

func TestValidateChannelCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	cfg.Alerting.Telegram.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "alerting.telegram.bot_token")
	cfg.Alerting.Telegram.BotToken = "token"
	assert.NoError(t, cfg.Validate())

	cfg.Alerting.Twilio.Enabled = true
	cfg.Alerting.Twilio.AccountSID = "sid"
	cfg.Alerting.Twilio.AuthToken = "secret"
	assert.ErrorContains(t, cfg.Validate(), "from_number")

	cfg.Alerting.Twilio.Enabled = false
	cfg.Alerting.Email.Enabled = true
	cfg.Alerting.Email.Host = "smtp.example"
	cfg.Alerting.Email.From = "alerts@example"
	cfg.Alerting.Email.TLS = "ssl3"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadTuning(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	bad := *cfg
	bad.SlotSkip.GroupSize = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Monitor.BalanceInterval = 0
	assert.ErrorContains(t, bad.Validate(), "monitor.balance_interval")

	bad = *cfg
	bad.Thresholds.PDADefault = 0.01
	assert.Error(t, bad.Validate())
}

func TestNetworkLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	n, err := cfg.Network("testnet")
	require.NoError(t, err)
	assert.Equal(t, "https://testnet.example", n.RPCURL)

	_, err = cfg.Network("devnet")
	assert.Error(t, err)
	assert.Equal(t, 50, cfg.ResolveMaxPoints(50))
	assert.Equal(t, cfg.Export.MaxDataPoints, cfg.ResolveMaxPoints(0))
}
