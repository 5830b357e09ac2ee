package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"validator-watch/internal/logging"
	"validator-watch/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Solana     SolanaConfig     `mapstructure:"solana"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	SlotSkip   SlotSkipConfig   `mapstructure:"slotskip"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	VoteCredit VoteCreditConfig `mapstructure:"votecredit"`
	PDA        PDAConfig        `mapstructure:"pda"`
	Thresholds ThresholdConfig  `mapstructure:"thresholds"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Status     StatusConfig     `mapstructure:"status"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// SolanaConfig holds one RPC endpoint per network.
type SolanaConfig struct {
	Mainnet NetworkConfig `mapstructure:"mainnet"`
	Testnet NetworkConfig `mapstructure:"testnet"`
}

// NetworkConfig covers JSON-RPC access to a cluster.
type NetworkConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// DirectoryConfig points at the public validator list.
type DirectoryConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SlotSkipConfig tunes leader-slot prediction.
type SlotSkipConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	SlotDuration       time.Duration `mapstructure:"slot_duration"`
	NotificationBuffer time.Duration `mapstructure:"notification_buffer"`
	GroupSize          int           `mapstructure:"group_size"`
	// MaxRechecks caps re-estimates per group; zero means unbounded.
	MaxRechecks      int           `mapstructure:"max_rechecks"`
	MinRearmDelay    time.Duration `mapstructure:"min_rearm_delay"`
	CheckConcurrency int64         `mapstructure:"check_concurrency"`
}

// MonitorConfig governs polling cadence.
type MonitorConfig struct {
	MaxConcurrency       int           `mapstructure:"max_concurrency"`
	StartupDelay         time.Duration `mapstructure:"startup_delay"`
	EpochInterval        time.Duration `mapstructure:"epoch_interval"`
	SubscriptionInterval time.Duration `mapstructure:"subscription_interval"`
	DelinquencyInterval  time.Duration `mapstructure:"delinquency_interval"`
	BalanceInterval      time.Duration `mapstructure:"balance_interval"`
	PDAInterval          time.Duration `mapstructure:"pda_interval"`
	VoteCreditInterval   time.Duration `mapstructure:"vote_credit_interval"`
	DirectoryInterval    time.Duration `mapstructure:"directory_interval"`
}

// VoteCreditConfig covers the vote-history scraper.
type VoteCreditConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	Window            int           `mapstructure:"window"`
	Floor             float64       `mapstructure:"floor"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// PDAConfig covers DoubleZero deposit account tracking.
type PDAConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ProgramID      string        `mapstructure:"program_id"`
	Seed           string        `mapstructure:"seed"`
	DZBaseURL      string        `mapstructure:"dz_base_url"`
	DZAPIToken     string        `mapstructure:"dz_api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ThresholdConfig holds per-subscriber defaults in SOL.
type ThresholdConfig struct {
	BalanceDefault float64 `mapstructure:"balance_default"`
	PDADefault     float64 `mapstructure:"pda_default"`
}

// AlertingConfig defines the outbound channels.
type AlertingConfig struct {
	SendTimeout time.Duration  `mapstructure:"send_timeout"`
	Discord     DiscordConfig  `mapstructure:"discord"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Twilio      TwilioConfig   `mapstructure:"twilio"`
	Email       EmailConfig    `mapstructure:"email"`
}

// DiscordConfig 描述 Discord 私信参数。
type DiscordConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// TwilioConfig covers SMS and voice calls.
type TwilioConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	FromNumber   string `mapstructure:"from_number"`
	CallTwiMLURL string `mapstructure:"call_twiml_url"`
	APIBase      string `mapstructure:"api_base"`
}

// EmailConfig covers SMTP delivery.
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	// TLS is one of "starttls", "tls" or "none".
	TLS string `mapstructure:"tls"`
}

// StatusConfig exposes the ops HTTP server.
type StatusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VALIDATORWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "validatorwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.advisory_lock_key", int64(0x76616c77))

	for _, network := range []string{"mainnet", "testnet"} {
		v.SetDefault("solana."+network+".rpc_url", "")
		v.SetDefault("solana."+network+".request_timeout", "15s")
		v.SetDefault("solana."+network+".requests_per_second", 10.0)
		v.SetDefault("solana."+network+".burst", 5)
	}

	v.SetDefault("directory.base_url", "https://api.thevalidators.io")
	v.SetDefault("directory.request_timeout", "30s")
	v.SetDefault("directory.requests_per_second", 1.0)

	v.SetDefault("slotskip.enabled", true)
	v.SetDefault("slotskip.slot_duration", "400ms")
	v.SetDefault("slotskip.notification_buffer", "5s")
	v.SetDefault("slotskip.group_size", 4)
	v.SetDefault("slotskip.max_rechecks", 0)
	v.SetDefault("slotskip.min_rearm_delay", "400ms")
	v.SetDefault("slotskip.check_concurrency", 8)

	v.SetDefault("monitor.max_concurrency", 30)
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.epoch_interval", "5m")
	v.SetDefault("monitor.subscription_interval", "5m")
	v.SetDefault("monitor.delinquency_interval", "10s")
	v.SetDefault("monitor.balance_interval", "10m")
	v.SetDefault("monitor.pda_interval", "30m")
	v.SetDefault("monitor.vote_credit_interval", "2m")
	v.SetDefault("monitor.directory_interval", "1h")

	v.SetDefault("votecredit.enabled", true)
	v.SetDefault("votecredit.base_url", "https://app.vx.tools")
	v.SetDefault("votecredit.window", 200)
	v.SetDefault("votecredit.floor", 16.0)
	v.SetDefault("votecredit.request_timeout", "45s")
	v.SetDefault("votecredit.requests_per_second", 5.0)
	v.SetDefault("votecredit.user_agent", version.UserAgent())

	v.SetDefault("pda.enabled", true)
	v.SetDefault("pda.program_id", "dzrevZC94tBLwuHw1dyynZxaXTWyp7yocsinyEVPtt4")
	v.SetDefault("pda.seed", "solana_validator_deposit")
	v.SetDefault("pda.dz_base_url", "https://www.validators.app")
	v.SetDefault("pda.dz_api_token", "")
	v.SetDefault("pda.request_timeout", "15s")

	v.SetDefault("thresholds.balance_default", 3.0)
	v.SetDefault("thresholds.pda_default", 0.5)

	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.discord.bot_token", "")
	v.SetDefault("alerting.discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.twilio.enabled", false)
	v.SetDefault("alerting.twilio.account_sid", "")
	v.SetDefault("alerting.twilio.auth_token", "")
	v.SetDefault("alerting.twilio.from_number", "")
	v.SetDefault("alerting.twilio.call_twiml_url", "")
	v.SetDefault("alerting.twilio.api_base", "https://api.twilio.com")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.host", "")
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.username", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.from", "")
	v.SetDefault("alerting.email.from_name", "Validator Status Notifications")
	v.SetDefault("alerting.email.tls", "starttls")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen_addr", ":9102")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Solana.Mainnet.RPCURL == "" {
		return fmt.Errorf("solana.mainnet.rpc_url must be set")
	}
	if c.Solana.Testnet.RPCURL == "" {
		return fmt.Errorf("solana.testnet.rpc_url must be set")
	}

	if err := c.SlotSkip.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}

	if c.VoteCredit.Window <= 0 {
		return fmt.Errorf("votecredit.window must be greater than zero")
	}
	if c.VoteCredit.Floor <= 0 {
		return fmt.Errorf("votecredit.floor must be greater than zero")
	}
	if c.PDA.Enabled && (c.PDA.ProgramID == "" || c.PDA.Seed == "") {
		return fmt.Errorf("pda.program_id and pda.seed are required when pda tracking is enabled")
	}
	if c.Thresholds.BalanceDefault < 0.1 || c.Thresholds.BalanceDefault > 100 {
		return fmt.Errorf("thresholds.balance_default must be within [0.1, 100]")
	}
	if c.Thresholds.PDADefault < 0.05 || c.Thresholds.PDADefault > 100 {
		return fmt.Errorf("thresholds.pda_default must be within [0.05, 100]")
	}

	return c.Alerting.validate()
}

func (s SlotSkipConfig) validate() error {
	if s.SlotDuration <= 0 {
		return fmt.Errorf("slotskip.slot_duration must be greater than zero")
	}
	if s.NotificationBuffer < 0 {
		return fmt.Errorf("slotskip.notification_buffer cannot be negative")
	}
	if s.GroupSize <= 0 {
		return fmt.Errorf("slotskip.group_size must be greater than zero")
	}
	if s.MaxRechecks < 0 {
		return fmt.Errorf("slotskip.max_rechecks cannot be negative")
	}
	if s.CheckConcurrency <= 0 {
		return fmt.Errorf("slotskip.check_concurrency must be greater than zero")
	}
	return nil
}

func (m MonitorConfig) validate() error {
	if m.MaxConcurrency <= 0 {
		return fmt.Errorf("monitor.max_concurrency must be greater than zero")
	}
	intervals := map[string]time.Duration{
		"monitor.epoch_interval":        m.EpochInterval,
		"monitor.subscription_interval": m.SubscriptionInterval,
		"monitor.delinquency_interval":  m.DelinquencyInterval,
		"monitor.balance_interval":      m.BalanceInterval,
		"monitor.pda_interval":          m.PDAInterval,
		"monitor.vote_credit_interval":  m.VoteCreditInterval,
		"monitor.directory_interval":    m.DirectoryInterval,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than zero", key)
		}
	}
	return nil
}

func (a AlertingConfig) validate() error {
	if a.Discord.Enabled && a.Discord.BotToken == "" {
		return fmt.Errorf("alerting.discord.bot_token 必须配置")
	}
	if a.Telegram.Enabled && a.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	if a.Twilio.Enabled {
		if a.Twilio.AccountSID == "" || a.Twilio.AuthToken == "" {
			return fmt.Errorf("alerting.twilio.account_sid and auth_token are required")
		}
		if a.Twilio.FromNumber == "" {
			return fmt.Errorf("alerting.twilio.from_number is required")
		}
	}
	if a.Email.Enabled {
		if a.Email.Host == "" || a.Email.From == "" {
			return fmt.Errorf("alerting.email.host and from are required")
		}
		switch strings.ToLower(a.Email.TLS) {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("alerting.email.tls must be starttls, tls or none")
		}
	}
	return nil
}

// Network returns the settings of a named network.
func (c *Config) Network(name string) (NetworkConfig, error) {
	switch name {
	case "mainnet":
		return c.Solana.Mainnet, nil
	case "testnet":
		return c.Solana.Testnet, nil
	default:
		return NetworkConfig{}, fmt.Errorf("unknown network %q", name)
	}
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
