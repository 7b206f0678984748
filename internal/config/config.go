// Package config defines the configuration of the launchpad node and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by CPAD_* environment variables.
type Config struct {
	Launchpad LaunchpadConfig `toml:"launchpad"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// LaunchpadConfig holds the platform parameters of the launchpad.
type LaunchpadConfig struct {
	Address               string   `toml:"address"`
	Owner                 string   `toml:"owner"`
	FeeRecipient          string   `toml:"fee_recipient"`
	PlatformFeeBps        int      `toml:"platform_fee_bps"`
	LiquidityTokenPercent int      `toml:"liquidity_token_percent"`
	DecryptionTimeout     Duration `toml:"decryption_timeout"`
}

// ExchangeConfig holds the exchange parameters.
type ExchangeConfig struct {
	Address                string `toml:"address"`
	FeeCollector           string `toml:"fee_collector"`
	MaxMatchScan           int    `toml:"max_match_scan"`
	DefaultTradingFeeBps   int    `toml:"default_trading_fee_bps"`
	DefaultLiquidityFeeBps int    `toml:"default_liquidity_fee_bps"`
}

// OracleConfig configures the decryption gateway and its signing key.
type OracleConfig struct {
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	AllowEphemeral   bool     `toml:"allow_ephemeral"`
	FulfilDelay      Duration `toml:"fulfil_delay"`
	MaxAttempts      int      `toml:"max_attempts"`
	PollInterval     Duration `toml:"poll_interval"`
}

// PostgresConfig holds the projection database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the event bus, lock and rate limit backend.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds the settlement report bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit requests per RateWindow per account; zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow Duration `toml:"rate_window"`
	// DevInputs exposes POST /api/inputs, which encrypts plaintext for any
	// account. Never enable it outside development.
	DevInputs bool `toml:"dev_inputs"`
}

// KeeperConfig holds the housekeeping loop parameters.
type KeeperConfig struct {
	Interval        Duration `toml:"interval"`
	ArchiveInterval Duration `toml:"archive_interval"`
	LockTTL         Duration `toml:"lock_ttl"`
	Archive         bool     `toml:"archive"`
}

// NotifyConfig holds operator alert settings.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Username          string   `toml:"username"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// Duration decodes TOML strings such as "5m" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with development defaults.
func Defaults() Config {
	return Config{
		Launchpad: LaunchpadConfig{
			Address:               "0x00000000000000000000000000000000000c9ad1",
			PlatformFeeBps:        250,
			LiquidityTokenPercent: 10,
			DecryptionTimeout:     Duration{30 * time.Minute},
		},
		Exchange: ExchangeConfig{
			Address:                "0x00000000000000000000000000000000000c9ad2",
			MaxMatchScan:           64,
			DefaultTradingFeeBps:   30,
			DefaultLiquidityFeeBps: 25,
		},
		Oracle: OracleConfig{
			ChainID:      31337,
			FulfilDelay:  Duration{2 * time.Second},
			MaxAttempts:  5,
			PollInterval: Duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "confidentialpad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "cpad:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "confidentialpad-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  Duration{time.Minute},
		},
		Keeper: KeeperConfig{
			Interval:        Duration{15 * time.Second},
			ArchiveInterval: Duration{5 * time.Minute},
			LockTTL:         Duration{time.Minute},
			Archive:         false,
		},
		Notify: NotifyConfig{
			Username: "confidentialpad",
			Events:   []string{"campaign.settled", "campaign.cancelled", "oracle.expired"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks every section and returns one error listing all problems.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, keeper, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	for _, a := range []struct{ name, value string }{
		{"launchpad.address", c.Launchpad.Address},
		{"launchpad.owner", c.Launchpad.Owner},
		{"launchpad.fee_recipient", c.Launchpad.FeeRecipient},
		{"exchange.address", c.Exchange.Address},
		{"exchange.fee_collector", c.Exchange.FeeCollector},
	} {
		if !common.IsHexAddress(a.value) {
			add("%s: %q is not an address", a.name, a.value)
		} else if common.HexToAddress(a.value) == (common.Address{}) {
			add("%s: must not be the zero address", a.name)
		}
	}
	if c.Launchpad.Address != "" && strings.EqualFold(c.Launchpad.Address, c.Exchange.Address) {
		add("launchpad.address and exchange.address must differ")
	}
	if c.Launchpad.PlatformFeeBps < 0 || c.Launchpad.PlatformFeeBps > 10_000 {
		add("launchpad: platform_fee_bps must be 0-10000, got %d", c.Launchpad.PlatformFeeBps)
	}
	if c.Launchpad.LiquidityTokenPercent < 0 || c.Launchpad.LiquidityTokenPercent > 100 {
		add("launchpad: liquidity_token_percent must be 0-100, got %d", c.Launchpad.LiquidityTokenPercent)
	}
	if c.Launchpad.DecryptionTimeout.Duration < 0 {
		add("launchpad: decryption_timeout must not be negative")
	}

	if c.Exchange.MaxMatchScan < 1 {
		add("exchange: max_match_scan must be >= 1")
	}
	for _, f := range []struct {
		name string
		bps  int
	}{
		{"default_trading_fee_bps", c.Exchange.DefaultTradingFeeBps},
		{"default_liquidity_fee_bps", c.Exchange.DefaultLiquidityFeeBps},
	} {
		if f.bps < 0 || f.bps > 100 {
			add("exchange: %s must be 0-100, got %d", f.name, f.bps)
		}
	}

	if c.Oracle.ChainID <= 0 {
		add("oracle: chain_id must be positive")
	}
	if c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" && !c.Oracle.AllowEphemeral {
		add("oracle: one of private_key, encrypted_key_path or allow_ephemeral must be set")
	}
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
		add("oracle: key_password is required when encrypted_key_path is set")
	}
	if c.Oracle.MaxAttempts < 0 {
		add("oracle: max_attempts must be >= 0")
	}
	if c.Oracle.PollInterval.Duration <= 0 {
		add("oracle: poll_interval must be positive")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be 0-pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if c.Mode != "keeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
	}

	if c.Keeper.Interval.Duration <= 0 {
		add("keeper: interval must be positive")
	}
	if c.Keeper.Archive && !c.S3.Enabled && c.Mode != "server" {
		add("keeper: archive requires s3.enabled")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
