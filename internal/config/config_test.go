package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Launchpad.Owner = "0x00000000000000000000000000000000000000a1"
	cfg.Launchpad.FeeRecipient = "0x00000000000000000000000000000000000000a2"
	cfg.Exchange.FeeCollector = "0x00000000000000000000000000000000000000a3"
	cfg.Oracle.AllowEphemeral = true
	return cfg
}

func TestDefaultsNeedAccounts(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "launchpad.owner")
	require.Contains(t, err.Error(), "exchange.fee_collector")
	require.Contains(t, err.Error(), "oracle: one of private_key")

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Exchange.DefaultTradingFeeBps = 150
	cfg.Exchange.Address = cfg.Launchpad.Address
	cfg.Postgres.Enabled = true
	cfg.Postgres.PoolMaxConns = 0
	cfg.Keeper.Archive = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"default_trading_fee_bps must be 0-100, got 150",
		"must differ",
		"pool_max_conns",
		"archive requires s3.enabled",
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "keeper"

[launchpad]
platform_fee_bps = 300
decryption_timeout = "45m"

[keeper]
interval = "5s"
`), 0o600))

	t.Setenv("CPAD_LAUNCHPAD_PLATFORM_FEE_BPS", "400")
	t.Setenv("CPAD_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CPAD_REDIS_STREAM_MAX_LEN", "500")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/pad")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "keeper", cfg.Mode)
	require.Equal(t, 400, cfg.Launchpad.PlatformFeeBps)
	require.Equal(t, 45*time.Minute, cfg.Launchpad.DecryptionTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Keeper.Interval.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.EqualValues(t, 500, cfg.Redis.StreamMaxLen)
	require.Equal(t, "postgres://u:p@db/pad", cfg.Postgres.DSN)
	require.Equal(t, 64, cfg.Exchange.MaxMatchScan)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "full", cfg.Mode)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Oracle.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "k"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"
	cfg.Notify.TelegramToken = "123:abc"

	out := RedactedConfig(&cfg)
	require.Equal(t, redacted, out.Oracle.PrivateKey)
	require.Equal(t, redacted, out.Server.APIKey)
	require.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	require.Equal(t, redacted, out.Notify.TelegramToken)
	require.Empty(t, out.Postgres.Password)
	require.Equal(t, "deadbeef", cfg.Oracle.PrivateKey)

	out.Server.CORSOrigins[0] = "changed"
	require.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}

func TestValidateTelegramPair(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.TelegramToken = "123:abc"
	require.ErrorContains(t, cfg.Validate(), "telegram_chat_id")

	cfg.Notify.TelegramChatID = "-100"
	require.NoError(t, cfg.Validate())
}
