package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "CPAD_"

// Load merges the TOML file at path over Defaults, then applies .env and
// CPAD_* overrides. A missing file leaves the defaults in place. The result
// is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose CPAD_* variable is set and
// non-empty.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Launchpad.Address, "LAUNCHPAD_ADDRESS")
	setStr(&cfg.Launchpad.Owner, "LAUNCHPAD_OWNER")
	setStr(&cfg.Launchpad.FeeRecipient, "LAUNCHPAD_FEE_RECIPIENT")
	setInt(&cfg.Launchpad.PlatformFeeBps, "LAUNCHPAD_PLATFORM_FEE_BPS")
	setInt(&cfg.Launchpad.LiquidityTokenPercent, "LAUNCHPAD_LIQUIDITY_TOKEN_PERCENT")
	setDuration(&cfg.Launchpad.DecryptionTimeout, "LAUNCHPAD_DECRYPTION_TIMEOUT")

	setStr(&cfg.Exchange.Address, "EXCHANGE_ADDRESS")
	setStr(&cfg.Exchange.FeeCollector, "EXCHANGE_FEE_COLLECTOR")
	setInt(&cfg.Exchange.MaxMatchScan, "EXCHANGE_MAX_MATCH_SCAN")
	setInt(&cfg.Exchange.DefaultTradingFeeBps, "EXCHANGE_DEFAULT_TRADING_FEE_BPS")
	setInt(&cfg.Exchange.DefaultLiquidityFeeBps, "EXCHANGE_DEFAULT_LIQUIDITY_FEE_BPS")

	setInt64(&cfg.Oracle.ChainID, "ORACLE_CHAIN_ID")
	setStr(&cfg.Oracle.PrivateKey, "ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "ORACLE_KEY_PASSWORD")
	setBool(&cfg.Oracle.AllowEphemeral, "ORACLE_ALLOW_EPHEMERAL")
	setDuration(&cfg.Oracle.FulfilDelay, "ORACLE_FULFIL_DELAY")
	setInt(&cfg.Oracle.MaxAttempts, "ORACLE_MAX_ATTEMPTS")
	setDuration(&cfg.Oracle.PollInterval, "ORACLE_POLL_INTERVAL")

	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "REDIS_STREAM_MAX_LEN")

	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")
	setBool(&cfg.Server.DevInputs, "SERVER_DEV_INPUTS")

	setDuration(&cfg.Keeper.Interval, "KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.ArchiveInterval, "KEEPER_ARCHIVE_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "KEEPER_LOCK_TTL")
	setBool(&cfg.Keeper.Archive, "KEEPER_ARCHIVE")

	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.Username, "NOTIFY_USERNAME")
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// lookup returns the CPAD_-prefixed variable; DATABASE_URL is also read
// unprefixed.
func lookup(key string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	if key == "DATABASE_URL" {
		return os.Getenv(key)
	}
	return ""
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := lookup(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
