package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/alanyoungcy/confidentialpad/internal/blob/s3"
	"github.com/alanyoungcy/confidentialpad/internal/cache/redis"
	"github.com/alanyoungcy/confidentialpad/internal/config"
	"github.com/alanyoungcy/confidentialpad/internal/crypto"
	"github.com/alanyoungcy/confidentialpad/internal/dex"
	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
	"github.com/alanyoungcy/confidentialpad/internal/launchpad"
	"github.com/alanyoungcy/confidentialpad/internal/ledger"
	"github.com/alanyoungcy/confidentialpad/internal/notify"
	"github.com/alanyoungcy/confidentialpad/internal/server/handler"
	"github.com/alanyoungcy/confidentialpad/internal/service"
	"github.com/alanyoungcy/confidentialpad/internal/store/postgres"
)

// Dependencies bundles everything the modes run. Optional backends are nil
// interfaces when disabled.
type Dependencies struct {
	// Engines
	FHE       *fhe.LocalEngine
	Gateway   *fhe.Gateway
	Tokens    *ledger.Tokens
	Native    *ledger.Native
	Exchange  *dex.Exchange
	Launchpad *launchpad.Launchpad
	Owner     common.Address

	// Stores
	CampaignStore domain.CampaignStore
	OrderStore    domain.OrderStore
	TradeStore    domain.TradeStore
	AuditStore    domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Reports *s3blob.ReportArchiver

	Recorder *service.Recorder
	History  *service.HistoryService
	Checks   map[string]handler.CheckFunc
}

// faucet funds development accounts on the in-memory ledgers.
type faucet struct {
	tokens *ledger.Tokens
	native *ledger.Native
}

func (f faucet) Mint(token, account common.Address, amount *uint256.Int) {
	f.tokens.Mint(token, account, amount)
}

func (f faucet) Credit(account common.Address, amount *uint256.Int) {
	f.native.Credit(account, amount)
}

// Wire builds the engines and every enabled backend, and returns a cleanup
// function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.CheckFunc)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}
		pool := pg.Pool()
		deps.CampaignStore = postgres.NewCampaignStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)
		deps.Checks["redis"] = rc.Ping
	}

	// --- S3 settlement reports ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		deps.Reports = s3blob.NewReportArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc), deps.AuditStore)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	rdeps := service.RecorderDeps{
		Campaigns: deps.CampaignStore,
		Orders:    deps.OrderStore,
		Trades:    deps.TradeStore,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
	}
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.Username))
	}
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if len(senders) > 0 {
		kinds := make([]domain.EventKind, 0, len(cfg.Notify.Events))
		for _, k := range cfg.Notify.Events {
			kinds = append(kinds, domain.EventKind(strings.TrimSpace(k)))
		}
		rdeps.Notifier = notify.NewNotifier(senders, kinds, logger)
	}
	deps.Recorder = service.NewRecorder(rdeps, 0, logger)
	deps.History = service.NewHistoryService(deps.CampaignStore, deps.OrderStore, deps.TradeStore, deps.AuditStore)

	if err := wireEngines(cfg, deps, logger); err != nil {
		return fail("wire: engines: %w", err)
	}
	return deps, cleanup, nil
}

// wireEngines builds the oracle, ledgers, exchange and launchpad. Engine
// events flow into the recorder.
func wireEngines(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	pk, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Oracle.PrivateKey,
		EncryptedKeyPath: cfg.Oracle.EncryptedKeyPath,
		KeyPassword:      cfg.Oracle.KeyPassword,
		AllowEphemeral:   cfg.Oracle.AllowEphemeral,
	})
	if err != nil {
		return fmt.Errorf("oracle key: %w", err)
	}
	signer := crypto.NewSigner(pk, cfg.Oracle.ChainID)
	logger.Info("oracle signer loaded", slog.String("address", signer.Address().Hex()))

	deps.FHE = fhe.NewLocalEngine(signer, cfg.Oracle.ChainID)
	deps.Gateway = fhe.NewGateway(deps.FHE, signer, fhe.GatewayConfig{
		FulfilDelay:  cfg.Oracle.FulfilDelay.Duration,
		MaxAttempts:  cfg.Oracle.MaxAttempts,
		PollInterval: cfg.Oracle.PollInterval.Duration,
	}, fhe.WithGatewayLogger(logger))
	deps.Tokens = ledger.NewTokens()
	deps.Native = ledger.NewNative()
	deps.Owner = common.HexToAddress(cfg.Launchpad.Owner)

	padAddr := common.HexToAddress(cfg.Launchpad.Address)
	deps.Exchange = dex.New(dex.Config{
		Address:                common.HexToAddress(cfg.Exchange.Address),
		Owner:                  deps.Owner,
		FeeCollector:           common.HexToAddress(cfg.Exchange.FeeCollector),
		Launchpad:              padAddr,
		MaxMatchScan:           cfg.Exchange.MaxMatchScan,
		DefaultTradingFeeBps:   uint16(cfg.Exchange.DefaultTradingFeeBps),
		DefaultLiquidityFeeBps: uint16(cfg.Exchange.DefaultLiquidityFeeBps),
	}, dex.Deps{
		FHE:    deps.FHE,
		Tokens: deps.Tokens,
		Value:  deps.Native,
	}, dex.WithLogger(logger), dex.WithEventSink(deps.Recorder))

	deps.Launchpad = launchpad.New(launchpad.Config{
		Address:               padAddr,
		Owner:                 deps.Owner,
		FeeRecipient:          common.HexToAddress(cfg.Launchpad.FeeRecipient),
		PlatformFeeBps:        uint16(cfg.Launchpad.PlatformFeeBps),
		LiquidityTokenPercent: uint8(cfg.Launchpad.LiquidityTokenPercent),
		DecryptionTimeout:     cfg.Launchpad.DecryptionTimeout.Duration,
	}, launchpad.Deps{
		FHE:      deps.FHE,
		Gateway:  deps.Gateway,
		Verifier: crypto.NewVerifier(signer.Address(), cfg.Oracle.ChainID),
		Tokens:   deps.Tokens,
		Value:    deps.Native,
		Market:   deps.Exchange,
	}, launchpad.WithLogger(logger), launchpad.WithEventSink(deps.Recorder))
	return nil
}
