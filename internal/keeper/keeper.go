// Package keeper runs the periodic housekeeping the engines do not trigger
// themselves: phase advancement, decryption requests for campaigns that
// reached trading, expiry of stale requests and orders, and settlement
// report archiving. Each sweep holds a distributed lock so only one replica
// works at a time.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

const (
	sweepLockKey   = "keeper:sweep"
	archiveLockKey = "keeper:archive"
)

// Launchpad is the campaign surface the keeper drives.
type Launchpad interface {
	Campaigns(ctx context.Context) ([]domain.Campaign, error)
	Investments(ctx context.Context, id uint64, investor common.Address) ([]domain.Investment, error)
	Advance(ctx context.Context, id uint64) (domain.Phase, error)
	RequestDecryption(ctx context.Context, id uint64, caller common.Address) (uint64, error)
	ExpireDecryption(ctx context.Context) ([]uint64, error)
}

// Exchange is the order surface the keeper drives.
type Exchange interface {
	ExpireOrders(ctx context.Context) (int, error)
}

// Archiver stores settlement reports; it reports whether it wrote one.
type Archiver interface {
	Archive(ctx context.Context, c domain.Campaign, invs []domain.Investment) (bool, error)
}

// Config tunes the keeper loops.
type Config struct {
	Interval        time.Duration
	ArchiveInterval time.Duration
	LockTTL         time.Duration
	// Operator is the account decryption requests are made as.
	Operator common.Address
}

// Report summarises one sweep.
type Report struct {
	Skipped       bool
	Advanced      int
	Requested     int
	Expired       int
	OrdersExpired int
}

// Keeper runs sweeps on a ticker.
type Keeper struct {
	cfg      Config
	pad      Launchpad
	dex      Exchange
	archiver Archiver
	locks    domain.LockManager
	logger   *slog.Logger

	mu       sync.Mutex
	archived map[uint64]bool
}

// New creates a Keeper. archiver and locks may be nil: without an archiver
// nothing is archived, without locks every replica sweeps.
func New(cfg Config, pad Launchpad, dex Exchange, archiver Archiver, locks domain.LockManager, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Keeper{
		cfg:      cfg,
		pad:      pad,
		dex:      dex,
		archiver: archiver,
		locks:    locks,
		logger:   logger.With(slog.String("component", "keeper")),
		archived: make(map[uint64]bool),
	}
}

// Run sweeps and archives until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper starting",
		slog.Duration("interval", k.cfg.Interval),
		slog.Duration("archive_interval", k.cfg.ArchiveInterval),
		slog.Bool("archive", k.archiver != nil),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.loop(ctx, k.cfg.Interval, func(ctx context.Context) error {
			_, err := k.Sweep(ctx)
			return err
		})
	})
	if k.archiver != nil {
		g.Go(func() error {
			return k.loop(ctx, k.cfg.ArchiveInterval, func(ctx context.Context) error {
				_, err := k.ArchiveReports(ctx)
				return err
			})
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (k *Keeper) loop(ctx context.Context, every time.Duration, step func(context.Context) error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if err := step(ctx); err != nil && ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "keeper step failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass: expire stale decryption requests, advance every live
// campaign, request decryption for campaigns in trading, expire orders.
// Failures on one campaign do not stop the others; they are joined into the
// returned error.
func (k *Keeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	unlock, held, err := k.lock(ctx, sweepLockKey)
	if err != nil || held {
		rep.Skipped = held
		return rep, err
	}
	defer unlock()

	var errs []error
	expired, err := k.pad.ExpireDecryption(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.Expired = len(expired)

	campaigns, err := k.pad.Campaigns(ctx)
	if err != nil {
		return rep, fmt.Errorf("keeper: sweep: %w", err)
	}
	for _, c := range campaigns {
		if c.Phase.Terminal() {
			continue
		}
		phase, err := k.pad.Advance(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("advance campaign %d: %w", c.ID, err))
			continue
		}
		if phase != c.Phase {
			rep.Advanced++
			k.logger.InfoContext(ctx, "campaign advanced",
				slog.Uint64("campaign_id", c.ID),
				slog.String("from", c.Phase.String()),
				slog.String("to", phase.String()),
			)
		}
		if phase != domain.PhaseTradingActive || c.DecryptionComplete {
			continue
		}
		if c.PendingDecryptionID != 0 {
			continue
		}
		reqID, err := k.pad.RequestDecryption(ctx, c.ID, k.cfg.Operator)
		switch {
		case errors.Is(err, domain.ErrDecryptionPending), errors.Is(err, domain.ErrAlreadyDecrypted):
		case err != nil:
			errs = append(errs, fmt.Errorf("request decryption campaign %d: %w", c.ID, err))
		default:
			rep.Requested++
			k.logger.InfoContext(ctx, "decryption requested",
				slog.Uint64("campaign_id", c.ID),
				slog.Uint64("request_id", reqID),
			)
		}
	}

	n, err := k.dex.ExpireOrders(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	rep.OrdersExpired = n

	if len(errs) > 0 {
		return rep, fmt.Errorf("keeper: sweep: %w", errors.Join(errs...))
	}
	return rep, nil
}

// ArchiveReports stores reports for finished campaigns not archived yet and
// returns how many it wrote.
func (k *Keeper) ArchiveReports(ctx context.Context) (int, error) {
	if k.archiver == nil {
		return 0, nil
	}
	unlock, held, err := k.lock(ctx, archiveLockKey)
	if err != nil || held {
		return 0, err
	}
	defer unlock()

	campaigns, err := k.pad.Campaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("keeper: archive: %w", err)
	}
	var (
		written int
		errs    []error
	)
	for _, c := range campaigns {
		if !c.Phase.Terminal() || k.isArchived(c.ID) {
			continue
		}
		invs, err := k.pad.Investments(ctx, c.ID, common.Address{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		wrote, err := k.archiver.Archive(ctx, c, invs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		k.markArchived(c.ID)
		if wrote {
			written++
			k.logger.InfoContext(ctx, "settlement report archived", slog.Uint64("campaign_id", c.ID))
		}
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("keeper: archive: %w", errors.Join(errs...))
	}
	return written, nil
}

// lock takes key when a lock manager is configured. held reports that
// another replica owns it.
func (k *Keeper) lock(ctx context.Context, key string) (unlock func(), held bool, err error) {
	if k.locks == nil {
		return func() {}, false, nil
	}
	unlock, err = k.locks.Acquire(ctx, key, k.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		k.logger.DebugContext(ctx, "lock held elsewhere", slog.String("key", key))
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("keeper: lock %s: %w", key, err)
	}
	return unlock, false, nil
}

func (k *Keeper) isArchived(id uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.archived[id]
}

func (k *Keeper) markArchived(id uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.archived[id] = true
}
