package dex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// AddPair lists a token against ETH. Owner only.
func (e *Exchange) AddPair(ctx context.Context, caller, token common.Address, tradingFeeBps, liquidityFeeBps uint16) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: add pair: %w", err)
	}
	defer release()

	if caller != e.cfg.Owner {
		return fmt.Errorf("dex: add pair: %w", domain.ErrUnauthorized)
	}
	if token == (common.Address{}) {
		return fmt.Errorf("dex: add pair: %w: zero token", domain.ErrInvalidParameters)
	}
	if _, ok := e.pairs[token]; ok {
		return fmt.Errorf("dex: add pair %s: %w", token.Hex(), domain.ErrDuplicatePair)
	}
	if err := checkFees(tradingFeeBps, liquidityFeeBps); err != nil {
		return fmt.Errorf("dex: add pair: %w", err)
	}

	e.createPair(token, tradingFeeBps, liquidityFeeBps)
	e.logger.InfoContext(ctx, "pair added",
		slog.String("token", token.Hex()),
		slog.Int("trading_fee_bps", int(tradingFeeBps)),
		slog.Int("liquidity_fee_bps", int(liquidityFeeBps)),
	)
	e.emit(ctx, []domain.Event{e.event(domain.EventPairAdded, token, caller, feeAttrs(tradingFeeBps, liquidityFeeBps))})
	return nil
}

// UpdateFees changes a pair's fees. Owner only.
func (e *Exchange) UpdateFees(ctx context.Context, caller, token common.Address, tradingFeeBps, liquidityFeeBps uint16) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: update fees: %w", err)
	}
	defer release()

	if caller != e.cfg.Owner {
		return fmt.Errorf("dex: update fees: %w", domain.ErrUnauthorized)
	}
	p, ok := e.pairs[token]
	if !ok {
		return fmt.Errorf("dex: update fees %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	if err := checkFees(tradingFeeBps, liquidityFeeBps); err != nil {
		return fmt.Errorf("dex: update fees: %w", err)
	}

	p.TradingFeeBps = tradingFeeBps
	p.LiquidityFeeBps = liquidityFeeBps
	p.UpdatedAt = e.now()
	e.emit(ctx, []domain.Event{e.event(domain.EventPairUpdated, token, caller, feeAttrs(tradingFeeBps, liquidityFeeBps))})
	return nil
}

// UpdateFeeCollector redirects trading fees. Owner only.
func (e *Exchange) UpdateFeeCollector(ctx context.Context, caller, collector common.Address) error {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: update fee collector: %w", err)
	}
	defer release()

	if caller != e.cfg.Owner {
		return fmt.Errorf("dex: update fee collector: %w", domain.ErrUnauthorized)
	}
	if collector == (common.Address{}) {
		return fmt.Errorf("dex: update fee collector: %w: zero address", domain.ErrInvalidParameters)
	}
	e.cfg.FeeCollector = collector
	return nil
}

// SetPairActive pauses or resumes order placement on a pair. Owner only.
func (e *Exchange) SetPairActive(ctx context.Context, caller, token common.Address, active bool) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: set pair active: %w", err)
	}
	defer release()

	if caller != e.cfg.Owner {
		return fmt.Errorf("dex: set pair active: %w", domain.ErrUnauthorized)
	}
	p, ok := e.pairs[token]
	if !ok {
		return fmt.Errorf("dex: set pair active %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	p.Active = active
	p.UpdatedAt = e.now()
	e.emit(ctx, []domain.Event{e.event(domain.EventPairUpdated, token, caller, map[string]string{
		"active": strconv.FormatBool(active),
	})})
	return nil
}

// OpenPool makes sure a pair exists and is active for a token whose sale
// just ended. Reserves start at encrypted zero. Launchpad only.
func (e *Exchange) OpenPool(ctx context.Context, caller, token common.Address) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: open pool: %w", err)
	}
	defer release()

	if caller != e.cfg.Launchpad {
		return fmt.Errorf("dex: open pool: %w", domain.ErrUnauthorized)
	}
	if token == (common.Address{}) {
		return fmt.Errorf("dex: open pool: %w: zero token", domain.ErrInvalidParameters)
	}
	p, ok := e.pairs[token]
	if !ok {
		p = e.createPair(token, e.cfg.DefaultTradingFeeBps, e.cfg.DefaultLiquidityFeeBps)
	}
	p.Active = true
	e.emit(ctx, []domain.Event{e.event(domain.EventPoolOpened, token, caller, nil)})
	return nil
}

// SeedPool credits reserves with funds the launchpad has already moved into
// exchange custody. The launchpad receives the position. Launchpad only.
func (e *Exchange) SeedPool(ctx context.Context, caller, token common.Address, tokenAmount, ethAmount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: seed pool: %w", err)
	}
	defer release()

	if caller != e.cfg.Launchpad {
		return fmt.Errorf("dex: seed pool: %w", domain.ErrUnauthorized)
	}
	p, ok := e.pairs[token]
	if !ok {
		return fmt.Errorf("dex: seed pool %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	if tokenAmount == nil || tokenAmount.IsZero() || ethAmount == nil || ethAmount.IsZero() {
		return fmt.Errorf("dex: seed pool %s: %w: both sides must be non-zero", token.Hex(), domain.ErrInvalidParameters)
	}

	f := e.deps.FHE
	encToken, encETH := f.Encrypt(tokenAmount), f.Encrypt(ethAmount)
	pos := e.addPosition(p, caller, encToken, encETH)
	e.logger.InfoContext(ctx, "pool seeded",
		slog.String("token", token.Hex()),
		slog.String("token_amount", tokenAmount.Dec()),
		slog.String("eth_amount", ethAmount.Dec()),
	)
	e.emit(ctx, []domain.Event{e.event(domain.EventLiquidityAdded, token, caller, map[string]string{
		"position_id": strconv.FormatUint(pos.ID, 10),
		"source":      "launchpad",
	})})
	return nil
}

// Pair returns a snapshot of one pair.
func (e *Exchange) Pair(ctx context.Context, token common.Address) (domain.TradingPair, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return domain.TradingPair{}, fmt.Errorf("dex: get pair: %w", err)
	}
	defer release()

	p, ok := e.pairs[token]
	if !ok {
		return domain.TradingPair{}, fmt.Errorf("dex: pair %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	return *p, nil
}

// Pairs returns every listed pair ordered by token address.
func (e *Exchange) Pairs(ctx context.Context) ([]domain.TradingPair, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("dex: list pairs: %w", err)
	}
	defer release()

	out := make([]domain.TradingPair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token.Cmp(out[j].Token) < 0 })
	return out, nil
}

func (e *Exchange) createPair(token common.Address, tradingFeeBps, liquidityFeeBps uint16) *domain.TradingPair {
	zero := new(uint256.Int)
	now := e.now()
	p := &domain.TradingPair{
		Token:           token,
		TradingFeeBps:   tradingFeeBps,
		LiquidityFeeBps: liquidityFeeBps,
		Active:          true,
		TokenReserve:    e.deps.FHE.Encrypt(zero),
		ETHReserve:      e.deps.FHE.Encrypt(zero),
		TotalShares:     e.deps.FHE.Encrypt(zero),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	e.pairs[token] = p
	return p
}

func (e *Exchange) activePair(token common.Address) (*domain.TradingPair, error) {
	p, ok := e.pairs[token]
	if !ok || !p.Active {
		return nil, fmt.Errorf("pair %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	return p, nil
}

func checkFees(tradingFeeBps, liquidityFeeBps uint16) error {
	if tradingFeeBps > domain.MaxFeeBps || liquidityFeeBps > domain.MaxFeeBps {
		return fmt.Errorf("%w: max %d bps", domain.ErrFeeTooHigh, domain.MaxFeeBps)
	}
	return nil
}

func feeAttrs(tradingFeeBps, liquidityFeeBps uint16) map[string]string {
	return map[string]string{
		"trading_fee_bps":   strconv.Itoa(int(tradingFeeBps)),
		"liquidity_fee_bps": strconv.Itoa(int(liquidityFeeBps)),
	}
}
