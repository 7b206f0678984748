package launchpad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type settlement struct {
	phase           domain.Phase
	platformFee     *uint256.Int
	liquidityValue  *uint256.Int
	liquidityTokens *uint256.Int
	creatorPayout   *uint256.Int
}

func (s settlement) attrs() map[string]string {
	return map[string]string{
		"platform_fee":     s.platformFee.Dec(),
		"liquidity_value":  s.liquidityValue.Dec(),
		"liquidity_tokens": s.liquidityTokens.Dec(),
		"creator_payout":   s.creatorPayout.Dec(),
	}
}

// settle moves funds for a decrypted campaign. A campaign that met its
// combined target pays the platform fee, seeds the exchange pool and pays
// the creator; otherwise nothing moves and investors claim refunds. Every
// transfer is undone if a later one fails.
func (l *Launchpad) settle(ctx context.Context, c *domain.Campaign, privateRaised, publicRaised, allocated *uint256.Int) (settlement, error) {
	total := new(uint256.Int).Add(privateRaised, publicRaised)
	target := new(uint256.Int).Add(c.PrivateTarget, c.PublicTarget)

	out := settlement{
		phase:           domain.PhaseCancelled,
		platformFee:     new(uint256.Int),
		liquidityValue:  new(uint256.Int),
		liquidityTokens: new(uint256.Int),
		creatorPayout:   new(uint256.Int),
	}
	if total.Lt(target) {
		return out, nil
	}
	out.phase = domain.PhaseCompleted

	out.platformFee.Mul(total, uint256.NewInt(uint64(l.cfg.PlatformFeeBps)))
	out.platformFee.Div(out.platformFee, uint256.NewInt(bpsDenominator))
	out.liquidityValue.Mul(total, uint256.NewInt(uint64(c.LiquidityPercent)))
	out.liquidityValue.Div(out.liquidityValue, uint256.NewInt(100))
	out.creatorPayout.Sub(total, out.platformFee)
	out.creatorPayout.Sub(out.creatorPayout, out.liquidityValue)

	// Pool tokens come out of what investors were not allocated.
	out.liquidityTokens.Mul(c.TotalSupply, uint256.NewInt(uint64(l.cfg.LiquidityTokenPercent)))
	out.liquidityTokens.Div(out.liquidityTokens, uint256.NewInt(100))
	available := new(uint256.Int)
	if c.TotalSupply.Gt(allocated) {
		available.Sub(c.TotalSupply, allocated)
	}
	if out.liquidityTokens.Gt(available) {
		out.liquidityTokens.Set(available)
	}
	// A pool needs both sides; otherwise the value stays with the creator and
	// the tokens stay reclaimable.
	seed := !out.liquidityTokens.IsZero() && !out.liquidityValue.IsZero()
	if !seed {
		out.creatorPayout.Add(out.creatorPayout, out.liquidityValue)
		out.liquidityValue.Clear()
		out.liquidityTokens.Clear()
	}

	var tx transferLog
	custody, exchange := l.cfg.Address, l.deps.Market.Address()

	if err := tx.send(ctx, l.deps.Value, custody, l.cfg.FeeRecipient, out.platformFee); err != nil {
		return settlement{}, l.rollback(ctx, &tx, fmt.Errorf("platform fee: %w", err))
	}
	if err := tx.send(ctx, l.deps.Value, custody, exchange, out.liquidityValue); err != nil {
		return settlement{}, l.rollback(ctx, &tx, fmt.Errorf("liquidity value: %w", err))
	}
	if err := tx.transfer(ctx, l.deps.Tokens, c.Token, custody, exchange, out.liquidityTokens); err != nil {
		return settlement{}, l.rollback(ctx, &tx, fmt.Errorf("liquidity tokens: %w", err))
	}
	if err := tx.send(ctx, l.deps.Value, custody, c.Creator, out.creatorPayout); err != nil {
		return settlement{}, l.rollback(ctx, &tx, fmt.Errorf("creator payout: %w", err))
	}
	if !seed {
		return out, nil
	}
	// Seeding cannot be reversed, so it runs last.
	if err := l.deps.Market.SeedPool(ctx, custody, c.Token, out.liquidityTokens, out.liquidityValue); err != nil {
		return settlement{}, l.rollback(ctx, &tx, fmt.Errorf("seed pool: %w", err))
	}
	return out, nil
}

func (l *Launchpad) rollback(ctx context.Context, tx *transferLog, cause error) error {
	if err := tx.undo(ctx); err != nil {
		l.logger.ErrorContext(ctx, "settlement rollback incomplete", slog.String("error", err.Error()))
		return fmt.Errorf("settle: %w (rollback: %v)", cause, err)
	}
	return fmt.Errorf("settle: %w", cause)
}

// transferLog remembers completed transfers so they can be reversed.
type transferLog struct {
	undos []func(context.Context) error
}

func (t *transferLog) send(ctx context.Context, v domain.ValueLedger, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := v.Send(ctx, from, to, amount); err != nil {
		return err
	}
	t.undos = append(t.undos, func(ctx context.Context) error { return v.Send(ctx, to, from, amount) })
	return nil
}

func (t *transferLog) transfer(ctx context.Context, tl domain.TokenLedger, token, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := tl.Transfer(ctx, token, from, to, amount); err != nil {
		return err
	}
	t.undos = append(t.undos, func(ctx context.Context) error { return tl.Transfer(ctx, token, to, from, amount) })
	return nil
}

func (t *transferLog) undo(ctx context.Context) error {
	var errs []error
	for i := len(t.undos) - 1; i >= 0; i-- {
		if err := t.undos[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.undos = nil
	return errors.Join(errs...)
}
