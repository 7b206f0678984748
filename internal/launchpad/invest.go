package launchpad

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Invest records an encrypted contribution. valueSent is the native value
// attached to the call; the only things revealed are whether the ciphertext
// equals valueSent and whether the unsold supply still covers its
// allocation. The value is pulled from the investor into custody before any
// bookkeeping changes.
func (l *Launchpad) Invest(ctx context.Context, id uint64, investor common.Address, in fhe.Input, valueSent *uint256.Int) error {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("launchpad: invest: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return err
	}
	now := l.now()
	if !c.Active || !c.Phase.IsSale() || !inWindow(c, now) {
		return fmt.Errorf("launchpad: invest campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}
	if valueSent == nil {
		return fmt.Errorf("launchpad: invest: %w: no value", domain.ErrInvalidParameters)
	}

	amount, err := l.deps.FHE.VerifyInput(in, investor)
	if err != nil {
		return fmt.Errorf("launchpad: invest: %w: %w", domain.ErrInvalidParameters, err)
	}
	match, err := l.deps.FHE.Reveal(ctx, l.deps.FHE.Eq(amount, l.deps.FHE.Encrypt(valueSent)))
	if err != nil {
		return fmt.Errorf("launchpad: invest: reveal: %w", err)
	}
	if !match {
		return fmt.Errorf("launchpad: invest: %w", domain.ErrAmountMismatch)
	}

	lo, hi := c.BoundsFor(c.Phase)
	key := totalKey{campaign: id, phase: c.Phase, investor: investor}
	running := new(uint256.Int)
	if t, ok := l.totals[key]; ok {
		running.Set(t)
	}
	running.Add(running, valueSent)
	if valueSent.Lt(lo) || valueSent.Gt(hi) || running.Gt(hi) {
		return fmt.Errorf("launchpad: invest: %w", domain.ErrInvestmentBoundsViolated)
	}

	// Only whether the supply still covers the allocation is revealed.
	allocation := l.deps.FHE.DivScalar(l.deps.FHE.MulScalar(amount, tokenUnit), c.PriceFor(c.Phase))
	allocated := l.deps.FHE.Add(c.TokensAllocated, allocation)
	covered, err := l.deps.FHE.Reveal(ctx, l.deps.FHE.Le(allocated, l.deps.FHE.Encrypt(c.TotalSupply)))
	if err != nil {
		return fmt.Errorf("launchpad: invest: reveal: %w", err)
	}
	if !covered {
		return fmt.Errorf("launchpad: invest: %w: supply exhausted", domain.ErrInvestmentBoundsViolated)
	}

	if err := l.deps.Value.Send(ctx, investor, l.cfg.Address, valueSent); err != nil {
		return fmt.Errorf("launchpad: invest: pull value: %w", err)
	}

	if c.Phase == domain.PhasePrivateSale {
		c.TotalPrivateRaised = l.deps.FHE.Add(c.TotalPrivateRaised, amount)
	} else {
		c.TotalPublicRaised = l.deps.FHE.Add(c.TotalPublicRaised, amount)
	}
	c.TokensAllocated = allocated
	c.UpdatedAt = now
	l.totals[key] = running

	commitment := crypto.InvestmentCommitment(id, investor, in.Handle, now.Unix())
	l.investments[id] = append(l.investments[id], &domain.Investment{
		Investor:   investor,
		Amount:     amount,
		Allocation: allocation,
		Actual:     new(uint256.Int).Set(valueSent),
		Phase:      c.Phase,
		Commitment: commitment,
		Timestamp:  now,
	})

	l.logger.InfoContext(ctx, "investment recorded",
		slog.Uint64("campaign_id", id),
		slog.String("phase", c.Phase.String()),
		slog.String("commitment", commitment.Hex()),
	)
	ev := l.event(domain.EventInvestmentMade, c, map[string]string{
		"phase":      c.Phase.String(),
		"commitment": commitment.Hex(),
	})
	ev.Account = account(investor)
	l.emit(ctx, []domain.Event{ev})
	return nil
}

// inWindow reports whether now falls inside the sale window of the
// campaign's current phase. Both ends are inclusive.
func inWindow(c *domain.Campaign, now time.Time) bool {
	switch c.Phase {
	case domain.PhasePrivateSale:
		return !now.Before(c.PrivateStart) && !now.After(c.PrivateEnd)
	case domain.PhasePublicSale:
		return !now.Before(c.PublicStart) && !now.After(c.PublicEnd)
	}
	return false
}
