package launchpad

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// ClaimTokens pays out the tokens bought by investor in a completed
// campaign. Each unclaimed investment is worth actual × 1e18 / phase price.
func (l *Launchpad) ClaimTokens(ctx context.Context, id uint64, investor common.Address) (*uint256.Int, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: claim tokens: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return nil, err
	}
	if c.Phase != domain.PhaseCompleted {
		return nil, fmt.Errorf("launchpad: claim tokens campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}

	total := new(uint256.Int)
	var claimed []*domain.Investment
	for _, inv := range l.investments[id] {
		if inv.Investor != investor || inv.Claimed {
			continue
		}
		tokens := new(uint256.Int).Mul(inv.Actual, tokenUnit)
		tokens.Div(tokens, c.PriceFor(inv.Phase))
		total.Add(total, tokens)
		claimed = append(claimed, inv)
	}
	if total.IsZero() {
		return nil, fmt.Errorf("launchpad: claim tokens: %w", domain.ErrNothingToClaim)
	}

	setClaimed(claimed, true)
	if err := l.deps.Tokens.Transfer(ctx, c.Token, l.cfg.Address, investor, total); err != nil {
		setClaimed(claimed, false)
		return nil, fmt.Errorf("launchpad: claim tokens: transfer: %w", err)
	}

	l.logger.InfoContext(ctx, "tokens claimed",
		slog.Uint64("campaign_id", id),
		slog.String("investor", investor.Hex()),
		slog.Int("investments", len(claimed)),
	)
	ev := l.event(domain.EventTokensClaimed, c, map[string]string{"amount": total.Dec()})
	ev.Account = account(investor)
	l.emit(ctx, []domain.Event{ev})
	return total, nil
}

// ClaimRefund returns the value an investor put into a cancelled campaign.
func (l *Launchpad) ClaimRefund(ctx context.Context, id uint64, investor common.Address) (*uint256.Int, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: claim refund: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return nil, err
	}
	if c.Phase != domain.PhaseCancelled {
		return nil, fmt.Errorf("launchpad: claim refund campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}

	total := new(uint256.Int)
	var refunded []*domain.Investment
	for _, inv := range l.investments[id] {
		if inv.Investor != investor || inv.Refunded {
			continue
		}
		total.Add(total, inv.Actual)
		refunded = append(refunded, inv)
	}
	if total.IsZero() {
		return nil, fmt.Errorf("launchpad: claim refund: %w", domain.ErrNothingToClaim)
	}

	setRefunded(refunded, true)
	if err := l.deps.Value.Send(ctx, l.cfg.Address, investor, total); err != nil {
		setRefunded(refunded, false)
		return nil, fmt.Errorf("launchpad: claim refund: send: %w", err)
	}

	ev := l.event(domain.EventRefundClaimed, c, map[string]string{"amount": total.Dec()})
	ev.Account = account(investor)
	l.emit(ctx, []domain.Event{ev})
	return total, nil
}

func setClaimed(invs []*domain.Investment, v bool) {
	for _, inv := range invs {
		inv.Claimed = v
	}
}

func setRefunded(invs []*domain.Investment, v bool) {
	for _, inv := range invs {
		inv.Refunded = v
	}
}
