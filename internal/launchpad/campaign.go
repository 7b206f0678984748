package launchpad

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// Launch creates a campaign in Preparation and pulls the creator's full token
// supply into custody. The creator must have approved the launchpad for
// TotalSupply beforehand.
func (l *Launchpad) Launch(ctx context.Context, creator common.Address, p domain.LaunchParams) (uint64, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("launchpad: launch: %w", err)
	}
	defer release()

	if err := validateParams(p); err != nil {
		return 0, fmt.Errorf("launchpad: launch: %w", err)
	}
	if err := l.deps.Tokens.TransferFrom(ctx, p.Token, l.cfg.Address, creator, l.cfg.Address, p.TotalSupply); err != nil {
		return 0, fmt.Errorf("launchpad: launch: pull supply: %w", err)
	}

	now := l.now()
	privateStart := now.Add(preparationDelay)
	privateEnd := privateStart.Add(p.PrivateDuration)
	publicStart := privateEnd.Add(saleGap)
	zero := new(uint256.Int)

	l.nextID++
	c := &domain.Campaign{
		ID:                 l.nextID,
		Creator:            creator,
		LaunchParams:       p,
		PrivateStart:       privateStart,
		PrivateEnd:         privateEnd,
		PublicStart:        publicStart,
		PublicEnd:          publicStart.Add(p.PublicDuration),
		Phase:              domain.PhasePreparation,
		Active:             true,
		TotalPrivateRaised: l.deps.FHE.Encrypt(zero),
		TotalPublicRaised:  l.deps.FHE.Encrypt(zero),
		TokensAllocated:    l.deps.FHE.Encrypt(zero),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	// Own copies of the caller's numbers.
	c.LaunchParams = c.Clone().LaunchParams
	l.campaigns[c.ID] = c

	l.logger.InfoContext(ctx, "campaign launched",
		slog.Uint64("campaign_id", c.ID),
		slog.String("creator", creator.Hex()),
		slog.String("token", p.Token.Hex()),
	)
	ev := l.event(domain.EventCampaignLaunched, c, map[string]string{
		"private_start": privateStart.UTC().Format(timeLayout),
		"public_end":    c.PublicEnd.UTC().Format(timeLayout),
		"total_supply":  p.TotalSupply.Dec(),
	})
	ev.Account = account(creator)
	l.emit(ctx, []domain.Event{ev})
	return c.ID, nil
}

func validateParams(p domain.LaunchParams) error {
	positive := func(v *uint256.Int) bool { return v != nil && !v.IsZero() }
	switch {
	case p.Token == (common.Address{}):
		return fmt.Errorf("%w: zero token", domain.ErrInvalidParameters)
	case !positive(p.PrivateTarget) || !positive(p.PublicTarget):
		return fmt.Errorf("%w: targets must be positive", domain.ErrInvalidParameters)
	case !positive(p.PrivatePrice) || !positive(p.PublicPrice):
		return fmt.Errorf("%w: prices must be positive", domain.ErrInvalidParameters)
	case p.PrivateDuration <= 0 || p.PublicDuration <= 0:
		return fmt.Errorf("%w: durations must be positive", domain.ErrInvalidParameters)
	case !positive(p.TotalSupply):
		return fmt.Errorf("%w: total supply must be positive", domain.ErrInvalidParameters)
	case !positive(p.MinPrivate) || !positive(p.MaxPrivate) || p.MinPrivate.Gt(p.MaxPrivate):
		return fmt.Errorf("%w: private investment bounds", domain.ErrInvalidParameters)
	case !positive(p.MinPublic) || !positive(p.MaxPublic) || p.MinPublic.Gt(p.MaxPublic):
		return fmt.Errorf("%w: public investment bounds", domain.ErrInvalidParameters)
	case p.LiquidityPercent < minLiquidityPercent || p.LiquidityPercent > maxLiquidityPercent:
		return fmt.Errorf("%w: liquidity percent %d outside [%d,%d]",
			domain.ErrInvalidParameters, p.LiquidityPercent, minLiquidityPercent, maxLiquidityPercent)
	}
	return nil
}

// EmergencyCancel forces a non-terminal campaign into Cancelled and drops any
// decryption in flight. Owner only.
func (l *Launchpad) EmergencyCancel(ctx context.Context, id uint64, caller common.Address) error {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("launchpad: emergency cancel: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return err
	}
	if caller != l.cfg.Owner {
		return fmt.Errorf("launchpad: emergency cancel: %w", domain.ErrUnauthorized)
	}
	if c.Phase.Terminal() {
		return fmt.Errorf("launchpad: emergency cancel campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}

	var events []domain.Event
	if c.PendingDecryptionID != 0 {
		events = append(events, l.dropRequest(c, "cancelled"))
	}
	from := c.Phase
	c.Phase = domain.PhaseCancelled
	c.Active = false
	c.UpdatedAt = l.now()

	l.logger.WarnContext(ctx, "campaign emergency cancelled", slog.Uint64("campaign_id", id))
	events = append(events,
		l.event(domain.EventPhaseTransitioned, c, map[string]string{"from": from.String(), "to": c.Phase.String()}),
		l.event(domain.EventCampaignCancelled, c, map[string]string{"reason": "emergency"}),
	)
	l.emit(ctx, events)
	return nil
}

// ReclaimTokens returns the unsold supply to the creator once the campaign
// is terminal: all of it after cancellation, or what neither investors nor
// the pool received after completion. It can be done once.
func (l *Launchpad) ReclaimTokens(ctx context.Context, id uint64, caller common.Address) (*uint256.Int, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: reclaim tokens: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return nil, err
	}
	if caller != c.Creator {
		return nil, fmt.Errorf("launchpad: reclaim tokens: %w", domain.ErrUnauthorized)
	}

	amount := new(uint256.Int)
	switch c.Phase {
	case domain.PhaseCancelled:
		amount.Set(c.TotalSupply)
	case domain.PhaseCompleted:
		used := new(uint256.Int).Add(c.Allocated, c.LiquidityTokens)
		if c.TotalSupply.Gt(used) {
			amount.Sub(c.TotalSupply, used)
		}
	default:
		return nil, fmt.Errorf("launchpad: reclaim tokens campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}
	if c.TokensReclaimed || amount.IsZero() {
		return nil, fmt.Errorf("launchpad: reclaim tokens: %w", domain.ErrNothingToClaim)
	}

	c.TokensReclaimed = true
	if err := l.deps.Tokens.Transfer(ctx, c.Token, l.cfg.Address, c.Creator, amount); err != nil {
		c.TokensReclaimed = false
		return nil, fmt.Errorf("launchpad: reclaim tokens: transfer: %w", err)
	}

	ev := l.event(domain.EventTokensReclaimed, c, map[string]string{"amount": amount.Dec()})
	ev.Account = account(caller)
	l.emit(ctx, []domain.Event{ev})
	return amount, nil
}
