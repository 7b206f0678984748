package launchpad

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// Advance applies every phase transition that is due and returns the
// resulting phase. Calling it again without time passing changes nothing.
func (l *Launchpad) Advance(ctx context.Context, id uint64) (domain.Phase, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("launchpad: advance: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return 0, err
	}
	events, err := l.advance(ctx, c, l.now())
	if err != nil {
		return c.Phase, err
	}
	l.emit(ctx, events)
	return c.Phase, nil
}

// advance walks c forward through every transition whose time has come.
// Entering TradingActive opens the exchange pool; if that fails the
// campaign is left exactly as it was.
func (l *Launchpad) advance(ctx context.Context, c *domain.Campaign, now time.Time) ([]domain.Event, error) {
	if !c.Active || c.Phase.Terminal() {
		return nil, nil
	}

	start := c.Phase
	next := start
	for {
		to, ok := nextPhase(c, next, now)
		if !ok {
			break
		}
		next = to
	}
	if next == start {
		return nil, nil
	}

	if next == domain.PhaseTradingActive {
		if err := l.deps.Market.OpenPool(ctx, l.cfg.Address, c.Token); err != nil {
			return nil, fmt.Errorf("launchpad: advance campaign %d: open pool: %w", c.ID, err)
		}
	}

	var events []domain.Event
	for from := start; from != next; {
		to, _ := nextPhase(c, from, now)
		c.Phase = to
		events = append(events, l.event(domain.EventPhaseTransitioned, c, map[string]string{
			"from": from.String(),
			"to":   to.String(),
		}))
		from = to
	}
	c.UpdatedAt = now

	l.logger.InfoContext(ctx, "campaign advanced",
		slog.Uint64("campaign_id", c.ID),
		slog.String("from", start.String()),
		slog.String("to", next.String()),
	)
	return events, nil
}

func nextPhase(c *domain.Campaign, p domain.Phase, now time.Time) (domain.Phase, bool) {
	switch p {
	case domain.PhasePreparation:
		if !now.Before(c.PrivateStart) {
			return domain.PhasePrivateSale, true
		}
	case domain.PhasePrivateSale:
		if now.After(c.PrivateEnd) {
			return domain.PhasePublicSale, true
		}
	case domain.PhasePublicSale:
		if now.After(c.PublicEnd) {
			return domain.PhaseTradingActive, true
		}
	}
	return p, false
}
