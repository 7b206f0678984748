package launchpad

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// RequestDecryption asks the gateway to decrypt the campaign's three
// aggregates. Due phase transitions are applied first; the campaign must
// then be in TradingActive. Before that only the creator or the owner may
// ask, and the request is refused as out of phase.
func (l *Launchpad) RequestDecryption(ctx context.Context, id uint64, caller common.Address) (uint64, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("launchpad: request decryption: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return 0, err
	}
	now := l.now()
	events, err := l.advance(ctx, c, now)
	if err != nil {
		return 0, err
	}
	// Transitions stand on their own; emit them even if the request fails.
	defer func() { l.emit(ctx, events) }()

	if c.DecryptionComplete {
		return 0, fmt.Errorf("launchpad: request decryption: %w", domain.ErrAlreadyDecrypted)
	}
	privileged := caller == c.Creator || caller == l.cfg.Owner
	if c.Phase < domain.PhaseTradingActive && !privileged {
		return 0, fmt.Errorf("launchpad: request decryption: %w", domain.ErrUnauthorized)
	}
	if c.Phase != domain.PhaseTradingActive {
		return 0, fmt.Errorf("launchpad: request decryption campaign %d in %s: %w", id, c.Phase, domain.ErrPhaseViolation)
	}
	if c.PendingDecryptionID != 0 {
		if !l.stale(c, now) {
			return 0, fmt.Errorf("launchpad: request decryption: request %d: %w", c.PendingDecryptionID, domain.ErrDecryptionPending)
		}
		events = append(events, l.dropRequest(c, "timeout"))
	}

	handles := fhe.Handles(c.TotalPrivateRaised, c.TotalPublicRaised, c.TokensAllocated)
	reqID, err := l.deps.Gateway.RequestDecryption(ctx, handles, l.OnDecryptionResolved)
	if err != nil {
		return 0, fmt.Errorf("launchpad: request decryption: %w", err)
	}
	l.requests[reqID] = id
	c.PendingDecryptionID = reqID
	c.DecryptionRequestedAt = now
	c.UpdatedAt = now

	l.logger.InfoContext(ctx, "decryption requested",
		slog.Uint64("campaign_id", id),
		slog.Uint64("request_id", reqID),
	)
	ev := l.event(domain.EventDecryptionRequest, c, map[string]string{"request_id": u64(reqID)})
	ev.Account = account(caller)
	events = append(events, ev)
	return reqID, nil
}

// OnDecryptionResolved is the gateway callback. The campaign is found by
// request id, the oracle signature is checked against the recorded handles,
// and settlement runs. A settlement failure leaves the campaign untouched and
// is returned so the gateway retries.
func (l *Launchpad) OnDecryptionResolved(ctx context.Context, res fhe.Result) error {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("launchpad: decryption callback: %w", err)
	}
	defer release()

	id, ok := l.requests[res.RequestID]
	if !ok {
		return fmt.Errorf("launchpad: decryption callback: request %d: %w", res.RequestID, domain.ErrUnknownRequest)
	}
	c, err := l.campaign(id)
	if err != nil {
		return err
	}
	now := l.now()
	if l.stale(c, now) {
		l.emit(ctx, []domain.Event{l.dropRequest(c, "timeout")})
		return fmt.Errorf("launchpad: decryption callback: request %d expired: %w", res.RequestID, domain.ErrUnknownRequest)
	}

	want := fhe.Handles(c.TotalPrivateRaised, c.TotalPublicRaised, c.TokensAllocated)
	if err := l.verifyResult(res, want); err != nil {
		return fmt.Errorf("launchpad: decryption callback: %w", err)
	}

	privateRaised, publicRaised, allocated := res.Values[0], res.Values[1], res.Values[2]
	outcome, err := l.settle(ctx, c, privateRaised, publicRaised, allocated)
	if err != nil {
		l.logger.ErrorContext(ctx, "settlement failed",
			slog.Uint64("campaign_id", id),
			slog.Uint64("request_id", res.RequestID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("launchpad: decryption callback: %w", err)
	}

	delete(l.requests, res.RequestID)
	c.PendingDecryptionID = 0
	c.DecryptionComplete = true
	c.PrivateRaised = new(uint256.Int).Set(privateRaised)
	c.PublicRaised = new(uint256.Int).Set(publicRaised)
	c.Allocated = new(uint256.Int).Set(allocated)
	c.LiquidityTokens = outcome.liquidityTokens
	from := c.Phase
	c.Phase = outcome.phase
	c.Active = outcome.phase == domain.PhaseCompleted
	c.UpdatedAt = now

	l.logger.InfoContext(ctx, "campaign settled",
		slog.Uint64("campaign_id", id),
		slog.String("outcome", c.Phase.String()),
		slog.String("raised", new(uint256.Int).Add(privateRaised, publicRaised).Dec()),
	)
	events := []domain.Event{
		l.event(domain.EventDecryptionResolved, c, map[string]string{
			"request_id":     u64(res.RequestID),
			"private_raised": privateRaised.Dec(),
			"public_raised":  publicRaised.Dec(),
			"allocated":      allocated.Dec(),
		}),
		l.event(domain.EventPhaseTransitioned, c, map[string]string{"from": from.String(), "to": c.Phase.String()}),
	}
	if c.Phase == domain.PhaseCompleted {
		events = append(events, l.event(domain.EventCampaignSettled, c, outcome.attrs()))
	} else {
		events = append(events, l.event(domain.EventCampaignCancelled, c, map[string]string{"reason": "target_missed"}))
	}
	l.emit(ctx, events)
	return nil
}

func (l *Launchpad) verifyResult(res fhe.Result, want []fhe.Handle) error {
	if len(res.Handles) != len(want) || len(res.Values) != len(want) {
		return fmt.Errorf("%w: want %d values", domain.ErrInvalidProof, len(want))
	}
	raw := make([][32]byte, len(want))
	for i, h := range want {
		if res.Handles[i] != h || res.Values[i] == nil {
			return fmt.Errorf("%w: handle %d mismatch", domain.ErrInvalidProof, i)
		}
		raw[i] = h
	}
	if err := l.deps.Verifier.VerifyDecryption(res.RequestID, raw, res.Values, res.Signature); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidProof, err)
	}
	return nil
}

// ExpireDecryption drops every pending request older than the decryption
// timeout and returns the affected campaign ids.
func (l *Launchpad) ExpireDecryption(ctx context.Context) ([]uint64, error) {
	ctx, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: expire decryption: %w", err)
	}
	defer release()

	now := l.now()
	var (
		expired []uint64
		events  []domain.Event
	)
	for _, c := range l.campaigns {
		if c.PendingDecryptionID != 0 && l.stale(c, now) {
			events = append(events, l.dropRequest(c, "timeout"))
			expired = append(expired, c.ID)
		}
	}
	for _, id := range expired {
		l.logger.WarnContext(ctx, "decryption request expired", slog.Uint64("campaign_id", id))
	}
	l.emit(ctx, events)
	return expired, nil
}

func (l *Launchpad) stale(c *domain.Campaign, now time.Time) bool {
	if l.cfg.DecryptionTimeout <= 0 || c.PendingDecryptionID == 0 {
		return false
	}
	return now.Sub(c.DecryptionRequestedAt) > l.cfg.DecryptionTimeout
}

// dropRequest forgets c's pending request on both sides of the gateway.
func (l *Launchpad) dropRequest(c *domain.Campaign, reason string) domain.Event {
	reqID := c.PendingDecryptionID
	l.deps.Gateway.Expire(reqID)
	delete(l.requests, reqID)
	c.PendingDecryptionID = 0
	c.DecryptionRequestedAt = time.Time{}
	return l.event(domain.EventDecryptionExpired, c, map[string]string{
		"request_id": u64(reqID),
		"reason":     reason,
	})
}
