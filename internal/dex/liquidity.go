package dex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// AddLiquidity moves an encrypted token amount from the provider's exchange
// balance and a public ETH amount from the provider's account into the pair's
// pool, and records a position.
//
// Shares are tokenAmount × ethAmount. This is not a fair pricing rule for a
// pool that already holds reserves; removal is proportional to shares, so
// later providers can be diluted or favoured.
func (e *Exchange) AddLiquidity(ctx context.Context, provider, token common.Address, tokenIn fhe.Input, ethSent *uint256.Int) (uint64, error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("dex: add liquidity: %w", err)
	}
	defer release()

	p, err := e.activePair(token)
	if err != nil {
		return 0, fmt.Errorf("dex: add liquidity: %w", err)
	}
	if ethSent == nil || ethSent.IsZero() {
		return 0, fmt.Errorf("dex: add liquidity: %w: zero eth", domain.ErrInvalidParameters)
	}
	f := e.deps.FHE
	amount, err := f.VerifyInput(tokenIn, provider)
	if err != nil {
		return 0, fmt.Errorf("dex: add liquidity: %w: %w", domain.ErrInvalidParameters, err)
	}
	nonZero, err := f.Reveal(ctx, f.Gt(amount, f.Encrypt(new(uint256.Int))))
	if err != nil {
		return 0, fmt.Errorf("dex: add liquidity: reveal: %w", err)
	}
	if !nonZero {
		return 0, fmt.Errorf("dex: add liquidity: %w: zero tokens", domain.ErrInvalidParameters)
	}

	before := e.balance(provider, token)
	if err := e.debitIfCovered(ctx, provider, token, amount); err != nil {
		return 0, fmt.Errorf("dex: add liquidity: %w", err)
	}
	if err := e.deps.Value.Send(ctx, provider, e.cfg.Address, ethSent); err != nil {
		e.setBalance(provider, token, before)
		return 0, fmt.Errorf("dex: add liquidity: %w", err)
	}

	pos := e.addPosition(p, provider, amount, f.Encrypt(ethSent))
	e.logger.InfoContext(ctx, "liquidity added",
		slog.String("token", token.Hex()),
		slog.String("provider", provider.Hex()),
		slog.Uint64("position_id", pos.ID),
	)
	e.emit(ctx, []domain.Event{e.event(domain.EventLiquidityAdded, token, provider, map[string]string{
		"position_id": strconv.FormatUint(pos.ID, 10),
		"eth_amount":  ethSent.Dec(),
	})})
	return pos.ID, nil
}

// RemoveLiquidity burns a position and credits the provider's encrypted
// balances with reserve × shares / totalShares of each side.
func (e *Exchange) RemoveLiquidity(ctx context.Context, provider common.Address, positionID uint64) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: remove liquidity: %w", err)
	}
	defer release()

	pos, ok := e.positions[positionID]
	if !ok {
		return fmt.Errorf("dex: remove liquidity %d: %w", positionID, domain.ErrNotFound)
	}
	if pos.Provider != provider {
		return fmt.Errorf("dex: remove liquidity %d: %w", positionID, domain.ErrUnauthorized)
	}
	if pos.Removed {
		return fmt.Errorf("dex: remove liquidity %d: %w: already removed", positionID, domain.ErrInvalidParameters)
	}
	p := e.pairs[pos.Token]

	f := e.deps.FHE
	hasShares, err := f.Reveal(ctx, f.Gt(pos.Shares, f.Encrypt(new(uint256.Int))))
	if err != nil {
		return fmt.Errorf("dex: remove liquidity %d: reveal: %w", positionID, err)
	}
	if !hasShares {
		return fmt.Errorf("dex: remove liquidity %d: %w: position holds no shares", positionID, domain.ErrInvalidParameters)
	}
	tokenOut := f.Div(f.Mul(p.TokenReserve, pos.Shares), p.TotalShares)
	ethOut := f.Div(f.Mul(p.ETHReserve, pos.Shares), p.TotalShares)

	p.TokenReserve = f.Sub(p.TokenReserve, tokenOut)
	p.ETHReserve = f.Sub(p.ETHReserve, ethOut)
	p.TotalShares = f.Sub(p.TotalShares, pos.Shares)
	p.UpdatedAt = e.now()
	pos.Removed = true

	e.credit(provider, pos.Token, tokenOut)
	e.credit(provider, domain.NativeAsset, ethOut)
	e.emit(ctx, []domain.Event{e.event(domain.EventLiquidityRemoved, pos.Token, provider, map[string]string{
		"position_id":  strconv.FormatUint(pos.ID, 10),
		"token_handle": tokenOut.Handle.Hex(),
		"eth_handle":   ethOut.Handle.Hex(),
	})})
	return nil
}

func (e *Exchange) addPosition(p *domain.TradingPair, provider common.Address, tokenAmount, ethAmount fhe.Uint) *domain.LiquidityPosition {
	f := e.deps.FHE
	shares := f.Mul(tokenAmount, ethAmount)
	now := e.now()

	p.TokenReserve = f.Add(p.TokenReserve, tokenAmount)
	p.ETHReserve = f.Add(p.ETHReserve, ethAmount)
	p.TotalShares = f.Add(p.TotalShares, shares)
	p.UpdatedAt = now

	e.nextPosID++
	pos := &domain.LiquidityPosition{
		ID:          e.nextPosID,
		Provider:    provider,
		Token:       p.Token,
		TokenAmount: tokenAmount,
		ETHAmount:   ethAmount,
		Shares:      shares,
		CreatedAt:   now,
	}
	e.positions[pos.ID] = pos
	return pos
}
