package dex

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Swap trades against the pair's pool at the constant-product price. A buy
// spends encrypted ETH for tokens, a sell spends tokens for ETH. The
// liquidity fee stays in the pool. Only three predicates are revealed: the
// balance covers amountIn, the pool has output reserves, and the output
// meets minOut.
func (e *Exchange) Swap(ctx context.Context, trader, token common.Address, side domain.OrderSide, amountIn, minOutIn fhe.Input) (fhe.Uint, error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w", err)
	}
	defer release()

	p, err := e.activePair(token)
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w", err)
	}
	assetIn, assetOut := domain.NativeAsset, token
	reserveIn, reserveOut := &p.ETHReserve, &p.TokenReserve
	switch side {
	case domain.OrderSideBuy:
	case domain.OrderSideSell:
		assetIn, assetOut = token, domain.NativeAsset
		reserveIn, reserveOut = &p.TokenReserve, &p.ETHReserve
	default:
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w: side %q", domain.ErrInvalidParameters, side)
	}

	f := e.deps.FHE
	in, err := f.VerifyInput(amountIn, trader)
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: amount: %w: %w", domain.ErrInvalidParameters, err)
	}
	minOut, err := f.VerifyInput(minOutIn, trader)
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: min out: %w: %w", domain.ErrInvalidParameters, err)
	}

	zero := f.Encrypt(new(uint256.Int))
	liquid, err := f.Reveal(ctx, f.And(f.Gt(*reserveOut, zero), f.Gt(in, zero)))
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: reveal: %w", err)
	}
	if !liquid {
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w: empty pool or zero input", domain.ErrInvalidParameters)
	}

	inAfterFee := f.DivScalar(
		f.MulScalar(in, uint256.NewInt(uint64(bpsDenominator-int(p.LiquidityFeeBps)))),
		uint256.NewInt(bpsDenominator),
	)
	out := f.Div(f.Mul(*reserveOut, inAfterFee), f.Add(*reserveIn, inAfterFee))
	enough, err := f.Reveal(ctx, f.Ge(out, minOut))
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: reveal: %w", err)
	}
	if !enough {
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w", domain.ErrSlippage)
	}
	if err := e.debitIfCovered(ctx, trader, assetIn, in); err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: swap: %w", err)
	}

	*reserveIn = f.Add(*reserveIn, in)
	*reserveOut = f.Sub(*reserveOut, out)
	p.UpdatedAt = e.now()
	e.credit(trader, assetOut, out)

	e.emit(ctx, []domain.Event{e.event(domain.EventSwap, token, trader, map[string]string{
		"side":       string(side),
		"out_handle": out.Handle.Hex(),
	})})
	return out, nil
}
