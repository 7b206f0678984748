package dex

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

func TestLiquiditySwapAndRemoval(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(1_000))
	h.native.Credit(alice, units(100))

	posID, err := h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(1_000)), units(100))
	require.NoError(t, err)
	require.True(t, h.balance(alice, tok).IsZero())
	onChain, err := h.native.BalanceOf(h.ctx, alice)
	require.NoError(t, err)
	require.True(t, onChain.IsZero())

	h.depositETH(bob, units(10))
	_, err = h.ex.Swap(h.ctx, bob, tok, domain.OrderSideBuy, h.input(bob, units(10)), h.input(bob, units(1_000)))
	require.ErrorIs(t, err, domain.ErrSlippage)
	require.Equal(t, units(10), h.balance(bob, domain.NativeAsset))

	out, err := h.ex.Swap(h.ctx, bob, tok, domain.OrderSideBuy, h.input(bob, units(10)), h.input(bob, new(uint256.Int)))
	require.NoError(t, err)

	inAfterFee := new(uint256.Int).Div(new(uint256.Int).Mul(units(10), uint256.NewInt(9_975)), uint256.NewInt(10_000))
	want := new(uint256.Int).Div(
		new(uint256.Int).Mul(units(1_000), inAfterFee),
		new(uint256.Int).Add(units(100), inAfterFee),
	)
	require.Equal(t, want, h.plain(out))
	require.Equal(t, want, h.balance(bob, tok))
	require.True(t, h.balance(bob, domain.NativeAsset).IsZero())

	p, err := h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.Equal(t, units(110), h.plain(p.ETHReserve))
	left := new(uint256.Int).Sub(units(1_000), want)
	require.Equal(t, left, h.plain(p.TokenReserve))

	require.ErrorIs(t, h.ex.RemoveLiquidity(h.ctx, bob, posID), domain.ErrUnauthorized)
	require.NoError(t, h.ex.RemoveLiquidity(h.ctx, alice, posID))
	require.Equal(t, left, h.balance(alice, tok))
	require.Equal(t, units(110), h.balance(alice, domain.NativeAsset))
	require.ErrorIs(t, h.ex.RemoveLiquidity(h.ctx, alice, posID), domain.ErrInvalidParameters)

	p, err = h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.True(t, h.plain(p.TotalShares).IsZero())
}

func TestAddLiquidityNeedsBalanceAndValue(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(10))

	_, err := h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(11)), units(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// No native value to send: the token debit is rolled back.
	_, err = h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(5)), units(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, units(10), h.balance(alice, tok))

	_, err = h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(5)), nil)
	require.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSwapOnEmptyPoolFails(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositETH(bob, units(1))

	_, err := h.ex.Swap(h.ctx, bob, tok, domain.OrderSideBuy, h.input(bob, units(1)), h.input(bob, new(uint256.Int)))
	require.ErrorIs(t, err, domain.ErrInvalidParameters)
	require.Equal(t, units(1), h.balance(bob, domain.NativeAsset))
}

func TestSeedPoolNeedsBothSides(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ex.OpenPool(h.ctx, padAddr, tok))

	require.ErrorIs(t, h.ex.SeedPool(h.ctx, padAddr, tok, new(uint256.Int), milli(4_400)), domain.ErrInvalidParameters)
	require.ErrorIs(t, h.ex.SeedPool(h.ctx, padAddr, tok, units(10), new(uint256.Int)), domain.ErrInvalidParameters)

	p, err := h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.True(t, h.plain(p.ETHReserve).IsZero())
	require.True(t, h.plain(p.TotalShares).IsZero())
	positions, err := h.ex.Positions(h.ctx, padAddr)
	require.NoError(t, err)
	require.Empty(t, positions)

	// A later provider gets back only what they put in.
	h.depositTokens(alice, units(1))
	h.native.Credit(alice, units(1))
	posID, err := h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(1)), units(1))
	require.NoError(t, err)
	require.NoError(t, h.ex.RemoveLiquidity(h.ctx, alice, posID))
	require.Equal(t, units(1), h.balance(alice, tok))
	require.Equal(t, units(1), h.balance(alice, domain.NativeAsset))
}

func TestRemoveZeroSharePositionIsRejected(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(2))
	h.native.Credit(alice, units(2))
	_, err := h.ex.AddLiquidity(h.ctx, alice, tok, h.input(alice, units(2)), units(2))
	require.NoError(t, err)

	zero := h.eng.Encrypt(new(uint256.Int))
	pos := h.ex.addPosition(h.ex.pairs[tok], bob, zero, zero)

	require.ErrorIs(t, h.ex.RemoveLiquidity(h.ctx, bob, pos.ID), domain.ErrInvalidParameters)
	require.True(t, h.balance(bob, tok).IsZero())
	require.True(t, h.balance(bob, domain.NativeAsset).IsZero())

	p, err := h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.Equal(t, units(2), h.plain(p.TokenReserve))
	require.Equal(t, units(2), h.plain(p.ETHReserve))
}
