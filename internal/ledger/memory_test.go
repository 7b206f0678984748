package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

var (
	tok   = common.HexToAddress("0x70")
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
)

func TestTokensTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewTokens()
	l.Mint(tok, alice, uint256.NewInt(100))

	require.NoError(t, l.Transfer(ctx, tok, alice, bob, uint256.NewInt(40)))
	a, _ := l.BalanceOf(ctx, tok, alice)
	b, _ := l.BalanceOf(ctx, tok, bob)
	require.EqualValues(t, 60, a.Uint64())
	require.EqualValues(t, 40, b.Uint64())

	err := l.Transfer(ctx, tok, bob, alice, uint256.NewInt(41))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	b, _ = l.BalanceOf(ctx, tok, bob)
	require.EqualValues(t, 40, b.Uint64())
}

func TestTokensTransferFromConsumesAllowance(t *testing.T) {
	ctx := context.Background()
	l := NewTokens()
	l.Mint(tok, alice, uint256.NewInt(100))

	require.ErrorIs(t, l.TransferFrom(ctx, tok, bob, alice, bob, uint256.NewInt(1)), domain.ErrInsufficientBalance)

	require.NoError(t, l.Approve(ctx, tok, alice, bob, uint256.NewInt(50)))
	require.NoError(t, l.TransferFrom(ctx, tok, bob, alice, bob, uint256.NewInt(30)))
	require.ErrorIs(t, l.TransferFrom(ctx, tok, bob, alice, bob, uint256.NewInt(21)), domain.ErrInsufficientBalance)
	require.NoError(t, l.TransferFrom(ctx, tok, bob, alice, bob, uint256.NewInt(20)))

	b, _ := l.BalanceOf(ctx, tok, bob)
	require.EqualValues(t, 50, b.Uint64())
}

func TestNativeSend(t *testing.T) {
	ctx := context.Background()
	n := NewNative()
	n.Credit(alice, uint256.NewInt(10))

	require.NoError(t, n.Send(ctx, alice, bob, uint256.NewInt(10)))
	require.ErrorIs(t, n.Send(ctx, alice, bob, uint256.NewInt(1)), domain.ErrInsufficientBalance)

	b, err := n.BalanceOf(ctx, bob)
	require.NoError(t, err)
	require.EqualValues(t, 10, b.Uint64())
}
