package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenLedger moves fungible tokens between accounts.
type TokenLedger interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves tokens on behalf of from, consuming spender's allowance.
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error)
}

// ValueLedger moves native value (wei).
type ValueLedger interface {
	Send(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}
