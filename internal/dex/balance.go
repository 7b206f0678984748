package dex

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Balance returns the handle of an account's encrypted balance of asset
// (domain.NativeAsset for ETH).
func (e *Exchange) Balance(ctx context.Context, account, asset common.Address) (fhe.Uint, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fhe.Uint{}, fmt.Errorf("dex: balance: %w", err)
	}
	defer release()
	return e.balance(account, asset), nil
}

// DepositTokens pulls tokens from trader into custody and credits the
// encrypted balance. trader must have approved the exchange.
func (e *Exchange) DepositTokens(ctx context.Context, trader, token common.Address, amount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: deposit tokens: %w", err)
	}
	defer release()

	if _, ok := e.pairs[token]; !ok {
		return fmt.Errorf("dex: deposit tokens: %w", domain.ErrPairNotSupported)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("dex: deposit tokens: %w: zero amount", domain.ErrInvalidParameters)
	}
	if err := e.deps.Tokens.TransferFrom(ctx, token, e.cfg.Address, trader, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("dex: deposit tokens: %w", err)
	}
	e.credit(trader, token, e.deps.FHE.Encrypt(amount))
	e.emitBalance(ctx, domain.EventDeposit, trader, token, amount)
	return nil
}

// DepositETH moves native value from trader into custody and credits the
// encrypted ETH balance.
func (e *Exchange) DepositETH(ctx context.Context, trader common.Address, amount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: deposit eth: %w", err)
	}
	defer release()

	if amount == nil || amount.IsZero() {
		return fmt.Errorf("dex: deposit eth: %w: zero amount", domain.ErrInvalidParameters)
	}
	if err := e.deps.Value.Send(ctx, trader, e.cfg.Address, amount); err != nil {
		return fmt.Errorf("dex: deposit eth: %w", err)
	}
	e.credit(trader, domain.NativeAsset, e.deps.FHE.Encrypt(amount))
	e.emitBalance(ctx, domain.EventDeposit, trader, domain.NativeAsset, amount)
	return nil
}

// WithdrawTokens pays out a public amount from the encrypted token balance.
// Only the sufficiency of the balance is revealed.
func (e *Exchange) WithdrawTokens(ctx context.Context, trader, token common.Address, amount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: withdraw tokens: %w", err)
	}
	defer release()

	if token == domain.NativeAsset {
		return fmt.Errorf("dex: withdraw tokens: %w: native asset", domain.ErrInvalidParameters)
	}
	return e.withdraw(ctx, trader, token, amount, func(ctx context.Context) error {
		return e.deps.Tokens.Transfer(ctx, token, e.cfg.Address, trader, amount)
	})
}

// WithdrawETH pays out a public amount from the encrypted ETH balance.
func (e *Exchange) WithdrawETH(ctx context.Context, trader common.Address, amount *uint256.Int) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: withdraw eth: %w", err)
	}
	defer release()

	return e.withdraw(ctx, trader, domain.NativeAsset, amount, func(ctx context.Context) error {
		return e.deps.Value.Send(ctx, e.cfg.Address, trader, amount)
	})
}

func (e *Exchange) withdraw(ctx context.Context, trader, asset common.Address, amount *uint256.Int, pay func(context.Context) error) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("dex: withdraw: %w: zero amount", domain.ErrInvalidParameters)
	}
	f := e.deps.FHE
	enc := f.Encrypt(amount)
	before := e.balance(trader, asset)
	ok, err := f.Reveal(ctx, f.Ge(before, enc))
	if err != nil {
		return fmt.Errorf("dex: withdraw: reveal: %w", err)
	}
	if !ok {
		return fmt.Errorf("dex: withdraw: %w", domain.ErrInsufficientBalance)
	}

	e.setBalance(trader, asset, f.Sub(before, enc))
	if err := pay(ctx); err != nil {
		e.setBalance(trader, asset, before)
		return fmt.Errorf("dex: withdraw: %w", err)
	}
	e.logger.InfoContext(ctx, "withdrawal",
		slog.String("account", trader.Hex()),
		slog.String("asset", asset.Hex()),
	)
	e.emitBalance(ctx, domain.EventWithdrawal, trader, asset, amount)
	return nil
}

// debitIfCovered subtracts amount from the balance when the revealed check
// balance >= amount passes.
func (e *Exchange) debitIfCovered(ctx context.Context, account, asset common.Address, amount fhe.Uint) error {
	f := e.deps.FHE
	bal := e.balance(account, asset)
	ok, err := f.Reveal(ctx, f.Ge(bal, amount))
	if err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	if !ok {
		return domain.ErrInsufficientBalance
	}
	e.setBalance(account, asset, f.Sub(bal, amount))
	return nil
}

func (e *Exchange) balance(account, asset common.Address) fhe.Uint {
	return e.balances[balanceKey{account, asset}]
}

func (e *Exchange) setBalance(account, asset common.Address, v fhe.Uint) {
	e.balances[balanceKey{account, asset}] = v
}

func (e *Exchange) credit(account, asset common.Address, amount fhe.Uint) {
	e.setBalance(account, asset, e.deps.FHE.Add(e.balance(account, asset), amount))
}

func (e *Exchange) emitBalance(ctx context.Context, kind domain.EventKind, account, asset common.Address, amount *uint256.Int) {
	e.emit(ctx, []domain.Event{e.event(kind, asset, account, map[string]string{"amount": amount.Dec()})})
}
