// Package ledger provides in-memory token and native-value ledgers used by
// the local node and in tests.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type holding struct {
	token, account common.Address
}

type allowance struct {
	token, owner, spender common.Address
}

// Tokens is an in-memory multi-token ledger.
type Tokens struct {
	mu         sync.Mutex
	balances   map[holding]*uint256.Int
	allowances map[allowance]*uint256.Int
}

var _ domain.TokenLedger = (*Tokens)(nil)

// NewTokens creates an empty token ledger.
func NewTokens() *Tokens {
	return &Tokens{
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[allowance]*uint256.Int),
	}
}

// Mint credits amount of token to account.
func (t *Tokens) Mint(token, account common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := holding{token, account}
	t.balances[k] = new(uint256.Int).Add(t.balance(k), amount)
}

func (t *Tokens) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(token, from, to, amount)
}

func (t *Tokens) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	ak := allowance{token, from, spender}
	allowed := t.allowances[ak]
	if allowed == nil || allowed.Lt(amount) {
		return fmt.Errorf("ledger: transfer from %s: allowance: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	if err := t.move(token, from, to, amount); err != nil {
		return err
	}
	t.allowances[ak] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (t *Tokens) Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowance{token, owner, spender}] = new(uint256.Int).Set(amount)
	return nil
}

func (t *Tokens) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.balance(holding{token, account})), nil
}

func (t *Tokens) move(token, from, to common.Address, amount *uint256.Int) error {
	fk, tk := holding{token, from}, holding{token, to}
	fb := t.balance(fk)
	if fb.Lt(amount) {
		return fmt.Errorf("ledger: transfer %s from %s: %w", token.Hex(), from.Hex(), domain.ErrInsufficientBalance)
	}
	t.balances[fk] = new(uint256.Int).Sub(fb, amount)
	t.balances[tk] = new(uint256.Int).Add(t.balance(tk), amount)
	return nil
}

func (t *Tokens) balance(k holding) *uint256.Int {
	if b, ok := t.balances[k]; ok {
		return b
	}
	return new(uint256.Int)
}

// Native is an in-memory native value ledger.
type Native struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

var _ domain.ValueLedger = (*Native)(nil)

// NewNative creates an empty value ledger.
func NewNative() *Native {
	return &Native{balances: make(map[common.Address]*uint256.Int)}
}

// Credit adds amount to account.
func (n *Native) Credit(account common.Address, amount *uint256.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balances[account] = new(uint256.Int).Add(n.balance(account), amount)
}

func (n *Native) Send(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	fb := n.balance(from)
	if fb.Lt(amount) {
		return fmt.Errorf("ledger: send from %s: %w", from.Hex(), domain.ErrInsufficientBalance)
	}
	n.balances[from] = new(uint256.Int).Sub(fb, amount)
	n.balances[to] = new(uint256.Int).Add(n.balance(to), amount)
	return nil
}

func (n *Native) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return new(uint256.Int).Set(n.balance(account)), nil
}

func (n *Native) balance(a common.Address) *uint256.Int {
	if b, ok := n.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}
