package fhe

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Evaluator is the homomorphic capability the launchpad and exchange are
// written against. Arithmetic wraps modulo 2^256; callers guard subtraction
// with a revealed comparison. Division by an encrypted zero yields 2^256-1.
// The zero Uint (unset handle) evaluates as an encryption of zero.
type Evaluator interface {
	Encrypt(v *uint256.Int) Uint
	EncryptBool(b bool) Bool

	Add(a, b Uint) Uint
	Sub(a, b Uint) Uint
	Mul(a, b Uint) Uint
	Div(a, b Uint) Uint
	MulScalar(a Uint, s *uint256.Int) Uint
	DivScalar(a Uint, s *uint256.Int) Uint

	Eq(a, b Uint) Bool
	Ne(a, b Uint) Bool
	Lt(a, b Uint) Bool
	Le(a, b Uint) Bool
	Gt(a, b Uint) Bool
	Ge(a, b Uint) Bool

	And(a, b Bool) Bool
	Or(a, b Bool) Bool
	Not(a Bool) Bool
	Select(cond Bool, ifTrue, ifFalse Uint) Uint

	// Reveal discloses a single boolean predicate synchronously.
	Reveal(ctx context.Context, b Bool) (bool, error)

	// VerifyInput checks that in was issued for owner and returns the
	// ciphertext it carries. Failures wrap ErrInvalidInput.
	VerifyInput(in Input, owner common.Address) (Uint, error)
}

// KMS decrypts ciphertexts on behalf of the gateway. Only the gateway holds
// one; engines never decrypt for callers.
type KMS interface {
	Decrypt(ctx context.Context, h Handle) (*uint256.Int, error)
}
