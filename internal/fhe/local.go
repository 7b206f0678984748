package fhe

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
)

// operation tags mixed into derived handles.
const (
	opTrivial byte = iota + 1
	opInput
	opAdd
	opSub
	opMul
	opDiv
	opMulScalar
	opDivScalar
	opEq
	opNe
	opLt
	opLe
	opGt
	opGe
	opAnd
	opOr
	opNot
	opSelect
)

// LocalEngine is an in-process coprocessor. It keeps plaintexts behind
// handles so callers exercise exactly the same code paths as against a real
// FHE backend. It also serves as the gateway's KMS.
//
// The zero Handle evaluates as an encryption of zero. Any other handle the
// engine did not issue panics inside arithmetic: such handles can only reach
// it through VerifyInput, which rejects them first.
type LocalEngine struct {
	mu       sync.RWMutex
	values   map[Handle]*uint256.Int
	counter  uint64
	signer   *crypto.Signer
	verifier *crypto.Verifier
}

var (
	_ Evaluator = (*LocalEngine)(nil)
	_ KMS       = (*LocalEngine)(nil)
)

// NewLocalEngine creates an engine whose input proofs are signed by signer.
func NewLocalEngine(signer *crypto.Signer, chainID int64) *LocalEngine {
	return &LocalEngine{
		values:   make(map[Handle]*uint256.Int),
		signer:   signer,
		verifier: crypto.NewVerifier(signer.Address(), chainID),
	}
}

// EncryptInput encrypts v for owner and returns the input with its proof.
// It stands in for client-side encryption.
func (e *LocalEngine) EncryptInput(owner common.Address, v *uint256.Int) (Input, error) {
	h := e.store(opInput, new(uint256.Int).Set(v), Handle(common.LeftPadBytes(owner.Bytes(), 32)))
	proof, err := e.signer.SignInput(h, owner)
	if err != nil {
		return Input{}, fmt.Errorf("fhe: encrypt input: %w", err)
	}
	return Input{Handle: h, Proof: proof}, nil
}

func (e *LocalEngine) VerifyInput(in Input, owner common.Address) (Uint, error) {
	if err := e.verifier.VerifyInput(in.Handle, owner, in.Proof); err != nil {
		return Uint{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !e.known(in.Handle) {
		return Uint{}, fmt.Errorf("%w: handle %s not issued", ErrInvalidInput, in.Handle)
	}
	return Uint{in.Handle}, nil
}

func (e *LocalEngine) Encrypt(v *uint256.Int) Uint {
	return Uint{e.store(opTrivial, new(uint256.Int).Set(v))}
}

func (e *LocalEngine) EncryptBool(b bool) Bool {
	return Bool{e.store(opTrivial, boolValue(b))}
}

func (e *LocalEngine) Add(a, b Uint) Uint {
	return e.binary(opAdd, a, b, func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Add(x, y) })
}

func (e *LocalEngine) Sub(a, b Uint) Uint {
	return e.binary(opSub, a, b, func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(x, y) })
}

func (e *LocalEngine) Mul(a, b Uint) Uint {
	return e.binary(opMul, a, b, func(x, y *uint256.Int) *uint256.Int { return new(uint256.Int).Mul(x, y) })
}

func (e *LocalEngine) Div(a, b Uint) Uint {
	return e.binary(opDiv, a, b, div)
}

func (e *LocalEngine) MulScalar(a Uint, s *uint256.Int) Uint {
	v := new(uint256.Int).Mul(e.load(a.Handle), s)
	return Uint{e.store(opMulScalar, v, a.Handle, s.Bytes32())}
}

func (e *LocalEngine) DivScalar(a Uint, s *uint256.Int) Uint {
	v := div(e.load(a.Handle), s)
	return Uint{e.store(opDivScalar, v, a.Handle, s.Bytes32())}
}

func (e *LocalEngine) Eq(a, b Uint) Bool {
	return e.compare(opEq, a, b, func(x, y *uint256.Int) bool { return x.Eq(y) })
}

func (e *LocalEngine) Ne(a, b Uint) Bool {
	return e.compare(opNe, a, b, func(x, y *uint256.Int) bool { return !x.Eq(y) })
}

func (e *LocalEngine) Lt(a, b Uint) Bool {
	return e.compare(opLt, a, b, func(x, y *uint256.Int) bool { return x.Lt(y) })
}

func (e *LocalEngine) Le(a, b Uint) Bool {
	return e.compare(opLe, a, b, func(x, y *uint256.Int) bool { return !x.Gt(y) })
}

func (e *LocalEngine) Gt(a, b Uint) Bool {
	return e.compare(opGt, a, b, func(x, y *uint256.Int) bool { return x.Gt(y) })
}

func (e *LocalEngine) Ge(a, b Uint) Bool {
	return e.compare(opGe, a, b, func(x, y *uint256.Int) bool { return !x.Lt(y) })
}

func (e *LocalEngine) And(a, b Bool) Bool {
	v := truthy(e.load(a.Handle)) && truthy(e.load(b.Handle))
	return Bool{e.store(opAnd, boolValue(v), a.Handle, b.Handle)}
}

func (e *LocalEngine) Or(a, b Bool) Bool {
	v := truthy(e.load(a.Handle)) || truthy(e.load(b.Handle))
	return Bool{e.store(opOr, boolValue(v), a.Handle, b.Handle)}
}

func (e *LocalEngine) Not(a Bool) Bool {
	return Bool{e.store(opNot, boolValue(!truthy(e.load(a.Handle))), a.Handle)}
}

func (e *LocalEngine) Select(cond Bool, ifTrue, ifFalse Uint) Uint {
	src := ifFalse
	if truthy(e.load(cond.Handle)) {
		src = ifTrue
	}
	v := new(uint256.Int).Set(e.load(src.Handle))
	return Uint{e.store(opSelect, v, cond.Handle, ifTrue.Handle, ifFalse.Handle)}
}

func (e *LocalEngine) Reveal(ctx context.Context, b Bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return truthy(e.load(b.Handle)), nil
}

// Decrypt implements KMS.
func (e *LocalEngine) Decrypt(ctx context.Context, h Handle) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.IsZero() {
		return new(uint256.Int), nil
	}
	e.mu.RLock()
	v, ok := e.values[h]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return new(uint256.Int).Set(v), nil
}

func (e *LocalEngine) binary(op byte, a, b Uint, f func(x, y *uint256.Int) *uint256.Int) Uint {
	return Uint{e.store(op, f(e.load(a.Handle), e.load(b.Handle)), a.Handle, b.Handle)}
}

func (e *LocalEngine) compare(op byte, a, b Uint, f func(x, y *uint256.Int) bool) Bool {
	return Bool{e.store(op, boolValue(f(e.load(a.Handle), e.load(b.Handle))), a.Handle, b.Handle)}
}

func (e *LocalEngine) known(h Handle) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.values[h]
	return ok
}

func (e *LocalEngine) load(h Handle) *uint256.Int {
	if h.IsZero() {
		return new(uint256.Int)
	}
	e.mu.RLock()
	v, ok := e.values[h]
	e.mu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("fhe: unknown handle %s", h))
	}
	return v
}

// store records v under a fresh handle derived from the operation, its
// operands and a monotonic counter. Stored values are never mutated.
func (e *LocalEngine) store(op byte, v *uint256.Int, operands ...[32]byte) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counter++
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], e.counter)

	parts := make([][]byte, 0, len(operands)+2)
	parts = append(parts, []byte{op}, ctr[:])
	for i := range operands {
		parts = append(parts, operands[i][:])
	}
	h := Handle(ethcrypto.Keccak256Hash(parts...))
	e.values[h] = v
	return h
}

func div(x, y *uint256.Int) *uint256.Int {
	if y.IsZero() {
		return new(uint256.Int).SetAllOne()
	}
	return new(uint256.Int).Div(x, y)
}

func boolValue(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func truthy(v *uint256.Int) bool { return !v.IsZero() }
