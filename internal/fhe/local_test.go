package fhe

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
)

const testChainID = 31337

func newTestEngine(t *testing.T) (*LocalEngine, *crypto.Signer) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewSigner(pk, testChainID)
	return NewLocalEngine(signer, testChainID), signer
}

func reveal(t *testing.T, e *LocalEngine, b Bool) bool {
	t.Helper()
	v, err := e.Reveal(context.Background(), b)
	require.NoError(t, err)
	return v
}

func plain(t *testing.T, e *LocalEngine, u Uint) uint64 {
	t.Helper()
	v, err := e.Decrypt(context.Background(), u.Handle)
	require.NoError(t, err)
	return v.Uint64()
}

func TestArithmetic(t *testing.T) {
	e, _ := newTestEngine(t)
	a := e.Encrypt(uint256.NewInt(20))
	b := e.Encrypt(uint256.NewInt(6))

	require.EqualValues(t, 26, plain(t, e, e.Add(a, b)))
	require.EqualValues(t, 14, plain(t, e, e.Sub(a, b)))
	require.EqualValues(t, 120, plain(t, e, e.Mul(a, b)))
	require.EqualValues(t, 3, plain(t, e, e.Div(a, b)))
	require.EqualValues(t, 60, plain(t, e, e.MulScalar(a, uint256.NewInt(3))))
	require.EqualValues(t, 5, plain(t, e, e.DivScalar(a, uint256.NewInt(4))))
}

func TestDivByZeroSaturates(t *testing.T) {
	e, _ := newTestEngine(t)
	q := e.Div(e.Encrypt(uint256.NewInt(5)), e.Encrypt(new(uint256.Int)))
	v, err := e.Decrypt(context.Background(), q.Handle)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).SetAllOne(), v)
}

func TestSubWraps(t *testing.T) {
	e, _ := newTestEngine(t)
	d := e.Sub(e.Encrypt(uint256.NewInt(1)), e.Encrypt(uint256.NewInt(2)))
	v, err := e.Decrypt(context.Background(), d.Handle)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).SetAllOne(), v)
}

func TestComparisonsAndLogic(t *testing.T) {
	e, _ := newTestEngine(t)
	lo := e.Encrypt(uint256.NewInt(1))
	hi := e.Encrypt(uint256.NewInt(2))

	require.True(t, reveal(t, e, e.Lt(lo, hi)))
	require.True(t, reveal(t, e, e.Le(lo, lo)))
	require.True(t, reveal(t, e, e.Gt(hi, lo)))
	require.True(t, reveal(t, e, e.Ge(hi, hi)))
	require.True(t, reveal(t, e, e.Eq(lo, e.Encrypt(uint256.NewInt(1)))))
	require.True(t, reveal(t, e, e.Ne(lo, hi)))
	require.False(t, reveal(t, e, e.Gt(lo, hi)))

	tr, fa := e.EncryptBool(true), e.EncryptBool(false)
	require.False(t, reveal(t, e, e.And(tr, fa)))
	require.True(t, reveal(t, e, e.Or(tr, fa)))
	require.True(t, reveal(t, e, e.Not(fa)))

	require.EqualValues(t, 1, plain(t, e, e.Select(e.Lt(lo, hi), lo, hi)))
	require.EqualValues(t, 2, plain(t, e, e.Select(e.Gt(lo, hi), lo, hi)))
}

func TestZeroHandleIsZero(t *testing.T) {
	e, _ := newTestEngine(t)
	sum := e.Add(Uint{}, e.Encrypt(uint256.NewInt(9)))
	require.EqualValues(t, 9, plain(t, e, sum))
}

func TestHandlesAreFresh(t *testing.T) {
	e, _ := newTestEngine(t)
	a := e.Encrypt(uint256.NewInt(1))
	b := e.Encrypt(uint256.NewInt(1))
	require.NotEqual(t, a.Handle, b.Handle)
}

func TestVerifyInput(t *testing.T) {
	e, _ := newTestEngine(t)
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	in, err := e.EncryptInput(alice, uint256.NewInt(77))
	require.NoError(t, err)

	u, err := e.VerifyInput(in, alice)
	require.NoError(t, err)
	require.EqualValues(t, 77, plain(t, e, u))

	_, err = e.VerifyInput(in, bob)
	require.ErrorIs(t, err, ErrInvalidInput)

	// A proof from a foreign signer is rejected even for a known handle.
	other, _ := newTestEngine(t)
	forged, err := other.EncryptInput(alice, uint256.NewInt(1))
	require.NoError(t, err)
	_, err = e.VerifyInput(Input{Handle: in.Handle, Proof: forged.Proof}, alice)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerifyInputUnknownHandle(t *testing.T) {
	e, signer := newTestEngine(t)
	alice := common.HexToAddress("0xa11ce")
	h := Handle{0xde, 0xad}
	proof, err := signer.SignInput(h, alice)
	require.NoError(t, err)

	_, err = e.VerifyInput(Input{Handle: h, Proof: proof}, alice)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRevealHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Reveal(ctx, e.EncryptBool(true))
	require.ErrorIs(t, err, context.Canceled)
}

func TestHandleText(t *testing.T) {
	h := Handle{1, 2, 3}
	b, err := h.MarshalText()
	require.NoError(t, err)

	var back Handle
	require.NoError(t, back.UnmarshalText(b))
	require.Equal(t, h, back)

	_, err = ParseHandle("0x1234")
	require.Error(t, err)
}
