package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(pk, 31337)
}

func TestDecryptionSignatureRoundTrip(t *testing.T) {
	s := testSigner(t)
	v := NewVerifier(s.Address(), 31337)

	handles := [][32]byte{{1}, {2}, {3}}
	values := []*uint256.Int{uint256.NewInt(7), uint256.NewInt(0), uint256.NewInt(1e18)}

	sig, err := s.SignDecryption(42, handles, values)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.NoError(t, v.VerifyDecryption(42, handles, values, sig))

	// Any change to the signed tuple must break verification.
	require.ErrorIs(t, v.VerifyDecryption(43, handles, values, sig), ErrBadSignature)
	tampered := []*uint256.Int{uint256.NewInt(8), values[1], values[2]}
	require.ErrorIs(t, v.VerifyDecryption(42, handles, tampered, sig), ErrBadSignature)
	require.ErrorIs(t, v.VerifyDecryption(42, handles[:2], values[:2], sig), ErrBadSignature)
}

func TestVerifierRejectsOtherSigner(t *testing.T) {
	s := testSigner(t)
	other := testSigner(t)
	v := NewVerifier(other.Address(), 31337)

	sig, err := s.SignInput([32]byte{9}, common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.ErrorIs(t, v.VerifyInput([32]byte{9}, common.HexToAddress("0x01"), sig), ErrBadSignature)
}

func TestVerifierRejectsWrongChain(t *testing.T) {
	s := testSigner(t)
	v := NewVerifier(s.Address(), 1)

	sig, err := s.SignInput([32]byte{9}, common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.Error(t, v.VerifyInput([32]byte{9}, common.HexToAddress("0x01"), sig))
}

func TestInputProofBoundToOwner(t *testing.T) {
	s := testSigner(t)
	v := NewVerifier(s.Address(), 31337)
	alice := common.HexToAddress("0xa11ce")
	bob := common.HexToAddress("0xb0b")

	sig, err := s.SignInput([32]byte{5}, alice)
	require.NoError(t, err)
	require.NoError(t, v.VerifyInput([32]byte{5}, alice, sig))
	require.ErrorIs(t, v.VerifyInput([32]byte{5}, bob, sig), ErrBadSignature)
	require.ErrorIs(t, v.VerifyInput([32]byte{5}, alice, sig[:64]), ErrBadSignature)
}

func TestSealOpenKey(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	blob, err := SealKey(pk, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), ethcrypto.PubkeyToAddress(got.PublicKey))

	_, err = OpenKey(blob, "wrong")
	require.Error(t, err)

	_, err = SealKey(pk, "")
	require.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	want := ethcrypto.PubkeyToAddress(pk.PublicKey)

	raw := "0x" + common.Bytes2Hex(ethcrypto.FromECDSA(pk))
	got, err := LoadKey(KeyConfig{RawPrivateKey: raw})
	require.NoError(t, err)
	require.Equal(t, want, ethcrypto.PubkeyToAddress(got.PublicKey))

	blob, err := SealKey(pk, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "oracle.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, want, ethcrypto.PubkeyToAddress(got.PublicKey))

	_, err = LoadKey(KeyConfig{})
	require.True(t, errors.Is(err, ErrNoKeySource))

	got, err = LoadKey(KeyConfig{AllowEphemeral: true})
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestInvestmentCommitmentDistinct(t *testing.T) {
	a := common.HexToAddress("0xa")
	h1 := InvestmentCommitment(1, a, [32]byte{1}, 100)
	require.Equal(t, h1, InvestmentCommitment(1, a, [32]byte{1}, 100))
	require.NotEqual(t, h1, InvestmentCommitment(2, a, [32]byte{1}, 100))
	require.NotEqual(t, h1, InvestmentCommitment(1, a, [32]byte{2}, 100))
	require.NotEqual(t, h1, InvestmentCommitment(1, a, [32]byte{1}, 101))
}
