package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// DecryptionResult(uint256 requestId,bytes32 handlesHash,bytes32 valuesHash)
	decryptionTypeHash = ethcrypto.Keccak256(
		[]byte("DecryptionResult(uint256 requestId,bytes32 handlesHash,bytes32 valuesHash)"),
	)

	// InputProof(bytes32 handle,address owner)
	inputTypeHash = ethcrypto.Keccak256(
		[]byte("InputProof(bytes32 handle,address owner)"),
	)
)

const (
	domainName    = "ConfidentialPadGateway"
	domainVersion = "1"
)

// ErrBadSignature is returned when a signature does not recover to the
// expected signer.
var ErrBadSignature = errors.New("crypto: signature does not match signer")

// Signer produces EIP-712 signatures for decryption results and encrypted
// input proofs. The gateway signs decryption results with it; the local
// coprocessor signs input proofs.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a secp256k1 private key and the chain ID
// the signatures are scoped to.
func NewSigner(pk *ecdsa.PrivateKey, chainID int64) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}
}

// NewSignerFromHex is like NewSigner but parses a hex-encoded key.
func NewSignerFromHex(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSigner(pk, chainID), nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignDecryption signs the plaintext values the gateway resolved for the
// given request and ciphertext handles. It returns a 65-byte signature.
func (s *Signer) SignDecryption(requestID uint64, handles [][32]byte, values []*uint256.Int) ([]byte, error) {
	digest := eip712Hash(s.domainSep, decryptionStructHash(requestID, handles, values))
	return s.signDigest(digest)
}

// SignInput binds a ciphertext handle to the account allowed to submit it.
func (s *Signer) SignInput(handle [32]byte, owner common.Address) ([]byte, error) {
	digest := eip712Hash(s.domainSep, inputStructHash(handle, owner))
	return s.signDigest(digest)
}

// Verifier checks signatures produced by a Signer with a known address.
type Verifier struct {
	signer    common.Address
	domainSep []byte
}

// NewVerifier creates a Verifier accepting signatures from signer.
func NewVerifier(signer common.Address, chainID int64) *Verifier {
	return &Verifier{signer: signer, domainSep: domainSeparator(chainID)}
}

// Signer returns the address the verifier trusts.
func (v *Verifier) Signer() common.Address {
	return v.signer
}

// VerifyDecryption returns nil if sig was produced by the trusted signer over
// exactly this request, handle list and value list.
func (v *Verifier) VerifyDecryption(requestID uint64, handles [][32]byte, values []*uint256.Int, sig []byte) error {
	digest := eip712Hash(v.domainSep, decryptionStructHash(requestID, handles, values))
	return v.verifyDigest(digest, sig)
}

// VerifyInput returns nil if sig binds handle to owner.
func (v *Verifier) VerifyInput(handle [32]byte, owner common.Address, sig []byte) error {
	digest := eip712Hash(v.domainSep, inputStructHash(handle, owner))
	return v.verifyDigest(digest, sig)
}

func (v *Verifier) verifyDigest(digest, sig []byte) error {
	if len(sig) != 65 {
		return fmt.Errorf("crypto/signer: signature length %d: %w", len(sig), ErrBadSignature)
	}
	normalised := make([]byte, 65)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalised)
	if err != nil {
		return fmt.Errorf("crypto/signer: recover: %w", ErrBadSignature)
	}
	if ethcrypto.PubkeyToAddress(*pub) != v.signer {
		return ErrBadSignature
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
		),
	)
}

func decryptionStructHash(requestID uint64, handles [][32]byte, values []*uint256.Int) []byte {
	hb := make([][]byte, 0, len(handles))
	for _, h := range handles {
		hb = append(hb, h[:])
	}
	vb := make([][]byte, 0, len(values))
	for _, v := range values {
		word := v.Bytes32()
		vb = append(vb, word[:])
	}
	return ethcrypto.Keccak256(
		concatBytes(
			decryptionTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(requestID)),
			ethcrypto.Keccak256(hb...),
			ethcrypto.Keccak256(vb...),
		),
	)
}

func inputStructHash(handle [32]byte, owner common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			inputTypeHash,
			handle[:],
			common.LeftPadBytes(owner.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns r || s || v
// with v in {27,28}.
func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
