package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// InvestmentCommitment hashes the public facts of an investment so observers
// can reference it without learning the amount:
//
//	keccak256(campaignId || investor || ciphertextHandle || timestamp)
func InvestmentCommitment(campaignID uint64, investor common.Address, handle [32]byte, unix int64) common.Hash {
	var id, ts [8]byte
	binary.BigEndian.PutUint64(id[:], campaignID)
	binary.BigEndian.PutUint64(ts[:], uint64(unix))
	return ethcrypto.Keccak256Hash(id[:], investor.Bytes(), handle[:], ts[:])
}
