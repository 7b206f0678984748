package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Trade records one match between a buy and a sell order. Quantities stay
// encrypted.
type Trade struct {
	ID          string
	Token       common.Address
	BuyOrderID  uint64
	SellOrderID uint64
	Buyer       common.Address
	Seller      common.Address
	Size        fhe.Uint
	Price       fhe.Uint
	Value       fhe.Uint
	Fee         fhe.Uint
	Timestamp   time.Time
}
