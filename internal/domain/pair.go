package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// MaxFeeBps is the ceiling for both trading and liquidity fees (1%).
const MaxFeeBps = 100

// TradingPair is a token/ETH market with its encrypted pool reserves.
type TradingPair struct {
	Token           common.Address
	TradingFeeBps   uint16
	LiquidityFeeBps uint16
	Active          bool
	TokenReserve    fhe.Uint
	ETHReserve      fhe.Uint
	TotalShares     fhe.Uint
	OrderCount      uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LiquidityPosition is a provider's stake in a pair's pool.
type LiquidityPosition struct {
	ID          uint64
	Provider    common.Address
	Token       common.Address
	TokenAmount fhe.Uint
	ETHAmount   fhe.Uint
	Shares      fhe.Uint
	Removed     bool
	CreatedAt   time.Time
}
