package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Phase is the lifecycle stage of a campaign.
type Phase uint8

const (
	PhasePreparation Phase = iota
	PhasePrivateSale
	PhasePublicSale
	PhaseTradingActive
	PhaseCompleted
	PhaseCancelled
)

var phaseNames = [...]string{
	PhasePreparation:   "preparation",
	PhasePrivateSale:   "private_sale",
	PhasePublicSale:    "public_sale",
	PhaseTradingActive: "trading_active",
	PhaseCompleted:     "completed",
	PhaseCancelled:     "cancelled",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// IsSale reports whether investments are accepted in p.
func (p Phase) IsSale() bool {
	return p == PhasePrivateSale || p == PhasePublicSale
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("domain: unknown phase %q", b)
}

// LaunchParams are the creator-supplied terms of a campaign.
type LaunchParams struct {
	Token            common.Address
	PrivateTarget    *uint256.Int
	PublicTarget     *uint256.Int
	PrivatePrice     *uint256.Int // wei per whole token
	PublicPrice      *uint256.Int // wei per whole token
	MinPrivate       *uint256.Int
	MaxPrivate       *uint256.Int
	MinPublic        *uint256.Int
	MaxPublic        *uint256.Int
	PrivateDuration  time.Duration
	PublicDuration   time.Duration
	TotalSupply      *uint256.Int
	LiquidityPercent uint8
}

// Campaign is a fundraising campaign. Raised amounts and allocations are
// encrypted; the plaintext mirrors are meaningful only once
// DecryptionComplete is set.
type Campaign struct {
	ID      uint64
	Creator common.Address
	LaunchParams

	PrivateStart time.Time
	PrivateEnd   time.Time
	PublicStart  time.Time
	PublicEnd    time.Time

	Phase  Phase
	Active bool

	TotalPrivateRaised fhe.Uint
	TotalPublicRaised  fhe.Uint
	TokensAllocated    fhe.Uint

	DecryptionComplete    bool
	PrivateRaised         *uint256.Int
	PublicRaised          *uint256.Int
	Allocated             *uint256.Int
	LiquidityTokens       *uint256.Int
	TokensReclaimed       bool
	PendingDecryptionID   uint64
	DecryptionRequestedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy safe to hand outside the owning engine.
func (c Campaign) Clone() Campaign {
	out := c
	out.PrivateTarget = cloneInt(c.PrivateTarget)
	out.PublicTarget = cloneInt(c.PublicTarget)
	out.PrivatePrice = cloneInt(c.PrivatePrice)
	out.PublicPrice = cloneInt(c.PublicPrice)
	out.MinPrivate = cloneInt(c.MinPrivate)
	out.MaxPrivate = cloneInt(c.MaxPrivate)
	out.MinPublic = cloneInt(c.MinPublic)
	out.MaxPublic = cloneInt(c.MaxPublic)
	out.TotalSupply = cloneInt(c.TotalSupply)
	out.PrivateRaised = cloneInt(c.PrivateRaised)
	out.PublicRaised = cloneInt(c.PublicRaised)
	out.Allocated = cloneInt(c.Allocated)
	out.LiquidityTokens = cloneInt(c.LiquidityTokens)
	return out
}

// PriceFor returns the token price of a sale phase.
func (c Campaign) PriceFor(p Phase) *uint256.Int {
	if p == PhasePrivateSale {
		return c.PrivatePrice
	}
	return c.PublicPrice
}

// BoundsFor returns the per-investor minimum and maximum of a sale phase.
func (c Campaign) BoundsFor(p Phase) (lo, hi *uint256.Int) {
	if p == PhasePrivateSale {
		return c.MinPrivate, c.MaxPrivate
	}
	return c.MinPublic, c.MaxPublic
}

// Investment is one contribution to a campaign.
type Investment struct {
	Investor   common.Address
	Amount     fhe.Uint
	Allocation fhe.Uint
	Actual     *uint256.Int
	Phase      Phase
	Commitment common.Hash
	Timestamp  time.Time
	Claimed    bool
	Refunded   bool
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return new(uint256.Int).Set(v)
}
