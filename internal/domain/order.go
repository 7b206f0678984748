package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// NativeAsset is the balance key for native value (ETH) on the exchange.
var NativeAsset = common.Address{}

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side an order matches against.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ParseOrderSide validates a side string.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case OrderSideBuy, OrderSideSell:
		return OrderSide(s), nil
	}
	return "", fmt.Errorf("%w: side %q", ErrInvalidParameters, s)
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Open reports whether the order can still match or be cancelled.
func (s OrderStatus) Open() bool {
	return s == OrderStatusActive || s == OrderStatusPartiallyFilled
}

// Order is a limit order whose size and price are encrypted.
type Order struct {
	ID        uint64
	Trader    common.Address
	Token     common.Address
	Side      OrderSide
	Amount    fhe.Uint
	Price     fhe.Uint // wei per whole token
	Filled    fhe.Uint
	Remaining fhe.Uint
	// Escrow is the encrypted ETH still locked by a buy order.
	Escrow    fhe.Uint
	Status    OrderStatus
	Deadline  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the deadline has passed at now.
func (o Order) Expired(now time.Time) bool {
	return !now.Before(o.Deadline)
}
