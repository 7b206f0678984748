package dex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// PlaceOrder books an encrypted limit order and matches it immediately.
//
// A sell locks the token amount from the trader's encrypted balance. A buy
// locks amount × limit / 1e18 in encrypted ETH plus the buyer's worst-case
// half of the fee; what a fill does not consume is returned when the order
// closes.
func (e *Exchange) PlaceOrder(ctx context.Context, trader, token common.Address, side domain.OrderSide, amountIn, priceIn fhe.Input, deadline time.Time) (uint64, error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("dex: place order: %w", err)
	}
	defer release()

	p, err := e.activePair(token)
	if err != nil {
		return 0, fmt.Errorf("dex: place order: %w", err)
	}
	now := e.now()
	if !deadline.After(now) {
		return 0, fmt.Errorf("dex: place order: %w: deadline in the past", domain.ErrInvalidParameters)
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return 0, fmt.Errorf("dex: place order: %w: side %q", domain.ErrInvalidParameters, side)
	}

	f := e.deps.FHE
	amount, err := f.VerifyInput(amountIn, trader)
	if err != nil {
		return 0, fmt.Errorf("dex: place order: amount: %w: %w", domain.ErrInvalidParameters, err)
	}
	price, err := f.VerifyInput(priceIn, trader)
	if err != nil {
		return 0, fmt.Errorf("dex: place order: price: %w: %w", domain.ErrInvalidParameters, err)
	}
	zero := f.Encrypt(new(uint256.Int))
	nonZero, err := f.Reveal(ctx, f.And(f.Gt(amount, zero), f.Gt(price, zero)))
	if err != nil {
		return 0, fmt.Errorf("dex: place order: reveal: %w", err)
	}
	if !nonZero {
		return 0, fmt.Errorf("dex: place order: %w: zero amount or price", domain.ErrInvalidParameters)
	}

	o := &domain.Order{
		Trader:    trader,
		Token:     token,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Filled:    zero,
		Remaining: amount,
		Escrow:    zero,
		Status:    domain.OrderStatusActive,
		Deadline:  deadline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if side == domain.OrderSideSell {
		if err := e.debitIfCovered(ctx, trader, token, amount); err != nil {
			return 0, fmt.Errorf("dex: place order: %w", err)
		}
	} else {
		notional := f.DivScalar(f.Mul(amount, price), tokenUnit)
		escrow := f.Add(notional, f.DivScalar(notional, escrowFeeDivisor))
		if err := e.debitIfCovered(ctx, trader, domain.NativeAsset, escrow); err != nil {
			return 0, fmt.Errorf("dex: place order: escrow: %w", err)
		}
		o.Escrow = escrow
	}

	e.nextOrderID++
	o.ID = e.nextOrderID
	e.orders[o.ID] = o
	p.OrderCount++

	events := []domain.Event{e.orderEvent(domain.EventOrderPlaced, o, map[string]string{"side": string(side)})}
	events = append(events, e.match(ctx, p, o)...)
	if o.Status.Open() {
		e.rest(o)
	}

	e.logger.InfoContext(ctx, "order placed",
		slog.Uint64("order_id", o.ID),
		slog.String("token", token.Hex()),
		slog.String("side", string(side)),
		slog.String("status", string(o.Status)),
	)
	e.emit(ctx, events)
	return o.ID, nil
}

// CancelOrder closes an open order and releases what it still locks.
func (e *Exchange) CancelOrder(ctx context.Context, id uint64, caller common.Address) error {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return fmt.Errorf("dex: cancel order: %w", err)
	}
	defer release()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("dex: cancel order %d: %w", id, domain.ErrNotFound)
	}
	if o.Trader != caller {
		return fmt.Errorf("dex: cancel order %d: %w", id, domain.ErrUnauthorized)
	}
	if !o.Status.Open() {
		return fmt.Errorf("dex: cancel order %d (%s): %w", id, o.Status, domain.ErrOrderClosed)
	}

	e.close(o, domain.OrderStatusCancelled)
	e.prune(bookKey{o.Token, o.Side})
	e.emit(ctx, []domain.Event{e.orderEvent(domain.EventOrderCancelled, o, map[string]string{"reason": "owner"})})
	return nil
}

// ExpireOrders closes every open order whose deadline has passed and
// returns how many were closed.
func (e *Exchange) ExpireOrders(ctx context.Context) (int, error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return 0, fmt.Errorf("dex: expire orders: %w", err)
	}
	defer release()

	now := e.now()
	var due []*domain.Order
	for _, o := range e.orders {
		if o.Status.Open() && o.Expired(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	events := make([]domain.Event, 0, len(due))
	touched := make(map[bookKey]struct{})
	for _, o := range due {
		e.close(o, domain.OrderStatusExpired)
		touched[bookKey{o.Token, o.Side}] = struct{}{}
		events = append(events, e.orderEvent(domain.EventOrderCancelled, o, map[string]string{"reason": "expired"}))
	}
	for k := range touched {
		e.prune(k)
	}
	e.emit(ctx, events)
	return len(events), nil
}

// close moves an open order to a terminal status and returns its locked
// funds: unfilled tokens for a sell, unspent escrow for a buy.
func (e *Exchange) close(o *domain.Order, status domain.OrderStatus) {
	f := e.deps.FHE
	switch o.Side {
	case domain.OrderSideSell:
		if status != domain.OrderStatusFilled {
			e.credit(o.Trader, o.Token, o.Remaining)
		}
	case domain.OrderSideBuy:
		e.credit(o.Trader, domain.NativeAsset, o.Escrow)
		o.Escrow = f.Encrypt(new(uint256.Int))
	}
	o.Status = status
	o.UpdatedAt = e.now()
}
