package dex

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// match crosses taker against resting orders on the opposite side in
// ascending id order, examining at most MaxMatchScan candidates. A pair
// trades when the revealed buy limit >= sell limit; size is the encrypted
// minimum of both remainders and the price is the seller's limit.
//
// Each fill commits on its own. If a reveal fails mid-way (context
// cancelled) matching stops and completed fills stand.
func (e *Exchange) match(ctx context.Context, p *domain.TradingPair, taker *domain.Order) []domain.Event {
	k := bookKey{p.Token, taker.Side.Opposite()}
	now := e.now()
	var events []domain.Event
	scanned := 0

	for _, id := range e.books[k] {
		if scanned >= e.cfg.MaxMatchScan || !taker.Status.Open() {
			break
		}
		maker := e.orders[id]
		if !maker.Status.Open() {
			continue
		}
		scanned++
		if maker.Expired(now) {
			e.close(maker, domain.OrderStatusExpired)
			events = append(events, e.orderEvent(domain.EventOrderCancelled, maker, map[string]string{"reason": "expired"}))
			continue
		}

		ev, err := e.fill(ctx, p, taker, maker)
		if err != nil {
			e.logger.WarnContext(ctx, "matching interrupted",
				slog.Uint64("order_id", taker.ID),
				slog.String("error", err.Error()),
			)
			break
		}
		events = append(events, ev...)
	}
	e.prune(k)
	return events
}

// fill executes one candidate match. Every reveal happens before the first
// mutation so an error leaves both orders untouched.
func (e *Exchange) fill(ctx context.Context, p *domain.TradingPair, taker, maker *domain.Order) ([]domain.Event, error) {
	f := e.deps.FHE
	buy, sell := taker, maker
	if taker.Side == domain.OrderSideSell {
		buy, sell = maker, taker
	}

	crosses, err := f.Reveal(ctx, f.Ge(buy.Price, sell.Price))
	if err != nil || !crosses {
		return nil, err
	}

	size := f.Select(f.Lt(buy.Remaining, sell.Remaining), buy.Remaining, sell.Remaining)
	value := f.DivScalar(f.Mul(size, sell.Price), tokenUnit)
	fee := f.DivScalar(f.MulScalar(value, uint256.NewInt(uint64(p.TradingFeeBps))), uint256.NewInt(bpsDenominator))
	buyerFee := f.DivScalar(fee, uint256.NewInt(2))
	sellerFee := f.Sub(fee, buyerFee)

	buyRemaining := f.Sub(buy.Remaining, size)
	sellRemaining := f.Sub(sell.Remaining, size)
	zero := f.Encrypt(new(uint256.Int))
	buyDone, err := f.Reveal(ctx, f.Eq(buyRemaining, zero))
	if err != nil {
		return nil, err
	}
	sellDone, err := f.Reveal(ctx, f.Eq(sellRemaining, zero))
	if err != nil {
		return nil, err
	}

	now := e.now()
	buy.Filled, buy.Remaining = f.Add(buy.Filled, size), buyRemaining
	sell.Filled, sell.Remaining = f.Add(sell.Filled, size), sellRemaining
	buy.Escrow = f.Sub(buy.Escrow, f.Add(value, buyerFee))
	buy.UpdatedAt, sell.UpdatedAt = now, now

	e.credit(buy.Trader, p.Token, size)
	e.credit(sell.Trader, domain.NativeAsset, f.Sub(value, sellerFee))
	e.credit(e.cfg.FeeCollector, domain.NativeAsset, fee)

	for _, st := range []struct {
		o    *domain.Order
		done bool
	}{{buy, buyDone}, {sell, sellDone}} {
		if st.done {
			e.close(st.o, domain.OrderStatusFilled)
		} else {
			st.o.Status = domain.OrderStatusPartiallyFilled
		}
	}

	trade := &domain.Trade{
		ID:          uuid.NewString(),
		Token:       p.Token,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Buyer:       buy.Trader,
		Seller:      sell.Trader,
		Size:        size,
		Price:       sell.Price,
		Value:       value,
		Fee:         fee,
		Timestamp:   now,
	}
	attrs := map[string]string{
		"trade_id":      trade.ID,
		"buy_order_id":  strconv.FormatUint(buy.ID, 10),
		"sell_order_id": strconv.FormatUint(sell.ID, 10),
		"size_handle":   size.Handle.Hex(),
	}
	takerEv := e.orderEvent(domain.EventOrderMatched, taker, attrs)
	takerEv.Trade = trade
	makerEv := e.orderEvent(domain.EventOrderMatched, maker, attrs)
	return []domain.Event{takerEv, makerEv}, nil
}
