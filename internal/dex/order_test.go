package dex

import (
	"math/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

func TestBuyThenCrossingSellPartiallyFills(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositETH(bob, units(1005))
	h.depositTokens(alice, units(60))

	buyID, err := h.place(bob, domain.OrderSideBuy, units(100), units(10))
	require.NoError(t, err)
	require.Equal(t, units(0), h.balance(bob, domain.NativeAsset), "full escrow locked")

	sellID, err := h.place(alice, domain.OrderSideSell, units(60), units(8))
	require.NoError(t, err)

	buy, sell := h.order(buyID), h.order(sellID)
	require.Equal(t, domain.OrderStatusPartiallyFilled, buy.Status)
	require.Equal(t, domain.OrderStatusFilled, sell.Status)
	require.Equal(t, units(60), h.plain(buy.Filled))
	require.Equal(t, units(40), h.plain(buy.Remaining))
	require.Equal(t, units(60), h.plain(sell.Filled))
	require.True(t, h.plain(sell.Remaining).IsZero())
	require.Equal(t, 2, h.sink.count(domain.EventOrderMatched))

	// 60 tokens at the seller's limit of 8: value 480, fee 30 bps = 1.44
	// split 0.72 / 0.72.
	require.Equal(t, units(60), h.balance(bob, tok))
	require.Equal(t, milli(479_280), h.balance(alice, domain.NativeAsset))
	require.Equal(t, milli(1_440), h.balance(collector, domain.NativeAsset))
	require.Equal(t, milli(524_280), h.plain(buy.Escrow))

	book, err := h.ex.Book(h.ctx, tok, domain.OrderSideBuy)
	require.NoError(t, err)
	require.Len(t, book, 1)
	book, err = h.ex.Book(h.ctx, tok, domain.OrderSideSell)
	require.NoError(t, err)
	require.Empty(t, book)

	// Cancelling the remainder returns the unspent escrow.
	require.NoError(t, h.ex.CancelOrder(h.ctx, buyID, bob))
	require.Equal(t, milli(524_280), h.balance(bob, domain.NativeAsset))
	require.True(t, h.plain(h.order(buyID).Escrow).IsZero())
}

func TestEqualPricesMatch(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(5))
	h.depositETH(bob, units(100))

	sellID, err := h.place(alice, domain.OrderSideSell, units(5), units(3))
	require.NoError(t, err)
	buyID, err := h.place(bob, domain.OrderSideBuy, units(5), units(3))
	require.NoError(t, err)

	require.Equal(t, domain.OrderStatusFilled, h.order(sellID).Status)
	require.Equal(t, domain.OrderStatusFilled, h.order(buyID).Status)
	// Buy filled in full, so its leftover escrow is back in the balance:
	// 100 - 15 - 0.0225 = 84.9775.
	require.Equal(t, micro(84_977_500), h.balance(bob, domain.NativeAsset))
}

func TestBuyBelowSellDoesNotMatch(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(5))
	h.depositETH(bob, units(100))

	sellID, err := h.place(alice, domain.OrderSideSell, units(5), units(4))
	require.NoError(t, err)
	buyID, err := h.place(bob, domain.OrderSideBuy, units(5), units(3))
	require.NoError(t, err)

	require.Equal(t, domain.OrderStatusActive, h.order(sellID).Status)
	require.Equal(t, domain.OrderStatusActive, h.order(buyID).Status)
	require.Zero(t, h.sink.count(domain.EventOrderMatched))
}

func TestMatchingRespectsScanCap(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxMatchScan = 2 })
	h.listPair(tok)
	h.depositTokens(alice, units(3))
	h.depositETH(bob, units(100))

	for _, price := range []uint64{20, 20, 5} {
		_, err := h.place(alice, domain.OrderSideSell, units(1), units(price))
		require.NoError(t, err)
	}
	buyID, err := h.place(bob, domain.OrderSideBuy, units(1), units(10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusActive, h.order(buyID).Status, "third sell is beyond the scan cap")

	h2 := newHarness(t)
	h2.listPair(tok)
	h2.depositTokens(alice, units(3))
	h2.depositETH(bob, units(100))
	for _, price := range []uint64{20, 20, 5} {
		_, err := h2.place(alice, domain.OrderSideSell, units(1), units(price))
		require.NoError(t, err)
	}
	buyID, err = h2.place(bob, domain.OrderSideBuy, units(1), units(10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, h2.order(buyID).Status)
}

func TestOldestRestingOrderMatchesFirst(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(2))
	h.depositETH(bob, units(100))

	first, err := h.place(alice, domain.OrderSideSell, units(1), units(6))
	require.NoError(t, err)
	second, err := h.place(alice, domain.OrderSideSell, units(1), units(2))
	require.NoError(t, err)

	_, err = h.place(bob, domain.OrderSideBuy, units(1), units(10))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, h.order(first).Status)
	require.Equal(t, domain.OrderStatusActive, h.order(second).Status)
}

func TestDepositSellCancelRestoresBalance(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(50))

	id, err := h.place(alice, domain.OrderSideSell, units(50), units(5))
	require.NoError(t, err)
	require.True(t, h.balance(alice, tok).IsZero())

	require.ErrorIs(t, h.ex.CancelOrder(h.ctx, id, bob), domain.ErrUnauthorized)
	require.NoError(t, h.ex.CancelOrder(h.ctx, id, alice))
	require.Equal(t, units(50), h.balance(alice, tok))
	require.Equal(t, domain.OrderStatusCancelled, h.order(id).Status)
	require.ErrorIs(t, h.ex.CancelOrder(h.ctx, id, alice), domain.ErrOrderClosed)
	require.ErrorIs(t, h.ex.CancelOrder(h.ctx, 99, alice), domain.ErrNotFound)

	require.NoError(t, h.ex.WithdrawTokens(h.ctx, alice, tok, units(50)))
	onChain, err := h.tokens.BalanceOf(h.ctx, tok, alice)
	require.NoError(t, err)
	require.Equal(t, units(50), onChain)
	require.ErrorIs(t, h.ex.WithdrawTokens(h.ctx, alice, tok, units(1)), domain.ErrInsufficientBalance)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(5))

	_, err := h.place(alice, domain.OrderSideSell, units(6), units(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, units(5), h.balance(alice, tok), "failed placement leaves balance intact")

	_, err = h.place(alice, domain.OrderSideSell, units(0), units(1))
	require.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = h.place(alice, "hold", units(1), units(1))
	require.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = h.ex.PlaceOrder(h.ctx, alice, tok, domain.OrderSideSell, h.input(alice, units(1)), h.input(alice, units(1)), h.now)
	require.ErrorIs(t, err, domain.ErrInvalidParameters)

	// An input issued to someone else does not verify.
	_, err = h.ex.PlaceOrder(h.ctx, alice, tok, domain.OrderSideSell, h.input(bob, units(1)), h.input(alice, units(1)), h.now.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = h.ex.PlaceOrder(h.ctx, alice, bob, domain.OrderSideSell, h.input(alice, units(1)), h.input(alice, units(1)), h.now.Add(time.Minute))
	require.ErrorIs(t, err, domain.ErrPairNotSupported)
}

func TestExpiredOrdersReleaseFunds(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(4))
	h.depositETH(bob, units(100))

	sellID, err := h.place(alice, domain.OrderSideSell, units(2), units(1))
	require.NoError(t, err)
	otherID, err := h.place(alice, domain.OrderSideSell, units(2), units(1))
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Hour)

	// A taker skips and closes the expired maker.
	buyID, err := h.ex.PlaceOrder(h.ctx, bob, tok, domain.OrderSideBuy, h.input(bob, units(1)), h.input(bob, units(1)), h.now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, h.order(sellID).Status)
	require.Equal(t, domain.OrderStatusExpired, h.order(otherID).Status)
	require.Equal(t, domain.OrderStatusActive, h.order(buyID).Status)
	require.Equal(t, units(4), h.balance(alice, tok))

	h.now = h.now.Add(2 * time.Hour)
	n, err := h.ex.ExpireOrders(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, units(100), h.balance(bob, domain.NativeAsset))
}

func TestFilledPlusRemainingIsConserved(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(10_000))
	h.depositETH(bob, units(1_000_000))

	rng := rand.New(rand.NewSource(7))
	var ids []uint64
	for i := 0; i < 60; i++ {
		amount := units(uint64(rng.Intn(20) + 1))
		price := units(uint64(rng.Intn(10) + 1))
		who, side := alice, domain.OrderSideSell
		if rng.Intn(2) == 0 {
			who, side = bob, domain.OrderSideBuy
		}
		id, err := h.place(who, side, amount, price)
		require.NoError(t, err)
		ids = append(ids, id)
		if rng.Intn(5) == 0 {
			victim := ids[rng.Intn(len(ids))]
			o := h.order(victim)
			if o.Status.Open() {
				require.NoError(t, h.ex.CancelOrder(h.ctx, victim, o.Trader))
			}
		}
	}

	buyFilled, sellFilled := new(uint256.Int), new(uint256.Int)
	for _, id := range ids {
		o := h.order(id)
		filled, remaining := h.plain(o.Filled), h.plain(o.Remaining)
		require.Equal(t, h.plain(o.Amount), new(uint256.Int).Add(filled, remaining), "order %d", id)
		if o.Side == domain.OrderSideBuy {
			buyFilled.Add(buyFilled, filled)
		} else {
			sellFilled.Add(sellFilled, filled)
		}
	}
	require.Equal(t, buyFilled, sellFilled)
	require.Equal(t, buyFilled, h.balance(bob, tok))
}

func TestEveryMatchHasBuyAtOrAboveSell(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(1_000))
	h.depositETH(bob, units(100_000))

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 40; i++ {
		who, side := alice, domain.OrderSideSell
		if i%2 == 0 {
			who, side = bob, domain.OrderSideBuy
		}
		_, err := h.place(who, side, units(uint64(rng.Intn(5)+1)), units(uint64(rng.Intn(8)+1)))
		require.NoError(t, err)
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	matched := 0
	for _, ev := range h.sink.events {
		if ev.Trade == nil {
			continue
		}
		matched++
		buy, sell := h.order(ev.Trade.BuyOrderID), h.order(ev.Trade.SellOrderID)
		require.False(t, h.plain(buy.Price).Lt(h.plain(sell.Price)))
		require.Equal(t, h.plain(sell.Price), h.plain(ev.Trade.Price))
	}
	require.NotZero(t, matched)
}

func TestExpireOrdersEmitsInIDOrder(t *testing.T) {
	h := newHarness(t)
	h.listPair(tok)
	h.depositTokens(alice, units(12))

	var placed []uint64
	for i := 0; i < 12; i++ {
		id, err := h.place(alice, domain.OrderSideSell, units(1), units(1))
		require.NoError(t, err)
		placed = append(placed, id)
	}

	h.now = h.now.Add(2 * time.Hour)
	n, err := h.ex.ExpireOrders(h.ctx)
	require.NoError(t, err)
	require.Equal(t, len(placed), n)

	h.sink.mu.Lock()
	var expired []uint64
	for _, ev := range h.sink.events {
		if ev.Kind == domain.EventOrderCancelled && ev.Attrs["reason"] == "expired" {
			expired = append(expired, ev.OrderID)
		}
	}
	h.sink.mu.Unlock()
	require.Equal(t, placed, expired)
	require.Equal(t, units(12), h.balance(alice, tok))
}
