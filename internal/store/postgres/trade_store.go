package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert records a match. Replays of the same trade id are ignored.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, token, buy_order_id, sell_order_id, buyer, seller,
			size_ct, price_ct, value_ct, fee_ct, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Token.Hex(), int64(t.BuyOrderID), int64(t.SellOrderID),
		t.Buyer.Hex(), t.Seller.Hex(),
		t.Size.Handle.Hex(), t.Price.Handle.Hex(), t.Value.Handle.Hex(), t.Fee.Handle.Hex(),
		t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByToken returns a pair's trades newest first.
func (s *TradeStore) ListByToken(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := newListQuery(`
		SELECT id, token, buy_order_id, sell_order_id, buyer, seller,
			size_ct, price_ct, value_ct, fee_ct, executed_at
		FROM trades WHERE token = $1`, token.Hex()).
		apply("executed_at", "executed_at DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", token.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                             domain.Trade
			buyID, sellID                 int64
			tok, buyer, seller            string
			sizeCT, priceCT, valCT, feeCT string
		)
		if err := rows.Scan(&t.ID, &tok, &buyID, &sellID, &buyer, &seller,
			&sizeCT, &priceCT, &valCT, &feeCT, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.BuyOrderID, t.SellOrderID = uint64(buyID), uint64(sellID)
		if err := decodeTrade(&t, tok, buyer, seller, sizeCT, priceCT, valCT, feeCT); err != nil {
			return nil, fmt.Errorf("postgres: decode trade %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}

func decodeTrade(t *domain.Trade, tok, buyer, seller, sizeCT, priceCT, valCT, feeCT string) error {
	var err error
	if t.Token, err = parseAddress(tok); err != nil {
		return err
	}
	if t.Buyer, err = parseAddress(buyer); err != nil {
		return err
	}
	if t.Seller, err = parseAddress(seller); err != nil {
		return err
	}
	if t.Size, err = parseCiphertext(sizeCT); err != nil {
		return err
	}
	if t.Price, err = parseCiphertext(priceCT); err != nil {
		return err
	}
	if t.Value, err = parseCiphertext(valCT); err != nil {
		return err
	}
	t.Fee, err = parseCiphertext(feeCT)
	return err
}
