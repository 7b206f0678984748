package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Sizes and prices
// are stored as ciphertext handles.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert writes the latest snapshot of an order.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, trader, token, side, amount_ct, price_ct, filled_ct, remaining_ct,
			status, deadline, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			filled_ct = EXCLUDED.filled_ct,
			remaining_ct = EXCLUDED.remaining_ct,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Trader.Hex(), o.Token.Hex(), string(o.Side),
		o.Amount.Handle.Hex(), o.Price.Handle.Hex(), o.Filled.Handle.Hex(), o.Remaining.Handle.Hex(),
		string(o.Status), o.Deadline, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %d: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, trader, token, side, amount_ct, price_ct, filled_ct, remaining_ct,
	status, deadline, created_at, updated_at`

// GetByID returns one order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, int64(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// ListByTrader returns a trader's orders newest first.
func (s *OrderStore) ListByTrader(ctx context.Context, trader common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	query, args := newListQuery(`SELECT `+orderSelectCols+` FROM orders WHERE trader = $1`, trader.Hex()).
		apply("created_at", "id DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", trader.Hex(), err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                                  domain.Order
		id                                 int64
		trader, token, side, status        string
		amountCT, priceCT, filledCT, remCT string
	)
	err := row.Scan(&id, &trader, &token, &side, &amountCT, &priceCT, &filledCT, &remCT,
		&status, &o.Deadline, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = uint64(id)
	o.Status = domain.OrderStatus(status)
	if o.Side, err = domain.ParseOrderSide(side); err != nil {
		return domain.Order{}, err
	}
	if o.Trader, err = parseAddress(trader); err != nil {
		return domain.Order{}, err
	}
	if o.Token, err = parseAddress(token); err != nil {
		return domain.Order{}, err
	}
	if o.Amount, err = parseCiphertext(amountCT); err != nil {
		return domain.Order{}, err
	}
	if o.Price, err = parseCiphertext(priceCT); err != nil {
		return domain.Order{}, err
	}
	if o.Filled, err = parseCiphertext(filledCT); err != nil {
		return domain.Order{}, err
	}
	if o.Remaining, err = parseCiphertext(remCT); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
