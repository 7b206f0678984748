// Package dex is a confidential order-book exchange. Order sizes, limit
// prices and user balances are ciphertexts; matching reveals only the
// boolean outcome of each comparison.
package dex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
	"github.com/alanyoungcy/confidentialpad/internal/guard"
)

const (
	bpsDenominator = 10_000
	// DefaultMaxMatchScan bounds how many resting orders one placement
	// examines.
	DefaultMaxMatchScan = 64
)

var (
	tokenUnit = uint256.NewInt(1_000_000_000_000_000_000)
	// escrowFeeDivisor covers the buyer's half of the highest allowed fee:
	// MaxFeeBps/2 of 10000 is 1/200.
	escrowFeeDivisor = uint256.NewInt(2 * bpsDenominator / domain.MaxFeeBps)
)

// Config holds the exchange parameters.
type Config struct {
	// Address is the exchange's custody account.
	Address      common.Address
	Owner        common.Address
	FeeCollector common.Address
	// Launchpad may open and seed pools.
	Launchpad              common.Address
	MaxMatchScan           int
	DefaultTradingFeeBps   uint16
	DefaultLiquidityFeeBps uint16
}

// Deps are the collaborators an Exchange is wired with.
type Deps struct {
	FHE    fhe.Evaluator
	Tokens domain.TokenLedger
	Value  domain.ValueLedger
}

// Option customises an Exchange.
type Option func(*Exchange)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) { e.logger = logger }
}

// WithEventSink sets where committed events are delivered.
func WithEventSink(sink domain.EventSink) Option {
	return func(e *Exchange) { e.sink = sink }
}

type balanceKey struct {
	account common.Address
	asset   common.Address
}

// Exchange owns pairs, orders, pool positions and the encrypted balance
// ledger. Every exported method serialises on one guard.
type Exchange struct {
	guard guard.Guard

	cfg    Config
	deps   Deps
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time

	pairs       map[common.Address]*domain.TradingPair
	orders      map[uint64]*domain.Order
	books       map[bookKey][]uint64
	balances    map[balanceKey]fhe.Uint
	positions   map[uint64]*domain.LiquidityPosition
	nextOrderID uint64
	nextPosID   uint64
}

// New creates an Exchange.
func New(cfg Config, deps Deps, opts ...Option) *Exchange {
	if cfg.MaxMatchScan <= 0 {
		cfg.MaxMatchScan = DefaultMaxMatchScan
	}
	e := &Exchange{
		cfg:       cfg,
		deps:      deps,
		sink:      domain.NopSink{},
		logger:    slog.Default(),
		now:       time.Now,
		pairs:     make(map[common.Address]*domain.TradingPair),
		orders:    make(map[uint64]*domain.Order),
		books:     make(map[bookKey][]uint64),
		balances:  make(map[balanceKey]fhe.Uint),
		positions: make(map[uint64]*domain.LiquidityPosition),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "dex"))
	return e
}

// Address returns the custody account.
func (e *Exchange) Address() common.Address { return e.cfg.Address }

// Order returns a snapshot of one order.
func (e *Exchange) Order(ctx context.Context, id uint64) (domain.Order, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("dex: get order: %w", err)
	}
	defer release()

	o, ok := e.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("dex: order %d: %w", id, domain.ErrNotFound)
	}
	return *o, nil
}

// Orders returns a trader's orders ordered by id.
func (e *Exchange) Orders(ctx context.Context, trader common.Address) ([]domain.Order, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("dex: list orders: %w", err)
	}
	defer release()

	var out []domain.Order
	for _, o := range e.orders {
		if o.Trader == trader {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Book returns the open orders resting on one side of a pair in match
// order.
func (e *Exchange) Book(ctx context.Context, token common.Address, side domain.OrderSide) ([]domain.Order, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("dex: book: %w", err)
	}
	defer release()

	if _, ok := e.pairs[token]; !ok {
		return nil, fmt.Errorf("dex: book %s: %w", token.Hex(), domain.ErrPairNotSupported)
	}
	now := e.now()
	var out []domain.Order
	for _, id := range e.books[bookKey{token, side}] {
		o := e.orders[id]
		if o.Status.Open() && !o.Expired(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// Positions returns a provider's liquidity positions ordered by id.
func (e *Exchange) Positions(ctx context.Context, provider common.Address) ([]domain.LiquidityPosition, error) {
	_, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("dex: list positions: %w", err)
	}
	defer release()

	var out []domain.LiquidityPosition
	for _, p := range e.positions {
		if p.Provider == provider {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (e *Exchange) event(kind domain.EventKind, token common.Address, who common.Address, attrs map[string]string) domain.Event {
	ev := domain.Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		Token: &token,
		Attrs: attrs,
		At:    e.now(),
	}
	if who != (common.Address{}) {
		ev.Account = &who
	}
	return ev
}

func (e *Exchange) orderEvent(kind domain.EventKind, o *domain.Order, attrs map[string]string) domain.Event {
	ev := e.event(kind, o.Token, o.Trader, attrs)
	ev.OrderID = o.ID
	snap := *o
	ev.Order = &snap
	return ev
}

func (e *Exchange) emit(ctx context.Context, events []domain.Event) {
	if len(events) > 0 {
		e.sink.Emit(ctx, events...)
	}
}
