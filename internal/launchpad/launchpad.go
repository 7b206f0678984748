// Package launchpad runs confidential fundraising campaigns: encrypted
// investment accounting, the time-gated phase machine, oracle-mediated
// decryption of the raised totals and the settlement that follows.
package launchpad

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
	"github.com/alanyoungcy/confidentialpad/internal/guard"
)

const (
	preparationDelay    = time.Hour
	saleGap             = 30 * time.Minute
	minLiquidityPercent = 10
	maxLiquidityPercent = 80
	bpsDenominator      = 10_000
	timeLayout          = time.RFC3339
)

// tokenUnit is one whole token (18 decimals).
var tokenUnit = uint256.NewInt(1_000_000_000_000_000_000)

// Market is the exchange surface the launchpad opens and seeds pools on.
type Market interface {
	// Address is the exchange's custody account.
	Address() common.Address
	OpenPool(ctx context.Context, caller, token common.Address) error
	SeedPool(ctx context.Context, caller, token common.Address, tokenAmount, ethAmount *uint256.Int) error
}

// Decrypter issues asynchronous decryption requests.
type Decrypter interface {
	RequestDecryption(ctx context.Context, handles []fhe.Handle, cb fhe.Callback) (uint64, error)
	Expire(id uint64) bool
}

// ResultVerifier authenticates signed decryption results.
type ResultVerifier interface {
	VerifyDecryption(requestID uint64, handles [][32]byte, values []*uint256.Int, sig []byte) error
}

// Config holds the platform parameters.
type Config struct {
	// Address is the launchpad's custody account for tokens and value.
	Address               common.Address
	Owner                 common.Address
	FeeRecipient          common.Address
	PlatformFeeBps        uint16
	LiquidityTokenPercent uint8
	// DecryptionTimeout expires unanswered requests; zero disables expiry.
	DecryptionTimeout time.Duration
}

// Deps are the collaborators a Launchpad is wired with.
type Deps struct {
	FHE      fhe.Evaluator
	Gateway  Decrypter
	Verifier ResultVerifier
	Tokens   domain.TokenLedger
	Value    domain.ValueLedger
	Market   Market
}

// Option customises a Launchpad.
type Option func(*Launchpad)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Launchpad) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launchpad) { l.logger = logger }
}

// WithEventSink sets where committed events are delivered.
func WithEventSink(sink domain.EventSink) Option {
	return func(l *Launchpad) { l.sink = sink }
}

type totalKey struct {
	campaign uint64
	phase    domain.Phase
	investor common.Address
}

// Launchpad owns every campaign and its investments. All exported methods
// serialise on one guard; the context handed to collaborators carries the
// guard's mark so re-entry fails with domain.ErrReentrantCall.
type Launchpad struct {
	guard guard.Guard

	cfg    Config
	deps   Deps
	sink   domain.EventSink
	logger *slog.Logger
	now    func() time.Time

	nextID      uint64
	campaigns   map[uint64]*domain.Campaign
	investments map[uint64][]*domain.Investment
	totals      map[totalKey]*uint256.Int
	requests    map[uint64]uint64 // decryption request id -> campaign id
}

// New creates a Launchpad.
func New(cfg Config, deps Deps, opts ...Option) *Launchpad {
	l := &Launchpad{
		cfg:         cfg,
		deps:        deps,
		sink:        domain.NopSink{},
		logger:      slog.Default(),
		now:         time.Now,
		campaigns:   make(map[uint64]*domain.Campaign),
		investments: make(map[uint64][]*domain.Investment),
		totals:      make(map[totalKey]*uint256.Int),
		requests:    make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "launchpad"))
	return l
}

// Address returns the custody account.
func (l *Launchpad) Address() common.Address { return l.cfg.Address }

// Campaign returns a snapshot of one campaign.
func (l *Launchpad) Campaign(ctx context.Context, id uint64) (domain.Campaign, error) {
	_, release, err := l.guard.Enter(ctx)
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("launchpad: get campaign: %w", err)
	}
	defer release()

	c, err := l.campaign(id)
	if err != nil {
		return domain.Campaign{}, err
	}
	return c.Clone(), nil
}

// Campaigns returns snapshots of all campaigns ordered by id.
func (l *Launchpad) Campaigns(ctx context.Context) ([]domain.Campaign, error) {
	_, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: list campaigns: %w", err)
	}
	defer release()

	out := make([]domain.Campaign, 0, len(l.campaigns))
	for _, c := range l.campaigns {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Investments returns an investor's records in a campaign. A zero investor
// returns every record.
func (l *Launchpad) Investments(ctx context.Context, id uint64, investor common.Address) ([]domain.Investment, error) {
	_, release, err := l.guard.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("launchpad: list investments: %w", err)
	}
	defer release()

	if _, err := l.campaign(id); err != nil {
		return nil, err
	}
	var out []domain.Investment
	for _, inv := range l.investments[id] {
		if investor != (common.Address{}) && inv.Investor != investor {
			continue
		}
		cp := *inv
		cp.Actual = new(uint256.Int).Set(inv.Actual)
		out = append(out, cp)
	}
	return out, nil
}

func (l *Launchpad) campaign(id uint64) (*domain.Campaign, error) {
	c, ok := l.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("launchpad: campaign %d: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

func (l *Launchpad) event(kind domain.EventKind, c *domain.Campaign, attrs map[string]string) domain.Event {
	snap := c.Clone()
	token := c.Token
	return domain.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		CampaignID: c.ID,
		Token:      &token,
		Attrs:      attrs,
		At:         l.now(),
		Campaign:   &snap,
	}
}

func (l *Launchpad) emit(ctx context.Context, events []domain.Event) {
	if len(events) > 0 {
		l.sink.Emit(ctx, events...)
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func account(a common.Address) *common.Address { return &a }
