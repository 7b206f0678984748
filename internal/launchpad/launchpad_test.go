package launchpad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
	"github.com/alanyoungcy/confidentialpad/internal/dex"
	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
	"github.com/alanyoungcy/confidentialpad/internal/ledger"
)

const testChainID = 31337

var (
	owner        = common.HexToAddress("0x01")
	feeRecipient = common.HexToAddress("0x02")
	padAddr      = common.HexToAddress("0x03")
	dexAddr      = common.HexToAddress("0x04")
	creator      = common.HexToAddress("0xc0")
	tok          = common.HexToAddress("0x70")
	alice        = common.HexToAddress("0xa1")
	bob          = common.HexToAddress("0xb0")
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// flakyMarket fails the next failSeeds SeedPool calls.
type flakyMarket struct {
	*dex.Exchange
	failSeeds int
}

func (m *flakyMarket) SeedPool(ctx context.Context, caller, token common.Address, tokenAmount, ethAmount *uint256.Int) error {
	if m.failSeeds > 0 {
		m.failSeeds--
		return errors.New("pool unavailable")
	}
	return m.Exchange.SeedPool(ctx, caller, token, tokenAmount, ethAmount)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	eng     *fhe.LocalEngine
	signer  *crypto.Signer
	gateway *fhe.Gateway
	tokens  *ledger.Tokens
	native  *ledger.Native
	ex      *dex.Exchange
	market  *flakyMarket
	pad     *Launchpad
	sink    *recorder
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewSigner(pk, testChainID)
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		signer: signer,
		eng:    fhe.NewLocalEngine(signer, testChainID),
		tokens: ledger.NewTokens(),
		native: ledger.NewNative(),
		sink:   &recorder{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.gateway = fhe.NewGateway(h.eng, signer, fhe.GatewayConfig{MaxAttempts: 3}, fhe.WithGatewayClock(clock))
	h.ex = dex.New(dex.Config{
		Address:                dexAddr,
		Owner:                  owner,
		FeeCollector:           feeRecipient,
		Launchpad:              padAddr,
		DefaultTradingFeeBps:   30,
		DefaultLiquidityFeeBps: 25,
	}, dex.Deps{FHE: h.eng, Tokens: h.tokens, Value: h.native}, dex.WithClock(clock))
	h.market = &flakyMarket{Exchange: h.ex}
	h.pad = New(Config{
		Address:               padAddr,
		Owner:                 owner,
		FeeRecipient:          feeRecipient,
		PlatformFeeBps:        250,
		LiquidityTokenPercent: 10,
		DecryptionTimeout:     10 * time.Minute,
	}, Deps{
		FHE:      h.eng,
		Gateway:  h.gateway,
		Verifier: crypto.NewVerifier(signer.Address(), testChainID),
		Tokens:   h.tokens,
		Value:    h.native,
		Market:   h.market,
	}, WithClock(clock), WithEventSink(h.sink))
	return h
}

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), tokenUnit)
}

func milli(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000))
}

// smallParams: targets 10 + 10 ETH, prices 0.05 / 0.08 ETH, 1000 tokens.
func smallParams() domain.LaunchParams {
	return domain.LaunchParams{
		Token:            tok,
		PrivateTarget:    eth(10),
		PublicTarget:     eth(10),
		PrivatePrice:     milli(50),
		PublicPrice:      milli(80),
		MinPrivate:       eth(1),
		MaxPrivate:       eth(20),
		MinPublic:        eth(1),
		MaxPublic:        eth(20),
		PrivateDuration:  7 * 24 * time.Hour,
		PublicDuration:   14 * 24 * time.Hour,
		TotalSupply:      eth(1_000),
		LiquidityPercent: 20,
	}
}

func (h *harness) launch(p domain.LaunchParams) uint64 {
	h.t.Helper()
	h.tokens.Mint(p.Token, creator, p.TotalSupply)
	require.NoError(h.t, h.tokens.Approve(h.ctx, p.Token, creator, padAddr, p.TotalSupply))
	id, err := h.pad.Launch(h.ctx, creator, p)
	require.NoError(h.t, err)
	return id
}

func (h *harness) campaign(id uint64) domain.Campaign {
	h.t.Helper()
	c, err := h.pad.Campaign(h.ctx, id)
	require.NoError(h.t, err)
	return c
}

func (h *harness) advance(id uint64) domain.Phase {
	h.t.Helper()
	p, err := h.pad.Advance(h.ctx, id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) invest(id uint64, who common.Address, amount *uint256.Int) error {
	h.native.Credit(who, amount)
	in, err := h.eng.EncryptInput(who, amount)
	require.NoError(h.t, err)
	return h.pad.Invest(h.ctx, id, who, in, amount)
}

func (h *harness) toPrivateSale(id uint64) {
	h.t.Helper()
	h.now = h.campaign(id).PrivateStart
	require.Equal(h.t, domain.PhasePrivateSale, h.advance(id))
}

func (h *harness) toPublicSale(id uint64) {
	h.t.Helper()
	h.now = h.campaign(id).PublicStart
	require.Equal(h.t, domain.PhasePublicSale, h.advance(id))
}

func (h *harness) afterSale(id uint64) {
	h.t.Helper()
	h.now = h.campaign(id).PublicEnd.Add(time.Second)
}

func (h *harness) nativeOf(who common.Address) *uint256.Int {
	h.t.Helper()
	v, err := h.native.BalanceOf(h.ctx, who)
	require.NoError(h.t, err)
	return v
}

func (h *harness) tokensOf(who common.Address) *uint256.Int {
	h.t.Helper()
	v, err := h.tokens.BalanceOf(h.ctx, tok, who)
	require.NoError(h.t, err)
	return v
}

func (h *harness) plain(u fhe.Uint) *uint256.Int {
	h.t.Helper()
	v, err := h.eng.Decrypt(h.ctx, u.Handle)
	require.NoError(h.t, err)
	return v
}
