package launchpad

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// fundedCampaign runs smallParams through both sales: alice puts 10 ETH in
// the private sale, bob 12 ETH in the public sale, and the clock ends up
// just after the public sale.
func fundedCampaign(h *harness) uint64 {
	h.t.Helper()
	id := h.launch(smallParams())
	h.toPrivateSale(id)
	require.NoError(h.t, h.invest(id, alice, eth(10)))
	h.toPublicSale(id)
	require.NoError(h.t, h.invest(id, bob, eth(12)))
	h.afterSale(id)
	return id
}

func TestSuccessfulCampaignSettlesAndPays(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)

	reqID, err := h.pad.RequestDecryption(h.ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseTradingActive, h.campaign(id).Phase)
	_, err = h.pad.RequestDecryption(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrDecryptionPending)

	require.NoError(t, h.gateway.Fulfill(h.ctx, reqID))

	c := h.campaign(id)
	require.Equal(t, domain.PhaseCompleted, c.Phase)
	require.True(t, c.Active)
	require.True(t, c.DecryptionComplete)
	require.Zero(t, c.PendingDecryptionID)

	invs, err := h.pad.Investments(h.ctx, id, common.Address{})
	require.NoError(t, err)
	privateSum, publicSum := new(uint256.Int), new(uint256.Int)
	for _, inv := range invs {
		if inv.Phase == domain.PhasePrivateSale {
			privateSum.Add(privateSum, inv.Actual)
		} else {
			publicSum.Add(publicSum, inv.Actual)
		}
	}
	require.Equal(t, privateSum, c.PrivateRaised)
	require.Equal(t, publicSum, c.PublicRaised)
	// 200 tokens at 0.05 plus 150 at 0.08.
	require.Equal(t, eth(350), c.Allocated)

	// 22 ETH raised: 2.5% fee, 20% to the pool, the rest to the creator.
	require.Equal(t, milli(550), h.nativeOf(feeRecipient))
	require.Equal(t, milli(4_400), h.nativeOf(dexAddr))
	require.Equal(t, milli(17_050), h.nativeOf(creator))
	require.True(t, h.nativeOf(padAddr).IsZero())

	require.Equal(t, eth(100), c.LiquidityTokens)
	require.Equal(t, eth(100), h.tokensOf(dexAddr))
	pair, err := h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.Equal(t, eth(100), h.plain(pair.TokenReserve))
	require.Equal(t, milli(4_400), h.plain(pair.ETHReserve))

	got, err := h.pad.ClaimTokens(h.ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, eth(200), got)
	got, err = h.pad.ClaimTokens(h.ctx, id, bob)
	require.NoError(t, err)
	require.Equal(t, eth(150), got)
	_, err = h.pad.ClaimTokens(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
	_, err = h.pad.ClaimRefund(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)

	_, err = h.pad.ReclaimTokens(h.ctx, id, bob)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	got, err = h.pad.ReclaimTokens(h.ctx, id, creator)
	require.NoError(t, err)
	require.Equal(t, eth(550), got)
	_, err = h.pad.ReclaimTokens(h.ctx, id, creator)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
	require.True(t, h.tokensOf(padAddr).IsZero())

	_, err = h.pad.RequestDecryption(h.ctx, id, creator)
	require.ErrorIs(t, err, domain.ErrAlreadyDecrypted)
	require.Equal(t, 1, h.sink.count(domain.EventCampaignSettled))
	require.Equal(t, 1, h.sink.count(domain.EventDecryptionResolved))
}

func TestMissedTargetCancelsAndRefunds(t *testing.T) {
	h := newHarness(t)
	p := smallParams()
	p.PrivateTarget, p.PublicTarget = eth(100), eth(100)
	id := h.launch(p)
	h.toPrivateSale(id)
	require.NoError(t, h.invest(id, alice, eth(10)))
	h.afterSale(id)

	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)
	require.NoError(t, h.gateway.Fulfill(h.ctx, reqID))

	c := h.campaign(id)
	require.Equal(t, domain.PhaseCancelled, c.Phase)
	require.False(t, c.Active)
	require.True(t, h.nativeOf(feeRecipient).IsZero())
	require.True(t, h.nativeOf(creator).IsZero())

	_, err = h.pad.ClaimTokens(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	got, err := h.pad.ClaimRefund(h.ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, eth(10), got)
	require.Equal(t, eth(10), h.nativeOf(alice))
	_, err = h.pad.ClaimRefund(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)

	got, err = h.pad.ReclaimTokens(h.ctx, id, creator)
	require.NoError(t, err)
	require.Equal(t, eth(1_000), got)
	require.Equal(t, 1, h.sink.count(domain.EventCampaignCancelled))
}

func TestDecryptionAccessBeforeTrading(t *testing.T) {
	h := newHarness(t)
	id := h.launch(smallParams())
	h.toPublicSale(id)

	_, err := h.pad.RequestDecryption(h.ctx, id, alice)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.pad.RequestDecryption(h.ctx, id, creator)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	_, err = h.pad.RequestDecryption(h.ctx, id, owner)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	require.Empty(t, h.gateway.Pending())
}

func TestForgedResultIsRejected(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)
	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)

	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	rogue := crypto.NewSigner(pk, testChainID)
	c := h.campaign(id)
	handles := fhe.Handles(c.TotalPrivateRaised, c.TotalPublicRaised, c.TokensAllocated)
	values := []*uint256.Int{eth(1_000), eth(1_000), eth(1)}
	raw := [][32]byte{handles[0], handles[1], handles[2]}
	sig, err := rogue.SignDecryption(reqID, raw, values)
	require.NoError(t, err)

	err = h.gateway.Deliver(h.ctx, fhe.Result{RequestID: reqID, Handles: handles, Values: values, Signature: sig})
	require.ErrorIs(t, err, domain.ErrInvalidProof)
	c = h.campaign(id)
	require.Equal(t, domain.PhaseTradingActive, c.Phase)
	require.Equal(t, reqID, c.PendingDecryptionID)

	// The genuine result still lands.
	require.NoError(t, h.gateway.Fulfill(h.ctx, reqID))
	require.Equal(t, domain.PhaseCompleted, h.campaign(id).Phase)
}

func TestUnknownRequestIsRejected(t *testing.T) {
	h := newHarness(t)
	err := h.pad.OnDecryptionResolved(h.ctx, fhe.Result{RequestID: 42})
	require.ErrorIs(t, err, domain.ErrUnknownRequest)
}

func TestFailedSettlementIsRetried(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)
	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)

	h.market.failSeeds = 1
	require.Error(t, h.gateway.Fulfill(h.ctx, reqID))

	c := h.campaign(id)
	require.Equal(t, domain.PhaseTradingActive, c.Phase)
	require.False(t, c.DecryptionComplete)
	require.Equal(t, eth(22), h.nativeOf(padAddr))
	require.True(t, h.nativeOf(feeRecipient).IsZero())
	require.True(t, h.nativeOf(creator).IsZero())
	require.True(t, h.tokensOf(dexAddr).IsZero())
	require.Len(t, h.gateway.Pending(), 1)

	require.NoError(t, h.gateway.Fulfill(h.ctx, reqID))
	require.Equal(t, domain.PhaseCompleted, h.campaign(id).Phase)
	require.Equal(t, milli(17_050), h.nativeOf(creator))
}

func TestStaleRequestsExpire(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)
	first, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)

	h.now = h.now.Add(5 * time.Minute)
	expired, err := h.pad.ExpireDecryption(h.ctx)
	require.NoError(t, err)
	require.Empty(t, expired)

	h.now = h.now.Add(6 * time.Minute)
	expired, err = h.pad.ExpireDecryption(h.ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, expired)
	require.Zero(t, h.campaign(id).PendingDecryptionID)
	require.ErrorIs(t, h.gateway.Fulfill(h.ctx, first), fhe.ErrUnknownRequest)

	second, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.NoError(t, h.gateway.Fulfill(h.ctx, second))
	require.Equal(t, domain.PhaseCompleted, h.campaign(id).Phase)
	require.Equal(t, 1, h.sink.count(domain.EventDecryptionExpired))
}

func TestLateCallbackIsDropped(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)
	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)

	h.now = h.now.Add(11 * time.Minute)
	require.ErrorIs(t, h.gateway.Fulfill(h.ctx, reqID), domain.ErrUnknownRequest)
	require.Empty(t, h.gateway.Pending())
	c := h.campaign(id)
	require.Equal(t, domain.PhaseTradingActive, c.Phase)
	require.Zero(t, c.PendingDecryptionID)

	_, err = h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)
}

func TestEmergencyCancelDropsPendingRequest(t *testing.T) {
	h := newHarness(t)
	id := fundedCampaign(h)
	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)

	require.ErrorIs(t, h.pad.EmergencyCancel(h.ctx, id, creator), domain.ErrUnauthorized)
	require.NoError(t, h.pad.EmergencyCancel(h.ctx, id, owner))
	require.ErrorIs(t, h.pad.EmergencyCancel(h.ctx, id, owner), domain.ErrPhaseViolation)

	c := h.campaign(id)
	require.Equal(t, domain.PhaseCancelled, c.Phase)
	require.False(t, c.Active)
	require.Empty(t, h.gateway.Pending())
	require.ErrorIs(t, h.gateway.Fulfill(h.ctx, reqID), fhe.ErrUnknownRequest)

	got, err := h.pad.ClaimRefund(h.ctx, id, bob)
	require.NoError(t, err)
	require.Equal(t, eth(12), got)
}

func TestSoldOutCampaignSkipsPoolSeeding(t *testing.T) {
	h := newHarness(t)
	p := smallParams()
	// 200 tokens for alice plus 150 for bob leaves nothing for the pool.
	p.TotalSupply = eth(350)
	id := h.launch(p)
	h.toPrivateSale(id)
	require.NoError(t, h.invest(id, alice, eth(10)))
	h.toPublicSale(id)
	require.NoError(t, h.invest(id, bob, eth(12)))
	h.afterSale(id)

	reqID, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)
	require.NoError(t, h.gateway.Fulfill(h.ctx, reqID))

	c := h.campaign(id)
	require.Equal(t, domain.PhaseCompleted, c.Phase)
	require.True(t, c.LiquidityTokens.IsZero())

	// The pool share of the raise goes to the creator instead.
	require.Equal(t, milli(550), h.nativeOf(feeRecipient))
	require.Equal(t, milli(21_450), h.nativeOf(creator))
	require.True(t, h.nativeOf(dexAddr).IsZero())
	require.True(t, h.nativeOf(padAddr).IsZero())

	pair, err := h.ex.Pair(h.ctx, tok)
	require.NoError(t, err)
	require.True(t, h.plain(pair.ETHReserve).IsZero())
	require.True(t, h.plain(pair.TotalShares).IsZero())
	positions, err := h.ex.Positions(h.ctx, padAddr)
	require.NoError(t, err)
	require.Empty(t, positions)

	got, err := h.pad.ClaimTokens(h.ctx, id, alice)
	require.NoError(t, err)
	require.Equal(t, eth(200), got)
	got, err = h.pad.ClaimTokens(h.ctx, id, bob)
	require.NoError(t, err)
	require.Equal(t, eth(150), got)
	_, err = h.pad.ReclaimTokens(h.ctx, id, creator)
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestInvestBeyondSupplyIsRejected(t *testing.T) {
	h := newHarness(t)
	p := smallParams()
	p.TotalSupply = eth(350)
	id := h.launch(p)
	h.toPrivateSale(id)
	require.NoError(t, h.invest(id, alice, eth(10)))
	h.toPublicSale(id)
	require.NoError(t, h.invest(id, bob, eth(12)))

	carol := common.HexToAddress("0xca")
	require.ErrorIs(t, h.invest(id, carol, eth(1)), domain.ErrInvestmentBoundsViolated)
	require.Equal(t, eth(1), h.nativeOf(carol))

	invs, err := h.pad.Investments(h.ctx, id, carol)
	require.NoError(t, err)
	require.Empty(t, invs)
}

func TestPrivilegedRequestOnceSaleCloses(t *testing.T) {
	h := newHarness(t)
	id := h.launch(smallParams())
	h.toPublicSale(id)

	h.now = h.campaign(id).PublicEnd
	_, err := h.pad.RequestDecryption(h.ctx, id, creator)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)

	// No explicit Advance: the request applies the due transition itself.
	h.afterSale(id)
	_, err = h.pad.RequestDecryption(h.ctx, id, creator)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseTradingActive, h.campaign(id).Phase)
	require.Len(t, h.gateway.Pending(), 1)
}
