package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	s3blob "github.com/alanyoungcy/confidentialpad/internal/blob/s3"
	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Launchpad is the campaign surface the handler exposes.
type Launchpad interface {
	Launch(ctx context.Context, creator common.Address, p domain.LaunchParams) (uint64, error)
	Invest(ctx context.Context, id uint64, investor common.Address, in fhe.Input, valueSent *uint256.Int) error
	Advance(ctx context.Context, id uint64) (domain.Phase, error)
	RequestDecryption(ctx context.Context, id uint64, caller common.Address) (uint64, error)
	ClaimTokens(ctx context.Context, id uint64, investor common.Address) (*uint256.Int, error)
	ClaimRefund(ctx context.Context, id uint64, investor common.Address) (*uint256.Int, error)
	ReclaimTokens(ctx context.Context, id uint64, caller common.Address) (*uint256.Int, error)
	EmergencyCancel(ctx context.Context, id uint64, caller common.Address) error
	Campaign(ctx context.Context, id uint64) (domain.Campaign, error)
	Campaigns(ctx context.Context) ([]domain.Campaign, error)
	Investments(ctx context.Context, id uint64, investor common.Address) ([]domain.Investment, error)
}

// ReportSource serves archived settlement reports.
type ReportSource interface {
	Report(ctx context.Context, id uint64) (s3blob.SettlementReport, error)
	Investments(ctx context.Context, id uint64) (io.ReadCloser, error)
}

// CampaignHandler serves /api/campaigns.
type CampaignHandler struct {
	pad     Launchpad
	reports ReportSource
	logger  *slog.Logger
}

// NewCampaignHandler creates a CampaignHandler. reports may be nil.
func NewCampaignHandler(pad Launchpad, reports ReportSource, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{pad: pad, reports: reports, logger: logger.With(slog.String("handler", "campaign"))}
}

type launchRequest struct {
	Token            string  `json:"token"`
	PrivateTarget    *Amount `json:"private_target"`
	PublicTarget     *Amount `json:"public_target"`
	PrivatePrice     *Amount `json:"private_price"`
	PublicPrice      *Amount `json:"public_price"`
	MinPrivate       *Amount `json:"min_private"`
	MaxPrivate       *Amount `json:"max_private"`
	MinPublic        *Amount `json:"min_public"`
	MaxPublic        *Amount `json:"max_public"`
	PrivateDuration  string  `json:"private_duration"`
	PublicDuration   string  `json:"public_duration"`
	TotalSupply      *Amount `json:"total_supply"`
	LiquidityPercent uint8   `json:"liquidity_percent"`
}

func (req launchRequest) params() (domain.LaunchParams, string) {
	token, err := parseAddress(req.Token)
	if err != nil {
		return domain.LaunchParams{}, "token: " + err.Error()
	}
	privDur, err := time.ParseDuration(req.PrivateDuration)
	if err != nil {
		return domain.LaunchParams{}, "private_duration: " + err.Error()
	}
	pubDur, err := time.ParseDuration(req.PublicDuration)
	if err != nil {
		return domain.LaunchParams{}, "public_duration: " + err.Error()
	}
	v := func(a *Amount) *uint256.Int {
		if a == nil {
			return nil
		}
		return a.Int
	}
	return domain.LaunchParams{
		Token:            token,
		PrivateTarget:    v(req.PrivateTarget),
		PublicTarget:     v(req.PublicTarget),
		PrivatePrice:     v(req.PrivatePrice),
		PublicPrice:      v(req.PublicPrice),
		MinPrivate:       v(req.MinPrivate),
		MaxPrivate:       v(req.MaxPrivate),
		MinPublic:        v(req.MinPublic),
		MaxPublic:        v(req.MaxPublic),
		PrivateDuration:  privDur,
		PublicDuration:   pubDur,
		TotalSupply:      v(req.TotalSupply),
		LiquidityPercent: req.LiquidityPercent,
	}, ""
}

// campaignView is the public shape of a campaign. Encrypted aggregates are
// shown as handles; plaintext totals appear only once decrypted.
type campaignView struct {
	ID                  uint64    `json:"id"`
	Creator             string    `json:"creator"`
	Token               string    `json:"token"`
	Phase               string    `json:"phase"`
	Active              bool      `json:"active"`
	PrivateTarget       *Amount   `json:"private_target"`
	PublicTarget        *Amount   `json:"public_target"`
	PrivatePrice        *Amount   `json:"private_price"`
	PublicPrice         *Amount   `json:"public_price"`
	MinPrivate          *Amount   `json:"min_private"`
	MaxPrivate          *Amount   `json:"max_private"`
	MinPublic           *Amount   `json:"min_public"`
	MaxPublic           *Amount   `json:"max_public"`
	TotalSupply         *Amount   `json:"total_supply"`
	LiquidityPercent    uint8     `json:"liquidity_percent"`
	PrivateStart        time.Time `json:"private_start"`
	PrivateEnd          time.Time `json:"private_end"`
	PublicStart         time.Time `json:"public_start"`
	PublicEnd           time.Time `json:"public_end"`
	PrivateRaisedHandle string    `json:"private_raised_handle"`
	PublicRaisedHandle  string    `json:"public_raised_handle"`
	AllocatedHandle     string    `json:"allocated_handle"`
	DecryptionComplete  bool      `json:"decryption_complete"`
	PendingDecryptionID uint64    `json:"pending_decryption_id,omitempty"`
	PrivateRaised       *Amount   `json:"private_raised,omitempty"`
	PublicRaised        *Amount   `json:"public_raised,omitempty"`
	Allocated           *Amount   `json:"allocated,omitempty"`
	LiquidityTokens     *Amount   `json:"liquidity_tokens,omitempty"`
	TokensReclaimed     bool      `json:"tokens_reclaimed"`
}

func viewCampaign(c domain.Campaign) campaignView {
	v := campaignView{
		ID:                  c.ID,
		Creator:             c.Creator.Hex(),
		Token:               c.Token.Hex(),
		Phase:               c.Phase.String(),
		Active:              c.Active,
		PrivateTarget:       amountOf(c.PrivateTarget),
		PublicTarget:        amountOf(c.PublicTarget),
		PrivatePrice:        amountOf(c.PrivatePrice),
		PublicPrice:         amountOf(c.PublicPrice),
		MinPrivate:          amountOf(c.MinPrivate),
		MaxPrivate:          amountOf(c.MaxPrivate),
		MinPublic:           amountOf(c.MinPublic),
		MaxPublic:           amountOf(c.MaxPublic),
		TotalSupply:         amountOf(c.TotalSupply),
		LiquidityPercent:    c.LiquidityPercent,
		PrivateStart:        c.PrivateStart,
		PrivateEnd:          c.PrivateEnd,
		PublicStart:         c.PublicStart,
		PublicEnd:           c.PublicEnd,
		PrivateRaisedHandle: c.TotalPrivateRaised.Handle.Hex(),
		PublicRaisedHandle:  c.TotalPublicRaised.Handle.Hex(),
		AllocatedHandle:     c.TokensAllocated.Handle.Hex(),
		DecryptionComplete:  c.DecryptionComplete,
		PendingDecryptionID: c.PendingDecryptionID,
		TokensReclaimed:     c.TokensReclaimed,
	}
	if c.DecryptionComplete {
		v.PrivateRaised = amountOf(c.PrivateRaised)
		v.PublicRaised = amountOf(c.PublicRaised)
		v.Allocated = amountOf(c.Allocated)
		v.LiquidityTokens = amountOf(c.LiquidityTokens)
	}
	return v
}

type investmentView struct {
	Investor         string    `json:"investor"`
	Phase            string    `json:"phase"`
	AmountHandle     string    `json:"amount_handle"`
	AllocationHandle string    `json:"allocation_handle"`
	Commitment       string    `json:"commitment"`
	Timestamp        time.Time `json:"timestamp"`
	Claimed          bool      `json:"claimed"`
	Refunded         bool      `json:"refunded"`
}

// Launch creates a campaign for the acting account.
// POST /api/campaigns
func (h *CampaignHandler) Launch(w http.ResponseWriter, r *http.Request) {
	creator, ok := actor(w, r)
	if !ok {
		return
	}
	var req launchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, msg := req.params()
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	id, err := h.pad.Launch(r.Context(), creator, p)
	if err != nil {
		writeDomainError(w, r, h.logger, "launch", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

// List returns every campaign.
// GET /api/campaigns
func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	cs, err := h.pad.Campaigns(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list campaigns", err)
		return
	}
	out := make([]campaignView, len(cs))
	for i, c := range cs {
		out[i] = viewCampaign(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

// Get returns one campaign.
// GET /api/campaigns/{id}
func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.pad.Campaign(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get campaign", err)
		return
	}
	writeJSON(w, http.StatusOK, viewCampaign(c))
}

type investRequest struct {
	Input fhe.Input `json:"input"`
	Value *Amount   `json:"value"`
}

// Invest records an encrypted investment with its attached value.
// POST /api/campaigns/{id}/invest
func (h *CampaignHandler) Invest(w http.ResponseWriter, r *http.Request) {
	investor, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req investRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if err := h.pad.Invest(r.Context(), id, investor, req.Input, req.Value.Int); err != nil {
		writeDomainError(w, r, h.logger, "invest", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Advance applies due phase transitions.
// POST /api/campaigns/{id}/advance
func (h *CampaignHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	phase, err := h.pad.Advance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "advance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"phase": phase.String()})
}

// RequestDecryption asks the oracle to decrypt the campaign totals.
// POST /api/campaigns/{id}/decrypt
func (h *CampaignHandler) RequestDecryption(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	reqID, err := h.pad.RequestDecryption(r.Context(), id, caller)
	if err != nil {
		writeDomainError(w, r, h.logger, "request decryption", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"request_id": reqID})
}

// Claim pays out the acting investor's tokens.
// POST /api/campaigns/{id}/claim
func (h *CampaignHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "claim tokens", h.pad.ClaimTokens)
}

// Refund returns the acting investor's contributions of a cancelled campaign.
// POST /api/campaigns/{id}/refund
func (h *CampaignHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "claim refund", h.pad.ClaimRefund)
}

// Reclaim returns unsold supply to the creator.
// POST /api/campaigns/{id}/reclaim
func (h *CampaignHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "reclaim tokens", h.pad.ReclaimTokens)
}

func (h *CampaignHandler) payout(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uint64, common.Address) (*uint256.Int, error)) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	amount, err := fn(r.Context(), id, who)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Amount{"amount": amountOf(amount)})
}

// Cancel force-cancels a campaign. Owner only.
// POST /api/campaigns/{id}/cancel
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.pad.EmergencyCancel(r.Context(), id, caller); err != nil {
		writeDomainError(w, r, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// Investments lists the investments of ?investor=, or of the acting account.
// GET /api/campaigns/{id}/investments
func (h *CampaignHandler) Investments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	raw := r.URL.Query().Get("investor")
	if raw == "" {
		raw = r.Header.Get(AccountHeader)
	}
	investor, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "investor: "+err.Error())
		return
	}
	invs, err := h.pad.Investments(r.Context(), id, investor)
	if err != nil {
		writeDomainError(w, r, h.logger, "list investments", err)
		return
	}
	out := make([]investmentView, len(invs))
	for i, inv := range invs {
		out[i] = investmentView{
			Investor:         inv.Investor.Hex(),
			Phase:            inv.Phase.String(),
			AmountHandle:     inv.Amount.Handle.Hex(),
			AllocationHandle: inv.Allocation.Handle.Hex(),
			Commitment:       inv.Commitment.Hex(),
			Timestamp:        inv.Timestamp,
			Claimed:          inv.Claimed,
			Refunded:         inv.Refunded,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": out})
}

// Report returns an archived settlement report.
// GET /api/campaigns/{id}/report
func (h *CampaignHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rep, err := h.reports.Report(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ReportInvestments streams an archived investment listing as JSONL.
// GET /api/campaigns/{id}/report/investments
func (h *CampaignHandler) ReportInvestments(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rc, err := h.reports.Investments(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get report investments", err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "stream report failed", slog.String("error", err.Error()))
	}
}
