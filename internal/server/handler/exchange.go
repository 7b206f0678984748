package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Exchange is the DEX surface the handler exposes.
type Exchange interface {
	AddPair(ctx context.Context, caller, token common.Address, tradingFeeBps, liquidityFeeBps uint16) error
	UpdateFees(ctx context.Context, caller, token common.Address, tradingFeeBps, liquidityFeeBps uint16) error
	UpdateFeeCollector(ctx context.Context, caller, collector common.Address) error
	SetPairActive(ctx context.Context, caller, token common.Address, active bool) error
	Pair(ctx context.Context, token common.Address) (domain.TradingPair, error)
	Pairs(ctx context.Context) ([]domain.TradingPair, error)

	PlaceOrder(ctx context.Context, trader, token common.Address, side domain.OrderSide, amountIn, priceIn fhe.Input, deadline time.Time) (uint64, error)
	CancelOrder(ctx context.Context, id uint64, caller common.Address) error
	Order(ctx context.Context, id uint64) (domain.Order, error)
	Orders(ctx context.Context, trader common.Address) ([]domain.Order, error)
	Book(ctx context.Context, token common.Address, side domain.OrderSide) ([]domain.Order, error)

	Balance(ctx context.Context, account, asset common.Address) (fhe.Uint, error)
	DepositTokens(ctx context.Context, trader, token common.Address, amount *uint256.Int) error
	DepositETH(ctx context.Context, trader common.Address, amount *uint256.Int) error
	WithdrawTokens(ctx context.Context, trader, token common.Address, amount *uint256.Int) error
	WithdrawETH(ctx context.Context, trader common.Address, amount *uint256.Int) error

	AddLiquidity(ctx context.Context, provider, token common.Address, tokenIn fhe.Input, ethSent *uint256.Int) (uint64, error)
	RemoveLiquidity(ctx context.Context, provider common.Address, positionID uint64) error
	Positions(ctx context.Context, provider common.Address) ([]domain.LiquidityPosition, error)
	Swap(ctx context.Context, trader, token common.Address, side domain.OrderSide, amountIn, minOutIn fhe.Input) (fhe.Uint, error)
}

// ExchangeHandler serves /api/pairs, /api/orders, /api/balances and
// /api/liquidity.
type ExchangeHandler struct {
	dex    Exchange
	logger *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(dex Exchange, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{dex: dex, logger: logger.With(slog.String("handler", "exchange"))}
}

type pairView struct {
	Token              string    `json:"token"`
	TradingFeeBps      uint16    `json:"trading_fee_bps"`
	LiquidityFeeBps    uint16    `json:"liquidity_fee_bps"`
	Active             bool      `json:"active"`
	TokenReserveHandle string    `json:"token_reserve_handle"`
	ETHReserveHandle   string    `json:"eth_reserve_handle"`
	TotalSharesHandle  string    `json:"total_shares_handle"`
	OrderCount         uint64    `json:"order_count"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func viewPair(p domain.TradingPair) pairView {
	return pairView{
		Token:              p.Token.Hex(),
		TradingFeeBps:      p.TradingFeeBps,
		LiquidityFeeBps:    p.LiquidityFeeBps,
		Active:             p.Active,
		TokenReserveHandle: p.TokenReserve.Handle.Hex(),
		ETHReserveHandle:   p.ETHReserve.Handle.Hex(),
		TotalSharesHandle:  p.TotalShares.Handle.Hex(),
		OrderCount:         p.OrderCount,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

type orderView struct {
	ID              uint64    `json:"id"`
	Trader          string    `json:"trader"`
	Token           string    `json:"token"`
	Side            string    `json:"side"`
	Status          string    `json:"status"`
	AmountHandle    string    `json:"amount_handle"`
	PriceHandle     string    `json:"price_handle"`
	FilledHandle    string    `json:"filled_handle"`
	RemainingHandle string    `json:"remaining_handle"`
	Deadline        time.Time `json:"deadline"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func viewOrder(o domain.Order) orderView {
	return orderView{
		ID:              o.ID,
		Trader:          o.Trader.Hex(),
		Token:           o.Token.Hex(),
		Side:            string(o.Side),
		Status:          string(o.Status),
		AmountHandle:    o.Amount.Handle.Hex(),
		PriceHandle:     o.Price.Handle.Hex(),
		FilledHandle:    o.Filled.Handle.Hex(),
		RemainingHandle: o.Remaining.Handle.Hex(),
		Deadline:        o.Deadline,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func viewOrders(orders []domain.Order) []orderView {
	out := make([]orderView, len(orders))
	for i, o := range orders {
		out[i] = viewOrder(o)
	}
	return out
}

type positionView struct {
	ID           uint64    `json:"id"`
	Provider     string    `json:"provider"`
	Token        string    `json:"token"`
	TokenHandle  string    `json:"token_amount_handle"`
	ETHHandle    string    `json:"eth_amount_handle"`
	SharesHandle string    `json:"shares_handle"`
	Removed      bool      `json:"removed"`
	CreatedAt    time.Time `json:"created_at"`
}

// --- pairs ---

// ListPairs returns every trading pair.
// GET /api/pairs
func (h *ExchangeHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	ps, err := h.dex.Pairs(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "list pairs", err)
		return
	}
	out := make([]pairView, len(ps))
	for i, p := range ps {
		out[i] = viewPair(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": out})
}

// GetPair returns one pair.
// GET /api/pairs/{token}
func (h *ExchangeHandler) GetPair(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	p, err := h.dex.Pair(r.Context(), token)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pair", err)
		return
	}
	writeJSON(w, http.StatusOK, viewPair(p))
}

type feesRequest struct {
	Token           string `json:"token,omitempty"`
	TradingFeeBps   uint16 `json:"trading_fee_bps"`
	LiquidityFeeBps uint16 `json:"liquidity_fee_bps"`
}

// AddPair lists a token. Owner only.
// POST /api/pairs
func (h *ExchangeHandler) AddPair(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req feesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	if err := h.dex.AddPair(r.Context(), caller, token, req.TradingFeeBps, req.LiquidityFeeBps); err != nil {
		writeDomainError(w, r, h.logger, "add pair", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token.Hex()})
}

// UpdateFees changes a pair's fees. Owner only.
// PUT /api/pairs/{token}/fees
func (h *ExchangeHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	var req feesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.dex.UpdateFees(r.Context(), caller, token, req.TradingFeeBps, req.LiquidityFeeBps); err != nil {
		writeDomainError(w, r, h.logger, "update fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetPairActive pauses or resumes a pair. Owner only.
// PUT /api/pairs/{token}/active
func (h *ExchangeHandler) SetPairActive(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.dex.SetPairActive(r.Context(), caller, token, req.Active); err != nil {
		writeDomainError(w, r, h.logger, "set pair active", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// UpdateFeeCollector changes where trading fees accrue. Owner only.
// PUT /api/exchange/fee-collector
func (h *ExchangeHandler) UpdateFeeCollector(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Collector string `json:"collector"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	collector, err := parseAddress(req.Collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, "collector: "+err.Error())
		return
	}
	if err := h.dex.UpdateFeeCollector(r.Context(), caller, collector); err != nil {
		writeDomainError(w, r, h.logger, "update fee collector", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collector": collector.Hex()})
}

// --- orders ---

type placeOrderRequest struct {
	Token    string    `json:"token"`
	Side     string    `json:"side"`
	Amount   fhe.Input `json:"amount"`
	Price    fhe.Input `json:"price"`
	Deadline time.Time `json:"deadline"`
}

// PlaceOrder books an encrypted limit order for the acting account.
// POST /api/orders
func (h *ExchangeHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	trader, ok := actor(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.dex.PlaceOrder(r.Context(), trader, token, side, req.Amount, req.Price, req.Deadline)
	if err != nil {
		writeDomainError(w, r, h.logger, "place order", err)
		return
	}
	o, err := h.dex.Order(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOrder(o))
}

// CancelOrder cancels one of the acting account's orders.
// DELETE /api/orders/{id}
func (h *ExchangeHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.dex.CancelOrder(r.Context(), id, caller); err != nil {
		writeDomainError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *ExchangeHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.dex.Order(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}

// ListOrders returns the orders of ?trader=, or of the acting account.
// GET /api/orders
func (h *ExchangeHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("trader")
	if raw == "" {
		raw = r.Header.Get(AccountHeader)
	}
	trader, err := parseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "trader: "+err.Error())
		return
	}
	orders, err := h.dex.Orders(r.Context(), trader)
	if err != nil {
		writeDomainError(w, r, h.logger, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": viewOrders(orders)})
}

// Book returns the open orders of one side of a pair, oldest first.
// GET /api/pairs/{token}/book?side=buy
func (h *ExchangeHandler) Book(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	side, err := domain.ParseOrderSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orders, err := h.dex.Book(r.Context(), token, side)
	if err != nil {
		writeDomainError(w, r, h.logger, "get book", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"side": side, "orders": viewOrders(orders)})
}

// --- balances ---

type transferRequest struct {
	Token  string  `json:"token,omitempty"`
	Amount *Amount `json:"amount"`
}

// asset resolves the request token; empty or "eth" selects native value.
func (req transferRequest) asset() (common.Address, error) {
	if req.Token == "" || req.Token == "eth" {
		return domain.NativeAsset, nil
	}
	return parseAddress(req.Token)
}

// Deposit moves tokens or ETH from the acting account's ledger balance
// into its encrypted exchange balance.
// POST /api/balances/deposit
func (h *ExchangeHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "deposit", h.dex.DepositTokens, h.dex.DepositETH)
}

// Withdraw moves a plaintext amount out of the encrypted exchange balance.
// POST /api/balances/withdraw
func (h *ExchangeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, "withdraw", h.dex.WithdrawTokens, h.dex.WithdrawETH)
}

func (h *ExchangeHandler) transfer(w http.ResponseWriter, r *http.Request, op string,
	tokens func(context.Context, common.Address, common.Address, *uint256.Int) error,
	eth func(context.Context, common.Address, *uint256.Int) error,
) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	asset, err := req.asset()
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	if asset == domain.NativeAsset {
		err = eth(r.Context(), who, req.Amount.Int)
	} else {
		err = tokens(r.Context(), who, asset, req.Amount.Int)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Balance returns the handle of an encrypted exchange balance. Use "eth" as
// the asset for native value.
// GET /api/balances/{account}/{asset}
func (h *ExchangeHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	asset, err := transferRequest{Token: r.PathValue("asset")}.asset()
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset: "+err.Error())
		return
	}
	bal, err := h.dex.Balance(r.Context(), account, asset)
	if err != nil {
		writeDomainError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"asset":   asset.Hex(),
		"handle":  bal.Handle.Hex(),
	})
}

// --- liquidity ---

// AddLiquidity deposits an encrypted token amount and attached ETH into a
// pool.
// POST /api/liquidity
func (h *ExchangeHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	provider, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Token  string    `json:"token"`
		Amount fhe.Input `json:"amount"`
		Value  *Amount   `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	id, err := h.dex.AddLiquidity(r.Context(), provider, token, req.Amount, req.Value.Int)
	if err != nil {
		writeDomainError(w, r, h.logger, "add liquidity", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"position_id": id})
}

// RemoveLiquidity withdraws a position.
// DELETE /api/liquidity/{id}
func (h *ExchangeHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	provider, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.dex.RemoveLiquidity(r.Context(), provider, id); err != nil {
		writeDomainError(w, r, h.logger, "remove liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// Positions lists the acting account's liquidity positions.
// GET /api/liquidity
func (h *ExchangeHandler) Positions(w http.ResponseWriter, r *http.Request) {
	provider, ok := actor(w, r)
	if !ok {
		return
	}
	ps, err := h.dex.Positions(r.Context(), provider)
	if err != nil {
		writeDomainError(w, r, h.logger, "list positions", err)
		return
	}
	out := make([]positionView, len(ps))
	for i, p := range ps {
		out[i] = positionView{
			ID:           p.ID,
			Provider:     p.Provider.Hex(),
			Token:        p.Token.Hex(),
			TokenHandle:  p.TokenAmount.Handle.Hex(),
			ETHHandle:    p.ETHAmount.Handle.Hex(),
			SharesHandle: p.Shares.Handle.Hex(),
			Removed:      p.Removed,
			CreatedAt:    p.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// Swap trades against a pool at the constant-product price.
// POST /api/swap
func (h *ExchangeHandler) Swap(w http.ResponseWriter, r *http.Request) {
	trader, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Token  string    `json:"token"`
		Side   string    `json:"side"`
		Amount fhe.Input `json:"amount"`
		MinOut fhe.Input `json:"min_out"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	side, err := domain.ParseOrderSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.dex.Swap(r.Context(), trader, token, side, req.Amount, req.MinOut)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output_handle": out.Handle.Hex()})
}
