package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// Faucet funds accounts on a development ledger.
type Faucet interface {
	Mint(token, account common.Address, amount *uint256.Int)
	Credit(account common.Address, amount *uint256.Int)
}

// LedgerHandler exposes the public token and native ledgers.
type LedgerHandler struct {
	tokens domain.TokenLedger
	value  domain.ValueLedger
	faucet Faucet
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler. faucet is nil outside dev mode.
func NewLedgerHandler(tokens domain.TokenLedger, value domain.ValueLedger, faucet Faucet, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{tokens: tokens, value: value, faucet: faucet, logger: logger.With(slog.String("handler", "ledger"))}
}

// Approve sets the acting account's allowance for spender.
// POST /api/ledger/approve
func (h *LedgerHandler) Approve(w http.ResponseWriter, r *http.Request) {
	owner, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Token   string  `json:"token"`
		Spender string  `json:"spender"`
		Amount  *Amount `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "token: "+err.Error())
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, "spender: "+err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	if err := h.tokens.Approve(r.Context(), token, owner, spender, req.Amount.Int); err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// TokenBalance returns a public token balance.
// GET /api/ledger/tokens/{token}/{account}
func (h *LedgerHandler) TokenBalance(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	bal, err := h.tokens.BalanceOf(r.Context(), token, account)
	if err != nil {
		writeDomainError(w, r, h.logger, "token balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Amount{"balance": amountOf(bal)})
}

// NativeBalance returns a public native balance.
// GET /api/ledger/native/{account}
func (h *LedgerHandler) NativeBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := pathAddress(w, r, "account")
	if !ok {
		return
	}
	bal, err := h.value.BalanceOf(r.Context(), account)
	if err != nil {
		writeDomainError(w, r, h.logger, "native balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*Amount{"balance": amountOf(bal)})
}

// Fund mints tokens, or credits native value when token is empty.
// POST /api/dev/fund
func (h *LedgerHandler) Fund(w http.ResponseWriter, r *http.Request) {
	if h.faucet == nil {
		writeError(w, http.StatusNotFound, "faucet disabled")
		return
	}
	var req struct {
		Account string  `json:"account"`
		Token   string  `json:"token,omitempty"`
		Amount  *Amount `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "account: "+err.Error())
		return
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}
	if req.Token == "" {
		h.faucet.Credit(account, req.Amount.Int)
	} else {
		token, err := parseAddress(req.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "token: "+err.Error())
			return
		}
		h.faucet.Mint(token, account, req.Amount.Int)
	}
	h.logger.InfoContext(r.Context(), "account funded",
		slog.String("account", account.Hex()),
		slog.String("token", req.Token),
		slog.String("amount", req.Amount.Dec()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}
