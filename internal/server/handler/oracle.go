package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

// Relayer is the decryption gateway.
type Relayer interface {
	Deliver(ctx context.Context, res fhe.Result) error
	Pending() []fhe.PendingRequest
}

// Encrypter produces client inputs. Only the local engine can do this
// server-side; it is wired in dev mode.
type Encrypter interface {
	EncryptInput(owner common.Address, v *uint256.Int) (fhe.Input, error)
}

// OracleHandler serves the decryption callback and input helpers.
type OracleHandler struct {
	relayer   Relayer
	encrypter Encrypter
	logger    *slog.Logger
}

// NewOracleHandler creates an OracleHandler. encrypter may be nil.
func NewOracleHandler(relayer Relayer, encrypter Encrypter, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{relayer: relayer, encrypter: encrypter, logger: logger.With(slog.String("handler", "oracle"))}
}

// Callback delivers a signed decryption result produced off-node.
// POST /api/oracle/callback
func (h *OracleHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var res fhe.Result
	if !decodeBody(w, r, &res) {
		return
	}
	if len(res.Handles) != len(res.Values) {
		writeError(w, http.StatusBadRequest, "handles and values differ in length")
		return
	}
	if err := h.relayer.Deliver(r.Context(), res); err != nil {
		writeDomainError(w, r, h.logger, "deliver decryption", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"request_id": res.RequestID})
}

type pendingView struct {
	ID          uint64    `json:"id"`
	Handles     []string  `json:"handles"`
	RequestedAt time.Time `json:"requested_at"`
	Attempts    int       `json:"attempts"`
}

// Pending lists undelivered decryption requests.
// GET /api/oracle/pending
func (h *OracleHandler) Pending(w http.ResponseWriter, r *http.Request) {
	reqs := h.relayer.Pending()
	out := make([]pendingView, len(reqs))
	for i, p := range reqs {
		hs := make([]string, len(p.Handles))
		for j, hd := range p.Handles {
			hs[j] = hd.Hex()
		}
		out[i] = pendingView{ID: p.ID, Handles: hs, RequestedAt: p.RequestedAt, Attempts: p.Attempts}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

// Encrypt returns an input proof for value, bound to the acting account.
// POST /api/inputs
func (h *OracleHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	if h.encrypter == nil {
		writeError(w, http.StatusNotFound, "input encryption disabled")
		return
	}
	owner, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Value *Amount `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	in, err := h.encrypter.EncryptInput(owner, req.Value.Int)
	if err != nil {
		writeDomainError(w, r, h.logger, "encrypt input", err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
