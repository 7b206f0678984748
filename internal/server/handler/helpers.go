// Package handler implements the HTTP endpoints of the launchpad node. The
// acting account is taken from the X-Account header; authentication of that
// header is the gateway's concern, not the handlers'.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// AccountHeader carries the acting account.
const AccountHeader = "X-Account"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrPhaseViolation),
		errors.Is(err, domain.ErrAlreadyDecrypted),
		errors.Is(err, domain.ErrDecryptionPending),
		errors.Is(err, domain.ErrDuplicatePair),
		errors.Is(err, domain.ErrOrderClosed),
		errors.Is(err, domain.ErrNothingToClaim),
		errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownRequest):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidParameters),
		errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrInvestmentBoundsViolated),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrPairNotSupported),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrInvalidProof),
		errors.Is(err, domain.ErrSlippage):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err with its mapped status. Unmapped errors are
// logged and hidden behind a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// decodeBody reads a JSON body, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// actor returns the account named by the X-Account header.
func actor(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	a, err := parseAddress(r.Header.Get(AccountHeader))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+AccountHeader+" header")
		return common.Address{}, false
	}
	return a, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// pathAddress parses an address path parameter.
func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	a, err := parseAddress(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, false
	}
	return a, true
}

// pathID parses a numeric path parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// Amount is a decimal wei string in JSON.
type Amount struct{ *uint256.Int }

// UnmarshalJSON accepts "123" or 123.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("amount %q: %w", s, err)
	}
	a.Int = v
	return nil
}

// MarshalJSON writes the decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`null`), nil
	}
	return json.Marshal(a.Dec())
}

func amountOf(v *uint256.Int) *Amount {
	if v == nil {
		return nil
	}
	return &Amount{v}
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
