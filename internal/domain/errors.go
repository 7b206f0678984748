package domain

import (
	"errors"

	"github.com/alanyoungcy/confidentialpad/internal/fhe"
)

var (
	ErrInvalidParameters        = errors.New("invalid parameters")
	ErrPhaseViolation           = errors.New("operation not allowed in current phase")
	ErrAmountMismatch           = errors.New("encrypted amount does not match value sent")
	ErrInvestmentBoundsViolated = errors.New("investment outside allowed bounds")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrAlreadyDecrypted         = errors.New("campaign already decrypted")
	ErrNothingToClaim           = errors.New("nothing to claim")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrPairNotSupported         = errors.New("trading pair not supported")
	ErrFeeTooHigh               = errors.New("fee too high")
	ErrDuplicatePair            = errors.New("trading pair already exists")

	ErrNotFound          = errors.New("not found")
	ErrDecryptionPending = errors.New("decryption already pending")
	ErrInvalidProof      = errors.New("invalid oracle proof")
	ErrOrderClosed       = errors.New("order no longer open")
	ErrSlippage          = errors.New("output below minimum")
	ErrReentrantCall     = errors.New("reentrant call")
	ErrLockHeld          = errors.New("lock already held")
	ErrRateLimited       = errors.New("rate limited")

	// ErrUnknownRequest is shared with the gateway so a requester rejecting
	// a stale id stops redelivery.
	ErrUnknownRequest = fhe.ErrUnknownRequest
)
