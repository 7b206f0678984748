// Package fhe models a fully homomorphic encryption coprocessor as a set of
// opaque ciphertext handles and a capability interface over them.
//
// Callers never see plaintexts. The only synchronous disclosure is Reveal on
// an encrypted boolean; aggregate values are disclosed asynchronously through
// a Gateway whose results are signed by the oracle key.
package fhe

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned when an encrypted input's proof does not
	// bind it to the submitting account or the handle is unknown.
	ErrInvalidInput = errors.New("fhe: invalid encrypted input")
	// ErrUnknownHandle is returned by the KMS for handles it never issued.
	ErrUnknownHandle = errors.New("fhe: unknown ciphertext handle")
	// ErrUnknownRequest is returned for decryption requests that are not
	// pending (already delivered, expired or never issued).
	ErrUnknownRequest = errors.New("fhe: unknown decryption request")
)

// Handle is the 32-byte reference to a ciphertext held by the coprocessor.
type Handle [32]byte

// Hex returns the 0x-prefixed hex form of the handle.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string { return h.Hex() }

// IsZero reports whether the handle was never assigned.
func (h Handle) IsZero() bool { return h == Handle{} }

// ParseHandle decodes a 0x-prefixed 32-byte hex string.
func ParseHandle(s string) (Handle, error) {
	var h Handle
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("fhe: parse handle: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("fhe: parse handle: want 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := ParseHandle(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Uint is an encrypted 256-bit unsigned integer.
type Uint struct{ Handle Handle }

// Bool is an encrypted boolean.
type Bool struct{ Handle Handle }

// Input is an encrypted value submitted by an account, together with the
// proof that binds the ciphertext to that account.
type Input struct {
	Handle Handle `json:"handle"`
	Proof  []byte `json:"proof"`
}

// Handles extracts the raw handles of a list of ciphertexts, in order.
func Handles(vs ...Uint) []Handle {
	out := make([]Handle, len(vs))
	for i, v := range vs {
		out[i] = v.Handle
	}
	return out
}
