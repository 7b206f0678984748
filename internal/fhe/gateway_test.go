package fhe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
)

func TestGatewayDeliversSignedResult(t *testing.T) {
	e, signer := newTestEngine(t)
	g := NewGateway(e, signer, GatewayConfig{})
	ctx := context.Background()

	a := e.Encrypt(uint256.NewInt(11))
	b := e.Encrypt(uint256.NewInt(22))

	var got Result
	id, err := g.RequestDecryption(ctx, Handles(a, b), func(_ context.Context, res Result) error {
		got = res
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Empty(t, got.Values, "callback must not run synchronously")
	require.Len(t, g.Pending(), 1)

	require.NoError(t, g.Fulfill(ctx, id))
	require.Equal(t, id, got.RequestID)
	require.EqualValues(t, 11, got.Values[0].Uint64())
	require.EqualValues(t, 22, got.Values[1].Uint64())
	require.Empty(t, g.Pending())

	raw := [][32]byte{a.Handle, b.Handle}
	v := crypto.NewVerifier(signer.Address(), testChainID)
	require.NoError(t, v.VerifyDecryption(id, raw, got.Values, got.Signature))

	require.ErrorIs(t, g.Fulfill(ctx, id), ErrUnknownRequest)
}

func TestGatewayRetriesUntilMaxAttempts(t *testing.T) {
	e, signer := newTestEngine(t)
	g := NewGateway(e, signer, GatewayConfig{MaxAttempts: 2})
	ctx := context.Background()

	var calls atomic.Int32
	id, err := g.RequestDecryption(ctx, Handles(e.Encrypt(uint256.NewInt(1))), func(context.Context, Result) error {
		calls.Add(1)
		return errors.New("settlement failed")
	})
	require.NoError(t, err)

	require.Error(t, g.Fulfill(ctx, id))
	require.Len(t, g.Pending(), 1)
	require.Equal(t, 1, g.Pending()[0].Attempts)

	require.Error(t, g.Fulfill(ctx, id))
	require.Empty(t, g.Pending())
	require.EqualValues(t, 2, calls.Load())
}

func TestGatewayDropsRequestsTheCallerForgot(t *testing.T) {
	e, signer := newTestEngine(t)
	g := NewGateway(e, signer, GatewayConfig{})
	ctx := context.Background()

	id, err := g.RequestDecryption(ctx, Handles(e.Encrypt(uint256.NewInt(1))), func(context.Context, Result) error {
		return ErrUnknownRequest
	})
	require.NoError(t, err)
	require.ErrorIs(t, g.Fulfill(ctx, id), ErrUnknownRequest)
	require.Empty(t, g.Pending())
}

func TestGatewayExpire(t *testing.T) {
	e, signer := newTestEngine(t)
	g := NewGateway(e, signer, GatewayConfig{})
	ctx := context.Background()

	id, err := g.RequestDecryption(ctx, Handles(e.Encrypt(uint256.NewInt(1))), func(context.Context, Result) error {
		t.Fatal("expired request delivered")
		return nil
	})
	require.NoError(t, err)
	require.True(t, g.Expire(id))
	require.False(t, g.Expire(id))
	require.ErrorIs(t, g.Fulfill(ctx, id), ErrUnknownRequest)
	require.ErrorIs(t, g.Deliver(ctx, Result{RequestID: id}), ErrUnknownRequest)
}

func TestGatewayFulfillDueRespectsDelay(t *testing.T) {
	e, signer := newTestEngine(t)
	now := time.Unix(1_700_000_000, 0)
	g := NewGateway(e, signer, GatewayConfig{FulfilDelay: 10 * time.Second},
		WithGatewayClock(func() time.Time { return now }))
	ctx := context.Background()

	delivered := 0
	_, err := g.RequestDecryption(ctx, Handles(e.Encrypt(uint256.NewInt(1))), func(context.Context, Result) error {
		delivered++
		return nil
	})
	require.NoError(t, err)

	require.Zero(t, g.FulfillDue(ctx))
	now = now.Add(10 * time.Second)
	require.Equal(t, 1, g.FulfillDue(ctx))
	require.Equal(t, 1, delivered)
}

func TestGatewayRejectsEmptyRequest(t *testing.T) {
	e, signer := newTestEngine(t)
	g := NewGateway(e, signer, GatewayConfig{})
	_, err := g.RequestDecryption(context.Background(), nil, func(context.Context, Result) error { return nil })
	require.Error(t, err)
}
