package fhe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/confidentialpad/internal/crypto"
)

// Result is a signed decryption delivered to the requester's callback.
type Result struct {
	RequestID uint64         `json:"request_id"`
	Handles   []Handle       `json:"handles"`
	Values    []*uint256.Int `json:"values"`
	Signature []byte         `json:"signature"`
}

// Callback receives a decryption result. A non-nil error keeps the request
// pending so it is retried on the next fulfilment pass.
type Callback func(ctx context.Context, res Result) error

// PendingRequest is a snapshot of an undelivered decryption request.
type PendingRequest struct {
	ID          uint64
	Handles     []Handle
	RequestedAt time.Time
	Attempts    int
}

type pendingRequest struct {
	PendingRequest
	callback Callback
	inFlight bool
}

// GatewayConfig tunes the local relayer.
type GatewayConfig struct {
	// FulfilDelay is how long a request waits before Run fulfils it.
	FulfilDelay time.Duration
	// MaxAttempts bounds callback retries; zero means unlimited.
	MaxAttempts int
	// PollInterval is the Run loop tick.
	PollInterval time.Duration
}

// Gateway is the asynchronous decryption boundary. Requests are queued in a
// pending table keyed by request id; callbacks never run inside
// RequestDecryption and never under the gateway's lock.
type Gateway struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingRequest

	kms    KMS
	signer *crypto.Signer
	cfg    GatewayConfig
	logger *slog.Logger
	now    func() time.Time
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayClock overrides the wall clock.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway that decrypts through kms and signs results
// with the oracle signer.
func NewGateway(kms KMS, signer *crypto.Signer, cfg GatewayConfig, opts ...GatewayOption) *Gateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	g := &Gateway{
		pending: make(map[uint64]*pendingRequest),
		kms:     kms,
		signer:  signer,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With(slog.String("component", "gateway"))
	return g
}

// RequestDecryption queues handles for decryption and returns the request id.
// Ids start at 1 and are never reused.
func (g *Gateway) RequestDecryption(ctx context.Context, handles []Handle, cb Callback) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(handles) == 0 || cb == nil {
		return 0, fmt.Errorf("fhe: request decryption: empty request")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.pending[id] = &pendingRequest{
		PendingRequest: PendingRequest{
			ID:          id,
			Handles:     append([]Handle(nil), handles...),
			RequestedAt: g.now(),
		},
		callback: cb,
	}
	g.logger.InfoContext(ctx, "decryption requested",
		slog.Uint64("request_id", id),
		slog.Int("handles", len(handles)),
	)
	return id, nil
}

// Fulfill decrypts, signs and delivers a single pending request.
func (g *Gateway) Fulfill(ctx context.Context, id uint64) error {
	req, err := g.claim(id)
	if err != nil {
		return err
	}

	res, err := g.resolve(ctx, req)
	if err != nil {
		g.release(id, err)
		return err
	}
	return g.deliver(ctx, req, res)
}

// Deliver hands an externally produced result to the matching callback. The
// callback is responsible for verifying the signature.
func (g *Gateway) Deliver(ctx context.Context, res Result) error {
	req, err := g.claim(res.RequestID)
	if err != nil {
		return err
	}
	return g.deliver(ctx, req, res)
}

// FulfillDue fulfils every request older than the configured delay and
// returns how many were delivered.
func (g *Gateway) FulfillDue(ctx context.Context) int {
	cutoff := g.now().Add(-g.cfg.FulfilDelay)
	delivered := 0
	for _, p := range g.Pending() {
		if p.RequestedAt.After(cutoff) {
			continue
		}
		if err := g.Fulfill(ctx, p.ID); err != nil {
			g.logger.WarnContext(ctx, "fulfil failed",
				slog.Uint64("request_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Run fulfils due requests until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.FulfillDue(ctx)
		}
	}
}

// Expire drops a pending request; later deliveries fail with
// ErrUnknownRequest. It reports whether the request was pending.
func (g *Gateway) Expire(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[id]; !ok {
		return false
	}
	delete(g.pending, id)
	return true
}

// Pending returns the undelivered requests ordered by id.
func (g *Gateway) Pending() []PendingRequest {
	g.mu.Lock()
	out := make([]PendingRequest, 0, len(g.pending))
	for _, p := range g.pending {
		cp := p.PendingRequest
		cp.Handles = append([]Handle(nil), p.Handles...)
		out = append(out, cp)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Gateway) claim(id uint64) (*pendingRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[id]
	if !ok || req.inFlight {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	req.inFlight = true
	req.Attempts++
	return req, nil
}

func (g *Gateway) resolve(ctx context.Context, req *pendingRequest) (Result, error) {
	values := make([]*uint256.Int, len(req.Handles))
	for i, h := range req.Handles {
		v, err := g.kms.Decrypt(ctx, h)
		if err != nil {
			return Result{}, fmt.Errorf("fhe: decrypt %s: %w", h, err)
		}
		values[i] = v
	}
	raw := make([][32]byte, len(req.Handles))
	for i, h := range req.Handles {
		raw[i] = h
	}
	sig, err := g.signer.SignDecryption(req.ID, raw, values)
	if err != nil {
		return Result{}, fmt.Errorf("fhe: sign result: %w", err)
	}
	return Result{
		RequestID: req.ID,
		Handles:   append([]Handle(nil), req.Handles...),
		Values:    values,
		Signature: sig,
	}, nil
}

func (g *Gateway) deliver(ctx context.Context, req *pendingRequest, res Result) error {
	if err := req.callback(ctx, res); err != nil {
		if errors.Is(err, ErrUnknownRequest) {
			// The requester no longer recognises the id; retrying cannot help.
			g.Expire(req.ID)
		} else {
			g.release(req.ID, err)
		}
		return fmt.Errorf("fhe: deliver %d: %w", req.ID, err)
	}
	g.mu.Lock()
	delete(g.pending, req.ID)
	g.mu.Unlock()
	g.logger.InfoContext(ctx, "decryption delivered", slog.Uint64("request_id", req.ID))
	return nil
}

// release returns a failed request to the table, or drops it once it has
// used up its attempts.
func (g *Gateway) release(id uint64, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[id]
	if !ok {
		return
	}
	req.inFlight = false
	if g.cfg.MaxAttempts > 0 && req.Attempts >= g.cfg.MaxAttempts {
		delete(g.pending, id)
		g.logger.Error("decryption request abandoned",
			slog.Uint64("request_id", id),
			slog.Int("attempts", req.Attempts),
			slog.String("error", cause.Error()),
		)
	}
}
