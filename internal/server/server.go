package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/server/handler"
	"github.com/alanyoungcy/confidentialpad/internal/server/middleware"
	"github.com/alanyoungcy/confidentialpad/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. History,
// Ledger and Oracle may be nil; their routes are then not mounted.
type Handlers struct {
	Health    *handler.HealthHandler
	Campaigns *handler.CampaignHandler
	Exchange  *handler.ExchangeHandler
	Ledger    *handler.LedgerHandler
	Oracle    *handler.OracleHandler
	History   *handler.HistoryHandler
}

// Server is the HTTP + WebSocket API of the launchpad node.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	c := handlers.Campaigns
	mux.HandleFunc("GET /api/campaigns", c.List)
	mux.HandleFunc("POST /api/campaigns", c.Launch)
	mux.HandleFunc("GET /api/campaigns/{id}", c.Get)
	mux.HandleFunc("POST /api/campaigns/{id}/invest", c.Invest)
	mux.HandleFunc("POST /api/campaigns/{id}/advance", c.Advance)
	mux.HandleFunc("POST /api/campaigns/{id}/decrypt", c.RequestDecryption)
	mux.HandleFunc("POST /api/campaigns/{id}/claim", c.Claim)
	mux.HandleFunc("POST /api/campaigns/{id}/refund", c.Refund)
	mux.HandleFunc("POST /api/campaigns/{id}/reclaim", c.Reclaim)
	mux.HandleFunc("POST /api/campaigns/{id}/cancel", c.Cancel)
	mux.HandleFunc("GET /api/campaigns/{id}/investments", c.Investments)
	mux.HandleFunc("GET /api/campaigns/{id}/report", c.Report)
	mux.HandleFunc("GET /api/campaigns/{id}/report/investments", c.ReportInvestments)

	x := handlers.Exchange
	mux.HandleFunc("GET /api/pairs", x.ListPairs)
	mux.HandleFunc("POST /api/pairs", x.AddPair)
	mux.HandleFunc("GET /api/pairs/{token}", x.GetPair)
	mux.HandleFunc("PUT /api/pairs/{token}/fees", x.UpdateFees)
	mux.HandleFunc("PUT /api/pairs/{token}/active", x.SetPairActive)
	mux.HandleFunc("GET /api/pairs/{token}/book", x.Book)
	mux.HandleFunc("PUT /api/exchange/fee-collector", x.UpdateFeeCollector)
	mux.HandleFunc("GET /api/orders", x.ListOrders)
	mux.HandleFunc("POST /api/orders", x.PlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", x.GetOrder)
	mux.HandleFunc("DELETE /api/orders/{id}", x.CancelOrder)
	mux.HandleFunc("POST /api/balances/deposit", x.Deposit)
	mux.HandleFunc("POST /api/balances/withdraw", x.Withdraw)
	mux.HandleFunc("GET /api/balances/{account}/{asset}", x.Balance)
	mux.HandleFunc("GET /api/liquidity", x.Positions)
	mux.HandleFunc("POST /api/liquidity", x.AddLiquidity)
	mux.HandleFunc("DELETE /api/liquidity/{id}", x.RemoveLiquidity)
	mux.HandleFunc("POST /api/swap", x.Swap)

	if l := handlers.Ledger; l != nil {
		mux.HandleFunc("POST /api/ledger/approve", l.Approve)
		mux.HandleFunc("GET /api/ledger/tokens/{token}/{account}", l.TokenBalance)
		mux.HandleFunc("GET /api/ledger/native/{account}", l.NativeBalance)
		mux.HandleFunc("POST /api/dev/fund", l.Fund)
	}
	if o := handlers.Oracle; o != nil {
		mux.HandleFunc("POST /api/oracle/callback", o.Callback)
		mux.HandleFunc("GET /api/oracle/pending", o.Pending)
		mux.HandleFunc("POST /api/inputs", o.Encrypt)
	}
	if hh := handlers.History; hh != nil {
		mux.HandleFunc("GET /api/history/campaigns", hh.Campaigns)
		mux.HandleFunc("GET /api/history/orders/{trader}", hh.Orders)
		mux.HandleFunc("GET /api/history/trades/{token}", hh.Trades)
		mux.HandleFunc("GET /api/history/audit", hh.Audit)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
