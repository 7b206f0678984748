package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
	"github.com/alanyoungcy/confidentialpad/internal/service"
)

// History answers queries against the persisted projections.
type History interface {
	Campaigns(ctx context.Context, opts domain.ListOpts) ([]domain.Campaign, error)
	Orders(ctx context.Context, trader common.Address, opts domain.ListOpts) ([]domain.Order, error)
	Trades(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.Trade, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// HistoryHandler serves /api/history.
type HistoryHandler struct {
	history History
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history History, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger.With(slog.String("handler", "history"))}
}

func (h *HistoryHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, service.ErrHistoryDisabled) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeDomainError(w, r, h.logger, op, err)
}

// Campaigns lists recorded campaigns.
// GET /api/history/campaigns
func (h *HistoryHandler) Campaigns(w http.ResponseWriter, r *http.Request) {
	cs, err := h.history.Campaigns(r.Context(), parseListOpts(r))
	if err != nil {
		h.fail(w, r, "campaign history", err)
		return
	}
	out := make([]campaignView, len(cs))
	for i, c := range cs {
		out[i] = viewCampaign(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": out})
}

// Orders lists a trader's recorded orders.
// GET /api/history/orders/{trader}
func (h *HistoryHandler) Orders(w http.ResponseWriter, r *http.Request) {
	trader, ok := pathAddress(w, r, "trader")
	if !ok {
		return
	}
	orders, err := h.history.Orders(r.Context(), trader, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "order history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": viewOrders(orders)})
}

type tradeView struct {
	ID          string    `json:"id"`
	Token       string    `json:"token"`
	BuyOrderID  uint64    `json:"buy_order_id"`
	SellOrderID uint64    `json:"sell_order_id"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	SizeHandle  string    `json:"size_handle"`
	PriceHandle string    `json:"price_handle"`
	ValueHandle string    `json:"value_handle"`
	FeeHandle   string    `json:"fee_handle"`
	Timestamp   time.Time `json:"timestamp"`
}

// Trades lists matches on a pair.
// GET /api/history/trades/{token}
func (h *HistoryHandler) Trades(w http.ResponseWriter, r *http.Request) {
	token, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	trades, err := h.history.Trades(r.Context(), token, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "trade history", err)
		return
	}
	out := make([]tradeView, len(trades))
	for i, t := range trades {
		out[i] = tradeView{
			ID:          t.ID,
			Token:       t.Token.Hex(),
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			Buyer:       t.Buyer.Hex(),
			Seller:      t.Seller.Hex(),
			SizeHandle:  t.Size.Handle.Hex(),
			PriceHandle: t.Price.Handle.Hex(),
			ValueHandle: t.Value.Handle.Hex(),
			FeeHandle:   t.Fee.Handle.Hex(),
			Timestamp:   t.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// Audit lists audit log entries, newest first.
// GET /api/history/audit
func (h *HistoryHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		h.fail(w, r, "audit history", err)
		return
	}
	type entryView struct {
		ID        int64          `json:"id"`
		Event     string         `json:"event"`
		Detail    map[string]any `json:"detail"`
		CreatedAt time.Time      `json:"created_at"`
	}
	out := make([]entryView, len(entries))
	for i, e := range entries {
		out[i] = entryView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
