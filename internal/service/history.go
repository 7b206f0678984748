package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// ErrHistoryDisabled is returned when no database is configured.
var ErrHistoryDisabled = errors.New("history: persistence not configured")

const maxHistoryLimit = 500

// HistoryService answers read queries from the projections the Recorder
// maintains.
type HistoryService struct {
	campaigns domain.CampaignStore
	orders    domain.OrderStore
	trades    domain.TradeStore
	audit     domain.AuditStore
}

// NewHistoryService creates a HistoryService. With any store nil every
// query fails with ErrHistoryDisabled.
func NewHistoryService(campaigns domain.CampaignStore, orders domain.OrderStore, trades domain.TradeStore, audit domain.AuditStore) *HistoryService {
	return &HistoryService{campaigns: campaigns, orders: orders, trades: trades, audit: audit}
}

func (s *HistoryService) enabled() bool {
	return s.campaigns != nil && s.orders != nil && s.trades != nil && s.audit != nil
}

// Campaigns lists recorded campaigns.
func (s *HistoryService) Campaigns(ctx context.Context, opts domain.ListOpts) ([]domain.Campaign, error) {
	if !s.enabled() {
		return nil, ErrHistoryDisabled
	}
	out, err := s.campaigns.List(ctx, clampOpts(opts))
	if err != nil {
		return nil, fmt.Errorf("history: list campaigns: %w", err)
	}
	return out, nil
}

// Orders lists a trader's recorded orders.
func (s *HistoryService) Orders(ctx context.Context, trader common.Address, opts domain.ListOpts) ([]domain.Order, error) {
	if !s.enabled() {
		return nil, ErrHistoryDisabled
	}
	out, err := s.orders.ListByTrader(ctx, trader, clampOpts(opts))
	if err != nil {
		return nil, fmt.Errorf("history: list orders of %s: %w", trader.Hex(), err)
	}
	return out, nil
}

// Trades lists matches on a pair.
func (s *HistoryService) Trades(ctx context.Context, token common.Address, opts domain.ListOpts) ([]domain.Trade, error) {
	if !s.enabled() {
		return nil, ErrHistoryDisabled
	}
	out, err := s.trades.ListByToken(ctx, token, clampOpts(opts))
	if err != nil {
		return nil, fmt.Errorf("history: list trades of %s: %w", token.Hex(), err)
	}
	return out, nil
}

// Audit lists audit log entries, newest first.
func (s *HistoryService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if !s.enabled() {
		return nil, ErrHistoryDisabled
	}
	out, err := s.audit.List(ctx, clampOpts(opts))
	if err != nil {
		return nil, fmt.Errorf("history: list audit: %w", err)
	}
	return out, nil
}

func clampOpts(opts domain.ListOpts) domain.ListOpts {
	if opts.Limit <= 0 || opts.Limit > maxHistoryLimit {
		opts.Limit = maxHistoryLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
