package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CampaignStore persists the read model of campaigns.
type CampaignStore interface {
	Upsert(ctx context.Context, c Campaign) error
	GetByID(ctx context.Context, id uint64) (Campaign, error)
	List(ctx context.Context, opts ListOpts) ([]Campaign, error)
}

// OrderStore persists the read model of exchange orders.
type OrderStore interface {
	Upsert(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id uint64) (Order, error)
	ListByTrader(ctx context.Context, trader common.Address, opts ListOpts) ([]Order, error)
}

// TradeStore persists matches.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByToken(ctx context.Context, token common.Address, opts ListOpts) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
