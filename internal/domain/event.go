package domain

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names an observable state change. The prefix before the dot
// selects the bus channel.
type EventKind string

const (
	EventCampaignLaunched   EventKind = "campaign.launched"
	EventInvestmentMade     EventKind = "campaign.investment"
	EventPhaseTransitioned  EventKind = "campaign.phase"
	EventCampaignSettled    EventKind = "campaign.settled"
	EventCampaignCancelled  EventKind = "campaign.cancelled"
	EventTokensClaimed      EventKind = "campaign.claimed"
	EventRefundClaimed      EventKind = "campaign.refunded"
	EventTokensReclaimed    EventKind = "campaign.reclaimed"
	EventDecryptionRequest  EventKind = "oracle.requested"
	EventDecryptionResolved EventKind = "oracle.resolved"
	EventDecryptionExpired  EventKind = "oracle.expired"
	EventOrderPlaced        EventKind = "order.placed"
	EventOrderMatched       EventKind = "order.matched"
	EventOrderCancelled     EventKind = "order.cancelled"
	EventPairAdded          EventKind = "pair.added"
	EventPairUpdated        EventKind = "pair.updated"
	EventPoolOpened         EventKind = "pair.pool_opened"
	EventLiquidityAdded     EventKind = "pair.liquidity_added"
	EventLiquidityRemoved   EventKind = "pair.liquidity_removed"
	EventSwap               EventKind = "pair.swap"
	EventDeposit            EventKind = "balance.deposit"
	EventWithdrawal         EventKind = "balance.withdrawal"
)

// Channel returns the pub/sub channel events of this kind are published on.
func (k EventKind) Channel() string {
	prefix, _, _ := strings.Cut(string(k), ".")
	return "ch:" + prefix
}

// Event is a public observation emitted by the launchpad or exchange. Attrs
// only ever carry public facts: handles, ids, phases and plaintext amounts
// that were already public (value sent, deposits).
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	CampaignID uint64            `json:"campaign_id,omitempty"`
	OrderID    uint64            `json:"order_id,omitempty"`
	Token      *common.Address   `json:"token,omitempty"`
	Account    *common.Address   `json:"account,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	At         time.Time         `json:"at"`

	// Snapshots for projections; not serialised onto the bus.
	Campaign *Campaign `json:"-"`
	Order    *Order    `json:"-"`
	Trade    *Trade    `json:"-"`
}

// EventSink receives events after the operation that produced them has
// committed. Emit must not block on I/O.
type EventSink interface {
	Emit(ctx context.Context, events ...Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(context.Context, ...Event) {}
