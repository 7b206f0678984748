// Package service holds the off-engine consumers of launchpad and exchange
// events: the recorder that projects them into storage and the bus, and the
// history queries served from those projections.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// EventStream is the Redis stream every event is appended to.
const EventStream = "events"

const defaultRecorderBuffer = 1024

// EventNotifier forwards selected events to operators.
type EventNotifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// RecorderDeps are the optional outputs of a Recorder; nil fields are
// skipped.
type RecorderDeps struct {
	Campaigns domain.CampaignStore
	Orders    domain.OrderStore
	Trades    domain.TradeStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Notifier  EventNotifier
}

// Recorder is an asynchronous domain.EventSink. Emit only enqueues; Run
// writes projections, the audit log, bus messages and notifications. When
// the queue is full events are dropped and counted.
type Recorder struct {
	deps   RecorderDeps
	queue  chan domain.Event
	logger *slog.Logger

	mu      sync.Mutex
	dropped uint64
}

var _ domain.EventSink = (*Recorder)(nil)

// NewRecorder creates a Recorder with a queue of buffer events; buffer <= 0
// uses a default.
func NewRecorder(deps RecorderDeps, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	return &Recorder{
		deps:   deps,
		queue:  make(chan domain.Event, buffer),
		logger: logger.With(slog.String("component", "recorder")),
	}
}

// Emit enqueues events without blocking.
func (r *Recorder) Emit(ctx context.Context, events ...domain.Event) {
	for _, ev := range events {
		select {
		case r.queue <- ev:
		default:
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			r.logger.WarnContext(ctx, "event queue full, dropping",
				slog.String("kind", string(ev.Kind)),
				slog.String("event_id", ev.ID),
			)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Run records events until ctx is cancelled, then drains what is already
// queued using a context that is no longer cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.Record(ctx, ev)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-r.queue:
					r.Record(drain, ev)
				default:
					return ctx.Err()
				}
			}
		}
	}
}

// Record writes a single event to every configured output. Failures are
// logged; one failing output does not stop the others.
func (r *Recorder) Record(ctx context.Context, ev domain.Event) {
	if err := r.project(ctx, ev); err != nil {
		r.warn(ctx, "projection failed", ev, err)
	}

	if r.deps.Audit != nil {
		if err := r.deps.Audit.Log(ctx, string(ev.Kind), auditDetail(ev)); err != nil {
			r.warn(ctx, "audit log failed", ev, err)
		}
	}

	if r.deps.Bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			r.warn(ctx, "encode event failed", ev, err)
		} else {
			if err := r.deps.Bus.Publish(ctx, ev.Kind.Channel(), payload); err != nil {
				r.warn(ctx, "publish failed", ev, err)
			}
			if err := r.deps.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
				r.warn(ctx, "stream append failed", ev, err)
			}
		}
	}

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Notify(ctx, ev); err != nil {
			r.warn(ctx, "notify failed", ev, err)
		}
	}
}

func (r *Recorder) project(ctx context.Context, ev domain.Event) error {
	if ev.Campaign != nil && r.deps.Campaigns != nil {
		if err := r.deps.Campaigns.Upsert(ctx, *ev.Campaign); err != nil {
			return fmt.Errorf("recorder: upsert campaign %d: %w", ev.Campaign.ID, err)
		}
	}
	if ev.Order != nil && r.deps.Orders != nil {
		if err := r.deps.Orders.Upsert(ctx, *ev.Order); err != nil {
			return fmt.Errorf("recorder: upsert order %d: %w", ev.Order.ID, err)
		}
	}
	if ev.Trade != nil && r.deps.Trades != nil {
		if err := r.deps.Trades.Insert(ctx, *ev.Trade); err != nil {
			return fmt.Errorf("recorder: insert trade %s: %w", ev.Trade.ID, err)
		}
	}
	return nil
}

func (r *Recorder) warn(ctx context.Context, msg string, ev domain.Event, err error) {
	r.logger.WarnContext(ctx, msg,
		slog.String("kind", string(ev.Kind)),
		slog.String("event_id", ev.ID),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.Event) map[string]any {
	d := map[string]any{"event_id": ev.ID}
	if ev.CampaignID != 0 {
		d["campaign_id"] = ev.CampaignID
	}
	if ev.OrderID != 0 {
		d["order_id"] = ev.OrderID
	}
	if ev.Token != nil {
		d["token"] = ev.Token.Hex()
	}
	if ev.Account != nil {
		d["account"] = ev.Account.Hex()
	}
	for k, v := range ev.Attrs {
		d[k] = v
	}
	return d
}
