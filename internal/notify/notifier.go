// Package notify alerts operators about campaign outcomes and oracle
// trouble. Events are rendered into a title and key/value fields and handed
// to every configured sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

// DefaultKinds are the events forwarded when none are configured.
var DefaultKinds = []domain.EventKind{
	domain.EventCampaignSettled,
	domain.EventCampaignCancelled,
	domain.EventDecryptionExpired,
}

// Field is one labelled value of a message.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered notification.
type Message struct {
	Title  string
	Fields []Field
	// Severity is "info" or "warn".
	Severity string
}

// Sender delivers rendered messages to one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier filters events by kind and fans them out to its senders.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list selects DefaultKinds.
func NewNotifier(senders []Sender, kinds []domain.EventKind, logger *slog.Logger) *Notifier {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether events of kind are forwarded.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	return len(n.senders) > 0 && n.kinds[kind]
}

// Notify renders ev and sends it if its kind is selected. Every sender is
// tried; failures are joined.
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	if !n.Wants(ev.Kind) {
		return nil
	}
	msg := Render(ev)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// Render turns an event into a message. Attributes are listed in name order
// after the identifying fields.
func Render(ev domain.Event) Message {
	msg := Message{Severity: "info"}
	switch ev.Kind {
	case domain.EventCampaignSettled:
		msg.Title = fmt.Sprintf("Campaign #%d settled", ev.CampaignID)
	case domain.EventCampaignCancelled:
		msg.Title = fmt.Sprintf("Campaign #%d cancelled", ev.CampaignID)
		msg.Severity = "warn"
	case domain.EventDecryptionExpired:
		msg.Title = fmt.Sprintf("Decryption for campaign #%d expired", ev.CampaignID)
		msg.Severity = "warn"
	default:
		msg.Title = string(ev.Kind)
	}

	if ev.CampaignID != 0 {
		msg.Fields = append(msg.Fields, Field{"campaign", strconv.FormatUint(ev.CampaignID, 10)})
	}
	if ev.OrderID != 0 {
		msg.Fields = append(msg.Fields, Field{"order", strconv.FormatUint(ev.OrderID, 10)})
	}
	if ev.Token != nil {
		msg.Fields = append(msg.Fields, Field{"token", ev.Token.Hex()})
	}
	names := make([]string, 0, len(ev.Attrs))
	for k := range ev.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		msg.Fields = append(msg.Fields, Field{k, ev.Attrs[k]})
	}
	return msg
}
