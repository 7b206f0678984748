package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type captureSender struct {
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, m Message) error {
	c.msgs = append(c.msgs, m)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersKinds(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, nil, quietLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, domain.Event{Kind: domain.EventOrderPlaced, OrderID: 1}))
	require.Empty(t, s.msgs)

	require.NoError(t, n.Notify(ctx, domain.Event{
		Kind:       domain.EventCampaignCancelled,
		CampaignID: 4,
		Attrs:      map[string]string{"reason": "target_missed", "private_raised": "10"},
	}))
	require.Len(t, s.msgs, 1)
	m := s.msgs[0]
	require.Equal(t, "Campaign #4 cancelled", m.Title)
	require.Equal(t, "warn", m.Severity)
	require.Equal(t, []Field{
		{"campaign", "4"},
		{"private_raised", "10"},
		{"reason", "target_missed"},
	}, m.Fields)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	ok := &captureSender{}
	bad := &captureSender{err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, ok}, []domain.EventKind{domain.EventSwap}, quietLogger())

	err := n.Notify(context.Background(), domain.Event{Kind: domain.EventSwap})
	require.ErrorContains(t, err, "boom")
	require.Len(t, ok.msgs, 1)
	require.False(t, n.Wants(domain.EventCampaignSettled))
}

func TestNotifierWithoutSendersWantsNothing(t *testing.T) {
	n := NewNotifier(nil, nil, quietLogger())
	require.False(t, n.Wants(domain.EventCampaignSettled))
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, "pad")
	d.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	tok := common.HexToAddress("0x70")
	msg := Render(domain.Event{Kind: domain.EventCampaignSettled, CampaignID: 9, Token: &tok})
	require.NoError(t, d.Send(context.Background(), msg))

	require.Equal(t, "pad", got.Username)
	require.Len(t, got.Embeds, 1)
	require.Equal(t, "Campaign #9 settled", got.Embeds[0].Title)
	require.Equal(t, colorInfo, got.Embeds[0].Color)
	require.Equal(t, "2026-03-01T12:00:00Z", got.Embeds[0].Timestamp)
	require.Equal(t, "token", got.Embeds[0].Fields[1].Name)
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), Message{Title: "x"})
	require.ErrorContains(t, err, "unexpected status 429")
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var path string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegramSender("abc", "42")
	tg.apiBase = srv.URL
	err := tg.Send(context.Background(), Message{
		Title:    "Campaign #2 cancelled",
		Severity: "warn",
		Fields:   []Field{{"campaign", "2"}},
	})
	require.NoError(t, err)
	require.Equal(t, "/botabc/sendMessage", path)
	require.Equal(t, "42", got["chat_id"])
	require.Equal(t, "*Campaign #2 cancelled* (warning)\ncampaign: 2", got["text"])
}
