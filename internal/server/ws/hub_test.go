package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/confidentialpad/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus { return &fakeBus{subs: make(map[string]chan []byte)} }

func (b *fakeBus) Publish(ctx context.Context, channel string, msg []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- msg
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEncodeFrameBinary(t *testing.T) {
	f := frame{channel: "ch:order", payload: []byte(`{"kind":"order.placed","order_id":7}`)}
	kind, data, err := encodeFrame(f, true)
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	m := st.AsMap()
	require.Equal(t, "ch:order", m["channel"])
	event := m["event"].(map[string]any)
	require.Equal(t, "order.placed", event["kind"])
	require.EqualValues(t, 7, event["order_id"])
}

func TestEncodeFrameJSON(t *testing.T) {
	kind, data, err := encodeFrame(frame{channel: "ch:pair", payload: []byte(`{"kind":"pair.swap"}`)}, false)
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.JSONEq(t, `{"channel":"ch:pair","event":{"kind":"pair.swap"}}`, string(data))

	_, _, err = encodeFrame(frame{channel: "ch:pair", payload: []byte(`not json`)}, false)
	require.Error(t, err)
}

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:order": true, "ch:camp*": true}}
	require.True(t, c.isSubscribed("ch:order"))
	require.True(t, c.isSubscribed("ch:campaign"))
	require.True(t, c.isSubscribed("status"))
	require.False(t, c.isSubscribed("ch:pair"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:order"}})
	require.False(t, c.isSubscribed("ch:order"))
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:pair"}})
	require.True(t, c.isSubscribed("ch:pair"))
}

func TestHubBridgesBusToClient(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(bus, quietLogger(), Config{Mode: "full"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return bus.subscribed() == len(Channels) }, time.Second, 5*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?format=json"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status struct {
		Channel string         `json:"channel"`
		Event   map[string]any `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, "status", status.Channel)
	require.Equal(t, "full", status.Event["mode"])

	require.NoError(t, bus.Publish(ctx, "ch:campaign", []byte(`{"kind":"campaign.launched","campaign_id":1}`)))
	var got struct {
		Channel string          `json:"channel"`
		Event   json.RawMessage `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "ch:campaign", got.Channel)
	require.JSONEq(t, `{"kind":"campaign.launched","campaign_id":1}`, string(got.Event))
}
