package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/server/ws"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// hello frame
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"hello"`)
	return conn
}

func TestHub_RoutesEventsByMarket(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), ws.Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	all := dial(t, srv, "")
	onlyB := dial(t, srv, "?markets=b")

	// Registration is asynchronous; give the hub loop a moment.
	time.Sleep(50 * time.Millisecond)

	for _, id := range []string{"a", "b"} {
		payload, err := json.Marshal(domain.MarketEvent{Type: domain.EventTrade, MarketID: id})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "market:"+id, payload))
	}

	readID := func(conn *websocket.Conn) string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev domain.MarketEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev.MarketID
	}

	assert.Equal(t, "a", readID(all))
	assert.Equal(t, "b", readID(all))
	assert.Equal(t, "b", readID(onlyB))
}

func TestHub_SubscribeControl(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := ws.NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), ws.Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv, "?markets=a")
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "markets": []string{"b"}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "markets": []string{"a"}}))
	time.Sleep(50 * time.Millisecond)

	for _, id := range []string{"a", "b"} {
		payload, err := json.Marshal(domain.MarketEvent{Type: domain.EventTrade, MarketID: id})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, "market:"+id, payload))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev domain.MarketEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "b", ev.MarketID)
}
