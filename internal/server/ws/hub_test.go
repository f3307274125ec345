package ws

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

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

type staticPositions []domain.Position

func (s staticPositions) ListPositions() []domain.Position { return s }

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(staticPositions{{Instrument: "BTC", Direction: domain.DirectionLong, Size: 1}}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubSnapshotThenEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	snap := readEnvelope(t, conn)
	assert.Equal(t, "snapshot", snap["type"])
	require.Len(t, snap["payload"], 1)

	waitClients(t, hub, 1)
	require.NoError(t, hub.Handle(context.Background(), domain.LifecycleEvent{
		Event: domain.EventOpened, Instrument: "ETH", Time: time.Now(),
	}))

	ev := readEnvelope(t, conn)
	assert.Equal(t, domain.EventOpened, ev["type"])
	assert.Equal(t, "ETH", ev["instrument"])
}

func TestHubInstrumentFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	readEnvelope(t, conn)
	waitClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Instruments: []string{"sol"}}))
	// The subscription is applied asynchronously by the read pump.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if !c.subscribed("ETH") && c.subscribed("SOL") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Handle(context.Background(), domain.LifecycleEvent{Event: domain.EventUpdated, Instrument: "ETH"}))
	require.NoError(t, hub.Handle(context.Background(), domain.LifecycleEvent{Event: domain.EventClosed, Instrument: "SOL"}))

	ev := readEnvelope(t, conn)
	assert.Equal(t, domain.EventClosed, ev["type"])
	assert.Equal(t, "SOL", ev["instrument"])
}

func TestHubName(t *testing.T) {
	assert.Equal(t, "ws", NewHub(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).Name())
}
