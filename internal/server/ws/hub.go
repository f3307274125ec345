// Package ws streams lifecycle events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// ErrHubFull is returned by Handle when the broadcast queue is full.
var ErrHubFull = errors.New("ws: broadcast queue full")

// PositionLister supplies the snapshot sent to each client on connect.
type PositionLister interface {
	ListPositions() []domain.Position
}

// envelope is the JSON frame sent to clients.
type envelope struct {
	Type       string    `json:"type"`
	Instrument string    `json:"instrument,omitempty"`
	Payload    any       `json:"payload"`
	Time       time.Time `json:"time"`
}

// subscribeMsg narrows the instruments a client receives. "*" means all.
//
//	{"action":"subscribe","instruments":["BTC","ETH"]}
type subscribeMsg struct {
	Action      string   `json:"action"`
	Instruments []string `json:"instruments"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

type broadcastMsg struct {
	instrument string
	data       []byte
}

// Hub fans lifecycle events out to connected clients. It is a notify sink.
type Hub struct {
	positions PositionLister
	upgrader  websocket.Upgrader
	logger    *slog.Logger

	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. allowedOrigins restricts the upgrade; empty allows
// every origin.
func NewHub(positions PositionLister, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		positions:  positions,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan broadcastMsg, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowedOrigins) == 0 || origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Name implements notify.Sink.
func (h *Hub) Name() string { return "ws" }

// Handle implements notify.Sink by queueing ev for every subscribed client.
func (h *Hub) Handle(_ context.Context, ev domain.LifecycleEvent) error {
	data, err := json.Marshal(envelope{Type: ev.Event, Instrument: ev.Instrument, Payload: ev, Time: ev.Time})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- broadcastMsg{instrument: ev.Instrument, data: data}:
		return nil
	default:
		return ErrHubFull
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.instrument) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{"*": true},
	}
	c.sendSnapshot()

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// sendSnapshot queues the open positions so a fresh client has state before
// the next event arrives.
func (c *client) sendSnapshot() {
	var positions []domain.Position
	if c.hub.positions != nil {
		positions = c.hub.positions.ListPositions()
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	data, err := json.Marshal(envelope{Type: "snapshot", Payload: positions, Time: time.Now().UTC()})
	if err != nil {
		return
	}
	c.send <- data
}

func (c *client) subscribed(instrument string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs["*"] || instrument == "" || c.subs[instrument]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		if len(msg.Instruments) > 0 {
			delete(c.subs, "*")
		}
		for _, inst := range msg.Instruments {
			c.subs[strings.ToUpper(inst)] = true
		}
	case "unsubscribe":
		for _, inst := range msg.Instruments {
			delete(c.subs, strings.ToUpper(inst))
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
