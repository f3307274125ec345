package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const (
	writeWait = 10 * time.Second

	// pongWait bounds the silence tolerated before the connection is
	// considered dead. The server sends candle updates far more often.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// WSURL derives the WebSocket endpoint from a REST base URL.
func WSURL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}

type wsSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin"`
	Interval string `json:"interval"`
}

type wsCommand struct {
	Method       string          `json:"method"`
	Subscription *wsSubscription `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// CandleFeed streams closed candles for a set of instruments. The exchange
// pushes the forming candle repeatedly; a candle is emitted once the next
// one starts.
type CandleFeed struct {
	url      string
	coins    []string
	interval string
	logger   *slog.Logger
	out      chan domain.Candle

	mu      sync.Mutex
	forming map[string]candleWire
}

// NewCandleFeed creates a feed for coins at interval (e.g. "15m").
func NewCandleFeed(wsURL string, coins []string, interval string, logger *slog.Logger) *CandleFeed {
	return &CandleFeed{
		url:      wsURL,
		coins:    coins,
		interval: interval,
		logger:   logger.With(slog.String("component", "hyperliquid_ws")),
		out:      make(chan domain.Candle, 256),
		forming:  make(map[string]candleWire),
	}
}

// Candles returns the channel closed candles are delivered on. It is closed
// when Run returns.
func (f *CandleFeed) Candles() <-chan domain.Candle { return f.out }

// Run keeps a subscription alive until ctx is cancelled, reconnecting with
// exponential backoff.
func (f *CandleFeed) Run(ctx context.Context) error {
	defer close(f.out)
	delay := reconnectDelay
	for {
		start := time.Now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(start) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.WarnContext(ctx, "candle feed disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session runs one connection until it fails or ctx ends.
func (f *CandleFeed) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("hyperliquid/ws: connect: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for _, coin := range f.coins {
		cmd := wsCommand{Method: "subscribe", Subscription: &wsSubscription{Type: "candle", Coin: coin, Interval: f.interval}}
		if err := write(cmd); err != nil {
			return fmt.Errorf("hyperliquid/ws: subscribe %s: %w", coin, err)
		}
	}
	f.logger.InfoContext(ctx, "candle feed connected", slog.Int("instruments", len(f.coins)), slog.String("interval", f.interval))

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				writeMu.Unlock()
				conn.Close()
				return
			case <-ticker.C:
				if err := write(wsCommand{Method: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("hyperliquid/ws: %w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if c, ok := f.handle(msg); ok {
			select {
			case f.out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handle parses one message and returns a candle that just closed.
func (f *CandleFeed) handle(raw []byte) (domain.Candle, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Channel != "candle" {
		return domain.Candle{}, false
	}
	var w candleWire
	if err := json.Unmarshal(env.Data, &w); err != nil {
		f.logger.Debug("unparseable candle", slog.String("error", err.Error()))
		return domain.Candle{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.forming[w.Coin]
	if ok && w.OpenTime < prev.OpenTime {
		return domain.Candle{}, false
	}
	f.forming[w.Coin] = w
	if ok && w.OpenTime > prev.OpenTime {
		return prev.toDomain(), true
	}
	return domain.Candle{}, false
}
