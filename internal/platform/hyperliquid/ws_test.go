package hyperliquid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleMsg(open int64, closePx string) string {
	return `{"channel":"candle","data":{"t":` + strconv.FormatInt(open, 10) + `,"T":` + strconv.FormatInt(open+899_999, 10) +
		`,"s":"BTC","i":"15m","o":"100","c":"` + closePx + `","h":"110","l":"90","v":"1","n":3}}`
}

func TestCandleFeed_EmitsOnRollover(t *testing.T) {
	f := NewCandleFeed("", []string{"BTC"}, "15m", discardLogger())

	_, ok := f.handle([]byte(`{"channel":"subscriptionResponse","data":{}}`))
	assert.False(t, ok)

	_, ok = f.handle([]byte(candleMsg(900_000, "101")))
	assert.False(t, ok, "first update of a candle is still forming")
	_, ok = f.handle([]byte(candleMsg(900_000, "105")))
	assert.False(t, ok)

	c, ok := f.handle([]byte(candleMsg(1_800_000, "106")))
	require.True(t, ok)
	assert.Equal(t, 105.0, c.Close, "the last update of the closed candle is emitted")
	assert.Equal(t, time.UnixMilli(900_000).UTC(), c.OpenTime)

	_, ok = f.handle([]byte(candleMsg(900_000, "99")))
	assert.False(t, ok, "stale candles are ignored")
}

func TestCandleFeed_SubscribesAndStreams(t *testing.T) {
	subs := make(chan wsCommand, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		var cmd wsCommand
		if !assert.NoError(t, conn.ReadJSON(&cmd)) {
			return
		}
		subs <- cmd
		for _, m := range []string{candleMsg(0, "100"), candleMsg(900_000, "101"), candleMsg(1_800_000, "102")} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewCandleFeed(WSURL(srv.URL), []string{"BTC"}, "15m", discardLogger())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case cmd := <-subs:
		assert.Equal(t, "subscribe", cmd.Method)
		require.NotNil(t, cmd.Subscription)
		assert.Equal(t, "candle", cmd.Subscription.Type)
		assert.Equal(t, "BTC", cmd.Subscription.Coin)
		assert.Equal(t, "15m", cmd.Subscription.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	var closes []float64
	for len(closes) < 2 {
		select {
		case c := <-f.Candles():
			closes = append(closes, c.Close)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for candles")
		}
	}
	assert.Equal(t, []float64{100, 101}, closes)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not stop")
	}
}
