package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	got  []domain.Candle
	fail error
}

func (s *recordingSubmitter) Submit(_ context.Context, c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, c)
	return nil
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func candle(inst string, close float64) domain.Candle {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.Candle{
		Instrument: inst,
		Interval:   "15m",
		OpenTime:   t,
		CloseTime:  t.Add(15 * time.Minute),
		Open:       close,
		High:       close,
		Low:        close,
		Close:      close,
	}
}

func TestRouter_ObservesSubmitsAndPublishes(t *testing.T) {
	t.Parallel()

	ch := make(chan domain.Candle, 2)
	ch <- candle("BTC", 50000)
	ch <- candle("ETH", 3000)
	close(ch)

	sub := &recordingSubmitter{}
	bus := &recordingBus{}
	var observed []string
	r := NewRouter(ch, sub, bus, slog.New(slog.NewTextHandler(io.Discard, nil)),
		func(c domain.Candle) {
			// The observer must run before the runner sees the candle.
			assert.Len(t, sub.got, len(observed))
			observed = append(observed, c.Instrument)
		})

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"BTC", "ETH"}, observed)
	require.Len(t, sub.got, 2)
	assert.Equal(t, 3000.0, sub.got[1].Close)

	msgs := bus.published[CandlesChannel]
	require.Len(t, msgs, 2)
	var c domain.Candle
	require.NoError(t, json.Unmarshal(msgs[0], &c))
	assert.Equal(t, "BTC", c.Instrument)
}

func TestRouter_SubmitErrorStops(t *testing.T) {
	t.Parallel()

	ch := make(chan domain.Candle, 1)
	ch <- candle("BTC", 50000)

	boom := errors.New("runner stopped")
	r := NewRouter(ch, &recordingSubmitter{fail: boom}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRouter_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRouter(make(chan domain.Candle), &recordingSubmitter{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}
