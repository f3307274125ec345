package executor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

type stubAnalyzer struct {
	mu          sync.Mutex
	signal      *domain.Signal
	mom         domain.Momentum
	exit        domain.ExitKind
	panicOnExit bool
	closes      []float64
}

func (a *stubAnalyzer) Update(c domain.Candle) (*domain.Signal, domain.Momentum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes = append(a.closes, c.Close)
	return a.signal, a.mom
}

func (a *stubAnalyzer) Exit(domain.Position) domain.ExitKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicOnExit {
		panic("indicator buffer empty")
	}
	if a.exit == "" {
		return domain.ExitNone
	}
	return a.exit
}

func (a *stubAnalyzer) seen() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.closes...)
}

type stubSource struct {
	mu sync.Mutex
	m  map[string]*stubAnalyzer
}

func (s *stubSource) Context(instrument string) Analyzer {
	return s.get(instrument)
}

func (s *stubSource) get(instrument string) *stubAnalyzer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]*stubAnalyzer)
	}
	a, ok := s.m[instrument]
	if !ok {
		a = &stubAnalyzer{}
		s.m[instrument] = a
	}
	return a
}

type stubSizer struct {
	usd  float64
	deny string
}

func (s stubSizer) SizeFor(_, _, _ float64) float64 { return s.usd }

func (s stubSizer) Allowed(string, float64, float64, int) domain.RiskDecision {
	if s.deny != "" {
		return domain.RiskDecision{Reason: s.deny}
	}
	return domain.RiskDecision{OK: true}
}

func newRunner(h *harness, src *stubSource, sizer stubSizer) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(h.engine, src, sizer, RunnerConfig{QueueSize: 4}, logger)
}

func candle(inst string, px float64) domain.Candle {
	return domain.Candle{Instrument: inst, Open: px, High: px, Low: px, Close: px, CloseTime: time.Now()}
}

func solSignal(id string) *domain.Signal {
	return &domain.Signal{ID: id, Instrument: "SOL", Direction: domain.DirectionLong, EntryPrice: 100, StopPrice: 95, TakeProfit: 120, ATR: 2}
}

func TestRunner_RefusesToRunBeforeReconcile(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := newRunner(h, &stubSource{}, stubSizer{usd: 1000})

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReconciled)
	assert.Error(t, r.Submit(context.Background(), candle("SOL", 100)))
}

func TestRunner_EntersOnSignal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["SOL"] = 100
	src := &stubSource{}
	src.get("SOL").signal = solSignal("sol-1")
	r := newRunner(h, src, stubSizer{usd: 1000})

	require.NoError(t, r.Process(context.Background(), candle("SOL", 100)))

	pos, ok := h.store.Get("SOL")
	require.True(t, ok)
	assert.InDelta(t, 10, pos.Size, 1e-9)
	assert.InDelta(t, 95, pos.StopLoss, 1e-9)
	assert.Equal(t, "sol-1", pos.SignalID)
}

func TestRunner_RiskRejectionPlacesNothing(t *testing.T) {
	t.Parallel()

	for name, sizer := range map[string]stubSizer{
		"zero size":     {usd: 0},
		"limit reached": {usd: 1000, deny: "max positions"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			src := &stubSource{}
			src.get("SOL").signal = solSignal("sol-1")

			require.NoError(t, newRunner(h, src, sizer).Process(context.Background(), candle("SOL", 100)))
			assert.Empty(t, h.gw.placed)
			assert.Zero(t, h.store.Len())
		})
	}
}

func TestRunner_DuplicateSignalIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["SOL"] = 100
	src := &stubSource{}
	an := src.get("SOL")
	an.signal = solSignal("sol-1")
	r := newRunner(h, src, stubSizer{usd: 1000})

	require.NoError(t, r.Process(context.Background(), candle("SOL", 100)))
	_, err := h.engine.ClosePosition(context.Background(), "SOL", 100, domain.CloseReasonManual)
	require.NoError(t, err)
	placed := len(h.gw.placed)

	require.NoError(t, r.Process(context.Background(), candle("SOL", 100)))
	assert.Len(t, h.gw.placed, placed)
	assert.Zero(t, h.store.Len())
}

func TestRunner_FullExitShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, ethLong())
	src := &stubSource{}
	an := src.get("ETH")
	an.exit = domain.ExitFull
	an.mom = domain.Momentum{Cross: domain.CrossUp, ATR: 20}
	r := newRunner(h, src, stubSizer{usd: 1000})

	require.NoError(t, r.Process(context.Background(), candle("ETH", 2050)))

	assert.Zero(t, h.store.Len())
	assert.Equal(t, -1, h.gw.opIndex("place:stop"), "no trailing after a full exit")
	assert.Empty(t, h.cooldowns.started)
}

func TestRunner_PartialThenTrailing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, ethLong())
	src := &stubSource{}
	an := src.get("ETH")
	an.exit = domain.ExitPartial
	an.mom = domain.Momentum{Cross: domain.CrossUp, ATR: 20}
	r := newRunner(h, src, stubSizer{usd: 1000})

	require.NoError(t, r.Process(context.Background(), candle("ETH", 2050)))

	pos, ok := h.store.Get("ETH")
	require.True(t, ok)
	assert.InDelta(t, 0.5, pos.Size, 1e-12)
	assert.True(t, pos.PartialExitTaken)
	assert.InDelta(t, 2000, pos.TrailingStop, 1e-9)
	stops := h.gw.restingStops("ETH")
	require.Len(t, stops, 1)
	assert.InDelta(t, 0.5, stops[0].Size, 1e-12)
}

func TestRunner_TakeProfitCloses(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, ethLong())
	r := newRunner(h, &stubSource{}, stubSizer{})

	require.NoError(t, r.Process(context.Background(), candle("ETH", 2200)))
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.cooldowns.started)
}

func TestRunner_StopBreachStartsCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, ethLong())
	h.gw.positions["ETH"] = 0
	r := newRunner(h, &stubSource{}, stubSizer{})

	c := candle("ETH", 1960)
	c.Low = 1945
	require.NoError(t, r.Process(context.Background(), c))
	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{"ETH"}, h.cooldowns.started)
}

func TestRunner_ReconciledMissingStopIsClosedOnNextUpdate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.positions["SOL"] = 10
	h.gw.marks["SOL"] = 150
	require.NoError(t, h.engine.ReconcileFromExchange(context.Background()))
	require.Equal(t, 1, h.store.Len())

	r := newRunner(h, &stubSource{}, stubSizer{})
	require.NoError(t, r.Process(context.Background(), candle("SOL", 152)))

	assert.Zero(t, h.store.Len())
	assert.Zero(t, h.gw.position("SOL"))
	assert.Contains(t, h.emitter.names(), domain.EventEmergency)
}

func TestRunner_PanicRunsFallbackCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, ethLong())
	src := &stubSource{}
	src.get("ETH").panicOnExit = true
	r := newRunner(h, src, stubSizer{})

	err := r.Process(context.Background(), candle("ETH", 2010))
	require.ErrorContains(t, err, "panic")
	assert.Equal(t, 1, h.store.Len(), "stop is resting, position survives")
	assert.Equal(t, 0, h.gw.opIndex("open_orders"))
}

func TestRunner_SerializesPerInstrument(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.engine.Reconcile(context.Background(), domain.AccountState{}, nil))
	src := &stubSource{}
	r := newRunner(h, src, stubSizer{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-r.Started():
	case <-time.After(time.Second):
		t.Fatal("runner did not start")
	}
	require.NoError(t, r.Submit(ctx, candle("BTC", 1)))
	for i := 2; i <= 20; i++ {
		require.NoError(t, r.Submit(ctx, candle("BTC", float64(i))))
		require.NoError(t, r.Submit(ctx, candle("ETH", float64(i))))
	}

	require.Eventually(t, func() bool {
		return len(src.get("BTC").seen()) == 20 && len(src.get("ETH").seen()) == 19
	}, 2*time.Second, 5*time.Millisecond)

	btc := src.get("BTC").seen()
	for i, v := range btc {
		assert.InDelta(t, float64(i+1), v, 1e-9)
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
