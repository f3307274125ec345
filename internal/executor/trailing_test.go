package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

func ethLong() domain.Position {
	return domain.Position{
		Instrument: "ETH",
		Direction:  domain.DirectionLong,
		Size:       1,
		EntryPrice: 2000,
		StopLoss:   1950,
		TakeProfit: 2200,
		LastATR:    20,
	}
}

func TestAdvanceTrailingStop_BreakEvenOnFavorableCross(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	old := h.seed(t, ethLong())

	err := h.engine.AdvanceTrailingStop(context.Background(), "ETH", 2050, domain.Momentum{Cross: domain.CrossUp, ATR: 22})
	require.NoError(t, err)

	placeIdx := h.gw.opIndex("place:stop:2000")
	cancelIdx := h.gw.opIndex("cancel:")
	require.GreaterOrEqual(t, placeIdx, 0)
	require.GreaterOrEqual(t, cancelIdx, 0)
	assert.Less(t, placeIdx, cancelIdx, "new stop must be placed before the old one is cancelled")

	stops := h.gw.restingStops("ETH")
	require.Len(t, stops, 1)
	assert.InDelta(t, 2000, stops[0].TriggerPrice, 1e-9)
	assert.NotEqual(t, old.StopLossOrderRef.OrderID, stops[0].OrderID)

	pos, ok := h.store.Get("ETH")
	require.True(t, ok)
	assert.InDelta(t, 2000, pos.TrailingStop, 1e-9)
	assert.InDelta(t, 1950, pos.StopLoss, 1e-9)
	assert.True(t, pos.BreakEvenReached)
	assert.True(t, pos.TrailingActivated)
	assert.Equal(t, domain.PhaseActivating, pos.Phase)
	assert.InDelta(t, 22, pos.LastATR, 1e-9)
	assert.Equal(t, stops[0].OrderID, pos.StopLossOrderRef.OrderID)
	assert.Equal(t, []string{domain.EventUpdated}, h.emitter.names())
}

func TestAdvanceTrailingStop_ShortBreakEven(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, domain.Position{Instrument: "SOL", Direction: domain.DirectionShort, Size: 10, EntryPrice: 100, StopLoss: 105})

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "SOL", 95, domain.Momentum{Cross: domain.CrossDown, ATR: 2}))

	pos, _ := h.store.Get("SOL")
	assert.InDelta(t, 100, pos.TrailingStop, 1e-9)
	assert.Equal(t, domain.PhaseActivating, pos.Phase)
	stops := h.gw.restingStops("SOL")
	require.Len(t, stops, 1)
	assert.Equal(t, domain.OrderSideBuy, stops[0].Side)
}

func TestAdvanceTrailingStop_IgnoresUnhelpfulReadings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price float64
		mom   domain.Momentum
	}{
		{"no cross", 2050, domain.Momentum{}},
		{"adverse cross", 2050, domain.Momentum{Cross: domain.CrossDown}},
		{"favorable cross under water", 1990, domain.Momentum{Cross: domain.CrossUp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.seed(t, ethLong())

			require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "ETH", tt.price, tt.mom))
			assert.Empty(t, h.gw.placed)
			pos, _ := h.store.Get("ETH")
			assert.Equal(t, domain.PhaseInactive, pos.Phase)
			assert.False(t, pos.TrailingActivated)
		})
	}
}

func trailingLong() domain.Position {
	return domain.Position{
		Instrument:        "BTC",
		Direction:         domain.DirectionLong,
		Size:              1,
		EntryPrice:        90,
		StopLoss:          85,
		TrailingStop:      100,
		TrailingActivated: true,
		BreakEvenReached:  true,
		LastATR:           2,
		Phase:             domain.PhaseTrailing,
	}
}

func TestAdvanceTrailingStop_TrailsByATR(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, trailingLong())

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{}))

	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 107, pos.TrailingStop, 1e-9)
	assert.Equal(t, domain.PhaseTrailing, pos.Phase)
	stops := h.gw.restingStops("BTC")
	require.Len(t, stops, 1)
	assert.InDelta(t, 107, stops[0].TriggerPrice, 1e-9)
}

func TestAdvanceTrailingStop_UsesATRCapturedAtActivation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, trailingLong())

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{ATR: 3}))

	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 107, pos.TrailingStop, 1e-9)
	assert.InDelta(t, 2, pos.LastATR, 1e-9)
}

func TestAdvanceTrailingStop_AdoptsATRWhenNoneCaptured(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := trailingLong()
	p.LastATR = 0
	h.seed(t, p)

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{ATR: 4}))

	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 104, pos.TrailingStop, 1e-9)
	assert.InDelta(t, 4, pos.LastATR, 1e-9)
}

func TestAdvanceTrailingStop_FirstTrailLeavesActivating(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := trailingLong()
	p.Phase = domain.PhaseActivating
	h.seed(t, p)

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{ATR: 2}))
	pos, _ := h.store.Get("BTC")
	assert.Equal(t, domain.PhaseTrailing, pos.Phase)
}

func TestAdvanceTrailingStop_Deadband(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := trailingLong()
	p.TrailingStop = 107
	h.seed(t, p)

	// 107.1 is within 0.1% of 107.
	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110.1, domain.Momentum{}))
	assert.Empty(t, h.gw.placed)

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110.5, domain.Momentum{}))
	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 107.5, pos.TrailingStop, 1e-9)
}

func TestAdvanceTrailingStop_NeverLoosens(t *testing.T) {
	t.Parallel()

	for _, dir := range []domain.Direction{domain.DirectionLong, domain.DirectionShort} {
		t.Run(string(dir), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			p := trailingLong()
			p.Direction = dir
			if dir == domain.DirectionShort {
				p.EntryPrice, p.StopLoss, p.TrailingStop = 110, 115, 100
			}
			h.seed(t, p)

			prices := []float64{101, 104, 98, 110, 95, 112, 90, 103, 120, 85, 108}
			prev := p.TrailingStop
			for _, px := range prices {
				require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", px, domain.Momentum{ATR: 2}))
				pos, ok := h.store.Get("BTC")
				require.True(t, ok)
				if dir == domain.DirectionLong {
					assert.GreaterOrEqual(t, pos.TrailingStop, prev, "price %v", px)
				} else {
					assert.LessOrEqual(t, pos.TrailingStop, prev, "price %v", px)
				}
				prev = pos.TrailingStop
				assert.Len(t, h.gw.restingStops("BTC"), 1)
			}
		})
	}
}

func TestAdvanceTrailingStop_RejectedReplacementKeepsOldStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	seeded := h.seed(t, trailingLong())
	h.gw.script = []*scripted{reject("Invalid TP/SL price.")}

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{}))

	assert.Empty(t, h.gw.cancels)
	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 100, pos.TrailingStop, 1e-9)
	assert.Equal(t, seeded.StopLossOrderRef, pos.StopLossOrderRef)
	stops := h.gw.restingStops("BTC")
	require.Len(t, stops, 1)
	assert.Equal(t, seeded.StopLossOrderRef.OrderID, stops[0].OrderID)
}

func TestAdvanceTrailingStop_UnverifiedReplacementKeepsOldStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	seeded := h.seed(t, trailingLong())
	h.gw.hideTriggers = true
	h.gw.noOrderIDs = true

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{}))

	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 100, pos.TrailingStop, 1e-9)
	assert.Equal(t, seeded.StopLossOrderRef, pos.StopLossOrderRef)

	// The unverified replacement is cancelled by client id, never the old stop.
	require.Len(t, h.gw.cancels, 1)
	assert.Zero(t, h.gw.cancels[0].Ref.OrderID)
	assert.NotEqual(t, seeded.StopLossOrderRef.ClientID, h.gw.cancels[0].Ref.ClientID)
	stops := h.gw.restingStops("BTC")
	require.Len(t, stops, 1)
	assert.Equal(t, seeded.StopLossOrderRef.OrderID, stops[0].OrderID)
}

func TestAdvanceTrailingStop_OldCancelFailureStillAdvances(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, trailingLong())
	h.gw.cancelErr = errTransport

	require.NoError(t, h.engine.AdvanceTrailingStop(context.Background(), "BTC", 110, domain.Momentum{}))

	pos, _ := h.store.Get("BTC")
	assert.InDelta(t, 107, pos.TrailingStop, 1e-9)
	assert.Len(t, h.gw.restingStops("BTC"), 2)
}

func TestAdvanceTrailingStop_NoPosition(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	err := h.engine.AdvanceTrailingStop(context.Background(), "DOGE", 1, domain.Momentum{})
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}
