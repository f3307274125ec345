package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

func btcLong() OpenRequest {
	return OpenRequest{
		Instrument: "BTC",
		Direction:  domain.DirectionLong,
		Size:       0.1,
		EntryPrice: 50_000,
		StopPrice:  49_000,
		TakeProfit: 53_000,
		ATR:        400,
		SignalID:   "sig-1",
	}
}

func TestOpenPosition_PlacesEntryThenStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000

	res, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.NoError(t, err)

	require.Len(t, h.gw.placed, 2)
	entry, stop := h.gw.placed[0], h.gw.placed[1]
	assert.Equal(t, domain.OrderSideBuy, entry.Side)
	assert.Equal(t, domain.TIFImmediateOrCancel, entry.TIF)
	assert.False(t, entry.ReduceOnly)

	require.NotNil(t, stop.Trigger)
	assert.True(t, stop.ReduceOnly)
	assert.Equal(t, domain.OrderSideSell, stop.Side)
	assert.InDelta(t, 49_000, stop.Trigger.Price, 1e-9)
	assert.InDelta(t, 0.1, stop.Size, 1e-12)

	pos, ok := h.store.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, res.StopRef, pos.StopLossOrderRef)
	assert.True(t, res.StopRef.HasOrderID())
	assert.Equal(t, domain.PhaseInactive, pos.Phase)
	assert.InDelta(t, 50_000, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 53_000, pos.TakeProfit, 1e-9)
	assert.Equal(t, "sig-1", pos.SignalID)
	assert.Equal(t, []string{domain.EventOpened}, h.emitter.names())
}

func TestOpenPosition_StopTransportFailureRollsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000
	h.gw.script = []*scripted{nil, transport()}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtectionFailed)
	assert.NotErrorIs(t, err, domain.ErrRollbackFailed)

	require.Len(t, h.gw.placed, 3)
	rb := h.gw.placed[2]
	assert.True(t, rb.ReduceOnly)
	assert.Nil(t, rb.Trigger)
	assert.Equal(t, domain.TIFImmediateOrCancel, rb.TIF)
	assert.Equal(t, domain.OrderSideSell, rb.Side)
	assert.InDelta(t, 0.1, rb.Size, 1e-12)

	assert.Zero(t, h.gw.position("BTC"))
	assert.Zero(t, h.store.Len())
	assert.Equal(t, []string{domain.EventRollback}, h.emitter.names())
}

func TestOpenPosition_StopRejectedRollsBackExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000
	h.gw.script = []*scripted{nil, reject("Invalid TP/SL price.")}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtectionFailed)
	assert.ErrorIs(t, err, domain.ErrRejected)

	var closes int
	for _, o := range h.gw.placed {
		if o.ReduceOnly && o.Trigger == nil {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	assert.Zero(t, h.store.Len())
}

func TestOpenPosition_EntryRejectedRisksNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.script = []*scripted{reject("Insufficient margin to place order.")}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEntryRejected)
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.Len(t, h.gw.placed, 1)
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.emitter.names())
}

func TestOpenPosition_EntryTransportFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.script = []*scripted{transport()}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEntryRejected)
	assert.ErrorIs(t, err, errTransport)
	assert.Len(t, h.gw.placed, 1)
}

func TestOpenPosition_UnverifiedStopWithoutIDRollsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000
	h.gw.hideTriggers = true
	h.gw.noOrderIDs = true

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtectionFailed)
	assert.ErrorIs(t, err, errStopUnverified)
	assert.Zero(t, h.gw.position("BTC"))
	assert.Zero(t, h.store.Len())

	require.Len(t, h.gw.cancels, 1)
	assert.True(t, strings.HasPrefix(h.gw.cancels[0].Ref.ClientID, "0x"))
}

func TestOpenPosition_AmbiguousVerificationProceeds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*fakeGateway)
	}{
		{"stop not listed", func(f *fakeGateway) { f.hideTriggers = true }},
		{"query failed", func(f *fakeGateway) { f.openOrdersErr = errTransport }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.gw.marks["BTC"] = 50_000
			tt.setup(h.gw)

			res, err := h.engine.OpenPosition(context.Background(), btcLong())
			require.NoError(t, err)
			assert.True(t, res.StopRef.HasOrderID())
			assert.Equal(t, 1, h.store.Len())
			assert.InDelta(t, 0.1, h.gw.position("BTC"), 1e-12)
		})
	}
}

func TestOpenPosition_RollbackFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000
	h.gw.script = []*scripted{nil, transport(), transport(), transport()}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtectionFailed)
	assert.ErrorIs(t, err, domain.ErrRollbackFailed)
	assert.Equal(t, []string{domain.EventRollbackFailed}, h.emitter.names())
	// Two attempts with the harness config.
	assert.Len(t, h.gw.placed, 4)
	assert.Zero(t, h.store.Len())
}

func TestOpenPosition_RollbackStopsWhenExchangeAlreadyFlat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000
	// The first rollback reaches the exchange but its reply is lost.
	h.gw.script = []*scripted{nil, transport(), {err: errTransport, apply: true}}

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProtectionFailed)
	assert.NotErrorIs(t, err, domain.ErrRollbackFailed)
	assert.Len(t, h.gw.placed, 3)
	assert.Zero(t, h.gw.position("BTC"))
	assert.Equal(t, []string{domain.EventRollback}, h.emitter.names())
}

func TestOpenPosition_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := btcLong()
	req.StopPrice = 51_000
	_, err := h.engine.OpenPosition(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	req = btcLong()
	req.Size = 0
	_, err = h.engine.OpenPosition(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Empty(t, h.gw.placed)
}

func TestOpenPosition_RefusesSecondPosition(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.marks["BTC"] = 50_000

	_, err := h.engine.OpenPosition(context.Background(), btcLong())
	require.NoError(t, err)
	_, err = h.engine.OpenPosition(context.Background(), btcLong())
	assert.ErrorIs(t, err, domain.ErrPositionExists)
}
