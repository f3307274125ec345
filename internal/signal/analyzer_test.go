package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var t0 = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func bar(i int, closePx float64) domain.Candle {
	open := t0.Add(time.Duration(i) * 15 * time.Minute)
	return domain.Candle{
		Instrument: "BTC",
		Interval:   "15m",
		OpenTime:   open,
		CloseTime:  open.Add(15*time.Minute - time.Millisecond),
		Open:       closePx,
		High:       closePx + 0.5,
		Low:        closePx - 0.5,
		Close:      closePx,
	}
}

// trend feeds n bars moving step per bar and returns the last index and close.
func trend(a *Analyzer, n int, start, step float64) (int, float64) {
	px := start
	for i := 0; i < n; i++ {
		px = start + float64(i)*step
		a.Update(bar(i, px))
	}
	return n - 1, px
}

func TestAnalyzer_NotReadyBeforeWarmUp(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	for i := 0; i < 10; i++ {
		sig, m := a.Update(bar(i, 100-float64(i)))
		assert.Nil(t, sig)
		assert.Equal(t, domain.Momentum{}, m)
	}
	assert.False(t, a.Ready())
	assert.Equal(t, domain.ExitNone, a.Exit(domain.Position{Direction: domain.DirectionLong}))
}

func TestAnalyzer_LongSignalOnOversoldCross(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	last, px := trend(a, 30, 200, -1)
	require.True(t, a.Ready())

	sig, m := a.Update(bar(last+1, px+2))
	require.NotNil(t, sig)
	assert.Equal(t, domain.DirectionLong, sig.Direction)
	assert.Equal(t, px+2, sig.EntryPrice)
	assert.InDelta(t, 1.5714, sig.ATR, 0.01)
	assert.InDelta(t, sig.EntryPrice-2*sig.ATR, sig.StopPrice, 1e-9)
	assert.InDelta(t, sig.EntryPrice+4*sig.ATR, sig.TakeProfit, 1e-9)
	assert.Equal(t, "BTC-long-"+itoa(bar(last+1, 0).OpenTime.UnixMilli()), sig.ID)
	assert.Equal(t, domain.CrossNone, m.Cross)
	assert.Equal(t, sig.ATR, m.ATR)
}

func TestAnalyzer_ShortSignalOnOverboughtCross(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	last, px := trend(a, 30, 100, 1)

	sig, _ := a.Update(bar(last+1, px-2))
	require.NotNil(t, sig)
	assert.Equal(t, domain.DirectionShort, sig.Direction)
	assert.Greater(t, sig.StopPrice, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
}

func TestAnalyzer_MidpointCrossUp(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	last, px := trend(a, 30, 200, -1)

	var crosses []domain.Cross
	for i := 1; i <= 10; i++ {
		_, m := a.Update(bar(last+i, px+2*float64(i)))
		if m.Cross != domain.CrossNone {
			crosses = append(crosses, m.Cross)
		}
	}
	assert.Equal(t, []domain.Cross{domain.CrossUp}, crosses)
}

func TestAnalyzer_CooldownSuppressesEntries(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	last, px := trend(a, 30, 200, -1)

	a.StartCooldown()
	sig, m := a.Update(bar(last+1, px+2))
	assert.Nil(t, sig)
	assert.Positive(t, m.ATR, "momentum is still reported while cooling down")
}

func TestAnalyzer_IgnoresReplayedCandles(t *testing.T) {
	t.Parallel()
	a := NewAnalyzer("BTC", DefaultConfig())
	last, px := trend(a, 30, 200, -1)

	atr := a.ATR()
	sig, m := a.Update(bar(last, px+50))
	assert.Nil(t, sig)
	assert.Equal(t, atr, m.ATR)
	assert.Equal(t, atr, a.ATR())
}

func TestAnalyzer_Exit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		dir       domain.Direction
		partial   bool
		prev, cur reading
		want      domain.ExitKind
	}{
		{"long neutral", domain.DirectionLong, false, reading{k: 50, d: 45}, reading{k: 60, d: 50}, domain.ExitNone},
		{"long overbought", domain.DirectionLong, false, reading{k: 75, d: 70}, reading{k: 85, d: 78}, domain.ExitPartial},
		{"long overbought after partial", domain.DirectionLong, true, reading{k: 75, d: 70}, reading{k: 85, d: 78}, domain.ExitNone},
		{"long reversal", domain.DirectionLong, true, reading{k: 92, d: 88}, reading{k: 84, d: 87}, domain.ExitFull},
		{"short oversold", domain.DirectionShort, false, reading{k: 25, d: 30}, reading{k: 15, d: 22}, domain.ExitPartial},
		{"short reversal", domain.DirectionShort, false, reading{k: 8, d: 12}, reading{k: 16, d: 13}, domain.ExitFull},
		{"short neutral", domain.DirectionShort, false, reading{k: 60, d: 62}, reading{k: 55, d: 58}, domain.ExitNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAnalyzer("BTC", DefaultConfig())
			a.ready, a.prev, a.cur = true, tt.prev, tt.cur
			got := a.Exit(domain.Position{Direction: tt.dir, PartialExitTaken: tt.partial})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_HistoryCoversIndicators(t *testing.T) {
	t.Parallel()
	cfg := Config{KPeriod: 50, SlowKPeriod: 5, SlowDPeriod: 5, HistorySize: 10}.withDefaults()
	assert.GreaterOrEqual(t, cfg.HistorySize, cfg.minBars())
	assert.Equal(t, 59, cfg.minBars())
}
