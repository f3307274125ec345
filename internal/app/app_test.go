package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winder87-stack/SuperSignal-sub000/internal/config"
	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

func paperConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.Server.Enabled = false
	return &cfg
}

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer) {
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	out := &bytes.Buffer{}
	a.out = out
	return a, out
}

func TestWire_PaperModeNeedsNoBackends(t *testing.T) {
	t.Parallel()

	deps, cleanup, err := Wire(context.Background(), paperConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Paper)
	assert.Same(t, deps.Paper, deps.Gateway)
	assert.Equal(t, "paper", deps.Account)
	assert.NotNil(t, deps.Exchange)
	assert.NotNil(t, deps.Notifier)
	assert.Nil(t, deps.TradeStore)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Checks)
}

func TestWire_ReconcileUsesVaultAccount(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Mode = "reconcile"
	cfg.Account.Address = "0xabc"
	cfg.Account.Vault = "0xdef"

	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Paper)
	assert.Equal(t, "0xdef", deps.Account)
}

func TestWire_TradeModeRequiresKey(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Account.Address = "0xabc"

	_, _, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "load key")
}

func TestReconcileMode_PrintsAdoptedPositions(t *testing.T) {
	t.Parallel()

	cfg := paperConfig()
	a, out := newTestApp(cfg)
	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	// An unprotected long left over from a previous run.
	deps.Paper.SetMark("BTC", 50_000)
	res, err := deps.Paper.PlaceOrders(context.Background(), []domain.OrderIntent{{
		Instrument: "BTC",
		Side:       domain.OrderSideBuy,
		Price:      51_000,
		Size:       0.2,
		TIF:        domain.TIFImmediateOrCancel,
	}}, domain.GroupingNone)
	require.NoError(t, err)
	require.NoError(t, res.Err("entry"))

	require.NoError(t, a.ReconcileMode(context.Background(), deps))

	var got struct {
		Account   string            `json:"account"`
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "paper", got.Account)
	require.Len(t, got.Positions, 1)
	p := got.Positions[0]
	assert.Equal(t, "BTC", p.Instrument)
	assert.Equal(t, domain.DirectionLong, p.Direction)
	assert.InDelta(t, 0.2, p.Size, 1e-9)
	assert.Equal(t, 50_000.0, p.StopLoss, "missing stop defaults to entry")
	assert.True(t, strings.HasPrefix(p.SignalID, "reconciled-"))
}

func TestReconcileMode_EmptyAccount(t *testing.T) {
	t.Parallel()

	cfg := paperConfig()
	a, out := newTestApp(cfg)
	deps, cleanup, err := Wire(context.Background(), cfg, a.logger)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, a.ReconcileMode(context.Background(), deps))
	assert.Contains(t, out.String(), `"positions": []`)
}

func TestRun_RejectsUnknownMode(t *testing.T) {
	t.Parallel()

	cfg := paperConfig()
	cfg.Mode = "backtest"
	a, _ := newTestApp(cfg)
	defer a.Close()

	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

func TestConfigMappings(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	ec := engineConfig(cfg.Engine, "0xabc")
	assert.Equal(t, "0xabc", ec.Account)
	assert.Equal(t, cfg.Engine.EntryTimeout.Duration, ec.EntryTimeout)
	assert.Equal(t, 1.5, ec.TrailATRMultiplier)
	assert.Equal(t, 0.001, ec.Deadband)

	sc := signalConfig(cfg.Signal)
	assert.Equal(t, 14, sc.KPeriod)
	assert.Equal(t, cfg.Signal.Cooldown.Duration, sc.Cooldown)
	assert.Equal(t, 200, sc.WarmupBars)

	rp := riskPolicy(cfg.Risk)
	assert.Equal(t, 0.01, rp.RiskPct)
	assert.Equal(t, 3, rp.MaxPositions)

	assert.Equal(t, "lock:account:0xabc", accountLockKey("0xABC"))
}
