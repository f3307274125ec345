package hyperliquid

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// LoadMeta fetches the perpetuals universe and caches asset indices and
// size precision.
func (c *Client) LoadMeta(ctx context.Context) error {
	var meta metaResponse
	if err := c.info(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return fmt.Errorf("hyperliquid: meta: %w", err)
	}
	assets := make(map[string]asset, len(meta.Universe))
	for i, a := range meta.Universe {
		assets[a.Name] = asset{index: i, info: a}
	}
	c.assetsMu.Lock()
	c.assets = assets
	c.assetsMu.Unlock()
	return nil
}

// asset resolves an instrument, loading metadata on first use.
func (c *Client) asset(ctx context.Context, instrument string) (asset, error) {
	c.assetsMu.RLock()
	a, ok := c.assets[instrument]
	loaded := c.assets != nil
	c.assetsMu.RUnlock()
	if ok {
		return a, nil
	}
	if !loaded {
		if err := c.LoadMeta(ctx); err != nil {
			return asset{}, err
		}
		c.assetsMu.RLock()
		a, ok = c.assets[instrument]
		c.assetsMu.RUnlock()
		if ok {
			return a, nil
		}
	}
	return asset{}, fmt.Errorf("hyperliquid: instrument %q: %w", instrument, domain.ErrNotFound)
}

// SizeDecimals returns the size precision of instrument.
func (c *Client) SizeDecimals(ctx context.Context, instrument string) (int, error) {
	a, err := c.asset(ctx, instrument)
	if err != nil {
		return 0, err
	}
	return a.info.SzDecimals, nil
}

// OpenOrders lists resting orders, including triggers, for account.
func (c *Client) OpenOrders(ctx context.Context, account string) ([]domain.OpenOrder, error) {
	var wire []openOrderWire
	body := map[string]any{"type": "frontendOpenOrders", "user": strings.ToLower(account)}
	if err := c.info(ctx, body, &wire); err != nil {
		return nil, fmt.Errorf("hyperliquid: open orders: %w", err)
	}
	orders := make([]domain.OpenOrder, 0, len(wire))
	for _, w := range wire {
		orders = append(orders, w.toDomain())
	}
	return orders, nil
}

// AccountState returns margin summary and positions for account.
func (c *Client) AccountState(ctx context.Context, account string) (domain.AccountState, error) {
	var st clearinghouseState
	body := map[string]any{"type": "clearinghouseState", "user": strings.ToLower(account)}
	if err := c.info(ctx, body, &st); err != nil {
		return domain.AccountState{}, fmt.Errorf("hyperliquid: account state: %w", err)
	}
	return st.toDomain(), nil
}

// Mark returns the current mid price of instrument.
func (c *Client) Mark(ctx context.Context, instrument string) (float64, error) {
	var mids map[string]string
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return 0, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	raw, ok := mids[instrument]
	if !ok {
		return 0, fmt.Errorf("hyperliquid: mid %q: %w", instrument, domain.ErrNotFound)
	}
	px, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("hyperliquid: mid %q: %w", instrument, err)
	}
	return px, nil
}

// Candles returns candles for instrument between start and end, oldest
// first. The exchange serves at most 5000 per request.
func (c *Client) Candles(ctx context.Context, instrument, interval string, start, end time.Time) ([]domain.Candle, error) {
	var wire []candleWire
	body := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      instrument,
			"interval":  interval,
			"startTime": start.UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	if err := c.info(ctx, body, &wire); err != nil {
		return nil, fmt.Errorf("hyperliquid: candles %s %s: %w", instrument, interval, err)
	}
	out := make([]domain.Candle, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}
