package hyperliquid

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// Perpetual prices carry at most five significant figures and at most
// 6-szDecimals decimal places; integer prices are always accepted.
const (
	maxSigFigs      = 5
	maxPerpDecimals = 6
)

// formatPrice renders px in the exchange's accepted precision.
func formatPrice(px float64, szDecimals int) string {
	if px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
		return "0"
	}
	places := maxSigFigs - 1 - int(math.Floor(math.Log10(px)))
	if limit := maxPerpDecimals - szDecimals; places > limit {
		places = limit
	}
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(px).Round(int32(places)).String()
}

// formatSize renders sz with szDecimals places.
func formatSize(sz float64, szDecimals int) string {
	return decimal.NewFromFloat(sz).Round(int32(szDecimals)).String()
}

// num parses a decimal string from the API. Empty or malformed input is 0.
func num(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func numPtr(s *string) float64 {
	if s == nil {
		return 0
	}
	return num(*s)
}

// toOrderWire converts an intent for the asset at index.
func toOrderWire(o domain.OrderIntent, index int, info assetInfo) (orderWire, error) {
	size := formatSize(o.Size, info.SzDecimals)
	if size == "0" {
		return orderWire{}, fmt.Errorf("hyperliquid: %s size %.10g: %w", o.Instrument, o.Size, domain.ErrSizeTooSmall)
	}
	w := orderWire{
		Asset:      index,
		IsBuy:      o.Side.IsBuy(),
		LimitPx:    formatPrice(o.Price, info.SzDecimals),
		Size:       size,
		ReduceOnly: o.ReduceOnly,
		Cloid:      strings.ToLower(o.ClientID),
	}
	if o.Trigger != nil {
		kind := o.Trigger.Kind
		if kind == "" {
			kind = domain.TriggerStopLoss
		}
		w.OrderType.Trigger = &triggerWire{
			IsMarket:  o.Trigger.IsMarket,
			TriggerPx: formatPrice(o.Trigger.Price, info.SzDecimals),
			Tpsl:      string(kind),
		}
	} else {
		tif := o.TIF
		if tif == "" {
			tif = domain.TIFGoodTillCancel
		}
		w.OrderType.Limit = &limitWire{Tif: string(tif)}
	}
	return w, nil
}

func (w openOrderWire) toDomain() domain.OpenOrder {
	side := domain.OrderSideSell
	if w.Side == "B" {
		side = domain.OrderSideBuy
	}
	o := domain.OpenOrder{
		Instrument:   w.Coin,
		OrderID:      w.Oid,
		Side:         side,
		LimitPrice:   num(w.LimitPx),
		Size:         num(w.Sz),
		ReduceOnly:   w.ReduceOnly,
		IsTrigger:    w.IsTrigger,
		TriggerPrice: num(w.TriggerPx),
		OrderType:    w.OrderType,
		PlacedAt:     time.UnixMilli(w.Timestamp).UTC(),
	}
	if w.Cloid != nil {
		o.ClientID = *w.Cloid
	}
	return o
}

func (s clearinghouseState) toDomain() domain.AccountState {
	acct := domain.AccountState{
		AccountValue: num(s.MarginSummary.AccountValue),
		MarginUsed:   num(s.MarginSummary.TotalMarginUsed),
		Withdrawable: num(s.Withdrawable),
		Time:         time.UnixMilli(s.Time).UTC(),
	}
	for _, ap := range s.AssetPositions {
		p := ap.Position
		acct.Positions = append(acct.Positions, domain.ExchangePosition{
			Instrument:       p.Coin,
			Size:             num(p.Szi),
			EntryPrice:       numPtr(p.EntryPx),
			UnrealizedPnL:    num(p.UnrealizedPnl),
			Leverage:         p.Leverage.Value,
			LiquidationPrice: numPtr(p.LiquidationPx),
		})
	}
	return acct
}

func (c candleWire) toDomain() domain.Candle {
	return domain.Candle{
		Instrument: c.Coin,
		Interval:   c.Interval,
		OpenTime:   time.UnixMilli(c.OpenTime).UTC(),
		CloseTime:  time.UnixMilli(c.CloseTime).UTC(),
		Open:       num(c.Open),
		High:       num(c.High),
		Low:        num(c.Low),
		Close:      num(c.Close),
		Volume:     num(c.Volume),
	}
}
