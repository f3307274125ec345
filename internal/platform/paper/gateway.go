// Package paper is an in-memory exchange for paper trading. It fills
// marketable orders at the last candle close and triggers resting stops when
// a candle trades through them.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
)

var _ executor.Gateway = (*Gateway)(nil)

const (
	msgNoLiquidity  = "Order could not immediately match against any resting orders."
	msgReduceOnly   = "Reduce only order would increase position."
	msgNoPrice      = "No mark price for instrument."
	msgCancelFailed = "Order was never placed, already canceled, or filled."
)

type holding struct {
	size  float64 // signed
	entry float64
}

// Gateway simulates the subset of the exchange the engine uses.
type Gateway struct {
	mu       sync.Mutex
	cash     float64
	feeRate  float64
	marks    map[string]float64
	holdings map[string]*holding
	orders   []domain.OpenOrder
	nextOID  int64
	now      func() time.Time
	logger   *slog.Logger
}

// NewGateway creates a paper exchange with the given starting balance. fee
// is charged on the notional of every fill.
func NewGateway(balance, fee float64, logger *slog.Logger) *Gateway {
	return &Gateway{
		cash:     balance,
		feeRate:  fee,
		marks:    make(map[string]float64),
		holdings: make(map[string]*holding),
		nextOID:  1,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "paper")),
	}
}

// OnCandle advances the simulated market: resting orders the candle traded
// through are filled, then the mark moves to the close. It returns the ids
// of orders that filled.
func (g *Gateway) OnCandle(c domain.Candle) []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var filled []int64
	kept := g.orders[:0]
	for _, o := range g.orders {
		px, hit := touched(o, c)
		if o.Instrument != c.Instrument || !hit {
			kept = append(kept, o)
			continue
		}
		size := o.Size
		if o.ReduceOnly {
			size = g.reducible(o.Instrument, o.Side, size)
		}
		if size > 0 {
			g.fill(o.Instrument, o.Side, size, px)
			g.logger.Info("resting order filled",
				slog.String("instrument", o.Instrument),
				slog.Int64("oid", o.OrderID),
				slog.Float64("price", px),
				slog.Float64("size", size),
			)
		}
		filled = append(filled, o.OrderID)
	}
	g.orders = kept
	g.marks[c.Instrument] = c.Close
	return filled
}

// touched reports whether candle c reached order o and at which price.
func touched(o domain.OpenOrder, c domain.Candle) (float64, bool) {
	if o.IsTrigger {
		// A sell stop protects a long and fires on the way down.
		if o.Side == domain.OrderSideSell && c.Low <= o.TriggerPrice {
			return math.Min(o.TriggerPrice, c.Open), true
		}
		if o.Side == domain.OrderSideBuy && c.High >= o.TriggerPrice {
			return math.Max(o.TriggerPrice, c.Open), true
		}
		return 0, false
	}
	if o.Side == domain.OrderSideBuy && c.Low <= o.LimitPrice {
		return o.LimitPrice, true
	}
	if o.Side == domain.OrderSideSell && c.High >= o.LimitPrice {
		return o.LimitPrice, true
	}
	return 0, false
}

// SetMark sets the price marketable orders fill at.
func (g *Gateway) SetMark(instrument string, price float64) {
	g.mu.Lock()
	g.marks[instrument] = price
	g.mu.Unlock()
}

// Mark returns the last price seen for instrument.
func (g *Gateway) Mark(_ context.Context, instrument string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	px, ok := g.marks[instrument]
	if !ok {
		return 0, fmt.Errorf("paper: mark %q: %w", instrument, domain.ErrNotFound)
	}
	return px, nil
}

// PlaceOrders executes or rests each order in turn.
func (g *Gateway) PlaceOrders(ctx context.Context, orders []domain.OrderIntent, _ domain.Grouping) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	if len(orders) == 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: place orders: %w: empty batch", domain.ErrInvalidOrder)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	res := domain.OrderResult{Status: "ok"}
	for _, o := range orders {
		res.Statuses = append(res.Statuses, g.place(o))
	}
	return res, nil
}

func (g *Gateway) place(o domain.OrderIntent) domain.OrderStatus {
	if o.Size <= 0 {
		return domain.OrderStatus{Error: "Order has zero size."}
	}
	size := o.Size
	if o.ReduceOnly {
		size = g.reducible(o.Instrument, o.Side, size)
		if size <= 0 {
			return domain.OrderStatus{Error: msgReduceOnly}
		}
	}

	if o.Trigger != nil {
		return domain.OrderStatus{Resting: true, OrderID: g.rest(o, size)}
	}

	mark, ok := g.marks[o.Instrument]
	if !ok || mark <= 0 {
		return domain.OrderStatus{Error: msgNoPrice}
	}
	marketable := (o.Side.IsBuy() && o.Price >= mark) || (!o.Side.IsBuy() && o.Price <= mark)
	if !marketable {
		if o.TIF == domain.TIFImmediateOrCancel {
			return domain.OrderStatus{Error: msgNoLiquidity}
		}
		return domain.OrderStatus{Resting: true, OrderID: g.rest(o, size)}
	}

	oid := g.nextOID
	g.nextOID++
	g.fill(o.Instrument, o.Side, size, mark)
	return domain.OrderStatus{Filled: true, OrderID: oid, FilledSize: size, AvgPrice: mark}
}

func (g *Gateway) rest(o domain.OrderIntent, size float64) int64 {
	oid := g.nextOID
	g.nextOID++
	open := domain.OpenOrder{
		Instrument: o.Instrument,
		OrderID:    oid,
		ClientID:   strings.ToLower(o.ClientID),
		Side:       o.Side,
		LimitPrice: o.Price,
		Size:       size,
		ReduceOnly: o.ReduceOnly,
		OrderType:  "Limit",
		PlacedAt:   g.now().UTC(),
	}
	if o.Trigger != nil {
		open.IsTrigger = true
		open.TriggerPrice = o.Trigger.Price
		open.OrderType = "Stop Market"
		if o.Trigger.Kind == domain.TriggerTakeProfit {
			open.OrderType = "Take Profit Market"
		}
	}
	g.orders = append(g.orders, open)
	return oid
}

// reducible clamps size to what reduces the current holding.
func (g *Gateway) reducible(instrument string, side domain.OrderSide, size float64) float64 {
	h, ok := g.holdings[instrument]
	if !ok || h.size == 0 {
		return 0
	}
	if (h.size > 0) == side.IsBuy() {
		return 0
	}
	return math.Min(size, math.Abs(h.size))
}

// fill applies a trade to the holding and the cash balance.
func (g *Gateway) fill(instrument string, side domain.OrderSide, size, price float64) {
	delta := size
	if !side.IsBuy() {
		delta = -size
	}
	g.cash -= size * price * g.feeRate

	h, ok := g.holdings[instrument]
	if !ok {
		h = &holding{}
		g.holdings[instrument] = h
	}
	switch {
	case h.size == 0 || (h.size > 0) == (delta > 0):
		total := h.size + delta
		h.entry = (h.entry*math.Abs(h.size) + price*size) / math.Abs(total)
		h.size = total
	default:
		closed := math.Min(math.Abs(delta), math.Abs(h.size))
		sign := 1.0
		if h.size < 0 {
			sign = -1
		}
		g.cash += (price - h.entry) * closed * sign
		h.size += delta
		if math.Abs(h.size) < 1e-12 {
			delete(g.holdings, instrument)
		} else if (h.size > 0) != (sign > 0) {
			// Flipped through zero: the remainder opened at price.
			h.entry = price
		}
	}
}

// CancelOrders removes resting orders by exchange id or client id.
func (g *Gateway) CancelOrders(ctx context.Context, refs []domain.CancelRef) (domain.CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.CancelResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	res := domain.CancelResult{Status: "ok"}
	for _, r := range refs {
		status := msgCancelFailed
		for i, o := range g.orders {
			if o.Instrument == r.Instrument && r.Ref.Matches(o) {
				g.orders = append(g.orders[:i], g.orders[i+1:]...)
				status = "success"
				break
			}
		}
		res.Statuses = append(res.Statuses, status)
	}
	return res, nil
}

// OpenOrders lists resting orders. The account is ignored.
func (g *Gateway) OpenOrders(ctx context.Context, _ string) ([]domain.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.OpenOrder(nil), g.orders...), nil
}

// AccountState marks holdings to the last price.
func (g *Gateway) AccountState(ctx context.Context, _ string) (domain.AccountState, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccountState{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	st := domain.AccountState{Time: g.now().UTC()}
	value := g.cash
	for inst, h := range g.holdings {
		mark := g.marks[inst]
		if mark == 0 {
			mark = h.entry
		}
		upnl := (mark - h.entry) * h.size
		value += upnl
		st.MarginUsed += math.Abs(h.size * mark)
		st.Positions = append(st.Positions, domain.ExchangePosition{
			Instrument:    inst,
			Size:          h.size,
			EntryPrice:    h.entry,
			UnrealizedPnL: upnl,
			Leverage:      1,
		})
	}
	st.AccountValue = value
	st.Withdrawable = math.Max(0, value-st.MarginUsed)
	return st, nil
}
