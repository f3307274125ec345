package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/position"
)

var errTransport = errors.New("connection reset by peer")

// scripted overrides the fake's default handling of one PlaceOrders call.
// With apply set the order is executed normally before err is returned.
type scripted struct {
	res   domain.OrderResult
	err   error
	apply bool
}

func reject(msg string) *scripted {
	return &scripted{res: domain.OrderResult{Status: "err", Message: msg}}
}

func transport() *scripted { return &scripted{err: errTransport} }

// fakeGateway is an in-memory exchange. IOC orders fill at the mark price,
// trigger orders rest until cancelled. Calls are recorded in ops.
type fakeGateway struct {
	mu        sync.Mutex
	nextOID   int64
	marks     map[string]float64
	positions map[string]float64
	open      []domain.OpenOrder
	placed    []domain.OrderIntent
	cancels   []domain.CancelRef
	ops       []string

	script        []*scripted
	hideTriggers  bool
	noOrderIDs    bool
	openOrdersErr error
	accountErr    error
	cancelErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		nextOID:   100,
		marks:     make(map[string]float64),
		positions: make(map[string]float64),
	}
}

func (f *fakeGateway) PlaceOrders(_ context.Context, orders []domain.OrderIntent, _ domain.Grouping) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o := orders[0]
	f.placed = append(f.placed, o)
	if o.IsTrigger() {
		f.ops = append(f.ops, fmt.Sprintf("place:stop:%g:%g", o.Trigger.Price, o.Size))
	} else {
		f.ops = append(f.ops, fmt.Sprintf("place:%s:%g", o.Side, o.Size))
	}

	if len(f.script) > 0 {
		s := f.script[0]
		f.script = f.script[1:]
		if s != nil {
			if s.apply {
				f.execute(o)
			}
			return s.res, s.err
		}
	}
	return f.execute(o), nil
}

func (f *fakeGateway) execute(o domain.OrderIntent) domain.OrderResult {
	f.nextOID++
	oid := f.nextOID
	if f.noOrderIDs {
		oid = 0
	}
	if o.IsTrigger() {
		if !f.hideTriggers {
			f.open = append(f.open, domain.OpenOrder{
				Instrument:   o.Instrument,
				OrderID:      oid,
				ClientID:     o.ClientID,
				Side:         o.Side,
				LimitPrice:   o.Price,
				Size:         o.Size,
				ReduceOnly:   o.ReduceOnly,
				IsTrigger:    true,
				TriggerPrice: o.Trigger.Price,
				OrderType:    "Stop Market",
			})
		}
		return domain.OrderResult{Status: "ok", Statuses: []domain.OrderStatus{{Resting: true, OrderID: oid}}}
	}

	px := f.marks[o.Instrument]
	if px == 0 {
		px = o.Price
	}
	size := o.Size
	cur := f.positions[o.Instrument]
	if o.ReduceOnly {
		size = math.Min(size, math.Abs(cur))
		if size == 0 {
			return domain.OrderResult{Status: "ok", Statuses: []domain.OrderStatus{{Error: "Reduce only order would increase position."}}}
		}
	}
	if o.Side.IsBuy() {
		f.positions[o.Instrument] = cur + size
	} else {
		f.positions[o.Instrument] = cur - size
	}
	return domain.OrderResult{Status: "ok", Statuses: []domain.OrderStatus{{Filled: true, OrderID: oid, FilledSize: size, AvgPrice: px}}}
}

func (f *fakeGateway) CancelOrders(_ context.Context, refs []domain.CancelRef) (domain.CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := domain.CancelResult{Status: "ok"}
	for _, r := range refs {
		f.cancels = append(f.cancels, r)
		f.ops = append(f.ops, fmt.Sprintf("cancel:%d", r.Ref.OrderID))
		if f.cancelErr != nil {
			return domain.CancelResult{}, f.cancelErr
		}
		idx := -1
		for i, o := range f.open {
			if o.Instrument == r.Instrument && r.Ref.Matches(o) {
				idx = i
				break
			}
		}
		if idx < 0 {
			res.Statuses = append(res.Statuses, "Order was never placed, already canceled, or filled.")
			continue
		}
		f.open = append(f.open[:idx], f.open[idx+1:]...)
		res.Statuses = append(res.Statuses, "success")
	}
	return res, nil
}

func (f *fakeGateway) OpenOrders(context.Context, string) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "open_orders")
	if f.openOrdersErr != nil {
		return nil, f.openOrdersErr
	}
	return append([]domain.OpenOrder(nil), f.open...), nil
}

func (f *fakeGateway) AccountState(context.Context, string) (domain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return domain.AccountState{}, f.accountErr
	}
	acct := domain.AccountState{AccountValue: 10_000, Withdrawable: 10_000}
	for inst, sz := range f.positions {
		if sz != 0 {
			acct.Positions = append(acct.Positions, domain.ExchangePosition{Instrument: inst, Size: sz, EntryPrice: f.marks[inst]})
		}
	}
	return acct, nil
}

// restingStops returns the protective orders resting for instrument.
func (f *fakeGateway) restingStops(instrument string) []domain.OpenOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OpenOrder
	for _, o := range f.open {
		if o.Instrument == instrument && o.IsProtective() {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeGateway) position(instrument string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[instrument]
}

func (f *fakeGateway) opIndex(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			return i
		}
	}
	return -1
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (r *recordingEmitter) Emit(_ string, ev domain.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Event)
	}
	return out
}

type recordingCooldowns struct {
	mu      sync.Mutex
	started []string
}

func (c *recordingCooldowns) StartCooldown(instrument string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, instrument)
}

// logBuffer collects log output from concurrent writers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	gw        *fakeGateway
	store     *position.Store
	emitter   *recordingEmitter
	cooldowns *recordingCooldowns
	logs      *logBuffer
	engine    *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gw:        newFakeGateway(),
		store:     position.NewStore(),
		emitter:   &recordingEmitter{},
		cooldowns: &recordingCooldowns{},
		logs:      &logBuffer{},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, nil))
	h.engine = NewEngine(Config{Account: "0xabc", RollbackAttempts: 2}, h.gw, h.store, h.cooldowns, h.emitter, logger)
	return h
}

// seed places a resting stop on the fake exchange and stores a matching
// position, as if it had been opened earlier.
func (h *harness) seed(t *testing.T, pos domain.Position) domain.Position {
	t.Helper()
	stop := h.engine.stopIntent(pos.Instrument, pos.Direction, pos.Size, pos.ProtectivePrice())
	res, err := h.gw.PlaceOrders(context.Background(), []domain.OrderIntent{stop}, domain.GroupingNone)
	if err != nil {
		t.Fatalf("seed stop: %v", err)
	}
	pos.StopLossOrderRef = domain.OrderRef{OrderID: res.First().OrderID, ClientID: stop.ClientID}
	h.gw.mu.Lock()
	h.gw.positions[pos.Instrument] = pos.Size * pos.Direction.Sign()
	h.gw.marks[pos.Instrument] = pos.EntryPrice
	h.gw.ops = nil
	h.gw.placed = nil
	h.gw.mu.Unlock()
	if pos.Phase == "" {
		pos.Phase = domain.PhaseInactive
	}
	h.store.Replace(pos)
	return pos
}
