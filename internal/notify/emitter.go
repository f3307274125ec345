package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

var _ executor.Emitter = (*Emitter)(nil)

// Sink receives every lifecycle event.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.LifecycleEvent) error
}

// Emitter queues lifecycle events and delivers them to sinks on its own
// goroutine, so the engine never waits on I/O. Events are dropped, and
// counted, when the queue is full.
type Emitter struct {
	queue       chan domain.LifecycleEvent
	sinks       []Sink
	sinkTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewEmitter creates an Emitter with room for size queued events.
func NewEmitter(size int, logger *slog.Logger, sinks ...Sink) *Emitter {
	if size <= 0 {
		size = 1024
	}
	return &Emitter{
		queue:       make(chan domain.LifecycleEvent, size),
		sinks:       sinks,
		sinkTimeout: 10 * time.Second,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "emitter")),
	}
}

// AddSink registers another sink. It must be called before Run.
func (e *Emitter) AddSink(s Sink) { e.sinks = append(e.sinks, s) }

// Emit enqueues an event without blocking.
func (e *Emitter) Emit(event string, payload domain.LifecycleEvent) {
	payload.Event = event
	if payload.Time.IsZero() {
		payload.Time = e.now().UTC()
	}
	select {
	case e.queue <- payload:
	default:
		metrics.EventsDropped.Inc()
		e.logger.Warn("event queue full, dropping event",
			slog.String("event", event),
			slog.String("instrument", payload.Instrument),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// left with a short grace period.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ctx, ev)
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		}
	}
}

func (e *Emitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-e.queue:
			e.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (e *Emitter) deliver(ctx context.Context, ev domain.LifecycleEvent) {
	for _, s := range e.sinks {
		sctx, cancel := context.WithTimeout(ctx, e.sinkTimeout)
		err := s.Handle(sctx, ev)
		cancel()
		if err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			e.logger.ErrorContext(ctx, "sink failed",
				slog.String("sink", s.Name()),
				slog.String("event", ev.Event),
				slog.String("instrument", ev.Instrument),
				slog.String("error", err.Error()),
			)
		}
	}
}
