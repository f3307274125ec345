// Package metrics holds the Prometheus collectors updated by the execution
// engine. They are registered in init and served at /metrics:
//
//	supersignal_orders_total{kind,outcome}     orders submitted (entry|stop|close|rollback|cancel)
//	supersignal_rollbacks_total{outcome}       compensating closes after a failed protective stop
//	supersignal_stop_swaps_total{outcome}      protected swap outcomes (replaced|kept|orphan)
//	supersignal_emergency_closes_total         positions closed because no stop was resting
//	supersignal_positions_open                 positions currently tracked
//	supersignal_realized_pnl_usd{instrument}   realized profit since start
//	supersignal_reconciled_total{stop_status}  positions adopted at startup (found|missing)
//	supersignal_update_seconds                 time spent handling one market update
//	supersignal_events_dropped_total           lifecycle events dropped on a full queue
//	supersignal_sink_errors_total{sink}        lifecycle event deliveries that failed
//	supersignal_http_requests_total{route,code} API requests served
//	supersignal_candles_total{instrument}      closed candles routed to the runner
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_orders_total",
			Help: "Orders submitted to the exchange",
		},
		[]string{"kind", "outcome"},
	)

	Rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_rollbacks_total",
			Help: "Compensating closes issued after a failed protective stop",
		},
		[]string{"outcome"},
	)

	StopSwaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_stop_swaps_total",
			Help: "Protective stop replacements split by outcome",
		},
		[]string{"outcome"},
	)

	EmergencyCloses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supersignal_emergency_closes_total",
			Help: "Positions closed because no protective stop was resting",
		},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supersignal_positions_open",
			Help: "Open positions tracked by the engine",
		},
	)

	// Gauge rather than counter: realized PnL goes down on losing trades.
	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supersignal_realized_pnl_usd",
			Help: "Realized profit in USD since process start",
		},
		[]string{"instrument"},
	)

	Reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_reconciled_total",
			Help: "Positions adopted from the exchange at startup",
		},
		[]string{"stop_status"},
	)

	UpdateSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supersignal_update_seconds",
			Help:    "Time spent handling one market update",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supersignal_events_dropped_total",
			Help: "Lifecycle events dropped because the queue was full",
		},
	)

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_sink_errors_total",
			Help: "Lifecycle event deliveries that failed, by sink",
		},
		[]string{"sink"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_http_requests_total",
			Help: "API requests served, by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	Candles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supersignal_candles_total",
			Help: "Closed candles routed to the runner",
		},
		[]string{"instrument"},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		Rollbacks,
		StopSwaps,
		EmergencyCloses,
		PositionsOpen,
		RealizedPnL,
		Reconciled,
		UpdateSeconds,
		EventsDropped,
		SinkErrors,
		HTTPRequests,
		Candles,
	)
}

// Outcome maps an error to the outcome label used by Orders.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}
