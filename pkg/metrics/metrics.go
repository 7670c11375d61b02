// Package metrics exports Prometheus metrics for the exchange engine, its
// events and the HTTP API.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/uhyunpark/hyperswap/pkg/app/core/events"
	"github.com/uhyunpark/hyperswap/pkg/app/core/exchange"
)

const (
	namespace = "hyperswap"
	subsystem = "exchange"
)

type Metrics struct {
	// Operation metrics
	OperationsTotal  *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec

	// Event metrics
	EventsTotal *prometheus.CounterVec

	// Pool metrics
	PairsTotal   prometheus.Gauge
	PoolReserves *prometheus.GaugeVec
	ShareSupply  *prometheus.GaugeVec
	SwapVolume   *prometheus.CounterVec

	// Order metrics
	OrderFills *prometheus.CounterVec

	// API metrics
	RequestsTotal *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	defaultSet  *Metrics
)

// Default returns the metrics registered on the default Prometheus registry
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultSet = New(prometheus.DefaultRegisterer)
	})
	return defaultSet
}

// New registers a fresh metric set on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Engine operations by outcome",
			},
			[]string{"op", "result"},
		),
		OperationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_latency_seconds",
				Help:      "Engine operation latency in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"op"},
		),
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_total",
				Help:      "Published events by kind",
			},
			[]string{"kind"},
		),
		PairsTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pairs_total",
				Help:      "Number of registered pairs",
			},
		),
		PoolReserves: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_reserves",
				Help:      "Current pool reserves in base units",
			},
			[]string{"pair_id", "side"},
		),
		ShareSupply: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "share_supply",
				Help:      "Outstanding liquidity shares",
			},
			[]string{"pair_id"},
		),
		SwapVolume: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "swap_volume_total",
				Help:      "Swap input volume in base units",
			},
			[]string{"pair_id", "token"},
		),
		OrderFills: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "order_fills_total",
				Help:      "Limit order fills, by whether the fill closed the order",
			},
			[]string{"pair_id", "closed"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}
}

// ObserveOperation records one finished engine operation
func (m *Metrics) ObserveOperation(op string, class exchange.ErrorClass, elapsed time.Duration) {
	result := "ok"
	if class != exchange.ClassNone {
		result = string(class)
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Handle updates pool gauges from published events
func (m *Metrics) Handle(env events.Envelope) {
	m.EventsTotal.WithLabelValues(string(env.Kind)).Inc()

	ev, err := env.Decode()
	if err != nil {
		return
	}
	id := strconv.FormatUint(uint64(env.PairID), 10)
	switch e := ev.(type) {
	case *events.PairCreated:
		m.PairsTotal.Inc()
	case *events.ReservesUpdated:
		m.PoolReserves.WithLabelValues(id, "low").Set(e.ReserveLow.Float64())
		m.PoolReserves.WithLabelValues(id, "high").Set(e.ReserveHigh.Float64())
		m.ShareSupply.WithLabelValues(id).Set(e.TotalShares.Float64())
	case *events.SwapExecuted:
		m.SwapVolume.WithLabelValues(id, e.TokenIn.Hex()).Add(e.AmountIn.Float64())
	case *events.LimitOrderFilled:
		m.OrderFills.WithLabelValues(id, strconv.FormatBool(!e.Active)).Inc()
	}
}

// ObserveRequest counts one API response
func (m *Metrics) ObserveRequest(route string, code int) {
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

var _ exchange.Observer = (*Metrics)(nil)
var _ events.Sink = (*Metrics)(nil)
