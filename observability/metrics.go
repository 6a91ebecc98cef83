package observability

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	indices      *prometheus.GaugeVec
	rates        *prometheus.GaugeVec
	utilization  prometheus.Gauge
	liquidations *prometheus.CounterVec
	rebalances   *prometheus.CounterVec
	throttles    *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// Lending returns the lazily-initialised registry for the lending daemon.
func Lending() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Total lending operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for lending operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			indices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "index",
				Help:      "Reserve indices as a multiple of one Ray.",
			}, []string{"index"}),
			rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "rate",
				Help:      "Annualised reserve rates as a fraction of one.",
			}, []string{"side"}),
			utilization: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "utilization_ratio",
				Help:      "Share of reserve liquidity currently borrowed.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "liquidation_transitions_total",
				Help:      "Liquidation state transitions segmented by transition.",
			}, []string{"transition"}),
			rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "vault_rebalances_total",
				Help:      "Buffer rebalances against the yield vault segmented by direction and outcome.",
			}, []string{"direction", "outcome"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwalend",
				Subsystem: "lending",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.indices,
			lendingRegistry.rates,
			lendingRegistry.utilization,
			lendingRegistry.liquidations,
			lendingRegistry.rebalances,
			lendingRegistry.throttles,
		)
	})
	return lendingRegistry
}

// Observe records the outcome of a lending operation. kind is empty on
// success and the error kind otherwise.
func (m *lendingMetrics) Observe(op, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if kind != "" {
		outcome = kind
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// SetIndex publishes a Ray scaled index given as a decimal string.
func (m *lendingMetrics) SetIndex(name, ray string) {
	if m == nil {
		return
	}
	if v, ok := rayRatio(ray); ok {
		m.indices.WithLabelValues(name).Set(v)
	}
}

// SetRate publishes a Ray scaled rate given as a decimal string.
func (m *lendingMetrics) SetRate(side, ray string) {
	if m == nil {
		return
	}
	if v, ok := rayRatio(ray); ok {
		m.rates.WithLabelValues(side).Set(v)
	}
}

// SetUtilization publishes the Ray scaled utilisation.
func (m *lendingMetrics) SetUtilization(ray string) {
	if m == nil {
		return
	}
	if v, ok := rayRatio(ray); ok {
		m.utilization.Set(v)
	}
}

// RecordLiquidation counts a liquidation transition such as "initiated".
func (m *lendingMetrics) RecordLiquidation(transition string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(transition).Inc()
}

// RecordRebalance counts a vault rebalance attempt.
func (m *lendingMetrics) RecordRebalance(direction string, ok bool) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(direction, strconv.FormatBool(ok)).Inc()
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards and alerts remain consistent.
func (m *lendingMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

var rayFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil))

// rayRatio converts a Ray scaled decimal string into a float for gauges.
func rayRatio(raw string) (float64, bool) {
	value, ok := new(big.Float).SetString(raw)
	if !ok {
		return 0, false
	}
	out, _ := new(big.Float).Quo(value, rayFloat).Float64()
	return out, true
}
