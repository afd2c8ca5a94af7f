package observability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"lendledger/native/lending"
)

const namespace = "lendledger"

var (
	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// HTTPMetrics tracks gateway request outcomes per route.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// HTTP returns the lazily-initialised gateway metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected by rate limiting.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *HTTPMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route and
// reason.
func (m *HTTPMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// LendingMetrics captures lending engine operations and pool gauges.
type LendingMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	errors    *prometheus.CounterVec
	events    *prometheus.CounterVec
	liquidity prometheus.Gauge
	debt      prometheus.Gauge
	loans     prometheus.Gauge
}

// Lending returns the singleton metrics registry for the lending engine.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of lending operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for lending operations including queueing.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "errors_total",
				Help:      "Count of lending failures segmented by operation and reason code.",
			}, []string{"operation", "reason"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "events_total",
				Help:      "Count of emitted lending events segmented by type.",
			}, []string{"type"}),
			liquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "pool_liquidity",
				Help:      "Idle pool liquidity in base units of the lendable asset.",
			}),
			debt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "outstanding_debt",
				Help:      "Debt across open loans in base units of the lendable asset.",
			}),
			loans: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "loans_allocated",
				Help:      "Number of loan ids allocated so far.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.latency,
			lendingRegistry.errors,
			lendingRegistry.events,
			lendingRegistry.liquidity,
			lendingRegistry.debt,
			lendingRegistry.loans,
		)
	})
	return lendingRegistry
}

// Observe records the execution metrics for a lending operation. It satisfies
// lending.Observer.
func (m *LendingMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

func errorReason(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return lending.ErrorCode(err)
}

// RecordEvent counts an emitted event by type.
func (m *LendingMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.events.WithLabelValues(normalized).Inc()
}

// RecordPool refreshes the pool gauges.
func (m *LendingMetrics) RecordPool(pool *lending.PoolLedger, loanCount uint64) {
	if m == nil || pool == nil {
		return
	}
	m.liquidity.Set(amountToFloat(pool.TotalLiquidity))
	m.debt.Set(amountToFloat(pool.OutstandingDebt()))
	m.loans.Set(float64(loanCount))
}

func amountToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	return bigToFloat(value.ToBig())
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
