package observability

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ibagreement"

var wadFloat = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// AgreementMetrics wraps the collectors describing hosted agreements.
type AgreementMetrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	liquidations  *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	collateralUSD *prometheus.GaugeVec
	thresholdUSD  *prometheus.GaugeVec
	debtUSD       *prometheus.GaugeVec
	liquidatable  *prometheus.GaugeVec
}

var (
	agreementMetricsOnce sync.Once
	agreementRegistry    *AgreementMetrics
)

// Agreement returns the process-wide metrics registered with the default
// Prometheus registerer.
func Agreement() *AgreementMetrics {
	agreementMetricsOnce.Do(func() {
		agreementRegistry = NewAgreementMetrics(prometheus.DefaultRegisterer)
	})
	return agreementRegistry
}

// NewAgreementMetrics builds a metrics set and registers it with reg. A nil reg
// leaves the collectors unregistered.
func NewAgreementMetrics(reg prometheus.Registerer) *AgreementMetrics {
	m := &AgreementMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Agreement operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed agreement operations segmented by operation and error kind.",
		}, []string{"operation", "kind"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Completed partial liquidations segmented by mode.",
		}, []string{"mode"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for agreement operations including collaborator calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		collateralUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collateral_usd",
			Help:      "Borrowing power of the position in USD.",
		}, []string{"agreement"}),
		thresholdUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquidation_threshold_usd",
			Help:      "Debt value above which the position may be liquidated, in USD.",
		}, []string{"agreement"}),
		debtUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "debt_usd",
			Help:      "Total debt of the position across entered markets, in USD.",
		}, []string{"agreement"}),
		liquidatable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquidatable",
			Help:      "1 when debt exceeds the liquidation threshold.",
		}, []string{"agreement"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.operations,
			m.failures,
			m.liquidations,
			m.latency,
			m.collateralUSD,
			m.thresholdUSD,
			m.debtUSD,
			m.liquidatable,
		)
	}
	return m
}

// Observe records the outcome and latency of one operation.
func (m *AgreementMetrics) Observe(operation string, duration time.Duration, err error) {
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
		m.failures.WithLabelValues(op, ErrorKind(err)).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLiquidation counts a completed liquidation.
func (m *AgreementMetrics) RecordLiquidation(mode string) {
	if m == nil {
		return
	}
	if mode = strings.TrimSpace(mode); mode == "" {
		mode = "unknown"
	}
	m.liquidations.WithLabelValues(mode).Inc()
}

// RecordValuation publishes the latest valuation of a position. Values are
// 1e18 fixed-point and exported as whole dollars.
func (m *AgreementMetrics) RecordValuation(agreement string, collateral, threshold, debt *uint256.Int, liquidatable bool) {
	if m == nil {
		return
	}
	m.collateralUSD.WithLabelValues(agreement).Set(wadToFloat(collateral))
	m.thresholdUSD.WithLabelValues(agreement).Set(wadToFloat(threshold))
	m.debtUSD.WithLabelValues(agreement).Set(wadToFloat(debt))
	flag := 0.0
	if liquidatable {
		flag = 1
	}
	m.liquidatable.WithLabelValues(agreement).Set(flag)
}

// ErrorKind reduces an error to a short, bounded label such as
// "undercollateralized" by taking the innermost wrapped message and dropping
// its package prefix and detail.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	msg := err.Error()
	if _, rest, found := strings.Cut(msg, ": "); found {
		msg = rest
	}
	msg, _, _ = strings.Cut(msg, ":")
	msg = strings.ReplaceAll(strings.TrimSpace(msg), " ", "_")
	if msg == "" {
		return "unknown"
	}
	return msg
}

func wadToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value.ToBig())
	out, _ := f.Quo(f, wadFloat).Float64()
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}
