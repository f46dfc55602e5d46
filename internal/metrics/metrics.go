package metrics

import (
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elys-network/savers/internal/ledger"
	"github.com/elys-network/savers/internal/logger"
	"github.com/elys-network/savers/internal/types"
	"github.com/elys-network/savers/internal/utils"
)

const namespace = "savers"

var metricsLogger = logger.GetForComponent("metrics")

// Metrics holds the vault's Prometheus collectors. It observes vault receipts,
// share ledger events and keeper snapshots.
type Metrics struct {
	decimals int

	operations      *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	ledgerEvents    *prometheus.CounterVec
	keeperCycles    *prometheus.CounterVec
	totalSupply     prometheus.Gauge
	pooledBalance   prometheus.Gauge
	exchangeRate    prometheus.Gauge
	interestAccrued prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the collectors registered with the global Prometheus
// registry.
func Default(decimals int) *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, decimals)
	})
	return defaultMetrics
}

// New creates the collectors and registers them with reg. decimals is the
// base asset's precision, used to report balances in whole tokens.
func New(reg prometheus.Registerer, decimals int) *Metrics {
	m := &Metrics{
		decimals: decimals,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Deposit and withdraw attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "operation_failures_total",
			Help:      "Failed deposit and withdraw attempts by kind and reason.",
		}, []string{"kind", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "operation_duration_seconds",
			Help:      "Time spent inside deposit and withdraw calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"kind"}),
		ledgerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed share ledger events by kind.",
		}, []string{"kind"}),
		keeperCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "cycles_total",
			Help:      "Keeper cycles by outcome.",
		}, []string{"outcome"}),
		totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "share_supply",
			Help:      "Outstanding vault shares in whole tokens.",
		}),
		pooledBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "pooled_balance",
			Help:      "Underlying held in the yield source in whole tokens.",
		}),
		exchangeRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "exchange_rate",
			Help:      "Underlying per share.",
		}),
		interestAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "interest_accrued",
			Help:      "Interest credited to the pool by the keeper in whole tokens.",
		}),
	}
	reg.MustRegister(
		m.operations,
		m.failures,
		m.duration,
		m.ledgerEvents,
		m.keeperCycles,
		m.totalSupply,
		m.pooledBalance,
		m.exchangeRate,
		m.interestAccrued,
	)
	return m
}

// ObserveOperation records a vault receipt.
func (m *Metrics) ObserveOperation(receipt types.OperationReceipt) {
	kind := string(receipt.Kind)
	outcome := "success"
	if !receipt.Success {
		outcome = "failure"
		m.failures.WithLabelValues(kind, string(receipt.Reason)).Inc()
	}
	m.operations.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(receipt.Duration.Seconds())
}

// Emit records a committed ledger event and tracks the share supply it
// reports.
func (m *Metrics) Emit(ev ledger.Event) {
	m.ledgerEvents.WithLabelValues(string(ev.Kind)).Inc()
	m.setAmount(m.totalSupply, ev.TotalSupply)
}

// ObserveSnapshot updates the balance gauges from a keeper snapshot.
func (m *Metrics) ObserveSnapshot(snapshot types.VaultSnapshot) {
	m.setAmount(m.totalSupply, snapshot.TotalSupply)
	m.setAmount(m.pooledBalance, snapshot.PooledBalance)
	if !snapshot.ExchangeRate.IsNil() {
		if rate, err := snapshot.ExchangeRate.Float64(); err == nil {
			m.exchangeRate.Set(rate)
		}
	}
	if !snapshot.InterestAdded.IsNil() && snapshot.InterestAdded.IsPositive() {
		if v, err := utils.SDKIntToFloat64(snapshot.InterestAdded, m.decimals); err == nil {
			m.interestAccrued.Add(v)
		}
	}
}

// ObserveCycle counts a keeper cycle.
func (m *Metrics) ObserveCycle(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.keeperCycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setAmount(g prometheus.Gauge, amount sdkmath.Int) {
	if amount.IsNil() {
		return
	}
	v, err := utils.SDKIntToFloat64(amount, m.decimals)
	if err != nil {
		metricsLogger.Warn().Err(err).Str("amount", amount.String()).Msg("Failed to convert amount for metrics")
		return
	}
	g.Set(v)
}
