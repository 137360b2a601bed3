package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa los collectors de la flota. Cada componente recibe el mismo
// *Metrics; los tests usan New(prometheus.NewRegistry()).
type Metrics struct {
	WorkerUp            *prometheus.GaugeVec
	WorkerRestarts      *prometheus.CounterVec
	HealthCheckFailures *prometheus.CounterVec
	WorkerCPU           *prometheus.GaugeVec
	WorkerMem           *prometheus.GaugeVec

	RecoveryActions *prometheus.CounterVec
	RecoveryQueue   prometheus.Gauge

	QuotesRefreshed prometheus.Counter
	QuoteErrors     *prometheus.CounterVec
	Candidates      prometheus.Gauge
	BestSpreadPct   *prometheus.GaugeVec

	RiskRejections *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	TradeLatency   prometheus.Histogram
	TradeProfit    prometheus.Counter
}

// New crea los collectors y los registra en reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbfleet_worker_up",
			Help: "1 if the worker passed its last health check",
		}, []string{"worker"}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_worker_restarts_total",
			Help: "Worker restarts performed by the supervisor",
		}, []string{"worker"}),
		HealthCheckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_health_check_failures_total",
			Help: "Failed health probes",
		}, []string{"worker", "status"}),
		WorkerCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbfleet_worker_cpu_percent",
			Help: "Last sampled CPU usage of the worker process",
		}, []string{"worker"}),
		WorkerMem: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbfleet_worker_mem_percent",
			Help: "Last sampled memory usage of the worker process",
		}, []string{"worker"}),

		RecoveryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_recovery_actions_total",
			Help: "Recovery actions executed, by kind and result",
		}, []string{"kind", "result"}),
		RecoveryQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbfleet_recovery_queue_depth",
			Help: "Pending recovery actions",
		}),

		QuotesRefreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbfleet_quotes_refreshed_total",
			Help: "Quotes successfully pulled from the price source",
		}),
		QuoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_quote_errors_total",
			Help: "Quote fetch failures",
		}, []string{"venue"}),
		Candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbfleet_candidates",
			Help: "Candidates produced by the last detection cycle",
		}),
		BestSpreadPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbfleet_best_spread_pct",
			Help: "Best spread percentage per symbol in the last cycle",
		}, []string{"symbol"}),

		RiskRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_risk_rejections_total",
			Help: "Trades rejected by the risk gate",
		}, []string{"reason"}),
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbfleet_trades_total",
			Help: "Trade orders reaching a terminal state",
		}, []string{"status"}),
		TradeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbfleet_trade_execution_seconds",
			Help:    "Time spent in the execution venue",
			Buckets: prometheus.DefBuckets,
		}),
		TradeProfit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbfleet_trade_profit_positive_total",
			Help: "Sum of positive realized profit",
		}),
	}

	reg.MustRegister(
		m.WorkerUp, m.WorkerRestarts, m.HealthCheckFailures, m.WorkerCPU, m.WorkerMem,
		m.RecoveryActions, m.RecoveryQueue,
		m.QuotesRefreshed, m.QuoteErrors, m.Candidates, m.BestSpreadPct,
		m.RiskRejections, m.Trades, m.TradeLatency, m.TradeProfit,
	)
	return m
}

// NewUnregistered crea collectors sin registrarlos; útil en tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
