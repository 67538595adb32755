// Package observability provides Prometheus metrics and the structured
// logger shared across the trading core.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Market data metrics
	TicksNormalized    prometheus.Counter
	TicksDropped       *prometheus.CounterVec
	CandlesClosed      *prometheus.CounterVec
	FeedMessagesTotal  prometheus.Counter
	FeedReconnects     prometheus.Counter
	WatermarkTimestamp *prometheus.GaugeVec

	// Order metrics
	OrdersSubmitted  prometheus.Counter
	OrdersFilled     prometheus.Counter
	OrdersRejected   prometheus.Counter
	OrdersCancelled  prometheus.Counter
	OrdersExpired    prometheus.Counter
	OrdersStale      prometheus.Counter
	OpenOrders       prometheus.Gauge
	SubmitLatency    prometheus.Histogram
	GatewayErrors    *prometheus.CounterVec
	SubmitRetries    prometheus.Counter

	// Risk metrics
	RiskApprovals  prometheus.Counter
	RiskDenials    *prometheus.CounterVec
	KillSwitch     prometheus.Gauge
	GrossExposure  *prometheus.GaugeVec

	// Ledger metrics
	FillsJournaled   prometheus.Counter
	DuplicateFills   prometheus.Counter
	CashBalance      prometheus.Gauge
	RealizedPnLDay   prometheus.Gauge
	CheckpointsSaved prometheus.Counter

	// Strategy metrics
	SignalsEmitted  *prometheus.CounterVec
	StrategyPanics  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trading_agent"
	}

	return &Metrics{
		// Market data metrics
		TicksNormalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ticks_normalized_total",
			Help:      "Total number of ticks accepted by the normalizer",
		}),
		TicksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "ticks_dropped_total",
			Help:      "Total number of ticks dropped by reason",
		}, []string{"reason"}),
		CandlesClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "candles_closed_total",
			Help:      "Total number of candles closed by timeframe",
		}, []string{"timeframe"}),
		FeedMessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of raw feed messages received",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		WatermarkTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "watermark_timestamp_ms",
			Help:      "Highest accepted tick timestamp per instrument",
		}, []string{"instrument"}),

		// Order metrics
		OrdersSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submitted_total",
			Help:      "Total number of orders submitted",
		}),
		OrdersFilled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "filled_total",
			Help:      "Total number of orders fully filled",
		}),
		OrdersRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_total",
			Help:      "Total number of orders rejected",
		}),
		OrdersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancelled_total",
			Help:      "Total number of orders cancelled",
		}),
		OrdersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Total number of orders expired",
		}),
		OrdersStale: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "stale_total",
			Help:      "Total number of orders that went stale awaiting acknowledgment",
		}),
		OpenOrders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "open",
			Help:      "Current number of non-terminal orders",
		}),
		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "submit_latency_seconds",
			Help:      "Gateway submission latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Total number of gateway errors by class",
		}, []string{"op", "class"}),
		SubmitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "submit_retries_total",
			Help:      "Total number of submission retries on transient errors",
		}),

		// Risk metrics
		RiskApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "approvals_total",
			Help:      "Total number of intents approved by the risk engine",
		}),
		RiskDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "denials_total",
			Help:      "Total number of intents denied by reason",
		}, []string{"reason"}),
		KillSwitch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "kill_switch",
			Help:      "1 when the kill switch is engaged",
		}),
		GrossExposure: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "gross_exposure",
			Help:      "Gross notional exposure per instrument",
		}, []string{"instrument"}),

		// Ledger metrics
		FillsJournaled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fills_journaled_total",
			Help:      "Total number of fills appended to the journal",
		}),
		DuplicateFills: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "duplicate_fills_total",
			Help:      "Total number of duplicate fill events discarded",
		}),
		CashBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "cash_balance",
			Help:      "Current cash balance in quote units",
		}),
		RealizedPnLDay: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "realized_pnl_day",
			Help:      "Realized P&L for the current UTC day",
		}),
		CheckpointsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "checkpoints_saved_total",
			Help:      "Total number of ledger checkpoints persisted",
		}),

		// Strategy metrics
		SignalsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "signals_emitted_total",
			Help:      "Total number of signals emitted by strategy",
		}, []string{"strategy", "kind"}),
		StrategyPanics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "panics_total",
			Help:      "Total number of strategy panics recovered",
		}, []string{"strategy"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTickNormalized increments the accepted tick counter and updates
// the instrument watermark gauge.
func RecordTickNormalized(instrument string, timestamp int64) {
	DefaultMetrics.TicksNormalized.Inc()
	DefaultMetrics.WatermarkTimestamp.WithLabelValues(instrument).Set(float64(timestamp))
}

// RecordTickDropped increments the dropped tick counter. Reason is
// "late" or "duplicate".
func RecordTickDropped(reason string) {
	DefaultMetrics.TicksDropped.WithLabelValues(reason).Inc()
}

// RecordCandleClosed increments the closed candle counter.
func RecordCandleClosed(timeframe string) {
	DefaultMetrics.CandlesClosed.WithLabelValues(timeframe).Inc()
}

// RecordRiskDecision records a risk engine verdict.
func RecordRiskDecision(approved bool, reason string) {
	if approved {
		DefaultMetrics.RiskApprovals.Inc()
		return
	}
	DefaultMetrics.RiskDenials.WithLabelValues(reason).Inc()
}

// RecordOrderTerminal increments the counter matching a terminal status.
func RecordOrderTerminal(status string) {
	switch status {
	case "FILLED":
		DefaultMetrics.OrdersFilled.Inc()
	case "REJECTED":
		DefaultMetrics.OrdersRejected.Inc()
	case "CANCELLED":
		DefaultMetrics.OrdersCancelled.Inc()
	case "EXPIRED":
		DefaultMetrics.OrdersExpired.Inc()
	}
}

// RecordGatewayError records a gateway failure by transient/permanent
// class.
func RecordGatewayError(op string, transient bool) {
	class := "permanent"
	if transient {
		class = "transient"
	}
	DefaultMetrics.GatewayErrors.WithLabelValues(op, class).Inc()
}

// RecordSignal increments the emitted signal counter.
func RecordSignal(strategy, kind string) {
	DefaultMetrics.SignalsEmitted.WithLabelValues(strategy, kind).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
