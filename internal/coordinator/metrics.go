package coordinator

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrdersTotal          *prometheus.CounterVec
	ExecutionLatency     *prometheus.HistogramVec
	GatewayRetries       prometheus.Counter
	PendingConfirmations prometheus.Gauge
	Cancellations        *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_executions_total",
				Help: "Total orders processed by terminal outcome.",
			},
			[]string{"status"},
		),
		ExecutionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_execution_latency_seconds",
				Help:    "End-to-end order execution latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		GatewayRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_submit_retries_total",
				Help: "Total retried venue submissions.",
			},
		),
		PendingConfirmations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orders_pending_confirmation",
				Help: "Orders awaiting venue confirmation.",
			},
		),
		Cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_cancellations_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
	}
	registry.MustRegister(
		m.OrdersTotal,
		m.ExecutionLatency,
		m.GatewayRetries,
		m.PendingConfirmations,
		m.Cancellations,
	)
	return m
}
