package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements ports.Metrics against a private registry, so
// tests can construct it repeatedly without duplicate-registration panics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	tokensIssued    prometheus.Counter
	rejectionsTotal *prometheus.CounterVec
	transfersTotal  *prometheus.CounterVec
	bytesSentTotal  prometheus.Counter
	activeTransfers prometheus.Gauge
	auditFailures   prometheus.Counter
	outboxPublished prometheus.Counter
	outboxDead      prometheus.Counter
}

// NewPrometheusMetrics builds and registers the gateway metric set.
func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{registry: prometheus.NewRegistry()}

	m.tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_tokens_issued_total",
		Help: "Download tokens issued.",
	})
	m.rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rejections_total",
		Help: "Requests rejected before a transfer was admitted.",
	}, []string{"reason"})
	m.transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_transfers_total",
		Help: "Finished transfers by terminal status.",
	}, []string{"status"})
	m.bytesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_bytes_sent_total",
		Help: "Payload bytes written to clients.",
	})
	m.activeTransfers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_transfers",
		Help: "Transfers currently streaming.",
	})
	m.auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_write_failures_total",
		Help: "Audit sink or repository writes that failed.",
	})
	m.outboxPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_outbox_published_total",
		Help: "Transfer events successfully relayed from the outbox.",
	})
	m.outboxDead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_outbox_dead_letters_total",
		Help: "Transfer events dead-lettered after exhausting retries.",
	})

	m.registry.MustRegister(
		m.tokensIssued,
		m.rejectionsTotal,
		m.transfersTotal,
		m.bytesSentTotal,
		m.activeTransfers,
		m.auditFailures,
		m.outboxPublished,
		m.outboxDead,
	)
	return m
}

// Handler serves the /metrics scrape endpoint for this registry.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) TokenIssued() { m.tokensIssued.Inc() }

func (m *PrometheusMetrics) RequestRejected(reason string) {
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *PrometheusMetrics) TransferStarted() { m.activeTransfers.Inc() }

func (m *PrometheusMetrics) TransferFinished(status string, bytes int64) {
	m.activeTransfers.Dec()
	m.transfersTotal.WithLabelValues(status).Inc()
	m.bytesSentTotal.Add(float64(bytes))
}

func (m *PrometheusMetrics) AuditWriteFailed() { m.auditFailures.Inc() }

func (m *PrometheusMetrics) OutboxPublished() { m.outboxPublished.Inc() }

func (m *PrometheusMetrics) OutboxDeadLettered() { m.outboxDead.Inc() }
