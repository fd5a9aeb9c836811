package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentkit"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions      prometheus.Gauge
	sessionOpsTotal     *prometheus.CounterVec
	sessionLoadDuration *prometheus.HistogramVec
	sessionSaveDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	providerCooldown *prometheus.GaugeVec

	dataOpsTotal    *prometheus.CounterVec
	dataOpDuration  *prometheus.HistogramVec
	searchTotal     *prometheus.CounterVec
	artifactOpTotal *prometheus.CounterVec

	relayConnections prometheus.Gauge
	relayMessages    *prometheus.CounterVec

	whatsappSends *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_size",
				Help:      "Current queue size by lane.",
			}, []string{"lane"}),
			enqueueTotal: counterVec("queue_enqueue_total", "Total enqueue operations by lane.", "lane"),
			dequeueTotal: counterVec("queue_dequeue_total", "Total completed tasks by lane and status.", "lane", "status"),
			taskDuration: histogramVec("queue_task_duration_seconds", "Task execution duration by lane.", "lane"),

			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_live_sessions",
				Help:      "Live relay sessions currently registered.",
			}),
			sessionOpsTotal:     counterVec("session_operations_total", "Session store operations by backend, op and status.", "backend", "op", "status"),
			sessionLoadDuration: histogramVec("session_load_duration_seconds", "Session load duration by backend.", "backend"),
			sessionSaveDuration: histogramVec("session_save_duration_seconds", "Session save duration by backend.", "backend"),

			toolExecutionTotal:    counterVec("tool_execution_total", "Tool executions by tool and status.", "tool", "status"),
			toolExecutionDuration: histogramVec("tool_execution_duration_seconds", "Tool execution duration by tool.", "tool"),

			agentRunTotal:    counterVec("agent_run_total", "Agent runs by provider and status.", "provider", "status"),
			agentRunDuration: histogramVec("agent_run_duration_seconds", "Agent run duration by provider.", "provider"),
			providerCooldown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_cooldown_active",
				Help:      "Provider cooldown state (1 active, 0 inactive).",
			}, []string{"provider"}),

			dataOpsTotal:    counterVec("data_operations_total", "CRUD operations by backend, table, op and status.", "backend", "table", "op", "status"),
			dataOpDuration:  histogramVec("data_operation_duration_seconds", "CRUD operation duration by backend and table.", "backend", "table"),
			searchTotal:     counterVec("search_requests_total", "Search requests by provider and status.", "provider", "status"),
			artifactOpTotal: counterVec("artifact_operations_total", "Artifact operations by backend, op and status.", "backend", "op", "status"),

			relayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_connections",
				Help:      "Open relay websocket connections.",
			}),
			relayMessages: counterVec("relay_messages_total", "Relay messages by direction and type.", "direction", "type"),

			whatsappSends: counterVec("whatsapp_sends_total", "WhatsApp send attempts by status.", "status"),
		}

		prometheus.MustRegister(
			m.queueSize, m.enqueueTotal, m.dequeueTotal, m.taskDuration,
			m.activeSessions, m.sessionOpsTotal, m.sessionLoadDuration, m.sessionSaveDuration,
			m.toolExecutionTotal, m.toolExecutionDuration,
			m.agentRunTotal, m.agentRunDuration, m.providerCooldown,
			m.dataOpsTotal, m.dataOpDuration, m.searchTotal, m.artifactOpTotal,
			m.relayConnections, m.relayMessages,
			m.whatsappSends,
		)

		metricsInst = m
	})

	return metricsInst
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionOp(backend, op string, success bool) {
	getMetrics().sessionOpsTotal.WithLabelValues(backend, op, status(success)).Inc()
}

func RecordSessionLoad(backend string, duration time.Duration) {
	getMetrics().sessionLoadDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordSessionSave(backend string, duration time.Duration) {
	getMetrics().sessionSaveDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordDataOp(backend, table, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.dataOpsTotal.WithLabelValues(backend, table, op, status(success)).Inc()
	m.dataOpDuration.WithLabelValues(backend, table).Observe(duration.Seconds())
}

func RecordSearch(provider string, success bool) {
	getMetrics().searchTotal.WithLabelValues(provider, status(success)).Inc()
}

func RecordArtifactOp(backend, op string, success bool) {
	getMetrics().artifactOpTotal.WithLabelValues(backend, op, status(success)).Inc()
}

func RelayConnected() {
	getMetrics().relayConnections.Inc()
}

func RelayDisconnected() {
	getMetrics().relayConnections.Dec()
}

func RecordRelayMessage(direction, msgType string) {
	getMetrics().relayMessages.WithLabelValues(direction, msgType).Inc()
}

func RecordWhatsAppSend(success bool) {
	getMetrics().whatsappSends.WithLabelValues(status(success)).Inc()
}
