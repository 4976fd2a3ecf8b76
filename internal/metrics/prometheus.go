package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finmesh_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finmesh_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Transport metrics
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_a2a_messages_sent_total",
			Help: "Envelopes handed to a transport",
		},
		[]string{"transport", "kind", "status"}, // status: success|error
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_a2a_messages_received_total",
			Help: "Envelopes read from a transport",
		},
		[]string{"transport", "kind"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_a2a_messages_dropped_total",
			Help: "Inbound frames dropped before dispatch",
		},
		[]string{"transport", "reason"}, // reason: malformed|misaddressed|queue_full|handler_panic
	)

	Connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "finmesh_a2a_connections",
			Help: "Open stream connections",
		},
		[]string{"agent", "direction"}, // direction: inbound|outbound
	)

	// Adapter metrics
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finmesh_a2a_request_latency_seconds",
			Help:    "Time from sending a request to its correlated reply",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"agent", "request_type"},
	)

	RequestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_a2a_requests_total",
			Help: "Outbound requests by outcome",
		},
		[]string{"agent", "request_type", "outcome"}, // outcome: response|error|timeout|send_failed|cancelled
	)

	HandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_a2a_handler_errors_total",
			Help: "Inbound handler failures converted to error envelopes",
		},
		[]string{"agent", "kind", "code"},
	)

	// Integration metrics
	CollaborativeBranches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finmesh_collaborative_branches_total",
			Help: "Collaborative analysis branches by outcome",
		},
		[]string{"branch", "outcome"}, // outcome: ok|failed|timeout|panic
	)

	CollaborativeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finmesh_collaborative_duration_seconds",
			Help:    "Duration of a full collaborative analysis",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	initOnce sync.Once
)

// Init registers all metrics with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(WorkerExecutions)
		prometheus.MustRegister(WorkerDuration)
		prometheus.MustRegister(WorkerLastRun)

		prometheus.MustRegister(MessagesSent)
		prometheus.MustRegister(MessagesReceived)
		prometheus.MustRegister(MessagesDropped)
		prometheus.MustRegister(Connections)

		prometheus.MustRegister(RequestLatency)
		prometheus.MustRegister(RequestOutcomes)
		prometheus.MustRegister(HandlerErrors)

		prometheus.MustRegister(CollaborativeBranches)
		prometheus.MustRegister(CollaborativeDuration)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordSend records one outbound envelope
func RecordSend(transport, kind string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	MessagesSent.WithLabelValues(transport, kind, status).Inc()
}

// RecordReceive records one inbound envelope accepted for dispatch
func RecordReceive(transport, kind string) {
	MessagesReceived.WithLabelValues(transport, kind).Inc()
}

// RecordDrop records an inbound frame that never reached a handler
func RecordDrop(transport, reason string) {
	MessagesDropped.WithLabelValues(transport, reason).Inc()
}

// RecordRequest records the outcome of an outbound request
func RecordRequest(agent, requestType, outcome string, latency time.Duration) {
	RequestOutcomes.WithLabelValues(agent, requestType, outcome).Inc()
	if outcome == "response" || outcome == "error" {
		RequestLatency.WithLabelValues(agent, requestType).Observe(latency.Seconds())
	}
}

// RecordHandlerError records an inbound handler failure
func RecordHandlerError(agent, kind, code string) {
	HandlerErrors.WithLabelValues(agent, kind, code).Inc()
}

// RecordBranch records a collaborative analysis branch outcome
func RecordBranch(branch, outcome string) {
	CollaborativeBranches.WithLabelValues(branch, outcome).Inc()
}
