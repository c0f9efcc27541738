package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_http_requests_total",
			Help: "Total number of API requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_http_request_duration_seconds",
			Help:    "API request latency by route. Translate and run include model and database time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	pipelineStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_pipeline_stage_total",
			Help: "Total number of pipeline stage executions by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)
	pipelineStageDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_pipeline_stage_duration_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_active_sessions",
			Help: "Current number of open pipeline sessions.",
		},
	)
	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_sessions_expired_total",
			Help: "Total number of sessions closed by the idle janitor.",
		},
	)
	exportedObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_exported_objects_total",
			Help: "Total number of result sets exported to object storage.",
		},
	)
	exportedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_exported_bytes_total",
			Help: "Total bytes written to object storage by result exports.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		pipelineStageTotal,
		pipelineStageDurationMs,
		activeSessions,
		sessionsExpiredTotal,
		exportedObjectsTotal,
		exportedBytesTotal,
	)
}

// ObserveStage records one pipeline stage run. outcome is "ok" or the
// failure kind.
func ObserveStage(stage, outcome string, elapsed time.Duration) {
	pipelineStageTotal.WithLabelValues(stage, outcome).Inc()
	pipelineStageDurationMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func SetActiveSessions(n int) {
	if n < 0 {
		n = 0
	}
	activeSessions.Set(float64(n))
}

func IncrementSessionsExpired(n int) {
	if n > 0 {
		sessionsExpiredTotal.Add(float64(n))
	}
}

func ObserveExport(bytes int64) {
	exportedObjectsTotal.Inc()
	if bytes > 0 {
		exportedBytesTotal.Add(float64(bytes))
	}
}
