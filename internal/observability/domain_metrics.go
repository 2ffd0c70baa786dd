package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_upload_requests_total",
			Help: "Total number of dataset uploads by format.",
		},
		[]string{"format"},
	)
	uploadRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckquery_upload_rows_total",
			Help: "Total number of rows loaded from uploads.",
		},
	)
	generationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_generation_attempts_total",
			Help: "Total number of text generation attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckquery_generation_latency_ms",
			Help:    "Text generation latency per provider attempt in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	engineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_engine_requests_total",
			Help: "Total number of engine requests by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	sqlRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_sql_rejections_total",
			Help: "Total number of candidate statements rejected by the validator.",
		},
		[]string{"reason"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckquery_query_latency_ms",
			Help:    "Read-only query execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
		},
	)
	queryTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckquery_query_timeouts_total",
			Help: "Total number of queries cancelled by the execution timeout.",
		},
	)
	datasetRestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_dataset_restores_total",
			Help: "Total number of archived datasets reloaded at startup by outcome.",
		},
		[]string{"outcome"},
	)
	retentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckquery_retention_deleted_datasets_total",
			Help: "Total number of datasets removed by retention.",
		},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_auth_failures_total",
			Help: "Total number of rejected API credentials by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		uploadRequestsTotal,
		uploadRowsTotal,
		generationAttemptsTotal,
		generationLatencyMs,
		engineRequestsTotal,
		sqlRejectionsTotal,
		queryLatencyMs,
		queryTimeoutsTotal,
		datasetRestoresTotal,
		retentionDeletedTotal,
		authFailuresTotal,
	)
}

func ObserveUpload(format string, rows int) {
	uploadRequestsTotal.WithLabelValues(format).Inc()
	if rows > 0 {
		uploadRowsTotal.Add(float64(rows))
	}
}

func ObserveGenerationAttempt(provider string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	generationAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	generationLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func ObserveEngineOutcome(operation, outcome string) {
	engineRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func IncrementSQLRejection(reason string) {
	sqlRejectionsTotal.WithLabelValues(reason).Inc()
}

func ObserveQueryLatency(elapsed time.Duration) {
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementQueryTimeout() {
	queryTimeoutsTotal.Inc()
}

func IncrementDatasetRestore(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	datasetRestoresTotal.WithLabelValues(outcome).Inc()
}

func AddRetentionDeleted(count int) {
	if count <= 0 {
		return
	}
	retentionDeletedTotal.Add(float64(count))
}

func IncrementAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
