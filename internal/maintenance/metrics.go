package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_retention_runs_total",
			Help: "Total number of dataset retention runs by status.",
		},
		[]string{"status"},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckquery_integrity_runs_total",
			Help: "Total number of archive integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityArchivesCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckquery_integrity_archives_checked_total",
			Help: "Total number of dataset archives checked by integrity validation.",
		},
	)
	integrityMissingArchivesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckquery_integrity_missing_archives_total",
			Help: "Total number of missing dataset archives detected by integrity validation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		integrityRunsTotal,
		integrityArchivesCheckedTotal,
		integrityMissingArchivesTotal,
	)
}
