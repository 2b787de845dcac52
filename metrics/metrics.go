// Package metrics provides Prometheus metrics for the lookup server, the
// compile pipeline and the backup job. All metrics are registered with the
// default registry at package initialization.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		},
	)

	RateLimiterBucketsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rate_limiter_buckets_total",
			Help: "Total number of rate limiter buckets (IPs seen in last ~5 minutes)",
		},
	)

	CompileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugdata_compile_runs_total",
			Help: "Compile runs by result",
		},
		[]string{"result"},
	)

	CompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drugdata_compile_duration_seconds",
			Help:    "Duration of a full compile run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drugdata_fetch_errors_total",
			Help: "Dataset fetch failures by dataset and kind",
		},
		[]string{"dataset", "kind"},
	)

	DatasetRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drugdata_dataset_records",
			Help: "Records fetched per dataset in the last run",
		},
		[]string{"dataset"},
	)

	CompiledEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drugdata_compiled_entries",
			Help: "Entries in the last compiled dataset",
		},
		[]string{"restricted"},
	)

	BackupRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_runs_total",
			Help: "Backup runs by result",
		},
		[]string{"result"},
	)

	BackupLastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup",
		},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequestTotals)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestInFlight)
	prometheus.MustRegister(RateLimiterBucketsTotal)
	prometheus.MustRegister(CompileRunsTotal)
	prometheus.MustRegister(CompileDuration)
	prometheus.MustRegister(FetchErrorsTotal)
	prometheus.MustRegister(DatasetRecords)
	prometheus.MustRegister(CompiledEntries)
	prometheus.MustRegister(BackupRunsTotal)
	prometheus.MustRegister(BackupLastSuccess)
}
