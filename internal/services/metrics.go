package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the Prometheus collectors of the service layer.
//
// Metrics:
//   - aiusage_submissions_total{method} - submissions stored
//   - aiusage_referential_violations_total{field} - submissions skipped by the dashboard
//   - aiusage_config_replacements_total{result} - spreadsheet uploads
//   - aiusage_dashboard_build_seconds - time to load and aggregate a report
//   - aiusage_export_jobs_total{format,result} - export jobs run
type Metrics struct {
	SubmissionsTotal        *prometheus.CounterVec
	ReferentialViolations   *prometheus.CounterVec
	ConfigReplacementsTotal *prometheus.CounterVec
	DashboardBuildDuration  prometheus.Histogram
	ExportJobsTotal         *prometheus.CounterVec
}

// GetMetrics registers the collectors once with the default registry.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SubmissionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiusage_submissions_total",
					Help: "Total number of submissions stored",
				},
				[]string{"method"},
			),
			ReferentialViolations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiusage_referential_violations_total",
					Help: "Submissions excluded from the dashboard because a reference did not resolve",
				},
				[]string{"field"},
			),
			ConfigReplacementsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiusage_config_replacements_total",
					Help: "Configuration workbook replacements by result",
				},
				[]string{"result"},
			),
			DashboardBuildDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "aiusage_dashboard_build_seconds",
					Help:    "Time to load a snapshot and aggregate the dashboard",
					Buckets: prometheus.DefBuckets,
				},
			),
			ExportJobsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "aiusage_export_jobs_total",
					Help: "Export jobs by format and result",
				},
				[]string{"format", "result"},
			),
		}
	})
	return globalMetrics
}
