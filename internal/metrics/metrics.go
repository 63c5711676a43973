package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crn_job_submissions_total",
			Help: "Total number of job submissions by outcome.",
		},
		[]string{"outcome"},
	)

	JobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crn_job_transitions_total",
			Help: "Total number of job status transitions.",
		},
		[]string{"status"},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crn_reconciliations_total",
			Help: "Total number of status reconciliations by result.",
		},
		[]string{"result"},
	)

	DispatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crn_dispatch_failures_total",
			Help: "Total number of backend dispatch failures.",
		},
	)

	ArchiveObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crn_archive_objects_total",
			Help: "Total number of objects streamed into download archives.",
		},
		[]string{"kind"},
	)
)

// Register installs the crn collectors on the default registry.
func Register() {
	prometheus.MustRegister(
		JobSubmissionsTotal,
		JobTransitionsTotal,
		ReconciliationsTotal,
		DispatchFailuresTotal,
		ArchiveObjectsTotal,
	)
}
