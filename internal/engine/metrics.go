package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskgrid/internal/model"
)

var (
	tasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskgrid_tasks_completed_total",
			Help: "Total number of task executions that reached a terminal state.",
		},
		[]string{"state"},
	)

	tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskgrid_tasks_active",
			Help: "Number of task executions currently registered with the engine.",
		},
	)

	jobFailoversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgrid_job_failovers_total",
			Help: "Total number of jobs resent to another node after a failure.",
		},
	)

	tasksRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskgrid_tasks_rejected_total",
			Help: "Total number of submissions rejected because the mapping pool was saturated.",
		},
	)

	taskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskgrid_task_duration_seconds",
			Help:    "Task execution duration from submission to terminal state, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(tasksCompletedTotal)
	prometheus.MustRegister(tasksActive)
	prometheus.MustRegister(jobFailoversTotal)
	prometheus.MustRegister(tasksRejectedTotal)
	prometheus.MustRegister(taskDuration)

	for _, s := range []string{model.StateSucceeded, model.StateFailed, model.StateCancelled} {
		tasksCompletedTotal.WithLabelValues(s)
	}
}
