// Package metrics exposes execution events as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/runoshun/crewstate/internal/domain"
)

const namespace = "crewstate"

// Recorder implements domain.MetricsRecorder on a dedicated registry.
type Recorder struct {
	registry *prometheus.Registry

	tasksStarted     *prometheus.CounterVec
	tasksFinished    *prometheus.CounterVec
	tasksInFlight    *prometheus.GaugeVec
	taskDuration     *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
}

// Ensure Recorder implements domain.MetricsRecorder.
var _ domain.MetricsRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,

		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "tasks_started_total",
			Help:      "Total task attempts started.",
		}, []string{"project"}),

		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "tasks_finished_total",
			Help:      "Total tasks settled, labelled by project and final status.",
		}, []string{"project", "status"}),

		tasksInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "tasks_inflight",
			Help:      "Tasks currently being executed.",
		}, []string{"project"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "driver",
			Name:      "task_duration_seconds",
			Help:      "Task execution time in seconds, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}, []string{"project"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Total retries scheduled, labelled by error category.",
		}, []string{"project", "category"}),

		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "checkpoints_total",
			Help:      "Total checkpoints created.",
		}, []string{"project"}),

		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total driver runs ended, labelled by resulting session status.",
		}, []string{"project", "status"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.tasksStarted,
		r.tasksFinished,
		r.tasksInFlight,
		r.taskDuration,
		r.retries,
		r.checkpoints,
		r.sessionsFinished,
	)
	return r
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// TaskStarted records the start of a task.
func (r *Recorder) TaskStarted(projectID string) {
	r.tasksStarted.WithLabelValues(projectID).Inc()
	r.tasksInFlight.WithLabelValues(projectID).Inc()
}

// TaskFinished records a settled task.
func (r *Recorder) TaskFinished(projectID string, status domain.Status, elapsed time.Duration) {
	r.tasksInFlight.WithLabelValues(projectID).Dec()
	r.tasksFinished.WithLabelValues(projectID, string(status)).Inc()
	r.taskDuration.WithLabelValues(projectID).Observe(elapsed.Seconds())
}

// RetryScheduled records a retry decision.
func (r *Recorder) RetryScheduled(projectID string, category domain.ErrorCategory) {
	r.retries.WithLabelValues(projectID, string(category)).Inc()
}

// CheckpointCreated records a new checkpoint.
func (r *Recorder) CheckpointCreated(projectID string) {
	r.checkpoints.WithLabelValues(projectID).Inc()
}

// SessionFinished records the status a driver run left its session in.
func (r *Recorder) SessionFinished(projectID string, status domain.SessionStatus) {
	r.sessionsFinished.WithLabelValues(projectID, string(status)).Inc()
}
