// Package metrics exposes Prometheus collectors for the upload and transform paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "simple_media"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobsEnqueued      *prometheus.CounterVec
	jobsDuplicate     *prometheus.CounterVec
	jobsProcessed     *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	stageDuration     *prometheus.HistogramVec
	uploadCompletions *prometheus.CounterVec
}

// New registers the collectors with reg. Collectors that are already
// registered (for example when two engines share the default registry) are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Transcode jobs admitted to the queue.",
		}, []string{"category"}),
		jobsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_duplicate_total",
			Help:      "Transcode job submissions dropped because the job was already queued.",
		}, []string{"category"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Transcode jobs taken by workers, by outcome.",
		}, []string{"category", "outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs currently waiting in the queue.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each transform pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage", "status"}),
		uploadCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_completions_total",
			Help:      "Multipart upload completion outcomes.",
		}, []string{"status", "reason"}),
	}

	var err error
	if m.jobsEnqueued, err = registerCounterVec(reg, m.jobsEnqueued); err != nil {
		return nil, err
	}
	if m.jobsDuplicate, err = registerCounterVec(reg, m.jobsDuplicate); err != nil {
		return nil, err
	}
	if m.jobsProcessed, err = registerCounterVec(reg, m.jobsProcessed); err != nil {
		return nil, err
	}
	if m.uploadCompletions, err = registerCounterVec(reg, m.uploadCompletions); err != nil {
		return nil, err
	}
	if err := reg.Register(m.queueDepth); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, err
		}
		m.queueDepth = existing
	}
	if err := reg.Register(m.stageDuration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		m.stageDuration = existing
	}
	return m, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return c, nil
}

// JobEnqueued counts an admitted job.
func (m *Metrics) JobEnqueued(category string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.WithLabelValues(category).Inc()
}

// JobDuplicate counts a submission dropped by deduplication.
func (m *Metrics) JobDuplicate(category string) {
	if m == nil {
		return
	}
	m.jobsDuplicate.WithLabelValues(category).Inc()
}

// JobProcessed counts a job a worker finished with the given outcome.
func (m *Metrics) JobProcessed(category, outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(category, outcome).Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveStage records the time spent in a pipeline stage.
func (m *Metrics) ObserveStage(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

// UploadCompleted counts a completion outcome.
func (m *Metrics) UploadCompleted(status, reason string) {
	if m == nil {
		return
	}
	m.uploadCompletions.WithLabelValues(status, reason).Inc()
}
