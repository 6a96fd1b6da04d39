// Package metrics exposes Prometheus collectors for commits, deltas and the
// commit job queue. All methods are safe on a nil *Collectors so components
// can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtmerrors "rtm/internal/errors"
	"rtm/internal/model"
)

// Commit outcomes used as the "outcome" label.
const (
	OutcomeCommitted = "committed"
	OutcomePartial   = "partial"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Collectors groups rtm's metrics on one registry.
type Collectors struct {
	commitsTotal    *prometheus.CounterVec
	commitDuration  prometheus.Histogram
	entitiesTotal   *prometheus.CounterVec
	entityErrors    *prometheus.CounterVec
	deltaDuration   prometheus.Histogram
	resolveDuration *prometheus.HistogramVec
	jobsTotal       *prometheus.CounterVec
	jobQueueDepth   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_commits_total",
			Help: "Commits by outcome",
		}, []string{"outcome"}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtm_commit_duration_seconds",
			Help:    "Commit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		entitiesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_commit_entities_total",
			Help: "Version entity rows written by kind and modification",
		}, []string{"kind", "modification"}),
		entityErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_commit_entity_errors_total",
			Help: "Rejected incoming entities by error code",
		}, []string{"code"}),
		deltaDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtm_delta_duration_seconds",
			Help:    "Delta computation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		resolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rtm_resolve_duration_seconds",
			Help:    "Project reconstruction duration in seconds by entity kind",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rtm_commit_jobs_total",
			Help: "Finished commit jobs by final status",
		}, []string{"status"}),
		jobQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtm_commit_job_queue_depth",
			Help: "Commit jobs waiting for a worker",
		}),
	}
}

// NewRegistry returns a registry with the Go and process collectors plus
// rtm's collectors.
func NewRegistry() (*prometheus.Registry, *Collectors) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObserveCommit records a finished commit.
func (c *Collectors) ObserveCommit(result *model.CommitResult, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.commitDuration.Observe(elapsed.Seconds())

	outcome := OutcomeCommitted
	switch {
	case rtmerrors.Is(err, rtmerrors.CommitRejected):
		outcome = OutcomeRejected
	case err != nil:
		outcome = OutcomeFailed
	case result != nil && result.HasErrors():
		outcome = OutcomePartial
	}
	c.commitsTotal.WithLabelValues(outcome).Inc()

	if result == nil {
		return
	}
	for _, e := range result.Errors {
		c.entityErrors.WithLabelValues(e.Code).Inc()
	}
	if err != nil {
		return
	}
	for _, a := range result.Accepted {
		modification := string(a.Modification)
		if a.Retracted {
			modification = "RETRACTED"
		}
		c.entitiesTotal.WithLabelValues(string(a.Kind), modification).Inc()
	}
}

// ObserveDelta records a delta computation.
func (c *Collectors) ObserveDelta(elapsed time.Duration) {
	if c == nil {
		return
	}
	c.deltaDuration.Observe(elapsed.Seconds())
}

// ObserveResolve records a project reconstruction for one entity kind.
func (c *Collectors) ObserveResolve(kind model.EntityKind, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.resolveDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// JobFinished counts a job reaching a terminal status.
func (c *Collectors) JobFinished(status string) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth reports the number of queued jobs.
func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.jobQueueDepth.Set(float64(n))
}
