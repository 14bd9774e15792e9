// Package metrics exposes Prometheus collectors for submissions, job
// outcomes and plan estimates. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "planit"

// Metrics holds the planit collectors and the registry they live in.
type Metrics struct {
	registry      *prometheus.Registry
	jobsSubmitted *prometheus.CounterVec
	jobFailures   *prometheus.CounterVec
	jobWait       *prometheus.HistogramVec
	planEstimate  *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs handed to a scheduler backend.",
		}, []string{"backend"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Jobs that finished in a failed state.",
		}, []string{"backend"}),
		jobWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_wait_seconds",
			Help:      "Time from submission until a job reached a terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"backend"}),
		planEstimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_estimated_seconds",
			Help:      "Estimated wall-clock duration of a plan, ignoring queueing.",
		}, []string{"plan"}),
	}
	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobFailures,
		m.jobWait,
		m.planEstimate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobSubmitted counts one submission to backend.
func (m *Metrics) JobSubmitted(backend string) {
	if m == nil {
		return
	}
	m.jobsSubmitted.WithLabelValues(backend).Inc()
}

// JobFinished records how long a job took to reach a terminal state and
// whether it failed.
func (m *Metrics) JobFinished(backend string, waited time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobWait.WithLabelValues(backend).Observe(waited.Seconds())
	if err != nil {
		m.jobFailures.WithLabelValues(backend).Inc()
	}
}

// PlanEstimated publishes a plan's estimated duration.
func (m *Metrics) PlanEstimated(plan string, d time.Duration) {
	if m == nil {
		return
	}
	m.planEstimate.WithLabelValues(plan).Set(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
