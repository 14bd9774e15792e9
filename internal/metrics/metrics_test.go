package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.JobSubmitted("local")
	m.JobSubmitted("local")
	m.JobSubmitted("slurm")
	m.JobFinished("local", 2*time.Second, nil)
	m.JobFinished("local", 3*time.Second, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsSubmitted.WithLabelValues("slurm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobFailures.WithLabelValues("local")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobFailures.WithLabelValues("slurm")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobWait))
}

func TestPlanEstimated(t *testing.T) {
	m := New()
	m.PlanEstimated("etl", 90*time.Minute)
	assert.Equal(t, 5400.0, testutil.ToFloat64(m.planEstimate.WithLabelValues("etl")))

	m.PlanEstimated("etl", time.Hour)
	assert.Equal(t, 3600.0, testutil.ToFloat64(m.planEstimate.WithLabelValues("etl")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted("local")
		m.JobFinished("local", time.Second, errors.New("x"))
		m.PlanEstimated("p", time.Second)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.JobSubmitted("slurm")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `planit_jobs_submitted_total{backend="slurm"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
