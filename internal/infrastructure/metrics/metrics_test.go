package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorders(t *testing.T) {
	m := New()

	m.RecordAward("question_creation", true)
	m.RecordAward("question_creation", false)
	m.RecordEdit("reconcile", "question_validation")
	m.RecordRetry()
	m.RecordPublish("points.awarded")
	m.RecordHandlerExecution("points.awarded", time.Millisecond, false)
	m.ObserveRequest("/api/v1/points", http.MethodPost, 201, 5*time.Millisecond)
	m.RecordDBPoolStats(map[string]interface{}{"idle_conns": int32(3), "closed": true})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerMutations.WithLabelValues("award", "question_creation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapRejections.WithLabelValues("question_creation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerMutations.WithLabelValues("reconcile", "question_validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("points.awarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerFailures.WithLabelValues("points.awarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestCounter.WithLabelValues("/api/v1/points", "POST", "201")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnPoolStats.WithLabelValues("idle_conns")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordRetry()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "questpoints_ledger_reconcile_retries_total 1")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
