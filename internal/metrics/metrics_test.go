package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test")
	m.RecordTransition("SUCCESS")
	m.RecordTransition("SUCCESS")
	m.RecordRequest("urls", "created")
	m.RecordReuse("attached")
	m.SetQueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("urls", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reused.WithLabelValues("attached")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New("a")
		New("a")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("svc")
	m.RecordTransition("FAIL")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `svc_process_transitions_total{status="FAIL"} 1`)
}
