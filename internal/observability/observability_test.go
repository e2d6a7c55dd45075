package observability

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "warn")

	logger.Info("dropped")
	logger.Warn("kept", "loan_id", "loan-1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "loan-1", line["loan_id"])
}

func TestLoggerTextOutsideProduction(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "local", "debug").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics()
	m.ObserveOperation("loan_application", "ok")
	m.ObserveOperation("loan_application", "insufficient_score")
	m.ObserveJob("distribute_bonus", "done")
	m.SetBacklog(map[string]int64{"pending": 3})
	m.ObserveHTTP("POST", "/v1/operations/loan", "200", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("loan_application", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.outboxBacklog.WithLabelValues("pending")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "scorelend_outbox_jobs_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("loan_application", "ok")
		m.ObserveJob("x", "done")
		m.SetBacklog(nil)
		m.WSClientConnected()
	})
}
