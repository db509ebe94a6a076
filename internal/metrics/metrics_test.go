package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskdash/pkg/models"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Event(models.KindProducerLog)
	m.Event(models.KindProducerLog)
	m.Dropped(models.KindEmailAnalysis)
	m.Flagged(models.CategoryHTTP)
	m.RiskPoint()
	m.SessionReset()
	m.Outbound(models.KindUploadCSV, nil)
	m.Outbound(models.KindUploadCSV, errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("producer_log")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("email_analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flagged.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.riskPoints))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbound.WithLabelValues("upload_csv", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outbound.WithLabelValues("upload_csv", "error")))
}

func TestSetPhaseIsExclusive(t *testing.T) {
	m := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("idle")))

	m.SetPhase(models.PhasePredicting)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("predicting")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Event(models.KindProducerLog)
	m.Dropped(models.KindProducerLog)
	m.Flagged(models.CategoryEmail)
	m.Outbound(models.KindProcessEmailData, nil)
	m.RiskPoint()
	m.SessionReset()
	m.SetPhase(models.PhaseDone)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Dropped(models.KindMessageArrived)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `riskdash_dropped_payloads_total{kind="new_kafka_message"} 1`)
	assert.Contains(t, string(body), `riskdash_workflow_phase{phase="idle"} 1`)
}
