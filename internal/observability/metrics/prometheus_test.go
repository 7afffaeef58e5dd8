package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	config := DefaultPrometheusConfig()
	config.ProcessMetrics = false
	pm, err := NewPrometheusMetrics(config, logrus.New())
	require.NoError(t, err)
	return pm
}

func TestRecordClassification(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordClassification("default", 0.9, time.Millisecond)
	pm.RecordClassification("default", 0.1, time.Millisecond)
	pm.RecordClassification("default", 0.5, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.classificationsTotal.WithLabelValues("default", "cheat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.classificationsTotal.WithLabelValues("default", "legit")))

	pm.RecordLearnStep("default", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.learnStepsTotal.WithLabelValues("default", "cheat")))
}

func TestEpochObserver(t *testing.T) {
	pm := newTestMetrics(t)

	observer := pm.EpochObserver("default")
	observer.ObserveEpoch(evaluation.EpochReport{
		Epoch:     1,
		TrainLoss: 0.6,
		Validation: evaluation.Metrics{
			F1:     0.75,
			ROCAUC: 0.8,
		},
		BestEpoch: 1,
		Duration:  time.Second,
	})
	observer.ObserveEpoch(evaluation.EpochReport{Model: "other", Epoch: 1, TrainLoss: 0.4})

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.trainingEpochsTotal.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.trainingEpochsTotal.WithLabelValues("other")))
	assert.Equal(t, 0.6, testutil.ToFloat64(pm.trainingLoss.WithLabelValues("default")))
	assert.Equal(t, 0.75, testutil.ToFloat64(pm.validationMetric.WithLabelValues("default", "f1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.bestEpoch.WithLabelValues("default")))
}

func TestWorkerAndModelMetrics(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordWorkerJob("train", "completed", 2*time.Second)
	pm.RecordWorkerJob("train", "failed", time.Second)
	pm.SetActiveJobs(1)
	pm.SetModelsLoaded(3)
	pm.SetModelParameters("default", 1234)
	pm.SetExecutorQueueDepth("default", 4)
	pm.SetHealthStatus("redis", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.workerJobsTotal.WithLabelValues("train", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.workerJobsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.modelsLoaded))
	assert.Equal(t, 1234.0, testutil.ToFloat64(pm.modelParameters.WithLabelValues("default")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.healthStatus.WithLabelValues("redis")))

	pm.DeleteModel("default")
	assert.Equal(t, 0, testutil.CollectAndCount(pm.modelParameters))
}

func TestHandlerExposesMetrics(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordClassification("default", 0.7, time.Millisecond)

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "aimguard_classifications_total"))
	assert.True(t, strings.Contains(body, `verdict="cheat"`))
}

func TestRecordHTTPRequest(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordHTTPRequest(http.MethodPost, "/api/v1/models/{handle}/check", http.StatusOK, 5*time.Millisecond)
	pm.RecordHTTPRequest(http.MethodPost, "/api/v1/models/{handle}/check", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/models/{handle}/check", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/models/{handle}/check", "404")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.httpRequestDuration))
}
