package mlflow

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/types"
)

type fakeServer struct {
	mu      sync.Mutex
	paths   []string
	created types.CreateRunRequest
	batch   types.LogBatchRequest
	update  types.UpdateRunRequest
	failLog bool
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.URL.Path)

	switch r.URL.Path {
	case "/api/2.0/mlflow/runs/create":
		_ = json.NewDecoder(r.Body).Decode(&f.created)
		_, _ = w.Write([]byte(`{"run":{"info":{"run_id":"abc123","status":"RUNNING"}}}`))
	case "/api/2.0/mlflow/runs/log-batch":
		if f.failLog {
			http.Error(w, "bad batch", http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.batch)
		_, _ = w.Write([]byte(`{}`))
	case "/api/2.0/mlflow/runs/update":
		_ = json.NewDecoder(r.Body).Decode(&f.update)
		_, _ = w.Write([]byte(`{}`))
	default:
		http.NotFound(w, r)
	}
}

func classificationResult() types.FamilyResult {
	return types.FamilyResult{
		ModelName:           "RandomForestClassifier",
		BestHyperparameters: map[string]any{"n_estimators": 120, "max_depth": 7},
		CVScore:             0.93,
		TestSetPerformance: types.Performance{
			Task:       types.Classification,
			Accuracy:   0.95,
			WeightedF1: math.NaN(),
		},
	}
}

func TestLogFamily(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := New(srv.URL+"/", "7")
	err := c.LogFamily(context.Background(), "run-1", types.Classification, classificationResult())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/api/2.0/mlflow/runs/create",
		"/api/2.0/mlflow/runs/log-batch",
		"/api/2.0/mlflow/runs/update",
	}, fake.paths)

	assert.Equal(t, "7", fake.created.ExperimentID)
	assert.Equal(t, "RandomForestClassifier", fake.created.RunName)
	assert.Contains(t, fake.created.Tags, types.Tag{Key: "modelselect.run_id", Value: "run-1"})

	assert.Equal(t, "abc123", fake.batch.RunID)
	assert.Equal(t, []types.Param{
		{Key: "max_depth", Value: "7"},
		{Key: "n_estimators", Value: "120"},
	}, fake.batch.Params)

	keys := make([]string, 0, len(fake.batch.Metrics))
	for _, m := range fake.batch.Metrics {
		keys = append(keys, m.Key)
	}
	assert.Equal(t, []string{"cv_f1_weighted", "test_accuracy", "failed_trials"}, keys, "NaN metric is skipped")

	assert.Equal(t, "abc123", fake.update.RunID)
	assert.Equal(t, StatusFinished, fake.update.Status)
}

func TestLogFamilyMarksRunFailed(t *testing.T) {
	fake := &fakeServer{failLog: true}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	err := New(srv.URL, "").LogFamily(context.Background(), "run-1", types.Classification, classificationResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, "0", fake.created.ExperimentID)
	assert.Equal(t, StatusFailed, fake.update.Status)
}

func TestRegressionMetrics(t *testing.T) {
	r := types.FamilyResult{
		CVScore:      0.8,
		FailedTrials: 2,
		TestSetPerformance: types.Performance{
			Task: types.Regression, RSquared: 0.9, MSE: 1.5, MAE: math.Inf(1),
		},
	}
	got := familyMetrics(r, 10)
	require.Len(t, got, 4)
	assert.Equal(t, types.Metric{Key: "cv_r2", Value: 0.8, Timestamp: 10}, got[0])
	assert.Equal(t, "test_mse", got[2].Key)
	assert.Equal(t, types.Metric{Key: "failed_trials", Value: 2, Timestamp: 10}, got[3])
}
