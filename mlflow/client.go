// Package mlflow logs family results to an MLflow tracking server over its
// REST API. Each family becomes one finished MLflow run.
package mlflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/types"
)

const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
	StatusFailed   = "FAILED"
)

type Client struct {
	uri          string
	experimentID string
	http         *http.Client
}

// New returns a client for the tracking server at uri. An empty
// experimentID logs into MLflow's default experiment "0".
func New(uri, experimentID string) *Client {
	if experimentID == "" {
		experimentID = "0"
	}
	return &Client{
		uri:          strings.TrimRight(uri, "/"),
		experimentID: experimentID,
		http:         &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	endpoint := c.uri + "/api/2.0/mlflow/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mlflow %s", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("MLflow API returned status code %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(respBody, out), "failed to parse response")
}

func (c *Client) CreateRun(ctx context.Context, name string, tags []types.Tag) (string, error) {
	var resp types.CreateRunResponse
	err := c.post(ctx, "runs/create", types.CreateRunRequest{
		ExperimentID: c.experimentID,
		RunName:      name,
		StartTime:    time.Now().UnixMilli(),
		Tags:         tags,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Run.Info.RunID == "" {
		return "", errors.New("mlflow returned no run id")
	}
	return resp.Run.Info.RunID, nil
}

func (c *Client) LogBatch(ctx context.Context, batch types.LogBatchRequest) error {
	return c.post(ctx, "runs/log-batch", batch, nil)
}

func (c *Client) SetStatus(ctx context.Context, runID, status string) error {
	return c.post(ctx, "runs/update", types.UpdateRunRequest{
		RunID:   runID,
		Status:  status,
		EndTime: time.Now().UnixMilli(),
	}, nil)
}

// LogFamily records one family result as a run named after the family,
// tagged with the selection run it belongs to.
func (c *Client) LogFamily(ctx context.Context, runID string, task types.TaskKind, result types.FamilyResult) error {
	id, err := c.CreateRun(ctx, result.ModelName, []types.Tag{
		{Key: "modelselect.run_id", Value: runID},
		{Key: "modelselect.task", Value: string(task)},
	})
	if err != nil {
		return err
	}

	batch := types.LogBatchRequest{
		RunID:   id,
		Params:  params(result.BestHyperparameters),
		Metrics: familyMetrics(result, time.Now().UnixMilli()),
	}
	if err := c.LogBatch(ctx, batch); err != nil {
		_ = c.SetStatus(ctx, id, StatusFailed)
		return err
	}
	if err := c.SetStatus(ctx, id, StatusFinished); err != nil {
		return err
	}

	logging.Debug().
		Str(logging.KeyRunID, runID).
		Str(logging.KeyModel, result.ModelName).
		Str("mlflow.run_id", id).
		Msg("family logged to mlflow")
	return nil
}

func params(hp map[string]any) []types.Param {
	keys := make([]string, 0, len(hp))
	for k := range hp {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]types.Param, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Param{Key: k, Value: fmt.Sprint(hp[k])})
	}
	return out
}

type namedValue struct {
	key   string
	value float64
}

// familyMetrics drops non-finite values, which MLflow rejects.
func familyMetrics(r types.FamilyResult, ts int64) []types.Metric {
	p := r.TestSetPerformance
	var named []namedValue
	if p.Task == types.Classification {
		named = []namedValue{
			{"cv_f1_weighted", r.CVScore},
			{"test_accuracy", p.Accuracy},
			{"test_f1_weighted", p.WeightedF1},
		}
	} else {
		named = []namedValue{
			{"cv_r2", r.CVScore},
			{"test_r2", p.RSquared},
			{"test_mse", p.MSE},
			{"test_mae", p.MAE},
		}
	}
	named = append(named, namedValue{"failed_trials", float64(r.FailedTrials)})

	out := make([]types.Metric, 0, len(named))
	for _, m := range named {
		if math.IsNaN(m.value) || math.IsInf(m.value, 0) {
			continue
		}
		out = append(out, types.Metric{Key: m.key, Value: m.value, Timestamp: ts})
	}
	return out
}
