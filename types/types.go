package types

import (
	"strings"

	"github.com/pkg/errors"
)

// TaskKind selects the family catalog and the ranking metric.
type TaskKind string

const (
	Classification TaskKind = "classification"
	Regression     TaskKind = "regression"
)

// ParseTaskKind accepts the two task kinds understood by the selector.
func ParseTaskKind(s string) (TaskKind, error) {
	switch TaskKind(strings.ToLower(strings.TrimSpace(s))) {
	case Classification:
		return Classification, nil
	case Regression:
		return Regression, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "task type %q must be 'classification' or 'regression'", s)
}

// TaskDefinition is the training request consumed from the request queue.
type TaskDefinition struct {
	DatasetID    string `json:"dataset_id" validate:"required"`
	DatasetKey   string `json:"dataset_key" validate:"required"`
	TargetColumn string `json:"target_column" validate:"required"`
	TaskType     string `json:"task_type" validate:"required,oneof=classification regression"`
	NTrials      int    `json:"n_trials,omitempty" validate:"omitempty,gt=0"`
}

// ResultMessage is published to the result queue once a run has finished and
// its model has been uploaded.
type ResultMessage struct {
	DatasetID string `json:"dataset_id"`
	Report
}

// MLflow tracking API payloads

type RunInfo struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	ExperimentID string `json:"experiment_id"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int     `json:"step"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type CreateRunRequest struct {
	ExperimentID string `json:"experiment_id"`
	RunName      string `json:"run_name,omitempty"`
	StartTime    int64  `json:"start_time"`
	Tags         []Tag  `json:"tags,omitempty"`
}

type CreateRunResponse struct {
	Run struct {
		Info RunInfo `json:"info"`
	} `json:"run"`
}

type LogBatchRequest struct {
	RunID   string   `json:"run_id"`
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []Tag    `json:"tags,omitempty"`
}

type UpdateRunRequest struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	EndTime int64  `json:"end_time"`
}
