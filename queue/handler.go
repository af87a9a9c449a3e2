package queue

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/artifact"
	"github.com/gidra39/modelselect/dataset"
	"github.com/gidra39/modelselect/logging"
	"github.com/gidra39/modelselect/metrics"
	"github.com/gidra39/modelselect/runstore"
	"github.com/gidra39/modelselect/selector"
	"github.com/gidra39/modelselect/types"
	"github.com/gidra39/modelselect/validation"
)

// Runner performs one model-selection run.
type Runner interface {
	Run(ctx context.Context, req selector.Request) (*selector.Result, error)
}

// Notifier reports finished and failed runs to people.
type Notifier interface {
	Notify(text string) error
}

type Handler struct {
	runner   Runner
	objects  artifact.ObjectStore
	results  *ResultPublisher
	runs     *runstore.Store
	notifier Notifier
}

type HandlerOption func(*Handler)

func WithRunStore(s *runstore.Store) HandlerOption {
	return func(h *Handler) { h.runs = s }
}

func WithNotifier(n Notifier) HandlerOption {
	return func(h *Handler) { h.notifier = n }
}

func NewHandler(runner Runner, objects artifact.ObjectStore, results *ResultPublisher, opts ...HandlerOption) *Handler {
	h := &Handler{runner: runner, objects: objects, results: results}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle processes one training task. Tasks that can never succeed are
// acknowledged and dropped; any other error is returned so the router
// retries the message.
func (h *Handler) Handle(msg *message.Message) error {
	ctx := msg.Context()

	var task types.TaskDefinition
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		h.drop(msg, errors.Wrap(err, "malformed task"))
		return nil
	}
	if err := validation.Struct(task); err != nil {
		h.drop(msg, errors.Wrap(err, "invalid task"))
		return nil
	}
	log := logging.With().Str(logging.KeyDataset, task.DatasetID).Str("message.uuid", msg.UUID).Logger()
	log.Info().Str("dataset.key", task.DatasetKey).Str(logging.KeyTask, task.TaskType).Msg("task received")

	err := h.process(ctx, task)
	switch {
	case err == nil:
		metrics.RecordQueueMessage(metrics.OutcomeProcessed)
		return nil
	case errors.Is(err, types.ErrInvalidInput):
		h.notify(fmt.Sprintf("Classical modeling failed for dataset %s: %v", task.DatasetID, err))
		h.drop(msg, err)
		return nil
	}
	log.Warn().Err(err).Msg("task attempt failed")
	return err
}

// NotifyFailure wraps the retrying part of the handler chain, so it sees an
// error only once the retries are exhausted and the task is about to be
// moved to the poison topic.
func (h *Handler) NotifyFailure(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := next(msg)
		if err == nil {
			return produced, nil
		}
		var task types.TaskDefinition
		_ = json.Unmarshal(msg.Payload, &task)

		metrics.RecordQueueMessage(metrics.OutcomeFailed)
		logging.Error().Err(err).Str(logging.KeyDataset, task.DatasetID).Str("message.uuid", msg.UUID).Msg("task failed")
		h.notify(fmt.Sprintf("Classical modeling failed for dataset %s: %v", task.DatasetID, err))
		return produced, err
	}
}

func (h *Handler) drop(msg *message.Message, err error) {
	metrics.RecordQueueMessage(metrics.OutcomeDropped)
	logging.Warn().Err(err).Str("message.uuid", msg.UUID).Msg("task dropped")
}

func (h *Handler) process(ctx context.Context, task types.TaskDefinition) error {
	raw, err := h.objects.Download(ctx, task.DatasetKey)
	if err != nil {
		return err
	}
	ds, err := dataset.ReadCSV(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	res, err := h.runner.Run(ctx, selector.Request{
		Dataset:      ds,
		DatasetID:    task.DatasetID,
		TargetColumn: task.TargetColumn,
		Task:         task.TaskType,
		NTrials:      task.NTrials,
	})
	if err != nil {
		return err
	}

	model, err := os.ReadFile(res.ModelPath)
	if err != nil {
		return errors.Wrap(types.ErrPersistence, err.Error())
	}
	key := res.ModelUUID + artifact.ModelExt
	if err := h.objects.Upload(ctx, key, model, res.ModelPath); err != nil {
		return err
	}

	report := res.Report
	report.BestModelInfo.ModelUUID = key
	if err := h.results.Publish(ctx, types.ResultMessage{DatasetID: task.DatasetID, Report: report}); err != nil {
		return err
	}
	h.index(ctx, task, res, key, report)

	best := report.BestModelInfo
	h.notify(fmt.Sprintf("Classical modeling finished for dataset %s\nBest model: %s\nTest score: %.4f\nModel: %s",
		task.DatasetID, best.ModelName, best.TestSetPerformance.Primary(), key))
	return nil
}

func (h *Handler) index(ctx context.Context, task types.TaskDefinition, res *selector.Result, key string, report types.Report) {
	if h.runs == nil {
		return
	}
	body, err := json.Marshal(report)
	if err == nil {
		err = h.runs.Put(ctx, runstore.Record{
			RunID:     res.ModelUUID,
			DatasetID: task.DatasetID,
			Task:      task.TaskType,
			ModelName: report.BestModelInfo.ModelName,
			ModelKey:  key,
			Report:    body,
		})
	}
	if err != nil {
		logging.Warn().Err(err).Str(logging.KeyRunID, res.ModelUUID).Msg("run not indexed")
	}
}

func (h *Handler) notify(text string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(text); err != nil {
		logging.Warn().Err(err).Msg("notification failed")
	}
}
