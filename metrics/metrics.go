// Package metrics exposes prometheus collectors for runs, searches, the
// queue consumer and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelselect_runs_total",
			Help: "Model selection runs by task type and outcome",
		},
		[]string{"task", "outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelselect_run_duration_seconds",
			Help:    "Wall time of a full model selection run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		},
		[]string{"task"},
	)

	FamilyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelselect_family_duration_seconds",
			Help:    "Search, refit and evaluation time per model family",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		},
		[]string{"family"},
	)

	TrialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelselect_trials_total",
			Help: "Hyperparameter search trials by family and state",
		},
		[]string{"family", "state"},
	)

	BestScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelselect_family_test_score",
			Help: "Held-out primary metric of the last evaluated model per family",
		},
		[]string{"family"},
	)

	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelselect_queue_messages_total",
			Help: "Training requests consumed by outcome (processed, dropped, failed)",
		},
		[]string{"outcome"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelselect_api_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelselect_api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Queue message outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// TaskUnknown labels runs rejected before their task kind was parsed.
const TaskUnknown = "unknown"

func RecordRun(task string, duration time.Duration, err error) {
	if task == "" {
		task = TaskUnknown
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RunsTotal.WithLabelValues(task, outcome).Inc()
	RunDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func RecordFamily(family string, duration time.Duration, score float64) {
	FamilyDuration.WithLabelValues(family).Observe(duration.Seconds())
	BestScore.WithLabelValues(family).Set(score)
}

func RecordTrial(family, state string) {
	TrialsTotal.WithLabelValues(family, state).Inc()
}

func RecordQueueMessage(outcome string) {
	QueueMessages.WithLabelValues(outcome).Inc()
}

func RecordAPIRequest(route string, code int, duration time.Duration) {
	APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
