package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("regression", "failure"))
	RecordRun("regression", time.Second, errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues("regression", "failure")))
}

func TestRecordRunWithoutTask(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues(TaskUnknown, "failure"))
	RecordRun("", time.Millisecond, errors.New("unknown task"))
	assert.Equal(t, before+1, testutil.ToFloat64(RunsTotal.WithLabelValues(TaskUnknown, "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(RunsTotal.WithLabelValues("", "failure")))
}

func TestRecordFamilyAndTrials(t *testing.T) {
	RecordFamily("Ridge", 2*time.Second, 0.93)
	assert.Equal(t, 0.93, testutil.ToFloat64(BestScore.WithLabelValues("Ridge")))

	before := testutil.ToFloat64(TrialsTotal.WithLabelValues("Ridge", "failed"))
	RecordTrial("Ridge", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(TrialsTotal.WithLabelValues("Ridge", "failed")))
}

func TestRecordQueueMessage(t *testing.T) {
	before := testutil.ToFloat64(QueueMessages.WithLabelValues(OutcomeDropped))
	RecordQueueMessage(OutcomeDropped)
	assert.Equal(t, before+1, testutil.ToFloat64(QueueMessages.WithLabelValues(OutcomeDropped)))
}
