package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

func TestJobStatus_Upgrade(t *testing.T) {
	tests := []struct {
		a, b, want model.JobStatus
	}{
		{model.BatchStatusCompleted, model.BatchStatusCompleted, model.BatchStatusCompleted},
		{model.BatchStatusCompleted, model.BatchStatusStopped, model.BatchStatusStopped},
		{model.BatchStatusStopped, model.BatchStatusFailed, model.BatchStatusFailed},
		{model.BatchStatusFailed, model.BatchStatusCompleted, model.BatchStatusFailed},
		{model.BatchStatusCompleted, model.BatchStatusStarted, model.BatchStatusStarted},
		{model.BatchStatusFailed, model.BatchStatusAbandoned, model.BatchStatusAbandoned},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s+%s", tt.a, tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Upgrade(tt.b))
			assert.Equal(t, tt.want, tt.b.Upgrade(tt.a))
		})
	}
}

func TestJobStatus_Predicates(t *testing.T) {
	assert.True(t, model.BatchStatusStarting.IsRunning())
	assert.True(t, model.BatchStatusStopping.IsRunning())
	assert.False(t, model.BatchStatusStopped.IsRunning())
	assert.True(t, model.BatchStatusAbandoned.IsFinished())
	assert.False(t, model.BatchStatusUnknown.IsFinished())
	assert.Equal(t, model.ExitStatusExecuting, model.BatchStatusStarted.ToExitStatus())
	assert.Equal(t, model.ExitStatusUnknown, model.BatchStatusUnknown.ToExitStatus())
}

func TestStepExecution_Lifecycle(t *testing.T) {
	je := model.NewJobExecution(1, "job")
	se := model.NewStepExecution("worker:partition0", je)
	assert.Equal(t, model.BatchStatusStarting, se.Status)
	assert.NotNil(t, se.ExecutionContext)

	se.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, se.Status)
	assert.Nil(t, se.EndTime)

	cause := exception.NewBatchError("writer", "disk full", errors.New("ENOSPC"), false, false)
	se.MarkAsFailed(cause)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitStatusFailed, se.ExitStatus)
	require.NotNil(t, se.EndTime)
	assert.Equal(t, model.FailureList{"disk full"}, se.Failures)

	se.AddFailureException(errors.New("disk full"))
	assert.Len(t, se.Failures, 1, "duplicate messages are recorded once")
	assert.ErrorIs(t, se.FailureExceptions()[0], cause)

	// restart of a failed partition
	se.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, se.Status)
	se.MarkAsCompleted()
	assert.Equal(t, model.ExitStatusCompleted, se.ExitStatus)
}

func TestStepExecution_CloneSharesNothing(t *testing.T) {
	se := model.NewStepExecution("worker", model.NewJobExecution(1, "job"))
	se.ExecutionContext.PutLong("count", 1)
	se.AddFailureException(errors.New("boom"))
	se.MarkAsStopped()

	cp := se.Clone()
	cp.ExecutionContext.PutLong("count", 2)
	cp.Failures[0] = "changed"
	*cp.EndTime = cp.EndTime.Add(1)

	assert.EqualValues(t, 1, se.ExecutionContext.GetLongOrDefault("count", 0))
	assert.Equal(t, "boom", se.Failures[0])
	assert.NotEqual(t, *se.EndTime, *cp.EndTime)
	assert.Nil(t, (*model.StepExecution)(nil).Clone())
}

func TestFailureList_ValueAndScan(t *testing.T) {
	fl := model.FailureList{"a", "b"}
	v, err := fl.Value()
	require.NoError(t, err)

	var scanned model.FailureList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, fl, scanned)
}

func TestStepExecutionRequest(t *testing.T) {
	r := model.NewStepExecutionRequest("worker", 4, 9)
	assert.Equal(t, "worker", r.StepName)
	assert.EqualValues(t, 4, r.JobExecutionID)
	assert.EqualValues(t, 9, r.StepExecutionID)
	assert.Contains(t, r.String(), "worker")
	assert.Equal(t, "partition3", model.PartitionName(3))
}
