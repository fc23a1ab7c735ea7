package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	"github.com/tigerroll/pagebatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	"github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	testutil "github.com/tigerroll/pagebatch/pkg/batch/test"
)

func newLauncher(repo repository.JobRepository) *usecase.SimpleJobLauncher {
	return usecase.NewSimpleJobLauncher(repo, metrics.NewNoOpMetricRecorder(), metrics.NewNoOpTracer())
}

func TestSimpleJobExplorer_GetStepExecution(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	explorer := usecase.NewSimpleJobExplorer(repo)

	je := testutil.NewTestJobExecution(t, repo, "job")
	se := testutil.NewTestStepExecution(t, repo, je, "step")

	got, err := explorer.GetStepExecution(ctx, je.ID, se.ID)
	require.NoError(t, err)
	assert.Equal(t, "step", got.StepName)

	_, err = explorer.GetStepExecution(ctx, je.ID+100, se.ID)
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound, "step execution of another job execution")

	_, err = explorer.GetStepExecution(ctx, je.ID, se.ID+100)
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)

	_, err = explorer.GetJobExecution(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSimpleJobLauncher_RunsStepsInOrder(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var order []string
	record := func(name string) port.Step {
		return port.StepFunc{Name: name, Fn: func(ctx context.Context, se *model.StepExecution) error {
			order = append(order, name)
			se.ReadCount = 3
			return nil
		}}
	}

	je, err := newLauncher(repo).Launch(context.Background(), "job", "k", record("load"), record("report"))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitStatusCompleted, je.ExitStatus)
	assert.Equal(t, []string{"load", "report"}, order)

	steps, err := repo.FindStepExecutionsByJobExecutionID(context.Background(), je.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, model.BatchStatusCompleted, steps[0].Status)
	assert.EqualValues(t, 3, steps[0].ReadCount)
}

func TestSimpleJobLauncher_StopsAtFailedStepAndRestarts(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	launcher := newLauncher(repo)

	first := &testutil.MockStep{Name: "first"}
	first.On("Execute", mock.Anything, mock.Anything).Return(nil).Once()

	second := &testutil.MockStep{Name: "second"}
	second.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*model.StepExecution).ExecutionContext.PutLong("reader.read.count", 40)
	}).Return(errors.New("disk full")).Once()

	je, err := launcher.Launch(ctx, "job", "k", first, second)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Contains(t, je.Failures, "disk full")

	var restored int64
	second.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		restored = args.Get(1).(*model.StepExecution).ExecutionContext.GetLongOrDefault("reader.read.count", 0)
	}).Return(nil).Once()

	again, err := launcher.Launch(ctx, "job", "k", first, second)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, again.Status)
	assert.EqualValues(t, 40, restored, "restarted step sees the previous context")
	first.AssertNumberOfCalls(t, "Execute", 1)
	second.AssertNumberOfCalls(t, "Execute", 2)
}

func TestSimpleJobLauncher_InterruptedStepIsStopped(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	step := port.StepFunc{Name: "slow", Fn: func(ctx context.Context, se *model.StepExecution) error {
		return port.ErrJobInterrupted
	}}

	je, err := newLauncher(repo).Launch(context.Background(), "job", "k", step)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitStatusStopped, je.ExitStatus)
}

func TestSimpleJobLauncher_StopUnknownExecution(t *testing.T) {
	launcher := newLauncher(inmemory.NewInMemoryJobRepository())
	assert.Error(t, launcher.Stop(42))

	_, err := launcher.Launch(context.Background(), "job", "k")
	assert.Error(t, err, "a job needs at least one step")
}
