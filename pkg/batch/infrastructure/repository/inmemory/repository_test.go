package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	testutil "github.com/tigerroll/pagebatch/pkg/batch/test"
)

func TestCreateJobInstance_ReturnsExistingForSameKey(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()

	first, err := repo.CreateJobInstance(ctx, "importJob", "date=2024-01-01")
	require.NoError(t, err)
	again, err := repo.CreateJobInstance(ctx, "importJob", "date=2024-01-01")
	require.NoError(t, err)
	other, err := repo.CreateJobInstance(ctx, "importJob", "date=2024-01-02")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = repo.FindJobInstanceByID(ctx, 99)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
}

func TestStepExecution_SaveAssignsIDAndStoresCopy(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := testutil.NewTestJobExecution(t, repo, "job")

	se := model.NewStepExecution("step", je)
	se.ExecutionContext.PutLong("minValue", 1)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	assert.NotZero(t, se.ID)

	se.ExecutionContext.PutLong("minValue", 50)
	se.ReadCount = 7

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, loaded.ExecutionContext.GetLongOrDefault("minValue", 0))
	assert.Zero(t, loaded.ReadCount)
	assert.Equal(t, je.ID, loaded.JobExecutionID)
	assert.Equal(t, je.JobInstanceID, loaded.JobInstanceID)
}

func TestUpdateStepExecution_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := testutil.NewTestJobExecution(t, repo, "job")
	se := testutil.NewTestStepExecution(t, repo, je, "step")

	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.MarkAsStarted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	assert.Equal(t, 1, se.Version)

	stale.MarkAsFailed(nil)
	err = repo.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, loaded.Status)

	missing := model.NewStepExecution("ghost", je)
	missing.ID = 404
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, missing), repository.ErrStepExecutionNotFound)
}

func TestFindJobExecutionByID_LoadsStepExecutionsInIDOrder(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := testutil.NewTestJobExecution(t, repo, "job")
	for _, name := range []string{"a", "b", "c"} {
		testutil.NewTestStepExecution(t, repo, je, name)
	}
	otherJob := testutil.NewTestJobExecution(t, repo, "other")
	testutil.NewTestStepExecution(t, repo, otherJob, "x")

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	require.Len(t, loaded.StepExecutions, 3)
	assert.Equal(t, "a", loaded.StepExecutions[0].StepName)
	assert.Equal(t, "c", loaded.StepExecutions[2].StepName)

	_, err = repo.FindJobExecutionByID(ctx, 12345)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestGetLastStepExecution(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()

	first := testutil.NewTestJobExecution(t, repo, "job")
	old := testutil.NewTestStepExecution(t, repo, first, "step:partition0")
	testutil.MarkStepAs(t, repo, old, model.BatchStatusFailed)

	second := model.NewJobExecution(first.JobInstanceID, "job")
	require.NoError(t, repo.SaveJobExecution(ctx, second))
	latest := testutil.NewTestStepExecution(t, repo, second, "step:partition0")

	got, err := repo.GetLastStepExecution(ctx, first.JobInstanceID, "step:partition0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, latest.ID, got.ID)

	none, err := repo.GetLastStepExecution(ctx, first.JobInstanceID, "never")
	require.NoError(t, err)
	assert.Nil(t, none)
}
