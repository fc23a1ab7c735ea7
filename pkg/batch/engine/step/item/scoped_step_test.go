package item_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	reader "github.com/tigerroll/pagebatch/pkg/batch/component/step/reader"
	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	item "github.com/tigerroll/pagebatch/pkg/batch/engine/step/item"
	inmemory "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/test"
)

func TestScopedStep_BuildsStepPerExecution(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	je := test.NewTestJobExecution(t, repo, "scopedJob")

	w := &recordingWriter{}
	factory := func(ctx context.Context, se *model.StepExecution) (port.Step, error) {
		lo := int(se.ExecutionContext.GetLongOrDefault("minValue", 0))
		hi := int(se.ExecutionContext.GetLongOrDefault("maxValue", 0))
		cfg := reader.NewPagingReaderConfig("numbers")
		cfg.PageSize = 3
		r, err := reader.NewPagingReader[int](cfg, reader.NewSlicePageSource(sequence(lo, hi)))
		if err != nil {
			return nil, err
		}
		return item.NewChunkStep[int](se.StepName, r, w, 5, repo)
	}
	step, err := item.NewScopedStep("worker", factory)
	require.NoError(t, err)
	assert.Equal(t, "worker", step.StepName())

	var wg sync.WaitGroup
	executions := make([]*model.StepExecution, 3)
	for i := range executions {
		se := test.NewTestStepExecution(t, repo, je, model.PartitionName(i))
		se.ExecutionContext.PutLong("minValue", int64(i*10+1))
		se.ExecutionContext.PutLong("maxValue", int64(i*10+10))
		executions[i] = se
	}
	for _, se := range executions {
		wg.Add(1)
		go func(se *model.StepExecution) {
			defer wg.Done()
			assert.NoError(t, step.Execute(context.Background(), se))
		}(se)
	}
	wg.Wait()

	assert.ElementsMatch(t, sequence(1, 30), w.written())
	for _, se := range executions {
		assert.EqualValues(t, 10, se.ReadCount)
		assert.EqualValues(t, 2, se.CommitCount)
	}
}

func TestScopedStep_FactoryErrorAndDelegation(t *testing.T) {
	se := &model.StepExecution{ID: 3, StepName: "worker:partition0", ExecutionContext: model.NewExecutionContext()}

	failing, err := item.NewScopedStep("worker", func(context.Context, *model.StepExecution) (port.Step, error) {
		return nil, errors.New("no connection")
	})
	require.NoError(t, err)
	err = failing.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsBatchError(err))
	assert.Contains(t, err.Error(), "no connection")

	delegate := &test.MockStep{Name: "inner"}
	delegate.On("Execute", mock.Anything, se).Return(port.ErrJobInterrupted).Once()
	delegating, err := item.NewScopedStep("worker", func(context.Context, *model.StepExecution) (port.Step, error) {
		return delegate, nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, delegating.Execute(context.Background(), se), port.ErrJobInterrupted)
	delegate.AssertExpectations(t)

	_, err = item.NewScopedStep("", nil)
	assert.True(t, exception.IsConfigError(err))
	_, err = item.NewScopedStep("worker", nil)
	assert.True(t, exception.IsConfigError(err))
}
