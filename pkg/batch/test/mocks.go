package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// MockJobExplorer implements repository.JobExplorer.
type MockJobExplorer struct {
	mock.Mock
}

var _ repository.JobExplorer = (*MockJobExplorer)(nil)

func (m *MockJobExplorer) GetJobExecution(ctx context.Context, jobExecutionID int64) (*model.JobExecution, error) {
	args := m.Called(ctx, jobExecutionID)
	if res, ok := args.Get(0).(*model.JobExecution); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockJobExplorer) GetStepExecution(ctx context.Context, jobExecutionID, stepExecutionID int64) (*model.StepExecution, error) {
	args := m.Called(ctx, jobExecutionID, stepExecutionID)
	if res, ok := args.Get(0).(*model.StepExecution); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockStep implements port.Step. Execute returns the configured error.
type MockStep struct {
	mock.Mock
	Name string
}

var _ port.Step = (*MockStep)(nil)

func (m *MockStep) StepName() string { return m.Name }

func (m *MockStep) Execute(ctx context.Context, stepExecution *model.StepExecution) error {
	args := m.Called(ctx, stepExecution)
	return args.Error(0)
}

// MockPartitioner implements port.Partitioner.
type MockPartitioner struct {
	mock.Mock
}

var _ port.Partitioner = (*MockPartitioner)(nil)

func (m *MockPartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	args := m.Called(ctx, gridSize)
	if res, ok := args.Get(0).(map[string]*model.ExecutionContext); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}
