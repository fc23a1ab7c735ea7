package usecase

import (
	"context"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// JobExplorer is the read-only query surface over batch metadata.
// It extends the explorer used by workers with instance and step history lookups.
type JobExplorer interface {
	repository.JobExplorer

	// GetJobInstance retrieves a JobInstance by its ID.
	GetJobInstance(ctx context.Context, instanceID int64) (*model.JobInstance, error)

	// GetStepExecutions returns the step executions of a job execution ordered by ID.
	GetStepExecutions(ctx context.Context, jobExecutionID int64) ([]*model.StepExecution, error)

	// GetLastStepExecution returns the latest execution of stepName in an instance, or nil.
	GetLastStepExecution(ctx context.Context, instanceID int64, stepName string) (*model.StepExecution, error)
}

// JobLauncher runs a named sequence of steps as one JobExecution.
type JobLauncher interface {
	// Launch runs steps in order under the JobInstance identified by (jobName, jobKey).
	// The returned error reports a launch failure. Step failures are recorded on the
	// returned JobExecution.
	Launch(ctx context.Context, jobName, jobKey string, steps ...port.Step) (*model.JobExecution, error)

	// Stop cancels a running JobExecution. Its steps see ErrJobInterrupted.
	Stop(jobExecutionID int64) error
}
