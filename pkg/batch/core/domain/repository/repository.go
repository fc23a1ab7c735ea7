// Package repository defines the persistence ports for batch execution metadata.
// The job repository is the single durable store shared by the manager and all workers.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

var (
	// ErrJobInstanceNotFound is returned when a JobInstance does not exist.
	ErrJobInstanceNotFound = errors.New("job instance not found")
	// ErrJobExecutionNotFound is returned when a JobExecution does not exist.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepExecutionNotFound is returned when a StepExecution does not exist.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

func init() {
	exception.RegisterErrorType("ErrJobInstanceNotFound", ErrJobInstanceNotFound)
	exception.RegisterErrorType("ErrJobExecutionNotFound", ErrJobExecutionNotFound)
	exception.RegisterErrorType("ErrStepExecutionNotFound", ErrStepExecutionNotFound)
}

// JobInstance covers JobInstance persistence.
type JobInstance interface {
	// CreateJobInstance returns the instance for (jobName, jobKey), creating it when absent.
	CreateJobInstance(ctx context.Context, jobName, jobKey string) (*model.JobInstance, error)

	// FindJobInstanceByID finds a JobInstance by its ID.
	FindJobInstanceByID(ctx context.Context, id int64) (*model.JobInstance, error)
}

// JobExecution covers JobExecution persistence.
type JobExecution interface {
	// SaveJobExecution assigns an ID to a new JobExecution and persists it.
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// UpdateJobExecution updates an existing JobExecution using its Version for optimistic locking.
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error

	// FindJobExecutionByID finds a JobExecution by its ID.
	FindJobExecutionByID(ctx context.Context, id int64) (*model.JobExecution, error)
}

// StepExecution covers StepExecution persistence.
type StepExecution interface {
	// SaveStepExecution assigns an ID to a new StepExecution and persists it.
	SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// UpdateStepExecution updates an existing StepExecution. A stale Version yields
	// exception.ErrOptimisticLockingFailure.
	UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error

	// FindStepExecutionByID finds a StepExecution by its ID.
	FindStepExecutionByID(ctx context.Context, id int64) (*model.StepExecution, error)

	// FindStepExecutionsByJobExecutionID returns the step executions of a job execution ordered by ID.
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*model.StepExecution, error)

	// GetLastStepExecution returns the most recent execution of stepName within a job instance,
	// or nil when the step never ran.
	GetLastStepExecution(ctx context.Context, jobInstanceID int64, stepName string) (*model.StepExecution, error)
}

// JobRepository persists and retrieves batch execution metadata.
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}

// JobExplorer is the read-only view of the repository used by workers and by the
// polling partition handler.
type JobExplorer interface {
	// GetJobExecution returns the JobExecution with the given ID.
	GetJobExecution(ctx context.Context, jobExecutionID int64) (*model.JobExecution, error)

	// GetStepExecution returns the StepExecution identified by (jobExecutionID, stepExecutionID).
	// It returns ErrStepExecutionNotFound when the step execution does not exist or belongs
	// to another job execution.
	GetStepExecution(ctx context.Context, jobExecutionID, stepExecutionID int64) (*model.StepExecution, error)
}
