package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	job "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// SimpleJobExplorer is a simple implementation of the JobExplorer interface.
// It queries batch metadata using a JobRepository.
type SimpleJobExplorer struct {
	jobRepository job.JobRepository
}

// Verify that SimpleJobExplorer implements the JobExplorer interfaces.
var (
	_ JobExplorer     = (*SimpleJobExplorer)(nil)
	_ job.JobExplorer = (*SimpleJobExplorer)(nil)
)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository job.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{
		jobRepository: jobRepository,
	}
}

// GetJobExecution retrieves a JobExecution by its ID.
// A missing execution is reported as job.ErrJobExecutionNotFound, wrapped.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID int64) (*model.JobExecution, error) {
	logger.Debugf("JobExplorer: GetJobExecution called. Execution ID: %d", executionID)
	jobExecution, err := e.jobRepository.FindJobExecutionByID(ctx, executionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobExecution (ID: %d)", executionID), err, false, false)
	}
	return jobExecution, nil
}

// GetStepExecution retrieves the StepExecution stepExecutionID of job execution jobExecutionID.
// A step execution that exists but belongs to another job execution is treated as missing.
func (e *SimpleJobExplorer) GetStepExecution(ctx context.Context, jobExecutionID, stepExecutionID int64) (*model.StepExecution, error) {
	stepExecution, err := e.jobRepository.FindStepExecutionByID(ctx, stepExecutionID)
	if err != nil {
		if errors.Is(err, job.ErrStepExecutionNotFound) {
			return nil, job.ErrStepExecutionNotFound
		}
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve StepExecution (ID: %d)", stepExecutionID), err, false, true)
	}
	if stepExecution.JobExecutionID != jobExecutionID {
		logger.Warnf("JobExplorer: StepExecution (ID: %d) belongs to JobExecution %d, not %d.", stepExecutionID, stepExecution.JobExecutionID, jobExecutionID)
		return nil, job.ErrStepExecutionNotFound
	}
	return stepExecution, nil
}

// GetJobInstance retrieves a JobInstance by its ID.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID int64) (*model.JobInstance, error) {
	logger.Debugf("JobExplorer: GetJobInstance called. Instance ID: %d", instanceID)
	jobInstance, err := e.jobRepository.FindJobInstanceByID(ctx, instanceID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve JobInstance (ID: %d)", instanceID), err, false, false)
	}
	return jobInstance, nil
}

// GetStepExecutions returns the step executions of a job execution ordered by ID.
func (e *SimpleJobExplorer) GetStepExecutions(ctx context.Context, jobExecutionID int64) ([]*model.StepExecution, error) {
	stepExecutions, err := e.jobRepository.FindStepExecutionsByJobExecutionID(ctx, jobExecutionID)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve StepExecutions of JobExecution (ID: %d)", jobExecutionID), err, false, false)
	}
	logger.Debugf("Retrieved %d StepExecutions of JobExecution (ID: %d).", len(stepExecutions), jobExecutionID)
	return stepExecutions, nil
}

// GetLastStepExecution returns the latest execution of stepName in an instance, or nil.
func (e *SimpleJobExplorer) GetLastStepExecution(ctx context.Context, instanceID int64, stepName string) (*model.StepExecution, error) {
	stepExecution, err := e.jobRepository.GetLastStepExecution(ctx, instanceID, stepName)
	if err != nil {
		return nil, exception.NewBatchError("job_explorer", fmt.Sprintf("Failed to retrieve last StepExecution of '%s' (instance ID: %d)", stepName, instanceID), err, false, false)
	}
	if stepExecution == nil {
		logger.Debugf("No previous StepExecution of '%s' for JobInstance (ID: %d).", stepName, instanceID)
	}
	return stepExecution, nil
}
