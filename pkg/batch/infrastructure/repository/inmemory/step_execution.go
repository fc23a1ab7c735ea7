package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// SaveStepExecution assigns an ID to a new StepExecution and persists a copy of it.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stepExecution.ID != 0 {
		if _, exists := r.stepExecutions[stepExecution.ID]; exists {
			return fmt.Errorf("StepExecution with ID %d already exists", stepExecution.ID)
		}
	}
	r.nextStepExecutionID++
	stepExecution.ID = r.nextStepExecutionID
	stepExecution.Version = 0
	stepExecution.ExecutionContext.ClearDirtyFlag()
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	return nil
}

// UpdateStepExecution updates an existing StepExecution.
// A version mismatch yields an optimistic locking failure.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.stepExecutions[stepExecution.ID]
	if !exists {
		return repository.ErrStepExecutionNotFound
	}
	if stored.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("StepExecution (ID: %d) has version %d, update carried version %d", stepExecution.ID, stored.Version, stepExecution.Version), nil)
	}
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	stepExecution.ExecutionContext.ClearDirtyFlag()
	r.stepExecutions[stepExecution.ID] = stepExecution.Clone()
	return nil
}

// FindStepExecutionByID finds a StepExecution by its ID.
func (r *InMemoryJobRepository) FindStepExecutionByID(ctx context.Context, id int64) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepExecution, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrStepExecutionNotFound
	}
	return stepExecution.Clone(), nil
}

// FindStepExecutionsByJobExecutionID returns the step executions of a job execution ordered by ID.
func (r *InMemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepExecutionsOf(jobExecutionID), nil
}

// GetLastStepExecution returns the most recent execution of stepName within a job instance.
// The highest ID wins. It returns nil when the step never ran.
func (r *InMemoryJobRepository) GetLastStepExecution(ctx context.Context, jobInstanceID int64, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *model.StepExecution
	for _, se := range r.stepExecutions {
		if se.JobInstanceID != jobInstanceID || se.StepName != stepName {
			continue
		}
		if last == nil || se.ID > last.ID {
			last = se
		}
	}
	if last == nil {
		return nil, nil
	}
	return last.Clone(), nil
}
