package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// SaveJobExecution assigns an ID to a new JobExecution and persists a copy of it.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jobExecution.ID != 0 {
		if _, exists := r.jobExecutions[jobExecution.ID]; exists {
			return fmt.Errorf("JobExecution with ID %d already exists", jobExecution.ID)
		}
	}
	r.nextJobExecutionID++
	jobExecution.ID = r.nextJobExecutionID
	jobExecution.Version = 0
	for _, se := range jobExecution.StepExecutions {
		se.JobExecutionID = jobExecution.ID
	}
	r.jobExecutions[jobExecution.ID] = jobExecution.Clone()
	return nil
}

// UpdateJobExecution updates an existing JobExecution. The stored version must match.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return repository.ErrJobExecutionNotFound
	}
	if stored.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException("repository",
			fmt.Sprintf("JobExecution (ID: %d) has version %d, update carried version %d", jobExecution.ID, stored.Version, jobExecution.Version), nil)
	}
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	r.jobExecutions[jobExecution.ID] = jobExecution.Clone()
	return nil
}

// FindJobExecutionByID finds a JobExecution by its ID.
// It also loads and associates all related StepExecutions, ordered by ID.
func (r *InMemoryJobRepository) FindJobExecutionByID(ctx context.Context, id int64) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobExecution, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}

	cloned := jobExecution.Clone()
	cloned.StepExecutions = r.stepExecutionsOf(id)
	return cloned, nil
}

// stepExecutionsOf returns clones of the step executions of a job execution ordered by ID.
// Callers hold r.mu.
func (r *InMemoryJobRepository) stepExecutionsOf(jobExecutionID int64) []*model.StepExecution {
	out := make([]*model.StepExecution, 0)
	for _, se := range r.stepExecutions {
		if se.JobExecutionID == jobExecutionID {
			out = append(out, se.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
