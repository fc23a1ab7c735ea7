// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores all job-related data in maps within memory, suitable for testing and
// single-process runs where the manager and its workers share one repository.
package inmemory

import (
	"sync"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
// Values are cloned on the way in and on the way out, so callers never share state
// with the store.
type InMemoryJobRepository struct {
	jobInstances   map[int64]*model.JobInstance
	jobExecutions  map[int64]*model.JobExecution
	stepExecutions map[int64]*model.StepExecution

	nextInstanceID      int64
	nextJobExecutionID  int64
	nextStepExecutionID int64

	mu sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[int64]*model.JobInstance),
		jobExecutions:  make(map[int64]*model.JobExecution),
		stepExecutions: make(map[int64]*model.StepExecution),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)
