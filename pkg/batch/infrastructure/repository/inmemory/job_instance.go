package inmemory

import (
	"context"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// CreateJobInstance returns the instance registered for (jobName, jobKey), creating it when absent.
func (r *InMemoryJobRepository) CreateJobInstance(ctx context.Context, jobName, jobKey string) (*model.JobInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, instance := range r.jobInstances {
		if instance.JobName == jobName && instance.JobKey == jobKey {
			cp := *instance
			return &cp, nil
		}
	}

	r.nextInstanceID++
	instance := &model.JobInstance{
		ID:         r.nextInstanceID,
		JobName:    jobName,
		JobKey:     jobKey,
		CreateTime: time.Now(),
	}
	r.jobInstances[instance.ID] = instance
	cp := *instance
	return &cp, nil
}

// FindJobInstanceByID finds a JobInstance by its ID.
func (r *InMemoryJobRepository) FindJobInstanceByID(ctx context.Context, id int64) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	cp := *instance
	return &cp, nil
}
