package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// PartitionStep is the manager step of a partitioned step. It hands its execution to a
// PartitionHandler and folds the partition results back into it.
type PartitionStep struct {
	name          string
	splitter      port.StepExecutionSplitter
	handler       port.PartitionHandler
	jobRepository repository.JobRepository
}

var _ port.Step = (*PartitionStep)(nil)

// NewPartitionStep creates a PartitionStep.
func NewPartitionStep(name string, splitter port.StepExecutionSplitter, handler port.PartitionHandler, jobRepository repository.JobRepository) (*PartitionStep, error) {
	switch {
	case name == "":
		return nil, exception.NewConfigError("PartitionStep", "name", "must not be empty")
	case splitter == nil:
		return nil, exception.NewConfigError("PartitionStep", "splitter", "must not be nil")
	case handler == nil:
		return nil, exception.NewConfigError("PartitionStep", "handler", "must not be nil")
	case jobRepository == nil:
		return nil, exception.NewConfigError("PartitionStep", "jobRepository", "must not be nil")
	}
	return &PartitionStep{name: name, splitter: splitter, handler: handler, jobRepository: jobRepository}, nil
}

// StepName implements port.Step.
func (s *PartitionStep) StepName() string { return s.name }

// Execute implements port.Step.
//
// Handler errors (dispatch failure, timeout) are returned. Partition outcomes are not:
// the manager execution takes the most severe partition status, the summed counters
// and every partition failure, and is persisted.
func (s *PartitionStep) Execute(ctx context.Context, managerExecution *model.StepExecution) error {
	logger.Infof("PartitionStep '%s' executing (StepExecution ID: %d).", s.name, managerExecution.ID)

	results, err := s.handler.Handle(ctx, s.splitter, managerExecution)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", port.ErrJobInterrupted, err)
		}
		return exception.NewBatchError(s.name, "partition handler failed", err, false, false)
	}

	status := model.BatchStatusCompleted
	var failures *multierror.Error
	for _, r := range results {
		if r == nil {
			continue
		}
		status = status.Upgrade(r.Status)
		managerExecution.ReadCount += r.ReadCount
		managerExecution.WriteCount += r.WriteCount
		managerExecution.CommitCount += r.CommitCount
		managerExecution.RollbackCount += r.RollbackCount
		managerExecution.FilterCount += r.FilterCount
		managerExecution.SkipCount += r.SkipCount
		for _, f := range r.Failures {
			failures = multierror.Append(failures, fmt.Errorf("%s: %s", r.StepName, f))
		}
	}

	switch status {
	case model.BatchStatusCompleted:
		managerExecution.MarkAsCompleted()
	case model.BatchStatusStopped:
		managerExecution.MarkAsStopped()
	default:
		if failures == nil {
			failures = multierror.Append(failures, errors.New("one or more partitions did not complete"))
		}
		for _, f := range failures.Errors {
			managerExecution.AddFailureException(f)
		}
		managerExecution.MarkAsFailed(nil)
		if status.IsRunning() {
			// a partition reported back without finishing
			status = model.BatchStatusFailed
		}
		managerExecution.Status = status
		managerExecution.ExitStatus = status.ToExitStatus()
	}

	if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), managerExecution); err != nil {
		return exception.NewBatchError(s.name, "failed to persist manager StepExecution", err, false, false)
	}
	logger.Infof("PartitionStep '%s' finished: %d partitions, status %s, read %d, written %d.",
		s.name, len(results), managerExecution.Status, managerExecution.ReadCount, managerExecution.WriteCount)
	if failures != nil {
		logger.Warnf("PartitionStep '%s': %v", s.name, failures.ErrorOrNil())
	}
	return nil
}
