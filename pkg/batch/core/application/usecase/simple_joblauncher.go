package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// SimpleJobLauncher implements JobLauncher for local, synchronous execution.
type SimpleJobLauncher struct {
	jobRepository repository.JobRepository
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
	// activeJobCancellations holds the cancel functions for running jobs.
	activeJobCancellations map[int64]context.CancelFunc
	mu                     sync.Mutex
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(repo repository.JobRepository, recorder metrics.MetricRecorder, tracer metrics.Tracer) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		jobRepository:          repo,
		recorder:               recorder,
		tracer:                 tracer,
		activeJobCancellations: make(map[int64]context.CancelFunc),
	}
}

// RegisterCancelFunc registers the cancel function for a running job execution.
func (l *SimpleJobLauncher) RegisterCancelFunc(executionID int64, cancelFunc context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeJobCancellations[executionID] = cancelFunc
	logger.Debugf("Registered CancelFunc for JobExecution (ID: %d).", executionID)
}

// UnregisterCancelFunc unregisters the cancel function for a running job execution.
func (l *SimpleJobLauncher) UnregisterCancelFunc(executionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.activeJobCancellations[executionID]; ok {
		delete(l.activeJobCancellations, executionID)
		logger.Debugf("Unregistered CancelFunc for JobExecution (ID: %d).", executionID)
	}
}

// Stop cancels the context of a running job execution.
func (l *SimpleJobLauncher) Stop(executionID int64) error {
	l.mu.Lock()
	cancel, ok := l.activeJobCancellations[executionID]
	l.mu.Unlock()
	if !ok {
		return exception.NewBatchErrorf("job_launcher", "JobExecution (ID: %d) is not running", executionID)
	}
	logger.Infof("Stopping JobExecution (ID: %d).", executionID)
	cancel()
	return nil
}

// Launch runs steps in order and returns the finished JobExecution.
//
// A step whose last execution in the same JobInstance COMPLETED is skipped. A step whose
// last execution did not complete starts from a copy of that execution's context. The
// job stops at the first step that does not complete.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName, jobKey string, steps ...port.Step) (*model.JobExecution, error) {
	const op = "SimpleJobLauncher.Launch"
	if len(steps) == 0 {
		return nil, exception.NewConfigError("JobLauncher", "steps", fmt.Sprintf("job '%s' has no steps", jobName))
	}
	logger.Infof("Launching Job '%s' (key '%s') with %d steps.", jobName, jobKey, len(steps))

	jobInstance, err := l.jobRepository.CreateJobInstance(ctx, jobName, jobKey)
	if err != nil {
		return nil, exception.NewBatchError(op, fmt.Sprintf("Failed to create JobInstance for '%s'", jobName), err, false, false)
	}

	jobExecution := model.NewJobExecution(jobInstance.ID, jobName)
	if err := l.jobRepository.SaveJobExecution(ctx, jobExecution); err != nil {
		return nil, exception.NewBatchError(op, "Failed to save JobExecution initially", err, false, false)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.RegisterCancelFunc(jobExecution.ID, cancel)
	defer l.UnregisterCancelFunc(jobExecution.ID)

	jobExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateJobExecution(jobCtx, jobExecution); err != nil {
		return jobExecution, exception.NewBatchError(op, "Failed to mark JobExecution as started", err, false, false)
	}
	logger.Infof("Started JobExecution (ID: %d, JobInstance ID: %d).", jobExecution.ID, jobInstance.ID)

	status := model.BatchStatusCompleted
	for _, step := range steps {
		stepExecution, err := l.runStep(jobCtx, jobExecution, step)
		if err != nil {
			jobExecution.AddFailureException(err)
			status = model.BatchStatusFailed
			break
		}
		if stepExecution == nil {
			continue
		}
		if stepExecution.Status != model.BatchStatusCompleted {
			for _, f := range stepExecution.FailureExceptions() {
				jobExecution.AddFailureException(f)
			}
			status = stepExecution.Status
			logger.Warnf("Step '%s' finished with status %s, JobExecution (ID: %d) ends.", step.StepName(), stepExecution.Status, jobExecution.ID)
			break
		}
	}

	// Persist the final state even when the job context was cancelled.
	jobExecution.Finish(status)
	if err := l.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		return jobExecution, exception.NewBatchError(op, "Failed to persist final JobExecution state", err, false, false)
	}
	logger.Infof("JobExecution (ID: %d) of '%s' finished with status %s.", jobExecution.ID, jobName, jobExecution.Status)
	return jobExecution, nil
}

// runStep executes one step. It returns a nil StepExecution when the step is skipped and
// an error only when step metadata could not be persisted.
func (l *SimpleJobLauncher) runStep(ctx context.Context, jobExecution *model.JobExecution, step port.Step) (*model.StepExecution, error) {
	name := step.StepName()
	last, err := l.jobRepository.GetLastStepExecution(ctx, jobExecution.JobInstanceID, name)
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("Failed to look up last execution of step '%s'", name), err, false, false)
	}
	if last != nil && last.Status == model.BatchStatusCompleted {
		logger.Infof("Step '%s' already completed in JobInstance (ID: %d), skipped.", name, jobExecution.JobInstanceID)
		return nil, nil
	}

	stepExecution := model.NewStepExecution(name, jobExecution)
	if last != nil {
		stepExecution.ExecutionContext = last.ExecutionContext.Copy()
		logger.Infof("Restarting step '%s' from StepExecution (ID: %d, status %s).", name, last.ID, last.Status)
	}
	jobExecution.AddStepExecution(stepExecution)
	if err := l.jobRepository.SaveStepExecution(ctx, stepExecution); err != nil {
		return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("Failed to save StepExecution of '%s'", name), err, false, false)
	}

	stepExecution.MarkAsStarted()
	if err := l.jobRepository.UpdateStepExecution(ctx, stepExecution); err != nil {
		return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("Failed to mark step '%s' as started", name), err, false, false)
	}

	spanCtx, end := l.tracer.StartStepSpan(ctx, stepExecution)
	l.recorder.RecordStepStart(spanCtx, stepExecution)
	execErr := step.Execute(spanCtx, stepExecution)
	switch {
	case execErr == nil:
		if stepExecution.Status.IsRunning() {
			stepExecution.MarkAsCompleted()
		}
	case errors.Is(execErr, port.ErrJobInterrupted), errors.Is(execErr, context.Canceled):
		logger.Warnf("Step '%s' was interrupted: %v", name, execErr)
		stepExecution.MarkAsStopped()
	default:
		logger.Errorf("Step '%s' failed: %v", name, execErr)
		l.tracer.RecordError(spanCtx, "job_launcher", execErr)
		stepExecution.MarkAsFailed(execErr)
	}
	l.recorder.RecordStepEnd(spanCtx, stepExecution)
	end()

	if err := l.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("Failed to persist StepExecution of '%s'", name), err, false, false)
	}
	return stepExecution, nil
}
