package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// FailureList holds failure messages in a persistable form.
type FailureList []string

// Value implements driver.Valuer, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*fl = FailureList{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = FailureList{}
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// JobInstance is the logical identity of a job (job name plus identifying parameters).
type JobInstance struct {
	ID         int64
	JobName    string
	JobKey     string
	CreateTime time.Time
	Version    int
}

// JobExecution is a single attempt to run a JobInstance.
type JobExecution struct {
	ID               int64
	JobInstanceID    int64
	JobName          string
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ExecutionContext *ExecutionContext
	StepExecutions   []*StepExecution `json:"-"`
	CreateTime       time.Time
	LastUpdated      time.Time
	Version          int
}

// NewJobExecution creates a JobExecution in STARTING state.
func NewJobExecution(jobInstanceID int64, jobName string) *JobExecution {
	now := time.Now()
	return &JobExecution{
		JobInstanceID:    jobInstanceID,
		JobName:          jobName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		CreateTime:       now,
		LastUpdated:      now,
	}
}

// MarkAsStarted sets the status to STARTED and records the start time.
func (je *JobExecution) MarkAsStarted() {
	je.Status = BatchStatusStarted
	je.StartTime = time.Now()
	je.LastUpdated = je.StartTime
}

// Finish sets a terminal status and the matching exit status.
func (je *JobExecution) Finish(status JobStatus) {
	je.Status = status
	je.ExitStatus = status.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// AddFailureException records err on the job execution, skipping duplicates.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range je.Failures {
		if existing == msg {
			return
		}
	}
	je.Failures = append(je.Failures, msg)
	je.LastUpdated = time.Now()
}

// AddStepExecution attaches se to the job execution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	se.JobExecutionID = je.ID
	se.JobInstanceID = je.JobInstanceID
	je.StepExecutions = append(je.StepExecutions, se)
}

// Clone returns a copy of je without its step executions.
func (je *JobExecution) Clone() *JobExecution {
	if je == nil {
		return nil
	}
	cp := *je
	cp.Failures = append(FailureList{}, je.Failures...)
	cp.ExecutionContext = je.ExecutionContext.Copy()
	cp.StepExecutions = nil
	if je.EndTime != nil {
		end := *je.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// StepExecution is a single run of a step. Partition handlers create one per partition;
// workers mutate status and failures in place and the caller persists it.
type StepExecution struct {
	ID               int64
	StepName         string
	JobExecutionID   int64
	JobInstanceID    int64
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ReadCount        int64
	WriteCount       int64
	CommitCount      int64
	RollbackCount    int64
	FilterCount      int64
	SkipCount        int64
	ExecutionContext *ExecutionContext
	LastUpdated      time.Time
	Version          int

	// failureErrs keeps the original errors of this process for errors.Is checks.
	// Only Failures crosses process boundaries.
	failureErrs []error
}

// NewStepExecution creates a StepExecution in STARTING state attached to jobExecution.
func NewStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		StepName:         stepName,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusExecuting,
		Failures:         FailureList{},
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
		se.JobInstanceID = jobExecution.JobInstanceID
	}
	return se
}

// isValidStepTransition checks if the state transition for StepExecution is valid.
func isValidStepTransition(current, next JobStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusAbandoned
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed
	case BatchStatusFailed, BatchStatusStopped:
		// restart of a partition reuses the previous execution
		return next == BatchStatusStarting || next == BatchStatusStarted
	default:
		return false
	}
}

// TransitionTo changes the status when the transition is valid.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !isValidStepTransition(se.Status, newStatus) {
		return fmt.Errorf("StepExecution (ID: %d): invalid state transition: %s -> %s", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	return nil
}

func (se *StepExecution) forceStatus(status JobStatus) {
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %d) status to %s: %v", se.ID, status, err)
		se.Status = status
	}
}

// MarkAsStarted updates the status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.forceStatus(BatchStatusStarted)
	se.ExitStatus = ExitStatusExecuting
	se.StartTime = time.Now()
	se.EndTime = nil
	se.LastUpdated = se.StartTime
}

// MarkAsCompleted updates the status to COMPLETED.
func (se *StepExecution) MarkAsCompleted() {
	se.forceStatus(BatchStatusCompleted)
	se.finish(ExitStatusCompleted)
}

// MarkAsStopped updates the status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.forceStatus(BatchStatusStopped)
	se.finish(ExitStatusStopped)
}

// MarkAsFailed updates the status to FAILED and records err.
func (se *StepExecution) MarkAsFailed(err error) {
	se.forceStatus(BatchStatusFailed)
	se.finish(ExitStatusFailed)
	se.AddFailureException(err)
}

func (se *StepExecution) finish(exit ExitStatus) {
	se.ExitStatus = exit
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// AddFailureException records err, skipping duplicate messages.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	se.failureErrs = append(se.failureErrs, err)
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range se.Failures {
		if existing == msg {
			logger.Debugf("Skipped adding duplicate error '%s' to StepExecution (ID: %d).", msg, se.ID)
			return
		}
	}
	se.Failures = append(se.Failures, msg)
	se.LastUpdated = time.Now()
}

// FailureExceptions returns the recorded failures. Errors recorded in this process
// are returned as-is; failures loaded from the repository come back as plain errors.
func (se *StepExecution) FailureExceptions() []error {
	if len(se.failureErrs) > 0 {
		return append([]error(nil), se.failureErrs...)
	}
	errs := make([]error, 0, len(se.Failures))
	for _, msg := range se.Failures {
		errs = append(errs, errors.New(msg))
	}
	return errs
}

// Clone returns a copy that shares nothing mutable with se.
// Step executions crossing a message channel are cloned.
func (se *StepExecution) Clone() *StepExecution {
	if se == nil {
		return nil
	}
	cp := *se
	cp.Failures = append(FailureList{}, se.Failures...)
	cp.failureErrs = append([]error(nil), se.failureErrs...)
	cp.ExecutionContext = se.ExecutionContext.Copy()
	if se.EndTime != nil {
		end := *se.EndTime
		cp.EndTime = &end
	}
	return &cp
}

// String returns a short description for logs.
func (se *StepExecution) String() string {
	return fmt.Sprintf("StepExecution{id=%d, name=%s, jobExecutionId=%d, status=%s, exitStatus=%s, readCount=%d, writeCount=%d}",
		se.ID, se.StepName, se.JobExecutionID, se.Status, se.ExitStatus, se.ReadCount, se.WriteCount)
}

// PartitionName generates a standard partition name from the partition index.
func PartitionName(index int) string {
	return fmt.Sprintf("partition%d", index)
}
