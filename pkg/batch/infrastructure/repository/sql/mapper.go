package sql

import (
	"time"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// --- Mapper functions ---

func fromDomainJobInstance(ji *model.JobInstance) *JobInstanceEntity {
	return &JobInstanceEntity{
		ID:         ji.ID,
		JobName:    ji.JobName,
		JobKey:     ji.JobKey,
		CreateTime: ji.CreateTime,
		Version:    ji.Version,
	}
}

func toDomainJobInstance(entity *JobInstanceEntity) *model.JobInstance {
	return &model.JobInstance{
		ID:         entity.ID,
		JobName:    entity.JobName,
		JobKey:     entity.JobKey,
		CreateTime: entity.CreateTime,
		Version:    entity.Version,
	}
}

func fromDomainJobExecution(je *model.JobExecution) (*JobExecutionEntity, error) {
	ec, err := encodeContext(je.ExecutionContext)
	if err != nil {
		return nil, err
	}
	return &JobExecutionEntity{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		StartTime:        nullableTime(je.StartTime),
		EndTime:          je.EndTime,
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		Failures:         nonNilFailures(je.Failures),
		ExecutionContext: ec,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		Version:          je.Version,
	}, nil
}

func toDomainJobExecution(entity *JobExecutionEntity) (*model.JobExecution, error) {
	ec, err := decodeContext(entity.ExecutionContext)
	if err != nil {
		return nil, err
	}
	return &model.JobExecution{
		ID:               entity.ID,
		JobInstanceID:    entity.JobInstanceID,
		JobName:          entity.JobName,
		StartTime:        timeOrZero(entity.StartTime),
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         nonNilFailures(entity.Failures),
		ExecutionContext: ec,
		StepExecutions:   make([]*model.StepExecution, 0),
		CreateTime:       entity.CreateTime,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}, nil
}

func fromDomainStepExecution(se *model.StepExecution) (*StepExecutionEntity, error) {
	ec, err := encodeContext(se.ExecutionContext)
	if err != nil {
		return nil, err
	}
	return &StepExecutionEntity{
		ID:               se.ID,
		StepName:         se.StepName,
		JobExecutionID:   se.JobExecutionID,
		JobInstanceID:    se.JobInstanceID,
		StartTime:        nullableTime(se.StartTime),
		EndTime:          se.EndTime,
		Status:           se.Status,
		ExitStatus:       se.ExitStatus,
		Failures:         nonNilFailures(se.Failures),
		ReadCount:        se.ReadCount,
		WriteCount:       se.WriteCount,
		CommitCount:      se.CommitCount,
		RollbackCount:    se.RollbackCount,
		FilterCount:      se.FilterCount,
		SkipCount:        se.SkipCount,
		ExecutionContext: ec,
		LastUpdated:      se.LastUpdated,
		Version:          se.Version,
	}, nil
}

func toDomainStepExecution(entity *StepExecutionEntity) (*model.StepExecution, error) {
	ec, err := decodeContext(entity.ExecutionContext)
	if err != nil {
		return nil, err
	}
	return &model.StepExecution{
		ID:               entity.ID,
		StepName:         entity.StepName,
		JobExecutionID:   entity.JobExecutionID,
		JobInstanceID:    entity.JobInstanceID,
		StartTime:        timeOrZero(entity.StartTime),
		EndTime:          entity.EndTime,
		Status:           entity.Status,
		ExitStatus:       entity.ExitStatus,
		Failures:         nonNilFailures(entity.Failures),
		ReadCount:        entity.ReadCount,
		WriteCount:       entity.WriteCount,
		CommitCount:      entity.CommitCount,
		RollbackCount:    entity.RollbackCount,
		FilterCount:      entity.FilterCount,
		SkipCount:        entity.SkipCount,
		ExecutionContext: ec,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}, nil
}

func encodeContext(ec *model.ExecutionContext) (string, error) {
	if ec == nil {
		ec = model.NewExecutionContext()
	}
	data, err := ec.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeContext(data string) (*model.ExecutionContext, error) {
	ec := model.NewExecutionContext()
	if data == "" {
		return ec, nil
	}
	if err := ec.UnmarshalJSON([]byte(data)); err != nil {
		return nil, err
	}
	ec.ClearDirtyFlag()
	return ec, nil
}

func nonNilFailures(f model.FailureList) model.FailureList {
	if f == nil {
		return model.FailureList{}
	}
	return f
}

// nullableTime stores an unset start time as NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
