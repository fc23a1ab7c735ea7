package sql

import (
	"time"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// JobInstanceEntity is the row of batch_job_instance.
type JobInstanceEntity struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	JobName    string    `gorm:"column:job_name"`
	JobKey     string    `gorm:"column:job_key"`
	CreateTime time.Time `gorm:"column:create_time"`
	Version    int       `gorm:"column:version"`
}

func (JobInstanceEntity) TableName() string {
	return "batch_job_instance"
}

// JobExecutionEntity is the row of batch_job_execution.
type JobExecutionEntity struct {
	ID               int64             `gorm:"column:id;primaryKey;autoIncrement"`
	JobInstanceID    int64             `gorm:"column:job_instance_id"`
	JobName          string            `gorm:"column:job_name"`
	StartTime        *time.Time        `gorm:"column:start_time"`
	EndTime          *time.Time        `gorm:"column:end_time"`
	Status           model.JobStatus   `gorm:"column:status"`
	ExitStatus       model.ExitStatus  `gorm:"column:exit_status"`
	Failures         model.FailureList `gorm:"column:failures"`
	ExecutionContext string            `gorm:"column:execution_context"`
	CreateTime       time.Time         `gorm:"column:create_time"`
	LastUpdated      time.Time         `gorm:"column:last_updated"`
	Version          int               `gorm:"column:version"`
}

func (JobExecutionEntity) TableName() string {
	return "batch_job_execution"
}

// StepExecutionEntity is the row of batch_step_execution.
type StepExecutionEntity struct {
	ID               int64             `gorm:"column:id;primaryKey;autoIncrement"`
	StepName         string            `gorm:"column:step_name"`
	JobExecutionID   int64             `gorm:"column:job_execution_id"`
	JobInstanceID    int64             `gorm:"column:job_instance_id"`
	StartTime        *time.Time        `gorm:"column:start_time"`
	EndTime          *time.Time        `gorm:"column:end_time"`
	Status           model.JobStatus   `gorm:"column:status"`
	ExitStatus       model.ExitStatus  `gorm:"column:exit_status"`
	Failures         model.FailureList `gorm:"column:failures"`
	ReadCount        int64             `gorm:"column:read_count"`
	WriteCount       int64             `gorm:"column:write_count"`
	CommitCount      int64             `gorm:"column:commit_count"`
	RollbackCount    int64             `gorm:"column:rollback_count"`
	FilterCount      int64             `gorm:"column:filter_count"`
	SkipCount        int64             `gorm:"column:skip_count"`
	ExecutionContext string            `gorm:"column:execution_context"`
	LastUpdated      time.Time         `gorm:"column:last_updated"`
	Version          int               `gorm:"column:version"`
}

func (StepExecutionEntity) TableName() string {
	return "batch_step_execution"
}
