// Package sql is the GORM-backed job repository. Executions are stored in the
// batch_job_instance, batch_job_execution and batch_step_execution tables created by
// the migration subpackage.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// SQLJobRepository implements the repository.JobRepository interface.
type SQLJobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository creates a repository on db. The schema must already exist.
//
// Parameters:
//
//	db: The metadata database connection. It is not closed by Close.
//
// Returns:
//
//	A new instance of SQLJobRepository.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

// Close implements repository.JobRepository. The connection belongs to the caller
// and stays open.
func (r *SQLJobRepository) Close() error {
	return nil
}

func dbError(op, msg string, err error) error {
	return exception.NewBatchError(op, msg, err, false, true)
}

// --- JobInstance implementation ---

// CreateJobInstance returns the instance for (jobName, jobKey), creating it when absent.
func (r *SQLJobRepository) CreateJobInstance(ctx context.Context, jobName, jobKey string) (*model.JobInstance, error) {
	const op = "SQLJobRepository.CreateJobInstance"

	existing, err := r.findJobInstance(ctx, jobName, jobKey)
	if err != nil {
		return nil, dbError(op, "failed to look up JobInstance", err)
	}
	if existing != nil {
		return toDomainJobInstance(existing), nil
	}

	entity := fromDomainJobInstance(&model.JobInstance{JobName: jobName, JobKey: jobKey, CreateTime: time.Now()})
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entity)
	if result.Error != nil {
		return nil, dbError(op, fmt.Sprintf("failed to create JobInstance '%s' (key: %s)", jobName, jobKey), result.Error)
	}
	if result.RowsAffected == 0 {
		// Another process created it first.
		existing, err = r.findJobInstance(ctx, jobName, jobKey)
		if err != nil || existing == nil {
			return nil, dbError(op, "failed to reload JobInstance", err)
		}
		return toDomainJobInstance(existing), nil
	}
	logger.Debugf("%s: created JobInstance (ID: %d, name: %s).", op, entity.ID, jobName)
	return toDomainJobInstance(entity), nil
}

func (r *SQLJobRepository) findJobInstance(ctx context.Context, jobName, jobKey string) (*JobInstanceEntity, error) {
	var entities []JobInstanceEntity
	err := r.db.WithContext(ctx).
		Where("job_name = ? AND job_key = ?", jobName, jobKey).
		Limit(1).
		Find(&entities).Error
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return &entities[0], nil
}

// FindJobInstanceByID implements repository.JobInstance.
func (r *SQLJobRepository) FindJobInstanceByID(ctx context.Context, id int64) (*model.JobInstance, error) {
	var entity JobInstanceEntity
	err := r.db.WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobInstanceNotFound
	}
	if err != nil {
		return nil, dbError("SQLJobRepository.FindJobInstanceByID", fmt.Sprintf("failed to find JobInstance by ID: %d", id), err)
	}
	return toDomainJobInstance(&entity), nil
}

// --- JobExecution implementation ---

// SaveJobExecution inserts jobExecution and assigns its ID.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	if jobExecution.ID != 0 {
		return exception.NewBatchErrorf(op, "JobExecution (ID: %d) is already saved", jobExecution.ID)
	}
	jobExecution.Version = 0
	entity, err := fromDomainJobExecution(jobExecution)
	if err != nil {
		return exception.NewBatchError(op, "failed to encode ExecutionContext", err, false, false)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return dbError(op, fmt.Sprintf("failed to save JobExecution of JobInstance %d", jobExecution.JobInstanceID), err)
	}
	jobExecution.ID = entity.ID
	for _, se := range jobExecution.StepExecutions {
		se.JobExecutionID = entity.ID
	}
	return nil
}

// UpdateJobExecution writes jobExecution if its version is current and increments it.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"

	originalVersion := jobExecution.Version
	entity, err := fromDomainJobExecution(jobExecution)
	if err != nil {
		return exception.NewBatchError(op, "failed to encode ExecutionContext", err, false, false)
	}
	entity.Version = originalVersion + 1
	entity.LastUpdated = time.Now()

	result := r.db.WithContext(ctx).Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", jobExecution.ID, originalVersion).
		Select("*").Omit("id", "create_time").
		Updates(entity)
	if result.Error != nil {
		return dbError(op, fmt.Sprintf("failed to update JobExecution (ID: %d)", jobExecution.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return r.updateMiss(ctx, op, &JobExecutionEntity{}, jobExecution.ID, originalVersion, repository.ErrJobExecutionNotFound)
	}
	jobExecution.Version = entity.Version
	jobExecution.LastUpdated = entity.LastUpdated
	return nil
}

// updateMiss tells a missing row from a stale version.
func (r *SQLJobRepository) updateMiss(ctx context.Context, op string, table interface{}, id int64, version int, notFound error) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(table).Where("id = ?", id).Count(&count).Error; err != nil {
		return dbError(op, fmt.Sprintf("failed to check row %d", id), err)
	}
	if count == 0 {
		return notFound
	}
	return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("%s: ID %d with version %d is stale", op, id, version), nil)
}

// FindJobExecutionByID returns the job execution with its step executions ordered by ID.
func (r *SQLJobRepository) FindJobExecutionByID(ctx context.Context, id int64) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindJobExecutionByID"
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, dbError(op, fmt.Sprintf("failed to find JobExecution by ID: %d", id), err)
	}
	je, err := toDomainJobExecution(&entity)
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to decode ExecutionContext", err, false, false)
	}
	steps, err := r.FindStepExecutionsByJobExecutionID(ctx, id)
	if err != nil {
		return nil, err
	}
	je.StepExecutions = steps
	return je, nil
}

// --- StepExecution implementation ---

// SaveStepExecution inserts stepExecution and assigns its ID.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.SaveStepExecution"
	if stepExecution.ID != 0 {
		return exception.NewBatchErrorf(op, "StepExecution (ID: %d) is already saved", stepExecution.ID)
	}
	stepExecution.Version = 0
	entity, err := fromDomainStepExecution(stepExecution)
	if err != nil {
		return exception.NewBatchError(op, "failed to encode ExecutionContext", err, false, false)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return dbError(op, fmt.Sprintf("failed to save StepExecution '%s'", stepExecution.StepName), err)
	}
	stepExecution.ID = entity.ID
	stepExecution.ExecutionContext.ClearDirtyFlag()
	return nil
}

// UpdateStepExecution writes stepExecution if its version is current and increments it.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	const op = "SQLJobRepository.UpdateStepExecution"

	originalVersion := stepExecution.Version
	entity, err := fromDomainStepExecution(stepExecution)
	if err != nil {
		return exception.NewBatchError(op, "failed to encode ExecutionContext", err, false, false)
	}
	entity.Version = originalVersion + 1
	entity.LastUpdated = time.Now()

	result := r.db.WithContext(ctx).Model(&StepExecutionEntity{}).
		Where("id = ? AND version = ?", stepExecution.ID, originalVersion).
		Select("*").Omit("id").
		Updates(entity)
	if result.Error != nil {
		return dbError(op, fmt.Sprintf("failed to update StepExecution (ID: %d)", stepExecution.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		return r.updateMiss(ctx, op, &StepExecutionEntity{}, stepExecution.ID, originalVersion, repository.ErrStepExecutionNotFound)
	}
	stepExecution.Version = entity.Version
	stepExecution.LastUpdated = entity.LastUpdated
	stepExecution.ExecutionContext.ClearDirtyFlag()
	return nil
}

// FindStepExecutionByID implements repository.StepExecution.
func (r *SQLJobRepository) FindStepExecutionByID(ctx context.Context, id int64) (*model.StepExecution, error) {
	const op = "SQLJobRepository.FindStepExecutionByID"
	var entity StepExecutionEntity
	err := r.db.WithContext(ctx).First(&entity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrStepExecutionNotFound
	}
	if err != nil {
		return nil, dbError(op, fmt.Sprintf("failed to find StepExecution by ID: %d", id), err)
	}
	se, err := toDomainStepExecution(&entity)
	if err != nil {
		return nil, exception.NewBatchError(op, "failed to decode ExecutionContext", err, false, false)
	}
	return se, nil
}

// FindStepExecutionsByJobExecutionID returns the step executions of a job execution ordered by ID.
func (r *SQLJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*model.StepExecution, error) {
	return r.findSteps(ctx, "SQLJobRepository.FindStepExecutionsByJobExecutionID",
		r.db.WithContext(ctx).Where("job_execution_id = ?", jobExecutionID).Order("id"))
}

// GetLastStepExecution returns the most recent execution of stepName in the job instance,
// or nil when the step never ran.
func (r *SQLJobRepository) GetLastStepExecution(ctx context.Context, jobInstanceID int64, stepName string) (*model.StepExecution, error) {
	steps, err := r.findSteps(ctx, "SQLJobRepository.GetLastStepExecution",
		r.db.WithContext(ctx).Where("job_instance_id = ? AND step_name = ?", jobInstanceID, stepName).Order("id DESC").Limit(1))
	if err != nil || len(steps) == 0 {
		return nil, err
	}
	return steps[0], nil
}

func (r *SQLJobRepository) findSteps(ctx context.Context, op string, query *gorm.DB) ([]*model.StepExecution, error) {
	var entities []StepExecutionEntity
	if err := query.Find(&entities).Error; err != nil {
		return nil, dbError(op, "failed to query step executions", err)
	}
	out := make([]*model.StepExecution, 0, len(entities))
	for i := range entities {
		se, err := toDomainStepExecution(&entities[i])
		if err != nil {
			return nil, exception.NewBatchError(op, "failed to decode ExecutionContext", err, false, false)
		}
		out = append(out, se)
	}
	return out, nil
}
