package sql_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/sqlite"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/sql/migration"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

func openMetadataDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gormadapter.Open(database.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, migration.NewMigrator(sqlDB, "sqlite").Up(context.Background()))
	return db
}

func newRepository(t *testing.T) *sqlrepo.SQLJobRepository {
	t.Helper()
	return sqlrepo.NewSQLJobRepository(openMetadataDB(t))
}

func TestSQLJobRepository_JobInstanceIsReused(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	first, err := repo.CreateJobInstance(ctx, "importJob", "2026-10-19")
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	again, err := repo.CreateJobInstance(ctx, "importJob", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := repo.CreateJobInstance(ctx, "importJob", "2026-10-20")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	found, err := repo.FindJobInstanceByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", found.JobKey)

	_, err = repo.FindJobInstanceByID(ctx, 404)
	assert.ErrorIs(t, err, repository.ErrJobInstanceNotFound)
}

func TestSQLJobRepository_ExecutionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance, err := repo.CreateJobInstance(ctx, "importJob", "k")
	require.NoError(t, err)

	je := model.NewJobExecution(instance.ID, "importJob")
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	assert.NotZero(t, je.ID)
	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.Equal(t, 1, je.Version)

	se := model.NewStepExecution("load:partition0", je)
	se.ExecutionContext.PutLong("minValue", 1)
	se.ExecutionContext.PutString("reader.start.after", `{"id":42}`)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	se.MarkAsStarted()
	se.ReadCount = 10
	se.MarkAsFailed(errors.New("connection reset"))
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	loaded, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, loaded.Status)
	assert.EqualValues(t, 10, loaded.ReadCount)
	assert.Equal(t, instance.ID, loaded.JobInstanceID)
	assert.Equal(t, model.FailureList{"connection reset"}, loaded.Failures)
	assert.EqualValues(t, 1, loaded.ExecutionContext.GetLongOrDefault("minValue", 0))
	assert.Equal(t, `{"id":42}`, loaded.ExecutionContext.GetStringOrDefault("reader.start.after", ""))
	assert.False(t, loaded.StartTime.IsZero())
	require.NotNil(t, loaded.EndTime)

	jeLoaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, jeLoaded.Status)
	require.Len(t, jeLoaded.StepExecutions, 1)
	assert.Equal(t, se.ID, jeLoaded.StepExecutions[0].ID)

	_, err = repo.FindStepExecutionByID(ctx, 404)
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
	_, err = repo.FindJobExecutionByID(ctx, 404)
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
}

func TestSQLJobRepository_OptimisticLocking(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance, err := repo.CreateJobInstance(ctx, "importJob", "k")
	require.NoError(t, err)
	je := model.NewJobExecution(instance.ID, "importJob")
	require.NoError(t, repo.SaveJobExecution(ctx, je))

	se := model.NewStepExecution("load", je)
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	stale, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)

	se.MarkAsStarted()
	require.NoError(t, repo.UpdateStepExecution(ctx, se))

	stale.MarkAsStarted()
	err = repo.UpdateStepExecution(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	missing := model.NewStepExecution("load", je)
	missing.ID = 404
	assert.ErrorIs(t, repo.UpdateStepExecution(ctx, missing), repository.ErrStepExecutionNotFound)

	staleJob := *je
	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	assert.True(t, exception.IsOptimisticLockingFailure(repo.UpdateJobExecution(ctx, &staleJob)))
}

func TestSQLJobRepository_GetLastStepExecution(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	instance, err := repo.CreateJobInstance(ctx, "importJob", "k")
	require.NoError(t, err)

	last, err := repo.GetLastStepExecution(ctx, instance.ID, "load")
	require.NoError(t, err)
	assert.Nil(t, last)

	var ids []int64
	for i := 0; i < 2; i++ {
		je := model.NewJobExecution(instance.ID, "importJob")
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		se := model.NewStepExecution("load", je)
		require.NoError(t, repo.SaveStepExecution(ctx, se))
		ids = append(ids, se.ID)
	}

	last, err = repo.GetLastStepExecution(ctx, instance.ID, "load")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, ids[1], last.ID)
}

func TestMigrator_UpIsIdempotentAndDownDrops(t *testing.T) {
	ctx := context.Background()
	db := openMetadataDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	m := migration.NewMigrator(sqlDB, "sqlite3")
	require.NoError(t, m.Up(ctx))
	version, dirty, ok, err := m.Version()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.EqualValues(t, 1, version)

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable("batch_step_execution"))

	assert.Error(t, migration.NewMigrator(sqlDB, "oracle").Up(ctx))
}
