package sql

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/pagebatch/pkg/batch/core/config"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/sql/migration"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// NewJobRepositoryProvider opens the metadata database named by
// infrastructure.job_repository_db_ref, applies the schema migrations and returns the
// repository.
func NewJobRepositoryProvider(cfg *config.Config, provider *gormadapter.Provider) (repository.JobRepository, error) {
	name := cfg.PageBatch.Infrastructure.JobRepositoryDBRef
	db, err := provider.GetConnection(name)
	if err != nil {
		return nil, exception.NewBatchError("SQLJobRepository", "failed to open metadata database", err, false, false)
	}
	dbType, err := provider.DatabaseType(name)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, exception.NewBatchError("SQLJobRepository", "failed to get metadata sql.DB", err, false, false)
	}
	if err := migration.NewMigrator(sqlDB, dbType).Up(context.Background()); err != nil {
		return nil, exception.NewBatchError("SQLJobRepository", "failed to migrate metadata schema", err, false, false)
	}
	return NewSQLJobRepository(db), nil
}

// Module provides the SQL job repository. It needs gormadapter.Module and a
// registered dialector for the metadata database type.
var Module = fx.Options(
	fx.Provide(NewJobRepositoryProvider),
)
