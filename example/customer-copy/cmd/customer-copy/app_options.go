package main

import (
	"context"
	"strings"

	"go.uber.org/fx"

	appjob "github.com/tigerroll/pagebatch/example/customer-copy/internal/app/job"
	apprunner "github.com/tigerroll/pagebatch/example/customer-copy/internal/app/runner"
	appconfig "github.com/tigerroll/pagebatch/example/customer-copy/internal/config"
	copystep "github.com/tigerroll/pagebatch/example/customer-copy/internal/step"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm/sqlite"
	usecase "github.com/tigerroll/pagebatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	partition "github.com/tigerroll/pagebatch/pkg/batch/engine/step/partition"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	inframetrics "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/metrics"
	inmemoryRepo "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/inmemory"
	sqlRepo "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/repository/sql"
	telemetry "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/telemetry"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// repositoryModule selects the job repository named by infrastructure.job_repository_type.
func repositoryModule(cfg *config.Config) fx.Option {
	if strings.EqualFold(cfg.PageBatch.Infrastructure.JobRepositoryType, "sql") {
		logger.Infof("Using SQL job repository on database '%s'.", cfg.PageBatch.Infrastructure.JobRepositoryDBRef)
		return sqlRepo.Module
	}
	logger.Infof("Using in-memory job repository.")
	return inmemoryRepo.Module
}

// GetApplicationOptions builds the fx options of the application.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) ([]fx.Option, error) {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		return nil, err
	}

	var options []fx.Option
	options = append(options, fx.Supply(
		embeddedConfig,
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, appconfig.Module)
	options = append(options, telemetry.Module)
	options = append(options, inframetrics.Module)
	options = append(options, gormadapter.Module)
	options = append(options, repositoryModule(cfg))
	options = append(options, usecase.Module)
	options = append(options, messaging.Module)
	options = append(options, partition.Module)
	options = append(options, copystep.Module)
	options = append(options, appjob.Module)
	options = append(options, apprunner.Module)
	return options, nil
}
