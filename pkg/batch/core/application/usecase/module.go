package usecase

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
)

// Module is the Fx module for JobLauncher and JobExplorer.
var Module = fx.Options(
	fx.Provide(NewSimpleJobExplorer),
	fx.Provide(
		func(e *SimpleJobExplorer) JobExplorer { return e },
		func(e *SimpleJobExplorer) repository.JobExplorer { return e },
	),
	fx.Provide(fx.Annotate(
		NewSimpleJobLauncher,
		fx.As(new(JobLauncher)),
	)),
)
