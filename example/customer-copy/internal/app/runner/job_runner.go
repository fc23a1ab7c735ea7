// Package runner launches the customer-copy job when the application starts and
// shuts the application down when the job ends.
package runner

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	appjob "github.com/tigerroll/pagebatch/example/customer-copy/internal/app/job"
	appconfig "github.com/tigerroll/pagebatch/example/customer-copy/internal/config"
	apprepo "github.com/tigerroll/pagebatch/example/customer-copy/internal/repository"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
	usecase "github.com/tigerroll/pagebatch/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	inframetrics "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// Result records the outcome of the run. It is nil until the job has finished.
type Result struct {
	Execution *model.JobExecution
	Err       error
}

// JobRunner runs the job once.
type JobRunner struct {
	launcher usecase.JobLauncher
	job      *appjob.CustomerCopyJob
	app      *appconfig.Config
	provider *gormadapter.Provider

	done   chan struct{}
	result Result
}

// Params defines the dependencies of JobRunner.
type Params struct {
	fx.In
	Launcher usecase.JobLauncher
	Job      *appjob.CustomerCopyJob
	App      *appconfig.Config
	Provider *gormadapter.Provider
}

// NewJobRunner creates a JobRunner.
func NewJobRunner(p Params) *JobRunner {
	return &JobRunner{
		launcher: p.Launcher,
		job:      p.Job,
		app:      p.App,
		provider: p.Provider,
		done:     make(chan struct{}),
	}
}

// JobKey returns the configured job key, or today's date.
func (r *JobRunner) JobKey() string {
	if r.app.JobKey != "" {
		return r.app.JobKey
	}
	return time.Now().UTC().Format("2006-01-02")
}

// Run prepares the tables and launches the job. It blocks until the job ends.
func (r *JobRunner) Run(ctx context.Context) (*model.JobExecution, error) {
	source, err := r.provider.GetConnection(r.app.SourceDBRef)
	if err != nil {
		return nil, err
	}
	target, err := r.provider.GetConnection(r.app.TargetDBRef)
	if err != nil {
		return nil, err
	}
	if err := apprepo.EnsureSchema(ctx, source, target); err != nil {
		return nil, err
	}
	if _, err := apprepo.SeedCustomers(ctx, source, r.app.SeedCount); err != nil {
		return nil, err
	}

	jobKey := r.JobKey()
	logger.Infof("Starting job '%s' (key '%s').", r.job.Name, jobKey)
	execution, err := r.launcher.Launch(ctx, r.job.Name, jobKey, r.job.Steps...)
	if err != nil {
		return nil, err
	}
	copies, countErr := apprepo.CountCopies(context.WithoutCancel(ctx), target)
	if countErr != nil {
		logger.Warnf("Could not count customer_copy rows: %v", countErr)
	}
	logger.Infof("Job '%s' (Execution ID: %d) finished with status %s, ExitStatus %s. customer_copy holds %d rows.",
		r.job.Name, execution.ID, execution.Status, execution.ExitStatus, copies)
	return execution, nil
}

// Done is closed when the run has finished.
func (r *JobRunner) Done() <-chan struct{} { return r.done }

// Result returns the outcome of the run. Only valid after Done is closed.
func (r *JobRunner) Result() Result { return r.result }

// ExitCode maps the outcome to a process exit code.
func (r *JobRunner) ExitCode() int {
	switch {
	case r.result.Err != nil:
		return 2
	case r.result.Execution == nil || r.result.Execution.Status != model.BatchStatusCompleted:
		return 1
	default:
		return 0
	}
}

// startJobExecution runs the job in the background on start and requests shutdown
// when it ends. appCtx is cancelled on SIGINT or SIGTERM.
func startJobExecution(lc fx.Lifecycle, shutdowner fx.Shutdowner, runner *JobRunner, appCtx context.Context) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(runner.done)
				defer func() {
					if rec := recover(); rec != nil {
						logger.Errorf("Panic recovered in job execution: %v", rec)
						runner.result.Err = errors.New("job execution panicked")
					}
					logger.Infof("Requesting application shutdown after job completion.")
					if err := shutdowner.Shutdown(fx.ExitCode(runner.ExitCode())); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				execution, err := runner.Run(appCtx)
				if err != nil {
					logger.Errorf("Job run failed: %v", err)
				}
				runner.result = Result{Execution: execution, Err: err}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

// startMetricsServer serves the Prometheus registry on customer_copy.metrics_addr.
func startMetricsServer(lc fx.Lifecycle, app *appconfig.Config, recorder *inframetrics.PrometheusRecorder) {
	if app.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(recorder.GetRegistry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: app.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("Metrics server stopped: %v", err)
				}
			}()
			logger.Infof("Serving Prometheus metrics on %s/metrics.", app.MetricsAddr)
			return nil
		},
		OnStop: server.Shutdown,
	})
}

// Module provides the JobRunner and starts it together with the metrics endpoint.
var Module = fx.Options(
	fx.Provide(NewJobRunner),
	fx.Invoke(startMetricsServer),
	fx.Invoke(fx.Annotate(startJobExecution, fx.ParamTags("", "", "", `name:"appCtx"`))),
)
