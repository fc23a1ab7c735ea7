package partition

import (
	"context"

	"go.uber.org/fx"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/pagebatch/pkg/batch/core/config"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// WorkerStepsGroup is the fx value group the application adds its worker steps to.
const WorkerStepsGroup = `group:"workerSteps"`

// StepLocatorParams defines the dependencies of the step locator.
type StepLocatorParams struct {
	fx.In
	Steps []port.Step `group:"workerSteps"`
}

// NewStepLocatorProvider registers every worker step. Duplicate names are a configuration error.
func NewStepLocatorProvider(p StepLocatorParams) (*MapStepLocator, error) {
	locator := NewMapStepLocator()
	for _, s := range p.Steps {
		if err := locator.Register(s); err != nil {
			return nil, err
		}
	}
	logger.Debugf("StepLocator: registered worker steps %v.", locator.StepNames())
	return locator, nil
}

// WorkerParams defines the dependencies of the worker endpoint.
type WorkerParams struct {
	fx.In
	Lifecycle     fx.Lifecycle
	Config        *config.BatchConfig
	Channels      *messaging.Channels
	JobExplorer   repository.JobExplorer
	JobRepository repository.JobRepository
	Locator       port.StepLocator
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
}

// NewWorkerProvider creates the service activator that executes StepExecutionRequests
// from the request channel. In reply mode the executed StepExecution is sent to the
// reply channel; in poll mode the manager reads it from the job repository instead.
func NewWorkerProvider(p WorkerParams) (*messaging.ServiceActivator, error) {
	handler, err := NewStepExecutionRequestHandler(p.JobExplorer, p.Locator)
	if err != nil {
		return nil, err
	}
	handler.SetMetricRecorder(p.Recorder)
	handler.SetTracer(p.Tracer)

	var output messaging.MessageChannel
	if p.Config.Partition.Mode != config.PartitionModePoll {
		output = p.Channels.Replies
	}
	activator, err := messaging.NewServiceActivator(messaging.ActivatorConfig{
		Input:   p.Channels.Requests,
		Handler: NewMessageHandler(NewPersistingRequestHandler(handler, p.JobRepository)),
		Output:  output,
		Workers: p.Config.Messaging.WorkerCount,
	})
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			activator.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			activator.Stop()
			return nil
		},
	})
	return activator, nil
}

// StepBuilderParams defines the dependencies of StepBuilder.
type StepBuilderParams struct {
	fx.In
	Config        *config.BatchConfig
	JobRepository repository.JobRepository
	JobExplorer   repository.JobExplorer
	Gateway       messaging.MessagingGateway
	Channels      *messaging.Channels
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
}

// StepBuilder builds remote partitioned steps from the partition configuration.
type StepBuilder struct {
	p StepBuilderParams
}

// NewStepBuilder creates a StepBuilder.
func NewStepBuilder(p StepBuilderParams) *StepBuilder {
	return &StepBuilder{p: p}
}

// Build returns a manager step named stepName that splits with partitioner and runs
// workerStepName for every partition through the request channel.
func (b *StepBuilder) Build(stepName, workerStepName string, partitioner port.Partitioner) (*PartitionStep, error) {
	pc := b.p.Config.Partition
	splitter, err := NewSimpleStepExecutionSplitter(SplitterConfig{
		JobRepository:        b.p.JobRepository,
		StepName:             stepName,
		Partitioner:          partitioner,
		AllowStartIfComplete: pc.AllowStartIfComplete,
	})
	if err != nil {
		return nil, err
	}

	hc := HandlerConfig{
		StepName: workerStepName,
		GridSize: pc.GridSize,
		Gateway:  b.p.Gateway,
		Timeout:  pc.Timeout(),
		Recorder: b.p.Recorder,
		Tracer:   b.p.Tracer,
	}
	switch pc.Mode {
	case config.PartitionModePoll:
		hc.JobExplorer = b.p.JobExplorer
		hc.PollInterval = pc.PollInterval()
	case config.PartitionModeReply, "":
		hc.ReplyChannel = b.p.Channels.Aggregated
	default:
		return nil, exception.NewConfigError("batch.partition", "mode", "must be \"reply\" or \"poll\"")
	}
	handler, err := NewMessageChannelPartitionHandler(hc)
	if err != nil {
		return nil, err
	}
	return NewPartitionStep(stepName, splitter, handler, b.p.JobRepository)
}

// Module provides the worker endpoint and the StepBuilder. Worker steps are
// supplied with fx.ResultTags(WorkerStepsGroup).
var Module = fx.Options(
	fx.Provide(
		NewStepLocatorProvider,
		func(l *MapStepLocator) port.StepLocator { return l },
		NewWorkerProvider,
		NewStepBuilder,
	),
	fx.Invoke(func(*messaging.ServiceActivator) {}),
)
