package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

var (
	// ErrNoSuchStep is returned when a request names a step the locator does not know.
	ErrNoSuchStep = errors.New("no such step")
	// ErrNoSuchStepExecution is returned when a request references a missing StepExecution.
	ErrNoSuchStepExecution = errors.New("no such step execution")
)

func init() {
	exception.RegisterErrorType("ErrNoSuchStep", ErrNoSuchStep)
	exception.RegisterErrorType("ErrNoSuchStepExecution", ErrNoSuchStepExecution)
}

// MapStepLocator is a port.StepLocator over an explicit name to step map.
type MapStepLocator struct {
	mu    sync.RWMutex
	steps map[string]port.Step
}

var _ port.StepLocator = (*MapStepLocator)(nil)

// NewMapStepLocator creates a locator holding steps. Later duplicates replace earlier ones.
func NewMapStepLocator(steps ...port.Step) *MapStepLocator {
	l := &MapStepLocator{steps: make(map[string]port.Step, len(steps))}
	for _, s := range steps {
		if s != nil {
			l.steps[s.StepName()] = s
		}
	}
	return l
}

// Register adds step under its name. A name may only be registered once.
func (l *MapStepLocator) Register(step port.Step) error {
	if step == nil || step.StepName() == "" {
		return exception.NewConfigError("MapStepLocator", "step", "must have a name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.steps[step.StepName()]; exists {
		return exception.NewConfigError("MapStepLocator", "step", fmt.Sprintf("'%s' is already registered", step.StepName()))
	}
	l.steps[step.StepName()] = step
	return nil
}

// GetStep implements port.StepLocator.
func (l *MapStepLocator) GetStep(name string) (port.Step, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	step, ok := l.steps[name]
	if !ok {
		return nil, exception.NewBatchError("step_locator", fmt.Sprintf("step '%s' is not registered", name), ErrNoSuchStep, false, false)
	}
	return step, nil
}

// StepNames implements port.StepLocator.
func (l *MapStepLocator) StepNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.steps))
	for name := range l.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestHandler executes the partition described by a StepExecutionRequest.
type RequestHandler interface {
	Handle(ctx context.Context, request model.StepExecutionRequest) (*model.StepExecution, error)
}

// StepExecutionRequestHandler is the worker endpoint. It loads the StepExecution from
// the shared repository, runs the named step against it and reports the outcome on
// the execution itself. It does not persist the execution.
type StepExecutionRequestHandler struct {
	explorer repository.JobExplorer
	locator  port.StepLocator
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
}

var _ RequestHandler = (*StepExecutionRequestHandler)(nil)

// NewStepExecutionRequestHandler creates the handler.
func NewStepExecutionRequestHandler(explorer repository.JobExplorer, locator port.StepLocator) (*StepExecutionRequestHandler, error) {
	if explorer == nil {
		return nil, exception.NewConfigError("StepExecutionRequestHandler", "JobExplorer", "must not be nil")
	}
	if locator == nil {
		return nil, exception.NewConfigError("StepExecutionRequestHandler", "StepLocator", "must not be nil")
	}
	return &StepExecutionRequestHandler{
		explorer: explorer,
		locator:  locator,
		recorder: metrics.NewNoOpMetricRecorder(),
		tracer:   metrics.NewNoOpTracer(),
	}, nil
}

// SetMetricRecorder sets the recorder notified of step start and end.
func (h *StepExecutionRequestHandler) SetMetricRecorder(recorder metrics.MetricRecorder) {
	h.recorder = recorder
}

// SetTracer sets the tracer used for worker step spans.
func (h *StepExecutionRequestHandler) SetTracer(tracer metrics.Tracer) {
	h.tracer = tracer
}

// Handle resolves the StepExecution and the Step of request and executes it.
//
// It returns an error only when one of them cannot be resolved, before anything is
// executed. Execution errors are recorded on the returned StepExecution: an
// interruption leaves it STOPPED, any other error FAILED.
func (h *StepExecutionRequestHandler) Handle(ctx context.Context, request model.StepExecutionRequest) (*model.StepExecution, error) {
	stepExecution, err := h.explorer.GetStepExecution(ctx, request.JobExecutionID, request.StepExecutionID)
	if err != nil || stepExecution == nil {
		logger.Errorf("StepExecutionRequestHandler: %s: step execution not found: %v", request, err)
		return nil, exception.NewBatchError("request_handler", fmt.Sprintf("no StepExecution found for %s", request), errors.Join(ErrNoSuchStepExecution, err), false, false)
	}

	step, err := h.locator.GetStep(request.StepName)
	if err != nil {
		logger.Errorf("StepExecutionRequestHandler: %s: %v", request, err)
		return nil, exception.NewBatchError("request_handler", fmt.Sprintf("no Step found with name '%s'", request.StepName), errors.Join(ErrNoSuchStep, err), false, false)
	}

	h.execute(ctx, step, stepExecution)
	return stepExecution, nil
}

func (h *StepExecutionRequestHandler) execute(ctx context.Context, step port.Step, stepExecution *model.StepExecution) {
	ctx, end := h.tracer.StartStepSpan(ctx, stepExecution)
	defer end()

	logger.Infof("StepExecutionRequestHandler: executing step '%s' for StepExecution (ID: %d, name: %s).", step.StepName(), stepExecution.ID, stepExecution.StepName)
	stepExecution.MarkAsStarted()
	h.recorder.RecordStepStart(ctx, stepExecution)

	err := runStep(ctx, step, stepExecution)
	switch {
	case err == nil:
		if stepExecution.Status.IsRunning() {
			stepExecution.MarkAsCompleted()
		}
	case errors.Is(err, port.ErrJobInterrupted):
		logger.Warnf("StepExecutionRequestHandler: StepExecution (ID: %d) interrupted: %v", stepExecution.ID, err)
		stepExecution.MarkAsStopped()
	default:
		logger.Errorf("StepExecutionRequestHandler: StepExecution (ID: %d) failed: %v", stepExecution.ID, err)
		h.tracer.RecordError(ctx, "request_handler", err)
		stepExecution.MarkAsFailed(err)
	}
	h.recorder.RecordStepEnd(ctx, stepExecution)
	logger.Infof("StepExecutionRequestHandler: StepExecution (ID: %d) finished with status %s.", stepExecution.ID, stepExecution.Status)
}

// runStep executes step and turns a panic into an error.
func runStep(ctx context.Context, step port.Step, stepExecution *model.StepExecution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step '%s' panicked: %v", step.StepName(), r)
		}
	}()
	return step.Execute(ctx, stepExecution)
}

// PersistingRequestHandler writes the executed StepExecution back to the job repository
// so that a polling manager observes its terminal status.
type PersistingRequestHandler struct {
	delegate      RequestHandler
	jobRepository repository.JobRepository
}

var _ RequestHandler = (*PersistingRequestHandler)(nil)

// NewPersistingRequestHandler wraps delegate.
func NewPersistingRequestHandler(delegate RequestHandler, jobRepository repository.JobRepository) *PersistingRequestHandler {
	return &PersistingRequestHandler{delegate: delegate, jobRepository: jobRepository}
}

// Handle implements RequestHandler.
func (h *PersistingRequestHandler) Handle(ctx context.Context, request model.StepExecutionRequest) (*model.StepExecution, error) {
	stepExecution, err := h.delegate.Handle(ctx, request)
	if err != nil {
		return nil, err
	}
	// The terminal status is written even when ctx was cancelled.
	if updateErr := h.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); updateErr != nil {
		logger.Errorf("PersistingRequestHandler: failed to persist StepExecution (ID: %d): %v", stepExecution.ID, updateErr)
	}
	return stepExecution, nil
}

// NewMessageHandler adapts h to a messaging.Handler. Request payloads may be a
// model.StepExecutionRequest or a pointer to one; the reply payload is the executed
// *model.StepExecution.
func NewMessageHandler(h RequestHandler) messaging.Handler {
	return func(ctx context.Context, m *messaging.Message) (interface{}, error) {
		var request model.StepExecutionRequest
		switch p := m.Payload.(type) {
		case model.StepExecutionRequest:
			request = p
		case *model.StepExecutionRequest:
			if p == nil {
				return nil, exception.NewBatchErrorf("request_handler", "nil StepExecutionRequest in message %s", m.ID)
			}
			request = *p
		default:
			return nil, exception.NewBatchErrorf("request_handler", "unsupported payload %T in message %s", m.Payload, m.ID)
		}
		stepExecution, err := h.Handle(ctx, request)
		if err != nil {
			return nil, err
		}
		return stepExecution, nil
	}
}
