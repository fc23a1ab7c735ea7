package item

import (
	"context"
	"fmt"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// StepFactory builds the step that runs one StepExecution. Readers and writers that
// depend on the partition bounds in the execution's context are created here.
type StepFactory func(ctx context.Context, stepExecution *model.StepExecution) (port.Step, error)

// ScopedStep creates a fresh step for every StepExecution, so one registered worker
// step can run several partitions concurrently without sharing reader state.
type ScopedStep struct {
	name    string
	factory StepFactory
}

var _ port.Step = (*ScopedStep)(nil)

// NewScopedStep creates a ScopedStep named name.
func NewScopedStep(name string, factory StepFactory) (*ScopedStep, error) {
	if name == "" {
		return nil, exception.NewConfigError("ScopedStep", "name", "must not be empty")
	}
	if factory == nil {
		return nil, exception.NewConfigError("ScopedStep", "factory", "must not be nil")
	}
	return &ScopedStep{name: name, factory: factory}, nil
}

// StepName implements port.Step.
func (s *ScopedStep) StepName() string { return s.name }

// Execute builds the step for stepExecution and runs it.
func (s *ScopedStep) Execute(ctx context.Context, stepExecution *model.StepExecution) error {
	step, err := s.factory(ctx, stepExecution)
	if err != nil {
		return exception.NewBatchError(s.name, fmt.Sprintf("failed to build step for StepExecution (ID: %d)", stepExecution.ID), err, false, false)
	}
	logger.Debugf("ScopedStep '%s': built %T for StepExecution (ID: %d).", s.name, step, stepExecution.ID)
	return step.Execute(ctx, stepExecution)
}
