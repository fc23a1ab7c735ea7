// Package port defines the core interfaces (ports) of the batch module.
// Readers, steps and partition handlers are wired against these interfaces so that
// backends and transports can be swapped without touching the engine.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

// ErrNoMoreItems is returned by ItemReader.Read when the input is exhausted.
// Readers keep returning it on every later call.
var ErrNoMoreItems = errors.New("no more items to read")

// ErrJobInterrupted signals that a step was asked to stop. Workers convert it into a
// STOPPED status instead of a failure.
var ErrJobInterrupted = errors.New("job interrupted")

// ItemStream is a component whose restart state lives in an ExecutionContext.
type ItemStream interface {
	// Open prepares the stream and restores its position from ec.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   ec: The step's ExecutionContext. It may contain state from a previous attempt.
	//
	// Returns:
	//   error: An error if the stream cannot be opened.
	Open(ctx context.Context, ec *model.ExecutionContext) error

	// Update writes the current restart state into ec. Called before each commit.
	Update(ctx context.Context, ec *model.ExecutionContext) error

	// Close releases resources held by the stream.
	Close(ctx context.Context) error
}

// ItemReader reads items one at a time.
type ItemReader[T any] interface {
	ItemStream

	// Read returns the next item, or ErrNoMoreItems at the end of the input.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//
	// Returns:
	//   T: The next item.
	//   error: ErrNoMoreItems when exhausted, or the underlying read error.
	Read(ctx context.Context) (T, error)
}

// ItemWriter writes a chunk of items.
type ItemWriter[T any] interface {
	// Write persists items. The whole chunk succeeds or fails.
	Write(ctx context.Context, items []T) error
}

// ItemWriterFunc adapts a function to ItemWriter.
type ItemWriterFunc[T any] func(ctx context.Context, items []T) error

// Write implements ItemWriter.
func (f ItemWriterFunc[T]) Write(ctx context.Context, items []T) error {
	return f(ctx, items)
}

// Step is an executable unit of work run against a StepExecution.
type Step interface {
	// StepName returns the logical name of the step.
	StepName() string

	// Execute runs the step. It returns ErrJobInterrupted (possibly wrapped) when stopped,
	// any other error on failure. Implementations update counters on stepExecution.
	Execute(ctx context.Context, stepExecution *model.StepExecution) error
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	Name string
	Fn   func(ctx context.Context, stepExecution *model.StepExecution) error
}

// StepName implements Step.
func (s StepFunc) StepName() string { return s.Name }

// Execute implements Step.
func (s StepFunc) Execute(ctx context.Context, stepExecution *model.StepExecution) error {
	return s.Fn(ctx, stepExecution)
}

// Partitioner creates the input contexts of the partitions of a step.
type Partitioner interface {
	// Partition returns up to gridSize contexts keyed by partition name.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   gridSize: The requested number of partitions.
	//
	// Returns:
	//   map[string]*model.ExecutionContext: Partition name to its input context.
	//   error: An error if partitioning fails.
	Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error)
}

// PartitionNameProvider is implemented by partitioners whose partition names can be
// computed without computing the contexts. It is consulted on restart.
type PartitionNameProvider interface {
	PartitionNames(gridSize int) []string
}

// StepExecutionSplitter turns a manager StepExecution into the child executions of its partitions.
type StepExecutionSplitter interface {
	// StepName returns the name of the step being split.
	StepName() string

	// Split creates or restores the child executions. On restart it returns the
	// unfinished executions created by the previous attempt instead of new ones.
	Split(ctx context.Context, stepExecution *model.StepExecution, gridSize int) ([]*model.StepExecution, error)
}

// PartitionHandler fans a manager execution out to workers and collects the results.
type PartitionHandler interface {
	// Handle splits stepExecution and returns the child executions once every partition
	// finished, or an error on dispatch failure or timeout. Worker failures are reported
	// as FAILED executions in the result, not as an error.
	Handle(ctx context.Context, splitter StepExecutionSplitter, stepExecution *model.StepExecution) ([]*model.StepExecution, error)
}

// StepLocator resolves steps by name on the worker side.
type StepLocator interface {
	// GetStep returns the step registered under name.
	GetStep(name string) (Step, error)

	// StepNames returns the registered names.
	StepNames() []string
}
