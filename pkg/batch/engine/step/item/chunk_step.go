// Package item provides the chunk-oriented step: items are read one at a time and
// written in chunks, with the reader's restart state committed after every chunk.
package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	retry "github.com/tigerroll/pagebatch/pkg/batch/engine/step/retry"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// DefaultCommitInterval is the chunk size when none is configured.
const DefaultCommitInterval = 10

// ChunkStep reads items with an [port.ItemReader] and writes them with an
// [port.ItemWriter] in chunks of CommitInterval items.
//
// After every written chunk the reader's state is stored in the StepExecution's
// ExecutionContext and the StepExecution is persisted, so a restarted execution
// resumes after the last committed chunk.
type ChunkStep[T any] struct {
	name           string
	reader         port.ItemReader[T]
	writer         port.ItemWriter[T]
	commitInterval int
	jobRepository  repository.JobRepository
	retryPolicy    retry.RetryPolicy
	recorder       metrics.MetricRecorder
	tracer         metrics.Tracer
}

var _ port.Step = (*ChunkStep[any])(nil)

// NewChunkStep creates a ChunkStep. A commitInterval of zero selects DefaultCommitInterval.
func NewChunkStep[T any](name string, reader port.ItemReader[T], writer port.ItemWriter[T], commitInterval int, jobRepository repository.JobRepository) (*ChunkStep[T], error) {
	switch {
	case name == "":
		return nil, exception.NewConfigError("ChunkStep", "name", "must not be empty")
	case reader == nil:
		return nil, exception.NewConfigError("ChunkStep", "reader", "must not be nil")
	case writer == nil:
		return nil, exception.NewConfigError("ChunkStep", "writer", "must not be nil")
	case jobRepository == nil:
		return nil, exception.NewConfigError("ChunkStep", "jobRepository", "must not be nil")
	case commitInterval < 0:
		return nil, exception.NewConfigError("ChunkStep", "commitInterval", "must not be negative")
	}
	if commitInterval == 0 {
		commitInterval = DefaultCommitInterval
	}
	return &ChunkStep[T]{
		name:           name,
		reader:         reader,
		writer:         writer,
		commitInterval: commitInterval,
		jobRepository:  jobRepository,
		retryPolicy:    retry.NeverRetry(),
		recorder:       metrics.NewNoOpMetricRecorder(),
		tracer:         metrics.NewNoOpTracer(),
	}, nil
}

// SetRetryPolicy sets the policy applied to failed chunk writes.
func (s *ChunkStep[T]) SetRetryPolicy(policy retry.RetryPolicy) { s.retryPolicy = policy }

// SetMetricRecorder sets the recorder notified of every commit.
func (s *ChunkStep[T]) SetMetricRecorder(recorder metrics.MetricRecorder) { s.recorder = recorder }

// SetTracer sets the tracer used for chunk spans.
func (s *ChunkStep[T]) SetTracer(tracer metrics.Tracer) { s.tracer = tracer }

// StepName implements port.Step.
func (s *ChunkStep[T]) StepName() string { return s.name }

// CommitInterval returns the chunk size.
func (s *ChunkStep[T]) CommitInterval() int { return s.commitInterval }

// Execute implements port.Step. Cancellation of ctx ends the step with an error
// wrapping port.ErrJobInterrupted; the last committed chunk is kept.
func (s *ChunkStep[T]) Execute(ctx context.Context, stepExecution *model.StepExecution) (err error) {
	if stepExecution.ExecutionContext == nil {
		stepExecution.ExecutionContext = model.NewExecutionContext()
	}
	ec := stepExecution.ExecutionContext

	if err := s.reader.Open(ctx, ec); err != nil {
		return exception.NewBatchError(s.name, "failed to open reader", err, false, false)
	}
	defer func() {
		if closeErr := s.reader.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warnf("ChunkStep '%s': failed to close reader: %v", s.name, closeErr)
			if err == nil {
				err = exception.NewBatchError(s.name, "failed to close reader", closeErr, false, false)
			}
		}
	}()

	logger.Infof("ChunkStep '%s' started (StepExecution ID: %d, commit interval %d).", s.name, stepExecution.ID, s.commitInterval)
	for chunkNo := 1; ; chunkNo++ {
		if ctx.Err() != nil {
			return s.interrupted(ctx, stepExecution)
		}

		items, eof, err := s.readChunk(ctx, stepExecution)
		if err != nil {
			if ctx.Err() != nil {
				return s.interrupted(ctx, stepExecution)
			}
			return err
		}

		if len(items) > 0 {
			if err := s.writeChunk(ctx, stepExecution, chunkNo, items); err != nil {
				if ctx.Err() != nil {
					return s.interrupted(ctx, stepExecution)
				}
				return err
			}
		}

		if len(items) > 0 || eof {
			if err := s.commit(ctx, stepExecution, len(items)); err != nil {
				return err
			}
		}
		if eof {
			logger.Infof("ChunkStep '%s' finished: read %d, written %d, commits %d.",
				s.name, stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.CommitCount)
			return nil
		}
	}
}

// readChunk reads up to commitInterval items. eof reports that the reader is exhausted.
func (s *ChunkStep[T]) readChunk(ctx context.Context, stepExecution *model.StepExecution) (items []T, eof bool, err error) {
	items = make([]T, 0, s.commitInterval)
	for len(items) < s.commitInterval {
		item, err := s.reader.Read(ctx)
		if errors.Is(err, port.ErrNoMoreItems) {
			return items, true, nil
		}
		if err != nil {
			return items, false, exception.NewBatchError(s.name, "failed to read item", err, false, false)
		}
		items = append(items, item)
		stepExecution.ReadCount++
	}
	return items, false, nil
}

// writeChunk writes items, retrying as the retry policy allows.
func (s *ChunkStep[T]) writeChunk(ctx context.Context, stepExecution *model.StepExecution, chunkNo int, items []T) error {
	ctx, end := s.tracer.StartSpan(ctx, "chunk.write", map[string]interface{}{
		"step.name":  s.name,
		"chunk.no":   chunkNo,
		"chunk.size": len(items),
	})
	defer end()

	for attempt := 1; ; attempt++ {
		err := s.writer.Write(ctx, items)
		if err == nil {
			stepExecution.WriteCount += int64(len(items))
			return nil
		}
		stepExecution.RollbackCount++
		s.tracer.RecordError(ctx, s.name, err)

		if attempt > s.retryPolicy.GetMaxAttempts() || !s.retryPolicy.ShouldRetry(err) {
			logger.Errorf("ChunkStep '%s': chunk #%d (%d items) failed after %d attempt(s): %v", s.name, chunkNo, len(items), attempt, err)
			return exception.NewBatchError(s.name, fmt.Sprintf("failed to write chunk #%d", chunkNo), err, false, false)
		}

		backoff := s.retryPolicy.GetBackoffInterval(attempt)
		logger.Warnf("ChunkStep '%s': chunk #%d write failed (attempt %d), retrying in %v: %v", s.name, chunkNo, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// commit stores the reader state and persists the StepExecution.
func (s *ChunkStep[T]) commit(ctx context.Context, stepExecution *model.StepExecution, count int) error {
	if err := s.reader.Update(ctx, stepExecution.ExecutionContext); err != nil {
		return exception.NewBatchError(s.name, "failed to update reader state", err, false, false)
	}
	if count > 0 {
		stepExecution.CommitCount++
	}
	stepExecution.LastUpdated = time.Now()
	if err := s.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), stepExecution); err != nil {
		return exception.NewBatchError(s.name, "failed to persist StepExecution", err, false, false)
	}
	if count > 0 {
		s.recorder.RecordChunkCommit(ctx, s.name, count)
	}
	return nil
}

func (s *ChunkStep[T]) interrupted(ctx context.Context, stepExecution *model.StepExecution) error {
	logger.Warnf("ChunkStep '%s' interrupted after %d commits (StepExecution ID: %d).", s.name, stepExecution.CommitCount, stepExecution.ID)
	return fmt.Errorf("%w: step '%s': %v", port.ErrJobInterrupted, s.name, context.Cause(ctx))
}
