package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/pagebatch/pkg/batch/core/metrics"
	messaging "github.com/tigerroll/pagebatch/pkg/batch/infrastructure/messaging"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// ErrPartitionTimeout is returned by Handle when not every partition reported back in time.
var ErrPartitionTimeout = errors.New("timeout occurred before all partitions returned")

// DefaultPollInterval is the repository poll interval when none is configured.
const DefaultPollInterval = 10 * time.Second

func init() {
	exception.RegisterErrorType("ErrPartitionTimeout", ErrPartitionTimeout)
}

// HandlerConfig configures a MessageChannelPartitionHandler.
type HandlerConfig struct {
	// StepName is the worker step executed for every partition.
	StepName string
	// GridSize is the requested number of partitions.
	GridSize int
	// Gateway sends the requests and receives the aggregated reply.
	Gateway messaging.MessagingGateway
	// ReplyChannel receives the aggregated reply. Required unless JobExplorer is set.
	ReplyChannel messaging.PollableChannel
	// JobExplorer switches the handler to poll mode: completion is read from the
	// shared repository and workers need not reply.
	JobExplorer repository.JobExplorer
	// PollInterval is the delay between repository polls. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Timeout bounds the wait in poll mode and is reported as ErrPartitionTimeout.
	// Zero or negative means unbounded: the handler polls until every partition has
	// finished or ctx is done. Reply mode is bounded by the gateway receive timeout.
	Timeout time.Duration

	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
}

// MessageChannelPartitionHandler sends one StepExecutionRequest per partition over a
// messaging gateway and collects the results either from an aggregated reply or by
// polling the job repository.
type MessageChannelPartitionHandler struct {
	cfg HandlerConfig
}

var _ port.PartitionHandler = (*MessageChannelPartitionHandler)(nil)

// NewMessageChannelPartitionHandler validates cfg and creates the handler.
func NewMessageChannelPartitionHandler(cfg HandlerConfig) (*MessageChannelPartitionHandler, error) {
	switch {
	case cfg.StepName == "":
		return nil, exception.NewConfigError("MessageChannelPartitionHandler", "StepName", "must not be empty")
	case cfg.Gateway == nil:
		return nil, exception.NewConfigError("MessageChannelPartitionHandler", "Gateway", "must not be nil")
	case cfg.GridSize <= 0:
		return nil, exception.NewConfigError("MessageChannelPartitionHandler", "GridSize", "must be greater than zero")
	case cfg.JobExplorer == nil && cfg.ReplyChannel == nil:
		return nil, exception.NewConfigError("MessageChannelPartitionHandler", "ReplyChannel", "is required when no JobExplorer is set")
	case cfg.PollInterval < 0:
		return nil, exception.NewConfigError("MessageChannelPartitionHandler", "PollInterval", "must not be negative")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NewNoOpMetricRecorder()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = metrics.NewNoOpTracer()
	}
	return &MessageChannelPartitionHandler{cfg: cfg}, nil
}

// PollMode reports whether completion is detected through the job repository.
func (h *MessageChannelPartitionHandler) PollMode() bool { return h.cfg.JobExplorer != nil }

// CorrelationID returns the id grouping the replies of one fan-out.
func CorrelationID(jobExecutionID int64, stepName string) string {
	return fmt.Sprintf("%d:%s", jobExecutionID, stepName)
}

// Handle implements port.PartitionHandler.
func (h *MessageChannelPartitionHandler) Handle(ctx context.Context, splitter port.StepExecutionSplitter, managerExecution *model.StepExecution) ([]*model.StepExecution, error) {
	started := time.Now()
	ctx, end := h.cfg.Tracer.StartSpan(ctx, "partition.handle", map[string]interface{}{
		"step.name": h.cfg.StepName,
		"grid.size": h.cfg.GridSize,
	})
	defer end()

	split, err := splitter.Split(ctx, managerExecution, h.cfg.GridSize)
	if err != nil {
		h.cfg.Tracer.RecordError(ctx, "partition_handler", err)
		return nil, exception.NewBatchError("partition_handler", fmt.Sprintf("failed to split step '%s'", splitter.StepName()), err, false, false)
	}
	if len(split) == 0 {
		logger.Infof("MessageChannelPartitionHandler '%s': nothing to execute.", h.cfg.StepName)
		return []*model.StepExecution{}, nil
	}

	correlationID := CorrelationID(managerExecution.JobExecutionID, h.cfg.StepName)
	for i, child := range split {
		request := model.NewStepExecutionRequest(h.cfg.StepName, child.JobExecutionID, child.ID)
		m := messaging.NewMessage(request).
			WithHeader(messaging.HeaderCorrelationID, correlationID).
			WithHeader(messaging.HeaderSequenceNumber, i).
			WithHeader(messaging.HeaderSequenceSize, len(split))
		if !h.PollMode() {
			m.WithHeader(messaging.HeaderReplyChannel, h.cfg.ReplyChannel)
		}
		if err := h.cfg.Gateway.Send(ctx, m); err != nil {
			h.cfg.Tracer.RecordError(ctx, "partition_handler", err)
			return nil, exception.NewBatchError("partition_handler", fmt.Sprintf("failed to send %s", request), err, false, true)
		}
		logger.Debugf("MessageChannelPartitionHandler '%s': sent %s (%d/%d).", h.cfg.StepName, request, i+1, len(split))
	}
	h.cfg.Recorder.RecordPartitionsDispatched(ctx, h.cfg.StepName, len(split))
	logger.Infof("MessageChannelPartitionHandler '%s': dispatched %d partitions (correlation id '%s').", h.cfg.StepName, len(split), correlationID)

	var results []*model.StepExecution
	if h.PollMode() {
		results, err = h.pollReplies(ctx, split)
	} else {
		results, err = h.receiveReplies(ctx, len(split))
	}
	h.cfg.Recorder.RecordDuration(ctx, "partition.handle", time.Since(started), map[string]string{"step": h.cfg.StepName})
	if err != nil {
		h.cfg.Tracer.RecordError(ctx, "partition_handler", err)
		return results, err
	}
	for _, r := range results {
		h.cfg.Recorder.RecordPartitionResult(ctx, h.cfg.StepName, r.Status)
	}
	return results, nil
}

// receiveReplies waits for the aggregated reply. A partial group released on expiry
// is returned together with an ErrPartitionTimeout error.
func (h *MessageChannelPartitionHandler) receiveReplies(ctx context.Context, expected int) ([]*model.StepExecution, error) {
	m, err := h.cfg.Gateway.Receive(ctx, h.cfg.ReplyChannel)
	if err != nil {
		if errors.Is(err, messaging.ErrReceiveTimeout) {
			return nil, exception.NewBatchError("partition_handler", ErrPartitionTimeout.Error(), ErrPartitionTimeout, false, true)
		}
		return nil, exception.NewBatchError("partition_handler", "failed to receive partition replies", err, false, true)
	}
	if m == nil {
		return nil, exception.NewBatchError("partition_handler", ErrPartitionTimeout.Error(), ErrPartitionTimeout, false, true)
	}

	results, ok := m.Payload.([]*model.StepExecution)
	if !ok {
		return nil, exception.NewBatchErrorf("partition_handler", "unexpected reply payload %T", m.Payload)
	}
	if len(results) < expected {
		logger.Warnf("MessageChannelPartitionHandler '%s': received %d of %d partition results.", h.cfg.StepName, len(results), expected)
		return results, exception.NewBatchError("partition_handler",
			fmt.Sprintf("received %d of %d partition results", len(results), expected), ErrPartitionTimeout, false, true)
	}
	return results, nil
}

// pollReplies reads each child from the job explorer until none is running.
func (h *MessageChannelPartitionHandler) pollReplies(ctx context.Context, split []*model.StepExecution) ([]*model.StepExecution, error) {
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}

	pending := make(map[int64]*model.StepExecution, len(split))
	for _, child := range split {
		pending[child.ID] = child
	}
	finished := make(map[int64]*model.StepExecution, len(split))

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	pollCount := 0
	for {
		pollCount++
		for id, child := range pending {
			latest, err := h.cfg.JobExplorer.GetStepExecution(ctx, child.JobExecutionID, id)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				// The repository may lag behind the dispatch; try again on the next poll.
				logger.Warnf("MessageChannelPartitionHandler '%s': poll #%d could not read StepExecution (ID: %d): %v", h.cfg.StepName, pollCount, id, err)
				continue
			}
			if !latest.Status.IsRunning() {
				finished[id] = latest
				delete(pending, id)
			}
		}
		logger.Debugf("MessageChannelPartitionHandler '%s': poll #%d, %d of %d partitions finished.", h.cfg.StepName, pollCount, len(finished), len(split))

		if len(pending) == 0 {
			results := make([]*model.StepExecution, 0, len(split))
			for _, child := range split {
				results = append(results, finished[child.ID])
			}
			return results, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && h.cfg.Timeout > 0 {
				logger.Errorf("MessageChannelPartitionHandler '%s': %d partitions still running after %v.", h.cfg.StepName, len(pending), h.cfg.Timeout)
				return nil, exception.NewBatchError("partition_handler", ErrPartitionTimeout.Error(), ErrPartitionTimeout, false, true)
			}
			return nil, exception.NewBatchError("partition_handler", "polling for partition results interrupted", ctx.Err(), false, false)
		case <-ticker.C:
		}
	}
}
