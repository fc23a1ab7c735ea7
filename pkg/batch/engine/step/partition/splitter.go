package partition

import (
	"context"
	"fmt"
	"sort"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/pagebatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// GridSizeKey stores the grid size of the first attempt in the manager context.
const GridSizeKey = "SimpleStepExecutionSplitter.GRID_SIZE"

// stepNameSeparator joins the manager step name and the partition name.
const stepNameSeparator = ":"

// SplitterConfig configures a SimpleStepExecutionSplitter.
type SplitterConfig struct {
	JobRepository repository.JobRepository
	// StepName is the manager step name. Children are named "<StepName>:<partition>".
	StepName    string
	Partitioner port.Partitioner
	// AllowStartIfComplete re-runs partitions that completed in an earlier attempt.
	AllowStartIfComplete bool
}

// SimpleStepExecutionSplitter creates one child StepExecution per partition and
// persists it. On restart only the partitions that did not complete are returned,
// each starting from the context its previous execution left behind.
type SimpleStepExecutionSplitter struct {
	cfg SplitterConfig
}

var _ port.StepExecutionSplitter = (*SimpleStepExecutionSplitter)(nil)

// NewSimpleStepExecutionSplitter validates cfg and creates the splitter.
func NewSimpleStepExecutionSplitter(cfg SplitterConfig) (*SimpleStepExecutionSplitter, error) {
	switch {
	case cfg.JobRepository == nil:
		return nil, exception.NewConfigError("SimpleStepExecutionSplitter", "JobRepository", "must not be nil")
	case cfg.StepName == "":
		return nil, exception.NewConfigError("SimpleStepExecutionSplitter", "StepName", "must not be empty")
	case cfg.Partitioner == nil:
		return nil, exception.NewConfigError("SimpleStepExecutionSplitter", "Partitioner", "must not be nil")
	}
	return &SimpleStepExecutionSplitter{cfg: cfg}, nil
}

// StepName implements port.StepExecutionSplitter.
func (s *SimpleStepExecutionSplitter) StepName() string { return s.cfg.StepName }

// Split implements port.StepExecutionSplitter.
func (s *SimpleStepExecutionSplitter) Split(ctx context.Context, managerExecution *model.StepExecution, gridSize int) ([]*model.StepExecution, error) {
	contexts, err := s.contexts(ctx, managerExecution, gridSize)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(contexts))
	for name := range contexts {
		names = append(names, name)
	}
	// partition2 sorts before partition10.
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})

	children := make([]*model.StepExecution, 0, len(names))
	for _, name := range names {
		child, start, err := s.child(ctx, managerExecution, name, contexts[name])
		if err != nil {
			return nil, err
		}
		if !start {
			continue
		}
		if err := s.cfg.JobRepository.SaveStepExecution(ctx, child); err != nil {
			return nil, exception.NewBatchError("splitter", fmt.Sprintf("failed to save StepExecution '%s'", child.StepName), err, false, true)
		}
		children = append(children, child)
	}
	logger.Infof("SimpleStepExecutionSplitter '%s': %d of %d partitions to execute.", s.cfg.StepName, len(children), len(names))
	return children, nil
}

// contexts returns the partition contexts. The grid size of the first attempt wins on
// restart, and a PartitionNameProvider supplies the names without re-partitioning.
func (s *SimpleStepExecutionSplitter) contexts(ctx context.Context, managerExecution *model.StepExecution, gridSize int) (map[string]*model.ExecutionContext, error) {
	if managerExecution.ExecutionContext == nil {
		managerExecution.ExecutionContext = model.NewExecutionContext()
	}
	ec := managerExecution.ExecutionContext

	splitSize := gridSize
	restart := false
	if stored, ok := ec.GetInt(GridSizeKey); ok && !s.cfg.AllowStartIfComplete {
		splitSize = stored
		restart = true
		logger.Debugf("SimpleStepExecutionSplitter '%s': restart with stored grid size %d.", s.cfg.StepName, stored)
	} else {
		ec.PutInt(GridSizeKey, gridSize)
		if managerExecution.ID != 0 {
			if err := s.cfg.JobRepository.UpdateStepExecution(ctx, managerExecution); err != nil {
				return nil, exception.NewBatchError("splitter", "failed to persist grid size", err, false, true)
			}
		}
	}

	if provider, ok := s.cfg.Partitioner.(port.PartitionNameProvider); ok && restart {
		result := make(map[string]*model.ExecutionContext)
		for _, name := range provider.PartitionNames(splitSize) {
			// Restarted children take the context of their previous execution.
			result[name] = model.NewExecutionContext()
		}
		return result, nil
	}

	result, err := s.cfg.Partitioner.Partition(ctx, splitSize)
	if err != nil {
		return nil, exception.NewBatchError("splitter", fmt.Sprintf("partitioner of step '%s' failed", s.cfg.StepName), err, false, false)
	}
	if len(result) > splitSize {
		logger.Warnf("SimpleStepExecutionSplitter '%s': partitioner returned %d partitions for grid size %d.", s.cfg.StepName, len(result), splitSize)
	}
	return result, nil
}

// child builds the execution of one partition and decides whether it runs.
func (s *SimpleStepExecutionSplitter) child(ctx context.Context, managerExecution *model.StepExecution, partitionName string, partitionContext *model.ExecutionContext) (*model.StepExecution, bool, error) {
	name := s.cfg.StepName + stepNameSeparator + partitionName
	child := model.NewStepExecution(name, nil)
	child.JobExecutionID = managerExecution.JobExecutionID
	child.JobInstanceID = managerExecution.JobInstanceID

	last, err := s.cfg.JobRepository.GetLastStepExecution(ctx, managerExecution.JobInstanceID, name)
	if err != nil {
		return nil, false, exception.NewBatchError("splitter", fmt.Sprintf("failed to look up last execution of '%s'", name), err, false, true)
	}
	if last == nil {
		child.ExecutionContext = partitionContext.Copy()
		return child, true, nil
	}

	switch last.Status {
	case model.BatchStatusAbandoned:
		logger.Infof("SimpleStepExecutionSplitter '%s': partition '%s' was abandoned (previous StepExecution ID: %d) and is not restarted.", s.cfg.StepName, name, last.ID)
		return nil, false, nil
	case model.BatchStatusCompleted:
		if !s.cfg.AllowStartIfComplete {
			logger.Infof("SimpleStepExecutionSplitter '%s': partition '%s' is %s, skipped.", s.cfg.StepName, name, last.Status)
			return nil, false, nil
		}
		child.ExecutionContext = partitionContext.Copy()
		return child, true, nil
	case model.BatchStatusFailed, model.BatchStatusStopped:
		child.ExecutionContext = last.ExecutionContext.Copy()
		logger.Infof("SimpleStepExecutionSplitter '%s': restarting partition '%s' after %s (previous StepExecution ID: %d).", s.cfg.StepName, name, last.Status, last.ID)
		return child, true, nil
	default:
		return nil, false, exception.NewBatchErrorf("splitter",
			"cannot restart partition '%s': previous StepExecution (ID: %d) is %s", name, last.ID, last.Status)
	}
}
