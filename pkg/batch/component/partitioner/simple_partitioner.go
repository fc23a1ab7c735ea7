package partitioner

import (
	"context"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// SimplePartitioner returns gridSize empty contexts named partition0..partition<gridSize-1>.
type SimplePartitioner struct{}

// NewSimplePartitioner creates a new instance of [SimplePartitioner].
func NewSimplePartitioner() *SimplePartitioner {
	return &SimplePartitioner{}
}

// Partition implements [port.Partitioner].
func (p *SimplePartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	logger.Debugf("SimplePartitioner: Generating %d partitions.", gridSize)
	partitions := make(map[string]*model.ExecutionContext, gridSize)
	for _, name := range p.PartitionNames(gridSize) {
		partitions[name] = model.NewExecutionContext()
	}
	return partitions, nil
}

// PartitionNames implements [port.PartitionNameProvider].
func (p *SimplePartitioner) PartitionNames(gridSize int) []string {
	names := make([]string, 0, gridSize)
	for i := 0; i < gridSize; i++ {
		names = append(names, model.PartitionName(i))
	}
	return names
}

var (
	_ port.Partitioner           = (*SimplePartitioner)(nil)
	_ port.PartitionNameProvider = (*SimplePartitioner)(nil)
)
