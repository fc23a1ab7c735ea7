package partitioner

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	port "github.com/tigerroll/pagebatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

const (
	// MinValueKey holds the inclusive lower bound of a partition.
	MinValueKey = "minValue"
	// MaxValueKey holds the inclusive upper bound of a partition.
	MaxValueKey = "maxValue"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Querier is the part of *sql.DB used by ColumnRangePartitioner.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ColumnRangePartitioner splits the range [MIN(column), MAX(column)] of an integer
// column into gridSize contiguous ranges of equal width. Each context holds the
// bounds under MinValueKey and MaxValueKey.
type ColumnRangePartitioner struct {
	db     Querier
	table  string
	column string
}

// NewColumnRangePartitioner validates the table and column names and creates the partitioner.
func NewColumnRangePartitioner(db Querier, table, column string) (*ColumnRangePartitioner, error) {
	switch {
	case db == nil:
		return nil, exception.NewConfigError("ColumnRangePartitioner", "db", "must not be nil")
	case !identifier.MatchString(table):
		return nil, exception.NewConfigError("ColumnRangePartitioner", "table", fmt.Sprintf("invalid identifier %q", table))
	case !identifier.MatchString(column):
		return nil, exception.NewConfigError("ColumnRangePartitioner", "column", fmt.Sprintf("invalid identifier %q", column))
	}
	return &ColumnRangePartitioner{db: db, table: table, column: column}, nil
}

// Partition implements port.Partitioner. An empty table yields no partitions.
func (p *ColumnRangePartitioner) Partition(ctx context.Context, gridSize int) (map[string]*model.ExecutionContext, error) {
	if gridSize <= 0 {
		return nil, exception.NewBatchErrorf("partitioner", "grid size must be greater than zero, got %d", gridSize)
	}

	var lo, hi sql.NullInt64
	query := fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", p.column, p.column, p.table)
	if err := p.db.QueryRowContext(ctx, query).Scan(&lo, &hi); err != nil {
		return nil, exception.NewBatchError("partitioner", fmt.Sprintf("failed to read range of %s.%s", p.table, p.column), err, false, true)
	}
	result := make(map[string]*model.ExecutionContext, gridSize)
	if !lo.Valid || !hi.Valid {
		logger.Warnf("ColumnRangePartitioner: %s is empty, no partitions.", p.table)
		return result, nil
	}

	targetSize := (hi.Int64-lo.Int64)/int64(gridSize) + 1
	start := lo.Int64
	for i := 0; start <= hi.Int64; i++ {
		end := start + targetSize - 1
		if end > hi.Int64 {
			end = hi.Int64
		}
		ec := model.NewExecutionContext()
		ec.PutLong(MinValueKey, start)
		ec.PutLong(MaxValueKey, end)
		result[model.PartitionName(i)] = ec
		start += targetSize
	}
	logger.Debugf("ColumnRangePartitioner: %s.%s [%d, %d] split into %d partitions.", p.table, p.column, lo.Int64, hi.Int64, len(result))
	return result, nil
}

var _ port.Partitioner = (*ColumnRangePartitioner)(nil)
